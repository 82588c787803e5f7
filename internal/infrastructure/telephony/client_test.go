package telephony

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/collections-call-engine/internal/domain/call"
	domainerrors "github.com/davidleathers/collections-call-engine/internal/domain/errors"
	"github.com/davidleathers/collections-call-engine/internal/infrastructure/config"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(&config.ProviderConfig{
		Name:        "twilio",
		BaseURL:     srv.URL,
		AccountSID:  "AC-test",
		AuthToken:   "secret",
		HTTPTimeout: 5 * time.Second,
	}, zaptest.NewLogger(t))
}

func TestCreateCall(t *testing.T) {
	var got createCallPayload
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/calls", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "AC-test", user)
		assert.Equal(t, "secret", pass)

		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(createCallResult{Sid: "CA-100", Status: "queued"})
	}))

	resp, err := client.CreateCall(context.Background(), &call.DialRequest{
		To:                   "+15550100001",
		From:                 "+15550100000",
		Markup:               "<Response/>",
		RingTimeout:          30 * time.Second,
		Record:               true,
		StatusCallbackURL:    "https://engine.example.com/webhooks/calls/status",
		GatherCallbackURL:    "https://engine.example.com/webhooks/calls/gather",
		StatusCallbackEvents: []string{"initiated", "completed"},
	})
	require.NoError(t, err)

	assert.Equal(t, "CA-100", resp.ProviderCallID)
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, "+15550100001", got.To)
	assert.Equal(t, "<Response/>", got.Twiml)
	assert.Equal(t, 30, got.Timeout)
	assert.True(t, got.Record)
}

func TestCreateCall_RejectionIsProviderRejected(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid destination"}`, http.StatusBadRequest)
	}))

	_, err := client.CreateCall(context.Background(), &call.DialRequest{To: "+1", From: "+2"})
	require.Error(t, err)
	assert.True(t, domainerrors.IsCode(err, "PROVIDER_REJECTED"))
	assert.Contains(t, err.Error(), "invalid destination")
}

func TestUpdateCall(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, client.UpdateCall(context.Background(), "CA-100", "<Response/>"))
	assert.Equal(t, "/v1/calls/CA-100", gotPath)
	assert.Equal(t, "<Response/>", gotBody["twiml"])
}

func TestEndCall(t *testing.T) {
	var gotBody map[string]string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, client.EndCall(context.Background(), "CA-100"))
	assert.Equal(t, "completed", gotBody["status"])
}

func TestCreateCall_NetworkFailureIsRetryable(t *testing.T) {
	client := NewClient(&config.ProviderConfig{
		BaseURL:     "http://127.0.0.1:1",
		HTTPTimeout: 500 * time.Millisecond,
	}, zaptest.NewLogger(t))

	_, err := client.CreateCall(context.Background(), &call.DialRequest{To: "+1", From: "+2"})
	require.Error(t, err)
	assert.True(t, domainerrors.IsRetryable(err))
}
