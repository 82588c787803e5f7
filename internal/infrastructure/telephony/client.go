package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/collections-call-engine/internal/domain/call"
	"github.com/davidleathers/collections-call-engine/internal/domain/errors"
	"github.com/davidleathers/collections-call-engine/internal/infrastructure/config"
)

// Client is an HTTP client for the telephony provider's call API.
type Client struct {
	baseURL    string
	accountSID string
	authToken  string
	name       string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg *config.ProviderConfig, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		name:       cfg.Name,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		logger:     logger,
	}
}

// Name returns the configured provider name.
func (c *Client) Name() string {
	return c.name
}

type createCallPayload struct {
	To                   string   `json:"to"`
	From                 string   `json:"from"`
	Twiml                string   `json:"twiml"`
	Timeout              int      `json:"timeout"`
	Record               bool     `json:"record"`
	StatusCallback       string   `json:"status_callback"`
	GatherCallback       string   `json:"gather_callback"`
	StatusCallbackEvents []string `json:"status_callback_events"`
}

type createCallResult struct {
	Sid    string `json:"sid"`
	Status string `json:"status"`
}

// CreateCall asks the provider to dial an outbound call driven by the given
// markup. Returns the provider call id on accept.
func (c *Client) CreateCall(ctx context.Context, req *call.DialRequest) (*call.DialResponse, error) {
	payload := createCallPayload{
		To:                   req.To,
		From:                 req.From,
		Twiml:                req.Markup,
		Timeout:              int(req.RingTimeout.Seconds()),
		Record:               req.Record,
		StatusCallback:       req.StatusCallbackURL,
		GatherCallback:       req.GatherCallbackURL,
		StatusCallbackEvents: req.StatusCallbackEvents,
	}

	var result createCallResult
	if err := c.post(ctx, "/v1/calls", payload, &result); err != nil {
		return nil, err
	}

	c.logger.Debug("call created",
		zap.String("provider_call_id", result.Sid),
		zap.String("status", result.Status))

	return &call.DialResponse{ProviderCallID: result.Sid, Status: result.Status}, nil
}

// UpdateCall replaces the in-progress call's instruction markup, used to
// answer menu key presses.
func (c *Client) UpdateCall(ctx context.Context, providerCallID, markup string) error {
	payload := map[string]string{"twiml": markup}
	return c.post(ctx, fmt.Sprintf("/v1/calls/%s", providerCallID), payload, nil)
}

// EndCall forces a call to completed, used by shutdown draining.
func (c *Client) EndCall(ctx context.Context, providerCallID string) error {
	payload := map[string]string{"status": "completed"}
	return c.post(ctx, fmt.Sprintf("/v1/calls/%s", providerCallID), payload, nil)
}

func (c *Client) post(ctx context.Context, path string, payload, dest interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal provider request: %w", err)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewExternalError("telephony provider", "request failed").WithCause(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.NewExternalError("telephony provider", "reading response failed").WithCause(err)
	}

	c.logger.Debug("provider request",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	if resp.StatusCode >= 400 {
		return errors.NewProviderRejectedError(
			fmt.Sprintf("provider returned %d: %s", resp.StatusCode, truncate(string(respBody), 200)))
	}

	if dest != nil {
		if err := json.Unmarshal(respBody, dest); err != nil {
			return errors.NewExternalError("telephony provider", "decoding response failed").WithCause(err)
		}
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
