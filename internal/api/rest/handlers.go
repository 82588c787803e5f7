package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	domaincompliance "github.com/davidleathers/collections-call-engine/internal/domain/compliance"
	"github.com/davidleathers/collections-call-engine/internal/domain/errors"
	"github.com/davidleathers/collections-call-engine/internal/domain/task"
	compliancesvc "github.com/davidleathers/collections-call-engine/internal/service/compliance"
	"github.com/davidleathers/collections-call-engine/internal/service/reconciler"
)

// HealthChecker pings one dependency for the readiness endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthCheckFunc adapts a plain ping function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) Ping(ctx context.Context) error { return f(ctx) }

// CustomerLookup resolves customers from inbound phone numbers.
type CustomerLookup interface {
	GetCustomerByPhone(ctx context.Context, phoneNumber string) (*task.Customer, error)
}

// Handler serves provider webhooks and operational endpoints.
type Handler struct {
	reconciler reconciler.Service
	compliance compliancesvc.Service
	customers  CustomerLookup
	checks     map[string]HealthChecker
	logger     *zap.Logger
}

func NewHandler(
	recon reconciler.Service,
	compliance compliancesvc.Service,
	customers CustomerLookup,
	checks map[string]HealthChecker,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		reconciler: recon,
		compliance: compliance,
		customers:  customers,
		checks:     checks,
		logger:     logger,
	}
}

// handleStatusWebhook receives provider call status transitions. The
// response is always fast and affirmative; reconciliation runs
// asynchronously so a slow database never stalls the provider.
func (h *Handler) handleStatusWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}

	callID := r.PostFormValue("CallSid")
	status := r.PostFormValue("CallStatus")
	if callID == "" || status == "" {
		http.Error(w, "CallSid and CallStatus are required", http.StatusBadRequest)
		return
	}
	duration, _ := strconv.Atoi(r.PostFormValue("CallDuration"))

	h.reconciler.HandleStatusEvent(r.Context(), callID, status, duration)
	w.WriteHeader(http.StatusNoContent)
}

// handleGatherWebhook receives customer key presses.
func (h *Handler) handleGatherWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}

	callID := r.PostFormValue("CallSid")
	digits := r.PostFormValue("Digits")
	if callID == "" || digits == "" {
		http.Error(w, "CallSid and Digits are required", http.StatusBadRequest)
		return
	}

	h.reconciler.HandleGatherEvent(r.Context(), callID, digits)
	w.WriteHeader(http.StatusNoContent)
}

// handleInboundSMS scans inbound replies for opt-out keywords and records
// the opt-out. Unattributable senders are acknowledged and dropped; the
// provider retries on anything but a 2xx.
func (h *Handler) handleInboundSMS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}

	from := r.PostFormValue("From")
	body := r.PostFormValue("Body")
	if from == "" {
		http.Error(w, "From is required", http.StatusBadRequest)
		return
	}

	if !h.compliance.DetectOptOut(body) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	customer, err := h.customers.GetCustomerByPhone(r.Context(), from)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			h.logger.Warn("opt-out reply from unknown number", zap.String("from", from))
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.logger.Error("failed to resolve inbound sender", zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	if err := h.compliance.RecordOptOut(r.Context(), customer.ID, domaincompliance.ChannelSMS); err != nil {
		h.logger.Error("failed to record opt-out",
			zap.String("customer_id", customer.ID.String()),
			zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Info("opt-out recorded from inbound sms",
		zap.String("customer_id", customer.ID.String()))
	w.WriteHeader(http.StatusNoContent)
}

// handleHealth pings each dependency with a short deadline and reports
// per-dependency status.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	healthy := true
	checks := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			healthy = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": overall,
		"checks": checks,
	})
}
