package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/payments"
	"github.com/stripe/stripe-go/v79/webhook"
)

type StripeWebhookHandler struct {
	engine    *booking.Engine
	secret    string
	tolerance time.Duration
	logger    *slog.Logger
}

func NewStripeWebhookHandler(engine *booking.Engine, secret string, tolerance time.Duration, logger *slog.Logger) *StripeWebhookHandler {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &StripeWebhookHandler{engine: engine, secret: strings.TrimSpace(secret), tolerance: tolerance, logger: logger}
}

// ServeHTTP handles PaymentIntent webhooks. There is no bearer auth; the signature is the auth.
// Replayed events are answered with status "duplicate".
func (h *StripeWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.secret == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.secret, h.tolerance)
	if err != nil {
		h.logger.Warn("stripe webhook rejected", "err", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	h.logger.Info("payment provider event received",
		"provider", payments.ProviderStripe,
		"provider_event_id", evt.ID,
		"event_type", string(evt.Type),
	)

	outcome, ok, err := payments.OutcomeFromEvent(evt)
	if err != nil {
		h.logger.Error("stripe: invalid payment intent payload", "err", err, "provider_event_id", evt.ID)
		http.Error(w, "invalid event payload", http.StatusBadRequest)
		return
	}
	if !ok {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	res, err := h.engine.RecordPayment(r.Context(), outcome)
	switch {
	case errors.Is(err, booking.ErrNotFound):
		h.logger.Warn("payment for unknown appointment", "appointment_id", outcome.AppointmentID, "provider_event_id", evt.ID)
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	case errors.Is(err, booking.ErrDependencyUnavailable):
		// Stripe retries non-2xx responses.
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	case err != nil:
		h.logger.Error("record payment failed", "err", err, "appointment_id", outcome.AppointmentID)
		http.Error(w, "failed to record payment", http.StatusBadRequest)
		return
	}

	status := "ok"
	switch {
	case res.Duplicate:
		h.logger.Info("payment provider event duplicate ignored", "provider_event_id", evt.ID)
		status = "duplicate"
	case res.Orphaned:
		status = "orphaned"
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"appointment_id": res.Appointment.ID,
		"payment_status": res.Appointment.PaymentStatus,
	})
}
