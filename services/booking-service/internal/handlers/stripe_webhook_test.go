package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/payments"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
)

func (s *testServer) webhook(t *testing.T, evt payments.IntentEvent, secret string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := evt.JSON()
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/stripe/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", payments.Sign(payload, secret, time.Now()))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func webhookStatus(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	status, _ := body["status"].(string)
	return status
}

func TestStripeWebhookConfirmsPaidAppointment(t *testing.T) {
	s := newTestServer(t, nil)
	appt := s.book(t, "c1", "2030-03-04T09:00:00Z")

	evt := payments.IntentEvent{
		EventID:        "evt_1",
		Type:           stripe.EventTypePaymentIntentSucceeded,
		Created:        time.Now(),
		IntentID:       "pi_1",
		AppointmentID:  appt.AppointmentID,
		Option:         "full",
		AmountReceived: 5000,
	}
	rec := s.webhook(t, evt, testWebhookSecret)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "ok", webhookStatus(t, rec))

	rec = s.webhook(t, evt, testWebhookSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "duplicate", webhookStatus(t, rec))

	got, err := s.engine.Get(t.Context(), appt.AppointmentID)
	require.NoError(t, err)
	require.Equal(t, "confirmed", string(got.Status))
	require.Equal(t, "fully_paid", string(got.PaymentStatus))
}

func TestStripeWebhookFailureReleasesSlot(t *testing.T) {
	s := newTestServer(t, nil)
	appt := s.book(t, "c1", "2030-03-04T09:00:00Z")

	rec := s.webhook(t, payments.IntentEvent{
		EventID:       "evt_f",
		Type:          stripe.EventTypePaymentIntentPaymentFailed,
		Created:       time.Now(),
		IntentID:      "pi_1",
		AppointmentID: appt.AppointmentID,
		FailureCode:   "card_declined",
	}, testWebhookSecret)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	s.book(t, "c2", "2030-03-04T09:00:00Z")
}

func TestStripeWebhookRejectsBadRequests(t *testing.T) {
	s := newTestServer(t, nil)
	evt := payments.IntentEvent{EventID: "evt_1", Type: stripe.EventTypePaymentIntentSucceeded, Created: time.Now(), IntentID: "pi_1", AppointmentID: "a"}

	rec := s.webhook(t, evt, "whsec_wrong")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/stripe/webhook", bytes.NewReader([]byte("{}")))
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown appointments are acknowledged so Stripe stops retrying.
	rec = s.webhook(t, evt, testWebhookSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ignored", webhookStatus(t, rec))

	unconfigured := NewStripeWebhookHandler(s.engine, "", 0, nil)
	rec = httptest.NewRecorder()
	unconfigured.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
