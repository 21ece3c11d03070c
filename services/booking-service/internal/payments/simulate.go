package payments

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// IntentEvent renders a PaymentIntent webhook the way Stripe delivers it. It backs the
// local webhook simulator and handler tests.
type IntentEvent struct {
	EventID        string
	Type           stripe.EventType
	Created        time.Time
	IntentID       string
	AppointmentID  string
	Option         model.PaymentOption
	AmountReceived int64
	Currency       string
	FailureCode    string
}

func (e IntentEvent) JSON() ([]byte, error) {
	status := "succeeded"
	switch e.Type {
	case stripe.EventTypePaymentIntentPaymentFailed:
		status = "requires_payment_method"
	case stripe.EventTypePaymentIntentCanceled:
		status = "canceled"
	}
	currency := e.Currency
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	intent := map[string]any{
		"id":              e.IntentID,
		"object":          "payment_intent",
		"status":          status,
		"amount":          e.AmountReceived,
		"amount_received": e.AmountReceived,
		"currency":        currency,
		"metadata": map[string]string{
			MetaAppointmentID: e.AppointmentID,
			MetaPaymentOption: string(e.Option),
		},
	}
	if e.FailureCode != "" {
		intent["last_payment_error"] = map[string]any{"code": e.FailureCode, "type": "card_error"}
	}
	return json.Marshal(map[string]any{
		"id":          e.EventID,
		"object":      "event",
		"created":     e.Created.Unix(),
		"type":        string(e.Type),
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": intent},
	})
}

// Sign returns the Stripe-Signature header for payload.
func Sign(payload []byte, secret string, at time.Time) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
		Scheme:    "v1",
	})
	return signed.Header
}
