// Command stripe-webhook-sim posts a signed PaymentIntent webhook to a running
// booking-service, standing in for Stripe during local development.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/payments"
	"github.com/stripe/stripe-go/v79"
)

func main() {
	var (
		baseURL     = flag.String("base-url", getenv("BASE_URL", "http://localhost:8083"), "booking-service base url")
		outcome     = flag.String("outcome", getenv("OUTCOME", "succeeded"), "succeeded, failed or canceled")
		appointment = flag.String("appointment-id", getenv("APPOINTMENT_ID", ""), "appointment_id metadata")
		option      = flag.String("option", getenv("PAYMENT_OPTION", ""), "payment_option metadata (deposit or full)")
		amount      = flag.Int64("amount", 0, "amount received in minor units")
		currency    = flag.String("currency", "usd", "currency")
		secret      = flag.String("secret", getenv("STRIPE_WEBHOOK_SECRET", ""), "stripe webhook signing secret (whsec_...)")
		eventID     = flag.String("event-id", "", "event id; reuse one to exercise duplicate handling")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fatal("STRIPE_WEBHOOK_SECRET is required")
	}
	if strings.TrimSpace(*appointment) == "" {
		fatal("APPOINTMENT_ID is required")
	}

	var evtType stripe.EventType
	switch *outcome {
	case "succeeded":
		evtType = stripe.EventTypePaymentIntentSucceeded
	case "failed":
		evtType = stripe.EventTypePaymentIntentPaymentFailed
	case "canceled":
		evtType = stripe.EventTypePaymentIntentCanceled
	default:
		fatal("unsupported outcome: " + *outcome)
	}

	now := time.Now().UTC()
	if *eventID == "" {
		*eventID = fmt.Sprintf("evt_test_%d", now.UnixNano())
	}
	evt := payments.IntentEvent{
		EventID:        *eventID,
		Type:           evtType,
		Created:        now,
		IntentID:       fmt.Sprintf("pi_test_%d", now.UnixNano()),
		AppointmentID:  *appointment,
		Option:         model.PaymentOption(*option),
		AmountReceived: *amount,
		Currency:       *currency,
	}
	if evtType == stripe.EventTypePaymentIntentPaymentFailed {
		evt.FailureCode = "card_declined"
	}
	payload, err := evt.JSON()
	if err != nil {
		fatal(err.Error())
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+"/api/v1/payments/stripe/webhook", bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", payments.Sign(payload, *secret, now))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	fmt.Printf("status=%d event_id=%s body=%s\n", resp.StatusCode, *eventID, strings.TrimSpace(string(body)))
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
