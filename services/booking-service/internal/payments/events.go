package payments

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/stripe/stripe-go/v79"
)

// OutcomeFromEvent maps a PaymentIntent webhook event to a payment outcome. ok is false
// for event types that carry no outcome or intents not created for an appointment.
func OutcomeFromEvent(evt stripe.Event) (out booking.PaymentOutcome, ok bool, err error) {
	var succeeded bool
	switch evt.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		succeeded = true
	case stripe.EventTypePaymentIntentPaymentFailed, stripe.EventTypePaymentIntentCanceled:
	default:
		return booking.PaymentOutcome{}, false, nil
	}
	if evt.Data == nil {
		return booking.PaymentOutcome{}, false, fmt.Errorf("stripe event %s has no data", evt.ID)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
		return booking.PaymentOutcome{}, false, fmt.Errorf("decode payment intent: %w", err)
	}
	apptID := strings.TrimSpace(pi.Metadata[MetaAppointmentID])
	if apptID == "" {
		return booking.PaymentOutcome{}, false, nil
	}

	out = booking.PaymentOutcome{
		AppointmentID:   apptID,
		Succeeded:       succeeded,
		Option:          model.PaymentOption(strings.TrimSpace(pi.Metadata[MetaPaymentOption])),
		Amount:          pi.AmountReceived,
		Provider:        ProviderStripe,
		ProviderEventID: evt.ID,
		Reference:       pi.ID,
	}
	if !succeeded {
		switch {
		case pi.LastPaymentError != nil && pi.LastPaymentError.Code != "":
			out.FailureReason = string(pi.LastPaymentError.Code)
		case pi.CancellationReason != "":
			out.FailureReason = string(pi.CancellationReason)
		case evt.Type == stripe.EventTypePaymentIntentCanceled:
			out.FailureReason = "canceled"
		}
	}
	return out, true, nil
}
