package booking

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
)

const (
	TopicReserved        = "booking.appointment.reserved.v1"
	TopicConfirmed       = "booking.appointment.confirmed.v1"
	TopicRescheduled     = "booking.appointment.rescheduled.v1"
	TopicCancelled       = "booking.appointment.cancelled.v1"
	TopicCompleted       = "booking.appointment.completed.v1"
	TopicPaymentRecorded = "booking.payment.recorded.v1"
	TopicPaymentOrphaned = "booking.payment.orphaned.v1"
)

// Topics lists every topic the engine emits to.
var Topics = []string{
	TopicReserved,
	TopicConfirmed,
	TopicRescheduled,
	TopicCancelled,
	TopicCompleted,
	TopicPaymentRecorded,
	TopicPaymentOrphaned,
}

const aggregateAppointment = "appointment"

func appointmentPayload(appt model.Appointment) map[string]any {
	return map[string]any{
		"appointment_id": appt.ID,
		"provider_id":    appt.ProviderID,
		"client_id":      appt.ClientID,
		"service_id":     appt.ServiceID,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
		"status":         appt.Status,
		"payment_status": appt.PaymentStatus,
		"payment_option": appt.PaymentOption,
		"payment_amount": appt.PaymentAmount,
	}
}

// emit writes an appointment event into the transaction's outbox. extra keys override
// the base payload.
func emit(ctx context.Context, tx Tx, topic string, appt model.Appointment, extra map[string]any) error {
	payload := appointmentPayload(appt)
	for k, v := range extra {
		payload[k] = v
	}
	evt, err := outbox.NewEvent(aggregateAppointment, appt.ID, topic, payload)
	if err != nil {
		return err
	}
	return tx.Emit(ctx, evt)
}
