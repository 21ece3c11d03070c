package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PaymentOutcome is the processor's verdict on one charge for an appointment.
type PaymentOutcome struct {
	AppointmentID string
	Succeeded     bool
	// Option overrides the payment option chosen at reservation time.
	Option model.PaymentOption
	// Amount is what the processor reports as captured, in minor units. It is only
	// compared against the expected amount; the recorded amount always comes from the service.
	Amount          int64
	Provider        string
	ProviderEventID string
	Reference       string
	FailureReason   string
}

type PaymentResult struct {
	Appointment model.Appointment
	// Duplicate is set when ProviderEventID was processed before; nothing changed.
	Duplicate bool
	// Orphaned is set when money arrived for an appointment that is no longer active.
	Orphaned bool
}

const (
	ReasonPaymentFailed = "payment failed"
	ReasonHoldExpired   = "payment hold expired"
)

// RecordPayment applies a payment outcome. A success marks the appointment deposit_paid
// or fully_paid and confirms a pending reservation. A failure cancels a pending, unpaid
// reservation so the slot is released.
func (e *Engine) RecordPayment(ctx context.Context, out PaymentOutcome) (PaymentResult, error) {
	ctx, span := e.tracer.Start(ctx, "booking.RecordPayment", trace.WithAttributes(
		attribute.String("appointment_id", out.AppointmentID),
		attribute.Bool("succeeded", out.Succeeded),
	))
	defer span.End()

	out.AppointmentID = strings.TrimSpace(out.AppointmentID)
	if out.AppointmentID == "" {
		return PaymentResult{}, e.fail(span, "record payment", fmt.Errorf("%w: appointment_id required", ErrInvalidRequest))
	}
	if out.Option != "" && !out.Option.Valid() {
		return PaymentResult{}, e.fail(span, "record payment", fmt.Errorf("%w: payment option %q", ErrInvalidRequest, out.Option))
	}

	current, err := e.store.GetAppointment(ctx, out.AppointmentID)
	if err != nil {
		return PaymentResult{}, e.fail(span, "record payment", err)
	}
	svc, err := e.store.GetService(ctx, current.ServiceID)
	if err != nil {
		return PaymentResult{}, e.fail(span, "record payment", fmt.Errorf("get service: %w", err))
	}

	var res PaymentResult
	err = e.store.WithProviderLock(ctx, current.ProviderID, func(ctx context.Context, tx Tx) error {
		if out.ProviderEventID != "" {
			kind := "payment.failed"
			if out.Succeeded {
				kind = "payment.succeeded"
			}
			dup, err := tx.RecordProviderEvent(ctx, out.Provider, out.ProviderEventID, kind)
			if err != nil {
				return fmt.Errorf("record provider event: %w", err)
			}
			if dup {
				res.Duplicate = true
				res.Appointment, err = tx.GetAppointmentForUpdate(ctx, out.AppointmentID)
				return err
			}
		}

		appt, err := tx.GetAppointmentForUpdate(ctx, out.AppointmentID)
		if err != nil {
			return err
		}
		if out.Succeeded {
			res, err = e.applyPaymentSuccess(ctx, tx, appt, svc, out)
			return err
		}
		res, err = e.applyPaymentFailure(ctx, tx, appt, out)
		return err
	})
	if err != nil {
		return PaymentResult{}, e.fail(span, "record payment", err)
	}
	span.SetAttributes(attribute.Bool("duplicate", res.Duplicate), attribute.Bool("orphaned", res.Orphaned))
	return res, nil
}

func (e *Engine) applyPaymentSuccess(ctx context.Context, tx Tx, appt model.Appointment, svc model.Service, out PaymentOutcome) (PaymentResult, error) {
	option := out.Option
	if option == "" {
		option = appt.PaymentOption
	}

	payStatus, amount := nextPayment(appt, option, svc, out.Amount)
	if out.Amount > 0 && out.Amount+appt.PaymentAmount != amount {
		e.logger.Warn("captured amount differs from expected",
			"appointment_id", appt.ID,
			"captured", out.Amount,
			"previously_paid", appt.PaymentAmount,
			"expected_total", amount,
		)
	}

	patch := model.AppointmentPatch{PaymentStatus: &payStatus, PaymentAmount: &amount}
	if appt.Status == model.StatusPending {
		confirmed := model.StatusConfirmed
		patch.Status = &confirmed
	}
	updated, err := tx.UpdateAppointment(ctx, appt.ID, patch)
	if err != nil {
		return PaymentResult{}, err
	}

	extra := map[string]any{
		"provider":  out.Provider,
		"reference": out.Reference,
		"captured":  out.Amount,
	}
	if err := emit(ctx, tx, TopicPaymentRecorded, updated, extra); err != nil {
		return PaymentResult{}, err
	}
	res := PaymentResult{Appointment: updated}

	if appt.Status == model.StatusPending {
		if err := emit(ctx, tx, TopicConfirmed, updated, nil); err != nil {
			return PaymentResult{}, err
		}
	}
	// Only money taken for a cancelled appointment needs a refund.
	if appt.Status == model.StatusCancelled {
		res.Orphaned = true
		e.logger.Warn("payment received for cancelled appointment", "appointment_id", appt.ID)
		if err := emit(ctx, tx, TopicPaymentOrphaned, updated, extra); err != nil {
			return PaymentResult{}, err
		}
	}
	e.logger.Info("payment recorded", "appointment_id", appt.ID, "payment_status", payStatus, "payment_amount", amount)
	return res, nil
}

func (e *Engine) applyPaymentFailure(ctx context.Context, tx Tx, appt model.Appointment, out PaymentOutcome) (PaymentResult, error) {
	if appt.Status != model.StatusPending || appt.PaymentStatus != model.PaymentUnpaid {
		e.logger.Info("payment failure ignored", "appointment_id", appt.ID, "status", appt.Status, "payment_status", appt.PaymentStatus)
		return PaymentResult{Appointment: appt}, nil
	}

	reason := ReasonPaymentFailed
	if out.FailureReason != "" {
		reason += ": " + out.FailureReason
	}
	status := model.StatusCancelled
	updated, err := tx.UpdateAppointment(ctx, appt.ID, model.AppointmentPatch{Status: &status, CancelReason: &reason})
	if err != nil {
		return PaymentResult{}, err
	}
	if err := emit(ctx, tx, TopicCancelled, updated, map[string]any{
		"previous_status": appt.Status,
		"reason":          reason,
	}); err != nil {
		return PaymentResult{}, err
	}
	e.logger.Info("reservation released after payment failure", "appointment_id", appt.ID, "provider_id", appt.ProviderID)
	return PaymentResult{Appointment: updated}, nil
}

// nextPayment returns the payment state after one more successful charge of captured minor
// units. A captured of 0 means the processor reported no amount and the charge is taken to
// cover what was due. A balance only completes the payment once the total reaches the price;
// until then the appointment stays deposit_paid with the running total.
func nextPayment(appt model.Appointment, option model.PaymentOption, svc model.Service, captured int64) (model.PaymentStatus, int64) {
	switch appt.PaymentStatus {
	case model.PaymentFullyPaid:
		return model.PaymentFullyPaid, svc.Price
	case model.PaymentDepositPaid:
		if captured > 0 && appt.PaymentAmount+captured < svc.Price {
			return model.PaymentDepositPaid, appt.PaymentAmount + captured
		}
		return model.PaymentFullyPaid, svc.Price
	}
	if option == model.PayDeposit && svc.DepositAmount > 0 && svc.DepositAmount < svc.Price && captured < svc.Price {
		return model.PaymentDepositPaid, svc.DepositAmount
	}
	return model.PaymentFullyPaid, svc.Price
}

// ReleaseExpiredHolds cancels pending, unpaid reservations created more than ttl ago.
// It returns how many were released.
func (e *Engine) ReleaseExpiredHolds(ctx context.Context, ttl time.Duration, batch int) (int, error) {
	ctx, span := e.tracer.Start(ctx, "booking.ReleaseExpiredHolds")
	defer span.End()

	if batch <= 0 {
		batch = 100
	}
	holds, err := e.store.ListAppointments(ctx, AppointmentQuery{
		Statuses:        []model.Status{model.StatusPending},
		PaymentStatuses: []model.PaymentStatus{model.PaymentUnpaid},
		CreatedBefore:   e.now().Add(-ttl),
		Limit:           batch,
	})
	if err != nil {
		return 0, e.fail(span, "release expired holds", err)
	}

	released := 0
	for _, h := range holds {
		_, changed, err := e.cancelWhen(ctx, h.ID, ReasonHoldExpired, func(a model.Appointment) bool {
			return a.Status == model.StatusPending && a.PaymentStatus == model.PaymentUnpaid
		})
		if err != nil {
			return released, e.fail(span, "release expired holds", err)
		}
		if changed {
			released++
		}
	}
	span.SetAttributes(attribute.Int("released", released))
	return released, nil
}

// AmountDue is what the client owes up front for appt under its payment option, with the
// service's currency.
func (e *Engine) AmountDue(ctx context.Context, appt model.Appointment) (int64, string, error) {
	svc, err := e.store.GetService(ctx, appt.ServiceID)
	if err != nil {
		return 0, "", classify("amount due", err)
	}
	return svc.AmountDue(appt.PaymentOption), svc.Currency, nil
}
