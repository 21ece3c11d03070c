package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type ReserveRequest struct {
	ProviderID string
	ServiceID  string
	ClientID   string
	StartTime  time.Time
	// EndTime is optional. When set it must equal StartTime plus the service duration.
	EndTime       time.Time
	PaymentOption model.PaymentOption
	Notes         string
	// IdempotencyKey makes retries of the same request return the first result.
	IdempotencyKey string
}

// Reserve books [start, start+duration) for the client. The new appointment is pending and
// unpaid, or fully_paid when nothing is owed up front so no payment hold is opened. Overlap with any blocking appointment of the provider fails with ErrSlotConflict.
func (e *Engine) Reserve(ctx context.Context, req ReserveRequest) (model.Appointment, error) {
	ctx, span := e.tracer.Start(ctx, "booking.Reserve", trace.WithAttributes(
		attribute.String("provider_id", req.ProviderID),
		attribute.String("service_id", req.ServiceID),
	))
	defer span.End()

	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.ProviderID == "" || req.ServiceID == "" || req.ClientID == "" {
		return model.Appointment{}, e.fail(span, "reserve", fmt.Errorf("%w: provider_id, service_id and client_id are required", ErrInvalidRequest))
	}
	if req.PaymentOption == "" {
		req.PaymentOption = model.PayFull
	}
	if !req.PaymentOption.Valid() {
		return model.Appointment{}, e.fail(span, "reserve", fmt.Errorf("%w: payment_option %q", ErrInvalidRequest, req.PaymentOption))
	}

	svc, err := e.service(ctx, req.ProviderID, req.ServiceID)
	if err != nil {
		return model.Appointment{}, e.fail(span, "reserve", err)
	}
	iv, err := e.interval(svc, req.StartTime, req.EndTime)
	if err != nil {
		return model.Appointment{}, e.fail(span, "reserve", err)
	}
	if err := e.withinAvailability(ctx, req.ProviderID, iv); err != nil {
		return model.Appointment{}, e.fail(span, "reserve", err)
	}

	var appt model.Appointment
	replayed := false
	err = e.store.WithProviderLock(ctx, req.ProviderID, func(ctx context.Context, tx Tx) error {
		if req.IdempotencyKey != "" {
			existingID, err := tx.ClaimIdempotencyKey(ctx, req.ClientID, req.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("claim idempotency key: %w", err)
			}
			if existingID != "" {
				replayed = true
				appt, err = tx.GetAppointmentForUpdate(ctx, existingID)
				return err
			}
		}

		if err := ensureFree(ctx, tx, req.ProviderID, iv, ""); err != nil {
			return err
		}
		payStatus := model.PaymentUnpaid
		if svc.AmountDue(req.PaymentOption) == 0 {
			payStatus = model.PaymentFullyPaid
		}
		appt = model.Appointment{
			ClientID:      req.ClientID,
			ProviderID:    req.ProviderID,
			ServiceID:     req.ServiceID,
			StartTime:     iv.Start,
			EndTime:       iv.End,
			Status:        model.StatusPending,
			PaymentStatus: payStatus,
			PaymentOption: req.PaymentOption,
			Notes:         strings.TrimSpace(req.Notes),
		}
		if err := tx.InsertAppointment(ctx, &appt); err != nil {
			return asConflict(err)
		}
		if req.IdempotencyKey != "" {
			if err := tx.BindIdempotencyKey(ctx, req.ClientID, req.IdempotencyKey, appt.ID); err != nil {
				return fmt.Errorf("bind idempotency key: %w", err)
			}
		}
		return emit(ctx, tx, TopicReserved, appt, map[string]any{
			"amount_due": svc.AmountDue(req.PaymentOption),
			"currency":   svc.Currency,
		})
	})
	if err != nil {
		return model.Appointment{}, e.fail(span, "reserve", err)
	}

	span.SetAttributes(attribute.String("appointment_id", appt.ID), attribute.Bool("replayed", replayed))
	if replayed {
		e.logger.Info("appointment reserve replayed", "appointment_id", appt.ID, "client_id", req.ClientID)
		return appt, nil
	}
	e.logger.Info("appointment reserved",
		"appointment_id", appt.ID,
		"provider_id", appt.ProviderID,
		"start_time", appt.StartTime.UTC().Format(time.RFC3339),
	)
	return appt, nil
}

// Reschedule moves a confirmed appointment to a new interval and marks it rescheduled.
// The appointment's own current interval does not count as a conflict. On any error the
// appointment is left as it was.
func (e *Engine) Reschedule(ctx context.Context, id string, newStart, newEnd time.Time) (model.Appointment, error) {
	ctx, span := e.tracer.Start(ctx, "booking.Reschedule", trace.WithAttributes(attribute.String("appointment_id", id)))
	defer span.End()

	current, err := e.store.GetAppointment(ctx, id)
	if err != nil {
		return model.Appointment{}, e.fail(span, "reschedule", err)
	}
	svc, err := e.service(ctx, current.ProviderID, current.ServiceID)
	if err != nil {
		return model.Appointment{}, e.fail(span, "reschedule", err)
	}
	iv, err := e.interval(svc, newStart, newEnd)
	if err != nil {
		return model.Appointment{}, e.fail(span, "reschedule", err)
	}
	if err := e.withinAvailability(ctx, current.ProviderID, iv); err != nil {
		return model.Appointment{}, e.fail(span, "reschedule", err)
	}

	var updated model.Appointment
	err = e.store.WithProviderLock(ctx, current.ProviderID, func(ctx context.Context, tx Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !appt.Status.CanTransitionTo(model.StatusRescheduled) {
			return fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidTransition, appt.Status)
		}
		if err := ensureFree(ctx, tx, appt.ProviderID, iv, appt.ID); err != nil {
			return err
		}

		status := model.StatusRescheduled
		updated, err = tx.UpdateAppointment(ctx, appt.ID, model.AppointmentPatch{
			StartTime: &iv.Start,
			EndTime:   &iv.End,
			Status:    &status,
		})
		if err != nil {
			return asConflict(err)
		}
		return emit(ctx, tx, TopicRescheduled, updated, map[string]any{
			"previous_start_time": appt.StartTime.UTC().Format(time.RFC3339),
			"previous_end_time":   appt.EndTime.UTC().Format(time.RFC3339),
		})
	})
	if err != nil {
		return model.Appointment{}, e.fail(span, "reschedule", err)
	}

	e.logger.Info("appointment rescheduled",
		"appointment_id", updated.ID,
		"provider_id", updated.ProviderID,
		"start_time", updated.StartTime.UTC().Format(time.RFC3339),
	)
	return updated, nil
}

// Cancel frees the appointment's interval. Cancelling twice returns the cancelled
// appointment unchanged. Payment status is never touched; refunds are handled downstream.
func (e *Engine) Cancel(ctx context.Context, id, reason string) (model.Appointment, error) {
	ctx, span := e.tracer.Start(ctx, "booking.Cancel", trace.WithAttributes(attribute.String("appointment_id", id)))
	defer span.End()

	appt, _, err := e.cancelWhen(ctx, id, strings.TrimSpace(reason), nil)
	if err != nil {
		return model.Appointment{}, e.fail(span, "cancel", err)
	}
	return appt, nil
}

// Confirm accepts a pending or rescheduled appointment.
func (e *Engine) Confirm(ctx context.Context, id string) (model.Appointment, error) {
	ctx, span := e.tracer.Start(ctx, "booking.Confirm", trace.WithAttributes(attribute.String("appointment_id", id)))
	defer span.End()

	appt, err := e.transition(ctx, id, model.StatusConfirmed, TopicConfirmed)
	if err != nil {
		return model.Appointment{}, e.fail(span, "confirm", err)
	}
	return appt, nil
}

func (e *Engine) Complete(ctx context.Context, id string) (model.Appointment, error) {
	ctx, span := e.tracer.Start(ctx, "booking.Complete", trace.WithAttributes(attribute.String("appointment_id", id)))
	defer span.End()

	appt, err := e.transition(ctx, id, model.StatusCompleted, TopicCompleted)
	if err != nil {
		return model.Appointment{}, e.fail(span, "complete", err)
	}
	return appt, nil
}

func (e *Engine) transition(ctx context.Context, id string, next model.Status, topic string) (model.Appointment, error) {
	current, err := e.store.GetAppointment(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}

	var updated model.Appointment
	err = e.store.WithProviderLock(ctx, current.ProviderID, func(ctx context.Context, tx Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !appt.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, next)
		}
		updated, err = tx.UpdateAppointment(ctx, id, model.AppointmentPatch{Status: &next})
		if err != nil {
			return err
		}
		return emit(ctx, tx, topic, updated, nil)
	})
	if err != nil {
		return model.Appointment{}, err
	}
	e.logger.Info("appointment status changed", "appointment_id", id, "status", next)
	return updated, nil
}

// cancelWhen cancels id if guard (re-evaluated under the provider lock) allows it.
// changed is false when the appointment was already cancelled or the guard declined.
func (e *Engine) cancelWhen(ctx context.Context, id, reason string, guard func(model.Appointment) bool) (model.Appointment, bool, error) {
	current, err := e.store.GetAppointment(ctx, id)
	if err != nil {
		return model.Appointment{}, false, err
	}

	var result model.Appointment
	changed := false
	err = e.store.WithProviderLock(ctx, current.ProviderID, func(ctx context.Context, tx Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, id)
		if err != nil {
			return err
		}
		result = appt
		if appt.Status == model.StatusCancelled {
			return nil
		}
		if guard != nil && !guard(appt) {
			return nil
		}
		if !appt.Status.CanTransitionTo(model.StatusCancelled) {
			return fmt.Errorf("%w: cannot cancel a %s appointment", ErrInvalidTransition, appt.Status)
		}

		status := model.StatusCancelled
		result, err = tx.UpdateAppointment(ctx, id, model.AppointmentPatch{Status: &status, CancelReason: &reason})
		if err != nil {
			return err
		}
		changed = true
		return emit(ctx, tx, TopicCancelled, result, map[string]any{
			"previous_status": appt.Status,
			"reason":          reason,
		})
	})
	if err != nil {
		return model.Appointment{}, false, err
	}
	if changed {
		e.logger.Info("appointment cancelled", "appointment_id", id, "provider_id", result.ProviderID, "reason", reason)
	}
	return result, changed, nil
}

// interval derives [start, start+duration) and checks a caller supplied end against it.
func (e *Engine) interval(svc model.Service, start, end time.Time) (availability.Interval, error) {
	if start.IsZero() {
		return availability.Interval{}, fmt.Errorf("%w: start_time required", ErrInvalidInterval)
	}
	iv := availability.Interval{Start: start, End: start.Add(svc.Duration())}
	if !end.IsZero() && !end.Equal(iv.End) {
		return availability.Interval{}, fmt.Errorf("%w: end_time must be start_time + %d minutes", ErrInvalidInterval, svc.DurationMinutes)
	}
	if start.Before(e.now()) {
		return availability.Interval{}, fmt.Errorf("%w: start_time is in the past", ErrInvalidInterval)
	}
	return iv, nil
}

// withinAvailability requires iv to fit inside one available window of its weekday.
func (e *Engine) withinAvailability(ctx context.Context, providerID string, iv availability.Interval) error {
	local := iv.Start.In(e.cfg.Location)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.cfg.Location)
	windows, err := e.openWindows(ctx, providerID, day)
	if err != nil {
		return err
	}
	for _, w := range windows {
		if w.Contains(iv) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrOutsideAvailability, iv.Start.In(e.cfg.Location).Format(time.RFC3339))
}

// ensureFree is the commit-time conflict check. It must run under the provider lock.
func ensureFree(ctx context.Context, tx Tx, providerID string, iv availability.Interval, excludeID string) error {
	clashes, err := tx.ListAppointments(ctx, AppointmentQuery{
		ProviderID:      providerID,
		From:            iv.Start,
		To:              iv.End,
		ExcludeStatuses: []model.Status{model.StatusCancelled},
		ExcludeID:       excludeID,
		Limit:           1,
	})
	if err != nil {
		return fmt.Errorf("list conflicting appointments: %w", err)
	}
	if len(clashes) > 0 {
		return fmt.Errorf("%w: overlaps appointment %s", ErrSlotConflict, clashes[0].ID)
	}
	return nil
}
