package booking

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DateLayout = "2006-01-02"

type Config struct {
	// SlotStep is the grid slots are generated on. Zero steps by the service duration.
	SlotStep time.Duration
	// Location interprets dates and availability clocks. Defaults to UTC.
	Location *time.Location
}

// Engine computes availability and guards appointment writes against double booking.
type Engine struct {
	store  Store
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
	tracer trace.Tracer
}

type Option func(*Engine)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store Store, logger *slog.Logger, cfg Config, opts ...Option) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SlotStep < 0 {
		cfg.SlotStep = 0
	}
	e := &Engine{
		store:  store,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
		tracer: otel.Tracer("github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Location() *time.Location {
	return e.cfg.Location
}

// ListSlots returns the free slots of serviceID with providerID on date (YYYY-MM-DD),
// ordered by start time. A provider closed that weekday yields an empty list; a provider
// with no schedule at all yields ErrUnknownProvider.
func (e *Engine) ListSlots(ctx context.Context, providerID, date, serviceID string) ([]model.Slot, error) {
	ctx, span := e.tracer.Start(ctx, "booking.ListSlots", trace.WithAttributes(
		attribute.String("provider_id", providerID),
		attribute.String("service_id", serviceID),
		attribute.String("date", date),
	))
	defer span.End()

	slots, err := e.listSlots(ctx, providerID, date, serviceID)
	if err != nil {
		return nil, e.fail(span, "list slots", err)
	}
	span.SetAttributes(attribute.Int("slots", len(slots)))
	return slots, nil
}

func (e *Engine) listSlots(ctx context.Context, providerID, date, serviceID string) ([]model.Slot, error) {
	day, err := e.parseDate(date)
	if err != nil {
		return nil, err
	}
	windows, err := e.openWindows(ctx, providerID, day)
	if err != nil {
		return nil, err
	}
	svc, err := e.service(ctx, providerID, serviceID)
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		return []model.Slot{}, nil
	}

	appts, err := e.store.ListAppointments(ctx, AppointmentQuery{
		ProviderID:      providerID,
		From:            day,
		To:              day.AddDate(0, 0, 1),
		ExcludeStatuses: []model.Status{model.StatusCancelled},
	})
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	busy := make([]availability.Interval, 0, len(appts))
	for _, a := range appts {
		busy = append(busy, availability.Interval{Start: a.StartTime, End: a.EndTime})
	}

	now := e.now()
	step := e.step(svc)
	seqs := make([]iter.Seq[availability.Interval], 0, len(windows))
	for _, iv := range windows {
		seqs = append(seqs, availability.Free(iv, svc.Duration(), step, busy, now))
	}
	merged := availability.Merge(seqs...)

	slots := make([]model.Slot, 0, len(merged))
	for _, iv := range merged {
		slots = append(slots, model.Slot{StartTime: iv.Start, EndTime: iv.End})
	}
	return slots, nil
}

// SetAvailability replaces providerID's weekly schedule. Clock strings are normalised to HH:MM.
func (e *Engine) SetAvailability(ctx context.Context, providerID string, windows []model.AvailabilityWindow) ([]model.AvailabilityWindow, error) {
	ctx, span := e.tracer.Start(ctx, "booking.SetAvailability", trace.WithAttributes(attribute.String("provider_id", providerID)))
	defer span.End()

	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, e.fail(span, "set availability", fmt.Errorf("%w: provider_id required", ErrInvalidRequest))
	}
	out := make([]model.AvailabilityWindow, 0, len(windows))
	for i, w := range windows {
		if w.DayOfWeek < time.Sunday || w.DayOfWeek > time.Saturday {
			return nil, e.fail(span, "set availability", fmt.Errorf("%w: window %d: day_of_week %d out of range", ErrInvalidWindow, i, w.DayOfWeek))
		}
		start, err := availability.ParseClock(w.StartTime)
		if err != nil {
			return nil, e.fail(span, "set availability", fmt.Errorf("%w: window %d: %w", ErrInvalidWindow, i, err))
		}
		end, err := availability.ParseClock(w.EndTime)
		if err != nil {
			return nil, e.fail(span, "set availability", fmt.Errorf("%w: window %d: %w", ErrInvalidWindow, i, err))
		}
		if end.Minutes() <= start.Minutes() {
			return nil, e.fail(span, "set availability", fmt.Errorf("%w: window %d: end must be after start", ErrInvalidWindow, i))
		}
		w.ProviderID = providerID
		w.StartTime = start.String()
		w.EndTime = end.String()
		out = append(out, w)
	}

	if err := e.store.ReplaceAvailabilityWindows(ctx, providerID, out); err != nil {
		return nil, e.fail(span, "set availability", err)
	}
	e.logger.Info("availability replaced", "provider_id", providerID, "windows", len(out))
	return out, nil
}

func (e *Engine) Get(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := e.store.GetAppointment(ctx, id)
	if err != nil {
		return model.Appointment{}, classify("get appointment", err)
	}
	return appt, nil
}

func (e *Engine) List(ctx context.Context, q AppointmentQuery) ([]model.Appointment, error) {
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}
	appts, err := e.store.ListAppointments(ctx, q)
	if err != nil {
		return nil, classify("list appointments", err)
	}
	return appts, nil
}

// Services lists the catalog a provider offers.
func (e *Engine) Services(ctx context.Context, providerID string) ([]model.Service, error) {
	if strings.TrimSpace(providerID) == "" {
		return nil, fmt.Errorf("%w: provider_id required", ErrInvalidRequest)
	}
	svcs, err := e.store.ListServices(ctx, providerID)
	if err != nil {
		return nil, classify("list services", err)
	}
	return svcs, nil
}

func (e *Engine) Service(ctx context.Context, serviceID string) (model.Service, error) {
	svc, err := e.store.GetService(ctx, serviceID)
	if errors.Is(err, ErrNotFound) {
		return model.Service{}, fmt.Errorf("%w: %s", ErrUnknownService, serviceID)
	}
	if err != nil {
		return model.Service{}, classify("get service", err)
	}
	return svc, nil
}

func (e *Engine) parseDate(date string) (time.Time, error) {
	day, err := time.ParseInLocation(DateLayout, strings.TrimSpace(date), e.cfg.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return day, nil
}

// openWindows resolves the provider's available windows on day to concrete intervals.
func (e *Engine) openWindows(ctx context.Context, providerID string, day time.Time) ([]availability.Interval, error) {
	windows, err := e.store.ListAvailabilityWindows(ctx, providerID, day.Weekday())
	if err != nil {
		return nil, fmt.Errorf("list availability windows: %w", err)
	}
	if len(windows) == 0 {
		n, err := e.store.CountAvailabilityWindows(ctx, providerID)
		if err != nil {
			return nil, fmt.Errorf("count availability windows: %w", err)
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
		}
		return nil, nil
	}

	out := make([]availability.Interval, 0, len(windows))
	for _, w := range windows {
		if !w.IsAvailable {
			continue
		}
		iv, err := availability.WindowOn(day, w.StartTime, w.EndTime)
		if err != nil {
			e.logger.Warn("skipping malformed availability window", "provider_id", providerID, "window_id", w.ID, "err", err)
			continue
		}
		out = append(out, iv)
	}
	return out, nil
}

func (e *Engine) service(ctx context.Context, providerID, serviceID string) (model.Service, error) {
	svc, err := e.store.GetService(ctx, serviceID)
	if errors.Is(err, ErrNotFound) {
		return model.Service{}, fmt.Errorf("%w: %s", ErrUnknownService, serviceID)
	}
	if err != nil {
		return model.Service{}, fmt.Errorf("get service: %w", err)
	}
	if svc.ProviderID != providerID {
		return model.Service{}, fmt.Errorf("%w: %s is not offered by %s", ErrUnknownService, serviceID, providerID)
	}
	if svc.DurationMinutes <= 0 {
		return model.Service{}, fmt.Errorf("%w: %s has duration %d", ErrInvalidService, serviceID, svc.DurationMinutes)
	}
	return svc, nil
}

func (e *Engine) step(svc model.Service) time.Duration {
	if e.cfg.SlotStep > 0 {
		return e.cfg.SlotStep
	}
	return svc.Duration()
}

// fail classifies err, records it on the span and logs infrastructure failures.
func (e *Engine) fail(span trace.Span, op string, err error) error {
	err = classify(op, err)
	if errors.Is(err, ErrDependencyUnavailable) {
		span.RecordError(err)
		span.SetStatus(codes.Error, op)
		e.logger.Error("booking dependency failure", "op", op, "err", err)
	} else {
		span.SetAttributes(attribute.String("booking.error", err.Error()))
	}
	return err
}
