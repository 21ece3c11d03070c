package booking

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
)

// AppointmentQuery filters appointments. Zero values do not filter. When both From and To
// are set, appointments intersecting [From, To) match.
type AppointmentQuery struct {
	ProviderID      string
	ClientID        string
	From            time.Time
	To              time.Time
	Statuses        []model.Status
	ExcludeStatuses []model.Status
	PaymentStatuses []model.PaymentStatus
	CreatedBefore   time.Time
	ExcludeID       string
	Limit           int
}

// Reader is the read side the engine needs from the catalog and persistence stores.
// Missing rows are reported as ErrNotFound.
type Reader interface {
	GetService(ctx context.Context, serviceID string) (model.Service, error)
	ListServices(ctx context.Context, providerID string) ([]model.Service, error)
	ListAvailabilityWindows(ctx context.Context, providerID string, day time.Weekday) ([]model.AvailabilityWindow, error)
	CountAvailabilityWindows(ctx context.Context, providerID string) (int, error)
	ListAppointments(ctx context.Context, q AppointmentQuery) ([]model.Appointment, error)
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
}

type Store interface {
	Reader

	// WithProviderLock runs fn in a transaction that is serialised with every other
	// WithProviderLock call for the same provider. The transaction commits when fn
	// returns nil.
	WithProviderLock(ctx context.Context, providerID string, fn func(ctx context.Context, tx Tx) error) error

	// ReplaceAvailabilityWindows swaps a provider's weekly schedule in one step.
	ReplaceAvailabilityWindows(ctx context.Context, providerID string, windows []model.AvailabilityWindow) error
}

// Tx is the write side, only valid inside WithProviderLock.
type Tx interface {
	ListAppointments(ctx context.Context, q AppointmentQuery) ([]model.Appointment, error)
	GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error)

	// InsertAppointment assigns ID, CreatedAt and UpdatedAt. It returns
	// ErrConstraintViolation when the row would overlap a blocking appointment.
	InsertAppointment(ctx context.Context, appt *model.Appointment) error
	UpdateAppointment(ctx context.Context, id string, patch model.AppointmentPatch) (model.Appointment, error)

	// ClaimIdempotencyKey returns the appointment id already bound to (scope, key), or ""
	// after reserving the key for this transaction.
	ClaimIdempotencyKey(ctx context.Context, scope, key string) (string, error)
	BindIdempotencyKey(ctx context.Context, scope, key, appointmentID string) error

	// RecordProviderEvent returns true when the event id was seen before.
	RecordProviderEvent(ctx context.Context, provider, eventID, eventType string) (bool, error)

	Emit(ctx context.Context, evt outbox.Event) error
}
