package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
)

const (
	pgExclusionViolation = "23P01"
	pgUniqueViolation    = "23505"
)

// PostgresStore keeps bookings in Postgres. Per-provider serialisation uses transaction
// scoped advisory locks and the appointments_no_overlap exclusion constraint backs it up.
type PostgresStore struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewPostgresStore(pool *db.Pool, repo *outbox.Repository) *PostgresStore {
	if repo == nil {
		repo = outbox.NewRepository()
	}
	return &PostgresStore{pool: pool, outbox: repo}
}

var _ booking.Store = (*PostgresStore)(nil)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) GetService(ctx context.Context, serviceID string) (model.Service, error) {
	var svc model.Service
	err := s.pool.QueryRow(ctx, `
		SELECT id, provider_id, name, duration_minutes, price_cents, deposit_cents, currency
		FROM services
		WHERE id = $1
	`, serviceID).Scan(
		&svc.ID,
		&svc.ProviderID,
		&svc.Name,
		&svc.DurationMinutes,
		&svc.Price,
		&svc.DepositAmount,
		&svc.Currency,
	)
	if err != nil {
		return model.Service{}, mapError(err)
	}
	return svc, nil
}

func (s *PostgresStore) ListServices(ctx context.Context, providerID string) ([]model.Service, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, provider_id, name, duration_minutes, price_cents, deposit_cents, currency
		FROM services
		WHERE provider_id = $1
		ORDER BY name ASC, id ASC
	`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Service
	for rows.Next() {
		var svc model.Service
		if err := rows.Scan(&svc.ID, &svc.ProviderID, &svc.Name, &svc.DurationMinutes, &svc.Price, &svc.DepositAmount, &svc.Currency); err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// UpsertService writes a catalog entry. The catalog is owned elsewhere; this keeps a local copy.
func (s *PostgresStore) UpsertService(ctx context.Context, svc model.Service) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO services (id, provider_id, name, duration_minutes, price_cents, deposit_cents, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET provider_id = EXCLUDED.provider_id,
			name = EXCLUDED.name,
			duration_minutes = EXCLUDED.duration_minutes,
			price_cents = EXCLUDED.price_cents,
			deposit_cents = EXCLUDED.deposit_cents,
			currency = EXCLUDED.currency
	`, svc.ID, svc.ProviderID, svc.Name, svc.DurationMinutes, svc.Price, svc.DepositAmount, svc.Currency)
	return err
}

func (s *PostgresStore) ListAvailabilityWindows(ctx context.Context, providerID string, day time.Weekday) ([]model.AvailabilityWindow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, provider_id, day_of_week, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), is_available
		FROM availability_windows
		WHERE provider_id = $1 AND day_of_week = $2
		ORDER BY start_time ASC, id ASC
	`, providerID, int16(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []model.AvailabilityWindow
	for rows.Next() {
		var w model.AvailabilityWindow
		var dow int16
		if err := rows.Scan(&w.ID, &w.ProviderID, &dow, &w.StartTime, &w.EndTime, &w.IsAvailable); err != nil {
			return nil, err
		}
		w.DayOfWeek = time.Weekday(dow)
		windows = append(windows, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return windows, nil
}

func (s *PostgresStore) CountAvailabilityWindows(ctx context.Context, providerID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM availability_windows WHERE provider_id = $1`, providerID).Scan(&n)
	return n, err
}

func (s *PostgresStore) ReplaceAvailabilityWindows(ctx context.Context, providerID string, windows []model.AvailabilityWindow) error {
	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM availability_windows WHERE provider_id = $1`, providerID); err != nil {
			return err
		}
		if len(windows) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, w := range windows {
			batch.Queue(`
				INSERT INTO availability_windows (provider_id, day_of_week, start_time, end_time, is_available)
				VALUES ($1, $2, $3::time, $4::time, $5)
			`, providerID, int16(w.DayOfWeek), w.StartTime, w.EndTime, w.IsAvailable)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *PostgresStore) ListAppointments(ctx context.Context, q booking.AppointmentQuery) ([]model.Appointment, error) {
	return listAppointments(ctx, s.pool, q)
}

func (s *PostgresStore) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	return getAppointment(ctx, s.pool, id, false)
}

// WithProviderLock takes pg_advisory_xact_lock on the provider id; it is released on commit or rollback.
func (s *PostgresStore) WithProviderLock(ctx context.Context, providerID string, fn func(ctx context.Context, tx booking.Tx) error) error {
	return s.pool.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, providerID); err != nil {
			return fmt.Errorf("provider lock: %w", err)
		}
		return fn(ctx, &pgTx{tx: tx, outbox: s.outbox})
	})
}

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) ListAppointments(ctx context.Context, q booking.AppointmentQuery) ([]model.Appointment, error) {
	return listAppointments(ctx, t.tx, q)
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	return getAppointment(ctx, t.tx, id, true)
}

func (t *pgTx) InsertAppointment(ctx context.Context, appt *model.Appointment) error {
	id := uuid.NewString()
	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, client_id, provider_id, service_id, start_time, end_time, status,
			 payment_status, payment_option, payment_amount_cents, notes, cancel_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`, id, appt.ClientID, appt.ProviderID, appt.ServiceID, appt.StartTime, appt.EndTime, string(appt.Status),
		string(appt.PaymentStatus), string(appt.PaymentOption), appt.PaymentAmount, appt.Notes, appt.CancelReason,
	).Scan(&appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	appt.ID = id
	return nil
}

func (t *pgTx) UpdateAppointment(ctx context.Context, id string, patch model.AppointmentPatch) (model.Appointment, error) {
	var status, paymentStatus *string
	if patch.Status != nil {
		v := string(*patch.Status)
		status = &v
	}
	if patch.PaymentStatus != nil {
		v := string(*patch.PaymentStatus)
		paymentStatus = &v
	}
	row := t.tx.QueryRow(ctx, `
		UPDATE appointments
		SET start_time = COALESCE($2::timestamptz, start_time),
			end_time = COALESCE($3::timestamptz, end_time),
			status = COALESCE($4::text, status),
			payment_status = COALESCE($5::text, payment_status),
			payment_amount_cents = COALESCE($6::bigint, payment_amount_cents),
			cancel_reason = COALESCE($7::text, cancel_reason),
			updated_at = now()
		WHERE id = $1
		RETURNING `+selectAppointmentColumns,
		id, patch.StartTime, patch.EndTime, status, paymentStatus, patch.PaymentAmount, patch.CancelReason)
	appt, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, mapError(err)
	}
	return appt, nil
}

func (t *pgTx) ClaimIdempotencyKey(ctx context.Context, scope, key string) (string, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (client_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (client_id, idempotency_key) DO NOTHING
	`, scope, key)
	if err != nil {
		return "", err
	}

	var apptID string
	err = t.tx.QueryRow(ctx, `
		SELECT COALESCE(appointment_id, '')
		FROM booking_idempotency_keys
		WHERE client_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, scope, key).Scan(&apptID)
	if err != nil {
		return "", err
	}
	return apptID, nil
}

func (t *pgTx) BindIdempotencyKey(ctx context.Context, scope, key, appointmentID string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3,
			updated_at = now()
		WHERE client_id = $1 AND idempotency_key = $2
	`, scope, key, appointmentID)
	return err
}

func (t *pgTx) RecordProviderEvent(ctx context.Context, provider, eventID, eventType string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO payment_provider_events (provider, provider_event_id, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`, provider, eventID, eventType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 0, nil
}

func (t *pgTx) Emit(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

const selectAppointmentColumns = `id, client_id, provider_id, service_id, start_time, end_time,
	status, payment_status, payment_option, payment_amount_cents, notes, cancel_reason, created_at, updated_at`

func getAppointment(ctx context.Context, q querier, id string, forUpdate bool) (model.Appointment, error) {
	sql := `SELECT ` + selectAppointmentColumns + ` FROM appointments WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	appt, err := scanAppointment(q.QueryRow(ctx, sql, id))
	if err != nil {
		return model.Appointment{}, mapError(err)
	}
	return appt, nil
}

func listAppointments(ctx context.Context, q querier, query booking.AppointmentQuery) ([]model.Appointment, error) {
	sql, args, err := appointmentsSQL(query)
	if err != nil {
		return nil, fmt.Errorf("build appointment query: %w", err)
	}
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func scanAppointment(row rowScanner) (model.Appointment, error) {
	var appt model.Appointment
	var status, paymentStatus, paymentOption string
	err := row.Scan(
		&appt.ID,
		&appt.ClientID,
		&appt.ProviderID,
		&appt.ServiceID,
		&appt.StartTime,
		&appt.EndTime,
		&status,
		&paymentStatus,
		&paymentOption,
		&appt.PaymentAmount,
		&appt.Notes,
		&appt.CancelReason,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.Status(status)
	appt.PaymentStatus = model.PaymentStatus(paymentStatus)
	appt.PaymentOption = model.PaymentOption(paymentOption)
	return appt, nil
}

// IsConflict reports an exclusion constraint violation, i.e. an overlapping blocking appointment.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation
}

func isDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func mapError(err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return booking.ErrNotFound
	case IsConflict(err):
		return fmt.Errorf("%w: %w", booking.ErrConstraintViolation, err)
	case isDuplicate(err):
		return fmt.Errorf("%w: %w", booking.ErrConstraintViolation, err)
	}
	return err
}
