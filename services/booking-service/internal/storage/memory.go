package storage

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
)

// MemoryStore is a process-local booking.Store. It enforces the same no-overlap rule as
// the Postgres exclusion constraint and commits a WithProviderLock callback atomically.
type MemoryStore struct {
	mu             sync.RWMutex
	services       map[string]model.Service
	windows        map[string][]model.AvailabilityWindow
	appts          map[string]model.Appointment
	idempotency    map[idemKey]string
	providerEvents map[string]struct{}
	events         []outbox.Event
	nextWindowID   int64

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	now    func() time.Time
	onEmit func(outbox.Event)
}

type idemKey struct{ scope, key string }

type MemoryOption func(*MemoryStore)

// MemoryClock sets the clock used for CreatedAt and UpdatedAt.
func MemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// OnEmit registers a callback for every event once its transaction commits.
func OnEmit(fn func(outbox.Event)) MemoryOption {
	return func(s *MemoryStore) { s.onEmit = fn }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		services:       make(map[string]model.Service),
		windows:        make(map[string][]model.AvailabilityWindow),
		appts:          make(map[string]model.Appointment),
		idempotency:    make(map[idemKey]string),
		providerEvents: make(map[string]struct{}),
		locks:          make(map[string]chan struct{}),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ booking.Store = (*MemoryStore)(nil)

func (s *MemoryStore) PutService(svc model.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.ID] = svc
}

// Events returns a copy of every committed event in emit order.
func (s *MemoryStore) Events() []outbox.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

func (s *MemoryStore) GetService(_ context.Context, serviceID string) (model.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[serviceID]
	if !ok {
		return model.Service{}, booking.ErrNotFound
	}
	return svc, nil
}

// ListServices returns the provider's catalog ordered by name.
func (s *MemoryStore) ListServices(_ context.Context, providerID string) ([]model.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Service
	for _, svc := range s.services {
		if svc.ProviderID == providerID {
			out = append(out, svc)
		}
	}
	slices.SortFunc(out, func(a, b model.Service) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (s *MemoryStore) ListAvailabilityWindows(_ context.Context, providerID string, day time.Weekday) ([]model.AvailabilityWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.AvailabilityWindow
	for _, w := range s.windows[providerID] {
		if w.DayOfWeek == day {
			out = append(out, w)
		}
	}
	slices.SortStableFunc(out, func(a, b model.AvailabilityWindow) int {
		return cmp.Compare(a.StartTime, b.StartTime)
	})
	return out, nil
}

func (s *MemoryStore) CountAvailabilityWindows(_ context.Context, providerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.windows[providerID]), nil
}

func (s *MemoryStore) ReplaceAvailabilityWindows(_ context.Context, providerID string, windows []model.AvailabilityWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]model.AvailabilityWindow, 0, len(windows))
	for _, w := range windows {
		s.nextWindowID++
		w.ID = s.nextWindowID
		w.ProviderID = providerID
		stored = append(stored, w)
	}
	if len(stored) == 0 {
		delete(s.windows, providerID)
		return nil
	}
	s.windows[providerID] = stored
	return nil
}

func (s *MemoryStore) ListAppointments(_ context.Context, q booking.AppointmentQuery) ([]model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return selectAppointments(maps.Values(s.appts), q), nil
}

func (s *MemoryStore) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	appt, ok := s.appts[id]
	if !ok {
		return model.Appointment{}, booking.ErrNotFound
	}
	return appt, nil
}

// WithProviderLock waits for the provider's lock or ctx, whichever comes first.
func (s *MemoryStore) WithProviderLock(ctx context.Context, providerID string, fn func(ctx context.Context, tx booking.Tx) error) error {
	lock := s.providerLock(providerID)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("provider lock: %w", ctx.Err())
	}
	defer func() { <-lock }()

	tx := &memTx{
		store:          s,
		staged:         make(map[string]model.Appointment),
		idempotency:    make(map[idemKey]string),
		providerEvents: make(map[string]struct{}),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *MemoryStore) providerLock(providerID string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[providerID]
	if !ok {
		lock = make(chan struct{}, 1)
		s.locks[providerID] = lock
	}
	return lock
}

func (s *MemoryStore) commit(tx *memTx) {
	s.mu.Lock()
	maps.Copy(s.appts, tx.staged)
	maps.Copy(s.idempotency, tx.idempotency)
	maps.Copy(s.providerEvents, tx.providerEvents)
	s.events = append(s.events, tx.events...)
	s.mu.Unlock()

	if s.onEmit != nil {
		for _, evt := range tx.events {
			s.onEmit(evt)
		}
	}
}

// memTx stages writes until the WithProviderLock callback succeeds.
type memTx struct {
	store          *MemoryStore
	staged         map[string]model.Appointment
	idempotency    map[idemKey]string
	providerEvents map[string]struct{}
	events         []outbox.Event
}

// visible yields the provider's committed appointments overlaid with this transaction's
// writes, or every appointment when providerID is empty. The caller must hold store.mu.
func (t *memTx) visible(providerID string) iter.Seq[model.Appointment] {
	return func(yield func(model.Appointment) bool) {
		for _, a := range t.staged {
			if (providerID == "" || a.ProviderID == providerID) && !yield(a) {
				return
			}
		}
		for id, a := range t.store.appts {
			if _, shadowed := t.staged[id]; shadowed {
				continue
			}
			if (providerID == "" || a.ProviderID == providerID) && !yield(a) {
				return
			}
		}
	}
}

func (t *memTx) ListAppointments(_ context.Context, q booking.AppointmentQuery) ([]model.Appointment, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return selectAppointments(t.visible(q.ProviderID), q), nil
}

func (t *memTx) GetAppointmentForUpdate(_ context.Context, id string) (model.Appointment, error) {
	if appt, ok := t.staged[id]; ok {
		return appt, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	appt, ok := t.store.appts[id]
	if !ok {
		return model.Appointment{}, booking.ErrNotFound
	}
	return appt, nil
}

func (t *memTx) InsertAppointment(_ context.Context, appt *model.Appointment) error {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if err := checkOverlap(t.visible(appt.ProviderID), *appt); err != nil {
		return err
	}
	now := t.store.now()
	appt.ID = uuid.NewString()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	t.staged[appt.ID] = *appt
	return nil
}

func (t *memTx) UpdateAppointment(_ context.Context, id string, patch model.AppointmentPatch) (model.Appointment, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	current, ok := t.staged[id]
	if !ok {
		current, ok = t.store.appts[id]
	}
	if !ok {
		return model.Appointment{}, booking.ErrNotFound
	}
	updated := patch.Apply(current)
	if err := checkOverlap(t.visible(updated.ProviderID), updated); err != nil {
		return model.Appointment{}, err
	}
	updated.UpdatedAt = t.store.now()
	t.staged[id] = updated
	return updated, nil
}

func (t *memTx) ClaimIdempotencyKey(_ context.Context, scope, key string) (string, error) {
	k := idemKey{scope, key}
	if id, ok := t.idempotency[k]; ok {
		return id, nil
	}
	t.store.mu.RLock()
	id := t.store.idempotency[k]
	t.store.mu.RUnlock()
	t.idempotency[k] = id
	return id, nil
}

func (t *memTx) BindIdempotencyKey(_ context.Context, scope, key, appointmentID string) error {
	t.idempotency[idemKey{scope, key}] = appointmentID
	return nil
}

func (t *memTx) RecordProviderEvent(_ context.Context, provider, eventID, _ string) (bool, error) {
	k := provider + "/" + eventID
	if _, ok := t.providerEvents[k]; ok {
		return true, nil
	}
	t.store.mu.RLock()
	_, seen := t.store.providerEvents[k]
	t.store.mu.RUnlock()
	if seen {
		return true, nil
	}
	t.providerEvents[k] = struct{}{}
	return false, nil
}

func (t *memTx) Emit(_ context.Context, evt outbox.Event) error {
	t.events = append(t.events, evt)
	return nil
}

// checkOverlap mirrors appointments_no_overlap.
func checkOverlap(appts iter.Seq[model.Appointment], candidate model.Appointment) error {
	if !candidate.Blocking() {
		return nil
	}
	for other := range appts {
		if other.ID == candidate.ID || other.ProviderID != candidate.ProviderID || !other.Blocking() {
			continue
		}
		if other.Overlaps(candidate.StartTime, candidate.EndTime) {
			return fmt.Errorf("%w: overlaps appointment %s", booking.ErrConstraintViolation, other.ID)
		}
	}
	return nil
}

func selectAppointments(all iter.Seq[model.Appointment], q booking.AppointmentQuery) []model.Appointment {
	var out []model.Appointment
	for a := range all {
		if matchesQuery(q, a) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b model.Appointment) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
