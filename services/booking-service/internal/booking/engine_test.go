package booking_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
	"github.com/stretchr/testify/require"
)

// 2030-03-04 is a Monday.
var monday = time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return monday.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

type fixture struct {
	engine *booking.Engine
	store  *storage.MemoryStore

	mu  sync.Mutex
	now time.Time
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2030, 3, 3, 12, 0, 0, 0, time.UTC)}
	f.store = storage.NewMemoryStore(storage.MemoryClock(f.clock))
	f.store.PutService(model.Service{
		ID:              "haircut",
		ProviderID:      "p1",
		Name:            "Haircut",
		DurationMinutes: 60,
		Price:           5000,
		DepositAmount:   1500,
		Currency:        "usd",
	})
	f.store.PutService(model.Service{ID: "broken", ProviderID: "p1", Name: "Broken", DurationMinutes: 0})
	f.store.PutService(model.Service{ID: "other", ProviderID: "p2", Name: "Other", DurationMinutes: 30, Price: 100})
	require.NoError(t, f.store.ReplaceAvailabilityWindows(context.Background(), "p1", []model.AvailabilityWindow{
		{DayOfWeek: time.Monday, StartTime: "09:00", EndTime: "17:00", IsAvailable: true},
		{DayOfWeek: time.Wednesday, StartTime: "09:00", EndTime: "12:00", IsAvailable: false},
	}))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.engine = booking.NewEngine(f.store, logger, booking.Config{SlotStep: 30 * time.Minute}, booking.WithClock(f.clock))
	return f
}

func (f *fixture) reserve(t *testing.T, client string, start time.Time) model.Appointment {
	t.Helper()
	appt, err := f.engine.Reserve(context.Background(), booking.ReserveRequest{
		ProviderID: "p1",
		ServiceID:  "haircut",
		ClientID:   client,
		StartTime:  start,
	})
	require.NoError(t, err)
	return appt
}

func starts(slots []model.Slot) []time.Time {
	out := make([]time.Time, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.StartTime)
	}
	return out
}

func eventsOf(store *storage.MemoryStore, topic string) []outbox.Event {
	var out []outbox.Event
	for _, evt := range store.Events() {
		if evt.EventType == topic {
			out = append(out, evt)
		}
	}
	return out
}

func TestListSlots_SkipsConfirmedAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.reserve(t, "c1", at(10, 0))
	_, err := f.engine.Confirm(ctx, a.ID)
	require.NoError(t, err)

	slots, err := f.engine.ListSlots(ctx, "p1", "2030-03-04", "haircut")
	require.NoError(t, err)

	want := []time.Time{at(9, 0)}
	for m := 11 * 60; m <= 16*60; m += 30 {
		want = append(want, at(0, m))
	}
	require.Equal(t, want, starts(slots))
	for _, s := range slots {
		require.Equal(t, time.Hour, s.EndTime.Sub(s.StartTime))
	}
	require.NotContains(t, starts(slots), at(9, 30))
	require.NotContains(t, starts(slots), at(10, 0))
	require.NotContains(t, starts(slots), at(10, 30))
}

func TestListSlots_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reserve(t, "c1", at(13, 0))

	first, err := f.engine.ListSlots(ctx, "p1", "2030-03-04", "haircut")
	require.NoError(t, err)
	second, err := f.engine.ListSlots(ctx, "p1", "2030-03-04", "haircut")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestListSlots_EverySlotIsReservable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reserved := 0
	for {
		slots, err := f.engine.ListSlots(ctx, "p1", "2030-03-04", "haircut")
		require.NoError(t, err)
		if len(slots) == 0 {
			break
		}
		_, err = f.engine.Reserve(ctx, booking.ReserveRequest{
			ProviderID: "p1",
			ServiceID:  "haircut",
			ClientID:   "c1",
			StartTime:  slots[len(slots)/2].StartTime,
			EndTime:    slots[len(slots)/2].EndTime,
		})
		require.NoError(t, err)
		reserved++
		require.Less(t, reserved, 20)
	}
	require.GreaterOrEqual(t, reserved, 4)
}

func TestListSlots_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, date := range []string{"", "2030-13-01", "04/03/2030", "2030-02-30"} {
		_, err := f.engine.ListSlots(ctx, "p1", date, "haircut")
		require.ErrorIs(t, err, booking.ErrInvalidDate, date)
	}

	_, err := f.engine.ListSlots(ctx, "nobody", "2030-03-04", "haircut")
	require.ErrorIs(t, err, booking.ErrUnknownProvider)

	_, err = f.engine.ListSlots(ctx, "p1", "2030-03-04", "missing")
	require.ErrorIs(t, err, booking.ErrUnknownService)

	_, err = f.engine.ListSlots(ctx, "p1", "2030-03-04", "other")
	require.ErrorIs(t, err, booking.ErrUnknownService)

	_, err = f.engine.ListSlots(ctx, "p1", "2030-03-04", "broken")
	require.ErrorIs(t, err, booking.ErrInvalidService)
}

func TestListSlots_ClosedDayIsEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Tuesday has no window; Wednesday's window is marked unavailable.
	for _, date := range []string{"2030-03-05", "2030-03-06"} {
		slots, err := f.engine.ListSlots(ctx, "p1", date, "haircut")
		require.NoError(t, err)
		require.NotNil(t, slots)
		require.Empty(t, slots)
	}
}

func TestListSlots_DependencyFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("connection refused")
	engine := booking.NewEngine(failingStore{Store: f.store, err: boom}, slog.New(slog.NewTextHandler(io.Discard, nil)), booking.Config{})

	_, err := engine.ListSlots(context.Background(), "p1", "2030-03-04", "haircut")
	require.ErrorIs(t, err, booking.ErrDependencyUnavailable)
	require.ErrorIs(t, err, boom)

	var depErr *booking.DependencyError
	require.ErrorAs(t, err, &depErr)
	require.Equal(t, "list slots", depErr.Op)
}

type failingStore struct {
	booking.Store
	err error
}

func (s failingStore) ListAvailabilityWindows(context.Context, string, time.Weekday) ([]model.AvailabilityWindow, error) {
	return nil, s.err
}

// racingStore lets the in-lock free check pass and then reports the overlap from the
// write itself, as the exclusion constraint does when a writer bypasses the lock.
type racingStore struct {
	booking.Store
}

func (s racingStore) WithProviderLock(ctx context.Context, providerID string, fn func(ctx context.Context, tx booking.Tx) error) error {
	return s.Store.WithProviderLock(ctx, providerID, func(ctx context.Context, tx booking.Tx) error {
		return fn(ctx, racingTx{Tx: tx})
	})
}

type racingTx struct {
	booking.Tx
}

func (racingTx) InsertAppointment(context.Context, *model.Appointment) error {
	return booking.ErrConstraintViolation
}

func (racingTx) UpdateAppointment(context.Context, string, model.AppointmentPatch) (model.Appointment, error) {
	return model.Appointment{}, booking.ErrConstraintViolation
}

func TestConstraintViolationIsReportedAsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.reserve(t, "c1", at(10, 0))
	_, err := f.engine.Confirm(ctx, a.ID)
	require.NoError(t, err)

	engine := booking.NewEngine(racingStore{Store: f.store}, slog.New(slog.NewTextHandler(io.Discard, nil)), booking.Config{SlotStep: 30 * time.Minute}, booking.WithClock(f.clock))

	_, err = engine.Reserve(ctx, booking.ReserveRequest{ProviderID: "p1", ServiceID: "haircut", ClientID: "c2", StartTime: at(14, 0)})
	require.ErrorIs(t, err, booking.ErrSlotConflict)
	require.NotErrorIs(t, err, booking.ErrDependencyUnavailable)

	_, err = engine.Reschedule(ctx, a.ID, at(15, 0), time.Time{})
	require.True(t, errors.Is(err, booking.ErrSlotConflict))

	got, err := f.engine.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusConfirmed, got.Status)
	require.Equal(t, at(10, 0), got.StartTime)
	require.Equal(t, at(11, 0), got.EndTime)

	all, err := f.engine.List(ctx, booking.AppointmentQuery{ProviderID: "p1"})
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Len(t, eventsOf(f.store, booking.TopicReserved), 1)
	require.Empty(t, eventsOf(f.store, booking.TopicRescheduled))
}

func TestReserve_ConcurrentOverlappingRequestsOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 16
	candidates := []time.Time{at(10, 0), at(10, 30), at(9, 30)}
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.Reserve(ctx, booking.ReserveRequest{
				ProviderID: "p1",
				ServiceID:  "haircut",
				ClientID:   "client-" + string(rune('a'+i)),
				StartTime:  candidates[i%len(candidates)],
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, booking.ErrSlotConflict)
	}
	// 09:30 and 10:30 both overlap 10:00 but not each other, so at most two can win.
	require.GreaterOrEqual(t, wins, 1)
	require.LessOrEqual(t, wins, 2)

	appts, err := f.engine.List(ctx, booking.AppointmentQuery{ProviderID: "p1"})
	require.NoError(t, err)
	for i := range appts {
		for j := i + 1; j < len(appts); j++ {
			require.False(t, appts[i].Overlaps(appts[j].StartTime, appts[j].EndTime), "double booking")
		}
	}
}

func TestReserve_SameIntervalConcurrently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Reserve(ctx, booking.ReserveRequest{ProviderID: "p1", ServiceID: "haircut", ClientID: "c", StartTime: at(14, 0)})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if errors.Is(err, booking.ErrSlotConflict) {
				conflicts++
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
	require.Equal(t, 9, conflicts)
}

func TestReserve_TouchingBoundariesSucceed(t *testing.T) {
	f := newFixture(t)
	f.reserve(t, "c1", at(10, 0))
	f.reserve(t, "c2", at(11, 0))
	f.reserve(t, "c3", at(9, 0))

	slots, err := f.engine.ListSlots(context.Background(), "p1", "2030-03-04", "haircut")
	require.NoError(t, err)
	require.Equal(t, at(12, 0), slots[0].StartTime)
}

func TestReserve_CreatesPendingUnpaidAndEmits(t *testing.T) {
	f := newFixture(t)
	appt, err := f.engine.Reserve(context.Background(), booking.ReserveRequest{
		ProviderID:    " p1 ",
		ServiceID:     "haircut",
		ClientID:      "c1",
		StartTime:     at(9, 0),
		EndTime:       at(10, 0),
		PaymentOption: model.PayDeposit,
		Notes:         "  first visit ",
	})
	require.NoError(t, err)
	require.NotEmpty(t, appt.ID)
	require.Equal(t, model.StatusPending, appt.Status)
	require.Equal(t, model.PaymentUnpaid, appt.PaymentStatus)
	require.Equal(t, model.PayDeposit, appt.PaymentOption)
	require.Equal(t, "first visit", appt.Notes)
	require.Equal(t, "p1", appt.ProviderID)

	evts := eventsOf(f.store, booking.TopicReserved)
	require.Len(t, evts, 1)
	require.Equal(t, appt.ID, evts[0].AggregateID)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(evts[0].Payload, &payload))
	require.EqualValues(t, 1500, payload["amount_due"])
	require.Equal(t, "usd", payload["currency"])
	require.Equal(t, "pending", payload["status"])
}

func TestReserve_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := booking.ReserveRequest{ProviderID: "p1", ServiceID: "haircut", ClientID: "c1", StartTime: at(9, 0)}

	cases := []struct {
		name   string
		mutate func(*booking.ReserveRequest)
		want   error
	}{
		{"missing client", func(r *booking.ReserveRequest) { r.ClientID = "" }, booking.ErrInvalidRequest},
		{"bad payment option", func(r *booking.ReserveRequest) { r.PaymentOption = "crypto" }, booking.ErrInvalidRequest},
		{"unknown service", func(r *booking.ReserveRequest) { r.ServiceID = "missing" }, booking.ErrUnknownService},
		{"no start", func(r *booking.ReserveRequest) { r.StartTime = time.Time{} }, booking.ErrInvalidInterval},
		{"wrong end", func(r *booking.ReserveRequest) { r.EndTime = at(9, 30) }, booking.ErrInvalidInterval},
		{"in the past", func(r *booking.ReserveRequest) { r.StartTime = time.Date(2030, 3, 3, 9, 0, 0, 0, time.UTC) }, booking.ErrInvalidInterval},
		{"runs past close", func(r *booking.ReserveRequest) { r.StartTime = at(16, 30) }, booking.ErrOutsideAvailability},
		{"before open", func(r *booking.ReserveRequest) { r.StartTime = at(8, 30) }, booking.ErrOutsideAvailability},
		{"closed day", func(r *booking.ReserveRequest) { r.StartTime = at(24+10, 0) }, booking.ErrOutsideAvailability},
		{"unknown provider", func(r *booking.ReserveRequest) { r.ProviderID = "p2"; r.ServiceID = "other" }, booking.ErrUnknownProvider},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.mutate(&req)
			_, err := f.engine.Reserve(ctx, req)
			require.ErrorIs(t, err, tc.want)
		})
	}
	require.Empty(t, f.store.Events())
}

func TestReserve_IdempotencyKeyReplays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := booking.ReserveRequest{ProviderID: "p1", ServiceID: "haircut", ClientID: "c1", StartTime: at(9, 0), IdempotencyKey: "k-1"}

	first, err := f.engine.Reserve(ctx, req)
	require.NoError(t, err)
	second, err := f.engine.Reserve(ctx, req)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, eventsOf(f.store, booking.TopicReserved), 1)

	// The key is scoped to the client.
	req.ClientID = "c2"
	_, err = f.engine.Reserve(ctx, req)
	require.ErrorIs(t, err, booking.ErrSlotConflict)
}

func TestCancel_FreesSlotAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.reserve(t, "c1", at(10, 0))

	cancelled, err := f.engine.Cancel(ctx, a.ID, " changed plans ")
	require.NoError(t, err)
	require.Equal(t, model.StatusCancelled, cancelled.Status)
	require.Equal(t, "changed plans", cancelled.CancelReason)

	slots, err := f.engine.ListSlots(ctx, "p1", "2030-03-04", "haircut")
	require.NoError(t, err)
	require.Contains(t, starts(slots), at(10, 0))

	again, err := f.engine.Cancel(ctx, a.ID, "other")
	require.NoError(t, err)
	require.Equal(t, "changed plans", again.CancelReason)
	require.Len(t, eventsOf(f.store, booking.TopicCancelled), 1)

	f.reserve(t, "c2", at(10, 0))
}

func TestCancel_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Cancel(context.Background(), "missing", "")
	require.ErrorIs(t, err, booking.ErrNotFound)
}

func TestReschedule_MovesAndFreesOldInterval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.reserve(t, "c1", at(10, 0))
	_, err := f.engine.Confirm(ctx, a.ID)
	require.NoError(t, err)

	moved, err := f.engine.Reschedule(ctx, a.ID, at(14, 0), at(15, 0))
	require.NoError(t, err)
	require.Equal(t, model.StatusRescheduled, moved.Status)
	require.Equal(t, at(14, 0), moved.StartTime)
	require.Equal(t, at(15, 0), moved.EndTime)

	f.reserve(t, "c2", at(10, 0))

	evts := eventsOf(f.store, booking.TopicRescheduled)
	require.Len(t, evts, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(evts[0].Payload, &payload))
	require.Equal(t, at(10, 0).Format(time.RFC3339), payload["previous_start_time"])

	confirmed, err := f.engine.Confirm(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusConfirmed, confirmed.Status)
}

func TestReschedule_OverlappingOwnIntervalIsAllowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.reserve(t, "c1", at(10, 0))
	_, err := f.engine.Confirm(ctx, a.ID)
	require.NoError(t, err)

	moved, err := f.engine.Reschedule(ctx, a.ID, at(10, 30), time.Time{})
	require.NoError(t, err)
	require.Equal(t, at(11, 30), moved.EndTime)
}

func TestReschedule_ConflictLeavesOriginal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.reserve(t, "c1", at(10, 0))
	_, err := f.engine.Confirm(ctx, a.ID)
	require.NoError(t, err)
	f.reserve(t, "c2", at(14, 0))

	_, err = f.engine.Reschedule(ctx, a.ID, at(14, 30), time.Time{})
	require.ErrorIs(t, err, booking.ErrSlotConflict)

	_, err = f.engine.Reschedule(ctx, a.ID, at(16, 30), time.Time{})
	require.ErrorIs(t, err, booking.ErrOutsideAvailability)

	got, err := f.engine.Get(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusConfirmed, got.Status)
	require.Equal(t, at(10, 0), got.StartTime)
	require.Empty(t, eventsOf(f.store, booking.TopicRescheduled))
}

func TestReschedule_RequiresConfirmed(t *testing.T) {
	f := newFixture(t)
	a := f.reserve(t, "c1", at(10, 0))
	_, err := f.engine.Reschedule(context.Background(), a.ID, at(14, 0), time.Time{})
	require.ErrorIs(t, err, booking.ErrInvalidTransition)
}

func TestTerminalStatusesRejectTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.reserve(t, "c1", at(9, 0))
	_, err := f.engine.Complete(ctx, a.ID)
	require.ErrorIs(t, err, booking.ErrInvalidTransition)
	_, err = f.engine.Confirm(ctx, a.ID)
	require.NoError(t, err)
	done, err := f.engine.Complete(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, done.Status)

	_, err = f.engine.Cancel(ctx, a.ID, "")
	require.ErrorIs(t, err, booking.ErrInvalidTransition)
	_, err = f.engine.Confirm(ctx, a.ID)
	require.ErrorIs(t, err, booking.ErrInvalidTransition)
	_, err = f.engine.Reschedule(ctx, a.ID, at(14, 0), time.Time{})
	require.ErrorIs(t, err, booking.ErrInvalidTransition)

	b := f.reserve(t, "c2", at(11, 0))
	_, err = f.engine.Cancel(ctx, b.ID, "")
	require.NoError(t, err)
	_, err = f.engine.Confirm(ctx, b.ID)
	require.ErrorIs(t, err, booking.ErrInvalidTransition)

	// A completed appointment keeps blocking its interval.
	_, err = f.engine.Reserve(ctx, booking.ReserveRequest{ProviderID: "p1", ServiceID: "haircut", ClientID: "c3", StartTime: at(9, 30)})
	require.ErrorIs(t, err, booking.ErrSlotConflict)
}

func TestServices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	svcs, err := f.engine.Services(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, svcs, 2)
	require.Equal(t, "broken", svcs[0].ID)
	require.Equal(t, "haircut", svcs[1].ID)

	none, err := f.engine.Services(ctx, "p9")
	require.NoError(t, err)
	require.Empty(t, none)

	_, err = f.engine.Services(ctx, " ")
	require.ErrorIs(t, err, booking.ErrInvalidRequest)

	svc, err := f.engine.Service(ctx, "other")
	require.NoError(t, err)
	require.Equal(t, "p2", svc.ProviderID)

	_, err = f.engine.Service(ctx, "missing")
	require.ErrorIs(t, err, booking.ErrUnknownService)
}

func TestList_FiltersAndLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reserve(t, "c1", at(9, 0))
	f.reserve(t, "c2", at(10, 0))
	c := f.reserve(t, "c1", at(11, 0))
	_, err := f.engine.Cancel(ctx, c.ID, "")
	require.NoError(t, err)

	mine, err := f.engine.List(ctx, booking.AppointmentQuery{ClientID: "c1"})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	require.True(t, mine[0].StartTime.Before(mine[1].StartTime))

	active, err := f.engine.List(ctx, booking.AppointmentQuery{ProviderID: "p1", ExcludeStatuses: []model.Status{model.StatusCancelled}})
	require.NoError(t, err)
	require.Len(t, active, 2)

	one, err := f.engine.List(ctx, booking.AppointmentQuery{ProviderID: "p1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, one, 1)
}

func TestSetAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.SetAvailability(ctx, "p2", []model.AvailabilityWindow{{DayOfWeek: time.Monday, StartTime: "12:00", EndTime: "09:00", IsAvailable: true}})
	require.ErrorIs(t, err, booking.ErrInvalidWindow)
	_, err = f.engine.SetAvailability(ctx, "p2", []model.AvailabilityWindow{{DayOfWeek: 7, StartTime: "09:00", EndTime: "12:00"}})
	require.ErrorIs(t, err, booking.ErrInvalidWindow)
	_, err = f.engine.SetAvailability(ctx, "p2", []model.AvailabilityWindow{{DayOfWeek: time.Monday, StartTime: "9am", EndTime: "12:00"}})
	require.ErrorIs(t, err, booking.ErrInvalidWindow)
	_, err = f.engine.SetAvailability(ctx, " ", nil)
	require.ErrorIs(t, err, booking.ErrInvalidRequest)

	saved, err := f.engine.SetAvailability(ctx, "p2", []model.AvailabilityWindow{
		{DayOfWeek: time.Monday, StartTime: "13:00:00", EndTime: "24:00", IsAvailable: true},
	})
	require.NoError(t, err)
	require.Equal(t, "13:00", saved[0].StartTime)
	require.Equal(t, "p2", saved[0].ProviderID)

	slots, err := f.engine.ListSlots(ctx, "p2", "2030-03-04", "other")
	require.NoError(t, err)
	require.Equal(t, at(13, 0), slots[0].StartTime)
	require.Equal(t, at(24, 0), slots[len(slots)-1].EndTime)
}

func TestEngineLocation(t *testing.T) {
	f := newFixture(t)
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	engine := booking.NewEngine(f.store, slog.New(slog.NewTextHandler(io.Discard, nil)), booking.Config{Location: ny}, booking.WithClock(f.clock))
	require.Equal(t, ny, engine.Location())

	slots, err := engine.ListSlots(context.Background(), "p1", "2030-03-04", "haircut")
	require.NoError(t, err)
	require.Equal(t, time.Date(2030, 3, 4, 9, 0, 0, 0, ny), slots[0].StartTime)
	// Without a configured step, slots advance by the service duration.
	require.Equal(t, time.Hour, slots[1].StartTime.Sub(slots[0].StartTime))
}
