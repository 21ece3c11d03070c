package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/auth"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/payments"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret     = "test-secret"
	testWebhookSecret = "whsec_test"
)

type fakeGateway struct {
	err      error
	requests []payments.IntentRequest
}

func (g *fakeGateway) CreateIntent(_ context.Context, req payments.IntentRequest) (payments.Intent, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return payments.Intent{}, g.err
	}
	return payments.Intent{ID: "pi_1", ClientSecret: "pi_1_secret", Status: "requires_payment_method", Amount: req.Amount, Currency: req.Currency}, nil
}

type testServer struct {
	handler http.Handler
	store   *storage.MemoryStore
	engine  *booking.Engine
}

func newTestServer(t *testing.T, gw payments.Gateway) *testServer {
	t.Helper()
	now := func() time.Time { return time.Date(2030, 3, 3, 12, 0, 0, 0, time.UTC) }
	store := storage.NewMemoryStore(storage.MemoryClock(now))
	store.PutService(model.Service{ID: "haircut", ProviderID: "p1", Name: "Haircut", DurationMinutes: 60, Price: 5000, DepositAmount: 1500, Currency: "usd"})
	require.NoError(t, store.ReplaceAvailabilityWindows(context.Background(), "p1", []model.AvailabilityWindow{
		{DayOfWeek: time.Monday, StartTime: "09:00", EndTime: "17:00", IsAvailable: true},
	}))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := booking.NewEngine(store, logger, booking.Config{SlotStep: 30 * time.Minute}, booking.WithClock(now))
	mux := http.NewServeMux()
	Register(mux,
		NewBookingHandler(engine, gw, logger),
		NewStripeWebhookHandler(engine, testWebhookSecret, 0, logger),
		testJWTSecret,
	)
	return &testServer{handler: mux, store: store, engine: engine}
}

func token(t *testing.T, subject string, role auth.Role, providerID string) string {
	t.Helper()
	tok, err := auth.SignHS256(subject, role, providerID, time.Hour, testJWTSecret)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) book(t *testing.T, client, start string) appointmentResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/public/book", "", map[string]any{
		"provider_id": "p1",
		"service_id":  "haircut",
		"client_id":   client,
		"start_time":  start,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp bookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Appointment
}

func TestSlotsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/public/slots?provider_id=p1&service_id=haircut&date=2030-03-04", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp slotsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Slots, 15)
	require.Equal(t, "2030-03-04T09:00:00Z", resp.Slots[0].StartTime)
	require.Equal(t, "2030-03-04T10:00:00Z", resp.Slots[0].EndTime)

	cases := map[string]int{
		"/api/v1/public/slots?provider_id=p1&service_id=haircut":                     http.StatusBadRequest,
		"/api/v1/public/slots?provider_id=p1&service_id=haircut&date=03-04-2030":     http.StatusBadRequest,
		"/api/v1/public/slots?provider_id=nobody&service_id=haircut&date=2030-03-04": http.StatusNotFound,
		"/api/v1/public/slots?provider_id=p1&service_id=nothing&date=2030-03-04":     http.StatusNotFound,
	}
	for path, want := range cases {
		rec := s.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, want, rec.Code, path)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/public/slots", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBookEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	appt := s.book(t, "c1", "2030-03-04T10:00:00Z")
	require.Equal(t, "pending", appt.Status)
	require.Equal(t, "unpaid", appt.PaymentStatus)
	require.Equal(t, "full", appt.PaymentOption)

	body := map[string]any{"provider_id": "p1", "service_id": "haircut", "client_id": "c2", "start_time": "2030-03-04T10:30:00Z"}
	rec := s.do(t, http.MethodPost, "/api/v1/public/book", "", body)
	require.Equal(t, http.StatusConflict, rec.Code)

	body["start_time"] = "2030-03-04T16:30:00Z"
	rec = s.do(t, http.MethodPost, "/api/v1/public/book", "", body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body["start_time"] = "tomorrow"
	rec = s.do(t, http.MethodPost, "/api/v1/public/book", "", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/public/book", "", map[string]any{"unknown": true})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookIdempotencyKey(t *testing.T) {
	s := newTestServer(t, nil)
	send := func() bookResponse {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/public/book", bytes.NewBufferString(
			`{"provider_id":"p1","service_id":"haircut","client_id":"c1","start_time":"2030-03-04T09:00:00Z"}`))
		req.Header.Set("Idempotency-Key", "retry-1")
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var resp bookResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp
	}
	first, second := send(), send()
	require.Equal(t, first.Appointment.AppointmentID, second.Appointment.AppointmentID)
}

func TestBookOpensPayment(t *testing.T) {
	gw := &fakeGateway{}
	s := newTestServer(t, gw)

	rec := s.do(t, http.MethodPost, "/api/v1/public/book", "", map[string]any{
		"provider_id":    "p1",
		"service_id":     "haircut",
		"client_id":      "c1",
		"start_time":     "2030-03-04T09:00:00Z",
		"payment_option": "deposit",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp bookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Payment)
	require.Equal(t, "pi_1_secret", resp.Payment.ClientSecret)
	require.Len(t, gw.requests, 1)
	require.EqualValues(t, 1500, gw.requests[0].Amount)
	require.Equal(t, "usd", gw.requests[0].Currency)
	require.Equal(t, "appointment:"+resp.Appointment.AppointmentID, gw.requests[0].IdempotencyKey)
}

func TestBookReleasesSlotWhenPaymentFails(t *testing.T) {
	gw := &fakeGateway{err: errors.New("stripe down")}
	s := newTestServer(t, gw)

	body := map[string]any{"provider_id": "p1", "service_id": "haircut", "client_id": "c1", "start_time": "2030-03-04T09:00:00Z"}
	rec := s.do(t, http.MethodPost, "/api/v1/public/book", "", body)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	appts, err := s.engine.List(context.Background(), booking.AppointmentQuery{ProviderID: "p1"})
	require.NoError(t, err)
	require.Len(t, appts, 1)
	require.Equal(t, model.StatusCancelled, appts[0].Status)

	gw.err = nil
	rec = s.do(t, http.MethodPost, "/api/v1/public/book", "", body)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/appointments", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/appointments", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListScopesToCaller(t *testing.T) {
	s := newTestServer(t, nil)
	s.book(t, "c1", "2030-03-04T09:00:00Z")
	s.book(t, "c2", "2030-03-04T10:00:00Z")
	s.book(t, "c1", "2030-03-04T11:00:00Z")

	list := func(bearer, query string) listResponse {
		rec := s.do(t, http.MethodGet, "/api/v1/appointments"+query, bearer, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp listResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp
	}

	mine := list(token(t, "c1", auth.RoleClient, ""), "?client_id=c2")
	require.Len(t, mine.Appointments, 2)
	for _, a := range mine.Appointments {
		require.Equal(t, "c1", a.ClientID)
	}

	provider := list(token(t, "u-p1", auth.RoleProvider, "p1"), "?from=2030-03-04&to=2030-03-05&status=pending")
	require.Len(t, provider.Appointments, 3)

	limited := list(token(t, "admin", auth.RoleAdmin, ""), "?provider_id=p1&limit=1")
	require.Len(t, limited.Appointments, 1)

	rec := s.do(t, http.MethodGet, "/api/v1/appointments?provider_id=p9", token(t, "u-p1", auth.RoleProvider, "p1"), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/v1/appointments?status=lost", token(t, "admin", auth.RoleAdmin, ""), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAppointmentActionsAuthorization(t *testing.T) {
	s := newTestServer(t, nil)
	appt := s.book(t, "c1", "2030-03-04T09:00:00Z")
	client := token(t, "c1", auth.RoleClient, "")
	stranger := token(t, "c2", auth.RoleClient, "")
	provider := token(t, "u-p1", auth.RoleProvider, "p1")
	otherProvider := token(t, "u-p2", auth.RoleProvider, "p2")
	admin := token(t, "root", auth.RoleAdmin, "")
	id := map[string]any{"appointment_id": appt.AppointmentID}

	rec := s.do(t, http.MethodGet, "/api/v1/appointments/get?id="+appt.AppointmentID, client, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/v1/appointments/get?id="+appt.AppointmentID, stranger, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/v1/appointments/get?id=missing", admin, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/appointments/confirm", client, id)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/v1/appointments/confirm", otherProvider, id)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/v1/appointments/confirm", provider, id)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/appointments/reschedule", client, map[string]any{
		"appointment_id": appt.AppointmentID,
		"start_time":     "2030-03-04T14:00:00Z",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var moved appointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &moved))
	require.Equal(t, "rescheduled", moved.Status)
	require.Equal(t, "2030-03-04T15:00:00Z", moved.EndTime)

	rec = s.do(t, http.MethodPost, "/api/v1/appointments/complete", admin, id)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/appointments/cancel", client, map[string]any{"appointment_id": appt.AppointmentID, "reason": "sick"})
	require.Equal(t, http.StatusOK, rec.Code)
	var cancelled appointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cancelled))
	require.Equal(t, "cancelled", cancelled.Status)
	require.Equal(t, "sick", cancelled.CancelReason)

	rec = s.do(t, http.MethodPost, "/api/v1/appointments/cancel", client, map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/v1/appointments/cancel", client, nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSetAvailabilityEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	provider := token(t, "u-p1", auth.RoleProvider, "p1")
	closed := false

	rec := s.do(t, http.MethodPut, "/api/v1/providers/availability", provider, map[string]any{
		"windows": []map[string]any{
			{"day_of_week": 2, "start_time": "10:00", "end_time": "12:00"},
			{"day_of_week": 3, "start_time": "10:00", "end_time": "12:00", "is_available": closed},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp availabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "p1", resp.ProviderID)
	require.Len(t, resp.Windows, 2)
	require.False(t, *resp.Windows[1].IsAvailable)

	rec = s.do(t, http.MethodGet, "/api/v1/public/slots?provider_id=p1&service_id=haircut&date=2030-03-05", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var slots slotsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &slots))
	require.Len(t, slots.Slots, 3)

	rec = s.do(t, http.MethodPut, "/api/v1/providers/availability", provider, map[string]any{
		"windows": []map[string]any{{"day_of_week": 1, "start_time": "12:00", "end_time": "10:00"}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/v1/providers/availability", provider, map[string]any{"provider_id": "p2", "windows": []any{}})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/v1/providers/availability", token(t, "c1", auth.RoleClient, ""), map[string]any{"windows": []any{}})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{booking.ErrInvalidDate, http.StatusBadRequest},
		{booking.ErrUnknownProvider, http.StatusNotFound},
		{booking.ErrSlotConflict, http.StatusConflict},
		{errors.Join(booking.ErrSlotConflict, booking.ErrConstraintViolation), http.StatusConflict},
		{booking.ErrInvalidTransition, http.StatusConflict},
		{booking.ErrOutsideAvailability, http.StatusUnprocessableEntity},
		{&booking.DependencyError{Op: "x", Err: errors.New("down")}, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("mystery"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		got, _ := statusFor(tc.err)
		require.Equal(t, tc.want, got, tc.err.Error())
	}
}
