package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/auth"
	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/payments"
)

type BookingHandler struct {
	engine *booking.Engine
	// payments is nil when no processor is configured; bookings then stay pending until a
	// provider confirms them.
	payments payments.Gateway
	logger   *slog.Logger
}

func NewBookingHandler(engine *booking.Engine, gateway payments.Gateway, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{engine: engine, payments: gateway, logger: logger}
}

type bookRequest struct {
	ProviderID    string `json:"provider_id"`
	ServiceID     string `json:"service_id"`
	ClientID      string `json:"client_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time,omitempty"`
	PaymentOption string `json:"payment_option,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

type bookResponse struct {
	Appointment appointmentResponse `json:"appointment"`
	Payment     *payments.Intent    `json:"payment,omitempty"`
}

type appointmentResponse struct {
	AppointmentID string `json:"appointment_id"`
	ClientID      string `json:"client_id"`
	ProviderID    string `json:"provider_id"`
	ServiceID     string `json:"service_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	PaymentOption string `json:"payment_option"`
	PaymentAmount int64  `json:"payment_amount"`
	Notes         string `json:"notes,omitempty"`
	CancelReason  string `json:"cancel_reason,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func toAppointmentResponse(a model.Appointment) appointmentResponse {
	return appointmentResponse{
		AppointmentID: a.ID,
		ClientID:      a.ClientID,
		ProviderID:    a.ProviderID,
		ServiceID:     a.ServiceID,
		StartTime:     a.StartTime.UTC().Format(time.RFC3339),
		EndTime:       a.EndTime.UTC().Format(time.RFC3339),
		Status:        string(a.Status),
		PaymentStatus: string(a.PaymentStatus),
		PaymentOption: string(a.PaymentOption),
		PaymentAmount: a.PaymentAmount,
		Notes:         a.Notes,
		CancelReason:  a.CancelReason,
		CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type slotsResponse struct {
	ProviderID string     `json:"provider_id"`
	ServiceID  string     `json:"service_id"`
	Date       string     `json:"date"`
	Slots      []slotItem `json:"slots"`
}

func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	providerID := strings.TrimSpace(q.Get("provider_id"))
	serviceID := strings.TrimSpace(q.Get("service_id"))
	date := strings.TrimSpace(q.Get("date"))
	if providerID == "" || serviceID == "" || date == "" {
		httpx.WriteError(w, http.StatusBadRequest, "provider_id, service_id and date are required")
		return
	}

	slots, err := h.engine.ListSlots(r.Context(), providerID, date, serviceID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			StartTime: s.StartTime.Format(time.RFC3339),
			EndTime:   s.EndTime.Format(time.RFC3339),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, slotsResponse{
		ProviderID: providerID,
		ServiceID:  serviceID,
		Date:       date,
		Slots:      items,
	})
}

// Create reserves a slot and, when a processor is configured, opens a payment for it.
// If the payment cannot be opened the reservation is released.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req bookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid start_time")
		return
	}
	var end time.Time
	if raw := strings.TrimSpace(req.EndTime); raw != "" {
		if end, err = time.Parse(time.RFC3339, raw); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid end_time")
			return
		}
	}

	ctx := r.Context()
	appt, err := h.engine.Reserve(ctx, booking.ReserveRequest{
		ProviderID:     req.ProviderID,
		ServiceID:      req.ServiceID,
		ClientID:       req.ClientID,
		StartTime:      start,
		EndTime:        end,
		PaymentOption:  model.PaymentOption(strings.ToLower(strings.TrimSpace(req.PaymentOption))),
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}

	resp := bookResponse{Appointment: toAppointmentResponse(appt)}
	if h.payments != nil && appt.Status == model.StatusPending && appt.PaymentStatus == model.PaymentUnpaid {
		intent, err := h.openPayment(r, appt)
		if err != nil {
			h.logger.Error("payment intent failed; releasing reservation", "err", err, "appointment_id", appt.ID)
			if _, cerr := h.engine.Cancel(ctx, appt.ID, "payment setup failed"); cerr != nil {
				h.logger.Error("release after payment failure failed", "err", cerr, "appointment_id", appt.ID)
			}
			httpx.WriteError(w, http.StatusServiceUnavailable, "payment provider unavailable")
			return
		}
		resp.Payment = intent
	}
	httpx.WriteJSON(w, http.StatusCreated, resp)
}

func (h *BookingHandler) openPayment(r *http.Request, appt model.Appointment) (*payments.Intent, error) {
	amount, currency, err := h.engine.AmountDue(r.Context(), appt)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, nil
	}
	// One intent per appointment, so replayed bookings get the same client secret.
	intent, err := h.payments.CreateIntent(r.Context(), payments.IntentRequest{
		Appointment:    appt,
		Amount:         amount,
		Currency:       currency,
		IdempotencyKey: "appointment:" + appt.ID,
	})
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

type listResponse struct {
	Appointments []appointmentResponse `json:"appointments"`
}

// List scopes results to the caller: clients see their own appointments and providers
// their own calendar. Admins may filter freely.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	q := r.URL.Query()
	query := booking.AppointmentQuery{
		ProviderID: strings.TrimSpace(q.Get("provider_id")),
		ClientID:   strings.TrimSpace(q.Get("client_id")),
	}
	switch claims.Role {
	case auth.RoleClient:
		query.ClientID = claims.Subject
	case auth.RoleProvider:
		if query.ProviderID != "" && query.ProviderID != claims.ProviderID {
			httpx.WriteError(w, http.StatusForbidden, "forbidden")
			return
		}
		query.ProviderID = claims.ProviderID
	}

	var err error
	if query.From, err = h.parseBound(q.Get("from")); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid from")
		return
	}
	if query.To, err = h.parseBound(q.Get("to")); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid to")
		return
	}
	for _, raw := range strings.Split(q.Get("status"), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		status := model.Status(raw)
		if !status.Valid() {
			httpx.WriteError(w, http.StatusBadRequest, "invalid status")
			return
		}
		query.Statuses = append(query.Statuses, status)
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		query.Limit = limit
	}

	appts, err := h.engine.List(r.Context(), query)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	items := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		items = append(items, toAppointmentResponse(a))
	}
	httpx.WriteJSON(w, http.StatusOK, listResponse{Appointments: items})
}

// parseBound accepts RFC 3339 or a YYYY-MM-DD date in the engine's time zone.
func (h *BookingHandler) parseBound(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.ParseInLocation(booking.DateLayout, raw, h.engine.Location())
}

func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		httpx.WriteError(w, http.StatusBadRequest, "id required")
		return
	}
	appt, ok := h.authorized(w, r, id, actionView)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

type appointmentActionRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason,omitempty"`
	StartTime     string `json:"start_time,omitempty"`
	EndTime       string `json:"end_time,omitempty"`
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAction(w, r)
	if !ok {
		return
	}
	if _, ok := h.authorized(w, r, req.AppointmentID, actionCancel); !ok {
		return
	}
	appt, err := h.engine.Cancel(r.Context(), req.AppointmentID, req.Reason)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *BookingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAction(w, r)
	if !ok {
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid start_time")
		return
	}
	var end time.Time
	if raw := strings.TrimSpace(req.EndTime); raw != "" {
		if end, err = time.Parse(time.RFC3339, raw); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid end_time")
			return
		}
	}
	if _, ok := h.authorized(w, r, req.AppointmentID, actionReschedule); !ok {
		return
	}
	appt, err := h.engine.Reschedule(r.Context(), req.AppointmentID, start, end)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAction(w, r)
	if !ok {
		return
	}
	if _, ok := h.authorized(w, r, req.AppointmentID, actionConfirm); !ok {
		return
	}
	appt, err := h.engine.Confirm(r.Context(), req.AppointmentID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAction(w, r)
	if !ok {
		return
	}
	if _, ok := h.authorized(w, r, req.AppointmentID, actionComplete); !ok {
		return
	}
	appt, err := h.engine.Complete(r.Context(), req.AppointmentID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

func (h *BookingHandler) decodeAction(w http.ResponseWriter, r *http.Request) (appointmentActionRequest, bool) {
	var req appointmentActionRequest
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return req, false
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return req, false
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "appointment_id required")
		return req, false
	}
	return req, true
}

// writeEngineError maps engine errors to HTTP statuses. Dependency failures are already
// logged by the engine.
func (h *BookingHandler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("unexpected booking error", "err", err, "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()))
	}
	httpx.WriteError(w, status, msg)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, booking.ErrDependencyUnavailable):
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	case errors.Is(err, booking.ErrSlotConflict):
		return http.StatusConflict, "time slot already booked"
	case errors.Is(err, booking.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	case errors.Is(err, booking.ErrOutsideAvailability):
		return http.StatusUnprocessableEntity, "requested time is outside provider availability"
	case errors.Is(err, booking.ErrInvalidService):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound, "appointment not found"
	case errors.Is(err, booking.ErrUnknownProvider), errors.Is(err, booking.ErrUnknownService):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, booking.ErrInvalidDate),
		errors.Is(err, booking.ErrInvalidInterval),
		errors.Is(err, booking.ErrInvalidWindow),
		errors.Is(err, booking.ErrInvalidRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request cancelled"
	}
	return http.StatusInternalServerError, "internal error"
}
