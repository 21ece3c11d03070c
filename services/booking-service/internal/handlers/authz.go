package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/apptbook/libs/auth"
	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

type action int

const (
	actionView action = iota
	actionCancel
	actionReschedule
	actionConfirm
	actionComplete
)

// allowed decides whether the caller may perform a on appt. Providers act on their own
// calendar; clients only view, cancel or reschedule their own appointments.
func allowed(c *auth.Claims, appt model.Appointment, a action) bool {
	switch c.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleProvider:
		return c.ProviderID == appt.ProviderID
	case auth.RoleClient:
		if c.Subject != appt.ClientID {
			return false
		}
		return a == actionView || a == actionCancel || a == actionReschedule
	}
	return false
}

// authorized loads the appointment and writes the error response itself when the caller
// may not act on it. Appointments the caller cannot see are reported as not found.
func (h *BookingHandler) authorized(w http.ResponseWriter, r *http.Request, id string, a action) (model.Appointment, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated")
		return model.Appointment{}, false
	}
	appt, err := h.engine.Get(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return model.Appointment{}, false
	}
	if !allowed(claims, appt, actionView) {
		httpx.WriteError(w, http.StatusNotFound, "appointment not found")
		return model.Appointment{}, false
	}
	if !allowed(claims, appt, a) {
		httpx.WriteError(w, http.StatusForbidden, "forbidden")
		return model.Appointment{}, false
	}
	return appt, true
}
