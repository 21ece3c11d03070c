package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/auth"
	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

type windowItem struct {
	DayOfWeek   int    `json:"day_of_week"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	IsAvailable *bool  `json:"is_available,omitempty"`
}

type availabilityRequest struct {
	ProviderID string       `json:"provider_id"`
	Windows    []windowItem `json:"windows"`
}

type availabilityResponse struct {
	ProviderID string       `json:"provider_id"`
	Windows    []windowItem `json:"windows"`
}

// SetAvailability replaces the weekly schedule of the caller's provider account.
// Admins must name the provider.
func (h *BookingHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req availabilityRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	providerID := strings.TrimSpace(req.ProviderID)
	switch claims.Role {
	case auth.RoleProvider:
		if providerID == "" {
			providerID = claims.ProviderID
		}
		if providerID != claims.ProviderID {
			httpx.WriteError(w, http.StatusForbidden, "forbidden")
			return
		}
	case auth.RoleAdmin:
	default:
		httpx.WriteError(w, http.StatusForbidden, "forbidden")
		return
	}

	windows := make([]model.AvailabilityWindow, 0, len(req.Windows))
	for _, item := range req.Windows {
		available := true
		if item.IsAvailable != nil {
			available = *item.IsAvailable
		}
		windows = append(windows, model.AvailabilityWindow{
			DayOfWeek:   time.Weekday(item.DayOfWeek),
			StartTime:   item.StartTime,
			EndTime:     item.EndTime,
			IsAvailable: available,
		})
	}

	saved, err := h.engine.SetAvailability(r.Context(), providerID, windows)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	resp := availabilityResponse{ProviderID: providerID, Windows: make([]windowItem, 0, len(saved))}
	for _, win := range saved {
		available := win.IsAvailable
		resp.Windows = append(resp.Windows, windowItem{
			DayOfWeek:   int(win.DayOfWeek),
			StartTime:   win.StartTime,
			EndTime:     win.EndTime,
			IsAvailable: &available,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
