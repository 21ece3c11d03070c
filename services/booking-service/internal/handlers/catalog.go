package handlers

import (
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

type serviceResponse struct {
	ID              string `json:"id"`
	ProviderID      string `json:"provider_id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	Price           int64  `json:"price"`
	Deposit         int64  `json:"deposit"`
	Currency        string `json:"currency"`
}

func toServiceResponse(svc model.Service) serviceResponse {
	return serviceResponse{
		ID:              svc.ID,
		ProviderID:      svc.ProviderID,
		Name:            svc.Name,
		DurationMinutes: svc.DurationMinutes,
		Price:           svc.Price,
		Deposit:         svc.DepositAmount,
		Currency:        svc.Currency,
	}
}

type servicesResponse struct {
	ProviderID string            `json:"provider_id"`
	Services   []serviceResponse `json:"services"`
}

// Services lists what a provider offers so clients can pick a service before asking for slots.
func (h *BookingHandler) Services(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	if providerID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "provider_id required")
		return
	}
	svcs, err := h.engine.Services(r.Context(), providerID)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	items := make([]serviceResponse, 0, len(svcs))
	for _, svc := range svcs {
		items = append(items, toServiceResponse(svc))
	}
	httpx.WriteJSON(w, http.StatusOK, servicesResponse{ProviderID: providerID, Services: items})
}

func (h *BookingHandler) ServiceByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		httpx.WriteError(w, http.StatusBadRequest, "id required")
		return
	}
	svc, err := h.engine.Service(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toServiceResponse(svc))
}
