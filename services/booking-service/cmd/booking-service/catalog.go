package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

// catalogFile seeds services and weekly availability, mainly for local runs against the
// in-memory store. Against Postgres it upserts, so reloading the same file is harmless.
type catalogFile struct {
	Services []struct {
		ID              string `json:"id"`
		ProviderID      string `json:"provider_id"`
		Name            string `json:"name"`
		DurationMinutes int    `json:"duration_minutes"`
		Price           int64  `json:"price"`
		Deposit         int64  `json:"deposit"`
		Currency        string `json:"currency"`
	} `json:"services"`
	Availability map[string][]struct {
		DayOfWeek int    `json:"day_of_week"`
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
		Closed    bool   `json:"closed,omitempty"`
	} `json:"availability"`
}

func loadCatalog(ctx context.Context, path string, engine *booking.Engine, putService func(context.Context, model.Service) error) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var cat catalogFile
	if err := json.Unmarshal(raw, &cat); err != nil {
		return fmt.Errorf("decode catalog: %w", err)
	}

	for _, s := range cat.Services {
		if s.ID == "" || s.ProviderID == "" {
			return fmt.Errorf("catalog service needs id and provider_id")
		}
		if err := putService(ctx, model.Service{
			ID:              s.ID,
			ProviderID:      s.ProviderID,
			Name:            s.Name,
			DurationMinutes: s.DurationMinutes,
			Price:           s.Price,
			DepositAmount:   s.Deposit,
			Currency:        s.Currency,
		}); err != nil {
			return fmt.Errorf("put service %s: %w", s.ID, err)
		}
	}
	for providerID, items := range cat.Availability {
		windows := make([]model.AvailabilityWindow, 0, len(items))
		for _, it := range items {
			windows = append(windows, model.AvailabilityWindow{
				DayOfWeek:   time.Weekday(it.DayOfWeek),
				StartTime:   it.StartTime,
				EndTime:     it.EndTime,
				IsAvailable: !it.Closed,
			})
		}
		if _, err := engine.SetAvailability(ctx, providerID, windows); err != nil {
			return fmt.Errorf("availability for %s: %w", providerID, err)
		}
	}
	return nil
}
