package model

import "time"

// Service is a bookable offering from the catalog. Money is in minor units.
type Service struct {
	ID              string
	ProviderID      string
	Name            string
	DurationMinutes int
	Price           int64
	DepositAmount   int64
	Currency        string
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// AmountDue is what the client owes up front for the given option.
// A deposit larger than the price is capped at the price.
func (s Service) AmountDue(opt PaymentOption) int64 {
	if opt == PayDeposit && s.DepositAmount > 0 {
		return min(s.DepositAmount, s.Price)
	}
	return s.Price
}

// AvailabilityWindow is a provider's recurring weekly open hours. Clock values are "HH:MM".
type AvailabilityWindow struct {
	ID          int64
	ProviderID  string
	DayOfWeek   time.Weekday
	StartTime   string
	EndTime     string
	IsAvailable bool
}

// Slot is a bookable interval derived from availability minus existing appointments.
type Slot struct {
	StartTime time.Time
	EndTime   time.Time
}
