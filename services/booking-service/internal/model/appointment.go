package model

import "time"

type Status string

const (
	StatusPending     Status = "pending"
	StatusConfirmed   Status = "confirmed"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
)

type PaymentStatus string

const (
	PaymentUnpaid      PaymentStatus = "unpaid"
	PaymentDepositPaid PaymentStatus = "deposit_paid"
	PaymentFullyPaid   PaymentStatus = "fully_paid"
)

// PaymentOption is what the client chose to pay up front when reserving.
type PaymentOption string

const (
	PayDeposit PaymentOption = "deposit"
	PayFull    PaymentOption = "full"
)

func (o PaymentOption) Valid() bool {
	return o == PayDeposit || o == PayFull
}

type Appointment struct {
	ID            string
	ClientID      string
	ProviderID    string
	ServiceID     string
	StartTime     time.Time
	EndTime       time.Time
	Status        Status
	PaymentStatus PaymentStatus
	PaymentOption PaymentOption
	PaymentAmount int64
	Notes         string
	CancelReason  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Blocking reports whether the appointment occupies its interval on the provider's calendar.
func (a Appointment) Blocking() bool {
	return a.Status != StatusCancelled
}

// Overlaps uses half-open intervals, so touching boundaries do not overlap.
func (a Appointment) Overlaps(start, end time.Time) bool {
	return start.Before(a.EndTime) && a.StartTime.Before(end)
}

// AppointmentPatch lists the fields UpdateAppointment may change. Nil fields are left as is.
type AppointmentPatch struct {
	StartTime     *time.Time
	EndTime       *time.Time
	Status        *Status
	PaymentStatus *PaymentStatus
	PaymentAmount *int64
	CancelReason  *string
}

// Apply returns a copy of appt with the patch applied.
func (p AppointmentPatch) Apply(appt Appointment) Appointment {
	if p.StartTime != nil {
		appt.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		appt.EndTime = *p.EndTime
	}
	if p.Status != nil {
		appt.Status = *p.Status
	}
	if p.PaymentStatus != nil {
		appt.PaymentStatus = *p.PaymentStatus
	}
	if p.PaymentAmount != nil {
		appt.PaymentAmount = *p.PaymentAmount
	}
	if p.CancelReason != nil {
		appt.CancelReason = *p.CancelReason
	}
	return appt
}
