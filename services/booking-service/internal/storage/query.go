package storage

import (
	"slices"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

var pg = goqu.Dialect("postgres")

var appointmentColumns = []any{
	"id", "client_id", "provider_id", "service_id", "start_time", "end_time",
	"status", "payment_status", "payment_option", "payment_amount_cents",
	"notes", "cancel_reason", "created_at", "updated_at",
}

// appointmentsSQL renders q as a parameterised SELECT ordered by start time.
func appointmentsSQL(q booking.AppointmentQuery) (string, []any, error) {
	var where []exp.Expression
	if q.ProviderID != "" {
		where = append(where, goqu.C("provider_id").Eq(q.ProviderID))
	}
	if q.ClientID != "" {
		where = append(where, goqu.C("client_id").Eq(q.ClientID))
	}
	if !q.To.IsZero() {
		where = append(where, goqu.C("start_time").Lt(q.To))
	}
	if !q.From.IsZero() {
		where = append(where, goqu.C("end_time").Gt(q.From))
	}
	if len(q.Statuses) > 0 {
		where = append(where, goqu.C("status").In(statusStrings(q.Statuses)))
	}
	if len(q.ExcludeStatuses) > 0 {
		where = append(where, goqu.C("status").NotIn(statusStrings(q.ExcludeStatuses)))
	}
	if len(q.PaymentStatuses) > 0 {
		ps := make([]string, 0, len(q.PaymentStatuses))
		for _, p := range q.PaymentStatuses {
			ps = append(ps, string(p))
		}
		where = append(where, goqu.C("payment_status").In(ps))
	}
	if !q.CreatedBefore.IsZero() {
		where = append(where, goqu.C("created_at").Lt(q.CreatedBefore))
	}
	if q.ExcludeID != "" {
		where = append(where, goqu.C("id").Neq(q.ExcludeID))
	}

	ds := pg.From("appointments").
		Prepared(true).
		Select(appointmentColumns...).
		Where(where...).
		Order(goqu.C("start_time").Asc(), goqu.C("id").Asc())
	if q.Limit > 0 {
		ds = ds.Limit(uint(q.Limit))
	}
	return ds.ToSQL()
}

func statusStrings(in []model.Status) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}

// matchesQuery is the in-memory equivalent of appointmentsSQL's WHERE clause.
func matchesQuery(q booking.AppointmentQuery, a model.Appointment) bool {
	switch {
	case q.ProviderID != "" && a.ProviderID != q.ProviderID:
		return false
	case q.ClientID != "" && a.ClientID != q.ClientID:
		return false
	case !q.To.IsZero() && !a.StartTime.Before(q.To):
		return false
	case !q.From.IsZero() && !a.EndTime.After(q.From):
		return false
	case len(q.Statuses) > 0 && !slices.Contains(q.Statuses, a.Status):
		return false
	case slices.Contains(q.ExcludeStatuses, a.Status):
		return false
	case len(q.PaymentStatuses) > 0 && !slices.Contains(q.PaymentStatuses, a.PaymentStatus):
		return false
	case !q.CreatedBefore.IsZero() && !a.CreatedAt.Before(q.CreatedBefore):
		return false
	case q.ExcludeID != "" && a.ID == q.ExcludeID:
		return false
	}
	return true
}
