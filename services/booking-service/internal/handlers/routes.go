package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/apptbook/libs/auth"
	"github.com/md-rashed-zaman/apptbook/libs/httpx"
)

// Register mounts the booking API on mux. public wraps the unauthenticated booking
// endpoints, typically with a rate limiter.
func Register(mux *http.ServeMux, bh *BookingHandler, wh *StripeWebhookHandler, jwtSecret string, public ...httpx.Middleware) {
	protect := func(fn http.HandlerFunc) http.Handler {
		return auth.RequireBearer(jwtSecret, fn)
	}

	mux.Handle("/api/v1/public/slots", httpx.Chain(http.HandlerFunc(bh.Slots), public...))
	mux.Handle("/api/v1/public/services", httpx.Chain(http.HandlerFunc(bh.Services), public...))
	mux.Handle("/api/v1/public/services/get", httpx.Chain(http.HandlerFunc(bh.ServiceByID), public...))
	mux.Handle("/api/v1/public/book", httpx.Chain(http.HandlerFunc(bh.Create), public...))

	mux.Handle("/api/v1/appointments", protect(bh.List))
	mux.Handle("/api/v1/appointments/get", protect(bh.Get))
	mux.Handle("/api/v1/appointments/cancel", protect(bh.Cancel))
	mux.Handle("/api/v1/appointments/reschedule", protect(bh.Reschedule))
	mux.Handle("/api/v1/appointments/confirm", protect(bh.Confirm))
	mux.Handle("/api/v1/appointments/complete", protect(bh.Complete))
	mux.Handle("/api/v1/providers/availability", protect(bh.SetAvailability))

	if wh != nil {
		mux.Handle("/api/v1/payments/stripe/webhook", wh)
	}
}
