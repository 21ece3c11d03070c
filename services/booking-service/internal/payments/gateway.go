package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

const ProviderStripe = "stripe"

// Metadata keys written on every PaymentIntent. The webhook handler reads them back.
const (
	MetaAppointmentID = "appointment_id"
	MetaProviderID    = "provider_id"
	MetaClientID      = "client_id"
	MetaPaymentOption = "payment_option"
)

var ErrInvalidAmount = errors.New("invalid payment amount")

type IntentRequest struct {
	Appointment model.Appointment
	Amount      int64
	Currency    string
	// IdempotencyKey is forwarded to the processor so retried requests reuse one intent.
	IdempotencyKey string
}

// Intent is what the client needs to complete payment.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
}

type StripeGateway struct {
	api *client.API
}

// NewStripeGateway uses backends when non-nil, otherwise Stripe's live API.
func NewStripeGateway(secretKey string, backends *stripe.Backends) *StripeGateway {
	return &StripeGateway{api: client.New(secretKey, backends)}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if req.Amount <= 0 {
		return Intent{}, fmt.Errorf("%w: %d", ErrInvalidAmount, req.Amount)
	}
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Description: stripe.String("appointment " + req.Appointment.ID),
	}
	params.Context = ctx
	params.AddMetadata(MetaAppointmentID, req.Appointment.ID)
	params.AddMetadata(MetaProviderID, req.Appointment.ProviderID)
	params.AddMetadata(MetaClientID, req.Appointment.ClientID)
	params.AddMetadata(MetaPaymentOption, string(req.Appointment.PaymentOption))
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.IdempotencyKey = stripe.String(key)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe create payment intent: %w", err)
	}
	return Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
	}, nil
}
