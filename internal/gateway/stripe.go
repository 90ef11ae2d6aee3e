package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"coachbook/internal/domain"
	"coachbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

type StripeConfig struct {
	SecretKey  string
	Currency   string
	SuccessURL string
	CancelURL  string
	// APIBase replaces https://api.stripe.com when set.
	APIBase string
}

// StripeGateway opens Stripe Checkout sessions for gateway-mediated reservations.
type StripeGateway struct {
	api    *client.API
	cfg    StripeConfig
	logger zerolog.Logger
}

func NewStripeGateway(cfg StripeConfig, logger *zerolog.Logger) (*StripeGateway, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if cfg.Currency == "" {
		cfg.Currency = string(stripe.CurrencyUSD)
	}

	var backends *stripe.Backends
	if cfg.APIBase != "" {
		b := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:           stripe.String(cfg.APIBase),
			LeveledLogger: &stripe.LeveledLogger{Level: stripe.LevelError},
		})
		backends = &stripe.Backends{API: b, Connect: b, Uploads: b}
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, backends)

	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "stripe_gateway").Logger()
	}
	return &StripeGateway{api: api, cfg: cfg, logger: l}, nil
}

// CreateCheckout creates a one-line-item checkout session for the reservation's
// gross price. The reservation reference doubles as the idempotency key.
func (g *StripeGateway) CreateCheckout(ctx context.Context, r *models.Reservation, title string) (*domain.Checkout, error) {
	if r.GrossPrice <= 0 {
		return nil, fmt.Errorf("reservation %d has no price to collect", r.ID)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.cfg.SuccessURL),
		CancelURL:         stripe.String(g.cfg.CancelURL),
		ClientReferenceID: stripe.String(strconv.FormatInt(r.ID, 10)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(g.cfg.Currency),
					UnitAmount: stripe.Int64(r.GrossPrice),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(title),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("reservation_id", strconv.FormatInt(r.ID, 10))
	params.AddMetadata("reference", r.Reference)
	params.AddMetadata("provider_id", strconv.FormatInt(r.ProviderID, 10))
	if r.Reference != "" {
		params.SetIdempotencyKey("checkout-" + r.Reference)
	}

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	g.logger.Debug().Int64("reservation_id", r.ID).Str("checkout_ref", sess.ID).Msg("checkout session created")
	return &domain.Checkout{Ref: sess.ID, URL: sess.URL}, nil
}
