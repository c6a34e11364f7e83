package stripegw

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/brandforge/metering/pkg/config"
)

// Charger is the payment capability the billing service needs from the
// processor: resolve a customer reference and collect an off-session
// charge when a trial converts.
type Charger interface {
	EnsureCustomer(ctx context.Context, userID, existingRef string) (string, error)
	ChargeAutoUpgrade(ctx context.Context, customerRef string, amountCents int64, planID string) (string, error)
}

type Client struct {
	api *client.API
	cfg *config.Config
	log *zap.SugaredLogger
}

func NewCharger(cfg *config.Config, log *zap.SugaredLogger) Charger {
	api := &client.API{}
	api.Init(cfg.Stripe.SecretKey, nil)
	return &Client{api: api, cfg: cfg, log: log}
}

func (c *Client) EnsureCustomer(ctx context.Context, userID, existingRef string) (string, error) {
	if existingRef != "" {
		return existingRef, nil
	}
	cust, err := c.api.Customers.New(&stripe.CustomerParams{
		Params: stripe.Params{
			Context:  ctx,
			Metadata: map[string]string{"user_id": userID},
		},
	})
	if err != nil {
		return "", wrapStripeErr("create customer", err)
	}
	return cust.ID, nil
}

func (c *Client) ChargeAutoUpgrade(ctx context.Context, customerRef string, amountCents int64, planID string) (string, error) {
	if customerRef == "" {
		return "", fmt.Errorf("customer ref required for auto-upgrade charge")
	}
	pi, err := c.api.PaymentIntents.New(&stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context:  ctx,
			Metadata: map[string]string{"plan_id": planID},
		},
		Amount:     stripe.Int64(amountCents),
		Currency:   stripe.String(c.cfg.Stripe.Currency),
		Customer:   stripe.String(customerRef),
		Confirm:    stripe.Bool(true),
		OffSession: stripe.Bool(true),
	})
	if err != nil {
		return "", wrapStripeErr("auto-upgrade charge", err)
	}
	return pi.ID, nil
}

func wrapStripeErr(op string, err error) error {
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		return fmt.Errorf("%s: stripe %s/%s: %s", op, sErr.Type, sErr.Code, sErr.Msg)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ParseEvent verifies a webhook payload signature and returns the event.
func ParseEvent(cfg *config.Config, payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, cfg.Stripe.WebhookSecret)
}

var Module = fx.Options(
	fx.Provide(NewCharger),
)
