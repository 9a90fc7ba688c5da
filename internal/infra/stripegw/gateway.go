// Package stripegw wraps the Stripe client behind the small contract the
// rest of the app depends on: open a payment intent, refund one. Webhook
// verification stays in the webhook handler where the raw body lives.
package stripegw

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v75"
	"github.com/stripe/stripe-go/v75/paymentintent"
	"github.com/stripe/stripe-go/v75/refund"
)

// Intent is the gateway-side handle for a charge plus the secret the client
// needs to complete it. The server never touches card data.
type Intent struct {
	Handle      string
	ClientToken string
}

// Gateway is the payment-processor contract. Tests swap Default for a fake.
type Gateway interface {
	CreateIntent(amount int64, currency string, metadata map[string]string) (*Intent, error)
	Refund(handle string, amount int64) (string, error)
}

// Default is the gateway used by handlers.
var Default Gateway = &StripeGateway{}

// StripeGateway talks to the real Stripe API.
type StripeGateway struct{}

func (g *StripeGateway) CreateIntent(amount int64, currency string, metadata map[string]string) (*Intent, error) {
	stripe.Key = os.Getenv("STRIPE_SECRET_KEY")
	if stripe.Key == "" {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY not configured")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	params.SetIdempotencyKey(uuid.NewString())

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &Intent{Handle: pi.ID, ClientToken: pi.ClientSecret}, nil
}

func (g *StripeGateway) Refund(handle string, amount int64) (string, error) {
	stripe.Key = os.Getenv("STRIPE_SECRET_KEY")
	if stripe.Key == "" {
		return "", fmt.Errorf("STRIPE_SECRET_KEY not configured")
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(handle),
		Amount:        stripe.Int64(amount),
	}
	params.SetIdempotencyKey(uuid.NewString())

	r, err := refund.New(params)
	if err != nil {
		return "", fmt.Errorf("create refund: %w", err)
	}
	return r.ID, nil
}
