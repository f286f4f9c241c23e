// Package payment wraps the Stripe API surface the access service uses.
package payment

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/jmarchant/reverie/internal/model"
)

// metadataTypeKey carries the grant type through checkout so the webhook
// and confirm paths agree on what was bought.
const metadataTypeKey = "access_type"

type Config struct {
	SecretKey           string
	WebhookSecret       string
	SubscriptionPriceID string
	DayPassPriceID      string
	SinglePriceID       string
	SuccessURL          string
	CancelURL           string
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	stripe.Key = cfg.SecretKey
	return &Client{cfg: cfg}
}

// Session is the slice of a checkout session the reconciler needs.
type Session struct {
	ID         string
	Paid       bool
	Type       model.GrantType
	CustomerID string
	Email      string
}

// CheckoutSession retrieves a checkout session by id.
func (c *Client) CheckoutSession(ctx context.Context, sessionID string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := checksession.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("get checkout session: %w", err)
	}
	return SessionFromCheckout(sess), nil
}

// SessionFromCheckout maps a Stripe checkout session to the internal view.
// The webhook path uses this directly on the event payload.
func SessionFromCheckout(sess *stripe.CheckoutSession) *Session {
	out := &Session{
		ID:   sess.ID,
		Paid: sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		Type: GrantTypeFromMetadata(sess.Metadata, sess.Mode),
	}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}
	if sess.CustomerDetails != nil {
		out.Email = sess.CustomerDetails.Email
	}
	return out
}

// GrantTypeFromMetadata decides the grant type for a session. The checkout
// metadata is authoritative; sessions created before the metadata key
// existed fall back on the checkout mode.
func GrantTypeFromMetadata(metadata map[string]string, mode stripe.CheckoutSessionMode) model.GrantType {
	if t := model.GrantType(metadata[metadataTypeKey]); t.Valid() {
		return t
	}
	if mode == stripe.CheckoutSessionModeSubscription {
		return model.GrantSubscription
	}
	return model.GrantSingle
}

// HasActiveSubscription reports whether the customer has at least one
// active subscription. This is the authoritative validity check for
// subscription grants.
func (c *Client) HasActiveSubscription(ctx context.Context, customerID string) (bool, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)
	iter := subscription.List(params)
	for iter.Next() {
		return true, nil
	}
	if err := iter.Err(); err != nil {
		return false, fmt.Errorf("list subscriptions: %w", err)
	}
	return false, nil
}

// CreateCheckoutSession creates a hosted checkout session for the given
// grant type and returns its URL.
func (c *Client) CreateCheckoutSession(ctx context.Context, typ model.GrantType) (string, error) {
	priceID, mode := c.priceFor(typ)
	if priceID == "" {
		return "", fmt.Errorf("no price configured for type %q", typ)
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(mode)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(c.cfg.SuccessURL),
		CancelURL:  stripe.String(c.cfg.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata(metadataTypeKey, string(typ))

	sess, err := checksession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (c *Client) priceFor(typ model.GrantType) (string, stripe.CheckoutSessionMode) {
	switch typ {
	case model.GrantSubscription:
		return c.cfg.SubscriptionPriceID, stripe.CheckoutSessionModeSubscription
	case model.GrantDayPass:
		return c.cfg.DayPassPriceID, stripe.CheckoutSessionModePayment
	case model.GrantSingle:
		return c.cfg.SinglePriceID, stripe.CheckoutSessionModePayment
	}
	return "", stripe.CheckoutSessionModePayment
}

// CreateBillingPortalSession creates a billing portal session and returns the URL.
func (c *Client) CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}

// ConstructWebhookEvent verifies the signature and returns the parsed event.
func (c *Client) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, c.cfg.WebhookSecret)
}
