// Package providerclient wraps the payment provider SDK calls the billing
// service relies on, so handlers can depend on a narrow surface.
package providerclient

import (
	"context"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
)

// Client is a thin wrapper over the stripe API client
type Client struct {
	cl *client.API
}

// New creates a Client from a configured stripe API client
func New(cl *client.API) *Client {
	return &Client{cl: cl}
}

// FromKey creates a Client directly from a secret key
func FromKey(key string) *Client {
	cl := &client.API{}
	cl.Init(key, nil)
	return New(cl)
}

// Subscription retrieves the current subscription object from the provider
func (c *Client) Subscription(_ context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	return c.cl.Subscriptions.Get(id, params)
}

// Customer retrieves a customer object from the provider
func (c *Client) Customer(_ context.Context, id string, params *stripe.CustomerParams) (*stripe.Customer, error) {
	return c.cl.Customers.Get(id, params)
}
