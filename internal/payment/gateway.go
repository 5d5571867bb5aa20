// Package payment defines the provider-neutral payment contract and the
// retry policy shared by every outbound provider call.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"ms-checkout/internal/models"
)

// ErrWebhookNotConfigured means inbound notifications cannot be authenticated.
var ErrWebhookNotConfigured = errors.New("webhook secret is not configured")

// Status is the provider-neutral payment outcome.
type Status string

const (
	StatusApproved  Status = "APPROVED"
	StatusCancelled Status = "CANCELLED"
	StatusPending   Status = "PENDING"
	StatusUnknown   Status = "UNKNOWN"
)

type SessionRequest struct {
	OrderID     string
	UserEmail   string
	Description string
	Amount      int64
	Currency    string
	ExpiresAt   time.Time
}

// Session is what the client needs to complete payment: a client secret for
// embedded flows or a redirect URL for hosted ones.
type Session struct {
	Provider          string `json:"provider"`
	ProviderPaymentID string `json:"provider_payment_id"`
	ClientSecret      string `json:"client_secret,omitempty"`
	RedirectURL       string `json:"redirect_url,omitempty"`
}

// Event is a normalized provider notification or poll result.
// Authenticated is set when the event came from a signed notification or
// straight from the provider API; anything else is confirmed before it can
// finalize an order.
type Event struct {
	Provider          string
	ProviderPaymentID string
	ExternalOrderRef  string
	Status            Status
	RawStatus         string
	Raw               []byte
	Authenticated     bool
}

type Gateway interface {
	Provider() string
	CreatePaymentSession(ctx context.Context, req SessionRequest) (*Session, error)
	// NormalizeWebhook authenticates and parses an inbound notification.
	NormalizeWebhook(header http.Header, body []byte) (*Event, error)
	FetchStatus(ctx context.Context, providerPaymentID string) (*Event, error)
}

// Gateways indexes the configured providers by name.
type Gateways map[string]Gateway

func NewGateways(gws ...Gateway) Gateways {
	out := make(Gateways, len(gws))
	for _, gw := range gws {
		out[gw.Provider()] = gw
	}
	return out
}

func (g Gateways) Get(provider string) (Gateway, error) {
	gw, ok := g[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnsupportedProvider, provider)
	}
	return gw, nil
}

func (g Gateways) Names() []string {
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
