package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/payment"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

var ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")

// intentAPI is the slice of the Stripe client used here.
type intentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeService implements payment.Gateway on Stripe PaymentIntents.
type StripeService struct {
	intents       intentAPI
	webhookSecret string
	retry         payment.RetryPolicy
	log           *logger.Logger
}

func NewStripeService(secretKey, webhookSecret string, retry payment.RetryPolicy, log *logger.Logger) (*StripeService, error) {
	if secretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY not set")
		return nil, ErrStripeClientInitFailed
	}

	sc := client.New(secretKey, nil)
	if sc == nil {
		log.Error("STRIPE", "Failed to initialize Stripe client")
		return nil, ErrStripeClientInitFailed
	}

	log.Info("STRIPE", "Stripe client initialized successfully")
	return newStripeService(sc.PaymentIntents, webhookSecret, retry, log), nil
}

func newStripeService(intents intentAPI, webhookSecret string, retry payment.RetryPolicy, log *logger.Logger) *StripeService {
	return &StripeService{intents: intents, webhookSecret: webhookSecret, retry: retry, log: log}
}

func (s *StripeService) Provider() string { return models.ProviderStripe }

func (s *StripeService) CreatePaymentSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error) {
	var intent *stripe.PaymentIntent
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		params := &stripe.PaymentIntentParams{
			Amount:      stripe.Int64(req.Amount),
			Currency:    stripe.String(strings.ToLower(req.Currency)),
			Description: stripe.String(req.Description),
			AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
				Enabled: stripe.Bool(true),
			},
		}
		if req.UserEmail != "" {
			params.ReceiptEmail = stripe.String(req.UserEmail)
		}
		params.Context = ctx
		params.AddMetadata("order_id", req.OrderID)
		// One intent per order even when an attempt times out after Stripe accepted it.
		params.SetIdempotencyKey("order-session-" + req.OrderID)

		pi, err := s.intents.New(params)
		if err != nil {
			return classifyStripeError(err)
		}
		intent = pi
		return nil
	})
	if err != nil {
		s.log.Error("STRIPE", fmt.Sprintf("Failed to create payment intent for order %s: %v", req.OrderID, err))
		return nil, err
	}

	s.log.LogPayment("stripe", intent.ID, fmt.Sprintf("payment intent created for order %s (%d %s)", req.OrderID, req.Amount, req.Currency))
	return &payment.Session{
		Provider:          models.ProviderStripe,
		ProviderPaymentID: intent.ID,
		ClientSecret:      intent.ClientSecret,
	}, nil
}

func (s *StripeService) NormalizeWebhook(header http.Header, body []byte) (*payment.Event, error) {
	if s.webhookSecret == "" {
		return nil, fmt.Errorf("stripe: %w", payment.ErrWebhookNotConfigured)
	}

	event, err := webhook.ConstructEventWithOptions(body, header.Get("Stripe-Signature"), s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidSignature, err)
	}

	out := &payment.Event{
		Provider:      models.ProviderStripe,
		Status:        mapStripeEventType(string(event.Type)),
		RawStatus:     string(event.Type),
		Raw:           body,
		Authenticated: true,
	}

	if strings.HasPrefix(string(event.Type), "payment_intent.") {
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		out.ProviderPaymentID = pi.ID
		out.ExternalOrderRef = pi.Metadata["order_id"]
	}
	return out, nil
}

func (s *StripeService) FetchStatus(ctx context.Context, providerPaymentID string) (*payment.Event, error) {
	var intent *stripe.PaymentIntent
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		pi, err := s.intents.Get(providerPaymentID, params)
		if err != nil {
			return classifyStripeError(err)
		}
		intent = pi
		return nil
	})
	if err != nil {
		return nil, err
	}

	raw, _ := json.Marshal(intent)
	return &payment.Event{
		Provider:          models.ProviderStripe,
		ProviderPaymentID: intent.ID,
		ExternalOrderRef:  intent.Metadata["order_id"],
		Status:            mapStripeIntentStatus(intent.Status),
		RawStatus:         string(intent.Status),
		Raw:               raw,
		Authenticated:     true,
	}, nil
}

func mapStripeEventType(eventType string) payment.Status {
	switch eventType {
	case "payment_intent.succeeded":
		return payment.StatusApproved
	case "payment_intent.canceled":
		return payment.StatusCancelled
	// A failed attempt leaves the intent in requires_payment_method and the
	// buyer may retry with the same client secret.
	case "payment_intent.created", "payment_intent.processing", "payment_intent.requires_action",
		"payment_intent.amount_capturable_updated", "payment_intent.payment_failed":
		return payment.StatusPending
	default:
		return payment.StatusUnknown
	}
}

func mapStripeIntentStatus(status stripe.PaymentIntentStatus) payment.Status {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return payment.StatusApproved
	case stripe.PaymentIntentStatusCanceled:
		return payment.StatusCancelled
	case stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresCapture,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresPaymentMethod:
		return payment.StatusPending
	default:
		return payment.StatusUnknown
	}
}

func classifyStripeError(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return payment.NewProviderError(models.ProviderStripe, se.HTTPStatusCode, se.Msg)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return payment.NewProviderError(models.ProviderStripe, 0, err.Error())
}
