package order

import (
	"context"
	"errors"
	"fmt"

	"ms-checkout/internal/models"
	"ms-checkout/internal/payment"
)

// Outcome says what reconciling one provider event did.
type Outcome string

const (
	OutcomeApplied       Outcome = "applied"
	OutcomeAlreadyFinal  Outcome = "already_final"
	OutcomeOrderNotFound Outcome = "order_not_found"
	OutcomeWaiting       Outcome = "waiting"
	OutcomeIgnored       Outcome = "ignored"
)

const pollBatch = 100

// Reconciler applies normalized provider events to orders. Callers always
// acknowledge the provider; the outcome is for logging and tests.
type Reconciler struct {
	Orders *OrderService
}

func NewReconciler(orders *OrderService) *Reconciler {
	return &Reconciler{Orders: orders}
}

func (r *Reconciler) Apply(ctx context.Context, ev *payment.Event) (Outcome, error) {
	s := r.Orders
	log := s.Logger

	order, err := s.DB.FindOrderForPayment(ctx, ev.ProviderPaymentID, ev.ExternalOrderRef)
	if errors.Is(err, models.ErrOrderNotFound) {
		log.Warn("WEBHOOK", fmt.Sprintf("%s event for unknown order (payment=%s ref=%s), acknowledging",
			ev.Provider, ev.ProviderPaymentID, ev.ExternalOrderRef))
		return OutcomeOrderNotFound, nil
	}
	if err != nil {
		return "", err
	}

	if !ev.Authenticated && (ev.Status == payment.StatusApproved || ev.Status == payment.StatusCancelled) {
		confirmed, err := r.confirm(ctx, order, ev)
		if err != nil {
			return "", err
		}
		if confirmed == nil {
			return OutcomeIgnored, nil
		}
		ev = confirmed
	}

	if order.Status.IsTerminal() {
		if ev.Status == payment.StatusApproved && order.Status != models.OrderPaid {
			log.Warn("WEBHOOK", fmt.Sprintf("Approved %s payment %s arrived for %s order %s; needs manual refund review",
				ev.Provider, ev.ProviderPaymentID, order.Status, order.ID))
		}
		return OutcomeAlreadyFinal, nil
	}

	pc := &PaymentContext{
		Provider:          ev.Provider,
		ProviderPaymentID: firstNonEmpty(ev.ProviderPaymentID, order.PaymentNumber),
		Raw:               ev.Raw,
	}

	var applied bool
	switch ev.Status {
	case payment.StatusApproved:
		applied, err = s.TransitionToPaid(ctx, order.ID, pc)
	case payment.StatusCancelled:
		applied, err = s.TransitionToCancelled(ctx, order.ID, pc)
	case payment.StatusPending:
		if !order.IsExpired(s.now()) {
			if pc.ProviderPaymentID != "" {
				if err := s.DB.RecordPaymentPayload(ctx, order.ID, ev.Provider, pc.ProviderPaymentID, ev.Raw, s.now()); err != nil {
					log.Warn("WEBHOOK", fmt.Sprintf("Failed to store pending payload for order %s: %v", order.ID, err))
				}
			}
			return OutcomeWaiting, nil
		}
		applied, err = s.TransitionToExpired(ctx, order.ID, pc)
	default:
		log.Info("WEBHOOK", fmt.Sprintf("Ignoring %s status %q for order %s", ev.Provider, ev.RawStatus, order.ID))
		return OutcomeIgnored, nil
	}

	if errors.Is(err, models.ErrInvalidStateTransition) {
		// Another path finalized the order between the lookup and the transition.
		return OutcomeAlreadyFinal, nil
	}
	if err != nil {
		return "", err
	}
	if !applied {
		return OutcomeAlreadyFinal, nil
	}
	log.LogPayment(ev.Provider, ev.ProviderPaymentID, fmt.Sprintf("order %s reconciled as %s", order.ID, ev.Status))
	return OutcomeApplied, nil
}

// confirm re-reads an unauthenticated notification from the provider. The
// payment must be one this service opened for the order; otherwise it returns
// nil and the notification is dropped.
func (r *Reconciler) confirm(ctx context.Context, order *models.Order, ev *payment.Event) (*payment.Event, error) {
	s := r.Orders
	if ev.ProviderPaymentID == "" {
		s.Logger.LogSecurity("WEBHOOK_UNVERIFIED", fmt.Sprintf("%s %s notification without a payment id for order %s dropped",
			ev.Provider, ev.Status, order.ID))
		return nil, nil
	}

	owned := ev.Provider == order.Provider && ev.ProviderPaymentID == order.PaymentNumber
	if !owned {
		var err error
		owned, err = s.DB.HasPayment(ctx, order.ID, ev.Provider, ev.ProviderPaymentID)
		if err != nil {
			return nil, err
		}
	}
	if !owned {
		s.Logger.LogSecurity("WEBHOOK_UNVERIFIED", fmt.Sprintf("%s payment %s was never opened for order %s, dropped",
			ev.Provider, ev.ProviderPaymentID, order.ID))
		return nil, nil
	}

	gw, err := s.Gateways.Get(ev.Provider)
	if err != nil {
		return nil, err
	}
	fetched, err := gw.FetchStatus(ctx, ev.ProviderPaymentID)
	if err != nil {
		return nil, fmt.Errorf("confirm %s payment %s: %w", ev.Provider, ev.ProviderPaymentID, err)
	}
	if fetched.ProviderPaymentID == "" {
		fetched.ProviderPaymentID = ev.ProviderPaymentID
	}
	fetched.Authenticated = true
	if fetched.Status != ev.Status {
		s.Logger.Warn("WEBHOOK", fmt.Sprintf("%s payment %s notified as %s but provider reports %s",
			ev.Provider, ev.ProviderPaymentID, ev.Status, fetched.Status))
	}
	return fetched, nil
}

// PollPending asks each provider about PENDING orders that have a payment
// open, for notifications that never arrived. It returns how many orders
// were checked.
func (r *Reconciler) PollPending(ctx context.Context) (int, error) {
	s := r.Orders
	orders, err := s.DB.ListPendingWithPayment(ctx, pollBatch)
	if err != nil {
		return 0, fmt.Errorf("list pending payments: %w", err)
	}

	var errs []error
	checked := 0
	for _, o := range orders {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		gw, err := s.Gateways.Get(o.Provider)
		if err != nil {
			s.Logger.Warn("PAYMENT", fmt.Sprintf("Order %s has unsupported provider %q", o.ID, o.Provider))
			continue
		}
		ev, err := gw.FetchStatus(ctx, o.PaymentNumber)
		if err != nil {
			errs = append(errs, fmt.Errorf("fetch %s payment %s: %w", o.Provider, o.PaymentNumber, err))
			continue
		}
		if ev.ProviderPaymentID == "" {
			ev.ProviderPaymentID = o.PaymentNumber
		}
		checked++
		if _, err := r.Apply(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("apply poll result for order %s: %w", o.ID, err))
		}
	}
	return checked, errors.Join(errs...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
