package order

import (
	"context"
	"errors"
	"fmt"

	"ms-checkout/internal/models"

	"github.com/uptrace/bun"
)

// PaymentContext is the provider outcome recorded with a transition.
type PaymentContext struct {
	Provider          string
	ProviderPaymentID string
	Raw               []byte
}

// TransitionToPaid sells the order's holds and records the approved payment.
// It reports false when the order was already PAID.
func (s *OrderService) TransitionToPaid(ctx context.Context, orderID string, pc *PaymentContext) (bool, error) {
	return s.transition(ctx, orderID, models.OrderPaid, pc)
}

func (s *OrderService) TransitionToCancelled(ctx context.Context, orderID string, pc *PaymentContext) (bool, error) {
	return s.transition(ctx, orderID, models.OrderCancelled, pc)
}

func (s *OrderService) TransitionToExpired(ctx context.Context, orderID string, pc *PaymentContext) (bool, error) {
	return s.transition(ctx, orderID, models.OrderExpired, pc)
}

func paymentStatusFor(to models.OrderStatus) models.PaymentStatus {
	if to == models.OrderPaid {
		return models.PaymentApproved
	}
	return models.PaymentCancelled
}

// transition moves a PENDING order to the terminal status to. Status,
// inventory and payments change in one transaction, and an order that ends
// unpaid leaves no payment pending; the compare-and-set on
// the status decides which of two racing callers wins.
func (s *OrderService) transition(ctx context.Context, orderID string, to models.OrderStatus, pc *PaymentContext) (bool, error) {
	var order *models.Order
	applied := false

	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		o, err := s.DB.GetOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		order = o

		if o.Status == to {
			return nil
		}
		if o.Status.IsTerminal() {
			return &models.StateTransitionError{OrderID: orderID, From: o.Status, To: to}
		}

		now := s.now()
		won, err := s.DB.CompareAndSetStatus(ctx, tx, orderID, models.OrderPending, to, now)
		if err != nil {
			return err
		}
		if !won {
			current, err := s.DB.CurrentStatus(ctx, tx, orderID)
			if err != nil {
				return err
			}
			if current == to {
				return nil
			}
			return &models.StateTransitionError{OrderID: orderID, From: current, To: to}
		}

		if to == models.OrderPaid {
			if _, err := s.Ledger.CommitOrder(ctx, tx, orderID); err != nil {
				return err
			}
		} else {
			if _, err := s.Ledger.ReleaseOrder(ctx, tx, orderID); err != nil {
				return err
			}
		}

		if pc != nil && pc.ProviderPaymentID != "" {
			if err := s.DB.SettlePayment(ctx, tx, o, pc.Provider, pc.ProviderPaymentID, paymentStatusFor(to), pc.Raw, now); err != nil {
				return err
			}
		}
		if to != models.OrderPaid {
			if _, err := s.DB.CancelOpenPayments(ctx, tx, orderID, now); err != nil {
				return err
			}
		}

		o.Status = to
		o.UpdatedAt = now
		applied = true
		return nil
	})
	if err != nil {
		var ste *models.StateTransitionError
		switch {
		case errors.As(err, &ste):
			s.Logger.Warn("ORDER", fmt.Sprintf("Rejected transition: %v", err))
		case errors.Is(err, models.ErrInvariantViolation):
			s.Logger.Error("ORDER", fmt.Sprintf("Order %s to %s rolled back: %v", orderID, to, err))
		}
		return false, err
	}
	if !applied {
		s.Logger.Debug("ORDER", fmt.Sprintf("Order %s already %s, nothing to do", orderID, to))
		return false, nil
	}

	s.Logger.LogOrder(string(to), orderID, fmt.Sprintf("total=%d %s", order.Total, order.Currency))
	s.afterTransition(ctx, order)
	return true, nil
}

// afterTransition runs the side effects that must not roll back the
// committed status: gate cleanup, notifications and issuance.
func (s *OrderService) afterTransition(ctx context.Context, order *models.Order) {
	s.unlockSeats(ctx, order.ID, seatIDsOf(order))
	s.notify(ctx, order)

	if order.Status == models.OrderPaid {
		s.issueTickets(ctx, order.ID)
	}
}

func (s *OrderService) issueTickets(ctx context.Context, orderID string) {
	if s.Issuer == nil {
		return
	}
	tickets, err := s.Issuer.IssueForOrder(ctx, orderID)
	if len(tickets) > 0 {
		for _, l := range s.Listeners {
			if tl, ok := l.(TicketsListener); ok {
				tl.TicketsIssued(ctx, orderID, tickets)
			}
		}
	}
	if err == nil {
		s.Logger.Info("TICKET", fmt.Sprintf("Issued %d tickets for order %s", len(tickets), orderID))
		return
	}

	s.Logger.Error("TICKET", fmt.Sprintf("Issuance for order %s incomplete: %v", orderID, err))
	if s.Queue == nil {
		return
	}
	if qerr := s.Queue.EnqueueIssuance(ctx, orderID); qerr != nil {
		s.Logger.Error("TICKET", fmt.Sprintf("Failed to schedule issuance retry for order %s: %v", orderID, qerr))
	}
}
