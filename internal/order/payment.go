package order

import (
	"context"
	"fmt"

	"ms-checkout/internal/models"
	"ms-checkout/internal/payment"

	"github.com/uptrace/bun"
)

// CreatePaymentSession opens a payment with provider for a PENDING order and
// records the provider reference on it.
func (s *OrderService) CreatePaymentSession(ctx context.Context, orderID, provider string) (*payment.Session, error) {
	gw, err := s.Gateways.Get(provider)
	if err != nil {
		return nil, err
	}

	order, err := s.DB.GetOrder(ctx, s.DB.Bun, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderPending {
		s.Logger.Warn("PAYMENT", fmt.Sprintf("Cannot open payment for order %s with status %s", orderID, order.Status))
		return nil, fmt.Errorf("%w: order %s is %s", models.ErrInvalidStateTransition, orderID, order.Status)
	}
	if order.IsExpired(s.now()) {
		return nil, fmt.Errorf("%w: order %s expired at %s", models.ErrOrderExpired, orderID, order.ExpiresAt)
	}

	session, err := gw.CreatePaymentSession(ctx, payment.SessionRequest{
		OrderID:     order.ID,
		UserEmail:   order.UserEmail,
		Description: fmt.Sprintf("%d tickets, order %s", order.TicketCount(), order.ID),
		Amount:      order.Total,
		Currency:    order.Currency,
		ExpiresAt:   order.ExpiresAt,
	})
	if err != nil {
		s.Logger.Error("PAYMENT", fmt.Sprintf("Failed to open %s payment for order %s: %v", provider, orderID, err))
		return nil, err
	}

	err = s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		now := s.now()
		ok, err := s.DB.SetPaymentReference(ctx, tx, orderID, provider, session.ProviderPaymentID, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: order %s left pending while the payment was opened", models.ErrInvalidStateTransition, orderID)
		}
		return s.DB.EnsurePayment(ctx, tx, &models.Payment{
			OrderID:           orderID,
			Provider:          provider,
			ProviderPaymentID: session.ProviderPaymentID,
			Status:            models.PaymentPending,
			Amount:            order.Total,
			Currency:          order.Currency,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.Logger.LogPayment(provider, session.ProviderPaymentID, fmt.Sprintf("session opened for order %s", orderID))
	return session, nil
}
