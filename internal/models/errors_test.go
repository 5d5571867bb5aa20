package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTypedErrorsUnwrapToSentinels(t *testing.T) {
	inv := &InsufficientInventoryError{Unavailable: []InventoryRef{{SeatID: "A1"}, {CategoryID: "ga"}}}
	wrapped := fmt.Errorf("create order: %w", inv)

	assert.ErrorIs(t, wrapped, ErrInsufficientInventory)
	assert.Equal(t, "insufficient inventory: seat:A1, category:ga", inv.Error())

	var target *InsufficientInventoryError
	assert.True(t, errors.As(wrapped, &target))
	assert.Len(t, target.Unavailable, 2)

	st := &StateTransitionError{OrderID: "o1", From: OrderExpired, To: OrderPaid}
	assert.ErrorIs(t, st, ErrInvalidStateTransition)
	assert.Contains(t, st.Error(), "expired")

	used := &TicketAlreadyUsedError{TicketID: "t1", UsedAt: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)}
	assert.ErrorIs(t, used, ErrTicketAlreadyUsed)

	assert.ErrorIs(t, Invariantf("seat %s not held", "A1"), ErrInvariantViolation)
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.False(t, OrderPending.IsTerminal())
	assert.True(t, OrderPaid.IsTerminal())
	assert.True(t, OrderCancelled.IsTerminal())
	assert.True(t, OrderExpired.IsTerminal())
}

func TestOrderTicketCountAndExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	o := &Order{
		ExpiresAt: now.Add(10 * time.Minute),
		Items:     []*OrderItem{{Quantity: 2}, {Quantity: 1}},
	}
	assert.Equal(t, 3, o.TicketCount())
	assert.False(t, o.IsExpired(now))
	assert.True(t, o.IsExpired(now.Add(11*time.Minute)))
}
