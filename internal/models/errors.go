package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInsufficientInventory      = errors.New("insufficient inventory")
	ErrInvalidStateTransition     = errors.New("invalid state transition")
	ErrPaymentProviderRejected    = errors.New("payment provider rejected the request")
	ErrPaymentProviderUnavailable = errors.New("payment provider unavailable")
	ErrTicketNotFound             = errors.New("ticket not found")
	ErrTicketAlreadyUsed          = errors.New("ticket already used")
	ErrInvariantViolation         = errors.New("invariant violation")

	ErrOrderNotFound       = errors.New("order not found")
	ErrInvalidItem         = errors.New("invalid order item")
	ErrOrderExpired        = errors.New("order hold expired")
	ErrUnsupportedProvider = errors.New("unsupported payment provider")
	ErrInvalidSignature    = errors.New("invalid webhook signature")
	ErrAssetGeneration     = errors.New("ticket asset generation failed")
)

// InsufficientInventoryError lists the units that could not be held.
type InsufficientInventoryError struct {
	Unavailable []InventoryRef
}

func (e *InsufficientInventoryError) Error() string {
	parts := make([]string, 0, len(e.Unavailable))
	for _, r := range e.Unavailable {
		parts = append(parts, r.String())
	}
	return fmt.Sprintf("insufficient inventory: %s", strings.Join(parts, ", "))
}

func (e *InsufficientInventoryError) Unwrap() error { return ErrInsufficientInventory }

type StateTransitionError struct {
	OrderID string
	From    OrderStatus
	To      OrderStatus
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot move from %s to %s", e.OrderID, e.From, e.To)
}

func (e *StateTransitionError) Unwrap() error { return ErrInvalidStateTransition }

type TicketAlreadyUsedError struct {
	TicketID string
	UsedAt   time.Time
}

func (e *TicketAlreadyUsedError) Error() string {
	return fmt.Sprintf("ticket %s already used at %s", e.TicketID, e.UsedAt.Format(time.RFC3339))
}

func (e *TicketAlreadyUsedError) Unwrap() error { return ErrTicketAlreadyUsed }

type InvariantError struct {
	Detail string
}

func (e *InvariantError) Error() string { return "invariant violation: " + e.Detail }

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// Invariantf builds an InvariantError.
func Invariantf(format string, args ...any) error {
	return &InvariantError{Detail: fmt.Sprintf(format, args...)}
}
