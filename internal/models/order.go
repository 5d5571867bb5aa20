package models

import (
	"time"

	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderCancelled OrderStatus = "cancelled"
	OrderExpired   OrderStatus = "expired"
)

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderPaid || s == OrderCancelled || s == OrderExpired
}

type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID        string      `bun:"id,pk" json:"id"`
	UserID    string      `bun:"user_id,notnull" json:"user_id"`
	UserEmail string      `bun:"user_email" json:"user_email"`
	Status    OrderStatus `bun:"status,notnull" json:"status"`
	// Total is in minor units and fixed at creation.
	Total    int64  `bun:"total,notnull" json:"total"`
	Currency string `bun:"currency,notnull" json:"currency"`

	Provider              string `bun:"provider,nullzero" json:"provider,omitempty"`
	ExternalTransactionID string `bun:"external_transaction_id,nullzero" json:"external_transaction_id,omitempty"`
	PaymentNumber         string `bun:"payment_number,nullzero" json:"payment_number,omitempty"`

	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
	ExpiresAt time.Time `bun:"expires_at,notnull" json:"expires_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull" json:"updated_at"`

	Items []*OrderItem `bun:"rel:has-many,join:id=order_id" json:"items,omitempty"`
}

// IsExpired reports whether the hold window has elapsed at now.
func (o *Order) IsExpired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// TicketCount is the number of tickets a paid order must end up with.
func (o *Order) TicketCount() int {
	n := 0
	for _, it := range o.Items {
		n += it.Quantity
	}
	return n
}

type OrderItem struct {
	bun.BaseModel `bun:"table:order_items,alias:oi"`

	ID         string `bun:"id,pk" json:"id"`
	OrderID    string `bun:"order_id,notnull" json:"order_id"`
	EventID    string `bun:"event_id,notnull" json:"event_id"`
	SeatID     string `bun:"seat_id,nullzero" json:"seat_id,omitempty"`
	CategoryID string `bun:"category_id,nullzero" json:"category_id,omitempty"`
	Label      string `bun:"label" json:"label"`
	Quantity   int    `bun:"quantity,notnull" json:"quantity"`
	UnitAmount int64  `bun:"unit_amount,notnull" json:"unit_amount"`
	Subtotal   int64  `bun:"subtotal,notnull" json:"subtotal"`
}

// Ref returns the inventory unit this line item draws from.
func (i *OrderItem) Ref() InventoryRef {
	return InventoryRef{SeatID: i.SeatID, CategoryID: i.CategoryID}
}

// ItemRequest is one requested line of a new order.
type ItemRequest struct {
	SeatID     string `json:"seat_id,omitempty"`
	CategoryID string `json:"category_id,omitempty"`
	Quantity   int    `json:"quantity"`
}

func (r ItemRequest) Ref() InventoryRef {
	return InventoryRef{SeatID: r.SeatID, CategoryID: r.CategoryID}
}

type CreateOrderRequest struct {
	Items       []ItemRequest `json:"items"`
	HoldMinutes int           `json:"hold_minutes,omitempty"`
}

// OrderStatusEvent is pushed to live subscribers and published to Kafka.
type OrderStatusEvent struct {
	OrderID    string      `json:"order_id"`
	UserID     string      `json:"user_id"`
	Status     OrderStatus `json:"status"`
	Total      int64       `json:"total"`
	Currency   string      `json:"currency"`
	Provider   string      `json:"provider,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}
