package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Event struct {
	bun.BaseModel `bun:"table:events,alias:e"`

	ID       string    `bun:"id,pk" json:"id"`
	Name     string    `bun:"name,notnull" json:"name"`
	Venue    string    `bun:"venue" json:"venue"`
	StartsAt time.Time `bun:"starts_at,notnull" json:"starts_at"`
}

type SeatStatus string

const (
	SeatAvailable SeatStatus = "available"
	SeatHeld      SeatStatus = "held"
	SeatSold      SeatStatus = "sold"
)

type Seat struct {
	bun.BaseModel `bun:"table:seats,alias:s"`

	ID          string     `bun:"id,pk" json:"id"`
	EventID     string     `bun:"event_id,notnull" json:"event_id"`
	CategoryID  string     `bun:"category_id,nullzero" json:"category_id,omitempty"`
	Label       string     `bun:"label,notnull" json:"label"`
	Price       int64      `bun:"price,notnull" json:"price"`
	Status      SeatStatus `bun:"status,notnull" json:"status"`
	HeldByUser  string     `bun:"held_by_user,nullzero" json:"-"`
	HeldByOrder string     `bun:"held_by_order,nullzero" json:"-"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

// TicketCategory is a general-admission pool with a fixed capacity.
type TicketCategory struct {
	bun.BaseModel `bun:"table:ticket_categories,alias:tc"`

	ID       string `bun:"id,pk" json:"id"`
	EventID  string `bun:"event_id,notnull" json:"event_id"`
	Name     string `bun:"name,notnull" json:"name"`
	Price    int64  `bun:"price,notnull" json:"price"`
	Capacity int    `bun:"capacity,notnull" json:"capacity"`
	Held     int    `bun:"held,notnull" json:"held"`
	Sold     int    `bun:"sold,notnull" json:"sold"`
}

func (c *TicketCategory) Available() int {
	return c.Capacity - c.Held - c.Sold
}

// InventoryRef names exactly one of a seat or a category.
type InventoryRef struct {
	SeatID     string `json:"seat_id,omitempty"`
	CategoryID string `json:"category_id,omitempty"`
}

func (r InventoryRef) IsSeat() bool { return r.SeatID != "" }

func (r InventoryRef) String() string {
	if r.SeatID != "" {
		return "seat:" + r.SeatID
	}
	return "category:" + r.CategoryID
}

type HoldStatus string

const (
	HoldActive   HoldStatus = "held"
	HoldReleased HoldStatus = "released"
	HoldSold     HoldStatus = "sold"
)

// InventoryHold records the units one order line took out of availability.
type InventoryHold struct {
	bun.BaseModel `bun:"table:inventory_holds,alias:ih"`

	ID          string     `bun:"id,pk" json:"id"`
	OrderID     string     `bun:"order_id,notnull" json:"order_id"`
	OrderItemID string     `bun:"order_item_id,notnull" json:"order_item_id"`
	SeatID      string     `bun:"seat_id,nullzero" json:"seat_id,omitempty"`
	CategoryID  string     `bun:"category_id,nullzero" json:"category_id,omitempty"`
	UserID      string     `bun:"user_id,notnull" json:"user_id"`
	Quantity    int        `bun:"quantity,notnull" json:"quantity"`
	Status      HoldStatus `bun:"status,notnull" json:"status"`
	CreatedAt   time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

func (h *InventoryHold) Ref() InventoryRef {
	return InventoryRef{SeatID: h.SeatID, CategoryID: h.CategoryID}
}
