package analytics

import (
	"context"
	"time"

	"ms-checkout/internal/models"

	"github.com/uptrace/bun"
)

// DB runs the read-only sales queries.
type DB struct {
	Bun *bun.DB
}

type statusCount struct {
	Status models.OrderStatus `bun:"status"`
	Orders int                `bun:"orders"`
}

// paidLine is one order line of a PAID order.
type paidLine struct {
	SeatID     string    `bun:"seat_id"`
	CategoryID string    `bun:"category_id"`
	Quantity   int       `bun:"quantity"`
	Subtotal   int64     `bun:"subtotal"`
	PaidAt     time.Time `bun:"paid_at"`
}

type seatCount struct {
	Status models.SeatStatus `bun:"status"`
	Seats  int               `bun:"seats"`
}

type ticketCounts struct {
	Issued    int `bun:"issued"`
	CheckedIn int `bun:"checked_in"`
}

func (db *DB) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	ev := new(models.Event)
	err := db.Bun.NewSelect().Model(ev).Where("id = ?", eventID).Limit(1).Scan(ctx)
	return ev, err
}

// GetOrderStatusCounts counts distinct orders with at least one line for the event.
func (db *DB) GetOrderStatusCounts(ctx context.Context, eventID string) ([]statusCount, error) {
	var rows []statusCount
	err := db.Bun.NewSelect().
		TableExpr("orders AS o").
		Join("JOIN order_items AS oi ON oi.order_id = o.id").
		ColumnExpr("o.status AS status").
		ColumnExpr("COUNT(DISTINCT o.id) AS orders").
		Where("oi.event_id = ?", eventID).
		GroupExpr("o.status").
		Scan(ctx, &rows)
	return rows, err
}

// GetPaidLines returns the event's lines on PAID orders. The order's
// updated_at is the moment it became PAID since paid is terminal.
func (db *DB) GetPaidLines(ctx context.Context, eventID string) ([]paidLine, error) {
	var rows []paidLine
	err := db.Bun.NewSelect().
		TableExpr("order_items AS oi").
		Join("JOIN orders AS o ON o.id = oi.order_id").
		ColumnExpr("oi.seat_id AS seat_id").
		ColumnExpr("oi.category_id AS category_id").
		ColumnExpr("oi.quantity AS quantity").
		ColumnExpr("oi.subtotal AS subtotal").
		ColumnExpr("o.updated_at AS paid_at").
		Where("oi.event_id = ?", eventID).
		Where("o.status = ?", models.OrderPaid).
		OrderExpr("o.updated_at ASC").
		Scan(ctx, &rows)
	return rows, err
}

func (db *DB) GetCategories(ctx context.Context, eventID string) ([]*models.TicketCategory, error) {
	var cats []*models.TicketCategory
	err := db.Bun.NewSelect().Model(&cats).Where("event_id = ?", eventID).Order("id ASC").Scan(ctx)
	return cats, err
}

func (db *DB) GetSeatCounts(ctx context.Context, eventID string) ([]seatCount, error) {
	var rows []seatCount
	err := db.Bun.NewSelect().
		Model((*models.Seat)(nil)).
		ColumnExpr("s.status AS status").
		ColumnExpr("COUNT(*) AS seats").
		Where("s.event_id = ?", eventID).
		GroupExpr("s.status").
		Scan(ctx, &rows)
	return rows, err
}

func (db *DB) GetTicketCounts(ctx context.Context, eventID string) (ticketCounts, error) {
	var counts ticketCounts
	err := db.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		ColumnExpr("COUNT(*) AS issued").
		ColumnExpr("COUNT(t.used_at) AS checked_in").
		Where("t.event_id = ?", eventID).
		Scan(ctx, &counts)
	return counts, err
}
