package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-checkout/internal/models"

	"github.com/uptrace/bun"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return d.Bun.RunInTx(ctx, nil, fn)
}

// GetOrder → order with its items
func (d *DB) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order := new(models.Order)
	err := d.Bun.NewSelect().
		Model(order).
		Relation("Items").
		Where("o.id = ?", orderID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrOrderNotFound, orderID)
	}
	return order, err
}

func (d *DB) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	ev := new(models.Event)
	err := d.Bun.NewSelect().Model(ev).Where("id = ?", eventID).Limit(1).Scan(ctx)
	return ev, err
}

// IssuedSeqs → order item id → seq numbers that already have a ticket
func (d *DB) IssuedSeqs(ctx context.Context, orderID string) (map[string]map[int]bool, error) {
	var rows []struct {
		OrderItemID string `bun:"order_item_id"`
		Seq         int    `bun:"seq"`
	}
	err := d.Bun.NewSelect().
		Model((*models.Ticket)(nil)).
		Column("order_item_id", "seq").
		Where("order_id = ?", orderID).
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[int]bool)
	for _, r := range rows {
		if out[r.OrderItemID] == nil {
			out[r.OrderItemID] = make(map[int]bool)
		}
		out[r.OrderItemID][r.Seq] = true
	}
	return out, nil
}

// InsertTickets inserts what it can; rows whose (order_item_id, seq) already
// exists are skipped. It returns the rows this call actually created.
func (d *DB) InsertTickets(ctx context.Context, tickets []*models.Ticket) ([]*models.Ticket, error) {
	if len(tickets) == 0 {
		return nil, nil
	}
	if _, err := d.Bun.NewInsert().Model(&tickets).On("CONFLICT DO NOTHING").Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert tickets: %w", err)
	}

	ids := make([]string, 0, len(tickets))
	for _, t := range tickets {
		ids = append(ids, t.ID)
	}
	var created []*models.Ticket
	err := d.Bun.NewSelect().
		Model(&created).
		Where("id IN (?)", bun.In(ids)).
		OrderExpr("order_item_id ASC, seq ASC").
		Scan(ctx)
	return created, err
}

func (d *DB) TicketsByOrder(ctx context.Context, orderID string) ([]*models.Ticket, error) {
	var tickets []*models.Ticket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("order_id = ?", orderID).
		OrderExpr("order_item_id ASC, seq ASC").
		Scan(ctx)
	return tickets, err
}

func (d *DB) UpdateAssets(ctx context.Context, t *models.Ticket) error {
	_, err := d.Bun.NewUpdate().
		Model(t).
		Column("qr_code_url", "pdf_url", "wallet_pass_url").
		WherePK().
		Exec(ctx)
	return err
}

// OrdersMissingTickets → paid orders with fewer tickets than units bought
func (d *DB) OrdersMissingTickets(ctx context.Context, limit int) ([]string, error) {
	var ids []string
	err := d.Bun.NewSelect().
		TableExpr("orders AS o").
		Column("o.id").
		Where("o.status = ?", models.OrderPaid).
		Where("(SELECT COALESCE(SUM(oi.quantity), 0) FROM order_items AS oi WHERE oi.order_id = o.id) > " +
			"(SELECT COUNT(*) FROM tickets AS t WHERE t.order_id = o.id)").
		OrderExpr("o.updated_at ASC").
		Limit(limit).
		Scan(ctx, &ids)
	return ids, err
}

// ---------------- VALIDATION ----------------

// FindTicket looks a ticket up by id or by QR id.
func (d *DB) FindTicket(ctx context.Context, ticketID, qrID string) (*models.Ticket, error) {
	t := new(models.Ticket)
	err := d.Bun.NewSelect().
		Model(t).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("id = ?", ticketID).WhereOr("qr_id = ?", qrID)
		}).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTicketNotFound
	}
	return t, err
}

// MarkUsed stamps the ticket only if it was never used. false means another
// scan got there first.
func (d *DB) MarkUsed(ctx context.Context, tx bun.IDB, ticketID, validatorID, device string, now time.Time) (bool, error) {
	res, err := tx.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("used_at = ?", now).
		Set("validator_id = ?", validatorID).
		Set("device = ?", device).
		Where("id = ?", ticketID).
		Where("used_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (d *DB) GetTicket(ctx context.Context, idb bun.IDB, ticketID string) (*models.Ticket, error) {
	t := new(models.Ticket)
	err := idb.NewSelect().Model(t).Where("id = ?", ticketID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrTicketNotFound
	}
	return t, err
}

func (d *DB) InsertValidationLog(ctx context.Context, tx bun.IDB, entry *models.ValidationLog) error {
	_, err := tx.NewInsert().Model(entry).Exec(ctx)
	return err
}

// TicketHolder returns the event name and buyer email shown to the scanner.
func (d *DB) TicketHolder(ctx context.Context, t *models.Ticket) (eventName, email string, err error) {
	err = d.Bun.NewSelect().
		TableExpr("events AS e").
		ColumnExpr("e.name").
		Where("e.id = ?", t.EventID).
		Scan(ctx, &eventName)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", "", err
	}
	err = d.Bun.NewSelect().
		TableExpr("orders AS o").
		ColumnExpr("COALESCE(o.user_email, '')").
		Where("o.id = ?", t.OrderID).
		Scan(ctx, &email)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", "", err
	}
	return eventName, email, nil
}
