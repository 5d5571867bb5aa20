package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-checkout/internal/models"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DB holds order persistence. Methods that take a bun.IDB run on whatever
// the caller passes, usually the transaction of the operation in progress.
type DB struct {
	Bun *bun.DB
}

func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return d.Bun.RunInTx(ctx, nil, fn)
}

// ---------------- ORDERS ----------------

// GetOrder → one order with its items
func (d *DB) GetOrder(ctx context.Context, idb bun.IDB, id string) (*models.Order, error) {
	order := new(models.Order)
	err := idb.NewSelect().
		Model(order).
		Relation("Items", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("oi.id")
		}).
		Where("o.id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", models.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return order, nil
}

// CurrentStatus reads only the status column.
func (d *DB) CurrentStatus(ctx context.Context, idb bun.IDB, id string) (models.OrderStatus, error) {
	var status models.OrderStatus
	err := idb.NewSelect().
		Model((*models.Order)(nil)).
		Column("status").
		Where("id = ?", id).
		Scan(ctx, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", models.ErrOrderNotFound, id)
	}
	return status, err
}

// InsertOrder → order row plus its items
func (d *DB) InsertOrder(ctx context.Context, idb bun.IDB, order *models.Order) error {
	if _, err := idb.NewInsert().Model(order).Exec(ctx); err != nil {
		return fmt.Errorf("insert order %s: %w", order.ID, err)
	}
	if len(order.Items) > 0 {
		if _, err := idb.NewInsert().Model(&order.Items).Exec(ctx); err != nil {
			return fmt.Errorf("insert items of order %s: %w", order.ID, err)
		}
	}
	return nil
}

// CompareAndSetStatus moves the order from one status to another only if it
// is still in from. It is the serialization point for all transitions.
func (d *DB) CompareAndSetStatus(ctx context.Context, idb bun.IDB, id string, from, to models.OrderStatus, now time.Time) (bool, error) {
	res, err := idb.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("update order %s status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetPaymentReference records the provider session on a pending order.
func (d *DB) SetPaymentReference(ctx context.Context, idb bun.IDB, id, provider, paymentNumber string, now time.Time) (bool, error) {
	res, err := idb.NewUpdate().
		Model((*models.Order)(nil)).
		Set("provider = ?", provider).
		Set("payment_number = ?", paymentNumber).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", models.OrderPending).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("set payment reference on order %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// FindOrderForPayment resolves a provider notification to an order: first by
// the payment number on the order, then by the payments table, then by the
// correlation key the provider echoes back.
func (d *DB) FindOrderForPayment(ctx context.Context, providerPaymentID, externalRef string) (*models.Order, error) {
	if providerPaymentID != "" {
		var id string
		err := d.Bun.NewSelect().
			Model((*models.Order)(nil)).
			Column("id").
			Where("payment_number = ?", providerPaymentID).
			Limit(1).
			Scan(ctx, &id)
		if err == nil {
			return d.GetOrder(ctx, d.Bun, id)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("find order by payment number: %w", err)
		}

		err = d.Bun.NewSelect().
			Model((*models.Payment)(nil)).
			Column("order_id").
			Where("provider_payment_id = ?", providerPaymentID).
			Limit(1).
			Scan(ctx, &id)
		if err == nil {
			return d.GetOrder(ctx, d.Bun, id)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("find order by payment: %w", err)
		}
	}

	if externalRef != "" {
		var id string
		err := d.Bun.NewSelect().
			Model((*models.Order)(nil)).
			Column("id").
			WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				return q.Where("external_transaction_id = ?", externalRef).WhereOr("id = ?", externalRef)
			}).
			Limit(1).
			Scan(ctx, &id)
		if err == nil {
			return d.GetOrder(ctx, d.Bun, id)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("find order by external reference: %w", err)
		}
	}

	return nil, models.ErrOrderNotFound
}

// ListExpiredPending → ids of pending orders whose hold ended before now,
// in id order after the given cursor.
func (d *DB) ListExpiredPending(ctx context.Context, now time.Time, afterID string, limit int) ([]string, error) {
	var ids []string
	err := d.Bun.NewSelect().
		Model((*models.Order)(nil)).
		Column("id").
		Where("status = ?", models.OrderPending).
		Where("expires_at < ?", now).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Scan(ctx, &ids)
	return ids, err
}

// ListPendingWithPayment → pending orders that already have a provider session
func (d *DB) ListPendingWithPayment(ctx context.Context, limit int) ([]*models.Order, error) {
	var orders []*models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("status = ?", models.OrderPending).
		Where("payment_number IS NOT NULL").
		Where("provider IS NOT NULL").
		Order("created_at ASC").
		Limit(limit).
		Scan(ctx)
	return orders, err
}

func (d *DB) ListOrdersByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	var orders []*models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Relation("Items").
		Where("o.user_id = ?", userID).
		Order("o.created_at DESC").
		Scan(ctx)
	return orders, err
}

// ---------------- PAYMENTS ----------------

func (d *DB) InsertPayment(ctx context.Context, idb bun.IDB, p *models.Payment) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := idb.NewInsert().Model(p).Exec(ctx)
	return err
}

// EnsurePayment inserts p unless the order already has a row for the same
// provider payment. Providers hand back the same id for a repeated session.
func (d *DB) EnsurePayment(ctx context.Context, idb bun.IDB, p *models.Payment) error {
	exists, err := idb.NewSelect().
		Model((*models.Payment)(nil)).
		Where("order_id = ?", p.OrderID).
		Where("provider = ?", p.Provider).
		Where("provider_payment_id = ?", p.ProviderPaymentID).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("check payment %s: %w", p.ProviderPaymentID, err)
	}
	if exists {
		return nil
	}
	return d.InsertPayment(ctx, idb, p)
}

// HasPayment reports whether the service opened providerPaymentID for the order.
func (d *DB) HasPayment(ctx context.Context, orderID, provider, providerPaymentID string) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.Payment)(nil)).
		Where("order_id = ?", orderID).
		Where("provider = ?", provider).
		Where("provider_payment_id = ?", providerPaymentID).
		Exists(ctx)
}

// CancelOpenPayments settles every still-pending payment of the order as
// cancelled.
func (d *DB) CancelOpenPayments(ctx context.Context, idb bun.IDB, orderID string, now time.Time) (int64, error) {
	res, err := idb.NewUpdate().
		Model((*models.Payment)(nil)).
		Set("status = ?", models.PaymentCancelled).
		Set("updated_at = ?", now).
		Where("order_id = ?", orderID).
		Where("status = ?", models.PaymentPending).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("cancel open payments of order %s: %w", orderID, err)
	}
	return res.RowsAffected()
}

// SettlePayment moves the matching pending payment to status and stores the
// provider payload. Settled payments are never changed; a payment the
// service never created a session for is recorded as new.
func (d *DB) SettlePayment(ctx context.Context, idb bun.IDB, order *models.Order, provider, providerPaymentID string, status models.PaymentStatus, raw []byte, now time.Time) error {
	res, err := idb.NewUpdate().
		Model((*models.Payment)(nil)).
		Set("status = ?", status).
		Set("raw_response = ?", string(raw)).
		Set("updated_at = ?", now).
		Where("order_id = ?", order.ID).
		Where("provider = ?", provider).
		Where("provider_payment_id = ?", providerPaymentID).
		Where("status = ?", models.PaymentPending).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("settle payment %s: %w", providerPaymentID, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	exists, err := idb.NewSelect().
		Model((*models.Payment)(nil)).
		Where("order_id = ?", order.ID).
		Where("provider = ?", provider).
		Where("provider_payment_id = ?", providerPaymentID).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("check payment %s: %w", providerPaymentID, err)
	}
	if exists {
		return nil
	}

	return d.InsertPayment(ctx, idb, &models.Payment{
		OrderID:           order.ID,
		Provider:          provider,
		ProviderPaymentID: providerPaymentID,
		Status:            status,
		Amount:            order.Total,
		Currency:          order.Currency,
		RawResponse:       string(raw),
		CreatedAt:         now,
		UpdatedAt:         now,
	})
}

// RecordPaymentPayload keeps the latest payload of a still-pending payment.
func (d *DB) RecordPaymentPayload(ctx context.Context, orderID, provider, providerPaymentID string, raw []byte, now time.Time) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Payment)(nil)).
		Set("raw_response = ?", string(raw)).
		Set("updated_at = ?", now).
		Where("order_id = ?", orderID).
		Where("provider = ?", provider).
		Where("provider_payment_id = ?", providerPaymentID).
		Where("status = ?", models.PaymentPending).
		Exec(ctx)
	return err
}

func (d *DB) GetPayments(ctx context.Context, orderID string) ([]*models.Payment, error) {
	var payments []*models.Payment
	err := d.Bun.NewSelect().
		Model(&payments).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Scan(ctx)
	return payments, err
}
