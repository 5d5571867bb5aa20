// Package inventory owns seat and general-admission availability.
//
// Every mutation is a conditional UPDATE whose WHERE clause encodes the
// precondition, so two transactions racing for the same unit cannot both
// succeed. Callers pass their transaction; the ledger never opens one.
package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Ledger struct {
	log *logger.Logger
	now func() time.Time
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func NewLedger(log *logger.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Quote is the price and current availability of one inventory unit.
type Quote struct {
	Ref        models.InventoryRef
	EventID    string
	Label      string
	UnitAmount int64
	Available  int
}

type HoldRequest struct {
	Ref         models.InventoryRef
	OrderID     string
	OrderItemID string
	UserID      string
	Quantity    int
}

// ValidateItem rejects items that name both or neither unit kind, or a bad quantity.
func ValidateItem(ref models.InventoryRef, quantity int) error {
	switch {
	case ref.SeatID != "" && ref.CategoryID != "":
		return fmt.Errorf("%w: item names both seat %s and category %s", models.ErrInvalidItem, ref.SeatID, ref.CategoryID)
	case ref.SeatID == "" && ref.CategoryID == "":
		return fmt.Errorf("%w: item names neither a seat nor a category", models.ErrInvalidItem)
	case quantity <= 0:
		return fmt.Errorf("%w: quantity must be positive, got %d", models.ErrInvalidItem, quantity)
	case ref.SeatID != "" && quantity != 1:
		return fmt.Errorf("%w: seat %s must have quantity 1, got %d", models.ErrInvalidItem, ref.SeatID, quantity)
	}
	return nil
}

func (l *Ledger) Quote(ctx context.Context, db bun.IDB, ref models.InventoryRef) (*Quote, error) {
	if ref.IsSeat() {
		seat := new(models.Seat)
		err := db.NewSelect().Model(seat).Where("id = ?", ref.SeatID).Limit(1).Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: unknown seat %s", models.ErrInvalidItem, ref.SeatID)
		}
		if err != nil {
			return nil, fmt.Errorf("quote seat %s: %w", ref.SeatID, err)
		}
		available := 0
		if seat.Status == models.SeatAvailable {
			available = 1
		}
		return &Quote{Ref: ref, EventID: seat.EventID, Label: seat.Label, UnitAmount: seat.Price, Available: available}, nil
	}

	cat := new(models.TicketCategory)
	err := db.NewSelect().Model(cat).Where("id = ?", ref.CategoryID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: unknown category %s", models.ErrInvalidItem, ref.CategoryID)
	}
	if err != nil {
		return nil, fmt.Errorf("quote category %s: %w", ref.CategoryID, err)
	}
	return &Quote{Ref: ref, EventID: cat.EventID, Label: cat.Name, UnitAmount: cat.Price, Available: cat.Available()}, nil
}

// Hold takes quantity units out of availability for one order line and writes
// the hold row. It fails with an InsufficientInventoryError when the unit is
// not available, leaving nothing changed.
func (l *Ledger) Hold(ctx context.Context, tx bun.IDB, req HoldRequest) (*models.InventoryHold, error) {
	if err := ValidateItem(req.Ref, req.Quantity); err != nil {
		return nil, err
	}
	now := l.now()

	var res sql.Result
	var err error
	if req.Ref.IsSeat() {
		res, err = tx.NewUpdate().
			Model((*models.Seat)(nil)).
			Set("status = ?", models.SeatHeld).
			Set("held_by_user = ?", req.UserID).
			Set("held_by_order = ?", req.OrderID).
			Set("updated_at = ?", now).
			Where("id = ?", req.Ref.SeatID).
			Where("status = ?", models.SeatAvailable).
			Exec(ctx)
	} else {
		res, err = tx.NewUpdate().
			Model((*models.TicketCategory)(nil)).
			Set("held = held + ?", req.Quantity).
			Where("id = ?", req.Ref.CategoryID).
			Where("capacity - held - sold >= ?", req.Quantity).
			Exec(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("hold %s: %w", req.Ref, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, &models.InsufficientInventoryError{Unavailable: []models.InventoryRef{req.Ref}}
	}

	hold := &models.InventoryHold{
		ID:          uuid.NewString(),
		OrderID:     req.OrderID,
		OrderItemID: req.OrderItemID,
		SeatID:      req.Ref.SeatID,
		CategoryID:  req.Ref.CategoryID,
		UserID:      req.UserID,
		Quantity:    req.Quantity,
		Status:      models.HoldActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := tx.NewInsert().Model(hold).Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert hold for %s: %w", req.Ref, err)
	}

	l.log.LogInventory("HOLD", req.Ref.String(), fmt.Sprintf("order=%s qty=%d", req.OrderID, req.Quantity))
	return hold, nil
}

// Release returns held units to availability. Releasing a hold that is no
// longer active is a no-op.
func (l *Ledger) Release(ctx context.Context, tx bun.IDB, hold *models.InventoryHold) error {
	claimed, err := l.claimHold(ctx, tx, hold, models.HoldReleased)
	if err != nil || !claimed {
		return err
	}

	var res sql.Result
	if hold.SeatID != "" {
		res, err = tx.NewUpdate().
			Model((*models.Seat)(nil)).
			Set("status = ?", models.SeatAvailable).
			Set("held_by_user = NULL").
			Set("held_by_order = NULL").
			Set("updated_at = ?", l.now()).
			Where("id = ?", hold.SeatID).
			Where("status = ?", models.SeatHeld).
			Where("held_by_order = ?", hold.OrderID).
			Exec(ctx)
	} else {
		res, err = tx.NewUpdate().
			Model((*models.TicketCategory)(nil)).
			Set("held = held - ?", hold.Quantity).
			Where("id = ?", hold.CategoryID).
			Where("held >= ?", hold.Quantity).
			Exec(ctx)
	}
	if err != nil {
		return fmt.Errorf("release %s: %w", hold.Ref(), err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return l.invariant("Release", "hold %s for order %s is active but %s is not held by it", hold.ID, hold.OrderID, hold.Ref())
	}

	l.log.LogInventory("RELEASE", hold.Ref().String(), fmt.Sprintf("order=%s qty=%d", hold.OrderID, hold.Quantity))
	return nil
}

// CommitSale moves held units to sold. The hold must still be active and
// owned by its order; anything else is an invariant violation.
func (l *Ledger) CommitSale(ctx context.Context, tx bun.IDB, hold *models.InventoryHold) error {
	claimed, err := l.claimHold(ctx, tx, hold, models.HoldSold)
	if err != nil {
		return err
	}
	if !claimed {
		return l.invariant("CommitSale", "hold %s for order %s is not active", hold.ID, hold.OrderID)
	}

	var res sql.Result
	if hold.SeatID != "" {
		res, err = tx.NewUpdate().
			Model((*models.Seat)(nil)).
			Set("status = ?", models.SeatSold).
			Set("updated_at = ?", l.now()).
			Where("id = ?", hold.SeatID).
			Where("status = ?", models.SeatHeld).
			Where("held_by_order = ?", hold.OrderID).
			Exec(ctx)
	} else {
		res, err = tx.NewUpdate().
			Model((*models.TicketCategory)(nil)).
			Set("held = held - ?", hold.Quantity).
			Set("sold = sold + ?", hold.Quantity).
			Where("id = ?", hold.CategoryID).
			Where("held >= ?", hold.Quantity).
			Exec(ctx)
	}
	if err != nil {
		return fmt.Errorf("commit sale %s: %w", hold.Ref(), err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return l.invariant("CommitSale", "%s is not held by order %s", hold.Ref(), hold.OrderID)
	}

	l.log.LogInventory("SOLD", hold.Ref().String(), fmt.Sprintf("order=%s qty=%d", hold.OrderID, hold.Quantity))
	return nil
}

// ReleaseOrder releases every active hold of the order and returns how many were released.
func (l *Ledger) ReleaseOrder(ctx context.Context, tx bun.IDB, orderID string) (int, error) {
	holds, err := l.activeHolds(ctx, tx, orderID)
	if err != nil {
		return 0, err
	}
	for _, h := range holds {
		if err := l.Release(ctx, tx, h); err != nil {
			return 0, err
		}
	}
	return len(holds), nil
}

// CommitOrder sells every active hold of the order.
func (l *Ledger) CommitOrder(ctx context.Context, tx bun.IDB, orderID string) (int, error) {
	holds, err := l.activeHolds(ctx, tx, orderID)
	if err != nil {
		return 0, err
	}
	if len(holds) == 0 {
		return 0, l.invariant("CommitOrder", "order %s has no active holds", orderID)
	}
	for _, h := range holds {
		if err := l.CommitSale(ctx, tx, h); err != nil {
			return 0, err
		}
	}
	return len(holds), nil
}

func (l *Ledger) activeHolds(ctx context.Context, tx bun.IDB, orderID string) ([]*models.InventoryHold, error) {
	var holds []*models.InventoryHold
	err := tx.NewSelect().
		Model(&holds).
		Where("order_id = ?", orderID).
		Where("status = ?", models.HoldActive).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("load holds for order %s: %w", orderID, err)
	}
	return holds, nil
}

// claimHold flips an active hold to status. false means it was not active.
func (l *Ledger) claimHold(ctx context.Context, tx bun.IDB, hold *models.InventoryHold, status models.HoldStatus) (bool, error) {
	now := l.now()
	res, err := tx.NewUpdate().
		Model((*models.InventoryHold)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", now).
		Where("id = ?", hold.ID).
		Where("status = ?", models.HoldActive).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("update hold %s: %w", hold.ID, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return false, nil
	}
	hold.Status = status
	hold.UpdatedAt = now
	return true, nil
}

func (l *Ledger) invariant(where, format string, args ...any) error {
	err := models.Invariantf(format, args...)
	l.log.LogInvariant("ledger."+where, err)
	return err
}
