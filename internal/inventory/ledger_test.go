package inventory_test

import (
	"context"
	"io"
	"testing"
	"time"

	"ms-checkout/internal/database/testdb"
	"ms-checkout/internal/inventory"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func setupLedger(t *testing.T) (*inventory.Ledger, *bun.DB) {
	db := testdb.New(t)
	testdb.SeedEvent(t, db, "ev1", "Recital")
	testdb.SeedSeat(t, db, "ev1", "A1", 5000)
	testdb.SeedCategory(t, db, "ev1", "ga", 10000, 3)

	now := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	ledger := inventory.NewLedger(logger.NewWithWriter(io.Discard), inventory.WithClock(func() time.Time { return now }))
	return ledger, db
}

func seatHold(order string) inventory.HoldRequest {
	return inventory.HoldRequest{
		Ref:         models.InventoryRef{SeatID: "A1"},
		OrderID:     order,
		OrderItemID: order + "-item",
		UserID:      "user-" + order,
		Quantity:    1,
	}
}

func TestValidateItem(t *testing.T) {
	assert.ErrorIs(t, inventory.ValidateItem(models.InventoryRef{SeatID: "A1", CategoryID: "ga"}, 1), models.ErrInvalidItem)
	assert.ErrorIs(t, inventory.ValidateItem(models.InventoryRef{}, 1), models.ErrInvalidItem)
	assert.ErrorIs(t, inventory.ValidateItem(models.InventoryRef{SeatID: "A1"}, 2), models.ErrInvalidItem)
	assert.ErrorIs(t, inventory.ValidateItem(models.InventoryRef{CategoryID: "ga"}, 0), models.ErrInvalidItem)
	assert.NoError(t, inventory.ValidateItem(models.InventoryRef{CategoryID: "ga"}, 3))
}

func TestQuote(t *testing.T) {
	ledger, db := setupLedger(t)
	ctx := context.Background()

	q, err := ledger.Quote(ctx, db, models.InventoryRef{CategoryID: "ga"})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), q.UnitAmount)
	assert.Equal(t, 3, q.Available)
	assert.Equal(t, "ev1", q.EventID)

	_, err = ledger.Quote(ctx, db, models.InventoryRef{SeatID: "nope"})
	assert.ErrorIs(t, err, models.ErrInvalidItem)
}

func TestHoldSeat_SecondOrderRejected(t *testing.T) {
	ledger, db := setupLedger(t)
	ctx := context.Background()

	hold, err := ledger.Hold(ctx, db, seatHold("o1"))
	require.NoError(t, err)
	assert.Equal(t, models.HoldActive, hold.Status)

	seat := testdb.Seat(t, db, "A1")
	assert.Equal(t, models.SeatHeld, seat.Status)
	assert.Equal(t, "o1", seat.HeldByOrder)

	_, err = ledger.Hold(ctx, db, seatHold("o2"))
	var insufficient *models.InsufficientInventoryError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, []models.InventoryRef{{SeatID: "A1"}}, insufficient.Unavailable)
	assert.Equal(t, "o1", testdb.Seat(t, db, "A1").HeldByOrder)
}

func TestHoldCategory_CapacityGuard(t *testing.T) {
	ledger, db := setupLedger(t)
	ctx := context.Background()

	req := inventory.HoldRequest{Ref: models.InventoryRef{CategoryID: "ga"}, OrderID: "o1", OrderItemID: "i1", UserID: "u1", Quantity: 2}
	_, err := ledger.Hold(ctx, db, req)
	require.NoError(t, err)

	req.OrderID, req.OrderItemID, req.Quantity = "o2", "i2", 2
	_, err = ledger.Hold(ctx, db, req)
	assert.ErrorIs(t, err, models.ErrInsufficientInventory)

	req.Quantity = 1
	_, err = ledger.Hold(ctx, db, req)
	require.NoError(t, err)

	cat := testdb.Category(t, db, "ga")
	assert.Equal(t, 3, cat.Held)
	assert.Equal(t, 0, cat.Available())
}

func TestRelease_Idempotent(t *testing.T) {
	ledger, db := setupLedger(t)
	ctx := context.Background()

	req := inventory.HoldRequest{Ref: models.InventoryRef{CategoryID: "ga"}, OrderID: "o1", OrderItemID: "i1", UserID: "u1", Quantity: 2}
	hold, err := ledger.Hold(ctx, db, req)
	require.NoError(t, err)

	require.NoError(t, ledger.Release(ctx, db, hold))
	require.NoError(t, ledger.Release(ctx, db, hold))

	cat := testdb.Category(t, db, "ga")
	assert.Equal(t, 0, cat.Held)
	assert.Equal(t, 3, cat.Available())
}

func TestReleaseOrder_SeatBecomesAvailable(t *testing.T) {
	ledger, db := setupLedger(t)
	ctx := context.Background()

	_, err := ledger.Hold(ctx, db, seatHold("o1"))
	require.NoError(t, err)

	n, err := ledger.ReleaseOrder(ctx, db, "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	seat := testdb.Seat(t, db, "A1")
	assert.Equal(t, models.SeatAvailable, seat.Status)
	assert.Empty(t, seat.HeldByOrder)

	n, err = ledger.ReleaseOrder(ctx, db, "o1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = ledger.Hold(ctx, db, seatHold("o2"))
	assert.NoError(t, err)
}

func TestCommitOrder_MovesHeldToSold(t *testing.T) {
	ledger, db := setupLedger(t)
	ctx := context.Background()

	_, err := ledger.Hold(ctx, db, seatHold("o1"))
	require.NoError(t, err)
	_, err = ledger.Hold(ctx, db, inventory.HoldRequest{Ref: models.InventoryRef{CategoryID: "ga"}, OrderID: "o1", OrderItemID: "i2", UserID: "u1", Quantity: 2})
	require.NoError(t, err)

	n, err := ledger.CommitOrder(ctx, db, "o1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, models.SeatSold, testdb.Seat(t, db, "A1").Status)
	cat := testdb.Category(t, db, "ga")
	assert.Equal(t, 0, cat.Held)
	assert.Equal(t, 2, cat.Sold)
}

func TestCommitSale_ReleasedHoldIsInvariantViolation(t *testing.T) {
	ledger, db := setupLedger(t)
	ctx := context.Background()

	hold, err := ledger.Hold(ctx, db, seatHold("o1"))
	require.NoError(t, err)
	require.NoError(t, ledger.Release(ctx, db, hold))

	err = ledger.CommitSale(ctx, db, hold)
	assert.ErrorIs(t, err, models.ErrInvariantViolation)

	_, err = ledger.CommitOrder(ctx, db, "o1")
	assert.ErrorIs(t, err, models.ErrInvariantViolation)
	assert.Equal(t, models.SeatAvailable, testdb.Seat(t, db, "A1").Status)
}

func TestCommitSale_SeatTakenOverIsInvariantViolation(t *testing.T) {
	ledger, db := setupLedger(t)
	ctx := context.Background()

	hold, err := ledger.Hold(ctx, db, seatHold("o1"))
	require.NoError(t, err)

	// Simulate corruption: the seat row no longer points at the order.
	_, err = db.NewUpdate().Model((*models.Seat)(nil)).Set("held_by_order = ?", "other").Where("id = ?", "A1").Exec(ctx)
	require.NoError(t, err)

	err = db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return ledger.CommitSale(ctx, tx, hold)
	})
	assert.ErrorIs(t, err, models.ErrInvariantViolation)
}
