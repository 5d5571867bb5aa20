package tickets_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ms-checkout/internal/database/testdb"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/tickets/assets"
	ticketdb "ms-checkout/internal/tickets/db"
	qr "ms-checkout/internal/tickets/qr_generator"
	tickets "ms-checkout/internal/tickets/service"
	"ms-checkout/internal/tickets/template"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type fakePDF struct {
	fail atomic.Bool
}

func (f *fakePDF) Generate(view template.TicketView, qrCode []byte) ([]byte, error) {
	if f.fail.Load() {
		return nil, errors.New("font missing")
	}
	return []byte("%PDF-1.4 " + view.TicketID), nil
}

type fixture struct {
	db  *bun.DB
	svc *tickets.TicketService
	pdf *fakePDF
	qr  *qr.QRGenerator
}

func setup(t *testing.T) *fixture {
	db := testdb.New(t)
	testdb.SeedEvent(t, db, "ev1", "Recital")
	testdb.SeedSeat(t, db, "ev1", "A1", 45000)
	testdb.SeedCategory(t, db, "ev1", "ga", 10000, 100)

	store, err := assets.NewFileStore(t.TempDir(), "/assets")
	require.NoError(t, err)

	pdf := &fakePDF{}
	qrGen := qr.NewQRGenerator("test-secret")
	svc := tickets.NewTicketService(&ticketdb.DB{Bun: db}, qrGen, pdf, store, logger.NewWithWriter(io.Discard))
	return &fixture{db: db, svc: svc, pdf: pdf, qr: qrGen}
}

func seedOrder(t *testing.T, db bun.IDB, id string, status models.OrderStatus, items ...*models.OrderItem) *models.Order {
	t.Helper()
	now := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)
	o := &models.Order{
		ID:        id,
		UserID:    "user-1",
		UserEmail: "fan@example.com",
		Status:    status,
		Currency:  "ARS",
		CreatedAt: now,
		ExpiresAt: now.Add(10 * time.Minute),
		UpdatedAt: now,
	}
	for _, it := range items {
		it.OrderID = id
		o.Total += it.Subtotal
	}
	ctx := context.Background()
	_, err := db.NewInsert().Model(o).Exec(ctx)
	require.NoError(t, err)
	if len(items) > 0 {
		_, err = db.NewInsert().Model(&items).Exec(ctx)
		require.NoError(t, err)
	}
	o.Items = items
	return o
}

func gaItem(id string, qty int) *models.OrderItem {
	return &models.OrderItem{ID: id, EventID: "ev1", CategoryID: "ga", Label: "General", Quantity: qty, UnitAmount: 10000, Subtotal: int64(qty) * 10000}
}

func TestIssueForOrder_CreatesOnePerUnit(t *testing.T) {
	f := setup(t)
	seedOrder(t, f.db, "ord-1", models.OrderPaid,
		gaItem("it-ga", 2),
		&models.OrderItem{ID: "it-seat", EventID: "ev1", SeatID: "A1", Label: "A1", Quantity: 1, UnitAmount: 45000, Subtotal: 45000},
	)

	created, err := f.svc.IssueForOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Len(t, created, 3)

	qrIDs := map[string]bool{}
	for _, tk := range created {
		qrIDs[tk.QRID] = true
		assert.Equal(t, "ord-1", tk.OrderID)
		id, err := f.qr.TicketID(tk.QRID)
		require.NoError(t, err)
		assert.Equal(t, tk.ID, id)
	}
	assert.Len(t, qrIDs, 3)

	all, err := f.svc.GetTicketsByOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	for _, tk := range all {
		assert.NotEmpty(t, tk.QRCodeURL)
		assert.NotEmpty(t, tk.PDFURL)
	}
}

func TestIssueForOrder_Idempotent(t *testing.T) {
	f := setup(t)
	seedOrder(t, f.db, "ord-1", models.OrderPaid, gaItem("it-ga", 2))

	first, err := f.svc.IssueForOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := f.svc.IssueForOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Empty(t, second)

	all, err := f.svc.GetTicketsByOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestIssueForOrder_ConcurrentCallsNeverExceedQuantity(t *testing.T) {
	f := setup(t)
	seedOrder(t, f.db, "ord-1", models.OrderPaid, gaItem("it-ga", 3))

	var wg sync.WaitGroup
	var total atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := f.svc.IssueForOrder(context.Background(), "ord-1")
			assert.NoError(t, err)
			total.Add(int32(len(created)))
		}()
	}
	wg.Wait()

	all, err := f.svc.GetTicketsByOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, int32(3), total.Load())
}

func TestIssueForOrder_RequiresPaidOrder(t *testing.T) {
	f := setup(t)
	seedOrder(t, f.db, "ord-1", models.OrderPending, gaItem("it-ga", 1))

	_, err := f.svc.IssueForOrder(context.Background(), "ord-1")
	assert.ErrorIs(t, err, models.ErrInvalidStateTransition)

	_, err = f.svc.IssueForOrder(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrOrderNotFound)
}

func TestIssueForOrder_AssetFailureIsRetried(t *testing.T) {
	f := setup(t)
	seedOrder(t, f.db, "ord-1", models.OrderPaid, gaItem("it-ga", 2))
	f.pdf.fail.Store(true)

	created, err := f.svc.IssueForOrder(context.Background(), "ord-1")
	require.Len(t, created, 2)
	require.ErrorIs(t, err, models.ErrAssetGeneration)
	var assetErr *tickets.AssetError
	assert.ErrorAs(t, err, &assetErr)

	all, _ := f.svc.GetTicketsByOrder(context.Background(), "ord-1")
	for _, tk := range all {
		assert.NotEmpty(t, tk.QRCodeURL)
		assert.Empty(t, tk.PDFURL)
	}

	f.pdf.fail.Store(false)
	created, err = f.svc.IssueForOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Empty(t, created)

	all, _ = f.svc.GetTicketsByOrder(context.Background(), "ord-1")
	for _, tk := range all {
		assert.NotEmpty(t, tk.PDFURL)
	}
}

func TestBackfillMissing(t *testing.T) {
	f := setup(t)
	seedOrder(t, f.db, "ord-paid", models.OrderPaid, gaItem("it-1", 2))
	seedOrder(t, f.db, "ord-pending", models.OrderPending, gaItem("it-2", 1))

	n, err := f.svc.BackfillMissing(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.svc.BackfillMissing(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
