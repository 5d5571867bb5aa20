package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"ms-checkout/internal/config"
	"ms-checkout/internal/database/testdb"
	"ms-checkout/internal/inventory"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/order"
	"ms-checkout/internal/tickets/assets"
	ticketdb "ms-checkout/internal/tickets/db"
	qr "ms-checkout/internal/tickets/qr_generator"
	tickets "ms-checkout/internal/tickets/service"
	"ms-checkout/internal/tickets/template"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

// fakeClient mimics asynq's task id deduplication.
type fakeClient struct {
	mu    sync.Mutex
	tasks map[string]*asynq.Task
	err   error
}

func (c *fakeClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	var payload IssueTicketsPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return nil, err
	}
	id := "issue:" + payload.OrderID
	if c.tasks == nil {
		c.tasks = map[string]*asynq.Task{}
	}
	if _, ok := c.tasks[id]; ok {
		return nil, asynq.ErrTaskIDConflict
	}
	c.tasks[id] = task
	return &asynq.TaskInfo{ID: id, Type: task.Type()}, nil
}

type flakyPDF struct {
	mu   sync.Mutex
	fail bool
}

func (p *flakyPDF) Generate(view template.TicketView, qrCode []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return nil, errors.New("renderer offline")
	}
	return []byte("%PDF " + view.TicketID), nil
}

func (p *flakyPDF) setFail(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = v
}

type fixture struct {
	db     *bun.DB
	orders *order.OrderService
	worker *Worker
	client *fakeClient
	pdf    *flakyPDF
	now    time.Time
}

func setup(t *testing.T) *fixture {
	db := testdb.New(t)
	testdb.SeedEvent(t, db, "ev1", "Recital")
	testdb.SeedCategory(t, db, "ev1", "ga", 10000, 100)

	log := logger.NewWithWriter(io.Discard)
	f := &fixture{db: db, client: &fakeClient{}, pdf: &flakyPDF{}, now: time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	store, err := assets.NewFileStore(t.TempDir(), "/assets")
	require.NoError(t, err)
	ticketSvc := tickets.NewTicketService(&ticketdb.DB{Bun: db}, qr.NewQRGenerator("qr-secret"), f.pdf, store, log)

	f.orders = order.NewOrderService(db, inventory.NewLedger(log, inventory.WithClock(clock)), log,
		order.WithClock(clock),
		order.WithTicketIssuer(ticketSvc),
		order.WithIssuanceQueue(NewIssuanceQueue(f.client, log)),
	)
	f.worker = NewWorker(f.orders, ticketSvc, log)
	return f
}

func (f *fixture) paidOrder(t *testing.T, qty int) *models.Order {
	t.Helper()
	o, err := f.orders.CreateOrder(context.Background(), "user-1", "fan@example.com", []models.ItemRequest{{CategoryID: "ga", Quantity: qty}}, 0)
	require.NoError(t, err)
	_, err = f.orders.TransitionToPaid(context.Background(), o.ID, nil)
	require.NoError(t, err)
	return o
}

func (f *fixture) ticketsWithoutAssets(t *testing.T, orderID string) int {
	t.Helper()
	n, err := f.db.NewSelect().Model((*models.Ticket)(nil)).
		Where("order_id = ?", orderID).
		Where("pdf_url IS NULL OR qr_code_url IS NULL").
		Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestIssuanceQueue_DeduplicatesPerOrder(t *testing.T) {
	client := &fakeClient{}
	q := NewIssuanceQueue(client, logger.NewWithWriter(io.Discard))

	require.NoError(t, q.EnqueueIssuance(context.Background(), "ord-1"))
	require.NoError(t, q.EnqueueIssuance(context.Background(), "ord-1"))
	require.NoError(t, q.EnqueueIssuance(context.Background(), "ord-2"))
	assert.Len(t, client.tasks, 2)

	client.err = errors.New("redis down")
	assert.Error(t, q.EnqueueIssuance(context.Background(), "ord-3"))
}

func TestIssueTickets_RetryCompletesAssets(t *testing.T) {
	f := setup(t)
	f.pdf.setFail(true)

	o := f.paidOrder(t, 2)
	require.Contains(t, f.client.tasks, "issue:"+o.ID, "failed issuance is queued for retry")
	assert.Equal(t, 2, f.ticketsWithoutAssets(t, o.ID))

	task := f.client.tasks["issue:"+o.ID]
	assert.Error(t, f.worker.HandleIssueTickets(context.Background(), task), "still failing, asynq retries")

	f.pdf.setFail(false)
	require.NoError(t, f.worker.HandleIssueTickets(context.Background(), task))
	assert.Zero(t, f.ticketsWithoutAssets(t, o.ID))

	n, err := f.db.NewSelect().Model((*models.Ticket)(nil)).Where("order_id = ?", o.ID).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestIssueTickets_UnpaidOrderIsNotRetried(t *testing.T) {
	f := setup(t)
	o, err := f.orders.CreateOrder(context.Background(), "user-1", "", []models.ItemRequest{{CategoryID: "ga", Quantity: 1}}, 0)
	require.NoError(t, err)

	task, err := NewIssueTicketsTask(o.ID)
	require.NoError(t, err)
	err = f.worker.HandleIssueTickets(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	err = f.worker.HandleIssueTickets(context.Background(), asynq.NewTask(TypeIssueTickets, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleSweepExpired(t *testing.T) {
	f := setup(t)
	o, err := f.orders.CreateOrder(context.Background(), "user-1", "", []models.ItemRequest{{CategoryID: "ga", Quantity: 3}}, 0)
	require.NoError(t, err)

	f.now = f.now.Add(11 * time.Minute)
	require.NoError(t, f.worker.HandleSweepExpired(context.Background(), periodicTask(TypeSweepExpired, time.Minute)))

	assert.Equal(t, models.OrderExpired, testdb.Order(t, f.db, o.ID).Status)
	assert.Equal(t, 0, testdb.Category(t, f.db, "ga").Held)
}

func TestHandleBackfillTickets(t *testing.T) {
	f := setup(t)
	o, err := f.orders.CreateOrder(context.Background(), "user-1", "", []models.ItemRequest{{CategoryID: "ga", Quantity: 2}}, 0)
	require.NoError(t, err)

	// Paid without going through the service, as after a crash before issuance.
	_, err = f.db.NewUpdate().Model((*models.Order)(nil)).Set("status = ?", models.OrderPaid).Where("id = ?", o.ID).Exec(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.worker.HandleBackfillTickets(context.Background(), periodicTask(TypeBackfillTickets, time.Minute)))

	n, err := f.db.NewSelect().Model((*models.Ticket)(nil)).Where("order_id = ?", o.ID).Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSchedule_SkipsDisabledEntries(t *testing.T) {
	entries := schedule(config.JobsConfig{SweepCron: "*/1 * * * *", PollCron: "*/2 * * * *"})
	require.Len(t, entries, 3)
	assert.Equal(t, TypeSweepExpired, entries[0].taskType)
	assert.Empty(t, entries[2].spec)
}
