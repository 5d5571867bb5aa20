package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/order"
	tickets "ms-checkout/internal/tickets/service"

	"github.com/hibiken/asynq"
)

const backfillBatch = 50

// Worker holds the task handlers.
type Worker struct {
	Orders     *order.OrderService
	Reconciler *order.Reconciler
	Tickets    *tickets.TicketService
	Logger     *logger.Logger
}

func NewWorker(orders *order.OrderService, ticketSvc *tickets.TicketService, log *logger.Logger) *Worker {
	return &Worker{
		Orders:     orders,
		Reconciler: order.NewReconciler(orders),
		Tickets:    ticketSvc,
		Logger:     log,
	}
}

func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeSweepExpired, w.HandleSweepExpired)
	mux.HandleFunc(TypePollPayments, w.HandlePollPayments)
	mux.HandleFunc(TypeIssueTickets, w.HandleIssueTickets)
	mux.HandleFunc(TypeBackfillTickets, w.HandleBackfillTickets)
}

func (w *Worker) HandleSweepExpired(ctx context.Context, t *asynq.Task) error {
	n, err := w.Orders.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep after %d reclaimed: %w", n, err)
	}
	w.Logger.Debug("JOBS", fmt.Sprintf("Sweep reclaimed %d orders", n))
	return nil
}

func (w *Worker) HandlePollPayments(ctx context.Context, t *asynq.Task) error {
	n, err := w.Reconciler.PollPending(ctx)
	if err != nil {
		return fmt.Errorf("poll after %d checked: %w", n, err)
	}
	w.Logger.Debug("JOBS", fmt.Sprintf("Polled %d pending payments", n))
	return nil
}

func (w *Worker) HandleIssueTickets(ctx context.Context, t *asynq.Task) error {
	var payload IssueTicketsPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode issue payload: %v: %w", err, asynq.SkipRetry)
	}

	created, err := w.Tickets.IssueForOrder(ctx, payload.OrderID)
	switch {
	case errors.Is(err, models.ErrInvalidStateTransition), errors.Is(err, models.ErrOrderNotFound):
		w.Logger.Warn("JOBS", fmt.Sprintf("Dropping issuance for order %s: %v", payload.OrderID, err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	case err != nil:
		return err
	}
	w.Logger.Info("JOBS", fmt.Sprintf("Issuance retry created %d tickets for order %s", len(created), payload.OrderID))
	return nil
}

func (w *Worker) HandleBackfillTickets(ctx context.Context, t *asynq.Task) error {
	n, err := w.Tickets.BackfillMissing(ctx, backfillBatch)
	if err != nil {
		return fmt.Errorf("backfill after %d orders: %w", n, err)
	}
	if n > 0 {
		w.Logger.Info("JOBS", fmt.Sprintf("Backfilled tickets for %d orders", n))
	}
	return nil
}
