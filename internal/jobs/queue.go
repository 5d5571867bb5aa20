package jobs

import (
	"context"
	"errors"
	"fmt"

	"ms-checkout/internal/logger"

	"github.com/hibiken/asynq"
)

// Enqueuer is the part of asynq.Client the queue needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// IssuanceQueue schedules ticket issuance retries for paid orders.
type IssuanceQueue struct {
	client Enqueuer
	log    *logger.Logger
}

func NewIssuanceQueue(client Enqueuer, log *logger.Logger) *IssuanceQueue {
	return &IssuanceQueue{client: client, log: log}
}

func (q *IssuanceQueue) EnqueueIssuance(ctx context.Context, orderID string) error {
	task, err := NewIssueTicketsTask(orderID)
	if err != nil {
		return err
	}
	info, err := q.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		q.log.Debug("JOBS", fmt.Sprintf("Issuance retry for order %s already queued", orderID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue issuance for order %s: %w", orderID, err)
	}
	q.log.Info("JOBS", fmt.Sprintf("Queued issuance retry %s for order %s", info.ID, orderID))
	return nil
}
