// Package jobs runs the periodic and retryable background work on asynq:
// the expiry sweep, payment polling and ticket issuance retries.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeSweepExpired    = "orders:sweep_expired"
	TypePollPayments    = "payments:poll"
	TypeIssueTickets    = "tickets:issue"
	TypeBackfillTickets = "tickets:backfill"
)

const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

const issueMaxRetry = 10

type IssueTicketsPayload struct {
	OrderID string `json:"order_id"`
}

// NewIssueTicketsTask builds the retry task for one order. The task id makes
// repeated enqueues for the same order collapse into one pending task.
func NewIssueTicketsTask(orderID string) (*asynq.Task, error) {
	payload, err := json.Marshal(IssueTicketsPayload{OrderID: orderID})
	if err != nil {
		return nil, fmt.Errorf("marshal issue payload: %w", err)
	}
	return asynq.NewTask(TypeIssueTickets, payload,
		asynq.TaskID("issue:"+orderID),
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(issueMaxRetry),
		asynq.Timeout(2*time.Minute),
	), nil
}

// periodicTask is a payload-less task that must not pile up when a run
// takes longer than its interval.
func periodicTask(typeName string, every time.Duration) *asynq.Task {
	return asynq.NewTask(typeName, nil,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(0),
		asynq.Unique(every),
		asynq.Timeout(every),
	)
}
