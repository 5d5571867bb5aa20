package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"ms-checkout/internal/config"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func testTopics() config.TopicConfig {
	return config.TopicConfig{
		OrderCreated:   "checkout.order.created",
		OrderPaid:      "checkout.order.paid",
		OrderCancelled: "checkout.order.cancelled",
		OrderExpired:   "checkout.order.expired",
		TicketsIssued:  "checkout.tickets.issued",
	}
}

func TestProducer_RoutesByStatus(t *testing.T) {
	w := &recordingWriter{}
	p := &Producer{Writer: w, Topics: testTopics(), Logger: logger.NewWithWriter(io.Discard)}

	for _, st := range []models.OrderStatus{models.OrderPending, models.OrderPaid, models.OrderCancelled, models.OrderExpired} {
		p.OrderStatusChanged(context.Background(), models.OrderStatusEvent{OrderID: "ord-1", Status: st, OccurredAt: time.Now()})
	}

	require.Len(t, w.msgs, 4)
	assert.Equal(t, "checkout.order.created", w.msgs[0].Topic)
	assert.Equal(t, "checkout.order.paid", w.msgs[1].Topic)
	assert.Equal(t, "checkout.order.cancelled", w.msgs[2].Topic)
	assert.Equal(t, "checkout.order.expired", w.msgs[3].Topic)
	for _, m := range w.msgs {
		assert.Equal(t, "ord-1", string(m.Key))
	}

	var ev models.OrderStatusEvent
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &ev))
	assert.Equal(t, models.OrderPaid, ev.Status)
}

func TestProducer_TicketsIssued(t *testing.T) {
	w := &recordingWriter{}
	p := &Producer{Writer: w, Topics: testTopics(), Logger: logger.NewWithWriter(io.Discard)}

	p.TicketsIssued(context.Background(), "ord-2", []*models.Ticket{{ID: "t1"}, {ID: "t2"}})

	require.Len(t, w.msgs, 1)
	var ev TicketsIssuedEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, []string{"t1", "t2"}, ev.TicketIDs)
	assert.Equal(t, "checkout.tickets.issued", w.msgs[0].Topic)
}

func TestProducer_WriteFailureIsSwallowed(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker down")}
	p := &Producer{Writer: w, Topics: testTopics(), Logger: logger.NewWithWriter(io.Discard)}

	assert.NotPanics(t, func() {
		p.OrderStatusChanged(context.Background(), models.OrderStatusEvent{OrderID: "ord-3", Status: models.OrderPaid})
	})
	assert.Empty(t, w.msgs)
}
