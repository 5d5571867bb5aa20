package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-checkout/internal/config"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes order lifecycle events, keyed by order id so one
// order's events stay ordered within a partition.
type Producer struct {
	Writer MessageWriter
	Topics config.TopicConfig
	Logger *logger.Logger
}

func NewProducer(brokers []string, topics config.TopicConfig, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &Producer{Writer: writer, Topics: topics, Logger: log}
}

// TicketsIssuedEvent is the payload of the tickets-issued topic.
type TicketsIssuedEvent struct {
	OrderID   string    `json:"order_id"`
	TicketIDs []string  `json:"ticket_ids"`
	IssuedAt  time.Time `json:"issued_at"`
}

func (p *Producer) topicFor(status models.OrderStatus) string {
	switch status {
	case models.OrderPending:
		return p.Topics.OrderCreated
	case models.OrderPaid:
		return p.Topics.OrderPaid
	case models.OrderCancelled:
		return p.Topics.OrderCancelled
	case models.OrderExpired:
		return p.Topics.OrderExpired
	}
	return ""
}

// OrderStatusChanged publishes the event. Publishing is best effort: the
// order is already committed, so failures are only logged.
func (p *Producer) OrderStatusChanged(ctx context.Context, ev models.OrderStatusEvent) {
	topic := p.topicFor(ev.Status)
	if topic == "" {
		return
	}
	if err := p.publish(ctx, topic, ev.OrderID, ev); err != nil {
		p.Logger.Error("KAFKA", fmt.Sprintf("Failed to publish %s for order %s: %v", topic, ev.OrderID, err))
	}
}

func (p *Producer) TicketsIssued(ctx context.Context, orderID string, tickets []*models.Ticket) {
	ev := TicketsIssuedEvent{OrderID: orderID, IssuedAt: time.Now().UTC()}
	for _, t := range tickets {
		ev.TicketIDs = append(ev.TicketIDs, t.ID)
	}
	if err := p.publish(ctx, p.Topics.TicketsIssued, orderID, ev); err != nil {
		p.Logger.Error("KAFKA", fmt.Sprintf("Failed to publish %s for order %s: %v", p.Topics.TicketsIssued, orderID, err))
	}
}

func (p *Producer) publish(ctx context.Context, topic, key string, v any) error {
	msgBytes, err := json.Marshal(v)
	if err != nil {
		return err
	}
	// The request context may end as soon as the response is written.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err = p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: msgBytes,
	})
	if err == nil {
		p.Logger.LogKafka("PUBLISH", topic, "key="+key)
	}
	return err
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
