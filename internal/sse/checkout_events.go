package sse

import (
	"context"
	"sync"

	"ms-checkout/internal/models"
)

const clientBuffer = 10

// OrderEventEmitter fans order status changes out to SSE clients watching
// that order.
type OrderEventEmitter struct {
	mu      sync.RWMutex
	clients map[string][]chan models.OrderStatusEvent
}

func NewOrderEventEmitter() *OrderEventEmitter {
	return &OrderEventEmitter{
		clients: make(map[string][]chan models.OrderStatusEvent),
	}
}

// Subscribe registers a client for orderID. The channel is closed once ctx is done.
func (e *OrderEventEmitter) Subscribe(ctx context.Context, orderID string) <-chan models.OrderStatusEvent {
	clientChan := make(chan models.OrderStatusEvent, clientBuffer)

	e.mu.Lock()
	e.clients[orderID] = append(e.clients[orderID], clientChan)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(orderID, clientChan)
	}()

	return clientChan
}

// OrderStatusChanged broadcasts ev. Sends happen under the read lock so a
// concurrent remove cannot close a channel mid-send; slow clients miss events.
func (e *OrderEventEmitter) OrderStatusChanged(ctx context.Context, ev models.OrderStatusEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, clientChan := range e.clients[ev.OrderID] {
		select {
		case clientChan <- ev:
		default:
		}
	}
}

func (e *OrderEventEmitter) remove(orderID string, clientChan chan models.OrderStatusEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	clients := e.clients[orderID]
	for i, ch := range clients {
		if ch == clientChan {
			e.clients[orderID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}
	if len(e.clients[orderID]) == 0 {
		delete(e.clients, orderID)
	}
}

// ClientCount returns the number of clients watching orderID.
func (e *OrderEventEmitter) ClientCount(orderID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.clients[orderID])
}
