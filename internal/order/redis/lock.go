package redis

import (
	"context"
	"fmt"
	"time"

	"ms-checkout/internal/logger"

	"github.com/go-redis/redis/v8"
)

const seatKeyPrefix = "seat_hold:"

// unlockScript deletes the key only while it still belongs to the order.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SeatGate is a fast-fail lock in front of the database ledger. Losing a
// gate race rejects the order before any transaction is opened; the ledger
// stays the source of truth.
type SeatGate struct {
	Client *redis.Client
	TTL    time.Duration
	Logger *logger.Logger
}

func NewSeatGate(client *redis.Client, ttl time.Duration, log *logger.Logger) *SeatGate {
	return &SeatGate{Client: client, TTL: ttl, Logger: log}
}

func seatKey(seatID string) string {
	return seatKeyPrefix + seatID
}

// LockSeats locks all seats for the order or none. It stops at the first
// seat that is already taken and returns it.
func (g *SeatGate) LockSeats(ctx context.Context, seatIDs []string, orderID string) ([]string, error) {
	locked := make([]string, 0, len(seatIDs))

	for _, seatID := range seatIDs {
		ok, err := g.Client.SetNX(ctx, seatKey(seatID), orderID, g.TTL).Result()
		if err != nil {
			g.rollback(ctx, locked, orderID)
			return nil, fmt.Errorf("lock seat %s: %w", seatID, err)
		}
		if !ok {
			g.rollback(ctx, locked, orderID)
			g.Logger.Debug("REDIS", fmt.Sprintf("Seat gate rejected order %s, seat %s is taken", orderID, seatID))
			return []string{seatID}, nil
		}
		locked = append(locked, seatID)
	}
	return nil, nil
}

// UnlockSeats removes the order's locks. Locks held by other orders are left alone.
func (g *SeatGate) UnlockSeats(ctx context.Context, seatIDs []string, orderID string) error {
	var firstErr error
	for _, seatID := range seatIDs {
		if err := unlockScript.Run(ctx, g.Client, []string{seatKey(seatID)}, orderID).Err(); err != nil && err != redis.Nil && firstErr == nil {
			firstErr = fmt.Errorf("unlock seat %s: %w", seatID, err)
		}
	}
	return firstErr
}

func (g *SeatGate) rollback(ctx context.Context, seatIDs []string, orderID string) {
	if err := g.UnlockSeats(ctx, seatIDs, orderID); err != nil {
		g.Logger.Warn("REDIS", fmt.Sprintf("Failed to roll back seat locks for order %s: %v", orderID, err))
	}
}
