package redis

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"ms-checkout/internal/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a Redis client backed by miniredis
func setupTestRedis(t *testing.T) (*SeatGate, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, client.Ping(context.Background()).Err())

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewSeatGate(client, 10*time.Minute, logger.NewWithWriter(io.Discard)), mr
}

func TestLockSeats_AllOrNothing(t *testing.T) {
	gate, mr := setupTestRedis(t)
	ctx := context.Background()

	taken, err := gate.LockSeats(ctx, []string{"A2"}, "order-1")
	require.NoError(t, err)
	require.Empty(t, taken)

	taken, err = gate.LockSeats(ctx, []string{"A1", "A2", "A3"}, "order-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"A2"}, taken)

	assert.False(t, mr.Exists(seatKey("A1")), "partial lock must be rolled back")
	assert.False(t, mr.Exists(seatKey("A3")), "partial lock must be rolled back")
	owner, _ := mr.Get(seatKey("A2"))
	assert.Equal(t, "order-1", owner)
}

func TestLockSeats_AppliesTTL(t *testing.T) {
	gate, mr := setupTestRedis(t)

	_, err := gate.LockSeats(context.Background(), []string{"B1"}, "order-1")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, mr.TTL(seatKey("B1")))

	mr.FastForward(11 * time.Minute)
	assert.False(t, mr.Exists(seatKey("B1")))

	taken, err := gate.LockSeats(context.Background(), []string{"B1"}, "order-2")
	require.NoError(t, err)
	assert.Empty(t, taken)
}

func TestUnlockSeats_OnlyOwner(t *testing.T) {
	gate, mr := setupTestRedis(t)
	ctx := context.Background()

	_, err := gate.LockSeats(ctx, []string{"C1"}, "order-1")
	require.NoError(t, err)

	require.NoError(t, gate.UnlockSeats(ctx, []string{"C1"}, "order-2"))
	assert.True(t, mr.Exists(seatKey("C1")))

	require.NoError(t, gate.UnlockSeats(ctx, []string{"C1"}, "order-1"))
	assert.False(t, mr.Exists(seatKey("C1")))

	require.NoError(t, gate.UnlockSeats(ctx, []string{"C1"}, "order-1"))
}

func TestLockSeats_ConcurrentSingleWinner(t *testing.T) {
	gate, _ := setupTestRedis(t)
	ctx := context.Background()

	const contenders = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			taken, err := gate.LockSeats(ctx, []string{"D1", "D2"}, fmt.Sprintf("order-%d", i))
			assert.NoError(t, err)
			if len(taken) == 0 {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
}
