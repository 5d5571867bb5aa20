package order

import (
	"context"
	"errors"
	"fmt"

	"ms-checkout/internal/models"
)

// Sweep expires every PENDING order whose hold window has passed and returns
// how many it reclaimed. Orders finalized concurrently by a payment are
// skipped; any other per-order failure is joined into the returned error
// after the rest of the batch is processed.
func (s *OrderService) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	reclaimed := 0
	cursor := ""
	var errs []error

	for {
		ids, err := s.DB.ListExpiredPending(ctx, now, cursor, s.sweepBatch)
		if err != nil {
			return reclaimed, fmt.Errorf("list expired orders: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return reclaimed, err
			}
			applied, err := s.TransitionToExpired(ctx, id, nil)
			if errors.Is(err, models.ErrInvalidStateTransition) {
				s.Logger.Info("SWEEPER", fmt.Sprintf("Order %s finalized before expiry, skipping", id))
				continue
			}
			if err != nil {
				s.Logger.Error("SWEEPER", fmt.Sprintf("Failed to expire order %s: %v", id, err))
				errs = append(errs, fmt.Errorf("expire order %s: %w", id, err))
				continue
			}
			if applied {
				reclaimed++
			}
		}

		if len(ids) < s.sweepBatch {
			break
		}
		cursor = ids[len(ids)-1]
	}

	if reclaimed > 0 {
		s.Logger.Info("SWEEPER", fmt.Sprintf("Reclaimed %d expired orders", reclaimed))
	}
	return reclaimed, errors.Join(errs...)
}
