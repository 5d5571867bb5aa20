package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-checkout/internal/inventory"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/order/db"
	"ms-checkout/internal/payment"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	defaultHoldDuration = 10 * time.Minute
	defaultMaxHold      = 30 * time.Minute
)

// SeatGate is the optional Redis lock taken before the ledger is touched.
type SeatGate interface {
	LockSeats(ctx context.Context, seatIDs []string, orderID string) ([]string, error)
	UnlockSeats(ctx context.Context, seatIDs []string, orderID string) error
}

// StatusListener is told about every applied order status change.
type StatusListener interface {
	OrderStatusChanged(ctx context.Context, ev models.OrderStatusEvent)
}

// TicketsListener is an optional extension of StatusListener told about
// newly issued tickets.
type TicketsListener interface {
	TicketsIssued(ctx context.Context, orderID string, tickets []*models.Ticket)
}

type TicketIssuer interface {
	IssueForOrder(ctx context.Context, orderID string) ([]*models.Ticket, error)
}

// IssuanceQueue schedules a background retry of ticket issuance.
type IssuanceQueue interface {
	EnqueueIssuance(ctx context.Context, orderID string) error
}

type OrderService struct {
	DB        *db.DB
	Ledger    *inventory.Ledger
	Gateways  payment.Gateways
	Gate      SeatGate
	Issuer    TicketIssuer
	Queue     IssuanceQueue
	Listeners []StatusListener
	Logger    *logger.Logger

	holdDuration time.Duration
	maxHold      time.Duration
	currency     string
	sweepBatch   int
	now          func() time.Time
}

type Option func(*OrderService)

func WithSeatGate(g SeatGate) Option { return func(s *OrderService) { s.Gate = g } }

func WithGateways(g payment.Gateways) Option { return func(s *OrderService) { s.Gateways = g } }

func WithTicketIssuer(i TicketIssuer) Option { return func(s *OrderService) { s.Issuer = i } }

func WithIssuanceQueue(q IssuanceQueue) Option { return func(s *OrderService) { s.Queue = q } }

func WithStatusListener(l StatusListener) Option {
	return func(s *OrderService) { s.Listeners = append(s.Listeners, l) }
}

func WithHoldDuration(d time.Duration) Option {
	return func(s *OrderService) {
		if d > 0 {
			s.holdDuration = d
		}
	}
}

// WithMaxHold caps the hold window a buyer may request.
func WithMaxHold(d time.Duration) Option {
	return func(s *OrderService) {
		if d > 0 {
			s.maxHold = d
		}
	}
}

func WithCurrency(c string) Option {
	return func(s *OrderService) {
		if c != "" {
			s.currency = c
		}
	}
}

func WithSweepBatch(n int) Option {
	return func(s *OrderService) {
		if n > 0 {
			s.sweepBatch = n
		}
	}
}

func WithClock(now func() time.Time) Option { return func(s *OrderService) { s.now = now } }

func NewOrderService(bunDB *bun.DB, ledger *inventory.Ledger, log *logger.Logger, opts ...Option) *OrderService {
	s := &OrderService{
		DB:           &db.DB{Bun: bunDB},
		Ledger:       ledger,
		Gateways:     payment.Gateways{},
		Logger:       log,
		holdDuration: defaultHoldDuration,
		maxHold:      defaultMaxHold,
		currency:     "ARS",
		sweepBatch:   200,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ---------------- ORDERS ----------------

// CreateOrder prices and holds every item, then persists the order in
// PENDING. Nothing is held unless every item could be held.
func (s *OrderService) CreateOrder(ctx context.Context, userID, email string, items []models.ItemRequest, holdMinutes int) (*models.Order, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", models.ErrInvalidItem)
	}
	seen := make(map[string]bool)
	var seatIDs []string
	for _, it := range items {
		if err := inventory.ValidateItem(it.Ref(), it.Quantity); err != nil {
			return nil, err
		}
		if it.SeatID == "" {
			continue
		}
		if seen[it.SeatID] {
			return nil, fmt.Errorf("%w: seat %s requested twice", models.ErrInvalidItem, it.SeatID)
		}
		seen[it.SeatID] = true
		seatIDs = append(seatIDs, it.SeatID)
	}

	hold := s.holdWindow(holdMinutes)
	now := s.now()
	order := &models.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		UserEmail: email,
		Status:    models.OrderPending,
		Currency:  s.currency,
		CreatedAt: now,
		ExpiresAt: now.Add(hold),
		UpdatedAt: now,
	}
	order.ExternalTransactionID = order.ID

	gated := false
	if s.Gate != nil && len(seatIDs) > 0 {
		taken, err := s.Gate.LockSeats(ctx, seatIDs, order.ID)
		switch {
		case err != nil:
			s.Logger.Warn("ORDER", fmt.Sprintf("Seat gate unavailable, relying on ledger: %v", err))
		case len(taken) > 0:
			unavailable := make([]models.InventoryRef, 0, len(taken))
			for _, id := range taken {
				unavailable = append(unavailable, models.InventoryRef{SeatID: id})
			}
			return nil, &models.InsufficientInventoryError{Unavailable: unavailable}
		default:
			gated = true
		}
	}

	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		for _, it := range items {
			q, err := s.Ledger.Quote(ctx, tx, it.Ref())
			if err != nil {
				return err
			}
			item := &models.OrderItem{
				ID:         uuid.NewString(),
				OrderID:    order.ID,
				EventID:    q.EventID,
				SeatID:     it.SeatID,
				CategoryID: it.CategoryID,
				Label:      q.Label,
				Quantity:   it.Quantity,
				UnitAmount: q.UnitAmount,
				Subtotal:   q.UnitAmount * int64(it.Quantity),
			}
			order.Items = append(order.Items, item)
			order.Total += item.Subtotal
		}

		if err := s.DB.InsertOrder(ctx, tx, order); err != nil {
			return err
		}

		var unavailable []models.InventoryRef
		for _, item := range order.Items {
			_, err := s.Ledger.Hold(ctx, tx, inventory.HoldRequest{
				Ref:         item.Ref(),
				OrderID:     order.ID,
				OrderItemID: item.ID,
				UserID:      userID,
				Quantity:    item.Quantity,
			})
			var insufficient *models.InsufficientInventoryError
			if errors.As(err, &insufficient) {
				unavailable = append(unavailable, insufficient.Unavailable...)
				continue
			}
			if err != nil {
				return err
			}
		}
		if len(unavailable) > 0 {
			return &models.InsufficientInventoryError{Unavailable: unavailable}
		}
		return nil
	})
	if err != nil {
		if gated {
			s.unlockSeats(ctx, order.ID, seatIDs)
		}
		s.Logger.LogOrder("CREATE_FAILED", order.ID, err.Error())
		return nil, err
	}

	s.Logger.LogOrder("CREATED", order.ID, fmt.Sprintf("user=%s items=%d total=%d %s expires=%s",
		userID, len(order.Items), order.Total, order.Currency, order.ExpiresAt.Format(time.RFC3339)))
	s.notify(ctx, order)
	return order, nil
}

// holdWindow turns the requested minutes into a hold no longer than maxHold.
func (s *OrderService) holdWindow(minutes int) time.Duration {
	if minutes <= 0 {
		return s.holdDuration
	}
	if int64(minutes) >= int64(s.maxHold/time.Minute) {
		return s.maxHold
	}
	return time.Duration(minutes) * time.Minute
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return s.DB.GetOrder(ctx, s.DB.Bun, orderID)
}

func (s *OrderService) ListOrdersForUser(ctx context.Context, userID string) ([]*models.Order, error) {
	return s.DB.ListOrdersByUser(ctx, userID)
}

func (s *OrderService) GetPayments(ctx context.Context, orderID string) ([]*models.Payment, error) {
	return s.DB.GetPayments(ctx, orderID)
}

// CancelOrder is the buyer or admin path to CANCELLED. Any payment still
// open for the order is settled as cancelled with it.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	return s.TransitionToCancelled(ctx, orderID, nil)
}

func (s *OrderService) notify(ctx context.Context, order *models.Order) {
	ev := models.OrderStatusEvent{
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     order.Status,
		Total:      order.Total,
		Currency:   order.Currency,
		Provider:   order.Provider,
		OccurredAt: s.now(),
	}
	for _, l := range s.Listeners {
		l.OrderStatusChanged(ctx, ev)
	}
}

func (s *OrderService) unlockSeats(ctx context.Context, orderID string, seatIDs []string) {
	if s.Gate == nil || len(seatIDs) == 0 {
		return
	}
	if err := s.Gate.UnlockSeats(ctx, seatIDs, orderID); err != nil {
		s.Logger.Warn("ORDER", fmt.Sprintf("Failed to unlock seat gate for order %s: %v", orderID, err))
	}
}

func seatIDsOf(order *models.Order) []string {
	var ids []string
	for _, it := range order.Items {
		if it.SeatID != "" {
			ids = append(ids, it.SeatID)
		}
	}
	return ids
}
