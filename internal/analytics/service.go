// Package analytics reports per-event sales from the order, inventory and
// ticket tables.
package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"

	"github.com/uptrace/bun"
)

var ErrEventNotFound = errors.New("event not found")

const maxBatchEvents = 50

type CategorySales struct {
	CategoryID string `json:"category_id"`
	Name       string `json:"name"`
	Price      int64  `json:"price"`
	Capacity   int    `json:"capacity"`
	Held       int    `json:"held"`
	Sold       int    `json:"sold"`
	Available  int    `json:"available"`
	Revenue    int64  `json:"revenue"`
}

type SeatSales struct {
	Available int   `json:"available"`
	Held      int   `json:"held"`
	Sold      int   `json:"sold"`
	Revenue   int64 `json:"revenue"`
}

// DailySales buckets paid lines by UTC calendar day.
type DailySales struct {
	Date     string `json:"date"`
	Revenue  int64  `json:"revenue"`
	Quantity int    `json:"quantity"`
}

type EventSales struct {
	EventID        string                     `json:"event_id"`
	EventName      string                     `json:"event_name"`
	Revenue        int64                      `json:"revenue"`
	UnitsSold      int                        `json:"units_sold"`
	OrdersByStatus map[models.OrderStatus]int `json:"orders_by_status"`
	Categories     []CategorySales            `json:"categories"`
	Seats          SeatSales                  `json:"seats"`
	TicketsIssued  int                        `json:"tickets_issued"`
	CheckedIn      int                        `json:"checked_in"`
	DailySales     []DailySales               `json:"daily_sales"`
}

type BatchSales struct {
	EventIDs  []string      `json:"event_ids"`
	Missing   []string      `json:"missing,omitempty"`
	Revenue   int64         `json:"revenue"`
	UnitsSold int           `json:"units_sold"`
	Events    []*EventSales `json:"events"`
}

type Service struct {
	DB     *DB
	Logger *logger.Logger
}

func NewService(bunDB *bun.DB, log *logger.Logger) *Service {
	return &Service{DB: &DB{Bun: bunDB}, Logger: log}
}

// GetEventSales builds the sales report for one event.
func (s *Service) GetEventSales(ctx context.Context, eventID string) (*EventSales, error) {
	ev, err := s.DB.GetEvent(ctx, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("load event %s: %w", eventID, err)
	}

	report := &EventSales{
		EventID:        ev.ID,
		EventName:      ev.Name,
		OrdersByStatus: map[models.OrderStatus]int{},
		Categories:     []CategorySales{},
		DailySales:     []DailySales{},
	}

	statuses, err := s.DB.GetOrderStatusCounts(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("count orders for %s: %w", eventID, err)
	}
	for _, row := range statuses {
		report.OrdersByStatus[row.Status] = row.Orders
	}

	lines, err := s.DB.GetPaidLines(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load paid lines for %s: %w", eventID, err)
	}
	categoryRevenue := map[string]int64{}
	dayIndex := map[string]int{}
	for _, l := range lines {
		report.Revenue += l.Subtotal
		report.UnitsSold += l.Quantity
		if l.SeatID != "" {
			report.Seats.Revenue += l.Subtotal
		} else {
			categoryRevenue[l.CategoryID] += l.Subtotal
		}

		day := l.PaidAt.UTC().Format("2006-01-02")
		i, ok := dayIndex[day]
		if !ok {
			i = len(report.DailySales)
			dayIndex[day] = i
			report.DailySales = append(report.DailySales, DailySales{Date: day})
		}
		report.DailySales[i].Revenue += l.Subtotal
		report.DailySales[i].Quantity += l.Quantity
	}

	cats, err := s.DB.GetCategories(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("load categories for %s: %w", eventID, err)
	}
	for _, c := range cats {
		report.Categories = append(report.Categories, CategorySales{
			CategoryID: c.ID,
			Name:       c.Name,
			Price:      c.Price,
			Capacity:   c.Capacity,
			Held:       c.Held,
			Sold:       c.Sold,
			Available:  c.Available(),
			Revenue:    categoryRevenue[c.ID],
		})
	}

	seats, err := s.DB.GetSeatCounts(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("count seats for %s: %w", eventID, err)
	}
	for _, row := range seats {
		switch row.Status {
		case models.SeatAvailable:
			report.Seats.Available = row.Seats
		case models.SeatHeld:
			report.Seats.Held = row.Seats
		case models.SeatSold:
			report.Seats.Sold = row.Seats
		}
	}

	counts, err := s.DB.GetTicketCounts(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("count tickets for %s: %w", eventID, err)
	}
	report.TicketsIssued = counts.Issued
	report.CheckedIn = counts.CheckedIn

	return report, nil
}

// GetBatchSales sums the reports of several events. Unknown ids are listed
// in Missing rather than failing the batch.
func (s *Service) GetBatchSales(ctx context.Context, eventIDs []string) (*BatchSales, error) {
	if len(eventIDs) > maxBatchEvents {
		return nil, fmt.Errorf("at most %d events per batch, got %d", maxBatchEvents, len(eventIDs))
	}

	batch := &BatchSales{EventIDs: []string{}, Events: []*EventSales{}}
	seen := map[string]bool{}
	for _, id := range eventIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		batch.EventIDs = append(batch.EventIDs, id)

		report, err := s.GetEventSales(ctx, id)
		if errors.Is(err, ErrEventNotFound) {
			s.Logger.Debug("ANALYTICS", fmt.Sprintf("Batch skipped unknown event %s", id))
			batch.Missing = append(batch.Missing, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		batch.Revenue += report.Revenue
		batch.UnitsSold += report.UnitsSold
		batch.Events = append(batch.Events, report)
	}
	return batch, nil
}
