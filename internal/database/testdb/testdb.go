// Package testdb provides an in-memory SQLite store seeded with catalog rows for tests.
package testdb

import (
	"context"
	"testing"
	"time"

	"ms-checkout/internal/database"
	"ms-checkout/internal/models"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func New(t testing.TB) *bun.DB {
	t.Helper()

	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.CreateSchema(context.Background(), db))

	t.Cleanup(func() { db.Close() })
	return db
}

func SeedEvent(t testing.TB, db bun.IDB, id, name string) *models.Event {
	t.Helper()
	ev := &models.Event{
		ID:       id,
		Name:     name,
		Venue:    "Estadio Central",
		StartsAt: time.Date(2026, 12, 1, 21, 0, 0, 0, time.UTC),
	}
	_, err := db.NewInsert().Model(ev).Exec(context.Background())
	require.NoError(t, err)
	return ev
}

func SeedCategory(t testing.TB, db bun.IDB, eventID, id string, price int64, capacity int) *models.TicketCategory {
	t.Helper()
	c := &models.TicketCategory{
		ID:       id,
		EventID:  eventID,
		Name:     "General " + id,
		Price:    price,
		Capacity: capacity,
	}
	_, err := db.NewInsert().Model(c).Exec(context.Background())
	require.NoError(t, err)
	return c
}

func SeedSeat(t testing.TB, db bun.IDB, eventID, id string, price int64) *models.Seat {
	t.Helper()
	s := &models.Seat{
		ID:        id,
		EventID:   eventID,
		Label:     id,
		Price:     price,
		Status:    models.SeatAvailable,
		UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	_, err := db.NewInsert().Model(s).Exec(context.Background())
	require.NoError(t, err)
	return s
}

func Seat(t testing.TB, db bun.IDB, id string) *models.Seat {
	t.Helper()
	s := new(models.Seat)
	require.NoError(t, db.NewSelect().Model(s).Where("id = ?", id).Scan(context.Background()))
	return s
}

func Category(t testing.TB, db bun.IDB, id string) *models.TicketCategory {
	t.Helper()
	c := new(models.TicketCategory)
	require.NoError(t, db.NewSelect().Model(c).Where("id = ?", id).Scan(context.Background()))
	return c
}

func Order(t testing.TB, db bun.IDB, id string) *models.Order {
	t.Helper()
	o := new(models.Order)
	require.NoError(t, db.NewSelect().Model(o).Relation("Items").Where("o.id = ?", id).Scan(context.Background()))
	return o
}
