// Command migrate applies the embedded schema migrations and can seed a demo
// event.
//
//	migrate up | down | to <version> | seed
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"ms-checkout/internal/config"
	"ms-checkout/internal/database"
	"ms-checkout/internal/database/migrations"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"

	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
)

func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	if len(os.Args) < 2 {
		logger.Fatal("MIGRATE", "usage: migrate up | down | to <version> | seed")
	}
	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	bunDB, err := database.OpenPostgres(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB.DB, logger)
	defer runner.Close()

	switch os.Args[1] {
	case "up":
		err = runner.Up()
	case "down":
		err = runner.Down()
	case "to":
		if len(os.Args) < 3 {
			logger.Fatal("MIGRATE", "usage: migrate to <version>")
		}
		var v uint64
		v, err = strconv.ParseUint(os.Args[2], 10, 32)
		if err == nil {
			err = runner.To(uint(v))
		}
	case "seed":
		if err = runner.Up(); err == nil {
			err = seedData(ctx, bunDB, logger)
		}
	default:
		logger.Fatal("MIGRATE", fmt.Sprintf("unknown command %q", os.Args[1]))
	}
	if err != nil {
		logger.Fatal("MIGRATE", err.Error())
	}
	logger.Info("MIGRATE", fmt.Sprintf("%s done", os.Args[1]))
}

// seedData inserts a demo event with a seated block and a general admission
// category. Rows that already exist are left alone.
func seedData(ctx context.Context, db *bun.DB, log *logger.Logger) error {
	now := time.Now().UTC()
	event := &models.Event{ID: "demo-event", Name: "Demo Night", Venue: "Main Hall", StartsAt: now.AddDate(0, 1, 0)}
	if _, err := db.NewInsert().Model(event).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("seed event: %w", err)
	}

	category := &models.TicketCategory{ID: "demo-ga", EventID: event.ID, Name: "General Admission", Price: 15000, Capacity: 500}
	if _, err := db.NewInsert().Model(category).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("seed category: %w", err)
	}

	var seats []*models.Seat
	for _, row := range []string{"A", "B"} {
		for n := 1; n <= 10; n++ {
			label := fmt.Sprintf("%s%d", row, n)
			seats = append(seats, &models.Seat{
				ID:        "demo-" + label,
				EventID:   event.ID,
				Label:     label,
				Price:     45000,
				Status:    models.SeatAvailable,
				UpdatedAt: now,
			})
		}
	}
	if _, err := db.NewInsert().Model(&seats).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("seed seats: %w", err)
	}
	log.LogDatabase("SEED", "seats", fmt.Sprintf("%d seats and category %s for event %s", len(seats), category.ID, event.ID))
	return nil
}
