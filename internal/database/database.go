package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ms-checkout/internal/config"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const connectAttempts = 5

// Open connects to the configured store, retrying the first ping.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	if cfg.Driver == "sqlite" {
		log.Info("DATABASE", fmt.Sprintf("Using SQLite store at %s", cfg.SQLitePath))
		db, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := CreateSchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	}
	return OpenPostgres(ctx, cfg, log)
}

func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	sqldb, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	for i := 0; i < connectAttempts; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, connectAttempts))
		if err = sqldb.PingContext(ctx); err == nil {
			break
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < connectAttempts-1 {
			select {
			case <-ctx.Done():
				sqldb.Close()
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
	}
	if err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("postgres unreachable after %d attempts: %w", connectAttempts, err)
	}

	log.Info("DATABASE", "PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

// OpenSQLite opens a single-connection SQLite database. ":memory:" works for tests.
func OpenSQLite(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serialises writers; one connection keeps in-memory databases shared.
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func schemaModels() []any {
	return []any{
		(*models.Event)(nil),
		(*models.TicketCategory)(nil),
		(*models.Seat)(nil),
		(*models.Order)(nil),
		(*models.OrderItem)(nil),
		(*models.InventoryHold)(nil),
		(*models.Payment)(nil),
		(*models.Ticket)(nil),
		(*models.ValidationLog)(nil),
	}
}

// CreateSchema builds tables from the bun models. Postgres deployments use the
// SQL migrations instead; this serves SQLite dev mode and tests.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	for _, m := range schemaModels() {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}

	indexes := []struct {
		model   any
		name    string
		columns []string
	}{
		{(*models.Order)(nil), "idx_orders_status_expires", []string{"status", "expires_at"}},
		{(*models.Order)(nil), "idx_orders_payment_number", []string{"payment_number"}},
		{(*models.Order)(nil), "idx_orders_user", []string{"user_id"}},
		{(*models.OrderItem)(nil), "idx_order_items_order", []string{"order_id"}},
		{(*models.InventoryHold)(nil), "idx_holds_order", []string{"order_id"}},
		{(*models.Payment)(nil), "idx_payments_provider_ref", []string{"provider", "provider_payment_id"}},
		{(*models.Ticket)(nil), "idx_tickets_order", []string{"order_id"}},
		{(*models.ValidationLog)(nil), "idx_validation_logs_ticket", []string{"ticket_id"}},
	}
	for _, idx := range indexes {
		if _, err := db.NewCreateIndex().Model(idx.model).Index(idx.name).Column(idx.columns...).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}
