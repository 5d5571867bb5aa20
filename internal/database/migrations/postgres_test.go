package migrations_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"ms-checkout/internal/config"
	"ms-checkout/internal/database"
	"ms-checkout/internal/database/migrations"
	"ms-checkout/internal/inventory"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/models"
	"ms-checkout/internal/order"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
)

func startPostgres(t *testing.T) (*bun.DB, *logger.Logger) {
	if testing.Short() {
		t.Skip("Skipping Postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "checkout_user",
				"POSTGRES_PASSWORD": "checkout_pass",
				"POSTGRES_DB":       "checkout",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	log := logger.NewWithWriter(io.Discard)
	db, err := database.OpenPostgres(ctx, config.DatabaseConfig{
		Host:         host,
		Port:         port.Port(),
		Username:     "checkout_user",
		Password:     "checkout_pass",
		Database:     "checkout",
		SSLMode:      "disable",
		MaxOpenConns: 20,
		MaxIdleConns: 20,
		MaxLifetime:  time.Minute,
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, log
}

func TestMigrations_UpDown(t *testing.T) {
	db, log := startPostgres(t)
	runner := migrations.NewRunner(db.DB, log)

	require.NoError(t, runner.Up())
	require.NoError(t, runner.Up(), "second run is a no-op")

	var tables []string
	err := db.NewSelect().
		TableExpr("information_schema.tables").
		Column("table_name").
		Where("table_schema = 'public'").
		Where("table_name IN (?)", bun.In([]string{"orders", "inventory_holds", "payments", "tickets"})).
		Scan(context.Background(), &tables)
	require.NoError(t, err)
	assert.Len(t, tables, 4)

	require.NoError(t, runner.Down())
}

func TestPostgres_CategoryNeverOversold(t *testing.T) {
	db, log := startPostgres(t)
	require.NoError(t, migrations.NewRunner(db.DB, log).Up())

	ctx := context.Background()
	_, err := db.NewInsert().Model(&models.Event{ID: "ev1", Name: "Recital", StartsAt: time.Now().UTC()}).Exec(ctx)
	require.NoError(t, err)
	_, err = db.NewInsert().Model(&models.TicketCategory{ID: "ga", EventID: "ev1", Name: "General", Price: 10000, Capacity: 5}).Exec(ctx)
	require.NoError(t, err)

	svc := order.NewOrderService(db, inventory.NewLedger(log), log)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.CreateOrder(ctx, fmt.Sprintf("user-%d", i), "", []models.ItemRequest{{CategoryID: "ga", Quantity: 1}}, 0)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, models.ErrInsufficientInventory):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, accepted)
	assert.Equal(t, 7, rejected)

	cat := new(models.TicketCategory)
	require.NoError(t, db.NewSelect().Model(cat).Where("id = ?", "ga").Scan(ctx))
	assert.Equal(t, 5, cat.Held)
	assert.Zero(t, cat.Available())
}
