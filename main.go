package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ms-checkout/internal/analytics"
	analytics_api "ms-checkout/internal/analytics/api"
	"ms-checkout/internal/auth"
	"ms-checkout/internal/config"
	"ms-checkout/internal/database"
	"ms-checkout/internal/database/migrations"
	"ms-checkout/internal/inventory"
	"ms-checkout/internal/jobs"
	"ms-checkout/internal/kafka"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/order"
	"ms-checkout/internal/order/order_api"
	rediswrap "ms-checkout/internal/order/redis"
	"ms-checkout/internal/payment"
	"ms-checkout/internal/payment/services"
	"ms-checkout/internal/sse"
	"ms-checkout/internal/tickets/assets"
	ticket_db "ms-checkout/internal/tickets/db"
	qr "ms-checkout/internal/tickets/qr_generator"
	tickets "ms-checkout/internal/tickets/service"
	"ms-checkout/internal/tickets/template"
	"ms-checkout/internal/tickets/ticket_api"
	"ms-checkout/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
)

func connectRedis(ctx context.Context, cfg config.RedisConfig, logger *logger.Logger) *redis.Client {
	if !cfg.Enabled {
		logger.Warn("REDIS", "Redis disabled, seat gate and shared provider tokens are off")
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	logger.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Addr, client.Options().DB))
	return client
}

func buildGateways(cfg *config.Config, redisClient *redis.Client, logger *logger.Logger) payment.Gateways {
	retry := payment.NewRetryPolicy(cfg.Payments)
	var gws []payment.Gateway

	if cfg.Stripe.SecretKey != "" {
		stripeSvc, err := services.NewStripeService(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, retry, logger)
		if err != nil {
			logger.Fatal("PAYMENT", fmt.Sprintf("Stripe setup failed: %v", err))
		}
		gws = append(gws, stripeSvc)
	} else {
		logger.Warn("PAYMENT", "STRIPE_SECRET_KEY not set, Stripe disabled")
	}

	if cfg.PagoTIC.ClientID != "" {
		var shared services.SharedTokenCache
		if redisClient != nil {
			shared = services.NewRedisTokenCache(redisClient)
		}
		httpClient := &http.Client{Timeout: 10 * time.Second}
		gws = append(gws, services.NewPagoTICService(cfg.PagoTIC, httpClient, retry, shared, logger))
	} else {
		logger.Warn("PAYMENT", "PAGOTIC_CLIENT_ID not set, PagoTIC disabled")
	}

	gateways := payment.NewGateways(gws...)
	logger.Info("PAYMENT", fmt.Sprintf("Payment providers enabled: %v", gateways.Names()))
	return gateways
}

func buildVerifier(ctx context.Context, cfg config.AuthConfig, logger *logger.Logger) auth.Verifier {
	if cfg.OIDCIssuer != "" {
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer)
		if err != nil {
			logger.Fatal("AUTH", fmt.Sprintf("OIDC discovery failed for %s: %v", cfg.OIDCIssuer, err))
		}
		logger.Info("AUTH", fmt.Sprintf("Verifying tokens against issuer %s", cfg.OIDCIssuer))
		return v
	}
	if cfg.JWTSecret == "" {
		logger.Fatal("CONFIG", "Either OIDC_ISSUER or JWT_SECRET must be set")
	}
	logger.Info("AUTH", "Verifying HS256 tokens with JWT_SECRET")
	return auth.NewHMACVerifier(cfg.JWTSecret)
}

func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	logger.Info("APP", "Starting checkout service initialization")

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		logger.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()
	ctx := context.Background()

	// --- Database ---
	bunDB, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	if cfg.Database.Driver != "sqlite" && cfg.Database.AutoMigrate {
		if err := migrations.NewRunner(bunDB.DB, logger).Up(); err != nil {
			logger.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
		}
	}

	redisClient := connectRedis(ctx, cfg.Redis, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// --- Kafka ---
	var kafkaProducer *kafka.Producer
	if cfg.Kafka.Enabled {
		kafkaProducer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics, logger)
		defer kafkaProducer.Close()
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), logger); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			logger.Info("KAFKA", "Required topics ensured successfully")
		}
	}

	// --- Tickets ---
	store, err := assets.NewFileStore(cfg.Tickets.AssetDir, cfg.Tickets.AssetBaseURL)
	if err != nil {
		logger.Fatal("TICKETS", fmt.Sprintf("Asset store setup failed: %v", err))
	}
	qrGen := qr.NewQRGenerator(cfg.Tickets.QRSecret)
	ticketDB := &ticket_db.DB{Bun: bunDB}
	ticketService := tickets.NewTicketService(ticketDB, qrGen, template.NewTicketPDFGenerator(cfg.Tickets.FontPath), store, logger)
	validator := tickets.NewValidator(ticketDB, qrGen, logger)

	// --- Orders ---
	events := sse.NewOrderEventEmitter()
	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr}

	opts := []order.Option{
		order.WithGateways(buildGateways(cfg, redisClient, logger)),
		order.WithTicketIssuer(ticketService),
		order.WithHoldDuration(cfg.Orders.HoldDuration),
		order.WithMaxHold(cfg.Orders.MaxHold),
		order.WithCurrency(cfg.Orders.Currency),
		order.WithSweepBatch(cfg.Orders.SweepBatch),
		order.WithStatusListener(events),
	}
	if kafkaProducer != nil {
		opts = append(opts, order.WithStatusListener(kafkaProducer))
	}
	if redisClient != nil {
		opts = append(opts, order.WithSeatGate(rediswrap.NewSeatGate(redisClient, cfg.Orders.HoldDuration, logger)))
	}
	var asynqClient *asynq.Client
	if cfg.Jobs.Enabled {
		asynqClient = asynq.NewClient(redisOpt)
		defer asynqClient.Close()
		opts = append(opts, order.WithIssuanceQueue(jobs.NewIssuanceQueue(asynqClient, logger)))
	}
	orderService := order.NewOrderService(bunDB, inventory.NewLedger(logger), logger, opts...)

	// --- Background jobs ---
	var runner *jobs.Runner
	if cfg.Jobs.Enabled {
		runner, err = jobs.NewRunner(redisOpt, cfg.Jobs, jobs.NewWorker(orderService, ticketService, logger), logger)
		if err != nil {
			logger.Fatal("JOBS", err.Error())
		}
		if err := runner.Start(); err != nil {
			logger.Fatal("JOBS", err.Error())
		}
	} else {
		logger.Warn("JOBS", "Background jobs disabled, use the cron endpoints to sweep and poll")
	}

	handler := order_api.NewHandler(orderService, ticketService, events, logger)
	ticketHandler := ticket_api.NewHandler(validator, logger)
	analyticsHandler := analytics_api.NewHandler(analytics.NewService(bunDB, logger), logger)
	verifier := buildVerifier(ctx, cfg.Auth, logger)

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(utils.RequestLogger(logger))

	// --- Public Routes ---
	r.Get("/healthz", utils.HealthHandler(bunDB, logger))
	r.Handle("/assets/*", http.StripPrefix("/assets/", http.FileServer(http.Dir(cfg.Tickets.AssetDir))))
	handler.RegisterWebhooks(r)
	logger.Info("ROUTER", "Payment webhooks registered under /webhooks")

	r.Group(func(r chi.Router) {
		r.Use(auth.CronAuth(cfg.Auth.CronSecret, logger))
		handler.RegisterCron(r)
	})
	logger.Info("ROUTER", "Cron endpoints registered under /internal/cron")

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier, logger))
		r.Route("/api", func(r chi.Router) {
			handler.RegisterRoutes(r)
			logger.Info("ROUTER", "Order routes registered under /api/orders")
			ticketHandler.RegisterRoutes(r)
			logger.Info("ROUTER", "Ticket validation registered under /api/tickets")
			analyticsHandler.RegisterRoutes(r)
			logger.Info("ROUTER", "Sales reports registered under /api/analytics")
		})
	})

	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("Checkout service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		logger.Info("HTTP", "Checkout service shutdown complete")
	}
	if runner != nil {
		runner.Shutdown()
	}
}
