package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Orders   OrdersConfig
	Payments PaymentsConfig
	Stripe   StripeConfig
	PagoTIC  PagoTICConfig
	Tickets  TicketsConfig
	Auth     AuthConfig
	Jobs     JobsConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite"
	Driver       string
	Host         string
	Port         string
	Username     string
	Password     string
	Database     string
	SSLMode      string
	SQLitePath   string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	AutoMigrate  bool
}

// DSN builds the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return "postgres://" + d.Username + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.Database + "?sslmode=" + d.SSLMode
}

type RedisConfig struct {
	Addr    string
	Enabled bool
}

type KafkaConfig struct {
	Brokers []string
	Enabled bool
	Topics  TopicConfig
}

type TopicConfig struct {
	OrderCreated   string
	OrderPaid      string
	OrderCancelled string
	OrderExpired   string
	TicketsIssued  string
}

// All returns every topic the service writes to.
func (t TopicConfig) All() []string {
	return []string{t.OrderCreated, t.OrderPaid, t.OrderCancelled, t.OrderExpired, t.TicketsIssued}
}

type OrdersConfig struct {
	HoldDuration time.Duration
	// MaxHold caps the hold window a buyer may ask for.
	MaxHold    time.Duration
	Currency   string
	SweepBatch int
}

type PaymentsConfig struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type PagoTICConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	CollectorID  string
	CallbackURL  string
	ReturnURL    string
}

type TicketsConfig struct {
	QRSecret     string
	AssetDir     string
	AssetBaseURL string
	FontPath     string
}

type AuthConfig struct {
	OIDCIssuer string
	JWTSecret  string
	CronSecret string
}

type JobsConfig struct {
	Enabled      bool
	Concurrency  int
	SweepCron    string
	PollCron     string
	BackfillCron string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:       getEnv("DB_DRIVER", "postgres"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			Username:     getEnv("DB_USERNAME", "checkout_user"),
			Password:     getEnv("DB_PASSWORD", "checkout_pass"),
			Database:     getEnv("DB_NAME", "checkout"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			SQLitePath:   getEnv("DB_SQLITE_PATH", "file:checkout.db?cache=shared"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			AutoMigrate:  getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:    getEnv("REDIS_ADDR", "localhost:6379"),
			Enabled: getEnvBool("REDIS_ENABLED", true),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvList("KAFKA_BROKERS", "localhost:9092"),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				OrderCreated:   getEnv("KAFKA_TOPIC_ORDER_CREATED", "checkout.order.created"),
				OrderPaid:      getEnv("KAFKA_TOPIC_ORDER_PAID", "checkout.order.paid"),
				OrderCancelled: getEnv("KAFKA_TOPIC_ORDER_CANCELLED", "checkout.order.cancelled"),
				OrderExpired:   getEnv("KAFKA_TOPIC_ORDER_EXPIRED", "checkout.order.expired"),
				TicketsIssued:  getEnv("KAFKA_TOPIC_TICKETS_ISSUED", "checkout.tickets.issued"),
			},
		},
		Orders: OrdersConfig{
			HoldDuration: time.Duration(getEnvInt("ORDER_HOLD_MINUTES", 10)) * time.Minute,
			MaxHold:      time.Duration(getEnvInt("ORDER_MAX_HOLD_MINUTES", 30)) * time.Minute,
			Currency:     getEnv("ORDER_CURRENCY", "ARS"),
			SweepBatch:   getEnvInt("ORDER_SWEEP_BATCH", 200),
		},
		Payments: PaymentsConfig{
			MaxAttempts:    getEnvInt("PAYMENT_MAX_ATTEMPTS", 3),
			AttemptTimeout: getEnvDuration("PAYMENT_ATTEMPT_TIMEOUT", 5*time.Second),
			InitialBackoff: getEnvDuration("PAYMENT_INITIAL_BACKOFF", 200*time.Millisecond),
			MaxBackoff:     getEnvDuration("PAYMENT_MAX_BACKOFF", 2*time.Second),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		PagoTIC: PagoTICConfig{
			BaseURL:      getEnv("PAGOTIC_BASE_URL", "https://api.paypertic.com"),
			ClientID:     getEnv("PAGOTIC_CLIENT_ID", ""),
			ClientSecret: getEnv("PAGOTIC_CLIENT_SECRET", ""),
			CollectorID:  getEnv("PAGOTIC_COLLECTOR_ID", ""),
			CallbackURL:  getEnv("PAGOTIC_CALLBACK_URL", "http://localhost:8080/webhooks/pagotic"),
			ReturnURL:    getEnv("PAGOTIC_RETURN_URL", "http://localhost:3000/checkout/return"),
		},
		Tickets: TicketsConfig{
			QRSecret:     getEnv("TICKET_QR_SECRET", "change-me"),
			AssetDir:     getEnv("TICKET_ASSET_DIR", "./data/assets"),
			AssetBaseURL: getEnv("TICKET_ASSET_BASE_URL", "/assets"),
			FontPath:     getEnv("TICKET_FONT_PATH", "./fonts/DejaVuSans.ttf"),
		},
		Auth: AuthConfig{
			OIDCIssuer: getEnv("OIDC_ISSUER", ""),
			JWTSecret:  getEnv("JWT_SECRET", ""),
			CronSecret: getEnv("CRON_SECRET", ""),
		},
		Jobs: JobsConfig{
			Enabled:      getEnvBool("JOBS_ENABLED", true),
			Concurrency:  getEnvInt("JOBS_CONCURRENCY", 5),
			SweepCron:    getEnv("JOBS_SWEEP_CRON", "*/1 * * * *"),
			PollCron:     getEnv("JOBS_POLL_CRON", "*/2 * * * *"),
			BackfillCron: getEnv("JOBS_BACKFILL_CRON", "*/5 * * * *"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, e.g. KAFKA_BROKERS=a:9092,b:9092
func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
