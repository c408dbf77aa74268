package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewCatalogDefaultsHolder),
)

// Config holds application configuration.
type Config struct {
	AppName          string
	AppVersion       string
	Environment      string
	HTTPAddr         string
	AuthCookieSecure bool

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBSQLitePath      string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBLogLevel        string

	Redis     RedisConfig
	Provider  ProviderConfig
	RateLimit RateLimitConfig
	Ledger    LedgerConfig
	Events    EventsConfig
	Bootstrap BootstrapConfig
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// ProviderConfig selects and configures the image generation backend.
type ProviderConfig struct {
	Type    string
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type RateLimitConfig struct {
	Enabled         bool
	GenerationRate  float64
	GenerationBurst int
}

type LedgerConfig struct {
	PurchaseEnabled     bool
	StaleReservationTTL time.Duration
	SweepInterval       time.Duration
	SweepBatchSize      int
}

type EventsConfig struct {
	AMQPURL  string
	Exchange string
}

type BootstrapConfig struct {
	EnsureAdmin   bool
	AdminEmail    string
	AdminPassword string
}

const (
	ProviderOpenAI = "openai"
	ProviderFake   = "fake"
)

// ReservationSettleMargin is how long a reservation must stay unswept after its
// provider call times out, so the orchestrator can still settle it.
const ReservationSettleMargin = time.Minute

var ErrBootstrapPasswordRequired = errors.New("bootstrap_admin_password_required")

// Load loads configuration from environment variables and .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	environment := getenv("ENVIRONMENT", "development")
	bootstrapPassword := os.Getenv("BOOTSTRAP_ADMIN_PASSWORD")
	authCookieSecure := environment == "production"
	if !authCookieSecure {
		authCookieSecure = getenvBool("AUTH_COOKIE_SECURE", false)
	}

	cfg := Config{
		AppName:          getenv("APP_SERVICE", "pixelcredit"),
		AppVersion:       getenv("APP_VERSION", "0.1.0"),
		Environment:      environment,
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		AuthCookieSecure: authCookieSecure,
		OTLPEndpoint:     getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "pixelcredit"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBSQLitePath:      getenv("DATABASE_SQLITE_PATH", "pixelcredit.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBLogLevel:        getenv("DATABASE_LOG_LEVEL", "warn"),

		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Provider: ProviderConfig{
			Type:    normalizeProvider(getenv("PROVIDER_TYPE", ProviderOpenAI)),
			APIKey:  strings.TrimSpace(getenv("OPENAI_API_KEY", "")),
			BaseURL: strings.TrimSpace(getenv("OPENAI_BASE_URL", "")),
			Model:   getenv("OPENAI_IMAGE_MODEL", "dall-e-3"),
			Timeout: getenvDuration("PROVIDER_TIMEOUT", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:         getenvBool("RATE_LIMIT_ENABLED", true),
			GenerationRate:  getenvFloat("RATE_LIMIT_GENERATION_RATE", 0.5),
			GenerationBurst: getenvInt("RATE_LIMIT_GENERATION_BURST", 5),
		},
		Ledger: LedgerConfig{
			PurchaseEnabled:     getenvBool("CREDITS_PURCHASE_ENABLED", false),
			StaleReservationTTL: getenvDuration("LEDGER_STALE_RESERVATION_TTL", 15*time.Minute),
			SweepInterval:       getenvDuration("LEDGER_SWEEP_INTERVAL", time.Minute),
			SweepBatchSize:      getenvInt("LEDGER_SWEEP_BATCH_SIZE", 100),
		},
		Events: EventsConfig{
			AMQPURL:  strings.TrimSpace(getenv("AMQP_URL", "")),
			Exchange: getenv("AMQP_EXCHANGE", "pixelcredit.events"),
		},
		Bootstrap: BootstrapConfig{
			EnsureAdmin:   getenvBool("BOOTSTRAP_ADMIN", environment != "production" && bootstrapPassword != ""),
			AdminEmail:    strings.ToLower(strings.TrimSpace(getenv("BOOTSTRAP_ADMIN_EMAIL", "admin@pixelcredit.local"))),
			AdminPassword: bootstrapPassword,
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects combinations that would break settlement or expose a default login.
func (c Config) Validate() error {
	minTTL := c.Provider.Timeout + ReservationSettleMargin
	if c.Ledger.StaleReservationTTL < minTTL {
		return fmt.Errorf("LEDGER_STALE_RESERVATION_TTL %s must be at least PROVIDER_TIMEOUT plus %s (%s)",
			c.Ledger.StaleReservationTTL, ReservationSettleMargin, minTTL)
	}
	if c.Bootstrap.EnsureAdmin && strings.TrimSpace(c.Bootstrap.AdminPassword) == "" {
		return ErrBootstrapPasswordRequired
	}
	return nil
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func normalizeProvider(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case ProviderFake, "mock":
		return ProviderFake
	default:
		return ProviderOpenAI
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
