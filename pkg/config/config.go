package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "swiftwatch"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Stripe       StripeConfig
	Marketplace  MarketplaceConfig
	IngestLimits IngestRateLimitConfig
	Worker       WorkerConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SWIFTWATCH_APP_ENV" required:"true"`
	Port         string `envconfig:"SWIFTWATCH_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SWIFTWATCH_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SWIFTWATCH_LOG_WARN_STACK" default:"false"`
	CORSOrigins  string `envconfig:"SWIFTWATCH_CORS_ORIGINS" default:"*"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"SWIFTWATCH_DB_DSN"`

	Host     string `envconfig:"SWIFTWATCH_DB_HOST"`
	Port     int    `envconfig:"SWIFTWATCH_DB_PORT" default:"5432"`
	User     string `envconfig:"SWIFTWATCH_DB_USER"`
	Password string `envconfig:"SWIFTWATCH_DB_PASSWORD"`
	Name     string `envconfig:"SWIFTWATCH_DB_NAME"`
	SSLMode  string `envconfig:"SWIFTWATCH_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SWIFTWATCH_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SWIFTWATCH_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SWIFTWATCH_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SWIFTWATCH_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SWIFTWATCH_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SWIFTWATCH_REDIS_ADDR"`
	Password     string        `envconfig:"SWIFTWATCH_REDIS_PASSWORD"`
	DB           int           `envconfig:"SWIFTWATCH_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SWIFTWATCH_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SWIFTWATCH_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SWIFTWATCH_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SWIFTWATCH_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SWIFTWATCH_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SWIFTWATCH_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SWIFTWATCH_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SWIFTWATCH_JWT_EXPIRATION_MINUTES" default:"60"`
}

type StripeConfig struct {
	APIKey        string `envconfig:"SWIFTWATCH_STRIPE_API_KEY"`
	SigningSecret string `envconfig:"SWIFTWATCH_STRIPE_WEBHOOK_SECRET" required:"true"`
	Env           string `envconfig:"SWIFTWATCH_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type MarketplaceConfig struct {
	SigningSecret string `envconfig:"SWIFTWATCH_MARKETPLACE_WEBHOOK_SECRET" required:"true"`
}

type IngestRateLimitConfig struct {
	Window       time.Duration `envconfig:"SWIFTWATCH_INGEST_RATE_LIMIT_WINDOW" default:"1m"`
	AccountLimit int           `envconfig:"SWIFTWATCH_INGEST_RATE_LIMIT_ACCOUNT" default:"60"`
	IPLimit      int           `envconfig:"SWIFTWATCH_INGEST_RATE_LIMIT_IP" default:"120"`
}

type WorkerConfig struct {
	Interval     time.Duration `envconfig:"SWIFTWATCH_WORKER_INTERVAL" default:"5m"`
	LockTTL      time.Duration `envconfig:"SWIFTWATCH_WORKER_LOCK_TTL" default:"10m"`
	RetryBatch   int           `envconfig:"SWIFTWATCH_WORKER_RETRY_BATCH" default:"100"`
	RetryMaxAge  time.Duration `envconfig:"SWIFTWATCH_WORKER_RETRY_MAX_AGE" default:"168h"`
	ResetEnabled bool          `envconfig:"SWIFTWATCH_WORKER_RESET_ENABLED" default:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"SWIFTWATCH_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	required := map[string]string{
		"SWIFTWATCH_DB_HOST": db.Host,
		"SWIFTWATCH_DB_USER": db.User,
		"SWIFTWATCH_DB_NAME": db.Name,
	}
	for _, key := range []string{"SWIFTWATCH_DB_HOST", "SWIFTWATCH_DB_USER", "SWIFTWATCH_DB_NAME"} {
		if required[key] == "" {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either SWIFTWATCH_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
