package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	Service       ServiceConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Mpesa         MpesaConfig
	Notifier      NotifierConfig
	PaymentRetry  PaymentRetryConfig
	Idempotency   IdempotencyConfig
	Cron          CronConfig
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
	Env          string `envconfig:"SOKOHUB_APP_ENV" required:"true"`
	Port         string `envconfig:"SOKOHUB_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"SOKOHUB_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SOKOHUB_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SOKOHUB_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SOKOHUB_DB_DSN"`
	Driver string `envconfig:"SOKOHUB_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SOKOHUB_DB_HOST"`
	LegacyPort     int    `envconfig:"SOKOHUB_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SOKOHUB_DB_USER"`
	LegacyPassword string `envconfig:"SOKOHUB_DB_PASSWORD"`
	LegacyName     string `envconfig:"SOKOHUB_DB_NAME"`
	LegacySSLMode  string `envconfig:"SOKOHUB_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SOKOHUB_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SOKOHUB_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SOKOHUB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SOKOHUB_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SOKOHUB_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SOKOHUB_REDIS_ADDR"`
	Password     string        `envconfig:"SOKOHUB_REDIS_PASSWORD"`
	DB           int           `envconfig:"SOKOHUB_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SOKOHUB_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SOKOHUB_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SOKOHUB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SOKOHUB_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SOKOHUB_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"SOKOHUB_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"SOKOHUB_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"SOKOHUB_JWT_EXPIRATION_MINUTES" default:"60"`
}

type AuthRateLimitConfig struct {
	CheckoutWindow  time.Duration `envconfig:"SOKOHUB_RATE_LIMIT_CHECKOUT_WINDOW" default:"1m"`
	CheckoutLimit   int           `envconfig:"SOKOHUB_RATE_LIMIT_CHECKOUT_LIMIT" default:"10"`
	CheckoutIPLimit int           `envconfig:"SOKOHUB_RATE_LIMIT_CHECKOUT_IP_LIMIT" default:"30"`
	RetryWindow     time.Duration `envconfig:"SOKOHUB_RATE_LIMIT_RETRY_WINDOW" default:"5m"`
	RetryLimit      int           `envconfig:"SOKOHUB_RATE_LIMIT_RETRY_LIMIT" default:"5"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"SOKOHUB_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"SOKOHUB_AUTO_MIGRATE" default:"false"`
}

type MpesaConfig struct {
	BaseURL        string        `envconfig:"SOKOHUB_MPESA_BASE_URL" default:"https://sandbox.safaricom.co.ke"`
	ConsumerKey    string        `envconfig:"SOKOHUB_MPESA_CONSUMER_KEY"`
	ConsumerSecret string        `envconfig:"SOKOHUB_MPESA_CONSUMER_SECRET"`
	ShortCode      string        `envconfig:"SOKOHUB_MPESA_SHORT_CODE"`
	Passkey        string        `envconfig:"SOKOHUB_MPESA_PASSKEY"`
	CallbackURL    string        `envconfig:"SOKOHUB_MPESA_CALLBACK_URL"`
	Timeout        time.Duration `envconfig:"SOKOHUB_MPESA_TIMEOUT" default:"30s"`
}

type NotifierConfig struct {
	BaseURL string        `envconfig:"SOKOHUB_NOTIFIER_BASE_URL"`
	APIKey  string        `envconfig:"SOKOHUB_NOTIFIER_API_KEY"`
	Timeout time.Duration `envconfig:"SOKOHUB_NOTIFIER_TIMEOUT" default:"10s"`
}

type PaymentRetryConfig struct {
	MaxAttempts int           `envconfig:"SOKOHUB_PAYMENT_RETRY_MAX_ATTEMPTS" default:"3"`
	Delay       time.Duration `envconfig:"SOKOHUB_PAYMENT_RETRY_DELAY" default:"5m"`
}

type IdempotencyConfig struct {
	CheckoutTTL time.Duration `envconfig:"SOKOHUB_IDEMPOTENCY_CHECKOUT_TTL" default:"168h"`
	DefaultTTL  time.Duration `envconfig:"SOKOHUB_IDEMPOTENCY_DEFAULT_TTL" default:"24h"`
}

type CronConfig struct {
	PaymentReconcileInterval time.Duration `envconfig:"SOKOHUB_CRON_PAYMENT_RECONCILE_INTERVAL" default:"1m"`
	StockConflictInterval    time.Duration `envconfig:"SOKOHUB_CRON_STOCK_CONFLICT_INTERVAL" default:"10m"`
	LockTTL                  time.Duration `envconfig:"SOKOHUB_CRON_LOCK_TTL" default:"5m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
