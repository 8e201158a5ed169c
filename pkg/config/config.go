package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Gateway      GatewayConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
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
	Env          string `envconfig:"BAZARIKA_APP_ENV" required:"true"`
	Port         string `envconfig:"BAZARIKA_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BAZARIKA_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BAZARIKA_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"BAZARIKA_DB_DSN"`
	Driver string `envconfig:"BAZARIKA_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BAZARIKA_DB_HOST"`
	LegacyPort     int    `envconfig:"BAZARIKA_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BAZARIKA_DB_USER"`
	LegacyPassword string `envconfig:"BAZARIKA_DB_PASSWORD"`
	LegacyName     string `envconfig:"BAZARIKA_DB_NAME"`
	LegacySSLMode  string `envconfig:"BAZARIKA_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BAZARIKA_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BAZARIKA_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BAZARIKA_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BAZARIKA_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BAZARIKA_REDIS_URL" required:"true"`
	PoolSize     int           `envconfig:"BAZARIKA_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BAZARIKA_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BAZARIKA_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BAZARIKA_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BAZARIKA_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"BAZARIKA_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"BAZARIKA_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"BAZARIKA_JWT_EXPIRATION_MINUTES" required:"true"`
}

// Expiration returns the access token lifetime.
func (j JWTConfig) Expiration() time.Duration {
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

// GatewayConfig holds the SSLCommerz-style payment gateway credentials and
// the URLs the gateway redirects the customer back to.
type GatewayConfig struct {
	StoreID       string        `envconfig:"BAZARIKA_GATEWAY_STORE_ID" required:"true"`
	StorePassword string        `envconfig:"BAZARIKA_GATEWAY_STORE_PASSWORD" required:"true"`
	BaseURL       string        `envconfig:"BAZARIKA_GATEWAY_BASE_URL" required:"true"`
	SuccessURL    string        `envconfig:"BAZARIKA_GATEWAY_SUCCESS_URL" required:"true"`
	FailURL       string        `envconfig:"BAZARIKA_GATEWAY_FAIL_URL" required:"true"`
	CancelURL     string        `envconfig:"BAZARIKA_GATEWAY_CANCEL_URL" required:"true"`
	IPNURL        string        `envconfig:"BAZARIKA_GATEWAY_IPN_URL"`
	Timeout       time.Duration `envconfig:"BAZARIKA_GATEWAY_TIMEOUT" default:"10s"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"BAZARIKA_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON string `envconfig:"BAZARIKA_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	OrdersTopic  string `envconfig:"BAZARIKA_PUBSUB_ORDERS_TOPIC" required:"true"`
	PayoutsTopic string `envconfig:"BAZARIKA_PUBSUB_PAYOUTS_TOPIC" default:"bz-payout-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"BAZARIKA_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"BAZARIKA_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"BAZARIKA_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"BAZARIKA_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"BAZARIKA_AUTO_MIGRATE" default:"false"`
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
