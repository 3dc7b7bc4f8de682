package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "givebridge"

	AppEnvDev  = "dev"
	AppEnvProd = "production"

	EnvAppEnv    = "GIVEBRIDGE_APP_ENV"
	EnvPort      = "GIVEBRIDGE_APP_PORT"
	EnvDBDSN     = "GIVEBRIDGE_DB_DSN"
	EnvDBHost    = "GIVEBRIDGE_DB_HOST"
	EnvDBUser    = "GIVEBRIDGE_DB_USER"
	EnvDBName    = "GIVEBRIDGE_DB_NAME"
	EnvRedisURL  = "GIVEBRIDGE_REDIS_URL"
	EnvJWTSecret = "GIVEBRIDGE_JWT_SECRET"
	EnvJWTIssuer = "GIVEBRIDGE_JWT_ISSUER"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Billing      BillingConfig
	Square       SquareConfig
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
	Env          string `envconfig:"GIVEBRIDGE_APP_ENV" required:"true"`
	Port         string `envconfig:"GIVEBRIDGE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"GIVEBRIDGE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"GIVEBRIDGE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"GIVEBRIDGE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"GIVEBRIDGE_DB_DSN"`
	Driver string `envconfig:"GIVEBRIDGE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"GIVEBRIDGE_DB_HOST"`
	LegacyPort     int    `envconfig:"GIVEBRIDGE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"GIVEBRIDGE_DB_USER"`
	LegacyPassword string `envconfig:"GIVEBRIDGE_DB_PASSWORD"`
	LegacyName     string `envconfig:"GIVEBRIDGE_DB_NAME"`
	LegacySSLMode  string `envconfig:"GIVEBRIDGE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"GIVEBRIDGE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"GIVEBRIDGE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"GIVEBRIDGE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"GIVEBRIDGE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"GIVEBRIDGE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"GIVEBRIDGE_REDIS_ADDR"`
	Password     string        `envconfig:"GIVEBRIDGE_REDIS_PASSWORD"`
	DB           int           `envconfig:"GIVEBRIDGE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"GIVEBRIDGE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"GIVEBRIDGE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"GIVEBRIDGE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"GIVEBRIDGE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"GIVEBRIDGE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"GIVEBRIDGE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"GIVEBRIDGE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"GIVEBRIDGE_JWT_EXPIRATION_MINUTES" default:"60"`
}

// BillingConfig tunes the recurring billing engine. The retry schedule itself is
// a policy constant, not configuration; only operational knobs live here.
type BillingConfig struct {
	GatewayTimeout time.Duration `envconfig:"GIVEBRIDGE_BILLING_GATEWAY_TIMEOUT" default:"30s"`
	SweepInterval  time.Duration `envconfig:"GIVEBRIDGE_BILLING_SWEEP_INTERVAL" default:"1h"`
	SweepBatchSize int           `envconfig:"GIVEBRIDGE_BILLING_SWEEP_BATCH_SIZE" default:"250"`
}

type SquareConfig struct {
	AccessToken      string `envconfig:"GIVEBRIDGE_SQUARE_ACCESS_TOKEN"`
	WebhookSecret    string `envconfig:"GIVEBRIDGE_SQUARE_WEBHOOK_SECRET"`
	WebhookNotifyURL string `envconfig:"GIVEBRIDGE_SQUARE_WEBHOOK_NOTIFY_URL"`
	LocationID    string `envconfig:"GIVEBRIDGE_SQUARE_LOCATION_ID"`
	Env           string `envconfig:"GIVEBRIDGE_SQUARE_ENV" default:"sandbox"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type GCPConfig struct {
	ProjectID              string `envconfig:"GIVEBRIDGE_GCP_PROJECT_ID"`
	ApplicationCredentials string `envconfig:"GIVEBRIDGE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	BillingTopic         string `envconfig:"GIVEBRIDGE_PUBSUB_BILLING_TOPIC" default:"gb-billing-events"`
	BillingSubscription  string `envconfig:"GIVEBRIDGE_PUBSUB_BILLING_SUBSCRIPTION"`
	NotificationTopic    string `envconfig:"GIVEBRIDGE_PUBSUB_NOTIFICATION_TOPIC" default:"gb-notification-events"`
	NotificationSubscrip string `envconfig:"GIVEBRIDGE_PUBSUB_NOTIFICATION_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"GIVEBRIDGE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"GIVEBRIDGE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"GIVEBRIDGE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"GIVEBRIDGE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"GIVEBRIDGE_AUTO_MIGRATE" default:"false"`
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
