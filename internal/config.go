package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Security      SecurityConfig      `mapstructure:"security"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Webhook       WebhookConfig       `mapstructure:"webhook"`
	Storefront    StorefrontConfig    `mapstructure:"storefront"`
	Reconcile     ReconcileConfig     `mapstructure:"reconcile"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Prefix   string `mapstructure:"prefix"`
	PoolSize int    `mapstructure:"pool_size"`
}

type SecurityConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

// GatewayConfig holds the tokenized checkout credentials and client tuning.
type GatewayConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	AppKey             string        `mapstructure:"app_key"`
	AppSecret          string        `mapstructure:"app_secret"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	CallbackURL        string        `mapstructure:"callback_url"`
	Currency           string        `mapstructure:"currency"`
	MockMode           bool          `mapstructure:"mock_mode"`
	Timeout            time.Duration `mapstructure:"timeout"`
	TokenRefreshBuffer time.Duration `mapstructure:"token_refresh_buffer"`
	RequestsPerSecond  float64       `mapstructure:"requests_per_second"`
	Burst              int           `mapstructure:"burst"`
}

type WebhookConfig struct {
	SigningSecret string        `mapstructure:"signing_secret"`
	DedupBackend  string        `mapstructure:"dedup_backend"`
	DedupTTL      time.Duration `mapstructure:"dedup_ttl"`
}

type StorefrontConfig struct {
	ResultURL string `mapstructure:"result_url"`
}

type ReconcileConfig struct {
	StaleAfter time.Duration `mapstructure:"stale_after"`
	Interval   time.Duration `mapstructure:"interval"`
	BatchSize  int           `mapstructure:"batch_size"`
	MaxWorkers int           `mapstructure:"max_workers"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const (
	DedupBackendMemory   = "memory"
	DedupBackendRedis    = "redis"
	DedupBackendPostgres = "postgres"
)

// ----------------- DEFAULTS -----------------

func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 45 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = 30 * time.Second
	}
	if c.Gateway.TokenRefreshBuffer == 0 {
		c.Gateway.TokenRefreshBuffer = 60 * time.Second
	}
	if c.Gateway.Currency == "" {
		c.Gateway.Currency = "BDT"
	}
	if c.Webhook.DedupBackend == "" {
		c.Webhook.DedupBackend = DedupBackendMemory
	}
	if c.Webhook.DedupTTL == 0 {
		c.Webhook.DedupTTL = 72 * time.Hour
	}
	if c.Reconcile.StaleAfter == 0 {
		c.Reconcile.StaleAfter = 15 * time.Minute
	}
	if c.Reconcile.Interval == 0 {
		c.Reconcile.Interval = time.Minute
	}
	if c.Reconcile.BatchSize == 0 {
		c.Reconcile.BatchSize = 50
	}
	if c.Reconcile.MaxWorkers == 0 {
		c.Reconcile.MaxWorkers = 4
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "text"
	}
}

// LoadConfigFromEnv builds the configuration for container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:    getEnvAsInt("HTTP_PORT", 8080),
			BaseURL: getEnv("HTTP_BASE_URL", ""),
		},
		Database: DatabaseConfig{
			Source:       getEnv("DATABASE_URL", ""),
			MaxOpenConns: getEnvAsInt("DATABASE_MAX_OPEN_CONNS", 10),
			MaxIdleConns: getEnvAsInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			URL:      getEnv("REDIS_URL", ""),
			Prefix:   getEnv("REDIS_PREFIX", "payments:"),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 0),
		},
		Security: SecurityConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			JWTIssuer: getEnv("JWT_ISSUER", ""),
		},
		Gateway: GatewayConfig{
			BaseURL:            getEnv("GATEWAY_BASE_URL", ""),
			AppKey:             getEnv("GATEWAY_APP_KEY", ""),
			AppSecret:          getEnv("GATEWAY_APP_SECRET", ""),
			Username:           getEnv("GATEWAY_USERNAME", ""),
			Password:           getEnv("GATEWAY_PASSWORD", ""),
			CallbackURL:        getEnv("GATEWAY_CALLBACK_URL", ""),
			Currency:           getEnv("GATEWAY_CURRENCY", "BDT"),
			MockMode:           getEnvAsBool("GATEWAY_MOCK_MODE", false),
			Timeout:            getEnvAsDuration("GATEWAY_TIMEOUT", 30*time.Second),
			TokenRefreshBuffer: getEnvAsDuration("GATEWAY_TOKEN_REFRESH_BUFFER", 60*time.Second),
			RequestsPerSecond:  getEnvAsFloat("GATEWAY_REQUESTS_PER_SECOND", 0),
			Burst:              getEnvAsInt("GATEWAY_BURST", 0),
		},
		Webhook: WebhookConfig{
			SigningSecret: getEnv("WEBHOOK_SIGNING_SECRET", ""),
			DedupBackend:  getEnv("WEBHOOK_DEDUP_BACKEND", DedupBackendMemory),
			DedupTTL:      getEnvAsDuration("WEBHOOK_DEDUP_TTL", 72*time.Hour),
		},
		Storefront: StorefrontConfig{
			ResultURL: getEnv("STOREFRONT_RESULT_URL", ""),
		},
		Reconcile: ReconcileConfig{
			StaleAfter: getEnvAsDuration("RECONCILE_STALE_AFTER", 15*time.Minute),
			Interval:   getEnvAsDuration("RECONCILE_INTERVAL", time.Minute),
			BatchSize:  getEnvAsInt("RECONCILE_BATCH_SIZE", 50),
			MaxWorkers: getEnvAsInt("RECONCILE_MAX_WORKERS", 4),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Gateway.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("gateway config: %v", err))
	}

	if err := c.Webhook.Validate(c.Redis); err != nil {
		errs = append(errs, fmt.Sprintf("webhook config: %v", err))
	}

	if c.Security.JWTSecret == "" {
		errs = append(errs, "security config: jwt_secret is required")
	}

	if c.Storefront.ResultURL == "" {
		errs = append(errs, "storefront config: result_url is required")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *GatewayConfig) Validate() error {
	if c.MockMode {
		return nil
	}
	var missing []string
	if c.BaseURL == "" {
		missing = append(missing, "base_url")
	}
	if c.AppKey == "" {
		missing = append(missing, "app_key")
	}
	if c.AppSecret == "" {
		missing = append(missing, "app_secret")
	}
	if c.Username == "" {
		missing = append(missing, "username")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if c.CallbackURL == "" {
		missing = append(missing, "callback_url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if c.TokenRefreshBuffer >= time.Hour {
		return errors.New("token_refresh_buffer must be shorter than the token lifetime")
	}
	return nil
}

func (c *WebhookConfig) Validate(redis RedisConfig) error {
	switch c.DedupBackend {
	case DedupBackendMemory, DedupBackendPostgres:
	case DedupBackendRedis:
		if !redis.Enabled || redis.URL == "" {
			return errors.New("dedup_backend redis requires redis.enabled and redis.url")
		}
	default:
		return fmt.Errorf("unknown dedup_backend %q", c.DedupBackend)
	}
	if c.DedupTTL <= 0 {
		return errors.New("dedup_ttl must be positive")
	}
	return nil
}
