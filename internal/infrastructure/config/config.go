package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Shopify   ShopifyConfig
	Billing   BillingConfig
	Klaviyo   KlaviyoConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Webhook   WebhookConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Frontend  FrontendConfig
	Telemetry TelemetryConfig
	Swagger   SwaggerConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
	Host string // public https URL of the app, e.g. https://relay.example.com
}

// IsProduction reports whether the app runs in production
func (a AppConfig) IsProduction() bool {
	return a.Env == "production"
}

// ShopifyConfig holds platform app credentials and behavior
type ShopifyConfig struct {
	APIKey            string
	APISecret         string
	Scopes            []string
	APIVersion        string
	Embedded          bool
	UseOnlineTokens   bool
	CustomShopDomains []string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	RequestBurst      int
}

// BillingConfig holds the required-charge settings
type BillingConfig struct {
	Required     bool
	ChargeName   string
	Amount       string
	CurrencyCode string
	Interval     string
}

// KlaviyoConfig holds marketing API settings
type KlaviyoConfig struct {
	Endpoint       string
	PublicKey      string
	EventName      string
	Timeout        time.Duration
	ForwardTimeout time.Duration
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres or sqlite
	SQLitePath      string
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	LogLevel        string
	SlowThreshold   time.Duration
	MigrationsPath  string
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// WebhookConfig holds webhook ingestion settings
type WebhookConfig struct {
	MaxBodySize    int64
	DedupEnabled   bool
	DedupTTL       time.Duration
	RegisterOnAuth bool
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int
	RateLimitEnabled  bool
	RateLimitRequests float64 // per second
	RateLimitBurst    int
	TrustedProxies    []string
}

// FrontendConfig holds the embedded frontend entry document location
type FrontendConfig struct {
	IndexPath string
}

// SwaggerConfig holds API documentation endpoint configuration
type SwaggerConfig struct {
	Enabled    bool
	AllowedIPs []string // single IPs or CIDR ranges; empty allows everyone
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsEnabled    bool
	MetricsInterval   time.Duration
	LogsEnabled       bool
	LogsLevel         string
	DBTraceEnabled    bool
	ProfilingEnabled  bool
	ProfilingServer   string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with SHIPNOTIFY_ prefix (e.g., SHIPNOTIFY_DATABASE_PASSWORD)
// 2. Platform CLI variables (SHOPIFY_API_KEY, SHOPIFY_API_SECRET, SCOPES, HOST, ...)
// 3. config.toml
// 4. Built-in defaults
//
// A .env file in the working directory is loaded first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("SHIPNOTIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindPlatformEnv(v)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
			Host: v.GetString("app.host"),
		},
		Shopify: ShopifyConfig{
			APIKey:            v.GetString("shopify.api_key"),
			APISecret:         v.GetString("shopify.api_secret"),
			Scopes:            splitList(v.GetStringSlice("shopify.scopes")),
			APIVersion:        v.GetString("shopify.api_version"),
			Embedded:          v.GetBool("shopify.embedded"),
			UseOnlineTokens:   v.GetBool("shopify.use_online_tokens"),
			CustomShopDomains: splitList(v.GetStringSlice("shopify.custom_shop_domains")),
			RequestTimeout:    v.GetDuration("shopify.request_timeout"),
			RequestsPerSecond: v.GetFloat64("shopify.requests_per_second"),
			RequestBurst:      v.GetInt("shopify.request_burst"),
		},
		Billing: BillingConfig{
			Required:     v.GetBool("billing.required"),
			ChargeName:   v.GetString("billing.charge_name"),
			Amount:       v.GetString("billing.amount"),
			CurrencyCode: v.GetString("billing.currency_code"),
			Interval:     v.GetString("billing.interval"),
		},
		Klaviyo: KlaviyoConfig{
			Endpoint:       v.GetString("klaviyo.endpoint"),
			PublicKey:      v.GetString("klaviyo.public_key"),
			EventName:      v.GetString("klaviyo.event_name"),
			Timeout:        v.GetDuration("klaviyo.timeout"),
			ForwardTimeout: v.GetDuration("klaviyo.forward_timeout"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			SQLitePath:      v.GetString("database.sqlite_path"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			LogLevel:        v.GetString("database.log_level"),
			SlowThreshold:   v.GetDuration("database.slow_threshold"),
			MigrationsPath:  v.GetString("database.migrations_path"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Webhook: WebhookConfig{
			MaxBodySize:    v.GetInt64("webhook.max_body_size"),
			DedupEnabled:   v.GetBool("webhook.dedup_enabled"),
			DedupTTL:       v.GetDuration("webhook.dedup_ttl"),
			RegisterOnAuth: v.GetBool("webhook.register_on_auth"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:       v.GetDuration("http.read_timeout"),
			WriteTimeout:      v.GetDuration("http.write_timeout"),
			IdleTimeout:       v.GetDuration("http.idle_timeout"),
			ShutdownTimeout:   v.GetDuration("http.shutdown_timeout"),
			MaxHeaderBytes:    v.GetInt("http.max_header_bytes"),
			RateLimitEnabled:  v.GetBool("http.rate_limit_enabled"),
			RateLimitRequests: v.GetFloat64("http.rate_limit_requests"),
			RateLimitBurst:    v.GetInt("http.rate_limit_burst"),
			TrustedProxies:    splitList(v.GetStringSlice("http.trusted_proxies")),
		},
		Frontend: FrontendConfig{
			IndexPath: v.GetString("frontend.index_path"),
		},
		Swagger: SwaggerConfig{
			Enabled:    v.GetBool("swagger.enabled"),
			AllowedIPs: splitList(v.GetStringSlice("swagger.allowed_ips")),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			LogsLevel:         v.GetString("telemetry.logs_level"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			ProfilingServer:   v.GetString("telemetry.profiling_server"),
		},
	}

	// Embedded mode is the platform default; only an explicit false turns it off
	if !v.IsSet("shopify.embedded") {
		cfg.Shopify.Embedded = true
	}
	if !v.IsSet("webhook.dedup_enabled") {
		cfg.Webhook.DedupEnabled = true
	}
	if !v.IsSet("webhook.register_on_auth") {
		cfg.Webhook.RegisterOnAuth = true
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// bindPlatformEnv maps the variable names used by the platform CLI onto config keys
func bindPlatformEnv(v *viper.Viper) {
	bindings := map[string][]string{
		"shopify.api_key":             {"SHIPNOTIFY_SHOPIFY_API_KEY", "SHOPIFY_API_KEY"},
		"shopify.api_secret":          {"SHIPNOTIFY_SHOPIFY_API_SECRET", "SHOPIFY_API_SECRET"},
		"shopify.scopes":              {"SHIPNOTIFY_SHOPIFY_SCOPES", "SCOPES"},
		"shopify.custom_shop_domains": {"SHIPNOTIFY_SHOPIFY_CUSTOM_SHOP_DOMAINS", "SHOP_CUSTOM_DOMAIN"},
		"app.host":                    {"SHIPNOTIFY_APP_HOST", "HOST"},
		"app.port":                    {"SHIPNOTIFY_APP_PORT", "BACKEND_PORT", "PORT"},
	}
	for key, envs := range bindings {
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}
}

// splitList flattens comma separated entries coming from env vars
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "shipnotify"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8081"
	}
	if cfg.App.Host == "" {
		cfg.App.Host = "http://localhost:" + cfg.App.Port
	}
	if cfg.Shopify.APIVersion == "" {
		cfg.Shopify.APIVersion = "2024-10"
	}
	if cfg.Shopify.RequestTimeout == 0 {
		cfg.Shopify.RequestTimeout = 10 * time.Second
	}
	if cfg.Shopify.RequestsPerSecond == 0 {
		cfg.Shopify.RequestsPerSecond = 2
	}
	if cfg.Shopify.RequestBurst == 0 {
		cfg.Shopify.RequestBurst = 4
	}
	if cfg.Billing.CurrencyCode == "" {
		cfg.Billing.CurrencyCode = "USD"
	}
	if cfg.Billing.Interval == "" {
		cfg.Billing.Interval = "ONE_TIME"
	}
	if cfg.Klaviyo.Endpoint == "" {
		cfg.Klaviyo.Endpoint = "https://a.klaviyo.com/api/track"
	}
	if cfg.Klaviyo.EventName == "" {
		cfg.Klaviyo.EventName = "Order Delivered"
	}
	if cfg.Klaviyo.Timeout == 0 {
		cfg.Klaviyo.Timeout = 10 * time.Second
	}
	if cfg.Klaviyo.ForwardTimeout == 0 {
		cfg.Klaviyo.ForwardTimeout = 30 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "database.sqlite"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "shipnotify"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}
	if cfg.Database.SlowThreshold == 0 {
		cfg.Database.SlowThreshold = 200 * time.Millisecond
	}
	if cfg.Database.MigrationsPath == "" {
		cfg.Database.MigrationsPath = "migrations"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Webhook.MaxBodySize == 0 {
		cfg.Webhook.MaxBodySize = 1 << 20 // 1MB
	}
	if cfg.Webhook.DedupTTL == 0 {
		cfg.Webhook.DedupTTL = 48 * time.Hour
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 30 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.RateLimitRequests == 0 {
		cfg.HTTP.RateLimitRequests = 20
	}
	if cfg.HTTP.RateLimitBurst == 0 {
		cfg.HTTP.RateLimitBurst = 40
	}
	if cfg.Frontend.IndexPath == "" {
		cfg.Frontend.IndexPath = "frontend/dist/index.html"
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.LogsLevel == "" {
		cfg.Telemetry.LogsLevel = "info"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if _, err := url.ParseRequestURI(c.App.Host); err != nil {
		return fmt.Errorf("app.host must be an absolute URL: %w", err)
	}

	if c.Billing.Required && strings.TrimSpace(c.Billing.ChargeName) == "" {
		return fmt.Errorf("billing.charge_name is required when billing.required is true")
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	if c.App.IsProduction() {
		if c.Shopify.APIKey == "" {
			return fmt.Errorf("shopify.api_key is required in production")
		}
		if c.Shopify.APISecret == "" {
			return fmt.Errorf("shopify.api_secret is required in production")
		}
		if !strings.HasPrefix(c.App.Host, "https://") {
			return fmt.Errorf("app.host must use https in production")
		}
		if c.Klaviyo.PublicKey == "" {
			return fmt.Errorf("klaviyo.public_key is required in production")
		}
		if c.Swagger.Enabled && len(c.Swagger.AllowedIPs) == 0 {
			return fmt.Errorf("swagger endpoint must be disabled or restricted by swagger.allowed_ips in production")
		}
		if c.Database.Driver == "postgres" {
			if c.Database.Password == "" {
				return fmt.Errorf("database.password is required in production")
			}
			if c.Database.SSLMode == "disable" {
				return fmt.Errorf("database.sslmode cannot be 'disable' in production")
			}
		}
	}

	return nil
}

// HostName returns the app host without scheme, e.g. relay.example.com
func (a AppConfig) HostName() string {
	u, err := url.Parse(a.Host)
	if err != nil || u.Host == "" {
		return strings.TrimPrefix(strings.TrimPrefix(a.Host, "https://"), "http://")
	}
	return u.Host
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns host:port of the Redis server
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
