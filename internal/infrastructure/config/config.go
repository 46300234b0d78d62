package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Stripe    StripeConfig
	Scheduler SchedulerConfig
	Pricing   PricingConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
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
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	CacheTTL time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string
	TrustedProxies   []string
}

// StripeConfig holds billing provider credentials
type StripeConfig struct {
	SecretKey      string
	WebhookSecret  string
	ConnectEnabled bool // report on behalf of per-creator connected accounts
	MaxRetries     int
}

// SchedulerConfig holds the periodic aggregation/sync job configuration
type SchedulerConfig struct {
	Enabled             bool
	AggregationInterval time.Duration
	BillingSyncInterval time.Duration
	ShutdownTimeout     time.Duration
}

// PricingConfig holds the impact-estimation policy constants. These are
// heuristics, so deployments can tune them without code changes.
type PricingConfig struct {
	GrandfatherMonths   int
	ChurnRate           float64
	AutoMigratePct      float64
	RenewalMigratePct   float64
	RequiresApprovalPct float64
	AtRiskPct           float64
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with STARYER_ prefix (e.g., STARYER_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./backend")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("STARYER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
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
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			CacheTTL: v.GetDuration("redis.cache_ttl"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods: v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders: v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
		},
		Stripe: StripeConfig{
			SecretKey:      v.GetString("stripe.secret_key"),
			WebhookSecret:  v.GetString("stripe.webhook_secret"),
			ConnectEnabled: v.GetBool("stripe.connect_enabled"),
			MaxRetries:     v.GetInt("stripe.max_retries"),
		},
		Scheduler: SchedulerConfig{
			Enabled:             v.GetBool("scheduler.enabled"),
			AggregationInterval: v.GetDuration("scheduler.aggregation_interval"),
			BillingSyncInterval: v.GetDuration("scheduler.billing_sync_interval"),
			ShutdownTimeout:     v.GetDuration("scheduler.shutdown_timeout"),
		},
		Pricing: PricingConfig{
			GrandfatherMonths:   v.GetInt("pricing.grandfather_months"),
			ChurnRate:           v.GetFloat64("pricing.churn_rate"),
			AutoMigratePct:      v.GetFloat64("pricing.auto_migrate_pct"),
			RenewalMigratePct:   v.GetFloat64("pricing.renewal_migrate_pct"),
			RequiresApprovalPct: v.GetFloat64("pricing.requires_approval_pct"),
			AtRiskPct:           v.GetFloat64("pricing.at_risk_pct"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "staryer-backend"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
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
		cfg.Database.DBName = "staryer"
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
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.CacheTTL == 0 {
		cfg.Redis.CacheTTL = 5 * time.Minute
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
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "X-Request-ID", "X-Tenant-ID"}
	}
	if cfg.Stripe.MaxRetries == 0 {
		cfg.Stripe.MaxRetries = 3
	}
	if cfg.Scheduler.AggregationInterval == 0 {
		cfg.Scheduler.AggregationInterval = time.Hour
	}
	if cfg.Scheduler.BillingSyncInterval == 0 {
		cfg.Scheduler.BillingSyncInterval = 6 * time.Hour
	}
	if cfg.Scheduler.ShutdownTimeout == 0 {
		cfg.Scheduler.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Pricing.GrandfatherMonths == 0 {
		cfg.Pricing.GrandfatherMonths = 12
	}
	if cfg.Pricing.ChurnRate == 0 {
		cfg.Pricing.ChurnRate = 0.15
	}
	if cfg.Pricing.AutoMigratePct == 0 {
		cfg.Pricing.AutoMigratePct = 0.30
	}
	if cfg.Pricing.RenewalMigratePct == 0 {
		cfg.Pricing.RenewalMigratePct = 0.50
	}
	if cfg.Pricing.RequiresApprovalPct == 0 {
		cfg.Pricing.RequiresApprovalPct = 0.15
	}
	if cfg.Pricing.AtRiskPct == 0 {
		cfg.Pricing.AtRiskPct = 0.05
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
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

	for _, pct := range []struct {
		name  string
		value float64
	}{
		{"pricing.churn_rate", c.Pricing.ChurnRate},
		{"pricing.auto_migrate_pct", c.Pricing.AutoMigratePct},
		{"pricing.renewal_migrate_pct", c.Pricing.RenewalMigratePct},
		{"pricing.requires_approval_pct", c.Pricing.RequiresApprovalPct},
		{"pricing.at_risk_pct", c.Pricing.AtRiskPct},
	} {
		if pct.value < 0 || pct.value > 1 {
			return fmt.Errorf("%s must be between 0.0 and 1.0, got %f", pct.name, pct.value)
		}
	}
	if c.Pricing.GrandfatherMonths < 0 {
		return fmt.Errorf("pricing.grandfather_months cannot be negative")
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Stripe.SecretKey == "" {
			return fmt.Errorf("stripe.secret_key is required in production")
		}
		if strings.HasPrefix(c.Stripe.SecretKey, "sk_test_") {
			return fmt.Errorf("stripe.secret_key must be a live key in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
	}

	return nil
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

// RedisAddr returns the host:port address for the Redis client
func (r *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
