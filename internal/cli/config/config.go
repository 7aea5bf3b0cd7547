package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hireflow/hireflow/internal/logging"
)

// Config represents the hireflow configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      logging.Config `mapstructure:"log"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Webhooks WebhooksConfig `mapstructure:"webhooks"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	// RequestsPerMinute is the per-client-IP API limit; 0 disables it
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	// PprofAddress serves profiling on a separate listener; empty disables it
	PprofAddress string `mapstructure:"pprof_address"`
}

// Address returns host:port
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig configures the optional Redis backend; an empty Addr disables it
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether Redis should be used
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// AuthConfig configures token issuance
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// JobsConfig configures background workers
type JobsConfig struct {
	Workers      int           `mapstructure:"workers"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Queues       []string      `mapstructure:"queues"`
	PurgeAfter   time.Duration `mapstructure:"purge_after"`
	LockTimeout  time.Duration `mapstructure:"lock_timeout"`
	// DrainTimeout bounds how long stopping workers wait for in-flight jobs
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

// NotifyConfig configures outbound messaging
type NotifyConfig struct {
	SMS   SMSConfig   `mapstructure:"sms"`
	Email EmailConfig `mapstructure:"email"`
}

// SMSConfig configures the HTTP SMS gateway
type SMSConfig struct {
	GatewayURL string `mapstructure:"gateway_url"`
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
}

// EmailConfig configures SMTP delivery
type EmailConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// WebhooksConfig configures outbound webhook delivery
type WebhooksConfig struct {
	RatePerMinute int           `mapstructure:"rate_per_minute"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
}

// Load reads configuration from path, or from hireflow.yaml in the search
// paths when path is empty. Environment variables prefixed with HIREFLOW_
// override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("hireflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hireflow")
	}

	v.SetEnvPrefix("HIREFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults and environment
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.request_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.requests_per_minute", 600)
	v.SetDefault("server.pprof_address", "")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 12*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.poll_interval", time.Second)
	v.SetDefault("jobs.queues", []string{"default", "notifications", "webhooks"})
	v.SetDefault("jobs.purge_after", 7*24*time.Hour)
	v.SetDefault("jobs.lock_timeout", 15*time.Minute)
	v.SetDefault("jobs.drain_timeout", 20*time.Second)

	v.SetDefault("notify.sms.gateway_url", "")
	v.SetDefault("notify.sms.account_sid", "")
	v.SetDefault("notify.sms.auth_token", "")
	v.SetDefault("notify.sms.from", "")
	v.SetDefault("notify.email.host", "")
	v.SetDefault("notify.email.port", 587)
	v.SetDefault("notify.email.username", "")
	v.SetDefault("notify.email.password", "")
	v.SetDefault("notify.email.from", "")

	v.SetDefault("webhooks.rate_per_minute", 60)
	v.SetDefault("webhooks.timeout", 10*time.Second)
	v.SetDefault("webhooks.max_attempts", 8)
}

// Validate checks the configuration for values the server cannot run with
func Validate(cfg *Config) error {
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got: %d", cfg.Server.Port)
	}
	if cfg.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be positive, got: %d", cfg.Jobs.Workers)
	}
	if cfg.Webhooks.RatePerMinute < 0 {
		return fmt.Errorf("webhooks.rate_per_minute must not be negative, got: %d", cfg.Webhooks.RatePerMinute)
	}
	if cfg.Server.RequestsPerMinute < 0 {
		return fmt.Errorf("server.requests_per_minute must not be negative, got: %d", cfg.Server.RequestsPerMinute)
	}
	if cfg.Webhooks.MaxAttempts <= 0 {
		return fmt.Errorf("webhooks.max_attempts must be positive, got: %d", cfg.Webhooks.MaxAttempts)
	}
	return nil
}
