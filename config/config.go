package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Mpesa     MpesaConfig     `mapstructure:"mpesa"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Banks     []BankConfig    `mapstructure:"banks"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MpesaConfig holds upstream Daraja gateway settings.
type MpesaConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	ConsumerKey    string        `mapstructure:"consumer_key"`
	ConsumerSecret string        `mapstructure:"consumer_secret"`
	ShortCode      string        `mapstructure:"short_code"`
	Passkey        string        `mapstructure:"passkey"`
	CallbackURL    string        `mapstructure:"callback_url"` // where Daraja posts STK results
	Timeout        time.Duration `mapstructure:"timeout"`
	TokenMargin    time.Duration `mapstructure:"token_margin"` // refresh this long before expiry
}

// WebhookConfig holds merchant notification delivery settings.
type WebhookConfig struct {
	Secret          string        `mapstructure:"secret"` // HMAC signing key
	MaxRetries      int           `mapstructure:"max_retries"`
	BaseDelay       time.Duration `mapstructure:"base_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	Timeout         time.Duration `mapstructure:"timeout"`
	InterJobDelay   time.Duration `mapstructure:"inter_job_delay"`
	BatchSize       int           `mapstructure:"batch_size"`
	CleanupAge      time.Duration `mapstructure:"cleanup_age"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// LifecycleConfig holds stale-transaction sweep settings.
type LifecycleConfig struct {
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// BankConfig maps a bank routing code to its paybill.
type BankConfig struct {
	Code    string `mapstructure:"code"`
	Name    string `mapstructure:"name"`
	Paybill string `mapstructure:"paybill"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: MPO_ (M-Pesa Payment Orchestrator).
// Nested keys use underscore: MPO_DATABASE_HOST, MPO_MPESA_CONSUMER_KEY, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "payment_orchestrator")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mpesa.base_url", "https://sandbox.safaricom.co.ke")
	v.SetDefault("mpesa.consumer_key", "")
	v.SetDefault("mpesa.consumer_secret", "")
	v.SetDefault("mpesa.short_code", "")
	v.SetDefault("mpesa.passkey", "")
	v.SetDefault("mpesa.callback_url", "")
	v.SetDefault("mpesa.timeout", "30s")
	v.SetDefault("mpesa.token_margin", "5m")
	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.max_retries", 5)
	v.SetDefault("webhook.base_delay", "1s")
	v.SetDefault("webhook.max_delay", "5m")
	v.SetDefault("webhook.poll_interval", "10s")
	v.SetDefault("webhook.timeout", "30s")
	v.SetDefault("webhook.inter_job_delay", "100ms")
	v.SetDefault("webhook.batch_size", 20)
	v.SetDefault("webhook.cleanup_age", "24h")
	v.SetDefault("webhook.cleanup_interval", "1h")
	v.SetDefault("lifecycle.stale_after", "30m")
	v.SetDefault("lifecycle.sweep_interval", "5m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: MPO_DATABASE_HOST -> database.host
	v.SetEnvPrefix("MPO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required — env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
