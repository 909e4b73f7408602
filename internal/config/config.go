// Package config provides configuration management for the rental service.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all configuration for the rental service
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Auth       AuthConfig
	Encryption EncryptionConfig
	Logging    LoggingConfig
	Tracing    TracingConfig
	Resilience ResilienceConfig
	Rental     RentalConfig
	Scheduler  SchedulerConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DenylistKey  string `mapstructure:"denylist_key"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig holds Kafka connection settings
type KafkaConfig struct {
	Brokers          []string `mapstructure:"brokers"`
	ConsumerGroupID  string   `mapstructure:"consumer_group_id"`
	EnableIdempotent bool     `mapstructure:"enable_idempotent"`
	MaxRetries       int      `mapstructure:"max_retries"`

	// Topics
	OverdueNoticeTopic  string `mapstructure:"overdue_notice_topic"`
	RentalReturnedTopic string `mapstructure:"rental_returned_topic"`
}

// AuthConfig holds authentication settings for the HTTP API
type AuthConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	JWTPublicKeyPath string `mapstructure:"jwt_public_key_path"`
	Issuer           string `mapstructure:"issuer"`
}

// EncryptionConfig holds encryption settings for customer data at rest
type EncryptionConfig struct {
	EncryptionKeysBase64 string `mapstructure:"encryption_keys"`
	CurrentKeyVersion    int    `mapstructure:"current_key_version"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TracingConfig holds distributed tracing settings
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// ResilienceConfig holds circuit breaker settings
type ResilienceConfig struct {
	CircuitBreakerMaxRequests  uint32        `mapstructure:"cb_max_requests"`
	CircuitBreakerInterval     time.Duration `mapstructure:"cb_interval"`
	CircuitBreakerTimeout      time.Duration `mapstructure:"cb_timeout"`
	CircuitBreakerFailureRatio float64       `mapstructure:"cb_failure_ratio"`
	CreditCheckTimeout         time.Duration `mapstructure:"credit_check_timeout"`
}

// RentalConfig holds rental policy settings
type RentalConfig struct {
	RestDay             string    `mapstructure:"rest_day"`
	Timezone            string    `mapstructure:"timezone"`
	DiscountMultipliers []float64 `mapstructure:"discount_multipliers"`
}

// RestWeekday parses RestDay into a time.Weekday
func (c RentalConfig) RestWeekday() (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), c.RestDay) {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("invalid rest day %q", c.RestDay)
}

// Location loads the timezone used to decide what "today" is
func (c RentalConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Multipliers converts the discount table to decimals
func (c RentalConfig) Multipliers() []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(c.DiscountMultipliers))
	for _, m := range c.DiscountMultipliers {
		out = append(out, decimal.NewFromFloat(m))
	}
	return out
}

// SchedulerConfig holds cron specs for background jobs
type SchedulerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	NotifyOverdue string        `mapstructure:"notify_overdue"`
	RetryEvents   string        `mapstructure:"retry_events"`
	JobTimeout    time.Duration `mapstructure:"job_timeout"`
}

// Load reads configuration from environment variables and config files
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix("RENTAL_SERVICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Try to read config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/rental-service")

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if _, err := cfg.Rental.RestWeekday(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8082)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.database", "rentals_db")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "5m")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.denylist_key", "rental:denylist")

	// Kafka defaults
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group_id", "rental-service")
	v.SetDefault("kafka.enable_idempotent", true)
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.overdue_notice_topic", "videostore.rentals.overdue")
	v.SetDefault("kafka.rental_returned_topic", "videostore.rentals.returned")

	// Auth defaults
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_public_key_path", "./keys/jwt_public.pem")
	v.SetDefault("auth.issuer", "videostore-auth")

	// Encryption defaults
	v.SetDefault("encryption.current_key_version", 1)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "rental-service")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 0.1)

	// Resilience defaults
	v.SetDefault("resilience.cb_max_requests", 5)
	v.SetDefault("resilience.cb_interval", "10s")
	v.SetDefault("resilience.cb_timeout", "60s")
	v.SetDefault("resilience.cb_failure_ratio", 0.6)
	v.SetDefault("resilience.credit_check_timeout", "2s")

	// Rental defaults
	v.SetDefault("rental.rest_day", "Sunday")
	v.SetDefault("rental.timezone", "UTC")
	v.SetDefault("rental.discount_multipliers", []float64{1, 1, 0.75, 0.5, 0.25, 0})

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.notify_overdue", "0 0 8 * * *") // 08:00 daily
	v.SetDefault("scheduler.retry_events", "0 */5 * * * *")
	v.SetDefault("scheduler.job_timeout", "5m")
}
