// Package config loads the service configuration from configs/config.yaml
// and DOMUS_* environment variables, and serves the runtime settings stored
// in the database.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override (DOMUS_DATABASE_HOST, ...)
const EnvPrefix = "DOMUS"

// Config holds the process configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
}

// DatabaseConfig selects the PostgreSQL connection. Driver is pgx (default)
// or postgres for lib/pq.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	Timezone        string        `mapstructure:"timezone"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
}

// DSN renders a PostgreSQL keyword/value connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode, d.Timezone)
}

// URL renders the connection as a postgres:// URL
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	Issuer        string        `mapstructure:"issuer"`
	AccessExpiry  time.Duration `mapstructure:"access_expiry"`
	RefreshExpiry time.Duration `mapstructure:"refresh_expiry"`
	BcryptCost    int           `mapstructure:"bcrypt_cost"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RedisConfig enables the shared token revocation list when Addr is set
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StorageConfig points at the blob store holding documents. An empty BaseURL
// keeps documents in process memory.
type StorageConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Bucket     string        `mapstructure:"bucket"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
}

type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	OverdueSpec  string        `mapstructure:"overdue_spec"`
	LeaseSpec    string        `mapstructure:"lease_spec"`
	RentSpec     string        `mapstructure:"rent_spec"`
	RentLeadDays int           `mapstructure:"rent_lead_days"`
	SweepTimeout time.Duration `mapstructure:"sweep_timeout"`
}

// RateLimitConfig sets the token buckets: requests per minute and burst
type RateLimitConfig struct {
	LoginPerMinute  float64 `mapstructure:"login_per_minute"`
	LoginBurst      int     `mapstructure:"login_burst"`
	PublicPerMinute float64 `mapstructure:"public_per_minute"`
	PublicBurst     int     `mapstructure:"public_burst"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	Service string `mapstructure:"service"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8090")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.max_upload_bytes", 10<<20)

	v.SetDefault("database.driver", "pgx")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "domus")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "domus")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.timezone", "UTC")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.slow_threshold", 200*time.Millisecond)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "domus")
	v.SetDefault("auth.access_expiry", 24*time.Hour)
	v.SetDefault("auth.refresh_expiry", 7*24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 10)

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000", "http://localhost:5173"})

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.base_url", "")
	v.SetDefault("storage.api_key", "")
	v.SetDefault("storage.bucket", "documents")
	v.SetDefault("storage.timeout", 30*time.Second)
	v.SetDefault("storage.retry_count", 3)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.overdue_spec", "0 15 1 * * *")
	v.SetDefault("scheduler.lease_spec", "0 30 1 * * *")
	v.SetDefault("scheduler.rent_spec", "0 0 2 * * *")
	v.SetDefault("scheduler.rent_lead_days", 10)
	v.SetDefault("scheduler.sweep_timeout", 5*time.Minute)

	v.SetDefault("rate_limit.login_per_minute", 1)
	v.SetDefault("rate_limit.login_burst", 5)
	v.SetDefault("rate_limit.public_per_minute", 30)
	v.SetDefault("rate_limit.public_burst", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.service", "domus")
}

// Load reads the configuration. path may name a config file explicitly;
// otherwise config.yaml is looked up in ./configs and the working directory
// and is optional. A .env file is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.CORS.AllowedOrigins = splitList(cfg.CORS.AllowedOrigins)
	return &cfg, nil
}

// splitList flattens comma-separated entries; env overrides arrive as one
// string.
func splitList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
	}
	return result
}
