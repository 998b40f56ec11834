package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string `mapstructure:"REDIS_URL"`
	AuthSecret  string `mapstructure:"AUTH_SECRET"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	// Booking policy.
	BookingBufferMinutes int `mapstructure:"BOOKING_BUFFER_MINUTES"`
	BookingWindowDays    int `mapstructure:"BOOKING_WINDOW_DAYS"`

	// Dispensing policy: clinic-wide floor for remaining shelf life.
	MinValidDays int `mapstructure:"MIN_VALID_DAYS"`

	LockTTLSeconds int `mapstructure:"LOCK_TTL_SECONDS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BOOKING_BUFFER_MINUTES", 30)
	v.SetDefault("BOOKING_WINDOW_DAYS", 30)
	v.SetDefault("MIN_VALID_DAYS", 0)
	v.SetDefault("LOCK_TTL_SECONDS", 5)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("AUTH_SECRET")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("BOOKING_BUFFER_MINUTES")
	v.BindEnv("BOOKING_WINDOW_DAYS")
	v.BindEnv("MIN_VALID_DAYS")
	v.BindEnv("LOCK_TTL_SECONDS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.BookingBufferMinutes < 0 {
		return nil, fmt.Errorf("BOOKING_BUFFER_MINUTES must not be negative")
	}
	if cfg.BookingWindowDays < 1 {
		return nil, fmt.Errorf("BOOKING_WINDOW_DAYS must be at least 1")
	}
	if cfg.MinValidDays < 0 {
		return nil, fmt.Errorf("MIN_VALID_DAYS must not be negative")
	}

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active — all requests get admin access.")
	} else if cfg.AuthSecret == "" {
		return nil, fmt.Errorf("AUTH_SECRET is required in production")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development" || c.Env == "dev"
}

// BookingBuffer is the near-term cutoff applied to same-day slot generation.
func (c *Config) BookingBuffer() time.Duration {
	return time.Duration(c.BookingBufferMinutes) * time.Minute
}

// LockTTL bounds how long a distributed lock may be held.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}
