// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Env            string   `envconfig:"ENV" default:"development"`
	Port           string   `envconfig:"PORT" default:"8080"`
	JWTSecret      string   `envconfig:"JWT_SECRET" required:"true"`
	DBType         string   `envconfig:"DB_TYPE" default:"postgres"`
	DatabaseURL    string   `envconfig:"DATABASE_URL"`
	DBHost         string   `envconfig:"DB_HOST"`
	DBPort         string   `envconfig:"DB_PORT" default:"5432"`
	DBName         string   `envconfig:"DB_NAME"`
	DBUser         string   `envconfig:"DB_USER"`
	DBPassword     string   `envconfig:"DB_PASSWORD"`
	AutoMigrate    bool     `envconfig:"AUTO_MIGRATE" default:"false"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
	LogLevel       string   `envconfig:"LOG_LEVEL" default:"info"`
	SeedDemo       bool     `envconfig:"SEED_DEMO" default:"false"`

	StoreTimeout       time.Duration `envconfig:"STORE_TIMEOUT" default:"5s"`
	RateLimitPerMinute int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"60"`
	SendBuffer         int           `envconfig:"SEND_BUFFER" default:"256"`

	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	MembershipTTL time.Duration `envconfig:"MEMBERSHIP_TTL" default:"1m"`

	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"trip-chat-events"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// a missing .env is fine; variables may come from the environment
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		url, err := cfg.buildDatabaseURL()
		if err != nil {
			return nil, err
		}
		cfg.DatabaseURL = url
	}
	return &cfg, nil
}

// buildDatabaseURL falls back to the individual DB_* variables.
func (c *Config) buildDatabaseURL() (string, error) {
	switch c.DBType {
	case "sqlite":
		if c.DBName == "" {
			return "tripchat.db", nil
		}
		return c.DBName, nil
	case "postgres":
		if c.DBHost == "" || c.DBName == "" || c.DBUser == "" {
			return "", fmt.Errorf("config: database connection details missing, set DATABASE_URL or DB_HOST, DB_NAME and DB_USER")
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
			c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName), nil
	case "mysql":
		if c.DBHost == "" || c.DBName == "" || c.DBUser == "" {
			return "", fmt.Errorf("config: database connection details missing, set DATABASE_URL or DB_HOST, DB_NAME and DB_USER")
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
			c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName), nil
	default:
		return "", fmt.Errorf("config: unsupported DB_TYPE %q", c.DBType)
	}
}

// IsProduction reports whether gin should run in release mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}
