// Package config loads the process engine's settings: environment
// variables (via envdecode) layered over a YAML file, styled directly on
// the teacher's pkg/config package.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host" env:"SERVER_HOST"`
	Port int    `yaml:"port" env:"SERVER_PORT"`
}

type DatabaseConfig struct {
	DSN             string `yaml:"dsn" env:"DATABASE_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	MigrateOnStart  bool   `yaml:"migrate_on_start" env:"DATABASE_MIGRATE_ON_START"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret" env:"AUTH_JWT_SECRET"`
	SessionTTLMin int    `yaml:"session_ttl_minutes" env:"AUTH_SESSION_TTL_MINUTES"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int     `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

// Config is the top-level settings structure, loaded once at startup in
// cmd/engine/main.go.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	BalanceFile string        `yaml:"balance_file" env:"BALANCE_FILE"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{
			MaxOpenConns:   10,
			MaxIdleConns:   5,
			MigrateOnStart: true,
		},
		Logging:     LoggingConfig{Level: "info", Format: "json"},
		Auth:        AuthConfig{SessionTTLMin: 60},
		RateLimit:   RateLimitConfig{RequestsPerSecond: 5, Burst: 10},
		BalanceFile: "configs/balance.yaml",
	}
}

// Load reads a .env file if present, then a YAML file, then environment
// variables, each layer overriding the last.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "configs/config.yaml"
	}
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
