// Package config loads application settings from a .env file and environment variables.
// Environment variables always take precedence over .env file values.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/padraicbc/racedata/ingest"
	"github.com/padraicbc/racedata/matching"
)

// Config holds all application configuration.
type Config struct {
	// Database – DBDriver selects postgres (default) or sqlite for local runs.
	DBDriver   string
	SQLitePath string

	// PostgreSQL – either set DatabaseURL directly, or the individual fields.
	DatabaseURL string
	DBUser      string
	DBPass      string
	DBHost      string
	DBPort      string
	DBName      string
	DBSSLMode   string

	// JWT signing secret (required in production).
	JWTSecret string

	// Server
	Debug      bool
	Port       string
	TLSDomains []string

	// MySQL – legacy timing database, used only by cmd/migrate.
	MySQLDSN string

	// Ingestion worker
	WorkerURL         string
	WorkerToken       string
	WorkerRPS         float64
	PollInterval      time.Duration
	MaxPollAttempts   int
	RunTimeout        time.Duration
	ReconcileAttempts int

	// Driver matching policy
	MatchMinScore       float64
	MatchConflictMargin float64
}

// Load reads configuration from a .env file (if present) and then from
// environment variables. Environment variables always win.
func Load() *Config {
	cfg, err := read(newViper())
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("SQLITE_PATH", "racedata.db")
	v.SetDefault("DB_USER", "padraic")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "racedata")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("PORT", ":9000")
	v.SetDefault("TLS_DOMAINS", "racedata.app,www.racedata.app")
	v.SetDefault("DEBUG", false)

	v.SetDefault("INGEST_WORKER_URL", "http://localhost:8787")
	v.SetDefault("INGEST_WORKER_RPS", 2.0)
	v.SetDefault("INGEST_POLL_INTERVAL", "5s")
	v.SetDefault("INGEST_MAX_ATTEMPTS", 60)
	v.SetDefault("INGEST_RUN_TIMEOUT", "5m")
	v.SetDefault("INGEST_RECONCILE_ATTEMPTS", 3)

	v.SetDefault("MATCH_MIN_SCORE", 0.80)
	v.SetDefault("MATCH_CONFLICT_MARGIN", 0.03)
}

func read(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	cfg := &Config{
		DBDriver:            strings.ToLower(v.GetString("DB_DRIVER")),
		SQLitePath:          v.GetString("SQLITE_PATH"),
		DatabaseURL:         v.GetString("DATABASE_URL"),
		DBUser:              v.GetString("DB_USER"),
		DBPass:              v.GetString("DB_PASS"),
		DBHost:              v.GetString("DB_HOST"),
		DBPort:              v.GetString("DB_PORT"),
		DBName:              v.GetString("DB_NAME"),
		DBSSLMode:           v.GetString("DB_SSLMODE"),
		JWTSecret:           v.GetString("JWT_SECRET"),
		Debug:               v.GetBool("DEBUG"),
		Port:                v.GetString("PORT"),
		TLSDomains:          splitTrimmed(v.GetString("TLS_DOMAINS")),
		MySQLDSN:            v.GetString("MYSQL_DSN"),
		WorkerURL:           strings.TrimRight(v.GetString("INGEST_WORKER_URL"), "/"),
		WorkerToken:         v.GetString("INGEST_WORKER_TOKEN"),
		WorkerRPS:           v.GetFloat64("INGEST_WORKER_RPS"),
		PollInterval:        v.GetDuration("INGEST_POLL_INTERVAL"),
		MaxPollAttempts:     v.GetInt("INGEST_MAX_ATTEMPTS"),
		RunTimeout:          v.GetDuration("INGEST_RUN_TIMEOUT"),
		ReconcileAttempts:   v.GetInt("INGEST_RECONCILE_ATTEMPTS"),
		MatchMinScore:       v.GetFloat64("MATCH_MIN_SCORE"),
		MatchConflictMargin: v.GetFloat64("MATCH_CONFLICT_MARGIN"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PostgresDSN returns the full PostgreSQL connection string.
// DATABASE_URL takes precedence over individual fields.
func (c *Config) PostgresDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser,
		c.DBPass,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

// JWTKey returns the JWT signing key as a byte slice.
func (c *Config) JWTKey() []byte {
	return []byte(c.JWTSecret)
}

// Ingest returns the orchestrator's polling and timeout settings.
func (c *Config) Ingest() ingest.Settings {
	return ingest.Settings{
		PollInterval:      c.PollInterval,
		MaxAttempts:       c.MaxPollAttempts,
		RunTimeout:        c.RunTimeout,
		ReconcileAttempts: c.ReconcileAttempts,
	}
}

// Matching returns the fuzzy matching policy.
func (c *Config) Matching() matching.Policy {
	return matching.Policy{
		MinScore:       c.MatchMinScore,
		ConflictMargin: c.MatchConflictMargin,
	}
}

// Validate checks required settings and the matching policy bounds.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres":
		if c.DatabaseURL == "" && c.DBPass == "" {
			return errors.New("DATABASE_URL or DB_PASS must be set")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH must be set when DB_DRIVER=sqlite")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}
	if c.PollInterval <= 0 {
		return errors.New("INGEST_POLL_INTERVAL must be positive")
	}
	if c.MaxPollAttempts <= 0 {
		return errors.New("INGEST_MAX_ATTEMPTS must be positive")
	}
	if c.RunTimeout <= 0 {
		return errors.New("INGEST_RUN_TIMEOUT must be positive")
	}
	if c.MatchMinScore <= 0 || c.MatchMinScore > 1 {
		return fmt.Errorf("MATCH_MIN_SCORE must be in (0,1], got %v", c.MatchMinScore)
	}
	if c.MatchConflictMargin < 0 || c.MatchConflictMargin >= 1 {
		return fmt.Errorf("MATCH_CONFLICT_MARGIN must be in [0,1), got %v", c.MatchConflictMargin)
	}
	return nil
}

func newViper() *viper.Viper {
	// Silently load .env – OK if the file doesn't exist (production uses real env vars).
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file found, using environment variables only")
	}

	v := viper.New()
	v.AutomaticEnv()
	return v
}

func splitTrimmed(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
