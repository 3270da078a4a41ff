/*
Package config loads process configuration.

SOURCES (later wins):
  1. defaults below
  2. .env in the working directory (optional, joho/godotenv)
  3. process environment
  4. command-line flags, applied by cmd/server

KEYS:
  HTTP_ADDR            listen address                   :8080
  DB_DRIVER            sqlite3 | pgx                    sqlite3
  DATABASE_URL         DSN or SQLite path               ./data/caixa.db
  TIMEZONE             business-day time zone           America/Sao_Paulo
  LOG_LEVEL            zerolog level                    info
  LOG_FORMAT           console | json                   console
  REGISTERS_FILE       YAML register catalog            (none)
  EVALUATION_REGISTER  register for evaluation payouts  Avaliação
  CORS_ORIGINS         comma-separated origins          *
  WATCHDOG_INTERVAL    closing watchdog period          15m (0 disables)
  SCENARIOS_ENABLED    demo scenario endpoints          true
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // zone database for hosts without one

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/crescieperdi/caixa/ledger"
)

type Config struct {
	HTTPAddr           string
	DBDriver           string
	DatabaseURL        string
	Timezone           string
	LogLevel           string
	LogFormat          string
	RegistersFile      string
	EvaluationRegister string
	CORSOrigins        []string
	WatchdogInterval   time.Duration
	ScenariosEnabled   bool

	location *time.Location
}

func Default() Config {
	return Config{
		HTTPAddr:           ":8080",
		DBDriver:           "sqlite3",
		DatabaseURL:        "./data/caixa.db",
		Timezone:           "America/Sao_Paulo",
		LogLevel:           "info",
		LogFormat:          "console",
		EvaluationRegister: ledger.DefaultEvaluationRegister,
		CORSOrigins:        []string{"*"},
		WatchdogInterval:   15 * time.Minute,
		ScenariosEnabled:   true,
	}
}

// Load reads .env when present, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load() // .env is optional
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv over the defaults and validates it.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Default()

	setString(&cfg.HTTPAddr, getenv("HTTP_ADDR"))
	setString(&cfg.DBDriver, getenv("DB_DRIVER"))
	setString(&cfg.DatabaseURL, getenv("DATABASE_URL"))
	setString(&cfg.Timezone, getenv("TIMEZONE"))
	setString(&cfg.LogLevel, getenv("LOG_LEVEL"))
	setString(&cfg.LogFormat, getenv("LOG_FORMAT"))
	setString(&cfg.RegistersFile, getenv("REGISTERS_FILE"))
	setString(&cfg.EvaluationRegister, getenv("EVALUATION_REGISTER"))
	if v := getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitCSV(v)
	}
	if v := getenv("WATCHDOG_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("WATCHDOG_INTERVAL: %w", err)
		}
		cfg.WatchdogInterval = d
	}
	if v := getenv("SCENARIOS_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("SCENARIOS_ENABLED: %w", err)
		}
		cfg.ScenariosEnabled = b
	}

	err := cfg.Validate()
	return cfg, err
}

// Validate checks values and resolves the time zone. It is safe to call
// again after flags changed the config.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("HTTP_ADDR is required")
	}
	switch c.DBDriver {
	case "sqlite", "sqlite3", "pgx", "postgres", "postgresql":
	default:
		return fmt.Errorf("DB_DRIVER: unsupported driver %q", c.DBDriver)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("LOG_FORMAT: must be console or json, got %q", c.LogFormat)
	}
	if c.WatchdogInterval < 0 {
		return fmt.Errorf("WATCHDOG_INTERVAL: must not be negative")
	}
	if strings.TrimSpace(c.EvaluationRegister) == "" {
		return fmt.Errorf("EVALUATION_REGISTER must not be empty")
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}
	c.location = loc
	return nil
}

// Location is the business-day time zone. Validate must have succeeded.
func (c Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}
	return c.location
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func splitCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
