package dbconfig

import (
	"fmt"
	"os"
	"strconv"
)

// Drivers the results store can open.
const (
	DriverPQ  = "postgres"
	DriverPgx = "pgx"
)

// Config holds Postgres connection settings.
type Config struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewConfigFromEnv reads DB_* environment variables (with defaults).
func NewConfigFromEnv() Config {
	port, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		port = 5432
	}

	return Config{
		Driver:   getEnv("DB_DRIVER", DriverPQ),
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     port,
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", "postgres"),
		Database: getEnv("DB_NAME", "practicetree"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

// Validate rejects a driver the store does not register.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverPQ, DriverPgx:
		return nil
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (want %q or %q)", c.Driver, DriverPQ, DriverPgx)
	}
}

// DSN returns the Postgres connection URL. Both drivers accept it.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
