package database

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds database configuration. URL selects PostgreSQL and wins over
// Path; otherwise Path selects the embedded pure-Go SQLite store.
type Config struct {
	// URL is a PostgreSQL DSN (postgres://... or key=value form)
	URL string

	// Path is the SQLite database file, used when URL is empty
	Path string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfigFromEnv loads database configuration from environment variables.
// DATABASE_URL (postgres) takes precedence over DATABASE_PATH (sqlite).
func LoadConfigFromEnv() (Config, error) {
	maxOpen, err := strconv.Atoi(getEnvOrDefault("DB_MAX_OPEN_CONNS", "10"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := strconv.Atoi(getEnvOrDefault("DB_MAX_IDLE_CONNS", "5"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_IDLE_CONNS: %w", err)
	}

	return Config{
		URL:             os.Getenv("DATABASE_URL"),
		Path:            getEnvOrDefault("DATABASE_PATH", "./parley.db"),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}, nil
}

// DriverName returns the database/sql driver this config selects.
func (c Config) DriverName() string {
	if c.URL != "" {
		return "pgx"
	}
	return "sqlite"
}

// DSN returns the connection string for the selected driver. SQLite gets
// WAL mode, a busy timeout, and foreign key enforcement via pragmas.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", c.Path)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
