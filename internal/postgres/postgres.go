// internal/postgres/postgres.go
package postgres

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Config holds the connection settings, filled from the environment by the
// binaries.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// StatementTimeout bounds every statement, so a blocked row lock
	// fails with a retryable contention error instead of hanging.
	StatementTimeout time.Duration
}

// DefaultConfig mirrors the defaults the service ships with.
func DefaultConfig(url string) Config {
	return Config{
		URL:              url,
		MaxOpenConns:     20,
		MaxIdleConns:     10,
		ConnMaxLifetime:  30 * time.Minute,
		StatementTimeout: 5 * time.Second,
	}
}

// Open connects to Postgres and verifies the connection.
func Open(cfg Config) (*sqlx.DB, error) {
	dsn := cfg.URL
	if cfg.StatementTimeout > 0 {
		sep := "?"
		for _, c := range dsn {
			if c == '?' {
				sep = "&"
				break
			}
		}
		dsn = fmt.Sprintf("%s%sstatement_timeout=%d", dsn, sep, cfg.StatementTimeout.Milliseconds())
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}
