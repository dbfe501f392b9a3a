// internal/postgres/migrate.go
package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// activeLoanConstraint is the partial unique index that closes the
// check-then-insert race on "one active loan per (book, borrower)". The
// application still checks first for a friendly error, but the database
// is the authority.
const activeLoanConstraint = "loans_one_active_per_borrower_book"

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS books (
		id               UUID PRIMARY KEY,
		isbn             TEXT NOT NULL,
		title            TEXT NOT NULL,
		author           TEXT NOT NULL,
		total_copies     INT  NOT NULL CHECK (total_copies >= 1),
		available_copies INT  NOT NULL CHECK (available_copies >= 0 AND available_copies <= total_copies),
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS loans (
		id          UUID PRIMARY KEY,
		book_id     UUID NOT NULL,
		borrower_id UUID NOT NULL,
		borrowed_at TIMESTAMPTZ NOT NULL,
		due_at      TIMESTAMPTZ NOT NULL,
		returned_at TIMESTAMPTZ,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + activeLoanConstraint + `
		ON loans (book_id, borrower_id) WHERE returned_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS loans_borrower_active
		ON loans (borrower_id) WHERE returned_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS loans_book_active
		ON loans (book_id) WHERE returned_at IS NULL`,
}

// Migrate applies the schema. Idempotent; safe to run at every startup.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
