// internal/postgres/store.go
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"loanledger/internal/catalog"
	"loanledger/internal/circulation"
)

// Store implements the circulation persistence port on Postgres. The
// per-book serialization the port demands comes from SELECT ... FOR UPDATE
// on the book row plus conditional UPDATEs whose affected-row count is
// checked, never assumed.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps an open connection pool.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// WithinTx runs fn inside a single database transaction. Any error aborts
// the whole unit of work; driver-level failures are translated into the
// core taxonomy on the way out.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx circulation.Tx) error) error {
	dbtx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return translate(err)
	}
	defer dbtx.Rollback()

	if err := fn(ctx, &storeTx{tx: dbtx}); err != nil {
		return translate(err)
	}
	if err := dbtx.Commit(); err != nil {
		return translate(err)
	}
	return nil
}

// GetLoan loads a loan without locking.
func (s *Store) GetLoan(ctx context.Context, loanID uuid.UUID) (*circulation.Loan, error) {
	var loan circulation.Loan
	err := s.db.GetContext(ctx, &loan, `
		SELECT id, book_id, borrower_id, borrowed_at, due_at, returned_at
		FROM loans
		WHERE id = $1
	`, loanID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &circulation.NotFoundError{Entity: "loan", ID: loanID}
	}
	if err != nil {
		return nil, translate(err)
	}
	return &loan, nil
}

// ListLoansForBorrower evaluates the derived-state filters as computed SQL
// predicates over returned_at / due_at.
func (s *Store) ListLoansForBorrower(ctx context.Context, borrowerID uuid.UUID, filter circulation.LoanFilter, now time.Time) ([]*circulation.Loan, error) {
	query := `
		SELECT id, book_id, borrower_id, borrowed_at, due_at, returned_at
		FROM loans
		WHERE borrower_id = $1
	`
	args := []any{borrowerID}
	switch filter {
	case circulation.FilterActive:
		query += ` AND returned_at IS NULL`
	case circulation.FilterOverdue:
		query += ` AND returned_at IS NULL AND due_at < $2`
		args = append(args, now)
	}
	query += ` ORDER BY borrowed_at`

	var loans []*circulation.Loan
	if err := s.db.SelectContext(ctx, &loans, query, args...); err != nil {
		return nil, translate(err)
	}
	return loans, nil
}

// HasActiveLoans is the predicate that blocks catalog deletion while
// copies are still out.
func (s *Store) HasActiveLoans(ctx context.Context, bookID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM loans WHERE book_id = $1 AND returned_at IS NULL)
	`, bookID)
	if err != nil {
		return false, translate(err)
	}
	return exists, nil
}

type storeTx struct {
	tx *sqlx.Tx
}

func (t *storeTx) BookForUpdate(ctx context.Context, bookID uuid.UUID) (*catalog.Book, error) {
	var book catalog.Book
	err := t.tx.GetContext(ctx, &book, `
		SELECT id, isbn, title, author, total_copies, available_copies, created_at, updated_at
		FROM books
		WHERE id = $1
		FOR UPDATE
	`, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &circulation.NotFoundError{Entity: "book", ID: bookID}
	}
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// ReserveCopy is the atomic conditional decrement: zero rows affected
// means no copy was free.
func (t *storeTx) ReserveCopy(ctx context.Context, bookID uuid.UUID) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE books
		SET available_copies = available_copies - 1, updated_at = NOW()
		WHERE id = $1 AND available_copies > 0
	`, bookID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return circulation.ErrBookUnavailable
	}
	return nil
}

// ReleaseCopy is the mirror increment. Zero rows affected means the
// counter is already at total_copies, which indicates a ledger/loan
// pairing bug and is surfaced, not clamped.
func (t *storeTx) ReleaseCopy(ctx context.Context, bookID uuid.UUID) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE books
		SET available_copies = available_copies + 1, updated_at = NOW()
		WHERE id = $1 AND available_copies < total_copies
	`, bookID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &circulation.CorruptionError{BookID: bookID, Detail: "release would exceed total copies"}
	}
	return nil
}

func (t *storeTx) InsertLoan(ctx context.Context, loan *circulation.Loan) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO loans (id, book_id, borrower_id, borrowed_at, due_at, returned_at)
		VALUES ($1, $2, $3, $4, $5, NULL)
	`, loan.ID, loan.BookID, loan.BorrowerID, loan.BorrowedAt, loan.DueAt)
	return err
}

func (t *storeTx) LoanForUpdate(ctx context.Context, loanID uuid.UUID) (*circulation.Loan, error) {
	var loan circulation.Loan
	err := t.tx.GetContext(ctx, &loan, `
		SELECT id, book_id, borrower_id, borrowed_at, due_at, returned_at
		FROM loans
		WHERE id = $1
		FOR UPDATE
	`, loanID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &circulation.NotFoundError{Entity: "loan", ID: loanID}
	}
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

func (t *storeTx) MarkReturned(ctx context.Context, loanID uuid.UUID, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE loans
		SET returned_at = $1, updated_at = NOW()
		WHERE id = $2 AND returned_at IS NULL
	`, at, loanID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return circulation.ErrAlreadyReturned
	}
	return nil
}

func (t *storeTx) SetDueAt(ctx context.Context, loanID uuid.UUID, dueAt time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE loans
		SET due_at = $1, updated_at = NOW()
		WHERE id = $2 AND returned_at IS NULL
	`, dueAt, loanID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return circulation.ErrAlreadyReturned
	}
	return nil
}

func (t *storeTx) CountActiveLoans(ctx context.Context, borrowerID uuid.UUID) (int, error) {
	var n int
	err := t.tx.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM loans WHERE borrower_id = $1 AND returned_at IS NULL
	`, borrowerID)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (t *storeTx) HasActiveLoan(ctx context.Context, bookID, borrowerID uuid.UUID) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM loans
			WHERE book_id = $1 AND borrower_id = $2 AND returned_at IS NULL
		)
	`, bookID, borrowerID)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// CheckLedgerConsistency verifies the central invariant for every book:
// total - available equals the number of active loans, and the counters
// stay within bounds. Used by the chaos probes and operational sweeps.
func (s *Store) CheckLedgerConsistency(ctx context.Context) error {
	var violations int
	err := s.db.GetContext(ctx, &violations, `
		SELECT COUNT(*)
		FROM books b
		WHERE b.available_copies < 0
		   OR b.available_copies > b.total_copies
		   OR b.total_copies - b.available_copies <> (
				SELECT COUNT(*) FROM loans l
				WHERE l.book_id = b.id AND l.returned_at IS NULL
		   )
	`)
	if err != nil {
		return translate(err)
	}
	if violations > 0 {
		return fmt.Errorf("ledger consistency check failed for %d book(s)", violations)
	}
	return nil
}
