// internal/circulation/service.go
package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"loanledger/internal/catalog"
	"loanledger/internal/identity"
)

// LoanFilter selects loans by derived state. The filters are computed from
// returned_at / due_at at read time, never from a stored status column.
type LoanFilter string

const (
	FilterAll     LoanFilter = "all"
	FilterActive  LoanFilter = "active"
	FilterOverdue LoanFilter = "overdue"
)

// Service is the public surface of the borrowing engine. Every mutation
// takes the acting identity explicitly; there is no ambient current-user
// context. The `at` timestamp is when the operation occurred, validated
// against the service clock.
type Service interface {
	Borrow(ctx context.Context, actor identity.Actor, bookID uuid.UUID, at time.Time) (*LoanView, error)
	Return(ctx context.Context, actor identity.Actor, loanID uuid.UUID, at time.Time) (*LoanView, error)
	Extend(ctx context.Context, actor identity.Actor, loanID uuid.UUID, days int, at time.Time) (*LoanView, error)

	GetLoan(ctx context.Context, loanID uuid.UUID, now time.Time) (*LoanView, error)
	ComputeFine(ctx context.Context, loanID uuid.UUID, now time.Time) (Money, error)
	IsOverdue(ctx context.Context, loanID uuid.UUID, now time.Time) (bool, error)
	ListLoansForBorrower(ctx context.Context, borrowerID uuid.UUID, filter LoanFilter, now time.Time) ([]LoanView, error)
	HasActiveLoans(ctx context.Context, bookID uuid.UUID) (bool, error)
}

// Store is the narrow persistence port the orchestrator drives. WithinTx
// runs fn inside one atomic unit of work; fn returning an error aborts the
// whole unit with no partial writes surviving.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetLoan(ctx context.Context, loanID uuid.UUID) (*Loan, error)
	ListLoansForBorrower(ctx context.Context, borrowerID uuid.UUID, filter LoanFilter, now time.Time) ([]*Loan, error)
	HasActiveLoans(ctx context.Context, bookID uuid.UUID) (bool, error)
}

// Tx is the transactional view of the store. Implementations must
// serialize operations per book: BookForUpdate takes the row lock that
// linearizes concurrent borrow/return against the same book, and
// ReserveCopy / ReleaseCopy are conditional updates whose effect is
// checked, not assumed.
type Tx interface {
	// BookForUpdate loads and locks the book row for the remainder of the
	// unit of work.
	BookForUpdate(ctx context.Context, bookID uuid.UUID) (*catalog.Book, error)

	// ReserveCopy decrements available_copies iff one is free, returning
	// ErrBookUnavailable otherwise without mutating.
	ReserveCopy(ctx context.Context, bookID uuid.UUID) error

	// ReleaseCopy increments available_copies iff below total_copies,
	// returning a CorruptionError otherwise: exceeding the total means a
	// ledger/loan pairing bug and must not be clamped silently.
	ReleaseCopy(ctx context.Context, bookID uuid.UUID) error

	// InsertLoan persists a new active loan. The duplicate-active-loan
	// rule is enforced by the store (partial unique constraint), surfaced
	// as ErrAlreadyBorrowed.
	InsertLoan(ctx context.Context, loan *Loan) error

	// LoanForUpdate loads and locks a loan row.
	LoanForUpdate(ctx context.Context, loanID uuid.UUID) (*Loan, error)

	// MarkReturned sets returned_at, moving the loan to its terminal state.
	MarkReturned(ctx context.Context, loanID uuid.UUID, at time.Time) error

	// SetDueAt moves the due date of an active loan.
	SetDueAt(ctx context.Context, loanID uuid.UUID, dueAt time.Time) error

	// CountActiveLoans counts the borrower's open loans.
	CountActiveLoans(ctx context.Context, borrowerID uuid.UUID) (int, error)

	// HasActiveLoan reports whether the borrower already holds this book.
	HasActiveLoan(ctx context.Context, bookID, borrowerID uuid.UUID) (bool, error)
}
