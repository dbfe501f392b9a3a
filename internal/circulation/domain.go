// internal/circulation/domain.go
package circulation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// LoanPeriodDays is the initial lending window granted at borrow time,
	// in calendar days.
	LoanPeriodDays = 14

	// LoanPeriod is LoanPeriodDays as a duration, for arithmetic on the
	// stored UTC timestamps.
	LoanPeriod = LoanPeriodDays * 24 * time.Hour

	// MaxExtensionDays caps the cumulative extension past the original due
	// date. A single extension request is bounded by it as well.
	MaxExtensionDays = 14
)

// Loan is the borrowing record for one copy of a book. A loan is never
// deleted; once returned it is an immutable historical record.
type Loan struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	BookID     uuid.UUID  `json:"book_id" db:"book_id"`
	BorrowerID uuid.UUID  `json:"borrower_id" db:"borrower_id"`
	BorrowedAt time.Time  `json:"borrowed_at" db:"borrowed_at"`
	DueAt      time.Time  `json:"due_at" db:"due_at"`
	ReturnedAt *time.Time `json:"returned_at,omitempty" db:"returned_at"`
}

// NewLoan creates the Active loan produced by a successful borrow. The due
// date is calendar-day addition from the borrow time. Borrowing with a
// future timestamp is rejected by the orchestrator before this is called.
func NewLoan(bookID, borrowerID uuid.UUID, now time.Time) *Loan {
	now = now.UTC()
	return &Loan{
		ID:         uuid.New(),
		BookID:     bookID,
		BorrowerID: borrowerID,
		BorrowedAt: now,
		DueAt:      now.AddDate(0, 0, LoanPeriodDays),
	}
}

// IsReturned reports whether the loan has reached its terminal state.
func (l *Loan) IsReturned() bool {
	return l.ReturnedAt != nil
}

// IsOverdue is derived state, recomputed on every read. Overdue is never
// stored as a status column; the pair (returned_at, due_at) stays the
// single source of truth.
func (l *Loan) IsOverdue(now time.Time) bool {
	return !l.IsReturned() && now.After(l.DueAt)
}

// effectiveAsOf is the instant fines are measured against: the return time
// for closed loans, the caller's clock for loans still out.
func (l *Loan) effectiveAsOf(now time.Time) time.Time {
	if l.ReturnedAt != nil {
		return *l.ReturnedAt
	}
	return now
}

// DaysOverdue counts whole 24h periods past the due date as of the
// effective time, never negative.
func (l *Loan) DaysOverdue(now time.Time) int {
	asOf := l.effectiveAsOf(now)
	if !asOf.After(l.DueAt) {
		return 0
	}
	return int(asOf.Sub(l.DueAt).Hours() / 24)
}

// ExtensionSoFar is how far the due date has already been pushed past the
// original loan period, in whole days. Computed from the stored timestamps
// so it stays correct if LoanPeriodDays ever changes.
func (l *Loan) ExtensionSoFar() int {
	extra := l.DueAt.Sub(l.BorrowedAt) - LoanPeriod
	if extra <= 0 {
		return 0
	}
	return int(extra.Hours() / 24)
}

// Money is a monetary amount in cents. Fines are small and additive, so
// integer cents avoid the drift a float balance would accumulate.
type Money int64

// String renders the amount as dollars, e.g. "5.00".
func (m Money) String() string {
	return fmt.Sprintf("%d.%02d", m/100, m%100)
}

// LoanView is the read model handed to callers: the stored loan plus the
// derived fields materialized at view time.
type LoanView struct {
	ID          uuid.UUID  `json:"id"`
	BookID      uuid.UUID  `json:"book_id"`
	BorrowerID  uuid.UUID  `json:"borrower_id"`
	BorrowedAt  time.Time  `json:"borrowed_at"`
	DueAt       time.Time  `json:"due_at"`
	ReturnedAt  *time.Time `json:"returned_at,omitempty"`
	IsOverdue   bool       `json:"is_overdue"`
	DaysOverdue int        `json:"days_overdue"`
	FineAmount  Money      `json:"fine_cents"`
}

// NewView materializes the derived state of a loan at the given instant.
func NewView(l *Loan, now time.Time) LoanView {
	return LoanView{
		ID:          l.ID,
		BookID:      l.BookID,
		BorrowerID:  l.BorrowerID,
		BorrowedAt:  l.BorrowedAt,
		DueAt:       l.DueAt,
		ReturnedAt:  l.ReturnedAt,
		IsOverdue:   l.IsOverdue(now),
		DaysOverdue: l.DaysOverdue(now),
		FineAmount:  Fine(l, now),
	}
}
