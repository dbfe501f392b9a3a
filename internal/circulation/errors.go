// internal/circulation/errors.go

// Business-rule failures are sentinel values or small context-carrying
// structs so handlers can distinguish them with errors.Is / errors.As.
// Infrastructure failures (lock timeouts, serialization conflicts,
// connectivity) are a separate, always-retryable class and are never
// conflated with a rule violation.
package circulation

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrBookUnavailable is returned when a borrow finds no free copy.
	ErrBookUnavailable = errors.New("no copies of the book are available")

	// ErrAlreadyBorrowed is returned when the borrower already holds an
	// active loan for the same book.
	ErrAlreadyBorrowed = errors.New("borrower already has an active loan for this book")

	// ErrAlreadyReturned is returned when a return or extend targets a
	// loan in its terminal state.
	ErrAlreadyReturned = errors.New("loan has already been returned")

	// ErrBorrowedInFuture is returned when a borrow timestamp lies ahead
	// of the clock.
	ErrBorrowedInFuture = errors.New("borrow timestamp must not be in the future")

	// ErrContention is the retryable infrastructure failure: lock timeout,
	// deadlock, or serialization conflict. The caller decides whether to
	// retry; the core never does silently.
	ErrContention = errors.New("transient contention, retry the operation")
)

// NotFoundError reports a missing entity together with which kind it was.
type NotFoundError struct {
	Entity string
	ID     uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// LimitExceededError reports that the borrower is at their concurrent-loan
// ceiling.
type LimitExceededError struct {
	Max     int
	Current int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("loan limit reached: %d active of %d allowed", e.Current, e.Max)
}

// InvalidExtensionDaysError reports an extension request outside 1..MaxExtensionDays.
type InvalidExtensionDaysError struct {
	Requested int
}

func (e *InvalidExtensionDaysError) Error() string {
	return fmt.Sprintf("extension must be between 1 and %d days, got %d", MaxExtensionDays, e.Requested)
}

// ExtensionLimitExceededError reports that the cumulative extension would
// pass the cap.
type ExtensionLimitExceededError struct {
	Max       int
	SoFar     int
	Requested int
}

func (e *ExtensionLimitExceededError) Error() string {
	return fmt.Sprintf("cumulative extension limit is %d days: already extended %d, requested %d more",
		e.Max, e.SoFar, e.Requested)
}

// OverdueExtensionError reports that a non-librarian tried to extend an
// overdue loan.
type OverdueExtensionError struct {
	LoanID uuid.UUID
}

func (e *OverdueExtensionError) Error() string {
	return fmt.Sprintf("loan %s is overdue: extension requires a librarian", e.LoanID)
}

// ForbiddenError reports an actor touching a loan they do not own without
// librarian privileges.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return "forbidden: " + e.Reason
}

// CorruptionError surfaces a ledger invariant violation instead of
// clamping it silently: a release that would push available copies past
// the total means a caller bug, and strict mode refuses to hide it.
type CorruptionError struct {
	BookID uuid.UUID
	Detail string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("inventory corruption on book %s: %s", e.BookID, e.Detail)
}
