// internal/catalog/service.go
package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrBookNotFound is returned when no book carries the requested id.
	ErrBookNotFound = errors.New("book not found")

	// ErrHasActiveLoans blocks deletion while copies are still out.
	ErrHasActiveLoans = errors.New("book has active loans and cannot be removed")

	// ErrTotalBelowActive blocks shrinking total_copies below the number
	// of copies currently on loan.
	ErrTotalBelowActive = errors.New("total copies cannot drop below copies on loan")

	// ErrInvalidTotalCopies rejects a non-positive copy count.
	ErrInvalidTotalCopies = errors.New("total copies must be at least 1")
)

// ActiveLoanChecker is the predicate the catalog consults before a book
// may be removed. Satisfied by the circulation service.
type ActiveLoanChecker interface {
	HasActiveLoans(ctx context.Context, bookID uuid.UUID) (bool, error)
}

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, isbn, title, author string, totalCopies int) (*Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*Book, error)
	ChangeTotalCopies(ctx context.Context, id uuid.UUID, newTotal int) (*Book, error)
	RemoveBook(ctx context.Context, id uuid.UUID) error
}
