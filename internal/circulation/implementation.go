// internal/circulation/implementation.go
package circulation

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"loanledger/internal/identity"
)

// service implements the Service interface. Each mutating operation runs
// as one unit of work against the Store: validate, mutate the ledger,
// persist the loan, commit together or not at all.
type service struct {
	store  Store
	now    func() time.Time
	tracer trace.Tracer

	borrowCounter metric.Int64Counter
	returnCounter metric.Int64Counter
	extendCounter metric.Int64Counter
}

// Option configures the service.
type Option func(*service)

// WithClock overrides the service clock; tests use a fixed time source.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// NewService creates the borrowing orchestrator on top of a Store.
func NewService(store Store, opts ...Option) Service {
	meter := otel.Meter("loanledger/circulation")
	borrows, _ := meter.Int64Counter("circulation.borrows")
	returns, _ := meter.Int64Counter("circulation.returns")
	extends, _ := meter.Int64Counter("circulation.extensions")

	s := &service{
		store:         store,
		now:           time.Now,
		tracer:        otel.Tracer("loanledger/circulation"),
		borrowCounter: borrows,
		returnCounter: returns,
		extendCounter: extends,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Borrow opens a loan for the actor on one copy of the book.
func (s *service) Borrow(ctx context.Context, actor identity.Actor, bookID uuid.UUID, at time.Time) (*LoanView, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.borrow",
		trace.WithAttributes(
			attribute.String("book.id", bookID.String()),
			attribute.String("actor.id", actor.ID.String()),
			attribute.String("actor.role", string(actor.Role)),
		),
	)
	defer span.End()

	at = at.UTC()
	if at.After(s.now()) {
		return nil, ErrBorrowedInFuture
	}

	var loan *Loan
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		book, err := tx.BookForUpdate(ctx, bookID)
		if err != nil {
			return err
		}

		held, err := tx.HasActiveLoan(ctx, bookID, actor.ID)
		if err != nil {
			return err
		}
		if held {
			return ErrAlreadyBorrowed
		}

		active, err := tx.CountActiveLoans(ctx, actor.ID)
		if err != nil {
			return err
		}
		if err := CheckUnderLimit(actor.Role, active); err != nil {
			return err
		}

		if book.AvailableCopies <= 0 {
			return ErrBookUnavailable
		}
		if err := tx.ReserveCopy(ctx, bookID); err != nil {
			return err
		}

		loan = NewLoan(bookID, actor.ID, at)
		return tx.InsertLoan(ctx, loan)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.borrowCounter.Add(ctx, 1)
	view := NewView(loan, s.now())
	return &view, nil
}

// Return closes a loan and frees its copy. A member may only return their
// own loan; a librarian may return any.
func (s *service) Return(ctx context.Context, actor identity.Actor, loanID uuid.UUID, at time.Time) (*LoanView, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return",
		trace.WithAttributes(
			attribute.String("loan.id", loanID.String()),
			attribute.String("actor.id", actor.ID.String()),
		),
	)
	defer span.End()

	at = at.UTC()
	var loan *Loan
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		loan, err = tx.LoanForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.BorrowerID != actor.ID && !actor.IsLibrarian() {
			return &ForbiddenError{Reason: "only a librarian may return another borrower's loan"}
		}
		if loan.IsReturned() {
			return ErrAlreadyReturned
		}

		if err := tx.MarkReturned(ctx, loanID, at); err != nil {
			return err
		}
		loan.ReturnedAt = &at

		if err := tx.ReleaseCopy(ctx, loan.BookID); err != nil {
			log.Printf("invariant violation releasing copy for book %s: %v", loan.BookID, err)
			return err
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.returnCounter.Add(ctx, 1)
	if days := loan.DaysOverdue(at); days > 0 {
		span.SetAttributes(
			attribute.Int("loan.days_overdue", days),
			attribute.String("loan.fine", Fine(loan, at).String()),
		)
	}
	view := NewView(loan, at)
	return &view, nil
}

// Extend pushes the due date of an active loan forward. The cumulative
// extension past the original due date is capped; an overdue loan may only
// be extended by a librarian.
func (s *service) Extend(ctx context.Context, actor identity.Actor, loanID uuid.UUID, days int, at time.Time) (*LoanView, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.extend",
		trace.WithAttributes(
			attribute.String("loan.id", loanID.String()),
			attribute.Int("extend.days", days),
		),
	)
	defer span.End()

	at = at.UTC()
	var loan *Loan
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		loan, err = tx.LoanForUpdate(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.BorrowerID != actor.ID && !actor.IsLibrarian() {
			return &ForbiddenError{Reason: "only a librarian may extend another borrower's loan"}
		}
		if loan.IsReturned() {
			return ErrAlreadyReturned
		}
		if days < 1 || days > MaxExtensionDays {
			return &InvalidExtensionDaysError{Requested: days}
		}
		if soFar := loan.ExtensionSoFar(); soFar+days > MaxExtensionDays {
			return &ExtensionLimitExceededError{Max: MaxExtensionDays, SoFar: soFar, Requested: days}
		}
		if loan.IsOverdue(at) && !actor.IsLibrarian() {
			return &OverdueExtensionError{LoanID: loanID}
		}

		loan.DueAt = loan.DueAt.AddDate(0, 0, days)
		return tx.SetDueAt(ctx, loanID, loan.DueAt)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.extendCounter.Add(ctx, 1)
	view := NewView(loan, at)
	return &view, nil
}

// GetLoan returns the loan with derived state materialized at now.
func (s *service) GetLoan(ctx context.Context, loanID uuid.UUID, now time.Time) (*LoanView, error) {
	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	view := NewView(loan, now.UTC())
	return &view, nil
}

// ComputeFine projects the fine owed on a loan as of now. Read-only.
func (s *service) ComputeFine(ctx context.Context, loanID uuid.UUID, now time.Time) (Money, error) {
	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return 0, err
	}
	return Fine(loan, now.UTC()), nil
}

// IsOverdue reports the derived overdue state of a loan as of now.
func (s *service) IsOverdue(ctx context.Context, loanID uuid.UUID, now time.Time) (bool, error) {
	loan, err := s.store.GetLoan(ctx, loanID)
	if err != nil {
		return false, err
	}
	return loan.IsOverdue(now.UTC()), nil
}

// ListLoansForBorrower returns the borrower's loans matching the derived
// filter, views materialized at now.
func (s *service) ListLoansForBorrower(ctx context.Context, borrowerID uuid.UUID, filter LoanFilter, now time.Time) ([]LoanView, error) {
	now = now.UTC()
	loans, err := s.store.ListLoansForBorrower(ctx, borrowerID, filter, now)
	if err != nil {
		return nil, err
	}
	views := make([]LoanView, 0, len(loans))
	for _, l := range loans {
		views = append(views, NewView(l, now))
	}
	return views, nil
}

// HasActiveLoans is the predicate the catalog consults before deleting a
// book.
func (s *service) HasActiveLoans(ctx context.Context, bookID uuid.UUID) (bool, error) {
	return s.store.HasActiveLoans(ctx, bookID)
}
