// chaos/experiments.go
package chaos

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"loanledger/internal/identity"
)

func (e *Engine) registerExperiments() {
	e.experiments = []Experiment{
		e.concurrentBorrowRace(8),
		e.duplicateBorrowRace(8),
		e.returnIdempotency(),
		e.ledgerConsistencySweep(),
	}
}

func librarian() identity.Actor {
	return identity.Actor{ID: uuid.New(), Role: identity.RoleLibrarian}
}

func member() identity.Actor {
	return identity.Actor{ID: uuid.New(), Role: identity.RoleMember}
}

// concurrentBorrowRace fires n concurrent borrows by distinct members at a
// book with a single copy. Exactly one may win.
func (e *Engine) concurrentBorrowRace(n int) Experiment {
	return Experiment{
		Name:       "concurrent-borrow-race",
		Hypothesis: "a single free copy is lent exactly once under concurrent demand",
		Run: func(ctx context.Context) error {
			book, err := e.client.AddBook(ctx, librarian(), "9780141439518", "Pride and Prejudice", "Jane Austen", 1)
			if err != nil {
				return fmt.Errorf("seed book: %w", err)
			}

			var wg sync.WaitGroup
			successes := make(chan struct{}, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := e.client.Borrow(ctx, member(), book.ID); err == nil {
						successes <- struct{}{}
					}
				}()
			}
			wg.Wait()
			close(successes)

			if got := len(successes); got != 1 {
				return fmt.Errorf("expected exactly 1 successful borrow, got %d", got)
			}

			after, err := e.client.GetBook(ctx, librarian(), book.ID)
			if err != nil {
				return err
			}
			if after.AvailableCopies != 0 {
				return fmt.Errorf("expected 0 available copies, got %d", after.AvailableCopies)
			}
			return nil
		},
	}
}

// duplicateBorrowRace has one member hammer the same book concurrently.
// The partial unique constraint must let through at most one active loan.
func (e *Engine) duplicateBorrowRace(n int) Experiment {
	return Experiment{
		Name:       "duplicate-borrow-race",
		Hypothesis: "a borrower ends up with at most one active loan per book under concurrent requests",
		Run: func(ctx context.Context) error {
			book, err := e.client.AddBook(ctx, librarian(), "9780156012195", "The Little Prince", "Antoine de Saint-Exupery", n)
			if err != nil {
				return fmt.Errorf("seed book: %w", err)
			}

			borrower := member()
			var wg sync.WaitGroup
			successes := make(chan struct{}, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := e.client.Borrow(ctx, borrower, book.ID); err == nil {
						successes <- struct{}{}
					}
				}()
			}
			wg.Wait()
			close(successes)

			if got := len(successes); got != 1 {
				return fmt.Errorf("expected exactly 1 successful borrow for one borrower, got %d", got)
			}
			return nil
		},
	}
}

// returnIdempotency checks that a double return fails the second time and
// frees the copy exactly once.
func (e *Engine) returnIdempotency() Experiment {
	return Experiment{
		Name:       "return-idempotency",
		Hypothesis: "returning a loan twice succeeds once and increments availability exactly once",
		Run: func(ctx context.Context) error {
			book, err := e.client.AddBook(ctx, librarian(), "9780060850524", "Brave New World", "Aldous Huxley", 1)
			if err != nil {
				return fmt.Errorf("seed book: %w", err)
			}

			borrower := member()
			loan, err := e.client.Borrow(ctx, borrower, book.ID)
			if err != nil {
				return fmt.Errorf("borrow: %w", err)
			}

			if _, err := e.client.Return(ctx, borrower, loan.ID); err != nil {
				return fmt.Errorf("first return: %w", err)
			}
			if _, err := e.client.Return(ctx, borrower, loan.ID); err == nil {
				return fmt.Errorf("second return unexpectedly succeeded")
			}

			after, err := e.client.GetBook(ctx, librarian(), book.ID)
			if err != nil {
				return err
			}
			if after.AvailableCopies != 1 {
				return fmt.Errorf("expected 1 available copy after double return, got %d", after.AvailableCopies)
			}
			return nil
		},
	}
}

// ledgerConsistencySweep asserts the central invariant across every book.
func (e *Engine) ledgerConsistencySweep() Experiment {
	return Experiment{
		Name:       "ledger-consistency-sweep",
		Hypothesis: "total - available equals the active-loan count for every book",
		Run: func(ctx context.Context) error {
			return e.store.CheckLedgerConsistency(ctx)
		},
	}
}
