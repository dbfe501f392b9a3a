// internal/circulation/implementation_test.go
package circulation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"loanledger/internal/catalog"
	"loanledger/internal/identity"
)

var (
	day     = 24 * time.Hour
	epoch   = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	farTime = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	store *MemStore
	svc   Service
	book  catalog.Book
}

// newFixture seeds one book and a service whose clock is pinned far in the
// future, so tests can pass any historical timestamp as `at`.
func newFixture(t *testing.T, copies int) *fixture {
	t.Helper()
	store := NewMemStore()
	book := catalog.Book{
		ID:              uuid.New(),
		ISBN:            "9780141439518",
		Title:           "Pride and Prejudice",
		Author:          "Jane Austen",
		TotalCopies:     copies,
		AvailableCopies: copies,
	}
	store.AddBook(book)
	svc := NewService(store, WithClock(func() time.Time { return farTime }))
	return &fixture{store: store, svc: svc, book: book}
}

func member() identity.Actor {
	return identity.Actor{ID: uuid.New(), Role: identity.RoleMember}
}

func librarian() identity.Actor {
	return identity.Actor{ID: uuid.New(), Role: identity.RoleLibrarian}
}

func (f *fixture) available(t *testing.T) int {
	t.Helper()
	b, ok := f.store.Book(f.book.ID)
	require.True(t, ok)
	return b.AvailableCopies
}

func TestBorrowCreatesActiveLoanAndReservesCopy(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()

	view, err := f.svc.Borrow(ctx, member(), f.book.ID, epoch)
	require.NoError(t, err)

	assert.Equal(t, epoch, view.BorrowedAt)
	assert.Equal(t, epoch.AddDate(0, 0, 14), view.DueAt)
	assert.Nil(t, view.ReturnedAt)
	assert.Equal(t, 2, f.available(t))
}

func TestBorrowUnknownBook(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.svc.Borrow(context.Background(), member(), uuid.New(), epoch)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "book", notFound.Entity)
}

func TestBorrowNoCopiesAvailable(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	_, err := f.svc.Borrow(ctx, member(), f.book.ID, epoch)
	require.NoError(t, err)

	_, err = f.svc.Borrow(ctx, member(), f.book.ID, epoch)
	assert.ErrorIs(t, err, ErrBookUnavailable)
	assert.Equal(t, 0, f.available(t))
}

func TestBorrowSameBookTwice(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	actor := member()

	_, err := f.svc.Borrow(ctx, actor, f.book.ID, epoch)
	require.NoError(t, err)

	_, err = f.svc.Borrow(ctx, actor, f.book.ID, epoch)
	assert.ErrorIs(t, err, ErrAlreadyBorrowed)
	assert.Equal(t, 4, f.available(t), "failed borrow must not touch the ledger")
}

func TestBorrowInFuture(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.svc.Borrow(context.Background(), member(), f.book.ID, farTime.Add(time.Minute))
	assert.ErrorIs(t, err, ErrBorrowedInFuture)
	assert.Equal(t, 1, f.available(t))
}

func TestBorrowLimitPerRole(t *testing.T) {
	tests := []struct {
		name  string
		actor identity.Actor
		limit int
	}{
		{"member capped at 5", member(), 5},
		{"librarian capped at 10", librarian(), 10},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := NewMemStore()
			svc := NewService(store, WithClock(func() time.Time { return farTime }))
			ctx := context.Background()

			for i := 0; i < tc.limit; i++ {
				b := catalog.Book{ID: uuid.New(), TotalCopies: 1, AvailableCopies: 1}
				store.AddBook(b)
				_, err := svc.Borrow(ctx, tc.actor, b.ID, epoch)
				require.NoError(t, err)
			}

			over := catalog.Book{ID: uuid.New(), TotalCopies: 1, AvailableCopies: 1}
			store.AddBook(over)
			_, err := svc.Borrow(ctx, tc.actor, over.ID, epoch)

			var limitErr *LimitExceededError
			require.ErrorAs(t, err, &limitErr)
			assert.Equal(t, tc.limit, limitErr.Max)

			b, _ := store.Book(over.ID)
			assert.Equal(t, 1, b.AvailableCopies, "rejected borrow must not touch the ledger")
		})
	}
}

func TestReturnOnTime(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	actor := member()

	loan, err := f.svc.Borrow(ctx, actor, f.book.ID, epoch)
	require.NoError(t, err)
	require.Equal(t, 0, f.available(t))

	view, err := f.svc.Return(ctx, actor, loan.ID, epoch.Add(9*day))
	require.NoError(t, err)

	assert.False(t, view.IsOverdue)
	assert.Equal(t, 0, view.DaysOverdue)
	assert.Equal(t, Money(0), view.FineAmount)
	require.NotNil(t, view.ReturnedAt)
	assert.Equal(t, 1, f.available(t))
}

func TestReturnOverdue(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	actor := member()

	loan, err := f.svc.Borrow(ctx, actor, f.book.ID, epoch)
	require.NoError(t, err)

	// Due 2025-01-15, returned 2025-01-20: five whole days late.
	view, err := f.svc.Return(ctx, actor, loan.ID, time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, 5, view.DaysOverdue)
	assert.Equal(t, Money(500), view.FineAmount)
	assert.Equal(t, 1, f.available(t))
}

func TestReturnTwice(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	actor := member()

	loan, err := f.svc.Borrow(ctx, actor, f.book.ID, epoch)
	require.NoError(t, err)

	_, err = f.svc.Return(ctx, actor, loan.ID, epoch.Add(day))
	require.NoError(t, err)

	_, err = f.svc.Return(ctx, actor, loan.ID, epoch.Add(2*day))
	assert.ErrorIs(t, err, ErrAlreadyReturned)
	assert.Equal(t, 1, f.available(t), "availability must increment exactly once")
}

func TestReturnPermissions(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	owner := member()

	loan, err := f.svc.Borrow(ctx, owner, f.book.ID, epoch)
	require.NoError(t, err)

	_, err = f.svc.Return(ctx, member(), loan.ID, epoch.Add(day))
	var forbidden *ForbiddenError
	assert.ErrorAs(t, err, &forbidden)

	// A librarian may return any loan.
	_, err = f.svc.Return(ctx, librarian(), loan.ID, epoch.Add(day))
	assert.NoError(t, err)
}

func TestClosedLoanStateHiddenFromStrangers(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	owner := member()

	loan, err := f.svc.Borrow(ctx, owner, f.book.ID, epoch)
	require.NoError(t, err)
	_, err = f.svc.Return(ctx, owner, loan.ID, epoch.Add(day))
	require.NoError(t, err)

	// A stranger acting on the closed loan gets a permission error, not
	// ErrAlreadyReturned, so they cannot probe its return state.
	var forbidden *ForbiddenError
	_, err = f.svc.Return(ctx, member(), loan.ID, epoch.Add(2*day))
	assert.ErrorAs(t, err, &forbidden)
	assert.NotErrorIs(t, err, ErrAlreadyReturned)

	_, err = f.svc.Extend(ctx, member(), loan.ID, 3, epoch.Add(2*day))
	assert.ErrorAs(t, err, &forbidden)
	assert.NotErrorIs(t, err, ErrAlreadyReturned)
}

func TestExtendPushesDueDate(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	actor := member()

	loan, err := f.svc.Borrow(ctx, actor, f.book.ID, epoch)
	require.NoError(t, err)

	view, err := f.svc.Extend(ctx, actor, loan.ID, 7, epoch.Add(day))
	require.NoError(t, err)
	assert.Equal(t, epoch.AddDate(0, 0, 21), view.DueAt)
}

func TestExtendCumulativeCap(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	actor := member()

	loan, err := f.svc.Borrow(ctx, actor, f.book.ID, epoch)
	require.NoError(t, err)

	// Extend by 10 (total 10 of 14): fine.
	_, err = f.svc.Extend(ctx, actor, loan.ID, 10, epoch.Add(day))
	require.NoError(t, err)

	// Another 5 would total 15: rejected, due date untouched.
	_, err = f.svc.Extend(ctx, actor, loan.ID, 5, epoch.Add(2*day))
	var capErr *ExtensionLimitExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 14, capErr.Max)
	assert.Equal(t, 10, capErr.SoFar)

	view, err := f.svc.GetLoan(ctx, loan.ID, epoch.Add(2*day))
	require.NoError(t, err)
	assert.Equal(t, epoch.AddDate(0, 0, 24), view.DueAt)

	// The remaining 4 days are still available.
	_, err = f.svc.Extend(ctx, actor, loan.ID, 4, epoch.Add(2*day))
	assert.NoError(t, err)
}

func TestExtendInvalidDays(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	actor := member()

	loan, err := f.svc.Borrow(ctx, actor, f.book.ID, epoch)
	require.NoError(t, err)

	for _, days := range []int{0, -3, 15} {
		_, err = f.svc.Extend(ctx, actor, loan.ID, days, epoch.Add(day))
		var invalid *InvalidExtensionDaysError
		assert.ErrorAs(t, err, &invalid, "days=%d", days)
	}
}

func TestExtendOverdueRequiresLibrarian(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	actor := member()

	loan, err := f.svc.Borrow(ctx, actor, f.book.ID, epoch)
	require.NoError(t, err)

	late := epoch.Add(20 * day)
	_, err = f.svc.Extend(ctx, actor, loan.ID, 3, late)
	var overdueErr *OverdueExtensionError
	require.ErrorAs(t, err, &overdueErr)

	view, err := f.svc.Extend(ctx, librarian(), loan.ID, 3, late)
	require.NoError(t, err)
	assert.Equal(t, epoch.AddDate(0, 0, 17), view.DueAt)
}

func TestExtendReturnedLoan(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	actor := member()

	loan, err := f.svc.Borrow(ctx, actor, f.book.ID, epoch)
	require.NoError(t, err)
	_, err = f.svc.Return(ctx, actor, loan.ID, epoch.Add(day))
	require.NoError(t, err)

	_, err = f.svc.Extend(ctx, actor, loan.ID, 3, epoch.Add(2*day))
	assert.ErrorIs(t, err, ErrAlreadyReturned)
}

func TestNoOversellUnderConcurrency(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Borrow(ctx, member(), f.book.ID, epoch)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes, unavailable := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case err == ErrBookUnavailable:
			unavailable++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, unavailable)
	assert.Equal(t, 0, f.available(t))
}

func TestListLoansDerivedFilters(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	actor := member()

	// One returned, one active and overdue, one active and current.
	returned, err := f.svc.Borrow(ctx, actor, f.book.ID, epoch)
	require.NoError(t, err)
	_, err = f.svc.Return(ctx, actor, returned.ID, epoch.Add(day))
	require.NoError(t, err)

	b2 := catalog.Book{ID: uuid.New(), TotalCopies: 1, AvailableCopies: 1}
	f.store.AddBook(b2)
	_, err = f.svc.Borrow(ctx, actor, b2.ID, epoch)
	require.NoError(t, err)

	b3 := catalog.Book{ID: uuid.New(), TotalCopies: 1, AvailableCopies: 1}
	f.store.AddBook(b3)
	_, err = f.svc.Borrow(ctx, actor, b3.ID, epoch.Add(19*day))
	require.NoError(t, err)

	now := epoch.Add(20 * day) // first due date long past, third just borrowed

	all, err := f.svc.ListLoansForBorrower(ctx, actor.ID, FilterAll, now)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	active, err := f.svc.ListLoansForBorrower(ctx, actor.ID, FilterActive, now)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	overdue, err := f.svc.ListLoansForBorrower(ctx, actor.ID, FilterOverdue, now)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, b2.ID, overdue[0].BookID)
}

func TestHasActiveLoansPredicate(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	actor := member()

	held, err := f.svc.HasActiveLoans(ctx, f.book.ID)
	require.NoError(t, err)
	assert.False(t, held)

	loan, err := f.svc.Borrow(ctx, actor, f.book.ID, epoch)
	require.NoError(t, err)

	held, err = f.svc.HasActiveLoans(ctx, f.book.ID)
	require.NoError(t, err)
	assert.True(t, held)

	_, err = f.svc.Return(ctx, actor, loan.ID, epoch.Add(day))
	require.NoError(t, err)

	held, err = f.svc.HasActiveLoans(ctx, f.book.ID)
	require.NoError(t, err)
	assert.False(t, held)
}

// TestLedgerInvariantUnderRandomOps drives random borrow/return/extend
// sequences and checks after every step that the counter pair stays in
// bounds and matches the number of active loans.
func TestLedgerInvariantUnderRandomOps(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store := NewMemStore()
		svc := NewService(store, WithClock(func() time.Time { return farTime }))
		ctx := context.Background()

		nBooks := rapid.IntRange(1, 3).Draw(t, "books")
		books := make([]catalog.Book, nBooks)
		for i := range books {
			books[i] = catalog.Book{
				ID:              uuid.New(),
				TotalCopies:     rapid.IntRange(1, 3).Draw(t, "copies"),
				AvailableCopies: 0,
			}
			books[i].AvailableCopies = books[i].TotalCopies
			store.AddBook(books[i])
		}

		actors := []identity.Actor{member(), member(), librarian()}
		activeLoans := make(map[uuid.UUID]uuid.UUID) // loan -> book
		var loanIDs []uuid.UUID

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		clock := epoch
		for i := 0; i < steps; i++ {
			clock = clock.Add(time.Duration(rapid.IntRange(0, 48).Draw(t, "advance")) * time.Hour)
			actor := actors[rapid.IntRange(0, len(actors)-1).Draw(t, "actor")]

			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				book := books[rapid.IntRange(0, nBooks-1).Draw(t, "book")]
				if view, err := svc.Borrow(ctx, actor, book.ID, clock); err == nil {
					activeLoans[view.ID] = book.ID
					loanIDs = append(loanIDs, view.ID)
				}
			case 1:
				if len(loanIDs) > 0 {
					id := loanIDs[rapid.IntRange(0, len(loanIDs)-1).Draw(t, "loan")]
					if _, err := svc.Return(ctx, identity.Actor{ID: actor.ID, Role: identity.RoleLibrarian}, id, clock); err == nil {
						delete(activeLoans, id)
					}
				}
			case 2:
				if len(loanIDs) > 0 {
					id := loanIDs[rapid.IntRange(0, len(loanIDs)-1).Draw(t, "loan")]
					days := rapid.IntRange(0, 16).Draw(t, "days")
					_, _ = svc.Extend(ctx, identity.Actor{ID: actor.ID, Role: identity.RoleLibrarian}, id, days, clock)
				}
			}

			// Invariant sweep after every step.
			perBook := make(map[uuid.UUID]int)
			for _, bookID := range activeLoans {
				perBook[bookID]++
			}
			for _, b := range books {
				got, ok := store.Book(b.ID)
				if !ok {
					t.Fatalf("book disappeared")
				}
				if got.AvailableCopies < 0 || got.AvailableCopies > got.TotalCopies {
					t.Fatalf("availability out of bounds: %d of %d", got.AvailableCopies, got.TotalCopies)
				}
				if got.TotalCopies-got.AvailableCopies != perBook[b.ID] {
					t.Fatalf("ledger mismatch for book %s: %d on loan per counters, %d active loans",
						b.ID, got.TotalCopies-got.AvailableCopies, perBook[b.ID])
				}
			}
		}
	})
}
