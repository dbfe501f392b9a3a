// internal/circulation/memstore.go
package circulation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"loanledger/internal/catalog"
)

// MemStore is an in-memory Store for unit tests and local development. A
// single mutex serializes every unit of work, which trivially satisfies
// the per-book linearization the port demands; rollback is implemented by
// snapshotting state before fn runs and restoring it on error.
type MemStore struct {
	mu    sync.Mutex
	books map[uuid.UUID]catalog.Book
	loans map[uuid.UUID]Loan
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		books: make(map[uuid.UUID]catalog.Book),
		loans: make(map[uuid.UUID]Loan),
	}
}

// AddBook seeds a book. Test setup helper, not part of the Store port.
func (m *MemStore) AddBook(b catalog.Book) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[b.ID] = b
}

// Book returns a copy of a seeded book. Test inspection helper.
func (m *MemStore) Book(id uuid.UUID) (catalog.Book, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	return b, ok
}

// WithinTx runs fn under the store lock, restoring the pre-transaction
// snapshot when fn fails.
func (m *MemStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	booksBefore := make(map[uuid.UUID]catalog.Book, len(m.books))
	for k, v := range m.books {
		booksBefore[k] = v
	}
	loansBefore := make(map[uuid.UUID]Loan, len(m.loans))
	for k, v := range m.loans {
		loansBefore[k] = v
	}

	if err := fn(ctx, (*memTx)(m)); err != nil {
		m.books = booksBefore
		m.loans = loansBefore
		return err
	}
	return nil
}

// GetLoan loads a loan outside a transaction.
func (m *MemStore) GetLoan(_ context.Context, loanID uuid.UUID) (*Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.loans[loanID]
	if !ok {
		return nil, &NotFoundError{Entity: "loan", ID: loanID}
	}
	cp := l
	return &cp, nil
}

// ListLoansForBorrower applies the derived-state filters in memory.
func (m *MemStore) ListLoansForBorrower(_ context.Context, borrowerID uuid.UUID, filter LoanFilter, now time.Time) ([]*Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Loan
	for _, l := range m.loans {
		if l.BorrowerID != borrowerID {
			continue
		}
		switch filter {
		case FilterActive:
			if l.IsReturned() {
				continue
			}
		case FilterOverdue:
			if !l.IsOverdue(now) {
				continue
			}
		}
		cp := l
		out = append(out, &cp)
	}
	return out, nil
}

// HasActiveLoans reports whether any borrower still holds the book.
func (m *MemStore) HasActiveLoans(_ context.Context, bookID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.loans {
		if l.BookID == bookID && !l.IsReturned() {
			return true, nil
		}
	}
	return false, nil
}

// memTx gives the orchestrator its transactional view. The store mutex is
// already held for the whole unit of work.
type memTx MemStore

func (t *memTx) BookForUpdate(_ context.Context, bookID uuid.UUID) (*catalog.Book, error) {
	b, ok := t.books[bookID]
	if !ok {
		return nil, &NotFoundError{Entity: "book", ID: bookID}
	}
	cp := b
	return &cp, nil
}

func (t *memTx) ReserveCopy(_ context.Context, bookID uuid.UUID) error {
	b, ok := t.books[bookID]
	if !ok {
		return &NotFoundError{Entity: "book", ID: bookID}
	}
	if b.AvailableCopies <= 0 {
		return ErrBookUnavailable
	}
	b.AvailableCopies--
	t.books[bookID] = b
	return nil
}

func (t *memTx) ReleaseCopy(_ context.Context, bookID uuid.UUID) error {
	b, ok := t.books[bookID]
	if !ok {
		return &NotFoundError{Entity: "book", ID: bookID}
	}
	if b.AvailableCopies >= b.TotalCopies {
		return &CorruptionError{BookID: bookID, Detail: "release would exceed total copies"}
	}
	b.AvailableCopies++
	t.books[bookID] = b
	return nil
}

func (t *memTx) InsertLoan(_ context.Context, loan *Loan) error {
	for _, l := range t.loans {
		if l.BookID == loan.BookID && l.BorrowerID == loan.BorrowerID && !l.IsReturned() {
			return ErrAlreadyBorrowed
		}
	}
	t.loans[loan.ID] = *loan
	return nil
}

func (t *memTx) LoanForUpdate(_ context.Context, loanID uuid.UUID) (*Loan, error) {
	l, ok := t.loans[loanID]
	if !ok {
		return nil, &NotFoundError{Entity: "loan", ID: loanID}
	}
	cp := l
	return &cp, nil
}

func (t *memTx) MarkReturned(_ context.Context, loanID uuid.UUID, at time.Time) error {
	l, ok := t.loans[loanID]
	if !ok {
		return &NotFoundError{Entity: "loan", ID: loanID}
	}
	l.ReturnedAt = &at
	t.loans[loanID] = l
	return nil
}

func (t *memTx) SetDueAt(_ context.Context, loanID uuid.UUID, dueAt time.Time) error {
	l, ok := t.loans[loanID]
	if !ok {
		return &NotFoundError{Entity: "loan", ID: loanID}
	}
	l.DueAt = dueAt
	t.loans[loanID] = l
	return nil
}

func (t *memTx) CountActiveLoans(_ context.Context, borrowerID uuid.UUID) (int, error) {
	n := 0
	for _, l := range t.loans {
		if l.BorrowerID == borrowerID && !l.IsReturned() {
			n++
		}
	}
	return n, nil
}

func (t *memTx) HasActiveLoan(_ context.Context, bookID, borrowerID uuid.UUID) (bool, error) {
	for _, l := range t.loans {
		if l.BookID == bookID && l.BorrowerID == borrowerID && !l.IsReturned() {
			return true, nil
		}
	}
	return false, nil
}
