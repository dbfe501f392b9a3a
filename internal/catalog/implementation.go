// internal/catalog/implementation.go
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// service implements the Service interface on Postgres.
type service struct {
	db      *sqlx.DB
	checker ActiveLoanChecker
}

// NewService creates a new catalog service instance.
func NewService(db *sqlx.DB, checker ActiveLoanChecker) Service {
	return &service{db: db, checker: checker}
}

// AddBook creates a new book with all copies available.
func (s *service) AddBook(ctx context.Context, isbn, title, author string, totalCopies int) (*Book, error) {
	if totalCopies < 1 {
		return nil, ErrInvalidTotalCopies
	}

	book := &Book{
		ID:              uuid.New(),
		ISBN:            isbn,
		Title:           title,
		Author:          author,
		TotalCopies:     totalCopies,
		AvailableCopies: totalCopies,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO books (id, isbn, title, author, total_copies, available_copies)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, book.ID, book.ISBN, book.Title, book.Author, book.TotalCopies, book.AvailableCopies)
	if err != nil {
		return nil, fmt.Errorf("insert book: %w", err)
	}
	return book, nil
}

// GetBook retrieves a book by its ID.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*Book, error) {
	var book Book
	err := s.db.GetContext(ctx, &book, `
		SELECT id, isbn, title, author, total_copies, available_copies, created_at, updated_at
		FROM books
		WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	return &book, nil
}

// ChangeTotalCopies resizes a book's inventory. Available copies move by
// the same delta, so copies on loan are untouched; shrinking below the
// on-loan count is refused.
func (s *service) ChangeTotalCopies(ctx context.Context, id uuid.UUID, newTotal int) (*Book, error) {
	if newTotal < 1 {
		return nil, ErrInvalidTotalCopies
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var book Book
	err = tx.GetContext(ctx, &book, `
		SELECT id, isbn, title, author, total_copies, available_copies, created_at, updated_at
		FROM books
		WHERE id = $1
		FOR UPDATE
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, err
	}

	if newTotal < book.OnLoan() {
		return nil, ErrTotalBelowActive
	}

	delta := newTotal - book.TotalCopies
	book.TotalCopies = newTotal
	book.AvailableCopies += delta

	_, err = tx.ExecContext(ctx, `
		UPDATE books
		SET total_copies = $1, available_copies = $2, updated_at = NOW()
		WHERE id = $3
	`, book.TotalCopies, book.AvailableCopies, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &book, nil
}

// RemoveBook deletes a book from the catalog. Deletion is blocked while
// any loan referencing the book is still active; returned loans are
// historical records and do not block removal.
func (s *service) RemoveBook(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Borrows lock the same row, so once this lock is held no new active
	// loan can appear before the delete commits.
	var lockedID uuid.UUID
	err = tx.GetContext(ctx, &lockedID, `SELECT id FROM books WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrBookNotFound
	}
	if err != nil {
		return err
	}

	held, err := s.checker.HasActiveLoans(ctx, id)
	if err != nil {
		return err
	}
	if held {
		return ErrHasActiveLoans
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	return tx.Commit()
}
