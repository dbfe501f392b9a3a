// internal/catalog/domain.go
package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Book is the inventory-bearing entity. AvailableCopies only moves through
// the circulation ledger operations, paired 1:1 with loan creation and
// closure; the catalog owns the descriptive fields and TotalCopies.
type Book struct {
	ID              uuid.UUID `json:"id" db:"id"`
	ISBN            string    `json:"isbn" db:"isbn"`
	Title           string    `json:"title" db:"title"`
	Author          string    `json:"author" db:"author"`
	TotalCopies     int       `json:"total_copies" db:"total_copies"`
	AvailableCopies int       `json:"available_copies" db:"available_copies"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// OnLoan is the number of copies currently out, derived from the counter
// pair. The central consistency invariant keeps it equal to the count of
// active loans referencing the book.
func (b *Book) OnLoan() int {
	return b.TotalCopies - b.AvailableCopies
}
