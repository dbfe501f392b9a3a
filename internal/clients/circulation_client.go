// internal/clients/circulation_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"loanledger/internal/catalog"
	"loanledger/internal/circulation"
	"loanledger/internal/identity"
)

// CirculationClient calls the circulation service over HTTP. It identifies
// the acting user through the same headers the upstream gateway would set.
type CirculationClient struct {
	baseURL string
	http    *http.Client
}

func NewCirculationClient(baseURL string) *CirculationClient {
	return &CirculationClient{baseURL: baseURL, http: http.DefaultClient}
}

// Borrow opens a loan for the actor on the given book.
func (c *CirculationClient) Borrow(ctx context.Context, actor identity.Actor, bookID uuid.UUID) (*circulation.LoanView, error) {
	body, err := json.Marshal(map[string]string{"book_id": bookID.String()})
	if err != nil {
		return nil, err
	}

	var view circulation.LoanView
	if err := c.do(ctx, actor, http.MethodPost, "/loans", body, http.StatusCreated, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Return closes a loan.
func (c *CirculationClient) Return(ctx context.Context, actor identity.Actor, loanID uuid.UUID) (*circulation.LoanView, error) {
	var view circulation.LoanView
	path := fmt.Sprintf("/loans/%s/return", loanID)
	if err := c.do(ctx, actor, http.MethodPost, path, nil, http.StatusOK, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Extend pushes a loan's due date forward by the given number of days.
func (c *CirculationClient) Extend(ctx context.Context, actor identity.Actor, loanID uuid.UUID, days int) (*circulation.LoanView, error) {
	body, err := json.Marshal(map[string]int{"days": days})
	if err != nil {
		return nil, err
	}

	var view circulation.LoanView
	path := fmt.Sprintf("/loans/%s/extend", loanID)
	if err := c.do(ctx, actor, http.MethodPost, path, body, http.StatusOK, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// AddBook registers a book through the catalog endpoints.
func (c *CirculationClient) AddBook(ctx context.Context, actor identity.Actor, isbn, title, author string, totalCopies int) (*catalog.Book, error) {
	body, err := json.Marshal(map[string]any{
		"isbn":         isbn,
		"title":        title,
		"author":       author,
		"total_copies": totalCopies,
	})
	if err != nil {
		return nil, err
	}

	var book catalog.Book
	if err := c.do(ctx, actor, http.MethodPost, "/books", body, http.StatusCreated, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

// GetBook fetches a book with its current copy counters.
func (c *CirculationClient) GetBook(ctx context.Context, actor identity.Actor, bookID uuid.UUID) (*catalog.Book, error) {
	var book catalog.Book
	path := fmt.Sprintf("/books/%s", bookID)
	if err := c.do(ctx, actor, http.MethodGet, path, nil, http.StatusOK, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (c *CirculationClient) do(ctx context.Context, actor identity.Actor, method, path string, body []byte, wantStatus int, out any) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", actor.ID.String())
	req.Header.Set("X-Actor-Role", string(actor.Role))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
