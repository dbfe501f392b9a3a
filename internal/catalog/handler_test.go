// internal/catalog/handler_test.go
package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	Service
	add    func(isbn, title, author string, totalCopies int) (*Book, error)
	get    func(id uuid.UUID) (*Book, error)
	remove func(id uuid.UUID) error
}

func (s *stubService) AddBook(_ context.Context, isbn, title, author string, totalCopies int) (*Book, error) {
	return s.add(isbn, title, author, totalCopies)
}

func (s *stubService) GetBook(_ context.Context, id uuid.UUID) (*Book, error) {
	return s.get(id)
}

func (s *stubService) RemoveBook(_ context.Context, id uuid.UUID) error {
	return s.remove(id)
}

func newTestServer(svc Service) *httptest.Server {
	router := chi.NewRouter()
	NewHandler(svc).Routes(router)
	return httptest.NewServer(router)
}

func TestHandleAddBook(t *testing.T) {
	svc := &stubService{
		add: func(isbn, title, author string, totalCopies int) (*Book, error) {
			assert.Equal(t, "9780141439518", isbn)
			assert.Equal(t, 3, totalCopies)
			return &Book{ID: uuid.New(), ISBN: isbn, Title: title, Author: author,
				TotalCopies: totalCopies, AvailableCopies: totalCopies}, nil
		},
	}
	srv := newTestServer(svc)
	defer srv.Close()

	body := `{"isbn":"9780141439518","title":"Pride and Prejudice","author":"Jane Austen","total_copies":3}`
	resp, err := http.Post(srv.URL+"/books", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var book Book
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&book))
	assert.Equal(t, 3, book.AvailableCopies)
}

func TestHandleGetBookNotFound(t *testing.T) {
	svc := &stubService{
		get: func(uuid.UUID) (*Book, error) { return nil, ErrBookNotFound },
	}
	srv := newTestServer(svc)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/books/" + uuid.NewString())
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleRemoveBookBlockedByActiveLoans(t *testing.T) {
	svc := &stubService{
		remove: func(uuid.UUID) error { return ErrHasActiveLoans },
	}
	srv := newTestServer(svc)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/books/"+uuid.NewString(), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestOnLoanDerivedFromCounters(t *testing.T) {
	b := Book{TotalCopies: 5, AvailableCopies: 2}
	assert.Equal(t, 3, b.OnLoan())
}
