// internal/circulation/handler.go
package circulation

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"loanledger/internal/identity"
)

// Handler exposes the circulation service over HTTP. The upstream gateway
// authenticates callers and forwards the resolved identity in the
// X-Actor-ID and X-Actor-Role headers; this layer never authenticates.
type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the circulation endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/loans", h.handleBorrow)
	r.Post("/loans/{loanID}/return", h.handleReturn)
	r.Post("/loans/{loanID}/extend", h.handleExtend)
	r.Get("/loans/{loanID}", h.handleGetLoan)
	r.Get("/loans/{loanID}/fine", h.handleFine)
	r.Get("/borrowers/{borrowerID}/loans", h.handleListLoans)
}

func (h *Handler) handleBorrow(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	var req struct {
		BookID     uuid.UUID  `json:"book_id"`
		OccurredAt *time.Time `json:"occurred_at,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	at := time.Now()
	if req.OccurredAt != nil {
		at = *req.OccurredAt
	}

	view, err := h.service.Borrow(r.Context(), actor, req.BookID, at)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	loanID, err := uuid.Parse(chi.URLParam(r, "loanID"))
	if err != nil {
		http.Error(w, "invalid loan ID", http.StatusBadRequest)
		return
	}

	view, err := h.service.Return(r.Context(), actor, loanID, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleExtend(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}
	loanID, err := uuid.Parse(chi.URLParam(r, "loanID"))
	if err != nil {
		http.Error(w, "invalid loan ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Days int `json:"days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	view, err := h.service.Extend(r.Context(), actor, loanID, req.Days, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(chi.URLParam(r, "loanID"))
	if err != nil {
		http.Error(w, "invalid loan ID", http.StatusBadRequest)
		return
	}

	view, err := h.service.GetLoan(r.Context(), loanID, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleFine(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(chi.URLParam(r, "loanID"))
	if err != nil {
		http.Error(w, "invalid loan ID", http.StatusBadRequest)
		return
	}

	now := time.Now()
	fine, err := h.service.ComputeFine(r.Context(), loanID, now)
	if err != nil {
		writeError(w, err)
		return
	}
	overdue, err := h.service.IsOverdue(r.Context(), loanID, now)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"loan_id":    loanID,
		"fine_cents": fine,
		"fine":       fine.String(),
		"is_overdue": overdue,
	})
}

func (h *Handler) handleListLoans(w http.ResponseWriter, r *http.Request) {
	borrowerID, err := uuid.Parse(chi.URLParam(r, "borrowerID"))
	if err != nil {
		http.Error(w, "invalid borrower ID", http.StatusBadRequest)
		return
	}

	filter := FilterAll
	switch r.URL.Query().Get("filter") {
	case "active":
		filter = FilterActive
	case "overdue":
		filter = FilterOverdue
	case "", "all":
	default:
		http.Error(w, "unknown filter", http.StatusBadRequest)
		return
	}

	views, err := h.service.ListLoansForBorrower(r.Context(), borrowerID, filter, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func actorFromRequest(w http.ResponseWriter, r *http.Request) (identity.Actor, bool) {
	id, err := uuid.Parse(r.Header.Get("X-Actor-ID"))
	if err != nil {
		http.Error(w, "missing or invalid X-Actor-ID header", http.StatusBadRequest)
		return identity.Actor{}, false
	}
	role, err := identity.ParseRole(r.Header.Get("X-Actor-Role"))
	if err != nil {
		http.Error(w, "missing or invalid X-Actor-Role header", http.StatusBadRequest)
		return identity.Actor{}, false
	}
	return identity.Actor{ID: id, Role: role}, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the typed error taxonomy to HTTP statuses. Contention is
// the only retryable class and is flagged with Retry-After.
func writeError(w http.ResponseWriter, err error) {
	var (
		notFound   *NotFoundError
		limit      *LimitExceededError
		invalidExt *InvalidExtensionDaysError
		extLimit   *ExtensionLimitExceededError
		overdueExt *OverdueExtensionError
		forbidden  *ForbiddenError
		corruption *CorruptionError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &forbidden):
		status = http.StatusForbidden
	case errors.As(err, &limit), errors.As(err, &extLimit), errors.As(err, &overdueExt):
		status = http.StatusConflict
	case errors.As(err, &invalidExt):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ErrBookUnavailable), errors.Is(err, ErrAlreadyBorrowed), errors.Is(err, ErrAlreadyReturned):
		status = http.StatusConflict
	case errors.Is(err, ErrBorrowedInFuture):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ErrContention):
		w.Header().Set("Retry-After", "1")
		status = http.StatusServiceUnavailable
	case errors.As(err, &corruption):
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}
