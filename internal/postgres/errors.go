// internal/postgres/errors.go
package postgres

import (
	"context"
	"errors"

	"github.com/lib/pq"

	"loanledger/internal/circulation"
)

// Postgres error codes this store cares about.
const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqLockNotAvailable     = "55P03"
	pqQueryCanceled        = "57014" // statement_timeout
)

// translate maps driver errors into the core taxonomy. Retryable
// infrastructure failures become ErrContention; a unique violation on the
// active-loan index means the duplicate-borrow race was lost.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return circulation.ErrContention
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			if pqErr.Constraint == activeLoanConstraint {
				return circulation.ErrAlreadyBorrowed
			}
		case pqSerializationFailure, pqDeadlockDetected, pqLockNotAvailable, pqQueryCanceled:
			return circulation.ErrContention
		}
	}
	return err
}
