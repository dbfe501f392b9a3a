// internal/circulation/policy.go
package circulation

import "loanledger/internal/identity"

// Business constants, not configuration. v1 deliberately hard-codes the
// per-role ceilings.
const (
	librarianLoanLimit = 10
	memberLoanLimit    = 5
)

// MaxActiveLoans returns the concurrent active-loan ceiling for a role.
func MaxActiveLoans(role identity.Role) int {
	if role == identity.RoleLibrarian {
		return librarianLoanLimit
	}
	return memberLoanLimit
}

// CheckUnderLimit validates that an actor with the given number of active
// loans may open one more. Pure; the caller supplies the current count
// from inside the same transaction that will create the loan.
func CheckUnderLimit(role identity.Role, currentActive int) error {
	max := MaxActiveLoans(role)
	if currentActive >= max {
		return &LimitExceededError{Max: max, Current: currentActive}
	}
	return nil
}
