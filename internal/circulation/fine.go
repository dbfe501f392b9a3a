// internal/circulation/fine.go
package circulation

import "time"

// FinePerDay is the flat charge for each whole day a loan is overdue.
const FinePerDay Money = 100 // cents

// Fine computes the penalty owed on a loan as of now. Pure and
// deterministic: returned loans are charged against their return time, so
// a historical fine never changes after the fact; loans still out are
// charged against the caller's clock, so dashboards can project without
// mutating anything.
func Fine(l *Loan, now time.Time) Money {
	return FinePerDay * Money(l.DaysOverdue(now))
}
