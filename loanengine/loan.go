package loanengine

import (
	"time"

	"github.com/google/uuid"
)

// Loan is the central entity: one member borrowing one copy of one book,
// with a status lifecycle. Loans are created on borrow request, mutated only
// by the engine, and never physically deleted - terminal loans are retained
// for history.
//
// Invariants:
//   - CopyID is set exactly when the status is APPROVED or later, excluding
//     REJECTED and CANCELLED.
//   - DueDate is set exactly when the status enters ACTIVE or later
//     (OVERDUE, RETURNED with history).
type Loan struct {
	ID       uuid.UUID
	MemberID uuid.UUID
	BookID   uuid.UUID
	CopyID   *uuid.UUID

	Status LoanStatus

	RequestedAt time.Time
	ApprovedAt  *time.Time
	BorrowedAt  *time.Time
	DueDate     *time.Time
	ReturnedAt  *time.Time

	RenewalCount    int
	OverdueFee      FeeMinorUnits
	RejectionReason string
}

// IsOverdueAt reports whether the loan has breached its due date as of the
// given instant. Terminal loans are never overdue.
func (l Loan) IsOverdueAt(asOf time.Time) bool {
	if l.Status.IsTerminal() || l.DueDate == nil {
		return false
	}

	return asOf.After(*l.DueDate)
}

// DaysUntilDueAt returns the number of whole days until the due date as of
// the given instant, rounded down, negative if the due date has passed.
// The second return value is false if no due date has been assigned yet.
func (l Loan) DaysUntilDueAt(asOf time.Time) (int, bool) {
	if l.DueDate == nil {
		return 0, false
	}

	const day = 24 * time.Hour

	remaining := l.DueDate.Sub(asOf)
	days := int(remaining / day)
	if remaining < 0 && remaining%day != 0 {
		days--
	}

	return days, true
}

// Snapshot is the read-model view of a loan handed to the request/response
// and list/query layers. The derived fields are computed by this engine's
// eligibility and fee logic and must not be recomputed independently.
type Snapshot struct {
	Loan

	CanRenew     bool
	IsOverdue    bool
	DaysUntilDue int
}

// BuildSnapshot derives the read-model fields from the loan, the member it
// belongs to, and the current policy, evaluated at the given instant.
func BuildSnapshot(loan Loan, member Member, policy Policy, asOf time.Time) Snapshot {
	daysUntilDue, _ := loan.DaysUntilDueAt(asOf)

	return Snapshot{
		Loan:         loan,
		CanRenew:     CanRenew(loan, member, policy, asOf) == nil,
		IsOverdue:    loan.IsOverdueAt(asOf),
		DaysUntilDue: daysUntilDue,
	}
}
