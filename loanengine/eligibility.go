package loanengine

import (
	"errors"
	"fmt"
	"time"
)

// CanBorrow decides whether a member may request, or be approved for, a new
// loan. The caller supplies the member's current count of non-terminal loans
// (REQUESTED, APPROVED, ACTIVE, OVERDUE) as counted inside the same
// transaction that will create the loan.
func CanBorrow(member Member, nonTerminalLoanCount int, policy Policy) error {
	if !member.IsActive() {
		return ErrMemberNotActive
	}

	if nonTerminalLoanCount >= policy.MaxConcurrentLoans {
		return ErrLoanLimitExceeded
	}

	return nil
}

// CanRenew decides whether a loan may be renewed as of the given instant.
//
// A loan must be ACTIVE to renew - an OVERDUE loan may not self-renew since
// it already breached its due date. The renewal must be requested at least
// Policy.RenewalMinDaysBeforeDue days before the due date.
func CanRenew(loan Loan, member Member, policy Policy, now time.Time) error {
	if loan.Status != LoanStatusActive {
		return errors.Join(
			ErrInvalidTransition,
			fmt.Errorf("cannot renew loan in status %s, renewal requires %s", loan.Status, LoanStatusActive),
		)
	}

	if !member.IsActive() {
		return ErrMemberNotActive
	}

	if loan.RenewalCount >= policy.MaxRenewals {
		return ErrRenewalLimitReached
	}

	if loan.DueDate == nil {
		return ErrRenewalWindowClosed
	}

	windowCloses := loan.DueDate.AddDate(0, 0, -policy.RenewalMinDaysBeforeDue)
	if now.After(windowCloses) {
		return ErrRenewalWindowClosed
	}

	return nil
}
