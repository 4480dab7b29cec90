package loanengine

import (
	"time"
)

// OverdueDays returns the number of overdue days for a loan as of the given
// instant: zero when asOf is not after the due date, otherwise the elapsed
// time past the due date in days, rounded up. A loan without a due date is
// never overdue.
func OverdueDays(loan Loan, asOf time.Time) OverdueDaysInt {
	if loan.DueDate == nil {
		return 0
	}

	const day = 24 * time.Hour

	elapsed := asOf.Sub(*loan.DueDate)
	if elapsed <= 0 {
		return 0
	}

	days := int(elapsed / day)
	if elapsed%day != 0 {
		days++
	}

	return days
}

// ComputeFee returns the accrued overdue fee for a loan as of the given
// instant, capped per policy.
//
// This is a pure function of loan + policy + timestamp with no hidden state,
// so it can be evaluated repeatedly - at sweep time and again at return
// time - without drift.
func ComputeFee(loan Loan, policy Policy, asOf time.Time) FeeMinorUnits {
	days := OverdueDays(loan, asOf)
	if days == 0 {
		return 0
	}

	fee := FeeMinorUnits(days) * policy.OverdueFeePerDay
	if fee > policy.OverdueFeeCapPerLoan {
		fee = policy.OverdueFeeCapPerLoan
	}

	return fee
}
