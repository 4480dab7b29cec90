package loanengine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openshelf/loan-engine-go/loanengine"
)

func Test_Loan_IsOverdueAt(t *testing.T) {
	// arrange
	dueDate := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	loan := activeLoanDueAt(dueDate, 0)

	// act + assert
	assert.False(t, loan.IsOverdueAt(dueDate.Add(-time.Hour)))
	assert.False(t, loan.IsOverdueAt(dueDate), "a loan is not overdue at the due date itself")
	assert.True(t, loan.IsOverdueAt(dueDate.Add(time.Second)))
}

func Test_Loan_IsOverdueAt_When_Loan_IsTerminal(t *testing.T) {
	// arrange
	dueDate := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	loan := activeLoanDueAt(dueDate, 0)
	loan.Status = loanengine.LoanStatusReturned

	// act + assert
	assert.False(t, loan.IsOverdueAt(dueDate.Add(48*time.Hour)))
}

func Test_Loan_DaysUntilDueAt(t *testing.T) {
	// arrange
	dueDate := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	loan := activeLoanDueAt(dueDate, 0)

	// act
	daysBefore, okBefore := loan.DaysUntilDueAt(dueDate.Add(-3 * 24 * time.Hour))
	daysAfter, okAfter := loan.DaysUntilDueAt(dueDate.Add(36 * time.Hour))

	// assert
	assert.True(t, okBefore)
	assert.Equal(t, 3, daysBefore)
	assert.True(t, okAfter)
	assert.Equal(t, -2, daysAfter, "a partially elapsed overdue day counts as a whole day")
}

func Test_Loan_DaysUntilDueAt_When_NoDueDate_IsAssigned(t *testing.T) {
	// arrange
	loan := loanengine.Loan{Status: loanengine.LoanStatusRequested}

	// act
	_, ok := loan.DaysUntilDueAt(time.Now())

	// assert
	assert.False(t, ok)
}

func Test_BuildSnapshot_DerivesTheReadModelFields(t *testing.T) {
	// arrange
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	policy := loanengine.DefaultPolicy()
	policy.MaxRenewals = 1
	policy.RenewalMinDaysBeforeDue = 1
	loan := activeLoanDueAt(now.Add(5*24*time.Hour), 0)

	// act
	snapshot := loanengine.BuildSnapshot(loan, activeMember(), policy, now)

	// assert
	assert.True(t, snapshot.CanRenew)
	assert.False(t, snapshot.IsOverdue)
	assert.Equal(t, 5, snapshot.DaysUntilDue)
}

func Test_BuildSnapshot_When_Loan_IsOverdue(t *testing.T) {
	// arrange
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	loan := activeLoanDueAt(now.Add(-2*24*time.Hour), 0)
	loan.Status = loanengine.LoanStatusOverdue

	// act
	snapshot := loanengine.BuildSnapshot(loan, activeMember(), loanengine.DefaultPolicy(), now)

	// assert
	assert.False(t, snapshot.CanRenew, "an overdue loan may not self-renew")
	assert.True(t, snapshot.IsOverdue)
	assert.Equal(t, -2, snapshot.DaysUntilDue)
}

func Test_Policy_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*loanengine.Policy)
		expectedErr error
	}{
		{"default policy is valid", func(p *loanengine.Policy) {}, nil},
		{"non-positive loan period", func(p *loanengine.Policy) { p.LoanDays = 0 }, loanengine.ErrInvalidLoanPeriod},
		{"non-positive renewal period", func(p *loanengine.Policy) { p.RenewalDays = -1 }, loanengine.ErrInvalidRenewalPeriod},
		{"negative per-day fee", func(p *loanengine.Policy) { p.OverdueFeePerDay = -1 }, loanengine.ErrNegativeFee},
		{"negative fee cap", func(p *loanengine.Policy) { p.OverdueFeeCapPerLoan = -1 }, loanengine.ErrNegativeFee},
		{"non-positive loan cap", func(p *loanengine.Policy) { p.MaxConcurrentLoans = 0 }, loanengine.ErrInvalidLoanCap},
		{"negative renewal window", func(p *loanengine.Policy) { p.RenewalMinDaysBeforeDue = -1 }, loanengine.ErrInvalidRenewalWindow},
		{"empty currency", func(p *loanengine.Policy) { p.Currency = "" }, loanengine.ErrEmptyCurrency},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			policy := loanengine.DefaultPolicy()
			tc.mutate(&policy)

			err := policy.Validate()

			if tc.expectedErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.expectedErr)
			}
		})
	}
}
