package loanengine

// Policy is the admin-tunable library policy snapshot consulted at each
// decision point. The engine reads the current snapshot at the start of
// every operation and never caches it across operations, so a concurrent
// policy update can never leave an operation working with stale limits.
//
// Monetary fields are minor units of Currency.
type Policy struct {
	LoanDays                int
	RenewalDays             int
	MaxRenewals             int
	RenewalMinDaysBeforeDue int
	OverdueFeePerDay        FeeMinorUnits
	OverdueFeeCapPerLoan    FeeMinorUnits
	MaxConcurrentLoans      int
	ApprovalRequired        bool
	DueSoonDays             int
	Currency                string
}

// DefaultPolicy returns the policy used when no row has been configured yet.
func DefaultPolicy() Policy {
	return Policy{
		LoanDays:                14,
		RenewalDays:             7,
		MaxRenewals:             2,
		RenewalMinDaysBeforeDue: 1,
		OverdueFeePerDay:        100,
		OverdueFeeCapPerLoan:    5000,
		MaxConcurrentLoans:      5,
		ApprovalRequired:        true,
		DueSoonDays:             2,
		Currency:                "EUR",
	}
}

// Validate checks the policy for nonsense values. A policy that fails
// validation must never reach the engine.
func (p Policy) Validate() error {
	if p.LoanDays <= 0 {
		return ErrInvalidLoanPeriod
	}

	if p.RenewalDays <= 0 {
		return ErrInvalidRenewalPeriod
	}

	if p.OverdueFeePerDay < 0 || p.OverdueFeeCapPerLoan < 0 {
		return ErrNegativeFee
	}

	if p.MaxConcurrentLoans <= 0 {
		return ErrInvalidLoanCap
	}

	if p.RenewalMinDaysBeforeDue < 0 {
		return ErrInvalidRenewalWindow
	}

	if p.Currency == "" {
		return ErrEmptyCurrency
	}

	return nil
}
