package loanengine

import (
	"errors"
	"fmt"
)

// LoanStatus is the closed set of loan lifecycle states.
//
// ACTIVE is the canonical "currently lent out" state; there is no separate
// BORROWED state. OVERDUE is not terminal - an overdue loan can still be
// returned.
type LoanStatus string

const (
	LoanStatusRequested LoanStatus = "REQUESTED"
	LoanStatusApproved  LoanStatus = "APPROVED"
	LoanStatusActive    LoanStatus = "ACTIVE"
	LoanStatusOverdue   LoanStatus = "OVERDUE"
	LoanStatusReturned  LoanStatus = "RETURNED"
	LoanStatusRejected  LoanStatus = "REJECTED"
	LoanStatusCancelled LoanStatus = "CANCELLED"
)

// loanTransitions is the exhaustive transition table. Every status mutation
// performed by a storage engine must name one of these edges; anything else
// fails with ErrInvalidTransition.
var loanTransitions = map[LoanStatus][]LoanStatus{
	LoanStatusRequested: {LoanStatusApproved, LoanStatusRejected, LoanStatusCancelled},
	LoanStatusApproved:  {LoanStatusActive, LoanStatusCancelled},
	LoanStatusActive:    {LoanStatusOverdue, LoanStatusReturned},
	LoanStatusOverdue:   {LoanStatusReturned},
	LoanStatusRejected:  {},
	LoanStatusReturned:  {},
	LoanStatusCancelled: {},
}

// IsTerminal reports whether the status is final. Terminal loans are
// retained for history and never mutated again.
func (s LoanStatus) IsTerminal() bool {
	return s == LoanStatusReturned || s == LoanStatusRejected || s == LoanStatusCancelled
}

// IsKnown reports whether the status is one of the enumerated values.
func (s LoanStatus) IsKnown() bool {
	_, ok := loanTransitions[s]
	return ok
}

// CanTransitionTo reports whether the edge from s to target is in the
// transition table.
func (s LoanStatus) CanTransitionTo(target LoanStatus) bool {
	for _, allowed := range loanTransitions[s] {
		if allowed == target {
			return true
		}
	}

	return false
}

// EnsureTransition returns nil if the edge from s to target is valid, or
// ErrInvalidTransition joined with a detail error naming the current and the
// requested status.
func (s LoanStatus) EnsureTransition(target LoanStatus) error {
	if s.CanTransitionTo(target) {
		return nil
	}

	return errors.Join(
		ErrInvalidTransition,
		fmt.Errorf("cannot transition loan from %s to %s", s, target),
	)
}

// NonTerminalLoanStatuses are the statuses that count against the
// max-concurrent-loans policy and that keep a copy referenced.
func NonTerminalLoanStatuses() []LoanStatus {
	return []LoanStatus{LoanStatusRequested, LoanStatusApproved, LoanStatusActive, LoanStatusOverdue}
}

// CopyStatus is the closed set of physical copy states.
type CopyStatus string

const (
	CopyStatusAvailable CopyStatus = "AVAILABLE"
	CopyStatusOnLoan    CopyStatus = "ON_LOAN"
	CopyStatusLost      CopyStatus = "LOST"
	CopyStatusDamaged   CopyStatus = "DAMAGED"
)

// IsKnown reports whether the status is one of the enumerated values.
func (s CopyStatus) IsKnown() bool {
	switch s {
	case CopyStatusAvailable, CopyStatusOnLoan, CopyStatusLost, CopyStatusDamaged:
		return true
	default:
		return false
	}
}

// MemberStatus is the closed set of membership states. Only ACTIVE members
// may borrow or renew.
type MemberStatus string

const (
	MemberStatusPending   MemberStatus = "PENDING"
	MemberStatusActive    MemberStatus = "ACTIVE"
	MemberStatusSuspended MemberStatus = "SUSPENDED"
)

// IsKnown reports whether the status is one of the enumerated values.
func (s MemberStatus) IsKnown() bool {
	switch s {
	case MemberStatusPending, MemberStatusActive, MemberStatusSuspended:
		return true
	default:
		return false
	}
}
