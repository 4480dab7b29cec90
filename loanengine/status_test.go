package loanengine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openshelf/loan-engine-go/loanengine"
)

func Test_LoanStatus_EnumeratedEdges_AreValid(t *testing.T) {
	validEdges := []struct {
		from loanengine.LoanStatus
		to   loanengine.LoanStatus
	}{
		{loanengine.LoanStatusRequested, loanengine.LoanStatusApproved},
		{loanengine.LoanStatusRequested, loanengine.LoanStatusRejected},
		{loanengine.LoanStatusRequested, loanengine.LoanStatusCancelled},
		{loanengine.LoanStatusApproved, loanengine.LoanStatusActive},
		{loanengine.LoanStatusApproved, loanengine.LoanStatusCancelled},
		{loanengine.LoanStatusActive, loanengine.LoanStatusOverdue},
		{loanengine.LoanStatusActive, loanengine.LoanStatusReturned},
		{loanengine.LoanStatusOverdue, loanengine.LoanStatusReturned},
	}

	for _, edge := range validEdges {
		assert.NoError(t, edge.from.EnsureTransition(edge.to), "edge %s -> %s must be valid", edge.from, edge.to)
	}
}

func Test_LoanStatus_UnlistedEdges_FailWithInvalidTransition(t *testing.T) {
	invalidEdges := []struct {
		from loanengine.LoanStatus
		to   loanengine.LoanStatus
	}{
		{loanengine.LoanStatusRequested, loanengine.LoanStatusActive},
		{loanengine.LoanStatusRequested, loanengine.LoanStatusReturned},
		{loanengine.LoanStatusApproved, loanengine.LoanStatusRejected},
		{loanengine.LoanStatusActive, loanengine.LoanStatusCancelled},
		{loanengine.LoanStatusOverdue, loanengine.LoanStatusCancelled},
		{loanengine.LoanStatusOverdue, loanengine.LoanStatusActive},
		{loanengine.LoanStatusReturned, loanengine.LoanStatusActive},
		{loanengine.LoanStatusRejected, loanengine.LoanStatusApproved},
		{loanengine.LoanStatusCancelled, loanengine.LoanStatusRequested},
	}

	for _, edge := range invalidEdges {
		err := edge.from.EnsureTransition(edge.to)
		assert.ErrorIs(t, err, loanengine.ErrInvalidTransition, "edge %s -> %s must be invalid", edge.from, edge.to)
		assert.ErrorContains(t, err, string(edge.from), "the error must report the current status")
		assert.ErrorContains(t, err, string(edge.to), "the error must report the requested status")
	}
}

func Test_LoanStatus_TerminalStates_HaveNoOutgoingEdges(t *testing.T) {
	terminals := []loanengine.LoanStatus{
		loanengine.LoanStatusReturned,
		loanengine.LoanStatusRejected,
		loanengine.LoanStatusCancelled,
	}

	all := []loanengine.LoanStatus{
		loanengine.LoanStatusRequested,
		loanengine.LoanStatusApproved,
		loanengine.LoanStatusActive,
		loanengine.LoanStatusOverdue,
		loanengine.LoanStatusReturned,
		loanengine.LoanStatusRejected,
		loanengine.LoanStatusCancelled,
	}

	for _, terminal := range terminals {
		assert.True(t, terminal.IsTerminal())

		for _, target := range all {
			assert.False(t, terminal.CanTransitionTo(target), "terminal status %s must not transition to %s", terminal, target)
		}
	}
}

func Test_LoanStatus_NonTerminalStatuses_CountAgainstTheLoanLimit(t *testing.T) {
	nonTerminal := loanengine.NonTerminalLoanStatuses()

	assert.Len(t, nonTerminal, 4)

	for _, status := range nonTerminal {
		assert.False(t, status.IsTerminal())
		assert.True(t, status.IsKnown())
	}
}

func Test_Statuses_RejectUnknownValues(t *testing.T) {
	assert.False(t, loanengine.LoanStatus("BORROWED").IsKnown())
	assert.False(t, loanengine.CopyStatus("RESERVED").IsKnown())
	assert.False(t, loanengine.MemberStatus("EXPIRED").IsKnown())

	assert.True(t, loanengine.LoanStatus("ACTIVE").IsKnown())
	assert.True(t, loanengine.CopyStatus("ON_LOAN").IsKnown())
	assert.True(t, loanengine.MemberStatus("ACTIVE").IsKnown())
}
