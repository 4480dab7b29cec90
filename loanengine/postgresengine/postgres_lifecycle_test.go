package postgresengine_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"

	"github.com/openshelf/loan-engine-go/loanengine"
	"github.com/openshelf/loan-engine-go/loanengine/postgresengine"
	"github.com/openshelf/loan-engine-go/testutil/config"
	"github.com/openshelf/loan-engine-go/testutil/helper"
)

// These tests run against a real Postgres with the loan schema migrated,
// reachable via testutil/config.

func setupLiveEngine(t *testing.T, options ...postgresengine.Option) (*postgresengine.Engine, *pgxpool.Pool) {
	t.Helper()

	connPool, err := pgxpool.NewWithConfig(context.Background(), config.PostgresPGXPoolTestConfig())
	assert.NoError(t, err, "error connecting to DB pool in test setup")
	t.Cleanup(connPool.Close)

	engine, err := postgresengine.NewEngineFromPGXPool(connPool, options...)
	assert.NoError(t, err, "creating the engine failed")

	helper.CleanUpLoanData(t, connPool)

	return engine, connPool
}

func manualApprovalPolicy() loanengine.Policy {
	policy := loanengine.DefaultPolicy()
	policy.ApprovalRequired = true

	return policy
}

func Test_LoanLifecycle_When_RequestedApprovedAndReturned(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	engine, connPool := setupLiveEngine(t)

	// arrange
	helper.GivenPolicy(t, ctxWithTimeout, connPool, manualApprovalPolicy())
	member := helper.GivenActiveMember(t, ctxWithTimeout, connPool)
	book, copies := helper.GivenBookWithCopies(t, ctxWithTimeout, connPool, 2)

	// act
	requested, err := engine.RequestLoan(ctxWithTimeout, member.ID, book.ID, nil)
	assert.NoError(t, err, "error requesting the loan")
	assert.Equal(t, loanengine.LoanStatusRequested, requested.Status)

	approved, err := engine.ApproveLoan(ctxWithTimeout, requested.ID, nil)
	assert.NoError(t, err, "error approving the loan")

	returned, err := engine.ReturnLoan(ctxWithTimeout, approved.ID)
	assert.NoError(t, err, "error returning the loan")

	// assert
	assert.Equal(t, loanengine.LoanStatusActive, approved.Status)
	assert.NotNil(t, approved.CopyID)
	assert.Contains(t, []uuid.UUID{copies[0].ID, copies[1].ID}, *approved.CopyID)
	assert.Equal(t, loanengine.LoanStatusReturned, returned.Status)
	assert.Zero(t, returned.OverdueFee, "an on-time return accrues no fee")

	snapshot, err := engine.GetLoan(ctxWithTimeout, returned.ID)
	assert.NoError(t, err, "error loading the loan snapshot")
	assert.False(t, snapshot.CanRenew, "a terminal loan must not be renewable")
	assert.False(t, snapshot.IsOverdue)
}

func Test_ApproveLoan_When_TwoApprovalsRaceForTheLastCopy(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	engine, connPool := setupLiveEngine(t)

	// arrange
	helper.GivenPolicy(t, ctxWithTimeout, connPool, manualApprovalPolicy())
	firstMember := helper.GivenActiveMember(t, ctxWithTimeout, connPool)
	secondMember := helper.GivenActiveMember(t, ctxWithTimeout, connPool)
	book, _ := helper.GivenBookWithCopies(t, ctxWithTimeout, connPool, 1)

	firstLoan, err := engine.RequestLoan(ctxWithTimeout, firstMember.ID, book.ID, nil)
	assert.NoError(t, err, "error requesting the first loan")
	secondLoan, err := engine.RequestLoan(ctxWithTimeout, secondMember.ID, book.ID, nil)
	assert.NoError(t, err, "error requesting the second loan")

	// act
	var wg sync.WaitGroup
	results := make([]error, 2)

	for i, loanID := range []uuid.UUID{firstLoan.ID, secondLoan.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = engine.ApproveLoan(ctxWithTimeout, loanID, nil)
		}()
	}
	wg.Wait()

	// assert: exactly one approval wins the single copy
	winners := 0
	losers := 0

	for _, approveErr := range results {
		switch {
		case approveErr == nil:
			winners++
		case errors.Is(approveErr, loanengine.ErrCopyUnavailable) ||
			errors.Is(approveErr, loanengine.ErrNoCopyAvailable):
			losers++
		default:
			t.Fatalf("unexpected error from racing approval: %v", approveErr)
		}
	}

	assert.Equal(t, 1, winners, "exactly one approval may win the copy")
	assert.Equal(t, 1, losers, "the other approval must lose cleanly")
}

func Test_RequestLoan_When_MemberIsAtTheLoanLimit(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	engine, connPool := setupLiveEngine(t)

	// arrange
	policy := manualApprovalPolicy()
	policy.MaxConcurrentLoans = 2
	helper.GivenPolicy(t, ctxWithTimeout, connPool, policy)

	member := helper.GivenActiveMember(t, ctxWithTimeout, connPool)
	book, _ := helper.GivenBookWithCopies(t, ctxWithTimeout, connPool, 3)

	for i := 0; i < 2; i++ {
		_, err := engine.RequestLoan(ctxWithTimeout, member.ID, book.ID, nil)
		assert.NoError(t, err, "error in arranging test data")
	}

	// act
	_, err := engine.RequestLoan(ctxWithTimeout, member.ID, book.ID, nil)

	// assert
	assert.ErrorIs(t, err, loanengine.ErrLoanLimitExceeded)
}

func Test_CancelLoan_When_CopyWasAlreadyReserved(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	engine, connPool := setupLiveEngine(t)

	// arrange: auto-approval reserves the copy at request time
	policy := manualApprovalPolicy()
	policy.ApprovalRequired = false
	helper.GivenPolicy(t, ctxWithTimeout, connPool, policy)

	member := helper.GivenActiveMember(t, ctxWithTimeout, connPool)
	book, _ := helper.GivenBookWithCopies(t, ctxWithTimeout, connPool, 1)

	loan, err := engine.RequestLoan(ctxWithTimeout, member.ID, book.ID, nil)
	assert.NoError(t, err, "error in arranging test data")
	assert.Equal(t, loanengine.LoanStatusActive, loan.Status)

	// act: an ACTIVE loan cannot be cancelled, only returned
	_, err = engine.CancelLoan(ctxWithTimeout, loan.ID)

	// assert
	assert.ErrorIs(t, err, loanengine.ErrInvalidTransition)
}

func Test_SweepOverdue_When_ALoanBreachedItsDueDate(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	engine, connPool := setupLiveEngine(t)

	// arrange
	policy := manualApprovalPolicy()
	policy.ApprovalRequired = false
	helper.GivenPolicy(t, ctxWithTimeout, connPool, policy)

	member := helper.GivenActiveMember(t, ctxWithTimeout, connPool)
	book, _ := helper.GivenBookWithCopies(t, ctxWithTimeout, connPool, 1)

	loan, err := engine.RequestLoan(ctxWithTimeout, member.ID, book.ID, nil)
	assert.NoError(t, err, "error in arranging test data")

	overdueDueDate := time.Now().UTC().AddDate(0, 0, -3)
	helper.GivenLoanDueDateMovedTo(t, ctxWithTimeout, connPool, loan.ID, overdueDueDate)

	// act
	report, err := engine.SweepOverdue(ctxWithTimeout)

	// assert
	assert.NoError(t, err, "error sweeping overdue loans")
	assert.Equal(t, 1, report.MarkedOverdue)

	snapshot, err := engine.GetLoan(ctxWithTimeout, loan.ID)
	assert.NoError(t, err, "error loading the loan snapshot")
	assert.Equal(t, loanengine.LoanStatusOverdue, snapshot.Status)
	assert.True(t, snapshot.IsOverdue)
	assert.Equal(t, loanengine.FeeMinorUnits(300), snapshot.OverdueFee, "3 overdue days at 100 per day")

	// a second sweep is idempotent
	secondReport, err := engine.SweepOverdue(ctxWithTimeout)
	assert.NoError(t, err, "error sweeping overdue loans again")
	assert.Zero(t, secondReport.MarkedOverdue)
}

func Test_Engine_When_ObservabilityCollectorsAreConfigured(t *testing.T) {
	// setup
	ctxWithTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logSpy := helper.NewLogHandlerSpy(false)
	metricsSpy := helper.NewMetricsCollectorSpy()
	tracingSpy := helper.NewTracingCollectorSpy()

	engine, connPool := setupLiveEngine(t,
		postgresengine.WithLogger(slog.New(logSpy)),
		postgresengine.WithMetrics(metricsSpy),
		postgresengine.WithTracing(tracingSpy),
	)

	// arrange
	helper.GivenPolicy(t, ctxWithTimeout, connPool, manualApprovalPolicy())
	member := helper.GivenActiveMember(t, ctxWithTimeout, connPool)
	book, _ := helper.GivenBookWithCopies(t, ctxWithTimeout, connPool, 1)

	// act
	_, err := engine.RequestLoan(ctxWithTimeout, member.ID, book.ID, nil)
	assert.NoError(t, err, "error requesting the loan")

	// assert
	assert.Positive(t, logSpy.GetRecordCount(), "engine operations must be logged")
	assert.True(t, tracingSpy.HasFinishedSpan("loanengine.request_loan", "success"))
	assert.NotEmpty(t, metricsSpy.GetDurationRecords(), "operation durations must be recorded")
}
