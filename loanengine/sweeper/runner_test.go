package sweeper_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/openshelf/loan-engine-go/loanengine"
	"github.com/openshelf/loan-engine-go/loanengine/postgresengine"
	"github.com/openshelf/loan-engine-go/loanengine/sweeper"
)

type fakeEngine struct {
	report postgresengine.SweepReport
	err    error
	calls  int
}

func (f *fakeEngine) SweepOverdue(_ context.Context) (postgresengine.SweepReport, error) {
	f.calls++
	return f.report, f.err
}

type spyNotifier struct {
	kinds    []string
	payloads [][]byte
	err      error
}

func (s *spyNotifier) Notify(_ context.Context, kind string, payload []byte) error {
	if s.err != nil {
		return s.err
	}

	s.kinds = append(s.kinds, kind)
	s.payloads = append(s.payloads, payload)

	return nil
}

func someLoan(status loanengine.LoanStatus, dueDate time.Time, fee loanengine.FeeMinorUnits) loanengine.Loan {
	copyID := uuid.New()

	return loanengine.Loan{
		ID:         uuid.New(),
		MemberID:   uuid.New(),
		BookID:     uuid.New(),
		CopyID:     &copyID,
		Status:     status,
		DueDate:    &dueDate,
		OverdueFee: fee,
	}
}

func Test_RunOnce_When_SweepReportsOverdueAndDueSoonLoans(t *testing.T) {
	// setup
	dueDate := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	overdueLoan := someLoan(loanengine.LoanStatusOverdue, dueDate.AddDate(0, 0, -3), 300)
	dueSoonLoan := someLoan(loanengine.LoanStatusActive, dueDate.AddDate(0, 0, 1), 0)

	engine := &fakeEngine{report: postgresengine.SweepReport{
		MarkedOverdue: 1,
		DueSoon:       1,
		OverdueLoans:  []loanengine.Loan{overdueLoan},
		DueSoonLoans:  []loanengine.Loan{dueSoonLoan},
	}}
	notifier := &spyNotifier{}

	runner, err := sweeper.NewRunner(engine, sweeper.WithNotifier(notifier))
	assert.NoError(t, err, "creating the runner failed")

	// act
	report, err := runner.RunOnce(context.Background())

	// assert
	assert.NoError(t, err, "error running the sweep")
	assert.Equal(t, 1, report.MarkedOverdue)
	assert.Equal(t, []string{sweeper.NotificationKindDueSoon, sweeper.NotificationKindOverdue}, notifier.kinds)

	overdueNotification, err := sweeper.UnmarshalNotification(notifier.payloads[1])
	assert.NoError(t, err, "error decoding the overdue notification")
	assert.Equal(t, overdueLoan.ID.String(), overdueNotification.LoanID)
	assert.Equal(t, int64(300), overdueNotification.OverdueFee)

	dueSoonNotification, err := sweeper.UnmarshalNotification(notifier.payloads[0])
	assert.NoError(t, err, "error decoding the due-soon notification")
	assert.Equal(t, dueSoonLoan.ID.String(), dueSoonNotification.LoanID)
	assert.Zero(t, dueSoonNotification.OverdueFee)
}

func Test_RunOnce_When_NoNotifierIsConfigured(t *testing.T) {
	// setup
	engine := &fakeEngine{report: postgresengine.SweepReport{MarkedOverdue: 2}}

	runner, err := sweeper.NewRunner(engine)
	assert.NoError(t, err, "creating the runner failed")

	// act
	report, err := runner.RunOnce(context.Background())

	// assert
	assert.NoError(t, err, "error running the sweep")
	assert.Equal(t, 2, report.MarkedOverdue)
	assert.Equal(t, 1, engine.calls)
}

func Test_RunOnce_When_TheSweepFails(t *testing.T) {
	// setup
	sweepErr := errors.New("database gone")
	engine := &fakeEngine{err: sweepErr}
	notifier := &spyNotifier{}

	runner, err := sweeper.NewRunner(engine, sweeper.WithNotifier(notifier))
	assert.NoError(t, err, "creating the runner failed")

	// act
	_, err = runner.RunOnce(context.Background())

	// assert
	assert.ErrorIs(t, err, sweepErr)
	assert.Empty(t, notifier.kinds, "no notification may go out for a failed sweep")
}

func Test_RunOnce_When_NotificationDeliveryFails(t *testing.T) {
	// setup
	dueDate := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine := &fakeEngine{report: postgresengine.SweepReport{
		OverdueLoans: []loanengine.Loan{someLoan(loanengine.LoanStatusOverdue, dueDate, 100)},
	}}
	notifier := &spyNotifier{err: errors.New("broker down")}

	runner, err := sweeper.NewRunner(engine, sweeper.WithNotifier(notifier))
	assert.NoError(t, err, "creating the runner failed")

	// act
	report, err := runner.RunOnce(context.Background())

	// assert: delivery failures must not fail the already-committed sweep
	assert.NoError(t, err)
	assert.Len(t, report.OverdueLoans, 1)
}

func Test_NewRunner_When_EngineIsNil(t *testing.T) {
	// act
	_, err := sweeper.NewRunner(nil)

	// assert
	assert.ErrorIs(t, err, sweeper.ErrNilEngine)
}

func Test_NewRunner_When_ScheduleIsEmpty(t *testing.T) {
	// act
	_, err := sweeper.NewRunner(&fakeEngine{}, sweeper.WithSchedule(""))

	// assert
	assert.ErrorIs(t, err, sweeper.ErrEmptySchedule)
}

func Test_Start_When_CalledTwice(t *testing.T) {
	// setup
	runner, err := sweeper.NewRunner(&fakeEngine{}, sweeper.WithSchedule("@every 1h"))
	assert.NoError(t, err, "creating the runner failed")

	// act
	err = runner.Start()
	assert.NoError(t, err, "error starting the runner")
	secondErr := runner.Start()

	// assert
	assert.ErrorIs(t, secondErr, sweeper.ErrAlreadyStarted)

	<-runner.Stop().Done()
}

func Test_Start_When_ScheduleDoesNotParse(t *testing.T) {
	// setup
	runner, err := sweeper.NewRunner(&fakeEngine{}, sweeper.WithSchedule("not a schedule"))
	assert.NoError(t, err, "creating the runner failed")

	// act
	startErr := runner.Start()

	// assert
	assert.Error(t, startErr)
}
