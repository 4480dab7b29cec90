package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openshelf/loan-engine-go/loanengine"
	"github.com/openshelf/loan-engine-go/loanengine/postgresengine"
)

const (
	defaultSchedule   = "@hourly"
	defaultRunTimeout = 5 * time.Minute

	logMsgSweepStarted      = "overdue sweep started"
	logMsgSweepFinished     = "overdue sweep finished"
	logMsgSweepFailed       = "overdue sweep failed"
	logMsgNotifyFailed      = "failed to deliver sweep notification"
	logAttrError            = "error"
	logAttrKind             = "kind"
	logAttrLoanID           = "loan_id"
	logAttrMarkedOverdue    = "marked_overdue"
	logAttrFeesRecomputed   = "fees_recomputed"
	logAttrDueSoon          = "due_soon"
	logAttrNotificationsOut = "notifications_sent"
)

var (
	// ErrNilEngine occurs when a Runner is created without an engine.
	ErrNilEngine = errors.New("engine must not be nil")

	// ErrEmptySchedule occurs when an empty cron schedule is configured.
	ErrEmptySchedule = errors.New("schedule must not be empty")

	// ErrAlreadyStarted occurs when Start is called on a running Runner.
	ErrAlreadyStarted = errors.New("sweep runner is already started")
)

// Engine is the slice of the loan engine the sweeper needs.
type Engine interface {
	SweepOverdue(ctx context.Context) (postgresengine.SweepReport, error)
}

// Notifier delivers encoded sweep notifications to an external channel
// (message broker, mailer, webhook). Delivery failures are logged and
// skipped; the sweep itself is already committed at that point.
type Notifier interface {
	Notify(ctx context.Context, kind string, payload []byte) error
}

// Option defines a functional option for configuring a Runner.
type Option func(*Runner) error

// WithSchedule sets the cron schedule for periodic sweeps, in the standard
// 5-field cron syntax or a descriptor like "@every 30m". Default: @hourly.
func WithSchedule(schedule string) Option {
	return func(r *Runner) error {
		if schedule == "" {
			return ErrEmptySchedule
		}

		r.schedule = schedule

		return nil
	}
}

// WithNotifier sets the notifier that receives due-soon and overdue
// notifications. Without one, sweeps still run but nothing is delivered.
func WithNotifier(notifier Notifier) Option {
	return func(r *Runner) error {
		r.notifier = notifier
		return nil
	}
}

// WithLogger sets a logger for sweep runs.
func WithLogger(logger loanengine.Logger) Option {
	return func(r *Runner) error {
		r.logger = logger
		return nil
	}
}

// WithRunTimeout bounds the duration of one sweep run. Default: 5 minutes.
func WithRunTimeout(timeout time.Duration) Option {
	return func(r *Runner) error {
		r.timeout = timeout
		return nil
	}
}

// Runner periodically triggers overdue sweeps on a schedule and fans the
// resulting notifications out to the configured notifier.
type Runner struct {
	engine   Engine
	notifier Notifier
	logger   loanengine.Logger
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
}

// NewRunner creates a sweep runner for the given engine with optional
// configuration.
func NewRunner(engine Engine, options ...Option) (*Runner, error) {
	if engine == nil {
		return nil, ErrNilEngine
	}

	runner := &Runner{
		engine:   engine,
		schedule: defaultSchedule,
		timeout:  defaultRunTimeout,
	}

	for _, option := range options {
		if err := option(runner); err != nil {
			return nil, err
		}
	}

	return runner, nil
}

// Start schedules periodic sweeps. It returns once the schedule is
// registered; sweeps run on the cron's goroutine.
func (r *Runner) Start() error {
	if r.cron != nil {
		return ErrAlreadyStarted
	}

	c := cron.New()

	if _, err := c.AddFunc(r.schedule, func() {
		_, _ = r.RunOnce(context.Background())
	}); err != nil {
		return err
	}

	r.cron = c
	c.Start()

	return nil
}

// Stop cancels the schedule and returns a context that is done when an
// in-flight sweep run has finished. Stopping a never-started Runner is a
// no-op.
func (r *Runner) Stop() context.Context {
	if r.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		return ctx
	}

	stopped := r.cron.Stop()
	r.cron = nil

	return stopped
}

// RunOnce performs a single sweep run: sweep, then notify. It can be called
// directly for on-demand sweeps regardless of the schedule.
func (r *Runner) RunOnce(ctx context.Context) (postgresengine.SweepReport, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.logInfo(logMsgSweepStarted)

	report, err := r.engine.SweepOverdue(runCtx)
	if err != nil {
		r.logError(logMsgSweepFailed, err)
		return postgresengine.SweepReport{}, err
	}

	sent := r.notifyAll(runCtx, report)

	r.logInfo(logMsgSweepFinished,
		logAttrMarkedOverdue, report.MarkedOverdue,
		logAttrFeesRecomputed, report.FeesRecomputed,
		logAttrDueSoon, report.DueSoon,
		logAttrNotificationsOut, sent)

	return report, nil
}

// notifyAll delivers one notification per affected loan and returns the
// number of successful deliveries.
func (r *Runner) notifyAll(ctx context.Context, report postgresengine.SweepReport) int {
	if r.notifier == nil {
		return 0
	}

	occurredAt := time.Now().UTC()
	sent := 0

	for _, loan := range report.DueSoonLoans {
		if r.notify(ctx, NotificationKindDueSoon, loan, occurredAt) {
			sent++
		}
	}

	for _, loan := range report.OverdueLoans {
		if r.notify(ctx, NotificationKindOverdue, loan, occurredAt) {
			sent++
		}
	}

	return sent
}

func (r *Runner) notify(ctx context.Context, kind string, loan loanengine.Loan, occurredAt time.Time) bool {
	payload, marshalErr := buildNotification(kind, loan, occurredAt).marshal()
	if marshalErr != nil {
		r.logError(logMsgNotifyFailed, marshalErr, logAttrKind, kind, logAttrLoanID, loan.ID.String())
		return false
	}

	if notifyErr := r.notifier.Notify(ctx, kind, payload); notifyErr != nil {
		r.logError(logMsgNotifyFailed, notifyErr, logAttrKind, kind, logAttrLoanID, loan.ID.String())
		return false
	}

	return true
}

func (r *Runner) logInfo(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Info(msg, args...)
	}
}

func (r *Runner) logError(msg string, err error, args ...any) {
	if r.logger != nil {
		allArgs := []any{logAttrError, err.Error()}
		allArgs = append(allArgs, args...)
		r.logger.Error(msg, allArgs...)
	}
}
