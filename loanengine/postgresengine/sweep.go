package postgresengine

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/openshelf/loan-engine-go/loanengine"
	"github.com/openshelf/loan-engine-go/loanengine/postgresengine/internal/adapters"
)

const logMsgSweepLoanFailed = "sweep failed for loan, continuing"

// SweepReport summarizes one overdue sweep run.
type SweepReport struct {
	// MarkedOverdue is the number of ACTIVE loans moved to OVERDUE.
	MarkedOverdue int

	// FeesRecomputed is the number of already-OVERDUE loans whose accrued
	// fee changed during this run.
	FeesRecomputed int

	// DueSoon is the number of ACTIVE loans due within the policy's
	// due-soon window.
	DueSoon int

	// OverdueLoans holds every loan that is OVERDUE after the sweep,
	// including the ones marked in this run, for downstream notification.
	OverdueLoans []loanengine.Loan

	// DueSoonLoans holds the ACTIVE loans behind the DueSoon count.
	DueSoonLoans []loanengine.Loan
}

type sweepOutcome int

const (
	sweepOutcomeNone sweepOutcome = iota
	sweepOutcomeMarkedOverdue
	sweepOutcomeFeeRecomputed
)

// SweepOverdue scans loans that are lent out, moves breached ACTIVE loans to
// OVERDUE, refreshes accrued fees on already-OVERDUE loans, and reports
// ACTIVE loans entering the due-soon window.
//
// Each candidate is handled in its own short transaction that re-reads the
// loan under lock and re-checks its condition, so the sweep is idempotent
// and safe to run concurrently with member-facing operations: a loan
// returned between the scan and its sweep transaction is simply skipped.
// Per-loan failures are logged and skipped rather than aborting the run.
func (e *Engine) SweepOverdue(ctx context.Context) (SweepReport, error) {
	observer, ctx := e.startOperationObserver(ctx, operationSweep, nil)

	policy, err := e.loadPolicy(ctx, e.db)
	if err != nil {
		observer.finishError(errorTypeFor(err))
		return SweepReport{}, err
	}

	now := e.now()

	candidates, err := e.listLentOutLoans(ctx)
	if err != nil {
		observer.finishError(errorTypeFor(err))
		return SweepReport{}, err
	}

	var report SweepReport

	for _, candidate := range candidates {
		outcome, swept, sweepErr := e.sweepLoan(ctx, candidate.ID, policy, now)
		if sweepErr != nil {
			e.logError(logMsgSweepLoanFailed, sweepErr, logAttrLoanID, candidate.ID.String())
			continue
		}

		switch outcome {
		case sweepOutcomeMarkedOverdue:
			report.MarkedOverdue++
		case sweepOutcomeFeeRecomputed:
			report.FeesRecomputed++
		case sweepOutcomeNone:
		}

		switch {
		case swept.Status == loanengine.LoanStatusOverdue:
			report.OverdueLoans = append(report.OverdueLoans, swept)
		case swept.Status == loanengine.LoanStatusActive && isDueSoon(swept, policy, now):
			report.DueSoon++
			report.DueSoonLoans = append(report.DueSoonLoans, swept)
		}
	}

	observer.finishSuccess(nil)
	e.recordSweepMetricsContext(ctx, float64(report.MarkedOverdue+report.FeesRecomputed))
	e.logOperation(ctx, operationSweep,
		logAttrMarkedOverdue, report.MarkedOverdue,
		logAttrFeesRecomputed, report.FeesRecomputed,
		logAttrDueSoon, report.DueSoon)

	return report, nil
}

// sweepLoan applies the sweep rules to one loan in its own transaction.
func (e *Engine) sweepLoan(
	ctx context.Context,
	loanID uuid.UUID,
	policy loanengine.Policy,
	now time.Time,
) (sweepOutcome, loanengine.Loan, error) {
	outcome := sweepOutcomeNone

	var loan loanengine.Loan

	txErr := e.withTx(ctx, func(tx adapters.DBTx) error {
		var err error

		loan, err = e.loadLoan(ctx, tx, loanID, true)
		if err != nil {
			return err
		}

		switch {
		case loan.Status == loanengine.LoanStatusActive && loan.IsOverdueAt(now):
			if transitionErr := loan.Status.EnsureTransition(loanengine.LoanStatusOverdue); transitionErr != nil {
				return transitionErr
			}

			fee := loanengine.ComputeFee(loan, policy, now)
			loan.Status = loanengine.LoanStatusOverdue
			loan.OverdueFee = fee
			outcome = sweepOutcomeMarkedOverdue

			return e.updateLoan(ctx, tx, loan, goqu.Record{
				colStatus:     string(loanengine.LoanStatusOverdue),
				colOverdueFee: int64(fee),
			})

		case loan.Status == loanengine.LoanStatusOverdue:
			fee := loanengine.ComputeFee(loan, policy, now)
			if fee == loan.OverdueFee {
				return nil
			}

			loan.OverdueFee = fee
			outcome = sweepOutcomeFeeRecomputed

			return e.updateLoan(ctx, tx, loan, goqu.Record{
				colOverdueFee: int64(fee),
			})
		}

		// The loan left the lent-out states between the scan and this
		// transaction. Nothing to do.
		return nil
	})

	if txErr != nil {
		return sweepOutcomeNone, loanengine.Loan{}, txErr
	}

	return outcome, loan, nil
}

// listLentOutLoans returns every loan currently in ACTIVE or OVERDUE.
func (e *Engine) listLentOutLoans(ctx context.Context) ([]loanengine.Loan, error) {
	stmt := builder().
		From(e.tables.Loans).
		Select(loanColumns()...).
		Where(goqu.Ex{colStatus: []string{
			string(loanengine.LoanStatusActive),
			string(loanengine.LoanStatusOverdue),
		}}).
		Order(goqu.I(colDueDate).Asc())

	return e.queryLoans(ctx, e.db, stmt)
}

// isDueSoon reports whether an active loan falls inside the policy's
// due-soon notification window as of the given instant.
func isDueSoon(loan loanengine.Loan, policy loanengine.Policy, now time.Time) bool {
	days, ok := loan.DaysUntilDueAt(now)
	if !ok {
		return false
	}

	return days >= 0 && days <= policy.DueSoonDays
}
