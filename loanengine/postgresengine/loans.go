package postgresengine

import (
	"context"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"

	"github.com/openshelf/loan-engine-go/loanengine"
	"github.com/openshelf/loan-engine-go/loanengine/postgresengine/internal/adapters"
)

const (
	operationRequest = "request_loan"
	operationApprove = "approve_loan"
	operationReject  = "reject_loan"
	operationCancel  = "cancel_loan"
	operationReturn  = "return_loan"
	operationRenew   = "renew_loan"
	operationGet     = "get_loan"
	operationSweep   = "sweep_overdue"
)

const (
	errorTypeNotFound        = "not_found"
	errorTypeEligibility     = "eligibility"
	errorTypeTransition      = "invalid_transition"
	errorTypeNoCopy          = "no_copy_available"
	errorTypeCopyConflict    = "copy_conflict"
	errorTypeRenewalRejected = "renewal_rejected"
	errorTypeDatabase        = "database"
)

// errorTypeFor maps an operation error to a low-cardinality metrics label.
func errorTypeFor(err error) string {
	switch {
	case errors.Is(err, loanengine.ErrNotFound):
		return errorTypeNotFound
	case errors.Is(err, loanengine.ErrMemberNotActive),
		errors.Is(err, loanengine.ErrLoanLimitExceeded):
		return errorTypeEligibility
	case errors.Is(err, loanengine.ErrNoCopyAvailable):
		return errorTypeNoCopy
	case errors.Is(err, loanengine.ErrCopyUnavailable):
		return errorTypeCopyConflict
	case errors.Is(err, loanengine.ErrRenewalWindowClosed),
		errors.Is(err, loanengine.ErrRenewalLimitReached):
		return errorTypeRenewalRejected
	case errors.Is(err, loanengine.ErrInvalidTransition):
		return errorTypeTransition
	default:
		return errorTypeDatabase
	}
}

// withTx runs fn inside a single transaction, committing on success.
// Rollback is deferred unconditionally; the adapters guarantee that rollback
// after a successful commit is a no-op.
func (e *Engine) withTx(ctx context.Context, fn func(tx adapters.DBTx) error) error {
	tx, beginErr := e.db.BeginTx(ctx)
	if beginErr != nil {
		e.logError(logMsgBeginTxFailed, beginErr)
		return errors.Join(loanengine.ErrBeginTxFailed, beginErr)
	}

	defer func() { _ = tx.Rollback(ctx) }()

	if fnErr := fn(tx); fnErr != nil {
		return fnErr
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		e.logError(logMsgCommitFailed, commitErr)
		return errors.Join(loanengine.ErrCommitFailed, commitErr)
	}

	return nil
}

// RequestLoan creates a loan in REQUESTED for the given member and book.
// When the policy does not require staff approval, the loan is approved and
// handed over in the same transaction and comes back ACTIVE with a copy
// allocated and a due date assigned.
//
// copyID optionally pins the request to a specific physical copy; when nil,
// allocation picks the available copy with the lowest identifier. The pin is
// validated up front (the copy must exist and belong to the book), but it is
// only honored during allocation, which happens here when the policy
// auto-approves. Under staff approval the copy is chosen at ApproveLoan time.
func (e *Engine) RequestLoan(
	ctx context.Context,
	memberID uuid.UUID,
	bookID uuid.UUID,
	copyID *uuid.UUID,
) (loanengine.Loan, error) {
	observer, ctx := e.startOperationObserver(ctx, operationRequest, map[string]string{
		logAttrMemberID: memberID.String(),
		logAttrBookID:   bookID.String(),
	})

	var loan loanengine.Loan

	txErr := e.withTx(ctx, func(tx adapters.DBTx) error {
		policy, err := e.loadPolicy(ctx, tx)
		if err != nil {
			return err
		}

		// Locking the member row serializes concurrent loan-limit checks
		// for the same member.
		member, err := e.loadMember(ctx, tx, memberID, true)
		if err != nil {
			return err
		}

		exists, err := e.bookExists(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if !exists {
			return errors.Join(loanengine.ErrNotFound, errors.New("book does not exist"))
		}

		// The auto-approval path validates the pin during allocation.
		if copyID != nil && policy.ApprovalRequired {
			copyRow, copyErr := e.loadCopy(ctx, tx, *copyID)
			if copyErr != nil {
				return copyErr
			}
			if copyRow.BookID != bookID {
				return errors.Join(loanengine.ErrCopyUnavailable, errors.New("copy does not belong to the requested book"))
			}
		}

		count, err := e.countNonTerminalLoans(ctx, tx, memberID)
		if err != nil {
			return err
		}

		if eligibilityErr := loanengine.CanBorrow(member, count, policy); eligibilityErr != nil {
			return eligibilityErr
		}

		loanID, uuidErr := uuid.NewV7()
		if uuidErr != nil {
			return errors.Join(loanengine.ErrExecFailed, uuidErr)
		}

		now := e.now()
		loan = loanengine.Loan{
			ID:          loanID,
			MemberID:    memberID,
			BookID:      bookID,
			Status:      loanengine.LoanStatusRequested,
			RequestedAt: now,
		}

		if insertErr := e.insertLoan(ctx, tx, loan); insertErr != nil {
			return insertErr
		}

		if policy.ApprovalRequired {
			return nil
		}

		return e.approveInTx(ctx, tx, &loan, copyID, policy, now)
	})

	if txErr != nil {
		observer.finishError(errorTypeFor(txErr))
		return loanengine.Loan{}, txErr
	}

	observer.finishSuccess(map[string]string{
		spanAttrLoanID: loan.ID.String(),
		spanAttrStatus: string(loan.Status),
	})
	e.logOperation(ctx, operationRequest,
		logAttrLoanID, loan.ID.String(),
		logAttrMemberID, memberID.String(),
		logAttrStatus, string(loan.Status))

	return loan, nil
}

// ApproveLoan approves a REQUESTED loan and hands it over in one step: the
// loan comes back ACTIVE with a copy reserved, BorrowedAt set to now, and
// the due date assigned from the current policy.
//
// copyID optionally hands over a specific copy chosen at the desk; when nil,
// allocation picks the available copy with the lowest identifier. When two
// approvals race for the last copy, exactly one wins; the loser gets
// loanengine.ErrCopyUnavailable and its transaction leaves no trace.
func (e *Engine) ApproveLoan(ctx context.Context, loanID uuid.UUID, copyID *uuid.UUID) (loanengine.Loan, error) {
	observer, ctx := e.startOperationObserver(ctx, operationApprove, map[string]string{
		logAttrLoanID: loanID.String(),
	})

	var loan loanengine.Loan

	txErr := e.withTx(ctx, func(tx adapters.DBTx) error {
		policy, err := e.loadPolicy(ctx, tx)
		if err != nil {
			return err
		}

		loan, err = e.loadLoan(ctx, tx, loanID, true)
		if err != nil {
			return err
		}

		if transitionErr := loan.Status.EnsureTransition(loanengine.LoanStatusApproved); transitionErr != nil {
			return transitionErr
		}

		member, err := e.loadMember(ctx, tx, loan.MemberID, true)
		if err != nil {
			return err
		}

		count, err := e.countNonTerminalLoans(ctx, tx, loan.MemberID)
		if err != nil {
			return err
		}

		// The loan being approved is itself non-terminal and must not count
		// against its own limit check.
		if eligibilityErr := loanengine.CanBorrow(member, count-1, policy); eligibilityErr != nil {
			return eligibilityErr
		}

		return e.approveInTx(ctx, tx, &loan, copyID, policy, e.now())
	})

	if txErr != nil {
		observer.finishError(errorTypeFor(txErr))
		return loanengine.Loan{}, txErr
	}

	observer.finishSuccess(map[string]string{
		spanAttrLoanID: loan.ID.String(),
		spanAttrStatus: string(loan.Status),
	})
	e.logOperation(ctx, operationApprove,
		logAttrLoanID, loan.ID.String(),
		logAttrCopyID, loan.CopyID.String(),
		logAttrStatus, string(loan.Status))

	return loan, nil
}

// approveInTx reserves a copy for the loan and advances it to ACTIVE with
// due date assignment, all against the given transaction. The conditional
// copy update is the serialization point: whichever transaction flips the
// copy from AVAILABLE to ON_LOAN first wins the copy.
func (e *Engine) approveInTx(
	ctx context.Context,
	tx adapters.DBTx,
	loan *loanengine.Loan,
	requestedCopyID *uuid.UUID,
	policy loanengine.Policy,
	now time.Time,
) error {
	var copyID uuid.UUID

	if requestedCopyID != nil {
		copyID = *requestedCopyID

		copyRow, err := e.loadCopy(ctx, tx, copyID)
		if err != nil {
			return err
		}
		if copyRow.BookID != loan.BookID {
			return errors.Join(loanengine.ErrCopyUnavailable, errors.New("copy does not belong to the requested book"))
		}
	} else {
		selectedID, err := e.selectAvailableCopyID(ctx, tx, loan.BookID)
		if err != nil {
			return err
		}
		copyID = selectedID
	}

	if reserveErr := e.reserveCopy(ctx, tx, copyID); reserveErr != nil {
		return reserveErr
	}

	dueDate := now.AddDate(0, 0, policy.LoanDays)

	loan.CopyID = &copyID
	loan.ApprovedAt = &now
	loan.BorrowedAt = &now
	loan.DueDate = &dueDate
	loan.Status = loanengine.LoanStatusActive

	return e.updateLoan(ctx, tx, *loan, goqu.Record{
		colCopyID:     copyID.String(),
		colApprovedAt: now,
		colBorrowedAt: now,
		colDueDate:    dueDate,
		colStatus:     string(loanengine.LoanStatusActive),
	})
}

// reserveCopy atomically flips a copy from AVAILABLE to ON_LOAN. A zero
// rows-affected result means another transaction won the copy or the copy is
// LOST or DAMAGED; the copy is reloaded to report the precise cause.
func (e *Engine) reserveCopy(ctx context.Context, tx adapters.DBTx, copyID uuid.UUID) error {
	stmt := builder().
		Update(e.tables.Copies).
		Set(goqu.Record{colStatus: string(loanengine.CopyStatusOnLoan)}).
		Where(goqu.Ex{
			colID:     copyID.String(),
			colStatus: string(loanengine.CopyStatusAvailable),
		})

	sqlQuery, _, toSQLErr := stmt.ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return errors.Join(loanengine.ErrBuildingQueryFailed, toSQLErr)
	}

	rowsAffected, execErr := e.executeStatement(ctx, tx, sqlQuery)
	if execErr != nil {
		return execErr
	}

	if rowsAffected == 1 {
		return nil
	}

	if _, loadErr := e.loadCopy(ctx, tx, copyID); loadErr != nil {
		return loadErr
	}

	e.logWarn(logMsgCopyConflict, logAttrCopyID, copyID.String())
	e.recordCopyConflictMetrics(operationApprove)

	return loanengine.ErrCopyUnavailable
}

// releaseCopy flips a copy from ON_LOAN back to AVAILABLE. A copy that was
// marked LOST or DAMAGED while on loan keeps that status; the mismatch is
// logged but does not fail the return.
func (e *Engine) releaseCopy(ctx context.Context, tx adapters.DBTx, copyID uuid.UUID) error {
	stmt := builder().
		Update(e.tables.Copies).
		Set(goqu.Record{colStatus: string(loanengine.CopyStatusAvailable)}).
		Where(goqu.Ex{
			colID:     copyID.String(),
			colStatus: string(loanengine.CopyStatusOnLoan),
		})

	sqlQuery, _, toSQLErr := stmt.ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return errors.Join(loanengine.ErrBuildingQueryFailed, toSQLErr)
	}

	rowsAffected, execErr := e.executeStatement(ctx, tx, sqlQuery)
	if execErr != nil {
		return execErr
	}

	if rowsAffected == 0 {
		e.logWarn(logMsgCopyConflict, logAttrCopyID, copyID.String(), logAttrStatus, "not ON_LOAN on release")
	}

	return nil
}

// RejectLoan moves a REQUESTED loan to REJECTED with the given reason. No
// copy is involved since rejection happens before allocation.
func (e *Engine) RejectLoan(ctx context.Context, loanID uuid.UUID, reason string) (loanengine.Loan, error) {
	observer, ctx := e.startOperationObserver(ctx, operationReject, map[string]string{
		logAttrLoanID: loanID.String(),
	})

	var loan loanengine.Loan

	txErr := e.withTx(ctx, func(tx adapters.DBTx) error {
		var err error

		loan, err = e.loadLoan(ctx, tx, loanID, true)
		if err != nil {
			return err
		}

		if transitionErr := loan.Status.EnsureTransition(loanengine.LoanStatusRejected); transitionErr != nil {
			return transitionErr
		}

		loan.Status = loanengine.LoanStatusRejected
		loan.RejectionReason = reason

		return e.updateLoan(ctx, tx, loan, goqu.Record{
			colStatus:          string(loanengine.LoanStatusRejected),
			colRejectionReason: reason,
		})
	})

	if txErr != nil {
		observer.finishError(errorTypeFor(txErr))
		return loanengine.Loan{}, txErr
	}

	observer.finishSuccess(map[string]string{spanAttrLoanID: loan.ID.String()})
	e.logOperation(ctx, operationReject, logAttrLoanID, loan.ID.String())

	return loan, nil
}

// CancelLoan moves a REQUESTED or APPROVED loan to CANCELLED on the member's
// behalf. A copy already reserved for the loan is released in the same
// transaction.
func (e *Engine) CancelLoan(ctx context.Context, loanID uuid.UUID) (loanengine.Loan, error) {
	observer, ctx := e.startOperationObserver(ctx, operationCancel, map[string]string{
		logAttrLoanID: loanID.String(),
	})

	var loan loanengine.Loan

	txErr := e.withTx(ctx, func(tx adapters.DBTx) error {
		var err error

		loan, err = e.loadLoan(ctx, tx, loanID, true)
		if err != nil {
			return err
		}

		if transitionErr := loan.Status.EnsureTransition(loanengine.LoanStatusCancelled); transitionErr != nil {
			return transitionErr
		}

		if loan.CopyID != nil {
			if releaseErr := e.releaseCopy(ctx, tx, *loan.CopyID); releaseErr != nil {
				return releaseErr
			}
		}

		loan.Status = loanengine.LoanStatusCancelled

		return e.updateLoan(ctx, tx, loan, goqu.Record{
			colStatus: string(loanengine.LoanStatusCancelled),
		})
	})

	if txErr != nil {
		observer.finishError(errorTypeFor(txErr))
		return loanengine.Loan{}, txErr
	}

	observer.finishSuccess(map[string]string{spanAttrLoanID: loan.ID.String()})
	e.logOperation(ctx, operationCancel, logAttrLoanID, loan.ID.String())

	return loan, nil
}

// ReturnLoan moves an ACTIVE or OVERDUE loan to RETURNED, finalizes the
// overdue fee from the current policy, and releases the copy - all in one
// transaction. Returning is always permitted regardless of accrued fees.
func (e *Engine) ReturnLoan(ctx context.Context, loanID uuid.UUID) (loanengine.Loan, error) {
	observer, ctx := e.startOperationObserver(ctx, operationReturn, map[string]string{
		logAttrLoanID: loanID.String(),
	})

	var loan loanengine.Loan

	txErr := e.withTx(ctx, func(tx adapters.DBTx) error {
		policy, err := e.loadPolicy(ctx, tx)
		if err != nil {
			return err
		}

		loan, err = e.loadLoan(ctx, tx, loanID, true)
		if err != nil {
			return err
		}

		if transitionErr := loan.Status.EnsureTransition(loanengine.LoanStatusReturned); transitionErr != nil {
			return transitionErr
		}

		now := e.now()
		fee := loanengine.ComputeFee(loan, policy, now)

		if loan.CopyID != nil {
			if releaseErr := e.releaseCopy(ctx, tx, *loan.CopyID); releaseErr != nil {
				return releaseErr
			}
		}

		loan.Status = loanengine.LoanStatusReturned
		loan.ReturnedAt = &now
		loan.OverdueFee = fee

		return e.updateLoan(ctx, tx, loan, goqu.Record{
			colStatus:     string(loanengine.LoanStatusReturned),
			colReturnedAt: now,
			colOverdueFee: int64(fee),
		})
	})

	if txErr != nil {
		observer.finishError(errorTypeFor(txErr))
		return loanengine.Loan{}, txErr
	}

	observer.finishSuccess(map[string]string{spanAttrLoanID: loan.ID.String()})
	e.logOperation(ctx, operationReturn,
		logAttrLoanID, loan.ID.String(),
		logAttrStatus, string(loan.Status))

	return loan, nil
}

// RenewLoan extends an ACTIVE loan's due date by the policy's renewal period,
// counted from the current due date, and increments the renewal count. The
// renewal window and limit are enforced by the eligibility rules.
func (e *Engine) RenewLoan(ctx context.Context, loanID uuid.UUID) (loanengine.Loan, error) {
	observer, ctx := e.startOperationObserver(ctx, operationRenew, map[string]string{
		logAttrLoanID: loanID.String(),
	})

	var loan loanengine.Loan

	txErr := e.withTx(ctx, func(tx adapters.DBTx) error {
		policy, err := e.loadPolicy(ctx, tx)
		if err != nil {
			return err
		}

		loan, err = e.loadLoan(ctx, tx, loanID, true)
		if err != nil {
			return err
		}

		member, err := e.loadMember(ctx, tx, loan.MemberID, false)
		if err != nil {
			return err
		}

		now := e.now()
		if renewErr := loanengine.CanRenew(loan, member, policy, now); renewErr != nil {
			return renewErr
		}

		newDueDate := loan.DueDate.AddDate(0, 0, policy.RenewalDays)

		loan.DueDate = &newDueDate
		loan.RenewalCount++

		return e.updateLoan(ctx, tx, loan, goqu.Record{
			colDueDate:      newDueDate,
			colRenewalCount: loan.RenewalCount,
		})
	})

	if txErr != nil {
		observer.finishError(errorTypeFor(txErr))
		return loanengine.Loan{}, txErr
	}

	observer.finishSuccess(map[string]string{spanAttrLoanID: loan.ID.String()})
	e.logOperation(ctx, operationRenew,
		logAttrLoanID, loan.ID.String(),
		logAttrDueDate, loan.DueDate.Format(time.RFC3339))

	return loan, nil
}

// GetLoan returns the read-model snapshot of one loan with the derived
// fields evaluated against the current policy and clock.
func (e *Engine) GetLoan(ctx context.Context, loanID uuid.UUID) (loanengine.Snapshot, error) {
	observer, ctx := e.startOperationObserver(ctx, operationGet, map[string]string{
		logAttrLoanID: loanID.String(),
	})

	loan, err := e.loadLoan(ctx, e.db, loanID, false)
	if err != nil {
		observer.finishError(errorTypeFor(err))
		return loanengine.Snapshot{}, err
	}

	member, err := e.loadMember(ctx, e.db, loan.MemberID, false)
	if err != nil {
		observer.finishError(errorTypeFor(err))
		return loanengine.Snapshot{}, err
	}

	policy, err := e.loadPolicy(ctx, e.db)
	if err != nil {
		observer.finishError(errorTypeFor(err))
		return loanengine.Snapshot{}, err
	}

	snapshot := loanengine.BuildSnapshot(loan, member, policy, e.now())

	observer.finishSuccess(map[string]string{
		spanAttrLoanID: loan.ID.String(),
		spanAttrStatus: string(loan.Status),
	})

	return snapshot, nil
}

// insertLoan writes a fresh loan row.
func (e *Engine) insertLoan(ctx context.Context, tx adapters.DBTx, loan loanengine.Loan) error {
	stmt := builder().
		Insert(e.tables.Loans).
		Rows(goqu.Record{
			colID:           loan.ID.String(),
			colMemberID:     loan.MemberID.String(),
			colBookID:       loan.BookID.String(),
			colStatus:       string(loan.Status),
			colRequestedAt:  loan.RequestedAt,
			colRenewalCount: loan.RenewalCount,
			colOverdueFee:   int64(loan.OverdueFee),
		})

	sqlQuery, _, toSQLErr := stmt.ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return errors.Join(loanengine.ErrBuildingQueryFailed, toSQLErr)
	}

	rowsAffected, execErr := e.executeStatement(ctx, tx, sqlQuery)
	if execErr != nil {
		return execErr
	}

	if rowsAffected != 1 {
		return errors.Join(loanengine.ErrExecFailed, errors.New("loan insert affected no rows"))
	}

	return nil
}

// updateLoan applies the given column changes to the loan's row. The loan
// row is already locked by the surrounding transaction, so anything other
// than exactly one affected row indicates a defect.
func (e *Engine) updateLoan(
	ctx context.Context,
	tx adapters.DBTx,
	loan loanengine.Loan,
	changes goqu.Record,
) error {
	stmt := builder().
		Update(e.tables.Loans).
		Set(changes).
		Where(goqu.Ex{colID: loan.ID.String()})

	sqlQuery, _, toSQLErr := stmt.ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return errors.Join(loanengine.ErrBuildingQueryFailed, toSQLErr)
	}

	rowsAffected, execErr := e.executeStatement(ctx, tx, sqlQuery)
	if execErr != nil {
		return execErr
	}

	if rowsAffected != 1 {
		return errors.Join(loanengine.ErrExecFailed, errors.New("loan update affected no rows"))
	}

	return nil
}
