package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"

	"github.com/openshelf/loan-engine-go/loanengine"
	"github.com/openshelf/loan-engine-go/loanengine/postgresengine/internal/adapters"
)

// querier is satisfied by both the adapter (plain reads) and a transaction.
type querier interface {
	Query(ctx context.Context, query string) (adapters.DBRows, error)
}

// executor is satisfied by both the adapter and a transaction.
type executor interface {
	Exec(ctx context.Context, query string) (adapters.DBResult, error)
}

func builder() goqu.DialectWrapper {
	return goqu.Dialect(dialectPostgres)
}

func loanColumns() []any {
	return []any{
		colID, colMemberID, colBookID, colCopyID, colStatus,
		colRequestedAt, colApprovedAt, colBorrowedAt, colDueDate, colReturnedAt,
		colRenewalCount, colOverdueFee, colRejectionReason,
	}
}

func nonTerminalStatusStrings() []string {
	statuses := loanengine.NonTerminalLoanStatuses()
	strs := make([]string, len(statuses))
	for i, status := range statuses {
		strs[i] = string(status)
	}

	return strs
}

type loanRow struct {
	id              string
	memberID        string
	bookID          string
	copyID          sql.NullString
	status          string
	requestedAt     time.Time
	approvedAt      sql.NullTime
	borrowedAt      sql.NullTime
	dueDate         sql.NullTime
	returnedAt      sql.NullTime
	renewalCount    int
	overdueFee      int64
	rejectionReason sql.NullString
}

func (r loanRow) toLoan() (loanengine.Loan, error) {
	id, err := uuid.Parse(r.id)
	if err != nil {
		return loanengine.Loan{}, errors.Join(loanengine.ErrScanningDBRowFailed, err)
	}

	memberID, err := uuid.Parse(r.memberID)
	if err != nil {
		return loanengine.Loan{}, errors.Join(loanengine.ErrScanningDBRowFailed, err)
	}

	bookID, err := uuid.Parse(r.bookID)
	if err != nil {
		return loanengine.Loan{}, errors.Join(loanengine.ErrScanningDBRowFailed, err)
	}

	loan := loanengine.Loan{
		ID:           id,
		MemberID:     memberID,
		BookID:       bookID,
		Status:       loanengine.LoanStatus(r.status),
		RequestedAt:  r.requestedAt.UTC(),
		RenewalCount: r.renewalCount,
		OverdueFee:   r.overdueFee,
	}

	if r.copyID.Valid {
		copyID, parseErr := uuid.Parse(r.copyID.String)
		if parseErr != nil {
			return loanengine.Loan{}, errors.Join(loanengine.ErrScanningDBRowFailed, parseErr)
		}

		loan.CopyID = &copyID
	}

	assignTime := func(target **time.Time, value sql.NullTime) {
		if value.Valid {
			t := value.Time.UTC()
			*target = &t
		}
	}

	assignTime(&loan.ApprovedAt, r.approvedAt)
	assignTime(&loan.BorrowedAt, r.borrowedAt)
	assignTime(&loan.DueDate, r.dueDate)
	assignTime(&loan.ReturnedAt, r.returnedAt)

	if r.rejectionReason.Valid {
		loan.RejectionReason = r.rejectionReason.String
	}

	return loan, nil
}

func (e *Engine) scanLoans(rows adapters.DBRows) ([]loanengine.Loan, error) {
	defer e.closeRows(rows)

	loans := make([]loanengine.Loan, 0)

	for rows.Next() {
		var row loanRow

		scanErr := rows.Scan(
			&row.id, &row.memberID, &row.bookID, &row.copyID, &row.status,
			&row.requestedAt, &row.approvedAt, &row.borrowedAt, &row.dueDate, &row.returnedAt,
			&row.renewalCount, &row.overdueFee, &row.rejectionReason,
		)
		if scanErr != nil {
			e.logError(logMsgScanRowFailed, scanErr)
			return nil, errors.Join(loanengine.ErrScanningDBRowFailed, scanErr)
		}

		loan, buildErr := row.toLoan()
		if buildErr != nil {
			e.logError(logMsgScanRowFailed, buildErr)
			return nil, buildErr
		}

		loans = append(loans, loan)
	}

	return loans, nil
}

// loadLoan loads one loan by ID, optionally locking its row for the rest of
// the transaction. Returns loanengine.ErrNotFound when no row matches.
func (e *Engine) loadLoan(ctx context.Context, q querier, loanID uuid.UUID, forUpdate bool) (loanengine.Loan, error) {
	stmt := builder().
		From(e.tables.Loans).
		Select(loanColumns()...).
		Where(goqu.Ex{colID: loanID.String()})

	if forUpdate {
		stmt = stmt.ForUpdate(exp.Wait)
	}

	loans, err := e.queryLoans(ctx, q, stmt)
	if err != nil {
		return loanengine.Loan{}, err
	}

	if len(loans) == 0 {
		return loanengine.Loan{}, errors.Join(loanengine.ErrNotFound, errors.New("loan does not exist"))
	}

	return loans[0], nil
}

func (e *Engine) queryLoans(ctx context.Context, q querier, stmt *goqu.SelectDataset) ([]loanengine.Loan, error) {
	sqlQuery, _, toSQLErr := stmt.ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return nil, errors.Join(loanengine.ErrBuildingQueryFailed, toSQLErr)
	}

	rows, err := e.executeQuery(ctx, q, sqlQuery)
	if err != nil {
		return nil, err
	}

	return e.scanLoans(rows)
}

// loadMember loads one member by ID. With forUpdate the member row is locked,
// which serializes concurrent loan-limit checks for the same member.
func (e *Engine) loadMember(ctx context.Context, q querier, memberID uuid.UUID, forUpdate bool) (loanengine.Member, error) {
	stmt := builder().
		From(e.tables.Members).
		Select(colID, colName, colEmail, colStatus, colCreatedAt).
		Where(goqu.Ex{colID: memberID.String()})

	if forUpdate {
		stmt = stmt.ForUpdate(exp.Wait)
	}

	sqlQuery, _, toSQLErr := stmt.ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return loanengine.Member{}, errors.Join(loanengine.ErrBuildingQueryFailed, toSQLErr)
	}

	rows, err := e.executeQuery(ctx, q, sqlQuery)
	if err != nil {
		return loanengine.Member{}, err
	}
	defer e.closeRows(rows)

	if !rows.Next() {
		return loanengine.Member{}, errors.Join(loanengine.ErrNotFound, errors.New("member does not exist"))
	}

	var (
		id, name, email, status string
		createdAt               time.Time
	)

	if scanErr := rows.Scan(&id, &name, &email, &status, &createdAt); scanErr != nil {
		e.logError(logMsgScanRowFailed, scanErr)
		return loanengine.Member{}, errors.Join(loanengine.ErrScanningDBRowFailed, scanErr)
	}

	parsedID, parseErr := uuid.Parse(id)
	if parseErr != nil {
		return loanengine.Member{}, errors.Join(loanengine.ErrScanningDBRowFailed, parseErr)
	}

	return loanengine.Member{
		ID:        parsedID,
		Name:      name,
		Email:     email,
		Status:    loanengine.MemberStatus(status),
		CreatedAt: createdAt.UTC(),
	}, nil
}

// loadCopy loads one copy by ID. Returns loanengine.ErrNotFound when no row matches.
func (e *Engine) loadCopy(ctx context.Context, q querier, copyID uuid.UUID) (loanengine.Copy, error) {
	stmt := builder().
		From(e.tables.Copies).
		Select(colID, colBookID, colBarcode, colStatus).
		Where(goqu.Ex{colID: copyID.String()})

	sqlQuery, _, toSQLErr := stmt.ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return loanengine.Copy{}, errors.Join(loanengine.ErrBuildingQueryFailed, toSQLErr)
	}

	rows, err := e.executeQuery(ctx, q, sqlQuery)
	if err != nil {
		return loanengine.Copy{}, err
	}
	defer e.closeRows(rows)

	if !rows.Next() {
		return loanengine.Copy{}, errors.Join(loanengine.ErrNotFound, errors.New("copy does not exist"))
	}

	var id, bookID, barcode, status string

	if scanErr := rows.Scan(&id, &bookID, &barcode, &status); scanErr != nil {
		e.logError(logMsgScanRowFailed, scanErr)
		return loanengine.Copy{}, errors.Join(loanengine.ErrScanningDBRowFailed, scanErr)
	}

	parsedID, parseErr := uuid.Parse(id)
	if parseErr != nil {
		return loanengine.Copy{}, errors.Join(loanengine.ErrScanningDBRowFailed, parseErr)
	}

	parsedBookID, parseErr := uuid.Parse(bookID)
	if parseErr != nil {
		return loanengine.Copy{}, errors.Join(loanengine.ErrScanningDBRowFailed, parseErr)
	}

	return loanengine.Copy{
		ID:      parsedID,
		BookID:  parsedBookID,
		Barcode: barcode,
		Status:  loanengine.CopyStatus(status),
	}, nil
}

// bookExists reports whether a book row exists.
func (e *Engine) bookExists(ctx context.Context, q querier, bookID uuid.UUID) (bool, error) {
	stmt := builder().
		From(e.tables.Books).
		Select(colID).
		Where(goqu.Ex{colID: bookID.String()})

	sqlQuery, _, toSQLErr := stmt.ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return false, errors.Join(loanengine.ErrBuildingQueryFailed, toSQLErr)
	}

	rows, err := e.executeQuery(ctx, q, sqlQuery)
	if err != nil {
		return false, err
	}
	defer e.closeRows(rows)

	return rows.Next(), nil
}

// countNonTerminalLoans counts a member's loans in REQUESTED, APPROVED,
// ACTIVE, or OVERDUE - the count the loan limit is checked against.
func (e *Engine) countNonTerminalLoans(ctx context.Context, q querier, memberID uuid.UUID) (int, error) {
	stmt := builder().
		From(e.tables.Loans).
		Select(goqu.COUNT(colID)).
		Where(goqu.Ex{
			colMemberID: memberID.String(),
			colStatus:   nonTerminalStatusStrings(),
		})

	sqlQuery, _, toSQLErr := stmt.ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return 0, errors.Join(loanengine.ErrBuildingQueryFailed, toSQLErr)
	}

	rows, err := e.executeQuery(ctx, q, sqlQuery)
	if err != nil {
		return 0, err
	}
	defer e.closeRows(rows)

	if !rows.Next() {
		return 0, errors.Join(loanengine.ErrQueryingFailed, errors.New("count query returned no row"))
	}

	var count int
	if scanErr := rows.Scan(&count); scanErr != nil {
		e.logError(logMsgScanRowFailed, scanErr)
		return 0, errors.Join(loanengine.ErrScanningDBRowFailed, scanErr)
	}

	return count, nil
}

// selectAvailableCopyID picks the available copy with the lowest identifier,
// so allocation is deterministic and reproducible. Returns
// loanengine.ErrNoCopyAvailable when the book has no available copy.
func (e *Engine) selectAvailableCopyID(ctx context.Context, q querier, bookID uuid.UUID) (uuid.UUID, error) {
	stmt := builder().
		From(e.tables.Copies).
		Select(colID).
		Where(goqu.Ex{
			colBookID: bookID.String(),
			colStatus: string(loanengine.CopyStatusAvailable),
		}).
		Order(goqu.I(colID).Asc()).
		Limit(1)

	sqlQuery, _, toSQLErr := stmt.ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return uuid.Nil, errors.Join(loanengine.ErrBuildingQueryFailed, toSQLErr)
	}

	rows, err := e.executeQuery(ctx, q, sqlQuery)
	if err != nil {
		return uuid.Nil, err
	}
	defer e.closeRows(rows)

	if !rows.Next() {
		return uuid.Nil, loanengine.ErrNoCopyAvailable
	}

	var id string
	if scanErr := rows.Scan(&id); scanErr != nil {
		e.logError(logMsgScanRowFailed, scanErr)
		return uuid.Nil, errors.Join(loanengine.ErrScanningDBRowFailed, scanErr)
	}

	parsedID, parseErr := uuid.Parse(id)
	if parseErr != nil {
		return uuid.Nil, errors.Join(loanengine.ErrScanningDBRowFailed, parseErr)
	}

	return parsedID, nil
}

// loadPolicy reads the current policy snapshot. A missing row falls back to
// the default policy, so a fresh database behaves sensibly.
func (e *Engine) loadPolicy(ctx context.Context, q querier) (loanengine.Policy, error) {
	stmt := builder().
		From(e.tables.Policies).
		Select(
			colLoanDays, colRenewalDays, colMaxRenewals, colRenewalMinDaysBeforeDue,
			colOverdueFeePerDay, colOverdueFeeCap, colMaxConcurrentLoans,
			colApprovalRequired, colDueSoonDays, colCurrency,
		).
		Where(goqu.Ex{colID: policyRowID})

	sqlQuery, _, toSQLErr := stmt.ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr)
		return loanengine.Policy{}, errors.Join(loanengine.ErrBuildingQueryFailed, toSQLErr)
	}

	rows, err := e.executeQuery(ctx, q, sqlQuery)
	if err != nil {
		return loanengine.Policy{}, err
	}
	defer e.closeRows(rows)

	if !rows.Next() {
		return loanengine.DefaultPolicy(), nil
	}

	var policy loanengine.Policy

	scanErr := rows.Scan(
		&policy.LoanDays, &policy.RenewalDays, &policy.MaxRenewals, &policy.RenewalMinDaysBeforeDue,
		&policy.OverdueFeePerDay, &policy.OverdueFeeCapPerLoan, &policy.MaxConcurrentLoans,
		&policy.ApprovalRequired, &policy.DueSoonDays, &policy.Currency,
	)
	if scanErr != nil {
		e.logError(logMsgScanRowFailed, scanErr)
		return loanengine.Policy{}, errors.Join(loanengine.ErrScanningDBRowFailed, scanErr)
	}

	return policy, nil
}

// executeQuery runs a select statement with debug logging.
func (e *Engine) executeQuery(ctx context.Context, q querier, sqlQuery string) (adapters.DBRows, error) {
	start := time.Now()
	rows, queryErr := q.Query(ctx, sqlQuery)
	e.logQueryWithDuration(ctx, sqlQuery, time.Since(start))

	if queryErr != nil {
		e.logError(logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)
		return nil, errors.Join(loanengine.ErrQueryingFailed, queryErr)
	}

	return rows, nil
}

// executeStatement runs an insert/update statement and returns rows affected.
func (e *Engine) executeStatement(ctx context.Context, ex executor, sqlQuery string) (int64, error) {
	start := time.Now()
	result, execErr := ex.Exec(ctx, sqlQuery)
	e.logQueryWithDuration(ctx, sqlQuery, time.Since(start))

	if execErr != nil {
		e.logError(logMsgDBExecFailed, execErr, logAttrQuery, sqlQuery)
		return 0, errors.Join(loanengine.ErrExecFailed, execErr)
	}

	rowsAffected, rowsAffectedErr := result.RowsAffected()
	if rowsAffectedErr != nil {
		e.logError(logMsgRowsAffectedFailed, rowsAffectedErr)
		return 0, errors.Join(loanengine.ErrGettingRowsAffectedFailed, rowsAffectedErr)
	}

	return rowsAffected, nil
}

// closeRows safely closes database rows and logs any errors.
func (e *Engine) closeRows(rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		e.logWarn(logMsgCloseRowsFailed, logAttrError, closeErr.Error())
	}
}
