package postgresengine

import (
	"database/sql"
	"time"

	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // driver import
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/openshelf/loan-engine-go/loanengine"
	"github.com/openshelf/loan-engine-go/loanengine/postgresengine/internal/adapters"
)

const (
	defaultLoansTableName    = "loans"
	defaultCopiesTableName   = "copies"
	defaultMembersTableName  = "members"
	defaultBooksTableName    = "books"
	defaultPoliciesTableName = "loan_policies"

	dialectPostgres = "postgres"

	colID              = "id"
	colMemberID        = "member_id"
	colBookID          = "book_id"
	colCopyID          = "copy_id"
	colStatus          = "status"
	colRequestedAt     = "requested_at"
	colApprovedAt      = "approved_at"
	colBorrowedAt      = "borrowed_at"
	colDueDate         = "due_date"
	colReturnedAt      = "returned_at"
	colRenewalCount    = "renewal_count"
	colOverdueFee      = "overdue_fee"
	colRejectionReason = "rejection_reason"
	colBarcode         = "barcode"
	colName            = "name"
	colEmail           = "email"
	colCreatedAt       = "created_at"
	colISBN            = "isbn"
	colTitle           = "title"
	colAuthor          = "author"

	colLoanDays                = "loan_days"
	colRenewalDays             = "renewal_days"
	colMaxRenewals             = "max_renewals"
	colRenewalMinDaysBeforeDue = "renewal_min_days_before_due"
	colOverdueFeePerDay        = "overdue_fee_per_day"
	colOverdueFeeCap           = "overdue_fee_cap"
	colMaxConcurrentLoans      = "max_concurrent_loans"
	colApprovalRequired        = "approval_required"
	colDueSoonDays             = "due_soon_days"
	colCurrency                = "currency"

	// The policy is a singleton row.
	policyRowID = 1
)

// TableNames configures the tables the engine operates on.
type TableNames struct {
	Loans    string
	Copies   string
	Members  string
	Books    string
	Policies string
}

func defaultTableNames() TableNames {
	return TableNames{
		Loans:    defaultLoansTableName,
		Copies:   defaultCopiesTableName,
		Members:  defaultMembersTableName,
		Books:    defaultBooksTableName,
		Policies: defaultPoliciesTableName,
	}
}

// Engine is the PostgreSQL loan lifecycle and copy allocation engine.
// It leverages a database adapter and supports customizable logging, metrics,
// tracing, table naming, and clock injection.
type Engine struct {
	db               adapters.DBAdapter
	tables           TableNames
	clock            func() time.Time
	logger           loanengine.Logger
	contextualLogger loanengine.ContextualLogger
	metricsCollector loanengine.MetricsCollector
	tracingCollector loanengine.TracingCollector
}

// NewEngineFromPGXPool creates a new Engine using a pgx pool with optional configuration.
func NewEngineFromPGXPool(db *pgxpool.Pool, options ...Option) (*Engine, error) {
	if db == nil {
		return nil, loanengine.ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewPGXAdapter(db), options...)
}

// NewEngineFromSQLDB creates a new Engine using a sql.DB with optional configuration.
func NewEngineFromSQLDB(db *sql.DB, options ...Option) (*Engine, error) {
	if db == nil {
		return nil, loanengine.ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewSQLAdapter(db), options...)
}

// NewEngineFromSQLX creates a new Engine using a sqlx.DB with optional configuration.
func NewEngineFromSQLX(db *sqlx.DB, options ...Option) (*Engine, error) {
	if db == nil {
		return nil, loanengine.ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewSQLXAdapter(db), options...)
}

func newEngine(db adapters.DBAdapter, options ...Option) (*Engine, error) {
	engine := &Engine{
		db:     db,
		tables: defaultTableNames(),
		clock:  time.Now,
	}

	for _, option := range options {
		if err := option(engine); err != nil {
			return nil, err
		}
	}

	return engine, nil
}

// now returns the current instant from the configured clock, normalized the
// way timestamps come back from Postgres.
func (e *Engine) now() time.Time {
	return loanengine.ToInstant(e.clock())
}
