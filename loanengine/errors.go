package loanengine

import (
	"errors"
)

// Domain errors - expected, recoverable-by-caller conditions. They are
// surfaced verbatim to the request layer for translation into user-facing
// messages and must be matched with errors.Is.
var (
	// ErrMemberNotActive is returned when a member whose status is not ACTIVE
	// tries to borrow or renew.
	ErrMemberNotActive = errors.New("member is not active")

	// ErrLoanLimitExceeded is returned when a member already has the maximum
	// number of concurrent (non-terminal) loans allowed by policy.
	ErrLoanLimitExceeded = errors.New("member has reached the maximum number of concurrent loans")

	// ErrNoCopyAvailable is returned when a book has no copy in AVAILABLE
	// status to allocate.
	ErrNoCopyAvailable = errors.New("no available copy for this book")

	// ErrCopyUnavailable is returned when the identified copy is not
	// AVAILABLE, does not belong to the loan's book, or was claimed by a
	// concurrent approval.
	ErrCopyUnavailable = errors.New("copy is not available")

	// ErrInvalidTransition is returned for any loan status transition outside
	// the enumerated edges. It is always joined with a detail error naming
	// the current and the requested status.
	ErrInvalidTransition = errors.New("invalid loan status transition")

	// ErrRenewalWindowClosed is returned when a renewal is requested later
	// than the policy's minimum number of days before the due date.
	ErrRenewalWindowClosed = errors.New("renewal window has closed")

	// ErrRenewalLimitReached is returned when a loan has already been renewed
	// the maximum number of times allowed by policy.
	ErrRenewalLimitReached = errors.New("renewal limit has been reached")

	// ErrNotFound is returned when a referenced loan, copy, book, member, or
	// the policy row does not exist.
	ErrNotFound = errors.New("not found")
)

// Storage engine errors - infrastructure failures, not domain outcomes.
var (
	ErrNilDatabaseConnection     = errors.New("database connection must not be nil")
	ErrEmptyTableName            = errors.New("empty table name supplied")
	ErrBuildingQueryFailed       = errors.New("building query failed")
	ErrQueryingFailed            = errors.New("database query execution failed")
	ErrExecFailed                = errors.New("database execution failed")
	ErrScanningDBRowFailed       = errors.New("scanning database row failed")
	ErrBeginTxFailed             = errors.New("beginning transaction failed")
	ErrCommitFailed              = errors.New("committing transaction failed")
	ErrGettingRowsAffectedFailed = errors.New("getting rows affected count failed")
)

// Policy validation errors.
var (
	ErrInvalidLoanPeriod    = errors.New("loan period must be positive")
	ErrInvalidRenewalPeriod = errors.New("renewal period must be positive")
	ErrNegativeFee          = errors.New("overdue fee values must not be negative")
	ErrInvalidLoanCap       = errors.New("max concurrent loans must be positive")
	ErrInvalidRenewalWindow = errors.New("renewal window must not be negative")
	ErrEmptyCurrency        = errors.New("currency must not be empty")
)
