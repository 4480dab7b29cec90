package helper

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"

	"github.com/openshelf/loan-engine-go/loanengine"
)

func GivenUniqueID(t testing.TB) uuid.UUID {
	id, err := uuid.NewV7()
	assert.NoError(t, err, "error in arranging test data")

	return id
}

// CleanUpLoanData truncates all loan engine tables between tests.
func CleanUpLoanData(t testing.TB, pool *pgxpool.Pool) {
	_, err := pool.Exec(context.Background(),
		`TRUNCATE TABLE loans, copies, books, members, loan_policies`)
	assert.NoError(t, err, "error in cleaning up test data")
}

// GivenActiveMember inserts a member in ACTIVE and returns it.
func GivenActiveMember(t testing.TB, ctx context.Context, pool *pgxpool.Pool) loanengine.Member {
	return GivenMemberWithStatus(t, ctx, pool, loanengine.MemberStatusActive)
}

// GivenSuspendedMember inserts a member in SUSPENDED and returns it.
func GivenSuspendedMember(t testing.TB, ctx context.Context, pool *pgxpool.Pool) loanengine.Member {
	return GivenMemberWithStatus(t, ctx, pool, loanengine.MemberStatusSuspended)
}

// GivenMemberWithStatus inserts a member with the given status and returns it.
func GivenMemberWithStatus(
	t testing.TB,
	ctx context.Context,
	pool *pgxpool.Pool,
	status loanengine.MemberStatus,
) loanengine.Member {
	member := loanengine.Member{
		ID:        GivenUniqueID(t),
		Name:      fmt.Sprintf("Reader %d", rand.IntN(100000)),
		Email:     fmt.Sprintf("reader-%s@example.com", uuid.NewString()[:8]),
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}

	_, err := pool.Exec(ctx,
		`INSERT INTO members (id, name, email, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		member.ID, member.Name, member.Email, string(member.Status), member.CreatedAt)
	assert.NoError(t, err, "error in arranging test data")

	return member
}

// GivenBook inserts a book and returns it.
func GivenBook(t testing.TB, ctx context.Context, pool *pgxpool.Pool) loanengine.Book {
	book := loanengine.Book{
		ID:     GivenUniqueID(t),
		ISBN:   fmt.Sprintf("978-%09d", rand.IntN(1_000_000_000)),
		Title:  "The Go Programming Language",
		Author: "Donovan and Kernighan",
	}

	_, err := pool.Exec(ctx,
		`INSERT INTO books (id, isbn, title, author) VALUES ($1, $2, $3, $4)`,
		book.ID, book.ISBN, book.Title, book.Author)
	assert.NoError(t, err, "error in arranging test data")

	return book
}

// GivenBookWithCopies inserts a book with the given number of AVAILABLE
// copies and returns both.
func GivenBookWithCopies(
	t testing.TB,
	ctx context.Context,
	pool *pgxpool.Pool,
	numCopies int,
) (loanengine.Book, []loanengine.Copy) {
	book := GivenBook(t, ctx, pool)

	copies := make([]loanengine.Copy, 0, numCopies)
	for i := 0; i < numCopies; i++ {
		copies = append(copies, GivenCopy(t, ctx, pool, book.ID, loanengine.CopyStatusAvailable))
	}

	return book, copies
}

// GivenCopy inserts a copy of the given book with the given status.
func GivenCopy(
	t testing.TB,
	ctx context.Context,
	pool *pgxpool.Pool,
	bookID uuid.UUID,
	status loanengine.CopyStatus,
) loanengine.Copy {
	copyRow := loanengine.Copy{
		ID:      GivenUniqueID(t),
		BookID:  bookID,
		Barcode: fmt.Sprintf("C-%08d", rand.IntN(100_000_000)),
		Status:  status,
	}

	_, err := pool.Exec(ctx,
		`INSERT INTO copies (id, book_id, barcode, status) VALUES ($1, $2, $3, $4)`,
		copyRow.ID, copyRow.BookID, copyRow.Barcode, string(copyRow.Status))
	assert.NoError(t, err, "error in arranging test data")

	return copyRow
}

// GivenPolicy upserts the singleton policy row.
func GivenPolicy(t testing.TB, ctx context.Context, pool *pgxpool.Pool, policy loanengine.Policy) {
	_, err := pool.Exec(ctx,
		`INSERT INTO loan_policies
			(id, loan_days, renewal_days, max_renewals, renewal_min_days_before_due,
			 overdue_fee_per_day, overdue_fee_cap, max_concurrent_loans,
			 approval_required, due_soon_days, currency)
		 VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
			loan_days = EXCLUDED.loan_days,
			renewal_days = EXCLUDED.renewal_days,
			max_renewals = EXCLUDED.max_renewals,
			renewal_min_days_before_due = EXCLUDED.renewal_min_days_before_due,
			overdue_fee_per_day = EXCLUDED.overdue_fee_per_day,
			overdue_fee_cap = EXCLUDED.overdue_fee_cap,
			max_concurrent_loans = EXCLUDED.max_concurrent_loans,
			approval_required = EXCLUDED.approval_required,
			due_soon_days = EXCLUDED.due_soon_days,
			currency = EXCLUDED.currency`,
		policy.LoanDays, policy.RenewalDays, policy.MaxRenewals, policy.RenewalMinDaysBeforeDue,
		int64(policy.OverdueFeePerDay), int64(policy.OverdueFeeCapPerLoan), policy.MaxConcurrentLoans,
		policy.ApprovalRequired, policy.DueSoonDays, policy.Currency)
	assert.NoError(t, err, "error in arranging test data")
}

// GivenLoanDueDateMovedTo backdates a loan's due date, for overdue and
// renewal-window scenarios that would otherwise need a real clock to pass.
func GivenLoanDueDateMovedTo(
	t testing.TB,
	ctx context.Context,
	pool *pgxpool.Pool,
	loanID uuid.UUID,
	dueDate time.Time,
) {
	tag, err := pool.Exec(ctx, `UPDATE loans SET due_date = $1 WHERE id = $2`, dueDate, loanID)
	assert.NoError(t, err, "error in arranging test data")
	assert.Equal(t, int64(1), tag.RowsAffected(), "error in arranging test data")
}
