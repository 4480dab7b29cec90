package sweeper

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/openshelf/loan-engine-go/loanengine"
)

const (
	// NotificationKindDueSoon announces an active loan entering the
	// due-soon window.
	NotificationKindDueSoon = "loan_due_soon"

	// NotificationKindOverdue announces a loan that is overdue, whether it
	// was marked in this sweep or earlier.
	NotificationKindOverdue = "loan_overdue"
)

// Notification is the JSON payload pushed to the notifier for each affected
// loan of a sweep run.
type Notification struct {
	Kind       string    `json:"kind"`
	LoanID     string    `json:"loan_id"`
	MemberID   string    `json:"member_id"`
	BookID     string    `json:"book_id"`
	DueDate    time.Time `json:"due_date"`
	OverdueFee int64     `json:"overdue_fee,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// buildNotification maps a swept loan to its notification payload. Loans
// without a due date never reach the sweeper's notification paths.
func buildNotification(kind string, loan loanengine.Loan, occurredAt time.Time) Notification {
	notification := Notification{
		Kind:       kind,
		LoanID:     loan.ID.String(),
		MemberID:   loan.MemberID.String(),
		BookID:     loan.BookID.String(),
		OccurredAt: occurredAt,
	}

	if loan.DueDate != nil {
		notification.DueDate = *loan.DueDate
	}

	if kind == NotificationKindOverdue {
		notification.OverdueFee = int64(loan.OverdueFee)
	}

	return notification
}

func (n Notification) marshal() ([]byte, error) {
	return jsoniter.ConfigFastest.Marshal(n)
}

// UnmarshalNotification decodes a notification payload, for consumers on the
// receiving side of a notifier.
func UnmarshalNotification(payload []byte) (Notification, error) {
	var notification Notification
	err := jsoniter.ConfigFastest.Unmarshal(payload, &notification)

	return notification, err
}
