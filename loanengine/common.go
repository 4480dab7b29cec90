package loanengine

import (
	"time"
)

// Instead of implementing full value objects, alias types and small helpers
// are used for the scalar domain values.

// FeeMinorUnits represents a monetary amount in the minor units of the
// policy currency (e.g. cents). Integer arithmetic only, no floats.
type FeeMinorUnits = int64

// OverdueDaysInt represents a count of (whole, rounded-up) overdue days.
type OverdueDaysInt = int

// Instant represents a point in time as used by the engine.
type Instant = time.Time

// ToInstant normalizes a time to UTC with microsecond precision, which is
// the precision Postgres stores for "timestamp with time zone" columns.
func ToInstant(t time.Time) Instant {
	return t.UTC().Truncate(time.Microsecond)
}
