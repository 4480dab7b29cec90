package loanengine

import (
	"time"

	"github.com/google/uuid"
)

// Member is the engine's read-only view of a library member. Member state is
// owned by an external member-management collaborator; the engine only
// consults status and loan counts for eligibility decisions.
type Member struct {
	ID     uuid.UUID
	Name   string
	Email  string
	Status MemberStatus

	CreatedAt time.Time
}

// IsActive reports whether the member may borrow or renew.
func (m Member) IsActive() bool {
	return m.Status == MemberStatusActive
}
