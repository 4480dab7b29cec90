package loanengine

import (
	"github.com/google/uuid"
)

// Copy is a single physical instance of a Book.
//
// Invariant: a copy is ON_LOAN if and only if exactly one non-terminal loan
// references it. Copy status is mutated exclusively by the engine's
// allocation and return paths; a copy is never deleted while a loan
// references it.
type Copy struct {
	ID      uuid.UUID
	BookID  uuid.UUID
	Barcode string
	Status  CopyStatus
}

// IsAvailable reports whether the copy can be allocated to a loan.
func (c Copy) IsAvailable() bool {
	return c.Status == CopyStatusAvailable
}
