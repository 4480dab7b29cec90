package loanengine

import (
	"github.com/google/uuid"
)

// Book is a catalog entity owning zero or more physical copies. Catalog
// management is out of scope; the engine only reads books to resolve copy
// ownership.
type Book struct {
	ID     uuid.UUID
	ISBN   string
	Title  string
	Author string
}
