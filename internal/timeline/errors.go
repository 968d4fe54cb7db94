package timeline

import (
	"errors"
	"fmt"
)

// ErrDuplicateID is returned by Add when the client-generated id already
// exists for the profile; server-originated data must go through
// UpsertFromServer instead.
var ErrDuplicateID = errors.New("timeline item id already exists")

// ErrNotFound is returned when a referenced item does not exist.
var ErrNotFound = errors.New("timeline item not found")

// ValidationError rejects partially-populated items (a permanent
// failure: never retried, surfaced to the caller).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid timeline item: %s %s", e.Field, e.Reason)
}
