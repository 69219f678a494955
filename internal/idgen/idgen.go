// Package idgen centralizes ID generation so every subsystem (jobs,
// crawls, NuQ queue rows) produces the same kind of identifier instead
// of each package rolling its own uuidv7-with-v4-fallback helper.
package idgen

import "github.com/google/uuid"

// New returns a uuidv7 when the runtime's google/uuid build supports
// it, falling back to v4 otherwise. uuidv7 is preferred because its
// timestamp prefix keeps btree indexes on id columns roughly
// insertion-ordered.
func New() uuid.UUID {
	if id, err := uuid.NewV7(); err == nil {
		return id
	}
	return uuid.New()
}

// NewString is New formatted as its canonical string form, the shape
// most HTTP handlers and job payloads want directly.
func NewString() string {
	return New().String()
}
