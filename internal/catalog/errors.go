package catalog

import "errors"

// Error kinds per the error-handling design: invariant violations are
// distinguished from plain not-found so callers (cache build, admin surface)
// can log them at the right level without string matching.
var (
	ErrNotFound  = errors.New("catalog: domain not found")
	ErrInvariant = errors.New("catalog: row violates domain invariants")
)
