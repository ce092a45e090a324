package common

import "errors"

// ErrStateConflict marks operations that are illegal for the entity's current
// state (executing a non-pending batch, cancelling an executing schedule).
// Distinct from validation and not-found so callers can map it at the
// boundary without string matching.
var ErrStateConflict = errors.New("operation not allowed in current state")
