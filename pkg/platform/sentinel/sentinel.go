// Package sentinel defines sentinel errors for infrastructure facts.
// Stores return these (optionally wrapped) so callers can branch with
// errors.Is without depending on a concrete store implementation.
package sentinel

import "errors"

var (
	// ErrNotFound: the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict: the write violates a uniqueness or integrity constraint.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable: the backing store cannot be reached right now.
	ErrUnavailable = errors.New("unavailable")
)
