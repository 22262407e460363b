package core

import (
	"errors"
	"fmt"

	"github.com/liliang-cn/sqatom/pkg/project"
)

// Common errors
var (
	// ErrNotFound is returned when an atom, embedding or job is not found
	ErrNotFound = errors.New("not found")

	// ErrStoreClosed is returned when trying to use a closed store
	ErrStoreClosed = errors.New("store is closed")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrDuplicateSequence is returned when a composition edge collides with
	// an already committed (parent, sequence) pair. This is always a bug in
	// the caller's cursor handling, never an expected condition.
	ErrDuplicateSequence = errors.New("duplicate sequence index")

	// ErrQuotaExceeded is returned when an ingestion job would process more
	// units than its quota allows. Operators recover by resubmitting with a
	// larger quota.
	ErrQuotaExceeded = errors.New("unit quota exceeded")

	// ErrTransientConflict is returned when SQLite reports a busy or locked
	// database. Safe to retry.
	ErrTransientConflict = errors.New("transient store conflict")

	// ErrDecoderExhaustion is returned when a decoder yields fewer units
	// than the source geometry requires for a non-final chunk. Silent
	// truncation would break reconstruction, so the job fails instead.
	ErrDecoderExhaustion = errors.New("decoder exhausted before expected")

	// ErrNoCandidates is returned when neither the spatial filter nor the
	// linear-scan fallback finds anything to rank.
	ErrNoCandidates = errors.New("no search candidates")

	// ErrCorruptComposition is returned when reconstruction hits a missing
	// component or a broken chain. Fatal: it indicates store corruption.
	ErrCorruptComposition = errors.New("corrupt composition graph")

	// ErrInvalidVector mirrors the projector's sentinel so callers can match
	// either package.
	ErrInvalidVector = project.ErrInvalidVector
)

// StoreError wraps errors with operation context
type StoreError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("atomstore: %v", e.Err)
	}
	return fmt.Sprintf("atomstore: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// wrapError wraps an error with operation context
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
