/*
	This file defines the error taxonomy shared by all engine packages.

	ValidationError and ErrNotFound are surfaced to callers immediately with
	no retry.  StorageError during load is fatal for that operation; during
	an eviction flush it must block eviction rather than drop unflushed data.
	ErrCacheUnavailable is always recovered locally: the engine is correct
	without the opportunistic cache, only slower.
*/

package segvol

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a segmentation or persisted version is unknown.
	ErrNotFound = errors.New("not found")

	// ErrCacheUnavailable signals a degraded opportunistic cache.  Callers
	// must fall through to direct storage access.
	ErrCacheUnavailable = errors.New("cache unavailable")
)

// ValidationError covers malformed input: slice index out of range, undefined
// label id, bad stroke geometry, or a shape mismatch on load that is not the
// known legacy transpose case.
type ValidationError struct {
	msg string
}

func (e ValidationError) Error() string {
	return e.msg
}

// Validationf returns a ValidationError analogous to fmt.Errorf.
func Validationf(format string, args ...interface{}) error {
	return ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsValidation returns true if any error in err's chain is a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// StorageError wraps a durable read/write failure with the key involved.
type StorageError struct {
	Key string
	Err error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("storage failure on key %q: %v", e.Key, e.Err)
}

func (e StorageError) Unwrap() error {
	return e.Err
}

// Storagef wraps err as a StorageError for the given key.
func Storagef(key string, err error) error {
	return StorageError{Key: key, Err: err}
}

// IsStorage returns true if any error in err's chain is a StorageError.
func IsStorage(err error) bool {
	var se StorageError
	return errors.As(err, &se)
}
