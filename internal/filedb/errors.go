package filedb

import (
	"errors"
	"fmt"
)

// Errors returned by the store. All of them can be matched with errors.Is.
var (
	// ErrConfiguration indicates a missing or contradictory setting or option.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnsupportedOperation indicates an option that the table's mode cannot honour,
	// such as forcing a new version on a non-versioned table.
	ErrUnsupportedOperation = fmt.Errorf("%w: unsupported operation", ErrConfiguration)

	// ErrNotFound indicates that the requested table or version holds no data.
	ErrNotFound = errors.New("not found")

	// ErrDataTypeMismatch indicates a payload whose shape differs from the version's data type.
	ErrDataTypeMismatch = errors.New("data type mismatch")

	// ErrInsufficientSpace indicates the free-space guard tripped before a write.
	ErrInsufficientSpace = errors.New("insufficient disk space")

	// ErrCorruptMetadata indicates metadata or chunk files that cannot be interpreted.
	ErrCorruptMetadata = errors.New("corrupt metadata")

	// ErrNotVersionedMode indicates a version operation on a non-versioned table.
	ErrNotVersionedMode = errors.New("table is not versioned")

	// ErrNotPrepared indicates GetMetadata was called before any prepare, read or write.
	ErrNotPrepared = errors.New("store not prepared")

	// ErrPrune indicates that old versions could not all be removed after a write.
	// The write itself succeeded.
	ErrPrune = errors.New("pruning old versions failed")
)

// MismatchError describes a payload that does not fit the established data type.
type MismatchError struct {
	Version  string
	Existing DataType
	Incoming DataType
}

func (e *MismatchError) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("data type mismatch in version %s: have %s, got %s", e.Version, e.Existing, e.Incoming)
	}
	return fmt.Sprintf("data type mismatch: have %s, got %s", e.Existing, e.Incoming)
}

func (e *MismatchError) Unwrap() error {
	return ErrDataTypeMismatch
}

// SpaceError reports the free-space measurement that tripped the guard.
type SpaceError struct {
	Path      string
	Free      uint64
	Threshold uint64
}

func (e *SpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space at %s: %d bytes free, need at least %d", e.Path, e.Free, e.Threshold)
}

func (e *SpaceError) Unwrap() error {
	return ErrInsufficientSpace
}

// IsNotFound returns true if the error indicates missing data.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConfiguration returns true if the error indicates a configuration problem.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsDataTypeMismatch returns true if the error indicates a payload shape conflict.
func IsDataTypeMismatch(err error) bool {
	return errors.Is(err, ErrDataTypeMismatch)
}
