package types

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error raised by the table layer wraps exactly one of
// these, so callers branch with errors.Is.
var (
	ErrValidation       = errors.New("validation error")
	ErrIllegalOperation = errors.New("illegal operation")
	ErrColumnNotFound   = errors.New("column not found")
	ErrSchemaMismatch   = errors.New("schema mismatch")
	ErrBackendFault     = errors.New("backend fault")
	ErrNotFound         = errors.New("not found")
)

var (
	ErrUnknownType = func(name string) error {
		return fmt.Errorf("%w: unknown column type %q", ErrValidation, name)
	}
	ErrInvalidPredicate = func(info string) error {
		return fmt.Errorf("%w: %s", ErrValidation, info)
	}
	ErrColumnMissing = func(name string, available []string) error {
		return fmt.Errorf("%w: %q (available: %s)", ErrColumnNotFound, name, strings.Join(available, ", "))
	}
	ErrReleased = func(table string) error {
		return fmt.Errorf("%w: table %q has been released", ErrIllegalOperation, table)
	}
	ErrIllegal = func(info string) error {
		return fmt.Errorf("%w: %s", ErrIllegalOperation, info)
	}
	ErrMismatch = func(info string) error {
		return fmt.Errorf("%w: %s", ErrSchemaMismatch, info)
	}
	ErrBackend = func(cmd string, err error) error {
		return fmt.Errorf("%w: %s: %w", ErrBackendFault, cmd, err)
	}
)
