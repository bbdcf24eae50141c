// SPDX-License-Identifier: MPL-2.0

package backup

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMode is the sentinel error wrapped by InvalidModeError.
	ErrInvalidMode = errors.New("invalid edit mode")
	// ErrAlreadyRegistered is the sentinel error wrapped by DuplicateEditError.
	ErrAlreadyRegistered = errors.New("file already backed up")
	// ErrNotReentrant is the sentinel error wrapped by ReentryError.
	ErrNotReentrant = errors.New("edit scope is not reentrant")
	// ErrNotRegistered is the sentinel error wrapped by NotRegisteredError.
	ErrNotRegistered = errors.New("no backup registered")
	// ErrNotEntered is the sentinel error wrapped by NotEnteredError.
	ErrNotEntered = errors.New("edit scope never entered")
)

type (
	// InvalidModeError is returned when an Editor is constructed with a Mode
	// that cannot be used for editing (read-only, or outside the defined set).
	InvalidModeError struct {
		Mode Mode
	}

	// DuplicateEditError is returned when a second Editor is constructed for
	// a (context, path) pair that already has a registered Editor.
	DuplicateEditError struct {
		Context string
		Path    string
	}

	// ReentryError is returned when Do is called on an Editor whose scope has
	// already been entered. Editors are single-use.
	ReentryError struct {
		Context string
		Path    string
	}

	// NotRegisteredError is returned when unregistering a (context, path)
	// pair that is not present, or whose registered Editor is a different
	// instance than the one unregistering.
	NotRegisteredError struct {
		Context  string
		Path     string
		Mismatch bool
	}

	// NotEnteredError is returned by Restore when the edit scope was never
	// entered. Nothing has been backed up at that point and the target still
	// holds its pre-edit content, so there is nothing to revert.
	NotEnteredError struct {
		Context string
		Path    string
	}
)

// Error implements the error interface for InvalidModeError.
func (e *InvalidModeError) Error() string {
	return fmt.Sprintf("invalid edit mode %q: the edit file must be writable", e.Mode)
}

// Unwrap returns ErrInvalidMode for errors.Is() compatibility.
func (e *InvalidModeError) Unwrap() error { return ErrInvalidMode }

// Error implements the error interface for DuplicateEditError.
func (e *DuplicateEditError) Error() string {
	return fmt.Sprintf("%s already has a registered editor in context %q", e.Path, e.Context)
}

// Unwrap returns ErrAlreadyRegistered for errors.Is() compatibility.
func (e *DuplicateEditError) Unwrap() error { return ErrAlreadyRegistered }

// Error implements the error interface for ReentryError.
func (e *ReentryError) Error() string {
	return fmt.Sprintf("edit scope for %s in context %q has already been entered", e.Path, e.Context)
}

// Unwrap returns ErrNotReentrant for errors.Is() compatibility.
func (e *ReentryError) Unwrap() error { return ErrNotReentrant }

// Error implements the error interface for NotRegisteredError.
func (e *NotRegisteredError) Error() string {
	if e.Mismatch {
		return fmt.Sprintf("registered editor for %s in context %q does not match the given instance", e.Path, e.Context)
	}
	return fmt.Sprintf("no editor registered for %s in context %q", e.Path, e.Context)
}

// Unwrap returns ErrNotRegistered for errors.Is() compatibility.
func (e *NotRegisteredError) Unwrap() error { return ErrNotRegistered }

// Error implements the error interface for NotEnteredError.
func (e *NotEnteredError) Error() string {
	return fmt.Sprintf("edit scope for %s in context %q was never entered", e.Path, e.Context)
}

// Unwrap returns ErrNotEntered for errors.Is() compatibility.
func (e *NotEnteredError) Unwrap() error { return ErrNotEntered }
