// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPrerequisite is the sentinel error wrapped by PrerequisiteError.
	ErrPrerequisite = errors.New("harness prerequisite not met")

	// ErrInvalidAuthMethod is the sentinel error wrapped by
	// InvalidAuthMethodError.
	ErrInvalidAuthMethod = errors.New("invalid auth method")

	// ErrInvalidBackend is the sentinel error wrapped by
	// InvalidBackendError.
	ErrInvalidBackend = errors.New("invalid backend")
)

type (
	// PrerequisiteError reports host-side requirements the harness could
	// not satisfy: OpenSSH tools missing, no home directory, no ~/.ssh.
	// StartTest converts it into a test skip, so suites degrade
	// gracefully on minimal machines.
	PrerequisiteError struct {
		Missing []string
	}

	// InvalidAuthMethodError is returned when a Config carries an
	// AuthMethod value that is not one of the declared constants.
	InvalidAuthMethodError struct {
		Value AuthMethod
	}

	// InvalidBackendError is returned when a Config carries a Backend
	// value that is not one of the declared constants.
	InvalidBackendError struct {
		Value Backend
	}
)

// Error implements the error interface for PrerequisiteError.
func (e *PrerequisiteError) Error() string {
	return fmt.Sprintf("harness prerequisites not met: %s", strings.Join(e.Missing, "; "))
}

// Unwrap returns ErrPrerequisite for errors.Is() compatibility.
func (e *PrerequisiteError) Unwrap() error { return ErrPrerequisite }

// Error implements the error interface for InvalidAuthMethodError.
func (e *InvalidAuthMethodError) Error() string {
	return fmt.Sprintf("invalid auth method %d: must be AuthPublicKey or AuthPassword", int(e.Value))
}

// Unwrap returns ErrInvalidAuthMethod for errors.Is() compatibility.
func (e *InvalidAuthMethodError) Unwrap() error { return ErrInvalidAuthMethod }

// Error implements the error interface for InvalidBackendError.
func (e *InvalidBackendError) Error() string {
	return fmt.Sprintf("invalid backend %d: must be BackendOpenSSH or BackendEmbedded", int(e.Value))
}

// Unwrap returns ErrInvalidBackend for errors.Is() compatibility.
func (e *InvalidBackendError) Unwrap() error { return ErrInvalidBackend }
