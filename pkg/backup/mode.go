// SPDX-License-Identifier: MPL-2.0

package backup

import "os"

const (
	// ModeRead is a read-only open mode. It is the zero value and is
	// rejected by Registry.Edit: editing a file without write access is
	// nonsensical for this abstraction.
	ModeRead Mode = iota
	// ModeAppend opens the edit file for appending, pre-populated with the
	// target's current content when the target exists.
	ModeAppend
	// ModeTruncate opens the edit file empty, regardless of whether the
	// target exists.
	ModeTruncate
	// ModeUpdate opens the edit file for in-place read/write, pre-populated
	// with the target's current content when the target exists.
	ModeUpdate
)

// Mode selects the open semantics for an edit file.
type Mode int

// String returns a human-readable representation of the Mode.
func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeAppend:
		return "append"
	case ModeTruncate:
		return "truncate"
	case ModeUpdate:
		return "update"
	default:
		return "unknown"
	}
}

// Validate returns an error if the Mode cannot be used for editing.
// ModeRead is rejected along with values outside the defined set.
func (m Mode) Validate() error {
	switch m {
	case ModeAppend, ModeTruncate, ModeUpdate:
		return nil
	default:
		return &InvalidModeError{Mode: m}
	}
}

// prePopulates reports whether the edit file starts from the target's
// current content.
func (m Mode) prePopulates() bool {
	return m == ModeAppend || m == ModeUpdate
}

// openFlags returns the os.OpenFile flags for the edit file.
func (m Mode) openFlags() int {
	switch m {
	case ModeAppend:
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case ModeTruncate:
		return os.O_RDWR | os.O_CREATE | os.O_TRUNC
	default: // ModeUpdate
		return os.O_RDWR | os.O_CREATE
	}
}
