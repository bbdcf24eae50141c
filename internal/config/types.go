// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// LogLevelDebug enables debug and higher records.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo enables info and higher records.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn enables warn and higher records.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError enables only error records.
	LogLevelError LogLevel = "error"
)

var (
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidRepoPath is the sentinel error wrapped by InvalidRepoPathError.
	ErrInvalidRepoPath = errors.New("invalid repository path")
	// ErrInvalidLogFilePath is returned when a LogFilePath value is whitespace-only.
	ErrInvalidLogFilePath = errors.New("invalid log file path")
	// ErrInvalidLogConfig is the sentinel error wrapped by InvalidLogConfigError.
	ErrInvalidLogConfig = errors.New("invalid log config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// LogLevel selects the minimum severity written to the log file.
	// Defined locally to avoid coupling config to the logging backend;
	// the CLI maps it to the logger's level type at the boundary.
	LogLevel string

	// InvalidLogLevelError is returned when a LogLevel value is not recognized.
	// It wraps ErrInvalidLogLevel for errors.Is() compatibility.
	InvalidLogLevelError struct {
		Value LogLevel
	}

	// RepoPath represents a filesystem path to a repository made reachable
	// over SSH. Entries may start with "~/"; expansion and normalization
	// happen at dispatch time, so the raw value is stored.
	// A valid path must be non-empty and not whitespace-only.
	RepoPath string

	// InvalidRepoPathError is returned when a RepoPath value is empty or
	// whitespace-only. It wraps ErrInvalidRepoPath for errors.Is().
	InvalidRepoPathError struct {
		Value RepoPath
	}

	// LogFilePath represents a filesystem path to the log file.
	// The zero value ("") is valid and means "logging disabled".
	// Non-zero values must not be whitespace-only.
	LogFilePath string

	// InvalidLogFilePathError is returned when a LogFilePath value is
	// non-empty but whitespace-only.
	InvalidLogFilePathError struct {
		Value LogFilePath
	}

	// InvalidLogConfigError is returned when a LogConfig has invalid fields.
	// It wraps ErrInvalidLogConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidLogConfigError struct {
		FieldErrors []error
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// LogConfig configures the optional log file.
	// Logging stays off unless File is set: stderr belongs to the remote
	// client, so diagnostics never go there.
	LogConfig struct {
		// File is the path the log is appended to ("" disables logging).
		File LogFilePath `json:"file" mapstructure:"file" toml:"file"`
		// Level sets the minimum severity recorded ("" means info).
		Level LogLevel `json:"level" mapstructure:"level" toml:"level"`
	}

	// Config holds the application configuration.
	Config struct {
		// ReadWrite lists repositories the remote client may pull from and push to.
		ReadWrite []RepoPath `json:"read_write" mapstructure:"read_write" toml:"read_write"`
		// ReadOnly lists repositories the remote client may only pull from.
		ReadOnly []RepoPath `json:"read_only" mapstructure:"read_only" toml:"read_only"`
		// Log configures the optional log file.
		Log LogConfig `json:"log" mapstructure:"log" toml:"log"`
	}
)

// IsValid returns whether the LogConfig has valid fields.
// It delegates to File.IsValid() and Level.IsValid().
func (c LogConfig) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.File.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Level.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidLogConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidLogConfigError.
func (e *InvalidLogConfigError) Error() string {
	return fmt.Sprintf("invalid log config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidLogConfig for errors.Is() compatibility.
func (e *InvalidLogConfigError) Unwrap() error { return ErrInvalidLogConfig }

// IsValid returns whether the Config has valid fields.
// It delegates to each ReadWrite and ReadOnly entry's IsValid() and to
// Log.IsValid().
func (c Config) IsValid() (bool, []error) {
	var errs []error
	for _, path := range c.ReadWrite {
		if valid, fieldErrs := path.IsValid(); !valid {
			errs = append(errs, fieldErrs...)
		}
	}
	for _, path := range c.ReadOnly {
		if valid, fieldErrs := path.IsValid(); !valid {
			errs = append(errs, fieldErrs...)
		}
	}
	if valid, fieldErrs := c.Log.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// ReadWritePaths returns the read-write repository list as plain strings.
func (c *Config) ReadWritePaths() []string {
	return repoPathStrings(c.ReadWrite)
}

// ReadOnlyPaths returns the read-only repository list as plain strings.
func (c *Config) ReadOnlyPaths() []string {
	return repoPathStrings(c.ReadOnly)
}

func repoPathStrings(paths []RepoPath) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = string(p)
	}
	return out
}

// String returns the string representation of the RepoPath.
func (p RepoPath) String() string { return string(p) }

// IsValid returns whether the RepoPath is valid.
// A valid path must be non-empty and not whitespace-only.
func (p RepoPath) IsValid() (bool, []error) {
	if strings.TrimSpace(string(p)) == "" {
		return false, []error{&InvalidRepoPathError{Value: p}}
	}
	return true, nil
}

// Error implements the error interface for InvalidRepoPathError.
func (e *InvalidRepoPathError) Error() string {
	return fmt.Sprintf("invalid repository path %q: must be non-empty", e.Value)
}

// Unwrap returns ErrInvalidRepoPath for errors.Is() compatibility.
func (e *InvalidRepoPathError) Unwrap() error { return ErrInvalidRepoPath }

// String returns the string representation of the LogFilePath.
func (p LogFilePath) String() string { return string(p) }

// IsValid returns whether the LogFilePath is valid.
// The zero value ("") is valid (means "logging disabled").
// Non-zero values must not be whitespace-only.
func (p LogFilePath) IsValid() (bool, []error) {
	if p == "" {
		return true, nil
	}
	if strings.TrimSpace(string(p)) == "" {
		return false, []error{&InvalidLogFilePathError{Value: p}}
	}
	return true, nil
}

// Error implements the error interface for InvalidLogFilePathError.
func (e *InvalidLogFilePathError) Error() string {
	return fmt.Sprintf("invalid log file path %q: non-empty value must not be whitespace-only", e.Value)
}

// Unwrap returns ErrInvalidLogFilePath for errors.Is() compatibility.
func (e *InvalidLogFilePathError) Unwrap() error { return ErrInvalidLogFilePath }

// Error implements the error interface for InvalidLogLevelError.
func (e *InvalidLogLevelError) Error() string {
	return fmt.Sprintf("invalid log level %q (valid: debug, info, warn, error)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidLogLevelError) Unwrap() error {
	return ErrInvalidLogLevel
}

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string { return string(l) }

// IsValid returns whether the LogLevel is one of the defined levels,
// and a list of validation errors if it is not.
// The zero value ("") is valid and means "use the default level".
func (l LogLevel) IsValid() (bool, []error) {
	switch l {
	case "", LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true, nil
	default:
		return false, []error{&InvalidLogLevelError{Value: l}}
	}
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		ReadWrite: []RepoPath{},
		ReadOnly:  []RepoPath{},
		Log: LogConfig{
			File:  "", // logging disabled until a path is configured
			Level: LogLevelInfo,
		},
	}
}
