// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/mitchellh/go-homedir"
)

// Rules holds the repository access lists the dispatcher enforces. Paths are
// kept in normalized form (tilde expanded, absolute, cleaned) so that the
// path a client names can be compared byte-for-byte after the same
// normalization.
type Rules struct {
	// ReadWrite lists repositories that may be both fetched from and
	// pushed to.
	ReadWrite []string
	// ReadOnly lists repositories that may only be fetched from. A
	// repository present in both lists is served read-only.
	ReadOnly []string
}

// NewRules normalizes the given path lists into a Rules value. It fails on
// the first path that cannot be normalized, so misconfiguration surfaces at
// startup rather than per-request.
func NewRules(readWrite, readOnly []string) (Rules, error) {
	rw, err := normalizeAll(readWrite)
	if err != nil {
		return Rules{}, fmt.Errorf("read-write list: %w", err)
	}
	ro, err := normalizeAll(readOnly)
	if err != nil {
		return Rules{}, fmt.Errorf("read-only list: %w", err)
	}
	return Rules{ReadWrite: rw, ReadOnly: ro}, nil
}

// Known reports whether repo is present in either access list.
func (r Rules) Known(repo string) bool {
	return slices.Contains(r.ReadWrite, repo) || slices.Contains(r.ReadOnly, repo)
}

// Writable reports whether repo may be pushed to.
func (r Rules) Writable(repo string) bool {
	return slices.Contains(r.ReadWrite, repo)
}

// ReadOnlyRepo reports whether repo is listed read-only. Read-only wins over
// read-write when a repository appears in both lists.
func (r Rules) ReadOnlyRepo(repo string) bool {
	return slices.Contains(r.ReadOnly, repo)
}

// NormalizePath expands a leading tilde and makes path absolute and clean.
// Only the bare "~" and "~/" forms are expanded; "~user" paths are not
// supported and fail.
func NormalizePath(path string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("expanding %q: %w", path, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", path, err)
	}
	return abs, nil
}

func normalizeAll(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	normalized := make([]string, 0, len(paths))
	for _, p := range paths {
		n, err := NormalizePath(p)
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, n)
	}
	return normalized, nil
}
