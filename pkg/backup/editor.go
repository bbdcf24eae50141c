// SPDX-License-Identifier: MPL-2.0

package backup

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// DefaultSuffix is the backup file suffix used when no override is given.
// For a target "f" the backup lives at "f.backup" and the in-progress edit
// at "f.new-backup".
const DefaultSuffix = "backup"

type (
	// Editor stages one in-flight edit of one target file. The caller writes
	// to a scratch copy (the edit file); on scope exit the scratch copy
	// replaces the target, and a snapshot taken on scope entry allows
	// Restore to revert the target to its pre-edit state.
	//
	// An Editor is single-use: Do may be called once, and Restore at any
	// later time. Editors are constructed through Registry.Edit, never
	// directly.
	Editor struct {
		registry *Registry
		context  string
		path     string

		editPath   string
		backupPath string

		mode Mode
		file *os.File

		entered   bool
		hasBackup bool
		restored  bool
	}

	// EditOption customizes Editor construction.
	EditOption func(*editOptions)

	editOptions struct {
		suffix string
	}
)

// WithSuffix overrides the backup file suffix. The edit file suffix is
// derived from it ("new-" + suffix).
func WithSuffix(suffix string) EditOption {
	return func(o *editOptions) {
		o.suffix = suffix
	}
}

// Path returns the target file path.
func (e *Editor) Path() string { return e.path }

// EditPath returns the path of the scratch copy the caller writes to.
func (e *Editor) EditPath() string { return e.editPath }

// BackupPath returns the path of the pre-edit snapshot. The file exists only
// while the scope has been entered with a pre-existing target and Restore has
// not yet run.
func (e *Editor) BackupPath() string { return e.backupPath }

// Do enters the edit scope, invokes fn with the open edit file, and closes
// the scope. The scope close runs on every exit path (normal return, error
// return, panic): it closes the edit handle and then moves the edit file
// onto the target, replacing it.
//
// On entry, a snapshot of the target is taken when the target exists; the
// snapshot is what Restore later reverts to. A second Do on the same Editor
// fails with ReentryError and leaves all files untouched.
//
// An error from fn is returned after the scope close has run. A panic in fn
// propagates, also after the scope close has run.
func (e *Editor) Do(fn func(f *os.File) error) (err error) {
	if e.entered {
		return &ReentryError{Context: e.context, Path: e.path}
	}
	e.entered = true

	e.hasBackup = fileExists(e.path)
	if e.hasBackup {
		if copyErr := copyFile(e.path, e.backupPath); copyErr != nil {
			return fmt.Errorf("backup: snapshot %s: %w", e.path, copyErr)
		}
	}

	defer func() {
		exitErr := e.exit()
		switch {
		case exitErr == nil:
		case err == nil:
			err = exitErr
		default:
			err = errors.Join(err, exitErr)
		}
	}()

	return fn(e.file)
}

// exit closes the edit handle and publishes the edit file onto the target.
// A failed publish leaves the edit file in place for inspection.
func (e *Editor) exit() error {
	closeErr := e.file.Close()
	if moveErr := replaceFile(e.editPath, e.path); moveErr != nil {
		return moveErr
	}
	return closeErr
}

// Restore reverts the target to its pre-edit state and unregisters the
// Editor from its Registry. When a snapshot was taken on scope entry it is
// moved back onto the target; otherwise the target is removed, since
// non-existence is its pre-edit state.
//
// Restore is idempotent: once it has succeeded, further calls are no-ops.
// Calling Restore before the scope was ever entered fails with
// NotEnteredError and changes nothing.
func (e *Editor) Restore() error {
	if e.restored {
		return nil
	}
	if !e.entered {
		return &NotEnteredError{Context: e.context, Path: e.path}
	}

	if e.hasBackup {
		if err := replaceFile(e.backupPath, e.path); err != nil {
			return err
		}
	} else {
		if err := os.Remove(e.path); err != nil {
			return fmt.Errorf("backup: remove %s: %w", e.path, err)
		}
	}

	e.restored = true
	return e.registry.unregister(e.context, e.path, e)
}

// discard unwinds a half-constructed Editor: it removes whatever edit file
// was created and releases the registration. Called only from Registry.Edit
// failure paths, before the Editor is handed to the caller.
func (e *Editor) discard() {
	// The edit file may not have been created yet and the registration is
	// known good, so neither error is actionable here.
	_ = os.Remove(e.editPath)
	_ = e.registry.unregister(e.context, e.path, e)
}

// replaceFile moves src onto dst, overwriting it. Rename is attempted first;
// platforms that refuse to rename onto an existing file get a remove followed
// by a second rename. The fallback runs once, with no retry loop.
func replaceFile(src, dst string) error {
	renameErr := os.Rename(src, dst)
	if renameErr == nil {
		return nil
	}
	if err := os.Remove(dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// dst was not the obstacle; surface the rename failure
			return fmt.Errorf("backup: replace %s: %w", dst, renameErr)
		}
		return fmt.Errorf("backup: replace %s: %w", dst, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("backup: replace %s: %w", dst, err)
	}
	return nil
}

// copyFile copies src to dst, truncating dst if present, and carries over
// src's permission bits.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck // read-only handle

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close() //nolint:errcheck // already failing
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	// OpenFile's perm is subject to the umask; make the bits exact.
	return os.Chmod(dst, info.Mode().Perm())
}

// fileExists reports whether path names an existing regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
