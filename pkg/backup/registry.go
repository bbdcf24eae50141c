// SPDX-License-Identifier: MPL-2.0

// Package backup provides reversible, scoped file edits.
//
// An Editor stages changes in a scratch copy of its target file and keeps a
// snapshot of the pre-edit content, so the edit can be published on scope
// exit and rolled back later. Editors are tracked by a Registry under
// caller-chosen context names, letting a whole group of edits be restored in
// one call; the SSH harness restores every dotfile it touched this way
// during teardown.
//
// File layout for a target "f" with the default suffix:
//
//	f             the target file
//	f.backup      snapshot of the pre-edit content
//	f.new-backup  the in-progress edit the caller writes to
package backup

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"
)

// Registry tracks active Editors by (context, path). A Registry is owned by
// whichever component orchestrates a group of edits; there is no package
// level instance. Safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	contexts map[string]map[string]*Editor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{contexts: make(map[string]map[string]*Editor)}
}

// Edit constructs and registers an Editor for path under the given context.
//
// The (context, path) pair is claimed before the edit scope is entered, so
// concurrent attempts to back up the same file are caught early: a second
// Edit for a registered pair fails with DuplicateEditError and leaves the
// first Editor's files untouched.
//
// When mode starts from existing content (ModeAppend, ModeUpdate) and the
// target exists, the edit file is pre-populated with a copy of the target.
// The open handle passed to Editor.Do refers to the edit file, never the
// target. Any failure after registration unregisters before returning.
func (r *Registry) Edit(context, path string, mode Mode, opts ...EditOption) (*Editor, error) {
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	if context == "" {
		return nil, fmt.Errorf("backup: empty context name")
	}
	if path == "" {
		return nil, fmt.Errorf("backup: empty target path")
	}

	o := editOptions{suffix: DefaultSuffix}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Editor{
		registry:   r,
		context:    context,
		path:       path,
		editPath:   path + ".new-" + o.suffix,
		backupPath: path + "." + o.suffix,
		mode:       mode,
	}

	if err := r.register(context, path, e); err != nil {
		return nil, err
	}

	if mode.prePopulates() && fileExists(path) {
		if err := copyFile(path, e.editPath); err != nil {
			e.discard()
			return nil, fmt.Errorf("backup: pre-populate %s: %w", e.editPath, err)
		}
	}

	f, err := os.OpenFile(e.editPath, mode.openFlags(), 0o644)
	if err != nil {
		e.discard()
		return nil, fmt.Errorf("backup: open %s: %w", e.editPath, err)
	}
	e.file = f

	return e, nil
}

// Clear restores exactly the Editor registered at (context, path).
// It fails with NotRegisteredError if no Editor is registered there.
func (r *Registry) Clear(context, path string) error {
	r.mu.Lock()
	e, ok := r.contexts[context][path]
	r.mu.Unlock()

	if !ok {
		return &NotRegisteredError{Context: context, Path: path}
	}
	return e.Restore()
}

// ClearContext restores every Editor registered under context, removing them
// all. Restore order is unspecified. An unknown context is a no-op. Errors
// from individual restores are collected; the remaining Editors are still
// restored.
func (r *Registry) ClearContext(context string) error {
	r.mu.Lock()
	editors := slices.Collect(maps.Values(r.contexts[context]))
	r.mu.Unlock()

	var errs []error
	for _, e := range editors {
		if err := e.Restore(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Registered reports whether an Editor is registered at (context, path).
func (r *Registry) Registered(context, path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.contexts[context][path]
	return ok
}

// register claims (context, path) for e.
func (r *Registry) register(context, path string, e *Editor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, ok := r.contexts[context]
	if !ok {
		ctx = make(map[string]*Editor)
		r.contexts[context] = ctx
	}
	if _, taken := ctx[path]; taken {
		return &DuplicateEditError{Context: context, Path: path}
	}
	ctx[path] = e
	return nil
}

// unregister releases (context, path), verifying that e is the instance
// actually registered there.
func (r *Registry) unregister(context, path string, e *Editor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, ok := r.contexts[context]
	if !ok {
		return &NotRegisteredError{Context: context, Path: path}
	}
	cur, ok := ctx[path]
	if !ok {
		return &NotRegisteredError{Context: context, Path: path}
	}
	if cur != e {
		return &NotRegisteredError{Context: context, Path: path, Mismatch: true}
	}

	delete(ctx, path)
	if len(ctx) == 0 {
		delete(r.contexts, context)
	}
	return nil
}
