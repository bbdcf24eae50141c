// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pidfileTimeout is how long the daemon gets to write its pidfile before
// startup counts as failed.
const pidfileTimeout = 6 * time.Second

// waitForFile blocks until path exists as a regular file, the budget runs
// out, or ctx is cancelled. The parent directory is watched with fsnotify;
// a coarse poll runs alongside because inotify events can be lost around
// watcher registration and on filesystems without event support.
func waitForFile(ctx context.Context, path string, budget time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		defer fsw.Close() //nolint:errcheck // watcher teardown; error non-critical
		if addErr := fsw.Add(filepath.Dir(path)); addErr == nil {
			events = fsw.Events
			errs = fsw.Errors
		}
	}
	// A nil channel never delivers, so the ticker carries the whole wait
	// when the watcher could not be set up.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", path, ctx.Err())
		case <-ticker.C:
		case <-events:
		case <-errs:
		}
	}
}
