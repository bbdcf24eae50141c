// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vcs-ssh/internal/testutil"
)

func TestWaitForFileAlreadyPresent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sshd.pid")
	testutil.MustWriteFile(t, path, "1234\n", 0o644)

	if err := waitForFile(context.Background(), path, time.Second); err != nil {
		t.Errorf("waitForFile() error = %v for an existing file", err)
	}
}

func TestWaitForFileAppearsLater(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sshd.pid")
	go func() {
		time.Sleep(150 * time.Millisecond)
		if err := os.WriteFile(path, []byte("1234\n"), 0o644); err != nil {
			t.Errorf("WriteFile error = %v", err)
		}
	}()

	start := time.Now()
	if err := waitForFile(context.Background(), path, 5*time.Second); err != nil {
		t.Fatalf("waitForFile() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("waitForFile() took %v, the watcher should react well before the budget", elapsed)
	}
}

func TestWaitForFileBudgetExceeded(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sshd.pid")

	err := waitForFile(context.Background(), path, 100*time.Millisecond)
	if err == nil {
		t.Fatal("waitForFile() succeeded for a file that never appears")
	}
}

func TestWaitForFileCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := waitForFile(ctx, filepath.Join(t.TempDir(), "sshd.pid"), time.Minute)
	if err == nil {
		t.Fatal("waitForFile() succeeded with a cancelled context")
	}
}

func TestWaitForFileIgnoresDirectories(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "sshd.pid")
	testutil.MustMkdirAll(t, path, 0o755)

	// A directory at the pidfile path is not a pidfile.
	if err := waitForFile(context.Background(), path, 100*time.Millisecond); err == nil {
		t.Error("waitForFile() accepted a directory")
	}
}
