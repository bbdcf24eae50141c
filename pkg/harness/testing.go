// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"context"
	"errors"
	"testing"
)

// StartTest creates and starts a harness for a test, wiring teardown into
// t.Cleanup. Missing host prerequisites (no sshd, no ~/.ssh) skip the test
// instead of failing it, so suites degrade gracefully on minimal machines.
func StartTest(t testing.TB, cfg Config) *Harness {
	t.Helper()

	h, err := New(cfg)
	if err != nil {
		t.Fatalf("configure ssh harness: %v", err)
	}
	t.Cleanup(func() {
		if err := h.Stop(); err != nil {
			t.Errorf("stop ssh harness: %v", err)
		}
	})

	if err := h.Start(context.Background()); err != nil {
		if errors.Is(err, ErrPrerequisite) {
			t.Skipf("ssh harness: %v", err)
		}
		t.Fatalf("start ssh harness: %v", err)
	}
	return h
}
