// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

type (
	// opensshDaemon supervises one sshd child process.
	opensshDaemon struct {
		cmd      *exec.Cmd
		output   *syncBuffer
		waitErr  error         // valid once done is closed
		done     chan struct{} // closed when the process has exited
		stopping atomic.Bool
	}

	// syncBuffer collects daemon output from the exec copier goroutine
	// while the harness reads it for error reporting.
	syncBuffer struct {
		mu  sync.Mutex
		buf bytes.Buffer
	}
)

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// startDaemon launches sshd in the foreground and waits for its pidfile,
// the daemon's signal that it is ready for connections.
func (h *Harness) startDaemon(ctx context.Context) error {
	output := &syncBuffer{}
	cmd := exec.Command(h.sshdPath, "-D", "-4", "-f", h.paths.sshdConfig) //nolint:gosec // G204: path resolved by checkPreconditions
	cmd.Stdout = output
	cmd.Stderr = output

	h.logger.Debug("starting sshd", "argv", strings.Join(cmd.Args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start sshd: %w", err)
	}

	d := &opensshDaemon{cmd: cmd, output: output, done: make(chan struct{})}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		d.waitErr = cmd.Wait()
		close(d.done)

		if d.stopping.Load() {
			return
		}
		// Dying without being stopped is fatal for the suite using us.
		err := fmt.Errorf("sshd exited unexpectedly\n%s", output.String())
		if d.waitErr != nil {
			err = fmt.Errorf("sshd exited unexpectedly: %w\n%s", d.waitErr, output.String())
		}
		select {
		case h.errCh <- err:
		default:
			h.logger.Error("sshd exited unexpectedly (channel full)", "error", d.waitErr)
		}
	}()

	if err := waitForFile(ctx, h.paths.pidfile, pidfileTimeout); err != nil {
		if killed, stopErr := d.stop(h.cfg.ShutdownTimeout); stopErr != nil || killed {
			h.logger.Error("stopping sshd after failed startup", "killed", killed, "error", stopErr)
		}
		return fmt.Errorf("sshd did not come up: %w\nsshd output:\n%s", err, output.String())
	}

	h.stateMu.Lock()
	h.daemon = d
	h.stateMu.Unlock()
	return nil
}

// stopDaemon stops the sshd child if one is running. Callers hold stateMu.
func (h *Harness) stopDaemon() error {
	if h.daemon == nil {
		return nil
	}
	killed, err := h.daemon.stop(h.cfg.ShutdownTimeout)
	if killed {
		h.logger.Warn("sshd ignored SIGTERM and was killed")
	}
	h.daemon = nil
	return err
}

// stop terminates the daemon: SIGTERM first, SIGKILL after the timeout.
// The pidfile is the daemon's to remove; by the time stop returns the
// process has exited.
func (d *opensshDaemon) stop(timeout time.Duration) (killed bool, err error) {
	d.stopping.Store(true)

	select {
	case <-d.done:
		return false, nil // Already exited
	default:
	}

	// A signal error means the process is just now exiting; the wait
	// below settles it either way.
	_ = d.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-d.done:
		return false, nil
	case <-time.After(timeout):
	}

	if err := d.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return false, fmt.Errorf("kill sshd: %w", err)
	}
	<-d.done
	return true, nil
}
