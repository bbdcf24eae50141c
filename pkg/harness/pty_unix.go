// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package harness

import (
	"io"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// startPty starts cmd attached to a fresh pseudo-terminal and returns the
// controlling file.
func startPty(cmd *exec.Cmd) (*os.File, error) {
	return pty.Start(cmd)
}

// setWinsize propagates a client window resize to the PTY.
func setWinsize(f *os.File, width, height int) {
	// Resize failures only degrade rendering; the session stays usable.
	_ = pty.Setsize(f, &pty.Winsize{Rows: uint16(height), Cols: uint16(width)})
}

// copyBuffer copies from src to dst until EOF.
func copyBuffer(dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, src)
}
