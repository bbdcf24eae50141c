// SPDX-License-Identifier: MPL-2.0

//go:build windows

package harness

import (
	"fmt"
	"io"
	"os"
	"os/exec"
)

// startPty is not available on Windows; sessions requesting a PTY get an
// error and clients fall back to the non-PTY path.
func startPty(_ *exec.Cmd) (*os.File, error) {
	return nil, fmt.Errorf("pty sessions are not supported on windows")
}

// setWinsize is a no-op on Windows.
func setWinsize(_ *os.File, _, _ int) {}

// copyBuffer copies from src to dst until EOF.
func copyBuffer(dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, src)
}
