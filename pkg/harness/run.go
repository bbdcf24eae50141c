// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"

	"vcs-ssh/pkg/types"
)

// RunCommand runs argv, feeding it stdin and capturing both output
// streams. The exit status comes back as a code (-1 when the process could
// not run at all); err is reserved for failures to start the process or an
// interrupting context. With debug logging on, both streams are also
// hex-dumped to the harness log.
func (h *Harness) RunCommand(ctx context.Context, argv []string, stdin []byte) (types.ExitCode, []byte, []byte, error) {
	if len(argv) == 0 {
		return -1, nil, nil, fmt.Errorf("run command: empty argv")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // G204: running caller-chosen tools is the point
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	h.logger.Debug("executing command", "argv", strings.Join(argv, " "))

	rc := types.ExitCode(0)
	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			rc = types.ExitCode(exitErr.ExitCode())
			err = nil
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = fmt.Errorf("run %s: %w", argv[0], ctxErr)
			}
		} else {
			rc = -1
			err = fmt.Errorf("run %s: %w", argv[0], err)
		}
	}

	if h.logger.GetLevel() <= log.DebugLevel {
		h.logger.Debug("command finished", "argv", strings.Join(argv, " "), "rc", int(rc))
		h.logger.Debug("stdout\n" + Hexdump(stdout.Bytes()))
		h.logger.Debug("stderr\n" + Hexdump(stderr.Bytes()))
	}

	return rc, stdout.Bytes(), stderr.Bytes(), err
}

// Hexdump renders buf the way hd(1) does: an offset column, sixteen hex
// bytes in two groups of eight, the printable characters in a gutter, and
// the total length as the final offset line. Empty input renders as empty.
func Hexdump(buf []byte) string {
	if len(buf) == 0 {
		return ""
	}
	return hex.Dump(buf) + fmt.Sprintf("%08x\n", len(buf))
}
