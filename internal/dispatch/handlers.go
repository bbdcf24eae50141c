// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"mvdan.cc/sh/v3/syntax"

	"vcs-ssh/pkg/types"
)

// handleGit serves the git server-side commands. The path must be listed
// in the access rules, and a receive-pack (push) into a read-only
// repository is refused; upload-pack and upload-archive only read, so the
// read-only list allows them.
func (d *Dispatcher) handleGit(ctx context.Context, argv []string) types.ExitCode {
	repo, err := NormalizePath(argv[1])
	if err != nil {
		d.logger.Debug("git repository path does not normalize", "path", argv[1], "err", err)
		return d.rejectRepo(argv[1])
	}

	if !d.rules.Known(repo) {
		return d.rejectRepo(repo)
	}
	if d.rules.ReadOnlyRepo(repo) && argv[0] == "git-receive-pack" {
		return RejectPush(d.stderr, false)
	}

	return d.dispatch(ctx, []string{argv[0], repo})
}

// handleHg serves "hg -R <repo> serve --stdio". A read-only repository is
// still served, but with hooks installed that re-invoke this binary to
// refuse any incoming changegroup or pushkey, so pulls work and pushes are
// turned away inside the protocol.
func (d *Dispatcher) handleHg(ctx context.Context, argv []string) types.ExitCode {
	repo, err := NormalizePath(argv[2])
	if err != nil {
		d.logger.Debug("hg repository path does not normalize", "path", argv[2], "err", err)
		return d.rejectRepo(argv[2])
	}

	serve := []string{"hg", "-R", repo, "serve", "--stdio"}
	dispatchable := false
	if d.rules.ReadOnlyRepo(repo) {
		serve = append(serve, rejectPushHookArgs(d.selfPath)...)
		dispatchable = true
	}
	if d.rules.Writable(repo) {
		dispatchable = true
	}
	if !dispatchable {
		return d.rejectRepo(repo)
	}

	return d.dispatch(ctx, serve)
}

// rejectPushHookArgs builds the --config arguments that wire Mercurial's
// pre-push hooks to this binary's reject-push command.
func rejectPushHookArgs(selfPath string) []string {
	hook := quoteForShell(selfPath) + " reject-push"
	return []string{
		"--config", "hooks.prechangegroup.vcs-ssh=" + hook,
		"--config", "hooks.prepushkey.vcs-ssh=" + hook,
	}
}

// quoteForShell quotes s for the POSIX shell Mercurial hands hooks to.
func quoteForShell(s string) string {
	quoted, err := syntax.Quote(s, syntax.LangPOSIX)
	if err != nil {
		// Only unprintable garbage fails to quote; pass it through and
		// let the shell complain.
		return s
	}
	return quoted
}

// dispatch verifies the backend tool exists and runs it attached to the
// client's streams.
func (d *Dispatcher) dispatch(ctx context.Context, argv []string) types.ExitCode {
	if _, err := d.lookPath(argv[0]); err != nil {
		return d.rejectMissingTool(argv[0])
	}

	code, err := d.run(ctx, argv)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return d.rejectMissingTool(argv[0])
		}
		d.logger.Error("backend execution failed", "tool", argv[0], "err", err)
		fmt.Fprintf(d.stderr, "remote: could not run %q\n", argv[0])
		return ExitRejected
	}
	return code
}

// pipeRun executes argv as a child process inheriting this process's
// standard streams, which are the SSH channel when running as a forced
// command.
func pipeRun(ctx context.Context, argv []string) (types.ExitCode, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return types.ExitCode(exitErr.ExitCode()), nil
	}
	return ExitRejected, err
}

func defaultLookPath(name string) (string, error) {
	return exec.LookPath(name)
}
