// SPDX-License-Identifier: MPL-2.0

// Package dispatch routes the command an SSH client asked for to the
// matching version-control backend, enforcing per-repository access rules
// on the way.
//
// The dispatcher is the forced command behind restricted SSH keys: sshd
// runs it with the client's request in SSH_ORIGINAL_COMMAND, and it either
// refuses the request or hands stdin/stdout over to the real server-side
// tool (git-upload-pack, hg serve, bzr serve, svnserve). Recognition is
// deliberately exact; anything that is not one of the known serve commands
// is refused rather than interpreted.
package dispatch

import (
	"context"
	"io"
	"os"
	"slices"

	"github.com/anmitsu/go-shlex"
	"github.com/charmbracelet/log"

	"vcs-ssh/pkg/types"
)

const (
	// ExitRejected is the exit code for a refused command or repository.
	ExitRejected types.ExitCode = 255
	// ExitMissingTool is the exit code when the server-side tool a request
	// needs is not installed.
	ExitMissingTool types.ExitCode = 254
)

// svnServeCommand is matched against the raw client command, not its split
// form: Subversion clients send exactly this string.
const svnServeCommand = "svnserve -t"

// bzrServeArgv is the only Bazaar invocation the dispatcher accepts.
var bzrServeArgv = []string{"bzr", "serve", "--inet", "--directory=/", "--allow-writes"}

type (
	// RunFunc executes a backend tool with stdin/stdout/stderr attached to
	// the SSH channel and reports its exit code. Splitting this out keeps
	// the routing logic testable without spawning real servers.
	RunFunc func(ctx context.Context, argv []string) (types.ExitCode, error)

	// LookPathFunc resolves a tool name on PATH.
	LookPathFunc func(name string) (string, error)

	// Config carries the dispatcher's collaborators. Zero fields are
	// filled with production defaults by New.
	Config struct {
		// Rules are the repository access lists to enforce.
		Rules Rules
		// Stderr receives client-visible refusals and warnings. The SSH
		// transport relays it to the requesting user. Defaults to
		// os.Stderr.
		Stderr io.Writer
		// Logger receives operational logging. Defaults to a discarding
		// logger; refusals still reach the client via Stderr.
		Logger *log.Logger
		// Run executes the selected backend. Defaults to spawning the
		// tool as a child process inheriting this process's streams.
		Run RunFunc
		// LookPath checks tool availability. Defaults to exec.LookPath.
		LookPath LookPathFunc
		// SelfPath is the executable Mercurial hooks re-invoke to refuse
		// pushes to read-only repositories. Defaults to the running
		// binary.
		SelfPath string
	}

	// Dispatcher routes client commands to backends.
	Dispatcher struct {
		rules    Rules
		stderr   io.Writer
		logger   *log.Logger
		run      RunFunc
		lookPath LookPathFunc
		selfPath string
	}
)

// New builds a Dispatcher from cfg, substituting defaults for unset fields.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		rules:    cfg.Rules,
		stderr:   cfg.Stderr,
		logger:   cfg.Logger,
		run:      cfg.Run,
		lookPath: cfg.LookPath,
		selfPath: cfg.SelfPath,
	}
	if d.stderr == nil {
		d.stderr = os.Stderr
	}
	if d.logger == nil {
		d.logger = log.New(io.Discard)
	}
	if d.run == nil {
		d.run = pipeRun
	}
	if d.lookPath == nil {
		d.lookPath = defaultLookPath
	}
	if d.selfPath == "" {
		if exe, err := os.Executable(); err == nil {
			d.selfPath = exe
		} else {
			// PATH lookup by the hook's shell is the remaining fallback.
			d.selfPath = "vcs-ssh"
		}
	}
	return d
}

// Run routes the raw client command to a backend and returns the exit code
// to report over SSH. It never returns an error: every failure is expressed
// as a client-visible refusal plus a non-zero exit code.
func (d *Dispatcher) Run(ctx context.Context, original string) types.ExitCode {
	d.logger.Info("dispatching client command", "command", original)

	argv, err := shlex.Split(original, true)
	if err != nil {
		d.logger.Debug("client command does not parse", "err", err)
		return d.rejectCommand(original, err.Error())
	}

	var code types.ExitCode
	switch {
	case isHgServe(argv):
		d.logger.Debug("selected handler", "backend", "mercurial")
		code = d.handleHg(ctx, argv)
	case isGitCommand(argv):
		d.logger.Debug("selected handler", "backend", "git")
		code = d.handleGit(ctx, argv)
	case slices.Equal(argv, bzrServeArgv):
		d.logger.Debug("selected handler", "backend", "bazaar")
		d.warnNoAccessControl("Bazaar")
		code = d.dispatch(ctx, argv)
	case original == svnServeCommand:
		d.logger.Debug("selected handler", "backend", "subversion")
		d.warnNoAccessControl("Subversion")
		code = d.dispatch(ctx, argv)
	default:
		d.logger.Error("no handler matches client command")
		code = d.rejectCommand(original, "")
	}

	d.logger.Info("dispatch finished", "code", int(code))
	return code
}

// isHgServe matches "hg -R <repo> serve --stdio" and nothing else.
func isHgServe(argv []string) bool {
	return len(argv) == 5 &&
		argv[0] == "hg" && argv[1] == "-R" &&
		argv[3] == "serve" && argv[4] == "--stdio"
}

// isGitCommand matches the server-side commands git runs over SSH, each
// taking exactly one repository argument: git-upload-pack (fetch),
// git-receive-pack (push), git-upload-archive (remote archive).
func isGitCommand(argv []string) bool {
	if len(argv) != 2 {
		return false
	}
	switch argv[0] {
	case "git-receive-pack", "git-upload-pack", "git-upload-archive":
		return true
	}
	return false
}
