// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"vcs-ssh/internal/config"
	"vcs-ssh/internal/dispatch"
	"vcs-ssh/internal/issue"
	"vcs-ssh/internal/testutil"
	"vcs-ssh/pkg/types"
)

// stubConfigProvider returns a fixed configuration (or error) and records
// the options of the last Load call.
type stubConfigProvider struct {
	cfg      *config.Config
	err      error
	lastOpts config.LoadOptions
}

func (p *stubConfigProvider) Load(_ context.Context, opts config.LoadOptions) (*config.Config, error) {
	p.lastOpts = opts
	if p.err != nil {
		return nil, p.err
	}
	if p.cfg != nil {
		return p.cfg, nil
	}
	return config.DefaultConfig(), nil
}

// fakeDispatcher records the dispatched command and reports a canned exit
// code.
type fakeDispatcher struct {
	code     types.ExitCode
	original string
}

func (f *fakeDispatcher) Run(_ context.Context, original string) types.ExitCode {
	f.original = original
	return f.code
}

// captureDispatcher wires fake into an App and records the dispatch
// configuration it was built with.
func captureDispatcher(fake *fakeDispatcher, got *dispatch.Config) func(dispatch.Config) DispatchRunner {
	return func(cfg dispatch.Config) DispatchRunner {
		*got = cfg
		return fake
	}
}

// executeRoot runs the command tree the way main would, with cobra's own
// output discarded so only App writers capture anything.
func executeRoot(t *testing.T, app *App, args ...string) error {
	t.Helper()
	root := newRootCommand(app)
	root.SetArgs(args)
	root.SetIn(strings.NewReader(""))
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	return root.ExecuteContext(context.Background())
}

func TestRunRoot_RejectsUnknownCommand(t *testing.T) {
	// Not parallel: mutates SSH_ORIGINAL_COMMAND.
	restore := testutil.MustSetenv(t, "SSH_ORIGINAL_COMMAND", "rm -rf /")
	defer restore()

	var stderr bytes.Buffer
	app := NewApp(Dependencies{
		Config:          &stubConfigProvider{},
		Stdout:          io.Discard,
		Stderr:          &stderr,
		StdinIsTerminal: func() bool { return false },
	})

	err := executeRoot(t, app)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("executeRoot() = %v, want *ExitError", err)
	}
	if exitErr.Code != dispatch.ExitRejected {
		t.Errorf("exit code = %d, want %d", exitErr.Code, dispatch.ExitRejected)
	}
	if got := stderr.String(); !strings.Contains(got, `Illegal command "rm -rf /"`) {
		t.Errorf("stderr = %q, want refusal naming the command", got)
	}
}

func TestRunRoot_MissingCommandRejected(t *testing.T) {
	// Not parallel: mutates SSH_ORIGINAL_COMMAND.
	restore := testutil.MustUnsetenv(t, "SSH_ORIGINAL_COMMAND")
	defer restore()

	var stderr bytes.Buffer
	app := NewApp(Dependencies{
		Config:          &stubConfigProvider{},
		Stdout:          io.Discard,
		Stderr:          &stderr,
		StdinIsTerminal: func() bool { return false },
	})

	err := executeRoot(t, app)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("executeRoot() = %v, want *ExitError", err)
	}
	if exitErr.Code != dispatch.ExitRejected {
		t.Errorf("exit code = %d, want %d", exitErr.Code, dispatch.ExitRejected)
	}
	if got := stderr.String(); !strings.Contains(got, `Illegal command "?"`) {
		t.Errorf("stderr = %q, want placeholder refusal", got)
	}
}

func TestRunRoot_InteractiveGuidance(t *testing.T) {
	// Not parallel: mutates SSH_ORIGINAL_COMMAND.
	restore := testutil.MustUnsetenv(t, "SSH_ORIGINAL_COMMAND")
	defer restore()

	var stderr bytes.Buffer
	app := NewApp(Dependencies{
		Config:          &stubConfigProvider{},
		Stdout:          io.Discard,
		Stderr:          &stderr,
		StdinIsTerminal: func() bool { return true },
	})

	err := executeRoot(t, app)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("executeRoot() = %v, want *ExitError", err)
	}
	if exitErr.Code != dispatch.ExitRejected {
		t.Errorf("exit code = %d, want %d", exitErr.Code, dispatch.ExitRejected)
	}
	if got := stderr.String(); !strings.Contains(got, "SSH_ORIGINAL_COMMAND") {
		t.Errorf("stderr = %q, want the not-over-SSH walkthrough", got)
	}
	if got := stderr.String(); strings.Contains(got, "Illegal command") {
		t.Errorf("stderr = %q, want guidance instead of a bare refusal", got)
	}
}

func TestRunRoot_MergesConfigAndFlagRules(t *testing.T) {
	// Not parallel: mutates SSH_ORIGINAL_COMMAND.
	restore := testutil.MustSetenv(t, "SSH_ORIGINAL_COMMAND", "git-upload-pack /srv/cfg-rw")
	defer restore()

	cfg := config.DefaultConfig()
	cfg.ReadWrite = []config.RepoPath{"/srv/cfg-rw"}
	cfg.ReadOnly = []config.RepoPath{"/srv/cfg-ro"}

	fake := &fakeDispatcher{}
	var got dispatch.Config
	app := NewApp(Dependencies{
		Config:          &stubConfigProvider{cfg: cfg},
		Stdout:          io.Discard,
		Stderr:          io.Discard,
		StdinIsTerminal: func() bool { return false },
		NewDispatcher:   captureDispatcher(fake, &got),
	})

	err := executeRoot(t, app,
		"/srv/dir-rw", "--read-write", "/srv/flag-rw", "--read-only", "/srv/flag-ro")
	if err != nil {
		t.Fatalf("executeRoot() returned error: %v", err)
	}

	wantRW := []string{"/srv/cfg-rw", "/srv/dir-rw", "/srv/flag-rw"}
	if !slices.Equal(got.Rules.ReadWrite, wantRW) {
		t.Errorf("ReadWrite rules = %v, want %v", got.Rules.ReadWrite, wantRW)
	}
	wantRO := []string{"/srv/cfg-ro", "/srv/flag-ro"}
	if !slices.Equal(got.Rules.ReadOnly, wantRO) {
		t.Errorf("ReadOnly rules = %v, want %v", got.Rules.ReadOnly, wantRO)
	}
	if fake.original != "git-upload-pack /srv/cfg-rw" {
		t.Errorf("dispatched command = %q, want the env value", fake.original)
	}
}

func TestRunRoot_ConfigFailureFallsBackToFlags(t *testing.T) {
	// Not parallel: mutates SSH_ORIGINAL_COMMAND.
	restore := testutil.MustSetenv(t, "SSH_ORIGINAL_COMMAND", "git-upload-pack /srv/repos/a")
	defer restore()

	loadErr := issue.NewErrorContext().
		WithOperation("load config").
		WithSuggestion("Run 'vcs-ssh config init' to create one").
		BuildError()

	fake := &fakeDispatcher{}
	var got dispatch.Config
	var stderr bytes.Buffer
	app := NewApp(Dependencies{
		Config:          &stubConfigProvider{err: loadErr},
		Stdout:          io.Discard,
		Stderr:          &stderr,
		StdinIsTerminal: func() bool { return false },
		NewDispatcher:   captureDispatcher(fake, &got),
	})

	if err := executeRoot(t, app, "/srv/repos/a"); err != nil {
		t.Fatalf("executeRoot() returned error: %v", err)
	}

	if got := stderr.String(); !strings.Contains(got, "Warning:") ||
		!strings.Contains(got, "failed to load config") {
		t.Errorf("stderr = %q, want a config load warning", got)
	}
	if want := []string{"/srv/repos/a"}; !slices.Equal(got.Rules.ReadWrite, want) {
		t.Errorf("ReadWrite rules = %v, want flag-only %v", got.Rules.ReadWrite, want)
	}
}

func TestRunRoot_RelaysBackendExitCode(t *testing.T) {
	// Not parallel: mutates SSH_ORIGINAL_COMMAND.
	restore := testutil.MustSetenv(t, "SSH_ORIGINAL_COMMAND", "git-upload-pack /srv/repos/a")
	defer restore()

	fake := &fakeDispatcher{code: 7}
	var got dispatch.Config
	app := NewApp(Dependencies{
		Config:          &stubConfigProvider{},
		Stdout:          io.Discard,
		Stderr:          io.Discard,
		StdinIsTerminal: func() bool { return false },
		NewDispatcher:   captureDispatcher(fake, &got),
	})

	err := executeRoot(t, app, "/srv/repos/a")
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("executeRoot() = %v, want *ExitError", err)
	}
	if exitErr.Code != 7 {
		t.Errorf("exit code = %d, want the backend's 7", exitErr.Code)
	}
}

func TestPersistentFlagPlumbing(t *testing.T) {
	t.Parallel()

	root := newRootCommand(NewApp(Dependencies{
		Config:          &stubConfigProvider{},
		Stdout:          io.Discard,
		Stderr:          io.Discard,
		StdinIsTerminal: func() bool { return false },
	}))

	if err := root.ParseFlags([]string{"--config", "/tmp/custom.toml", "-v"}); err != nil {
		t.Fatalf("ParseFlags() returned error: %v", err)
	}
	if got := loadOptionsFrom(root).ConfigFilePath; got != "/tmp/custom.toml" {
		t.Errorf("ConfigFilePath = %q, want %q", got, "/tmp/custom.toml")
	}
	if !verboseFrom(root) {
		t.Error("verboseFrom() = false after -v, want true")
	}
}

func TestRunLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		level   config.LogLevel
		verbose bool
		want    log.Level
	}{
		{"debug", config.LogLevelDebug, false, log.DebugLevel},
		{"info", config.LogLevelInfo, false, log.InfoLevel},
		{"warn", config.LogLevelWarn, false, log.WarnLevel},
		{"error", config.LogLevelError, false, log.ErrorLevel},
		{"empty defaults to info", config.LogLevel(""), false, log.InfoLevel},
		{"verbose wins", config.LogLevelError, true, log.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := runLogLevel(tt.level, tt.verbose); got != tt.want {
				t.Errorf("runLogLevel(%q, %v) = %v, want %v", tt.level, tt.verbose, got, tt.want)
			}
		})
	}
}

func TestNewRunLogger(t *testing.T) {
	t.Run("file backed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "vcs-ssh.log")
		cfg := config.DefaultConfig()
		cfg.Log.File = config.LogFilePath(path)
		cfg.Log.Level = config.LogLevelDebug

		logger, closeLog := newRunLogger(cfg, false)
		logger.Debug("probe message", "backend", "git")
		closeLog()

		content := testutil.MustReadFile(t, path)
		if !strings.Contains(content, "probe message") {
			t.Errorf("log file = %q, want the probe message", content)
		}
		if !strings.Contains(content, "vcs-ssh") {
			t.Errorf("log file = %q, want the vcs-ssh prefix", content)
		}
	})

	t.Run("disabled without file", func(t *testing.T) {
		logger, closeLog := newRunLogger(config.DefaultConfig(), false)
		defer closeLog()
		logger.Info("dropped")
	})

	t.Run("unopenable path disables logging", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Log.File = config.LogFilePath(filepath.Join(t.TempDir(), "missing", "x.log"))

		logger, closeLog := newRunLogger(cfg, false)
		defer closeLog()
		logger.Info("dropped")
	})
}

func TestFormatErrorForDisplay(t *testing.T) {
	t.Parallel()

	plain := errors.New("plain failure")
	if got := formatErrorForDisplay(plain, false); got != "plain failure" {
		t.Errorf("formatErrorForDisplay(plain) = %q, want the bare message", got)
	}

	actionable := issue.NewErrorContext().
		WithOperation("load config").
		WithSuggestion("Run 'vcs-ssh config init' to create one").
		Wrap(errors.New("toml: line 3")).
		BuildError()

	got := formatErrorForDisplay(actionable, false)
	if !strings.Contains(got, "•") || !strings.Contains(got, "config init") {
		t.Errorf("formatErrorForDisplay(actionable) = %q, want suggestion bullets", got)
	}

	if got := formatErrorForDisplay(actionable, true); !strings.Contains(got, "Error chain:") {
		t.Errorf("formatErrorForDisplay(verbose) = %q, want the cause chain", got)
	}
}

func TestGetVersionString(t *testing.T) {
	// Not parallel: subtests mutate package-level Version/Commit/BuildDate vars.

	t.Run("ldflags version takes priority", func(t *testing.T) {
		origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
		t.Cleanup(func() {
			Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
		})

		Version = "v1.2.3"
		Commit = "abc1234"
		BuildDate = "2026-08-01T10:00:00Z"

		got := getVersionString()
		want := "v1.2.3 (commit: abc1234, built: 2026-08-01T10:00:00Z)"
		if got != want {
			t.Errorf("getVersionString() = %q, want %q", got, want)
		}
	})

	t.Run("dev build fallback", func(t *testing.T) {
		origVersion, origCommit, origBuildDate := Version, Commit, BuildDate
		t.Cleanup(func() {
			Version, Commit, BuildDate = origVersion, origCommit, origBuildDate
		})

		Version = "dev"
		Commit = "unknown"
		BuildDate = "unknown"

		got := getVersionString()
		want := "dev (built from source)"
		if got != want {
			t.Errorf("getVersionString() = %q, want %q", got, want)
		}
	})
}
