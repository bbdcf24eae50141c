// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"context"
	"errors"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gossh "golang.org/x/crypto/ssh"

	"vcs-ssh/internal/testutil"
)

func TestStateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state State
		want  string
	}{
		{StateCreated, "created"},
		{StateStarting, "starting"},
		{StateRunning, "running"},
		{StateStopping, "stopping"},
		{StateStopped, "stopped"},
		{StateFailed, "failed"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int32(tt.state), got, tt.want)
		}
	}
}

func TestStopBeforeStart(t *testing.T) {
	t.Parallel()

	h, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := h.Stop(); err != nil {
		t.Errorf("Stop() error = %v for a never-started harness", err)
	}
	if h.State() != StateStopped {
		t.Errorf("State() = %v, want StateStopped", h.State())
	}
	if err := h.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}

	// The lifecycle is single-use; a stopped harness stays stopped.
	if err := h.Start(context.Background()); err == nil {
		t.Error("Start() succeeded on a stopped harness")
	}
}

func TestStoppedHarnessReportsNoAddress(t *testing.T) {
	t.Parallel()

	h, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := h.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if addr := h.Address(); addr != "" {
		t.Errorf("Address() = %q, want empty for a harness that never ran", addr)
	}
	if port := h.Port(); port != 0 {
		t.Errorf("Port() = %v, want 0 for a harness that never ran", port)
	}
}

func TestStartCancelledContext(t *testing.T) {
	t.Parallel()

	h, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.Start(ctx); err == nil {
		t.Fatal("Start() succeeded with a cancelled context")
	}
	if h.State() != StateFailed {
		t.Errorf("State() = %v, want StateFailed", h.State())
	}
	select {
	case err := <-h.Err():
		if err == nil {
			t.Error("Err() delivered nil")
		}
	default:
		t.Error("Err() has no failure queued")
	}
	if err := h.Wait(); err == nil {
		t.Error("Wait() error = nil, want the startup failure")
	}
}

func TestStartFailsWithoutPrerequisites(t *testing.T) {
	setFakeHome(t)
	langBefore, hadLang := os.LookupEnv("LANG")

	cfg := DefaultConfig()
	cfg.SSHDPath = filepath.Join(t.TempDir(), "no-such-sshd")
	h, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	startErr := h.Start(context.Background())
	if !errors.Is(startErr, ErrPrerequisite) {
		t.Fatalf("Start() error = %v, want ErrPrerequisite", startErr)
	}
	var prereqErr *PrerequisiteError
	if !errors.As(startErr, &prereqErr) {
		t.Fatalf("Start() error = %T, want *PrerequisiteError", startErr)
	}
	if len(prereqErr.Missing) == 0 {
		t.Error("PrerequisiteError.Missing is empty")
	}
	if !strings.Contains(startErr.Error(), "sshd") {
		t.Errorf("error = %v, want a mention of sshd", startErr)
	}
	if h.State() != StateFailed {
		t.Errorf("State() = %v, want StateFailed", h.State())
	}

	// The failed start must leave nothing behind: the temporary base
	// directory is gone and the locale pin is undone.
	if dir := h.BaseDir(); dir != "" {
		if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("base directory %s still exists after failed start", dir)
		}
	}
	langAfter, hasLang := os.LookupEnv("LANG")
	if hadLang != hasLang || langBefore != langAfter {
		t.Errorf("LANG = %q (set %v) after failed start, want %q (set %v)",
			langAfter, hasLang, langBefore, hadLang)
	}
}

// requirePrivsepDir skips when sshd's privilege separation directory is
// absent; sshd refuses to start without it.
func requirePrivsepDir(t *testing.T) {
	t.Helper()

	for _, dir := range []string{"/run/sshd", "/var/empty"} {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return
		}
	}
	t.Skip("no sshd privilege separation directory on this host")
}

func TestOpenSSHLifecycle(t *testing.T) {
	requirePrivsepDir(t)
	home := setFakeHome(t)
	configPath := filepath.Join(home, ".ssh", "config")
	knownHostsPath := filepath.Join(home, ".ssh", "known_hosts")
	seed := "# client config seed\n"
	testutil.MustWriteFile(t, configPath, seed, 0o600)

	cfg := DefaultConfig()
	cfg.UpdateSSHConfig = true
	cfg.Environment = map[string]string{"SSH_HARNESS_MARKER": "lifecycle"}
	h := StartTest(t, cfg)

	if !h.IsRunning() {
		t.Fatalf("State() = %v, want StateRunning", h.State())
	}
	if addr := h.Address(); !strings.HasPrefix(addr, "localhost:") {
		t.Errorf("Address() = %q, want localhost with a resolved port", addr)
	}
	if h.Port() == 0 {
		t.Error("Port() = 0, want a resolved port")
	}
	if _, err := os.Stat(h.paths.pidfile); err != nil {
		t.Errorf("pidfile: %v", err)
	}
	if got := testutil.MustReadFile(t, configPath); !strings.Contains(got, "Host ssh-harness\n") {
		t.Errorf("ssh config = %q, want an appended Host block", got)
	}
	if got := testutil.MustReadFile(t, knownHostsPath); got == "" {
		t.Error("known_hosts is empty, want scanned host keys")
	}

	me, err := user.Current()
	if err != nil {
		t.Fatalf("user.Current() error = %v", err)
	}
	keyData, err := os.ReadFile(h.IdentityFile())
	if err != nil {
		t.Fatalf("read identity file: %v", err)
	}
	signer, err := gossh.ParsePrivateKey(keyData)
	if err != nil {
		t.Fatalf("parse identity file: %v", err)
	}
	client, err := gossh.Dial("tcp", h.Address(), &gossh.ClientConfig{
		User:            me.Username,
		Auth:            []gossh.AuthMethod{gossh.PublicKeys(signer)},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(), //nolint:gosec // the key was generated moments ago
		Timeout:         10 * time.Second,
	})
	if err != nil {
		t.Fatalf("dial %s: %v", h.Address(), err)
	}
	defer client.Close() //nolint:errcheck // test client teardown

	t.Run("exec", func(t *testing.T) {
		session, err := client.NewSession()
		if err != nil {
			t.Fatalf("NewSession() error = %v", err)
		}
		defer session.Close() //nolint:errcheck // session already consumed

		out, err := session.Output("echo lifecycle-ok")
		if err != nil {
			t.Fatalf("Output() error = %v", err)
		}
		if string(out) != "lifecycle-ok\n" {
			t.Errorf("output = %q, want lifecycle-ok", out)
		}
	})

	t.Run("environment from key options", func(t *testing.T) {
		session, err := client.NewSession()
		if err != nil {
			t.Fatalf("NewSession() error = %v", err)
		}
		defer session.Close() //nolint:errcheck // session already consumed

		out, err := session.Output(`echo "$SSH_HARNESS_MARKER"`)
		if err != nil {
			t.Fatalf("Output() error = %v", err)
		}
		if string(out) != "lifecycle\n" {
			t.Errorf("output = %q, want the injected marker", out)
		}
	})

	t.Run("exit status", func(t *testing.T) {
		session, err := client.NewSession()
		if err != nil {
			t.Fatalf("NewSession() error = %v", err)
		}
		defer session.Close() //nolint:errcheck // session already consumed

		err = session.Run("exit 4")
		var exitErr *gossh.ExitError
		if !errors.As(err, &exitErr) {
			t.Fatalf("Run() error = %v, want *gossh.ExitError", err)
		}
		if exitErr.ExitStatus() != 4 {
			t.Errorf("exit status = %d, want 4", exitErr.ExitStatus())
		}
	})

	baseDir := h.BaseDir()
	if err := h.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if h.State() != StateStopped {
		t.Errorf("State() = %v, want StateStopped", h.State())
	}
	if got := testutil.MustReadFile(t, configPath); got != seed {
		t.Errorf("restored ssh config = %q, want the seed %q", got, seed)
	}
	if _, err := os.Stat(knownHostsPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("known_hosts still present after Stop: %v", err)
	}
	if _, err := os.Stat(baseDir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("base directory %s still present after Stop", baseDir)
	}
	if err := h.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}
