// SPDX-License-Identifier: MPL-2.0

// Package harness provisions disposable SSH daemons for exercising
// SSH-driven tools against a real server.
//
// A Harness generates throwaway host and user keys, renders a daemon
// configuration, starts the daemon (a real sshd, or an in-process server on
// hosts without one) and patches the calling user's ~/.ssh dotfiles so
// clients can connect without prompting. Stop undoes all of it: the daemon
// is terminated, generated files are removed and every patched dotfile is
// restored to its previous state through a backup.Registry.
package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"vcs-ssh/pkg/backup"
	"vcs-ssh/pkg/types"
)

// backupContext is the backup.Registry context name under which all dotfile
// edits of a harness are recorded.
const backupContext = "ssh-harness"

const (
	// StateCreated indicates the harness has been created but not started.
	StateCreated State = iota
	// StateStarting indicates the harness is provisioning and starting the daemon.
	StateStarting
	// StateRunning indicates the daemon is up and reachable.
	StateRunning
	// StateStopping indicates the harness is tearing down.
	StateStopping
	// StateStopped indicates the harness has stopped (terminal state).
	StateStopped
	// StateFailed indicates the harness failed to start (terminal state).
	StateFailed
)

type (
	// State represents the lifecycle state of a Harness.
	State int32

	// Harness provisions and supervises one disposable SSH daemon.
	// A Harness instance is single-use: once stopped or failed, create a
	// new instance.
	Harness struct {
		// Immutable configuration (set at creation, never modified)
		cfg Config

		// State management (atomic for lock-free reads)
		state atomic.Int32

		// Initialized during Start() - protected by stateMu for writes
		stateMu sync.Mutex
		baseDir string
		paths   basePaths
		port    int
		addr    string // Actual daemon address (host:port, resolved port)

		// Resolved OpenSSH tool locations
		sshdPath    string
		keygenPath  string
		keyscanPath string

		// Patched dotfile locations under the user's ~/.ssh
		knownHostsPath     string
		sshConfigPath      string
		sshEnvironmentPath string

		// Teardown bookkeeping
		generated    []string // files to delete again, pidfile excluded
		restoreModes []modeChange
		ownsBaseDir  bool
		oldLang      string
		hadLang      bool
		langPinned   bool

		// Backends (at most one is non-nil after setup)
		daemon   *opensshDaemon
		embedded *embeddedServer

		// Lifecycle management
		ctx       context.Context
		cancel    context.CancelFunc
		wg        sync.WaitGroup
		startedCh chan struct{} // Closed when the daemon is ready for clients
		errCh     chan error    // Receives fatal errors from background goroutines
		lastErr   error         // Stores the last error for State() == StateFailed

		// Logger
		logger  *log.Logger
		logFile *os.File
	}
)

// String returns a human-readable representation of the harness state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// New creates a new harness from cfg.
// Nothing is provisioned yet; call Start() to bring the daemon up.
func New(cfg Config) (*Harness, error) {
	if err := cfg.AuthMethod.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Backend.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Port.Validate(); err != nil {
		return nil, err
	}
	if cfg.Backend == BackendEmbedded && cfg.AuthMethod == AuthPassword && cfg.Password == "" {
		return nil, fmt.Errorf("harness: password auth on the embedded backend requires Config.Password")
	}

	// Apply defaults
	if cfg.Addr == "" {
		cfg.Addr = "localhost"
	}
	if cfg.HostAlias == "" {
		cfg.HostAlias = "ssh-harness"
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = DefaultConfig().StartupTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	if cfg.Backups == nil {
		cfg.Backups = backup.NewRegistry()
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "ssh-harness",
	})
	if _, ok := os.LookupEnv("SSH_HARNESS_DEBUG"); ok {
		logger.SetLevel(log.DebugLevel)
	}

	h := &Harness{
		cfg:       cfg,
		startedCh: make(chan struct{}),
		errCh:     make(chan error, 1), // Buffered so goroutines don't block
		logger:    logger,
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.state.Store(int32(StateCreated))

	return h, nil
}

// Start provisions everything and blocks until either:
//   - The daemon is ready for client connections (returns nil)
//   - A prerequisite is missing or provisioning fails (returns error)
//   - The context is cancelled or the startup timeout is exceeded
//
// On failure, whatever was already provisioned is torn down again.
func (h *Harness) Start(ctx context.Context) error {
	// Check for an already-cancelled context BEFORE touching the host.
	select {
	case <-ctx.Done():
		h.transitionToFailed(fmt.Errorf("context cancelled before start: %w", ctx.Err()))
		return h.lastErr
	default:
	}

	// Transition: Created -> Starting
	if !h.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("cannot start harness in state %s", State(h.state.Load()))
	}

	startupCtx, startupCancel := context.WithTimeout(ctx, h.cfg.StartupTimeout)
	defer startupCancel()

	if err := h.setup(startupCtx); err != nil {
		if tdErr := h.teardown(); tdErr != nil {
			h.logger.Error("cleanup after failed start", "error", tdErr)
		}
		h.transitionToFailed(err)
		return h.lastErr
	}

	// Transition: Starting -> Running (signals readiness)
	if !h.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		// A concurrent Stop won the race. Its teardown may have run while
		// setup was still provisioning, so unwind whatever is left.
		if tdErr := h.teardown(); tdErr != nil {
			h.logger.Error("cleanup after aborted start", "error", tdErr)
		}
		return fmt.Errorf("harness stopped during startup (state %s)", State(h.state.Load()))
	}
	close(h.startedCh)

	h.stateMu.Lock()
	addr := h.addr
	h.stateMu.Unlock()
	h.logger.Info("ssh harness ready", "address", addr, "backend", h.cfg.Backend)
	return nil
}

// setup runs the provisioning sequence. Progress is recorded on the harness
// as it happens, so teardown can undo a partial run.
func (h *Harness) setup(ctx context.Context) error {
	if err := h.resolveBaseDir(); err != nil {
		return err
	}
	if err := h.openLog(); err != nil {
		return err
	}
	if err := h.pinLang(); err != nil {
		return err
	}
	if err := h.checkPreconditions(); err != nil {
		return err
	}
	if err := h.protectBaseDir(); err != nil {
		return err
	}

	switch h.cfg.Backend {
	case BackendEmbedded:
		if err := h.startEmbedded(ctx); err != nil {
			return err
		}
	default:
		if err := h.pickPort(ctx); err != nil {
			return err
		}
		if err := h.generateKeys(ctx); err != nil {
			return err
		}
		if err := h.writeAuthorizedKeys(); err != nil {
			return err
		}
		if err := h.writeSSHDConfig(); err != nil {
			return err
		}
		if err := h.startDaemon(ctx); err != nil {
			return err
		}
	}

	if err := h.writeEnvironmentFile(); err != nil {
		return err
	}
	if err := h.updateSSHConfig(); err != nil {
		return err
	}
	return h.updateKnownHosts(ctx)
}

// Stop tears the harness down: the daemon is terminated, generated files
// are removed and patched dotfiles are restored.
// Safe to call multiple times; subsequent calls are no-ops.
func (h *Harness) Stop() error {
	for {
		current := State(h.state.Load())
		switch current {
		case StateStopped, StateFailed:
			return nil // Already torn down
		case StateCreated:
			if h.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
				h.cancel()
				return nil // Never started, nothing to undo
			}
			continue // State changed, retry
		case StateStopping:
			// Wait for the ongoing stop to complete
			h.wg.Wait()
			return nil
		case StateStarting, StateRunning:
			if !h.state.CompareAndSwap(int32(current), int32(StateStopping)) {
				continue // State changed, retry
			}
			return h.doStop()
		default:
			return fmt.Errorf("unknown harness state: %d", current)
		}
	}
}

// doStop performs the actual teardown logic.
func (h *Harness) doStop() error {
	h.cancel()

	err := h.teardown()

	// Wait for the daemon waiter / serve goroutines to exit
	h.wg.Wait()

	h.state.Store(int32(StateStopped))
	h.logger.Info("ssh harness stopped")

	// Close error channel to signal consumers
	close(h.errCh)

	return err
}

// teardown undoes whatever setup managed to provision, in reverse order of
// importance: daemon first, generated files, dotfiles, directory modes,
// locale. Every step tolerates not having run; both the failure path of
// Start and doStop come through here.
func (h *Harness) teardown() error {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	var errs []error

	if err := h.stopDaemon(); err != nil {
		errs = append(errs, err)
	}
	if err := h.stopEmbedded(); err != nil {
		errs = append(errs, err)
	}

	// The pidfile is never in this list: the daemon removes it itself on
	// exit, and deleting it underneath a live daemon would be a lie.
	for _, path := range h.generated {
		if err := removeIfExists(path); err != nil {
			errs = append(errs, err)
		}
	}
	h.generated = nil

	if err := h.cfg.Backups.ClearContext(backupContext); err != nil {
		errs = append(errs, fmt.Errorf("restore dotfiles: %w", err))
	}

	for _, m := range h.restoreModes {
		if err := os.Chmod(m.path, m.mode); err != nil {
			errs = append(errs, fmt.Errorf("restore mode of %s: %w", m.path, err))
		}
	}
	h.restoreModes = nil

	h.restoreLang()

	if h.logFile != nil {
		h.logger.Info("ssh harness torn down")
		h.logger.SetOutput(os.Stderr)
		if err := h.logFile.Close(); err != nil {
			errs = append(errs, err)
		}
		h.logFile = nil
	}

	if h.ownsBaseDir {
		if err := os.RemoveAll(h.baseDir); err != nil {
			errs = append(errs, err)
		}
		h.ownsBaseDir = false
	}

	return errors.Join(errs...)
}

// transitionToFailed sets the harness state to Failed and stores the error.
func (h *Harness) transitionToFailed(err error) {
	h.lastErr = err
	h.state.Store(int32(StateFailed))
	h.cancel()
	// Send error to channel for Err() consumers (non-blocking)
	select {
	case h.errCh <- err:
	default:
	}
}

// Err returns a channel that receives fatal harness errors, such as the
// daemon dying underneath the tests. The channel is closed when the
// harness stops.
func (h *Harness) Err() <-chan error {
	return h.errCh
}

// State returns the current harness state.
func (h *Harness) State() State {
	return State(h.state.Load())
}

// IsRunning returns whether the daemon is currently up and reachable.
func (h *Harness) IsRunning() bool {
	return h.State() == StateRunning
}

// Address returns the daemon's address (host:port with the resolved port).
// Blocks until the harness has started or failed.
// Returns empty string if the harness never started or failed.
func (h *Harness) Address() string {
	select {
	case <-h.startedCh:
		h.stateMu.Lock()
		defer h.stateMu.Unlock()
		return h.addr
	case <-h.ctx.Done():
		return ""
	}
}

// Port returns the port the daemon listens on.
// Blocks until the harness has started or failed.
// Returns 0 if the harness never started or failed.
func (h *Harness) Port() types.ListenPort {
	select {
	case <-h.startedCh:
		h.stateMu.Lock()
		defer h.stateMu.Unlock()
		return types.ListenPort(h.port)
	case <-h.ctx.Done():
		return 0
	}
}

// Host returns the configured bind address.
func (h *Harness) Host() string {
	return h.cfg.Addr
}

// BaseDir returns the directory holding the generated files.
// Empty until Start has resolved it when Config.BaseDir was unset.
func (h *Harness) BaseDir() string {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.baseDir
}

// IdentityFile returns the path of the generated user private key, which
// clients authenticate with. Empty until Start has provisioned it.
func (h *Harness) IdentityFile() string {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.paths.userKey
}

// Wait blocks until the harness stops (gracefully or due to error).
// Returns the error if the harness failed, nil otherwise.
func (h *Harness) Wait() error {
	h.wg.Wait()

	if h.State() == StateFailed {
		return h.lastErr
	}
	return nil
}

// pinLang forces LANG=C for the harness lifetime so the output of the
// OpenSSH tools stays parseable regardless of the host locale.
func (h *Harness) pinLang() error {
	old, had := os.LookupEnv("LANG")
	if err := os.Setenv("LANG", "C"); err != nil {
		return fmt.Errorf("pin LANG: %w", err)
	}
	h.oldLang, h.hadLang, h.langPinned = old, had, true
	return nil
}

// restoreLang restores the LANG variable pinned by pinLang.
func (h *Harness) restoreLang() {
	if !h.langPinned {
		return
	}
	// Teardown step; Setenv errors are non-actionable here.
	if h.hadLang {
		_ = os.Setenv("LANG", h.oldLang)
	} else {
		_ = os.Unsetenv("LANG")
	}
	h.langPinned = false
}

// openLog redirects the harness logger into ssh-harness.log under the base
// directory, keeping one rolled-over generation from a previous run.
func (h *Harness) openLog() error {
	path := h.paths.logFile
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".1"); err != nil {
			return fmt.Errorf("roll over %s: %w", path, err)
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open harness log: %w", err)
	}
	h.logFile = f
	h.logger.SetOutput(f)
	return nil
}
