// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net"
	"os"
	"os/exec"
	"slices"

	"github.com/charmbracelet/keygen"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	gossh "golang.org/x/crypto/ssh"
)

// embeddedServer is the in-process stand-in for sshd, for hosts without
// the OpenSSH toolchain. Key material is generated in-process too, so not
// even ssh-keygen is needed.
type embeddedServer struct {
	srv           *ssh.Server
	listener      net.Listener
	hostPublicKey gossh.PublicKey
	userPublicKey gossh.PublicKey
}

// startEmbedded generates the key material and brings up a wish server
// that behaves like the provisioned sshd would: same auth method, forced
// command and environment injection.
func (h *Harness) startEmbedded(ctx context.Context) error {
	hostKey, err := keygen.New(h.paths.hostEd25519Key, keygen.WithKeyType(keygen.Ed25519), keygen.WithWrite())
	if err != nil {
		return fmt.Errorf("generate host key: %w", err)
	}
	h.trackGenerated(h.paths.hostEd25519Key, h.paths.hostEd25519Key+".pub")

	userKey, err := keygen.New(h.paths.userKey, keygen.WithKeyType(keygen.Ed25519), keygen.WithWrite())
	if err != nil {
		return fmt.Errorf("generate user key: %w", err)
	}
	h.trackGenerated(h.paths.userKey, h.paths.userKey+".pub")

	emb := &embeddedServer{
		hostPublicKey: hostKey.PublicKey(),
		userPublicKey: userKey.PublicKey(),
	}

	addr := net.JoinHostPort(h.cfg.Addr, h.cfg.Port.String())
	srv, err := wish.NewServer(
		wish.WithAddress(addr),
		wish.WithHostKeyPath(h.paths.hostEd25519Key),
		wish.WithPublicKeyAuth(emb.publicKeyAuth(h)),
		wish.WithPasswordAuth(emb.passwordAuth(h)),
		wish.WithMiddleware(h.sessionMiddleware()),
	)
	if err != nil {
		return fmt.Errorf("create embedded ssh server: %w", err)
	}
	emb.srv = srv

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp4", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	emb.listener = listener
	h.setAddr(listener.Addr().(*net.TCPAddr).Port)

	h.stateMu.Lock()
	h.embedded = emb
	h.stateMu.Unlock()

	h.wg.Add(1)
	go h.serveEmbedded(emb)

	return nil
}

// serveEmbedded runs the embedded server and reports unexpected failures.
func (h *Harness) serveEmbedded(emb *embeddedServer) {
	defer h.wg.Done()

	err := emb.srv.Serve(emb.listener)
	if err == nil || errors.Is(err, ssh.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
		return
	}
	select {
	case h.errCh <- fmt.Errorf("embedded ssh server: %w", err):
	default:
		h.logger.Error("embedded ssh server error (channel full)", "error", err)
	}
}

// stopEmbedded shuts the embedded server down. Callers hold stateMu.
func (h *Harness) stopEmbedded() error {
	if h.embedded == nil {
		return nil
	}
	emb := h.embedded
	h.embedded = nil

	shutdownCtx, cancel := context.WithTimeout(context.Background(), h.cfg.ShutdownTimeout)
	defer cancel()

	err := emb.srv.Shutdown(shutdownCtx)
	_ = emb.listener.Close() // Usually closed by Shutdown already
	if err != nil && !errors.Is(err, ssh.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("shut down embedded ssh server: %w", err)
	}
	return nil
}

// publicKeyAuth returns a handler accepting exactly the generated user key
// when public key auth is selected.
func (e *embeddedServer) publicKeyAuth(h *Harness) ssh.PublicKeyHandler {
	return func(ctx ssh.Context, key ssh.PublicKey) bool {
		if h.cfg.AuthMethod != AuthPublicKey {
			return false
		}
		if !ssh.KeysEqual(key, e.userPublicKey) {
			h.logger.Warn("rejected public key", "user", ctx.User())
			return false
		}
		return true
	}
}

// passwordAuth returns a handler checking the configured password when
// password auth is selected.
func (e *embeddedServer) passwordAuth(h *Harness) ssh.PasswordHandler {
	return func(ctx ssh.Context, password string) bool {
		if h.cfg.AuthMethod != AuthPassword || h.cfg.Password == "" {
			return false
		}
		if password != h.cfg.Password {
			h.logger.Warn("rejected password", "user", ctx.User())
			return false
		}
		return true
	}
}

// sessionMiddleware dispatches sessions the way sshd would: exec requests
// run the requested command (or the forced one), shell requests get a
// shell, PTY-backed when the client asked for one.
func (h *Harness) sessionMiddleware() wish.Middleware {
	return func(next ssh.Handler) ssh.Handler {
		return func(sess ssh.Session) {
			if len(sess.Command()) == 0 {
				h.runShellSession(sess)
				return
			}
			h.runExecSession(sess)
		}
	}
}

// sessionEnv builds the environment of a session process: the harness
// process environment, whatever the client sent, then the configured
// injections.
func (h *Harness) sessionEnv(sess ssh.Session) []string {
	env := append(os.Environ(), sess.Environ()...)
	for _, k := range slices.Sorted(maps.Keys(h.cfg.Environment)) {
		env = append(env, k+"="+h.cfg.Environment[k])
	}
	return env
}

// runExecSession handles a session that requested a command.
func (h *Harness) runExecSession(sess ssh.Session) {
	command := sess.RawCommand()
	env := h.sessionEnv(sess)
	if h.cfg.ForcedCommand != "" {
		env = append(env, "SSH_ORIGINAL_COMMAND="+command)
		command = h.cfg.ForcedCommand
	}

	// Like sshd: hand the string to a shell instead of exec'ing it.
	cmd := exec.CommandContext(sess.Context(), "sh", "-c", command)
	cmd.Env = env
	cmd.Stdin = sess
	cmd.Stdout = sess
	cmd.Stderr = sess.Stderr()

	h.finishSession(sess, cmd.Run())
}

// runShellSession handles a session with no command: a shell, or the
// forced command when one is configured.
func (h *Harness) runShellSession(sess ssh.Session) {
	var cmd *exec.Cmd
	if h.cfg.ForcedCommand != "" {
		cmd = exec.CommandContext(sess.Context(), "sh", "-c", h.cfg.ForcedCommand)
	} else {
		cmd = exec.CommandContext(sess.Context(), "sh")
	}
	cmd.Env = h.sessionEnv(sess)

	ptyReq, winCh, isPty := sess.Pty()
	if !isPty {
		cmd.Stdin = sess
		cmd.Stdout = sess
		cmd.Stderr = sess.Stderr()
		h.finishSession(sess, cmd.Run())
		return
	}

	cmd.Env = append(cmd.Env, "TERM="+ptyReq.Term)
	f, err := startPty(cmd)
	if err != nil {
		_, _ = fmt.Fprintf(sess.Stderr(), "start shell: %v\n", err)
		_ = sess.Exit(1) //nolint:errcheck // terminal operation; error non-critical
		return
	}
	defer func() { _ = f.Close() }() // PTY cleanup; error non-critical

	// Relay window size changes
	go func() {
		for win := range winCh {
			setWinsize(f, win.Width, win.Height)
		}
	}()

	// Copy I/O
	go func() {
		_, _ = copyBuffer(f, sess) //nolint:errcheck // session I/O; errors end the copy
	}()
	_, _ = copyBuffer(sess, f) //nolint:errcheck // session I/O; errors end the copy

	h.finishSession(sess, cmd.Wait())
}

// finishSession relays the process exit status to the client.
func (h *Harness) finishSession(sess ssh.Session, err error) {
	if err == nil {
		_ = sess.Exit(0) //nolint:errcheck // terminal operation; error non-critical
		return
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		_ = sess.Exit(exitErr.ExitCode()) //nolint:errcheck // terminal operation; error non-critical
		return
	}
	_, _ = fmt.Fprintf(sess.Stderr(), "run command: %v\n", err)
	_ = sess.Exit(1) //nolint:errcheck // terminal operation; error non-critical
}
