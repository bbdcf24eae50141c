// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"time"

	"vcs-ssh/pkg/backup"
	"vcs-ssh/pkg/types"
)

const (
	// AuthPublicKey authenticates clients against the generated user key.
	AuthPublicKey AuthMethod = iota
	// AuthPassword authenticates clients by password. The embedded backend
	// checks Config.Password; a real sshd defers to the system.
	AuthPassword
)

const (
	// BackendOpenSSH provisions and supervises a real sshd.
	BackendOpenSSH Backend = iota
	// BackendEmbedded runs an in-process SSH server instead, for hosts
	// without the OpenSSH toolchain.
	BackendEmbedded
)

type (
	// AuthMethod selects how the daemon authenticates clients.
	AuthMethod int

	// Backend selects the kind of SSH daemon the harness runs.
	Backend int

	// Config holds the immutable configuration of a Harness.
	// The zero value is usable; New fills in all defaults.
	Config struct {
		// BaseDir is where generated files (keys, daemon configuration,
		// pidfile, log) are placed. Empty means a fresh temporary
		// directory that is removed again on Stop.
		BaseDir string

		// Addr is the address the daemon binds to (default: localhost).
		Addr string

		// Port is the TCP port the daemon listens on (default: 0, which
		// picks a free port).
		Port types.ListenPort

		// AuthMethod toggles the PubkeyAuthentication and
		// PasswordAuthentication switches of the daemon.
		AuthMethod AuthMethod

		// Password is the secret the embedded backend accepts when
		// AuthMethod is AuthPassword. The OpenSSH backend ignores it.
		Password string

		// AuthorizedKeyOptions is prepended verbatim to the user key
		// line in authorized_keys.
		AuthorizedKeyOptions string

		// Environment is injected into every session: rendered as
		// environment="K=V" key options, or written to
		// ~/.ssh/environment when EnvironmentFile is set. A non-empty
		// map enables PermitUserEnvironment.
		Environment map[string]string

		// ForcedCommand pins every session to a single command through
		// a command="..." key option. The command the client asked for
		// is exposed as SSH_ORIGINAL_COMMAND.
		ForcedCommand string

		// EnvironmentFile routes Environment through ~/.ssh/environment
		// instead of authorized_keys options.
		EnvironmentFile bool

		// UpdateSSHConfig appends a Host block for the daemon to
		// ~/.ssh/config so clients can connect by alias.
		UpdateSSHConfig bool

		// HostAlias is the Host pattern of that block
		// (default: ssh-harness).
		HostAlias string

		// SSHDPath, KeygenPath and KeyscanPath override the PATH lookup
		// of the OpenSSH tools. sshd additionally falls back to the
		// sbin directories PATH usually misses.
		SSHDPath    string
		KeygenPath  string
		KeyscanPath string

		// Backend selects a real sshd (default) or the in-process
		// server.
		Backend Backend

		// StartupTimeout bounds the whole of Start, provisioning
		// included (default: 30s).
		StartupTimeout time.Duration

		// ShutdownTimeout bounds daemon termination during Stop
		// (default: 5s).
		ShutdownTimeout time.Duration

		// Backups records every dotfile edit so Stop can restore the
		// previous state (default: a registry private to the harness).
		Backups *backup.Registry
	}
)

// String returns a human-readable representation of the auth method.
func (m AuthMethod) String() string {
	switch m {
	case AuthPublicKey:
		return "publickey"
	case AuthPassword:
		return "password"
	default:
		return "unknown"
	}
}

// Validate returns an error if m is not a known auth method.
func (m AuthMethod) Validate() error {
	switch m {
	case AuthPublicKey, AuthPassword:
		return nil
	default:
		return &InvalidAuthMethodError{Value: m}
	}
}

// String returns a human-readable representation of the backend.
func (b Backend) String() string {
	switch b {
	case BackendOpenSSH:
		return "openssh"
	case BackendEmbedded:
		return "embedded"
	default:
		return "unknown"
	}
}

// Validate returns an error if b is not a known backend.
func (b Backend) Validate() error {
	switch b {
	case BackendOpenSSH, BackendEmbedded:
		return nil
	default:
		return &InvalidBackendError{Value: b}
	}
}

// DefaultConfig returns a configuration suitable for most test suites:
// a temporary base directory, a free port on localhost, public key
// authentication and a real sshd.
func DefaultConfig() Config {
	return Config{
		Addr:            "localhost",
		AuthMethod:      AuthPublicKey,
		Backend:         BackendOpenSSH,
		HostAlias:       "ssh-harness",
		StartupTimeout:  30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}
