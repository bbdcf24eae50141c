// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"errors"
	"testing"
	"time"

	"vcs-ssh/pkg/types"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	if cfg.Addr != "localhost" {
		t.Errorf("Addr = %q, want localhost", cfg.Addr)
	}
	if cfg.Port != 0 {
		t.Errorf("Port = %v, want 0 (free port)", cfg.Port)
	}
	if cfg.AuthMethod != AuthPublicKey {
		t.Errorf("AuthMethod = %v, want AuthPublicKey", cfg.AuthMethod)
	}
	if cfg.Backend != BackendOpenSSH {
		t.Errorf("Backend = %v, want BackendOpenSSH", cfg.Backend)
	}
	if cfg.HostAlias != "ssh-harness" {
		t.Errorf("HostAlias = %q, want ssh-harness", cfg.HostAlias)
	}
	if cfg.StartupTimeout != 30*time.Second {
		t.Errorf("StartupTimeout = %v, want 30s", cfg.StartupTimeout)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 5s", cfg.ShutdownTimeout)
	}
}

func TestAuthMethodString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		method AuthMethod
		want   string
	}{
		{AuthPublicKey, "publickey"},
		{AuthPassword, "password"},
		{AuthMethod(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.method.String(); got != tt.want {
			t.Errorf("AuthMethod(%d).String() = %q, want %q", int(tt.method), got, tt.want)
		}
	}
}

func TestBackendString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		backend Backend
		want    string
	}{
		{BackendOpenSSH, "openssh"},
		{BackendEmbedded, "embedded"},
		{Backend(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.backend.String(); got != tt.want {
			t.Errorf("Backend(%d).String() = %q, want %q", int(tt.backend), got, tt.want)
		}
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	t.Run("auth method", func(t *testing.T) {
		t.Parallel()

		_, err := New(Config{AuthMethod: AuthMethod(42)})
		if !errors.Is(err, ErrInvalidAuthMethod) {
			t.Fatalf("New() error = %v, want ErrInvalidAuthMethod", err)
		}
		var methodErr *InvalidAuthMethodError
		if !errors.As(err, &methodErr) {
			t.Fatalf("New() error = %T, want *InvalidAuthMethodError", err)
		}
		if methodErr.Value != AuthMethod(42) {
			t.Errorf("InvalidAuthMethodError.Value = %v, want 42", methodErr.Value)
		}
	})

	t.Run("backend", func(t *testing.T) {
		t.Parallel()

		_, err := New(Config{Backend: Backend(-1)})
		if !errors.Is(err, ErrInvalidBackend) {
			t.Fatalf("New() error = %v, want ErrInvalidBackend", err)
		}
		var backendErr *InvalidBackendError
		if !errors.As(err, &backendErr) {
			t.Fatalf("New() error = %T, want *InvalidBackendError", err)
		}
		if backendErr.Value != Backend(-1) {
			t.Errorf("InvalidBackendError.Value = %v, want -1", backendErr.Value)
		}
	})

	t.Run("port", func(t *testing.T) {
		t.Parallel()

		_, err := New(Config{Port: types.ListenPort(-22)})
		if !errors.Is(err, types.ErrInvalidListenPort) {
			t.Fatalf("New() error = %v, want ErrInvalidListenPort", err)
		}
	})

	t.Run("embedded password auth without password", func(t *testing.T) {
		t.Parallel()

		_, err := New(Config{Backend: BackendEmbedded, AuthMethod: AuthPassword})
		if err == nil {
			t.Fatal("New() succeeded, want error for missing Config.Password")
		}
	})
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	h, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if h.cfg.Addr != "localhost" {
		t.Errorf("Addr = %q, want localhost", h.cfg.Addr)
	}
	if h.cfg.HostAlias != "ssh-harness" {
		t.Errorf("HostAlias = %q, want ssh-harness", h.cfg.HostAlias)
	}
	if h.cfg.StartupTimeout != 30*time.Second {
		t.Errorf("StartupTimeout = %v, want 30s", h.cfg.StartupTimeout)
	}
	if h.cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 5s", h.cfg.ShutdownTimeout)
	}
	if h.cfg.Backups == nil {
		t.Error("Backups registry not defaulted")
	}
	if h.State() != StateCreated {
		t.Errorf("State() = %v, want StateCreated", h.State())
	}
}

func TestNewKeepsExplicitSettings(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Addr:            "127.0.0.1",
		HostAlias:       "buildbox",
		StartupTimeout:  time.Minute,
		ShutdownTimeout: time.Second,
	}
	h, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if h.cfg.Addr != "127.0.0.1" {
		t.Errorf("Addr = %q, want 127.0.0.1", h.cfg.Addr)
	}
	if h.cfg.HostAlias != "buildbox" {
		t.Errorf("HostAlias = %q, want buildbox", h.cfg.HostAlias)
	}
	if h.cfg.StartupTimeout != time.Minute {
		t.Errorf("StartupTimeout = %v, want 1m", h.cfg.StartupTimeout)
	}
	if h.cfg.ShutdownTimeout != time.Second {
		t.Errorf("ShutdownTimeout = %v, want 1s", h.cfg.ShutdownTimeout)
	}
}
