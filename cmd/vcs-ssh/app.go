// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"io"
	"os"

	"golang.org/x/term"

	"vcs-ssh/internal/config"
	"vcs-ssh/internal/dispatch"
	"vcs-ssh/pkg/types"
)

type (
	// ConfigProvider loads configuration using explicit options.
	// This abstraction enables testing with custom config sources or mock
	// implementations.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// DispatchRunner executes one routed client request and reports the
	// exit code to relay over SSH.
	DispatchRunner interface {
		Run(ctx context.Context, original string) types.ExitCode
	}

	// App wires CLI services and shared dependencies. It is the composition
	// root for the CLI layer - all Cobra command handlers receive an App
	// reference and delegate through its fields.
	App struct {
		Config ConfigProvider

		// NewDispatcher builds the runner for one invocation's access
		// rules. Tests substitute it to observe the assembled rules and
		// simulate backend exit codes without spawning processes.
		NewDispatcher func(cfg dispatch.Config) DispatchRunner

		stdout io.Writer
		stderr io.Writer

		// stdinIsTerminal reports whether a person is at the keyboard, as
		// opposed to sshd feeding the process a protocol stream.
		stdinIsTerminal func() bool
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config          ConfigProvider
		NewDispatcher   func(cfg dispatch.Config) DispatchRunner
		Stdout          io.Writer
		Stderr          io.Writer
		StdinIsTerminal func() bool
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.NewDispatcher == nil {
		deps.NewDispatcher = func(cfg dispatch.Config) DispatchRunner {
			return dispatch.New(cfg)
		}
	}
	if deps.StdinIsTerminal == nil {
		deps.StdinIsTerminal = func() bool {
			return term.IsTerminal(int(os.Stdin.Fd()))
		}
	}

	return &App{
		Config:          deps.Config,
		NewDispatcher:   deps.NewDispatcher,
		stdout:          deps.Stdout,
		stderr:          deps.Stderr,
		stdinIsTerminal: deps.StdinIsTerminal,
	}
}
