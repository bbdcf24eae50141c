// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"vcs-ssh/internal/config"
	"vcs-ssh/internal/dispatch"
	"vcs-ssh/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// sshOriginalCommandEnv is where sshd places the command line the client
// asked for when a forced command overrides it.
const sshOriginalCommandEnv = "SSH_ORIGINAL_COMMAND"

// missingCommand is dispatched when the variable is absent. It can never
// parse as a known request, so the router refuses it by name.
const missingCommand = "?"

// rootOptions carries the root command's parsed flag and argument values.
type rootOptions struct {
	// dirs are the positional arguments: read-write repositories.
	dirs      []string
	readWrite []string
	readOnly  []string
	verbose   bool
}

// newRootCommand builds the vcs-ssh command tree.
func newRootCommand(app *App) *cobra.Command {
	var (
		readOnly  []string
		readWrite []string
	)

	rootCmd := &cobra.Command{
		Use:   "vcs-ssh [DIR]...",
		Short: "Serve version control repositories over restricted SSH",
		Long: TitleStyle.Render("vcs-ssh") + SubtitleStyle.Render(" - restricted SSH access to version control repositories") + `

vcs-ssh turns an SSH account into a repository server. Installed as the
forced command on an authorized_keys entry, it reads the command the
client asked for from SSH_ORIGINAL_COMMAND and serves Git, Mercurial,
Bazaar, or Subversion repositories according to per-repository access
rules, refusing everything else.

Positional directories are served read-write; --read-only marks
repositories that may be fetched from but not pushed to. Both merge
with the lists from the configuration file.

` + SubtitleStyle.Render("Quick Start:") + `
  1. Render the key line:  vcs-ssh authorized-key ~/repos/project
  2. Paste it into ~/.ssh/authorized_keys on the serving account
  3. Clone through it:     git clone ssh://user@host/~/repos/project

` + SubtitleStyle.Render("Examples:") + `
  vcs-ssh ~/repos/project                  Serve one repository read-write
  vcs-ssh --read-only ~/repos/stable       Serve a repository read-only
  vcs-ssh authorized-key ~/repos/project   Render the authorized_keys line
  vcs-ssh config init                      Create the default config file`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoot(cmd, app, rootOptions{
				dirs:      args,
				readWrite: readWrite,
				readOnly:  readOnly,
				verbose:   verboseFrom(cmd),
			})
		},
	}

	rootCmd.PersistentFlags().String("config", "",
		"config file (default is "+config.SystemConfigPath+", then the per-user file)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")
	rootCmd.Flags().StringArrayVar(&readOnly, "read-only", nil, "repository served read-only (repeatable)")
	rootCmd.Flags().StringArrayVar(&readWrite, "read-write", nil, "repository served read-write (repeatable)")

	rootCmd.AddCommand(newAuthorizedKeyCommand(app))
	rootCmd.AddCommand(newConfigCommand(app))
	rootCmd.AddCommand(newRejectPushCommand(app))

	return rootCmd
}

// runRoot assembles the access rules and routes the client's request.
func runRoot(cmd *cobra.Command, app *App, opts rootOptions) error {
	ctx := cmd.Context()

	cfg, err := app.Config.Load(ctx, loadOptionsFrom(cmd))
	if err != nil {
		// Serving must not hinge on a damaged config file. Fall back to
		// flag-supplied rules only: repositories the key line names stay
		// reachable while config-listed ones are refused.
		fmt.Fprintln(app.stderr, WarningStyle.Render("Warning: ")+formatErrorForDisplay(err, opts.verbose))
		cfg = config.DefaultConfig()
	}

	rules, err := dispatch.NewRules(
		slices.Concat(cfg.ReadWritePaths(), opts.dirs, opts.readWrite),
		slices.Concat(cfg.ReadOnlyPaths(), opts.readOnly),
	)
	if err != nil {
		return err
	}

	original, ok := os.LookupEnv(sshOriginalCommandEnv)
	if !ok {
		if app.stdinIsTerminal() {
			return renderGuidance(cmd, app, issue.NotInvokedViaSSHId)
		}
		original = missingCommand
	}

	logger, closeLog := newRunLogger(cfg, opts.verbose)
	defer closeLog()

	d := app.NewDispatcher(dispatch.Config{
		Rules:  rules,
		Stderr: app.stderr,
		Logger: logger,
	})
	if code := d.Run(ctx, original); !code.IsSuccess() {
		// The dispatcher already wrote its refusal to stderr.
		cmd.SilenceErrors = true
		cmd.SilenceUsage = true
		return &ExitError{Code: code}
	}
	return nil
}

// renderGuidance prints the registry entry for id and converts the
// situation into a refusal exit code.
func renderGuidance(cmd *cobra.Command, app *App, id issue.Id) error {
	printGuidance(app, id)
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return &ExitError{Code: dispatch.ExitRejected}
}

// printGuidance writes the rendered registry entry for id to stderr.
func printGuidance(app *App, id issue.Id) {
	iss := issue.Get(id)
	rendered, err := iss.Render("dark")
	if err != nil {
		// Fall back to the raw markdown rather than printing nothing.
		rendered = string(iss.MarkdownMsg()) + "\n"
	}
	fmt.Fprint(app.stderr, rendered)
}

// newRunLogger builds the dispatcher's logger. Operational logging is off
// unless the configuration names a file: stderr is relayed verbatim to the
// remote client, so diagnostics must never land there. A log file that
// cannot be opened disables logging rather than blocking repository access.
func newRunLogger(cfg *config.Config, verbose bool) (*log.Logger, func()) {
	if cfg.Log.File == "" {
		return log.New(io.Discard), func() {}
	}
	path, err := homedir.Expand(string(cfg.Log.File))
	if err != nil {
		return log.New(io.Discard), func() {}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return log.New(io.Discard), func() {}
	}

	logger := log.NewWithOptions(f, log.Options{
		Prefix:          "vcs-ssh",
		ReportTimestamp: true,
	})
	logger.SetLevel(runLogLevel(cfg.Log.Level, verbose))
	return logger, func() { _ = f.Close() }
}

// runLogLevel maps the configured level onto the logger's scale. The
// --verbose flag wins so a debugging session does not require editing the
// config file.
func runLogLevel(level config.LogLevel, verbose bool) log.Level {
	if verbose {
		return log.DebugLevel
	}
	switch level {
	case config.LogLevelDebug:
		return log.DebugLevel
	case config.LogLevelWarn:
		return log.WarnLevel
	case config.LogLevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// loadOptionsFrom builds the provider options from the persistent --config
// flag visible to cmd.
func loadOptionsFrom(cmd *cobra.Command) config.LoadOptions {
	path, _ := cmd.Flags().GetString("config")
	return config.LoadOptions{ConfigFilePath: path}
}

// verboseFrom reads the persistent --verbose flag visible to cmd.
func verboseFrom(cmd *cobra.Command) bool {
	verbose, _ := cmd.Flags().GetBool("verbose")
	return verbose
}

// formatErrorForDisplay renders err for terminal display. Actionable errors
// contribute their suggestions, plus the full cause chain when verbose is
// set.
func formatErrorForDisplay(err error, verbose bool) string {
	var actionable *issue.ActionableError
	if errors.As(err, &actionable) {
		return actionable.Format(verbose)
	}
	return err.Error()
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the command tree. This is called by main.main(). It exits
// the process with the code carried by an ExitError so that backend exit
// statuses and refusal codes reach the SSH client unchanged.
func Execute() {
	app := NewApp(Dependencies{})

	// Pass version via fang.WithVersion() since fang overrides rootCmd.Version.
	if err := fang.Execute(
		context.Background(),
		newRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(int(exitErr.Code))
		}
		os.Exit(1)
	}
}
