// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	gossh "golang.org/x/crypto/ssh"
	"mvdan.cc/sh/v3/syntax"

	"vcs-ssh/internal/dispatch"
	"vcs-ssh/internal/issue"
)

// restrictionOptions disables every SSH feature a repository client does
// not need; together with the forced command they make the key
// single-purpose.
const restrictionOptions = "no-port-forwarding,no-X11-forwarding,no-agent-forwarding,no-pty"

// defaultKeyFiles are tried in order when --key-file is not given.
var defaultKeyFiles = []string{"~/.ssh/id_ed25519.pub", "~/.ssh/id_rsa.pub"}

// authorizedKeyOptions carries the authorized-key command's parsed flag
// and argument values.
type authorizedKeyOptions struct {
	// dirs are the positional arguments: read-write repositories.
	dirs     []string
	readOnly []string
	keyFile  string
}

// newAuthorizedKeyCommand creates the `vcs-ssh authorized-key` command.
func newAuthorizedKeyCommand(app *App) *cobra.Command {
	var (
		readOnly []string
		keyFile  string
	)

	akCmd := &cobra.Command{
		Use:   "authorized-key [DIR]...",
		Short: "Render a ready-to-paste authorized_keys line",
		Long: `Render one authorized_keys line that restricts a public key to serving
the given repositories through vcs-ssh.

The line carries the forced command with the repository lists baked in,
plus the options that disable port forwarding, X11, agent forwarding,
and PTY allocation. Paste it into ~/.ssh/authorized_keys on the serving
account; the key then works for repository access and nothing else.

Positional directories are served read-write, --read-only ones
fetch-only. With no directories at all, access rules come from the
serving account's configuration file alone.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthorizedKey(cmd, app, authorizedKeyOptions{
				dirs:     args,
				readOnly: readOnly,
				keyFile:  keyFile,
			})
		},
	}

	akCmd.Flags().StringArrayVar(&readOnly, "read-only", nil, "repository served read-only (repeatable)")
	akCmd.Flags().StringVar(&keyFile, "key-file", "",
		"public key to authorize (default is ~/.ssh/id_ed25519.pub, then ~/.ssh/id_rsa.pub)")

	return akCmd
}

func runAuthorizedKey(cmd *cobra.Command, app *App, opts authorizedKeyOptions) error {
	// Surface unusable repository paths now rather than on the first
	// connection through the pasted line.
	if _, err := dispatch.NewRules(opts.dirs, opts.readOnly); err != nil {
		return err
	}

	keyPath, err := resolvePublicKey(opts.keyFile)
	if err != nil {
		if opts.keyFile == "" && app.stdinIsTerminal() {
			printGuidance(app, issue.PublicKeyNotFoundId)
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true
			return &ExitError{Code: 1, Err: err}
		}
		return err
	}

	line, err := readPublicKeyLine(keyPath)
	if err != nil {
		return err
	}

	fmt.Fprintln(app.stdout, authorizedKeyLine(executablePath(), opts.dirs, opts.readOnly, line))
	return nil
}

// resolvePublicKey returns the public key file to embed. An explicit path
// must exist; otherwise the conventional key locations are tried in order.
func resolvePublicKey(explicit string) (string, error) {
	if explicit != "" {
		path, err := homedir.Expand(explicit)
		if err != nil {
			return "", issue.WrapWithOperation(err, "read public key")
		}
		if !fileExistsCheck(path) {
			return "", issue.NewErrorContext().
				WithOperation("read public key").
				WithResource(explicit).
				WithSuggestion("Check that the file exists and is readable").
				WithSuggestion("Point --key-file at the .pub file of an existing key pair").
				BuildError()
		}
		return path, nil
	}

	for _, candidate := range defaultKeyFiles {
		path, err := homedir.Expand(candidate)
		if err != nil {
			continue
		}
		if fileExistsCheck(path) {
			return path, nil
		}
	}

	return "", issue.NewErrorContext().
		WithOperation("find a public key").
		WithSuggestion("Generate a key pair with 'ssh-keygen -t ed25519'").
		WithSuggestion("Pass --key-file /path/to/key.pub to use a specific key").
		BuildError()
}

// readPublicKeyLine reads and validates the first key line of path. The
// material is parsed before being echoed so that a private key pointed at
// by mistake is refused instead of published.
func readPublicKeyLine(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", issue.WrapWithContext(err, "read public key", path)
	}

	line, _, _ := strings.Cut(strings.TrimSpace(string(raw)), "\n")
	line = strings.TrimSpace(line)
	if _, _, _, _, err := gossh.ParseAuthorizedKey([]byte(line)); err != nil {
		return "", issue.NewErrorContext().
			WithOperation("parse public key").
			WithResource(path).
			WithSuggestion("Point --key-file at the .pub file, not the private key").
			Wrap(err).
			BuildError()
	}
	return line, nil
}

// authorizedKeyLine assembles the sshd options and the key material into
// one authorized_keys line.
func authorizedKeyLine(self string, readWrite, readOnly []string, publicKey string) string {
	forced := forcedCommand(self, readWrite, readOnly)
	return "command=" + authOptionQuote(forced) + "," + restrictionOptions + " " + publicKey
}

// forcedCommand renders the dispatcher invocation sshd forces for the key.
// Paths are kept exactly as given: quoting stops the login shell from
// touching them, and a leading ~/ is expanded against the serving account
// when the rules are built.
func forcedCommand(self string, readWrite, readOnly []string) string {
	parts := []string{quoteForShell(self)}
	for _, dir := range readOnly {
		parts = append(parts, "--read-only", quoteForShell(dir))
	}
	for _, dir := range readWrite {
		parts = append(parts, quoteForShell(dir))
	}
	return strings.Join(parts, " ")
}

// quoteForShell quotes s for the login shell sshd hands the forced command
// to.
func quoteForShell(s string) string {
	quoted, err := syntax.Quote(s, syntax.LangPOSIX)
	if err != nil {
		return s
	}
	return quoted
}

// authOptionQuote wraps v in the double quotes authorized_keys option
// values use, backslash-escaping the two characters the option parser
// treats specially.
func authOptionQuote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}

// executablePath names this binary for the forced command line, preferring
// the absolute path so the entry works regardless of the account's PATH.
func executablePath() string {
	if exe, err := os.Executable(); err == nil {
		return exe
	}
	return "vcs-ssh"
}
