// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"vcs-ssh/pkg/types"
)

// Refusals travel over the SSH channel to a client that is not a terminal,
// so the usual color-profile detection would strip the styling. A renderer
// pinned to the ANSI profile keeps the escape codes in the stream; VCS
// clients relay them and capable terminals show the banner highlighted.
var (
	ansiRenderer = lipgloss.NewRenderer(os.Stderr, termenv.WithProfile(termenv.ANSI))

	// ReadOnlyBannerStyle is the bold white-on-red style of the read-only
	// push refusal.
	ReadOnlyBannerStyle = ansiRenderer.NewStyle().
				Bold(true).
				Background(lipgloss.Color("1"))
)

// RejectPush writes the read-only push refusal to w and returns the exit
// code for the refusing process. With viaHook set the output is shaped for
// a Mercurial hook invocation, where the serving process already prefixes
// relayed lines with "remote: "; otherwise the prefix is written here.
func RejectPush(w io.Writer, viaHook bool) types.ExitCode {
	prefix := "remote: "
	if viaHook {
		fmt.Fprint(w, "Permission denied\n")
		prefix = ""
	}
	fmt.Fprintf(w, "%s%s: you cannot push anything into it !\n",
		prefix,
		ReadOnlyBannerStyle.Render("You only have read only access to this repository"))
	return ExitRejected
}

// rejectRepo refuses a repository path that is in neither access list.
func (d *Dispatcher) rejectRepo(repo string) types.ExitCode {
	d.logger.Warn("illegal repository", "repo", repo)
	fmt.Fprintf(d.stderr, "Illegal repository %q\n", repo)
	return ExitRejected
}

// rejectCommand refuses a command the dispatcher does not recognize.
func (d *Dispatcher) rejectCommand(command, extra string) types.ExitCode {
	if extra != "" {
		extra = ": " + extra
	}
	fmt.Fprintf(d.stderr, "remote: Illegal command %q%s\n", command, extra)
	return ExitRejected
}

// warnNoAccessControl tells the client that the selected backend is served
// without repository-level access checks.
func (d *Dispatcher) warnNoAccessControl(backend string) {
	fmt.Fprintf(d.stderr, "remote: Warning: using %s: no access control enforced!\n", backend)
}

// rejectMissingTool refuses a request whose server-side tool is not
// installed.
func (d *Dispatcher) rejectMissingTool(tool string) types.ExitCode {
	d.logger.Error("required tool not found", "tool", tool)
	fmt.Fprintln(d.stderr, "The command required to fulfill your request has not been found on this system.")
	return ExitMissingTool
}
