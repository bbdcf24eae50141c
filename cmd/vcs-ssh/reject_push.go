// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/spf13/cobra"

	"vcs-ssh/internal/dispatch"
)

// newRejectPushCommand creates the hidden `vcs-ssh reject-push` command.
//
// It exists for the Mercurial hooks the dispatcher installs on read-only
// repositories: prechangegroup and prepushkey run `vcs-ssh reject-push`,
// and the non-zero exit makes the serving process abort the push. Humans
// never run it, hence Hidden.
func newRejectPushCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:    "reject-push",
		Short:  "Refuse a push to a read-only repository",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// The hook's serving process prefixes relayed stderr lines
			// itself, so the banner is emitted in hook shape.
			code := dispatch.RejectPush(app.stderr, true)
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true
			return &ExitError{Code: code}
		},
	}
}
