// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for vcs-ssh.
//
// This package implements the Cobra command hierarchy for the vcs-ssh
// CLI: the root command that runs as the SSH forced command and routes
// SSH_ORIGINAL_COMMAND, the authorized-key generator, the configuration
// subcommands, and the hidden reject-push hook target.
package cmd
