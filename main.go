// SPDX-License-Identifier: MPL-2.0

// vcs-ssh restricts SSH accounts to serving version control repositories.
package main

import (
	cmd "vcs-ssh/cmd/vcs-ssh"
)

func main() {
	cmd.Execute()
}
