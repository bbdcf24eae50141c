// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Id int

const (
	NotInvokedViaSSHId Id = iota + 1
	PublicKeyNotFoundId
	ConfigNotFoundId
	ConfigLoadFailedId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to look up the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink  // links into the project documentation
	extLinks []HttpLink  // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

func (i *Issue) Render(stylePath string) (string, error) {
	md := string(i.mdMsg)
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		md += "\n\n## See also\n"
		for _, link := range i.docLinks {
			md += "\n- <" + string(link) + ">"
		}
		for _, link := range i.extLinks {
			md += "\n- <" + string(link) + ">"
		}
	}
	return render(md, stylePath)
}

var (
	render = glamour.Render

	notInvokedViaSSHIssue = &Issue{
		id: NotInvokedViaSSHId,
		mdMsg: `
# Not connected over SSH!

vcs-ssh brokers repository access for incoming SSH connections. It reads
the command requested by the remote client from SSH_ORIGINAL_COMMAND, and
that variable is not set in this session.

## How vcs-ssh is normally invoked:
As a forced command in ~/.ssh/authorized_keys, one line per key:
~~~
command="vcs-ssh ~/repos/project",no-port-forwarding,no-X11-forwarding,no-agent-forwarding,no-pty ssh-ed25519 AAAA... user@host
~~~

## Things you can try:
- Render a ready-to-paste authorized_keys line:
~~~
$ vcs-ssh authorized-key ~/repos/project
~~~

- List your repositories in a config file instead of on the command line:
~~~
$ vcs-ssh config init
~~~

- Exercise the dispatch logic by hand:
~~~
$ SSH_ORIGINAL_COMMAND='git-upload-pack project' vcs-ssh ~/repos/project
~~~`,
	}

	publicKeyNotFoundIssue = &Issue{
		id: PublicKeyNotFoundId,
		mdMsg: `
# No SSH public key found!

An authorized_keys line embeds the client's public key, and we couldn't
find one to use.

## Search locations (in order):
1. The path passed via --key-file
2. ~/.ssh/id_ed25519.pub
3. ~/.ssh/id_rsa.pub

## Things you can try:
- Generate a key pair with OpenSSH:
~~~
$ ssh-keygen -t ed25519
~~~

- If ssh-keygen is not available, install the OpenSSH client tools:
~~~
$ sudo apt install openssh-client    # Debian/Ubuntu
$ sudo dnf install openssh-clients   # Fedora
$ brew install openssh               # macOS
~~~

- Point at a key that lives somewhere else:
~~~
$ vcs-ssh authorized-key --key-file /path/to/key.pub ~/repos/project
~~~`,
	}

	configNotFoundIssue = &Issue{
		id: ConfigNotFoundId,
		mdMsg: `
# No config file found!

We searched for a vcs-ssh config file but couldn't find one in the
expected locations.

## Search locations:
1. The path passed via --config
2. ~/.config/vcs-ssh/config.toml (per user, wins on conflicts)
3. /etc/vcs-ssh/config.toml (system wide)

## Things you can try:
- Create a config file with the default contents:
~~~
$ vcs-ssh config init
~~~

- Skip the config file and pass repositories directly:
~~~
$ vcs-ssh --read-only ~/repos/archive ~/repos/project
~~~

## Example config:
~~~toml
read_write = ["~/repos/project"]
read_only = ["~/repos/archive"]

[log]
file = ""
level = "info"
~~~`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

Your config file exists but couldn't be read or parsed.

## Common causes:
- TOML syntax errors
- read_write or read_only is not an array of strings
- An unknown log level (valid: debug, info, warn, error)

## Things you can try:
- Check the file for syntax errors
- Move the broken file aside and start over from the default:
~~~
$ mv ~/.config/vcs-ssh/config.toml ~/.config/vcs-ssh/config.toml.bak
$ vcs-ssh config init
~~~

- Inspect what vcs-ssh actually sees:
~~~
$ vcs-ssh config show
~~~`,
	}

	issues = map[Id]*Issue{
		notInvokedViaSSHIssue.Id():  notInvokedViaSSHIssue,
		publicKeyNotFoundIssue.Id(): publicKeyNotFoundIssue,
		configNotFoundIssue.Id():    configNotFoundIssue,
		configLoadFailedIssue.Id():  configLoadFailedIssue,
	}
)

func Values() []*Issue {
	return maps.Values(issues)
}

func Get(id Id) *Issue {
	return issues[id]
}
