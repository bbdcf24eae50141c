// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	gossh "golang.org/x/crypto/ssh"

	"vcs-ssh/pkg/backup"
)

// writeEnvironmentFile replaces ~/.ssh/environment with the configured
// variables for the daemon to load at session start. The previous file
// comes back at teardown.
func (h *Harness) writeEnvironmentFile() error {
	if !h.cfg.EnvironmentFile {
		return nil
	}
	ed, err := h.cfg.Backups.Edit(backupContext, h.sshEnvironmentPath, backup.ModeTruncate)
	if err != nil {
		return fmt.Errorf("edit %s: %w", h.sshEnvironmentPath, err)
	}
	return ed.Do(func(f *os.File) error {
		for _, k := range slices.Sorted(maps.Keys(h.cfg.Environment)) {
			if _, err := fmt.Fprintf(f, "%s=%s\n", k, h.cfg.Environment[k]); err != nil {
				return err
			}
		}
		return nil
	})
}

// updateSSHConfig appends a Host block for the daemon to ~/.ssh/config so
// clients can connect by alias without any flags.
func (h *Harness) updateSSHConfig() error {
	if !h.cfg.UpdateSSHConfig {
		return nil
	}
	ed, err := h.cfg.Backups.Edit(backupContext, h.sshConfigPath, backup.ModeAppend)
	if err != nil {
		return fmt.Errorf("edit %s: %w", h.sshConfigPath, err)
	}
	return ed.Do(func(f *os.File) error {
		_, err := fmt.Fprintf(f, `
Host %s
        HostName %s
        Port %d
        IdentityFile %s
        UserKnownHostsFile %s
`, h.cfg.HostAlias, h.cfg.Addr, h.port, h.paths.userKey, h.knownHostsPath)
		return err
	})
}

// updateKnownHosts appends the daemon's host keys to ~/.ssh/known_hosts to
// keep clients from prompting for host key confirmation.
func (h *Harness) updateKnownHosts(ctx context.Context) error {
	ed, err := h.cfg.Backups.Edit(backupContext, h.knownHostsPath, backup.ModeAppend)
	if err != nil {
		return fmt.Errorf("edit %s: %w", h.knownHostsPath, err)
	}
	return ed.Do(func(f *os.File) error {
		if h.cfg.Backend == BackendEmbedded {
			// The host key never left this process, no scanning needed.
			_, err := fmt.Fprintf(f, "[%s]:%d %s",
				h.cfg.Addr, h.port, gossh.MarshalAuthorizedKey(h.embedded.hostPublicKey))
			return err
		}
		return h.scanHostKeys(ctx, f)
	})
}

// scanHostKeys appends ssh-keyscan output for the daemon to w. IPv4 and
// IPv6 are probed separately because ssh-keyscan reports failure when
// either family is unreachable; one reachable family is enough.
func (h *Harness) scanHostKeys(ctx context.Context, w io.Writer) error {
	var failures []string
	for _, family := range []string{"-4", "-6"} {
		argv := []string{
			h.keyscanPath, "-H", family,
			"-p", strconv.Itoa(h.port),
			"-t", "rsa,ecdsa,ed25519",
			h.cfg.Addr,
		}
		rc, stdout, stderr, err := h.RunCommand(ctx, argv, nil)
		if err != nil {
			return fmt.Errorf("run ssh-keyscan: %w", err)
		}
		// A connection failure can still exit 0 with nothing on stdout.
		if rc != 0 || len(stdout) == 0 {
			h.logger.Debug("ssh-keyscan found nothing", "family", family, "rc", rc)
			failures = append(failures,
				fmt.Sprintf("IPv%s rc %d: %s", family[1:], rc, strings.TrimSpace(string(stderr))))
			continue
		}
		if _, err := w.Write(stdout); err != nil {
			return err
		}
	}
	if len(failures) == 2 {
		return fmt.Errorf("ssh-keyscan failed for both address families: %s", strings.Join(failures, "; "))
	}
	return nil
}
