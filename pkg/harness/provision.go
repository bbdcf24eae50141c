// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"text/template"
)

// keyComment marks generated keys as throwaways for anyone who finds one.
const keyComment = "Weak key generated for test purposes only *DO NOT DISSEMINATE*"

// sshdConfigTemplate is the daemon configuration. StrictModes is off
// because the base directory usually lives under a sticky world-writable
// temp directory, which the ancestry check refuses.
var sshdConfigTemplate = template.Must(template.New("sshd_config").Parse(`# ssh-harness generated configuration file
Port {{.Port}}
ListenAddress {{.Addr}}
HostKey {{.HostRSAKey}}
HostKey {{.HostECDSAKey}}
HostKey {{.HostEd25519Key}}

SyslogFacility AUTH
LogLevel VERBOSE

PidFile {{.Pidfile}}
LoginGraceTime 120
PermitRootLogin yes
StrictModes no

PubkeyAuthentication {{.PubkeyAuth}}
AuthorizedKeysFile {{.AuthorizedKeys}}
PermitUserEnvironment {{.PermitEnvironment}}

HostbasedAuthentication no
IgnoreRhosts yes

PermitEmptyPasswords no
KbdInteractiveAuthentication no
PasswordAuthentication {{.PasswordAuth}}

GSSAPIAuthentication no

X11Forwarding no
PrintMotd no
PrintLastLog no
TCPKeepAlive yes
Banner none
AcceptEnv LANG LC_*

UsePAM no
`))

type (
	// basePaths are the fixed locations of generated files under the base
	// directory.
	basePaths struct {
		hostRSAKey     string
		hostECDSAKey   string
		hostEd25519Key string
		userKey        string
		authorizedKeys string
		sshdConfig     string
		pidfile        string
		logFile        string
	}

	// modeChange records a directory whose permissions were tightened and
	// must be restored at teardown.
	modeChange struct {
		path string
		mode fs.FileMode
	}

	// keySpec describes one key pair for ssh-keygen to generate.
	keySpec struct {
		path string
		typ  string
		bits string
	}

	// sshdConfigData feeds sshdConfigTemplate.
	sshdConfigData struct {
		Port              int
		Addr              string
		HostRSAKey        string
		HostECDSAKey      string
		HostEd25519Key    string
		Pidfile           string
		AuthorizedKeys    string
		PubkeyAuth        string
		PasswordAuth      string
		PermitEnvironment string
	}
)

// resolveBaseDir settles where generated files live and derives their
// paths. An unset Config.BaseDir gets a fresh temporary directory that the
// harness removes again at teardown.
func (h *Harness) resolveBaseDir() error {
	dir := h.cfg.BaseDir
	owns := false
	if dir == "" {
		tmp, err := os.MkdirTemp("", "ssh-harness-")
		if err != nil {
			return fmt.Errorf("create base directory: %w", err)
		}
		dir = tmp
		owns = true
	} else {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("resolve base directory: %w", err)
		}
		dir = abs
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create base directory: %w", err)
		}
	}

	paths := basePaths{
		hostRSAKey:     filepath.Join(dir, "host_ssh_rsa_key"),
		hostECDSAKey:   filepath.Join(dir, "host_ssh_ecdsa_key"),
		hostEd25519Key: filepath.Join(dir, "host_ssh_ed25519_key"),
		userKey:        filepath.Join(dir, "id_rsa"),
		authorizedKeys: filepath.Join(dir, "authorized_keys"),
		sshdConfig:     filepath.Join(dir, "sshd_config"),
		pidfile:        filepath.Join(dir, "sshd.pid"),
		logFile:        filepath.Join(dir, "ssh-harness.log"),
	}
	if h.cfg.Backend == BackendEmbedded {
		// The embedded backend follows the usual on-disk naming for
		// these key types instead of the sshd_config-referenced ones.
		paths.hostEd25519Key = filepath.Join(dir, "ssh_host_ed25519_key")
		paths.userKey = filepath.Join(dir, "id_ed25519")
	}

	h.stateMu.Lock()
	h.baseDir = dir
	h.ownsBaseDir = owns
	h.paths = paths
	h.stateMu.Unlock()
	return nil
}

// checkPreconditions verifies the host can run the harness at all.
// Failures are collected into one PrerequisiteError so a skip message
// names everything that is missing, not just the first finding.
func (h *Harness) checkPreconditions() error {
	var missing []string

	home, err := os.UserHomeDir()
	if err != nil {
		missing = append(missing, fmt.Sprintf("home directory: %v", err))
	} else {
		sshDir := filepath.Join(home, ".ssh")
		if info, statErr := os.Stat(sshDir); statErr != nil || !info.IsDir() {
			missing = append(missing, fmt.Sprintf("directory %s", sshDir))
		}
		h.knownHostsPath = filepath.Join(sshDir, "known_hosts")
		h.sshConfigPath = filepath.Join(sshDir, "config")
		h.sshEnvironmentPath = filepath.Join(sshDir, "environment")
	}

	if h.cfg.Backend == BackendOpenSSH {
		tools := []struct {
			name     string
			override string
			dest     *string
			fallback []string
		}{
			{"sshd", h.cfg.SSHDPath, &h.sshdPath, []string{"/usr/sbin", "/usr/local/sbin"}},
			{"ssh-keygen", h.cfg.KeygenPath, &h.keygenPath, nil},
			{"ssh-keyscan", h.cfg.KeyscanPath, &h.keyscanPath, nil},
		}
		for _, tool := range tools {
			path, err := resolveTool(tool.override, tool.name, tool.fallback...)
			if err != nil {
				missing = append(missing, err.Error())
				continue
			}
			*tool.dest = path
		}
	}

	if len(missing) > 0 {
		return &PrerequisiteError{Missing: missing}
	}
	return nil
}

// resolveTool locates an OpenSSH tool. An explicit override wins;
// otherwise PATH is searched, then the fallback directories (sshd
// traditionally lives in sbin, which user PATHs rarely include).
func resolveTool(override, name string, fallback ...string) (string, error) {
	if override != "" {
		if !isExecutable(override) {
			return "", fmt.Errorf("%s at %s is not an executable", name, override)
		}
		return override, nil
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	for _, dir := range fallback {
		path := filepath.Join(dir, name)
		if isExecutable(path) {
			return path, nil
		}
	}
	return "", fmt.Errorf("%s not found in PATH", name)
}

// isExecutable reports whether path is a regular file with an execute bit.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}

// protectBaseDir tightens the base directory to 0700 so the daemon accepts
// the private keys below it, recording the previous mode for restoration.
func (h *Harness) protectBaseDir() error {
	info, err := os.Stat(h.baseDir)
	if err != nil {
		return err
	}
	mode := info.Mode().Perm()
	if mode == 0o700 {
		return nil
	}
	if err := os.Chmod(h.baseDir, 0o700); err != nil {
		return fmt.Errorf("protect %s: %w", h.baseDir, err)
	}
	h.stateMu.Lock()
	h.restoreModes = append(h.restoreModes, modeChange{path: h.baseDir, mode: mode})
	h.stateMu.Unlock()
	return nil
}

// pickPort reserves a free TCP port by binding port 0 and releasing it
// again. The daemon needs a literal port in its configuration file, so the
// short window between release and daemon bind is unavoidable here.
func (h *Harness) pickPort(ctx context.Context) error {
	port := int(h.cfg.Port)
	if port == 0 {
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp4", net.JoinHostPort(h.cfg.Addr, "0"))
		if err != nil {
			return fmt.Errorf("reserve listen port: %w", err)
		}
		port = ln.Addr().(*net.TCPAddr).Port
		if err := ln.Close(); err != nil {
			return fmt.Errorf("release reserved port: %w", err)
		}
	}
	h.setAddr(port)
	return nil
}

// setAddr records the effective daemon address.
func (h *Harness) setAddr(port int) {
	h.stateMu.Lock()
	h.port = port
	h.addr = net.JoinHostPort(h.cfg.Addr, strconv.Itoa(port))
	h.stateMu.Unlock()
}

// generateKeys creates the daemon host keys and the user key pair with
// ssh-keygen.
func (h *Harness) generateKeys(ctx context.Context) error {
	specs := []keySpec{
		{path: h.paths.hostRSAKey, typ: "rsa", bits: "2048"},
		{path: h.paths.hostECDSAKey, typ: "ecdsa", bits: "256"},
		{path: h.paths.hostEd25519Key, typ: "ed25519"},
		{path: h.paths.userKey, typ: "rsa", bits: "2048"},
	}
	for _, spec := range specs {
		if err := h.generateKey(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) generateKey(ctx context.Context, spec keySpec) error {
	// ssh-keygen refuses to overwrite; clear leftovers from earlier runs.
	for _, leftover := range []string{spec.path, spec.path + ".pub"} {
		if err := removeIfExists(leftover); err != nil {
			return err
		}
	}

	argv := []string{h.keygenPath, "-t", spec.typ}
	if spec.bits != "" {
		argv = append(argv, "-b", spec.bits)
	}
	argv = append(argv, "-N", "", "-f", spec.path, "-C", keyComment)

	rc, stdout, stderr, err := h.RunCommand(ctx, argv, nil)
	if err != nil {
		return fmt.Errorf("run ssh-keygen: %w", err)
	}
	if rc != 0 {
		return fmt.Errorf("ssh-keygen exited %d for %s:\n%s%s", rc, spec.path, stdout, stderr)
	}
	h.trackGenerated(spec.path, spec.path+".pub")

	return os.Chmod(spec.path, 0o400)
}

// writeAuthorizedKeys renders the authorized_keys file the daemon checks
// the user key against: the assembled option list, a space, then the
// public key material.
func (h *Harness) writeAuthorizedKeys() error {
	pub, err := os.ReadFile(h.paths.userKey + ".pub")
	if err != nil {
		return fmt.Errorf("read user public key: %w", err)
	}

	line := string(pub)
	if opts := h.authorizedKeyOptions(); opts != "" {
		line = opts + " " + line
	}

	if err := os.WriteFile(h.paths.authorizedKeys, []byte(line), 0o600); err != nil {
		return fmt.Errorf("write authorized_keys: %w", err)
	}
	h.trackGenerated(h.paths.authorizedKeys)
	return nil
}

// authorizedKeyOptions assembles the comma-separated option list for the
// user key line: caller-supplied raw options first, then the forced
// command, then one environment="K=V" entry per configured variable
// (unless those are routed through ~/.ssh/environment instead).
func (h *Harness) authorizedKeyOptions() string {
	var opts []string
	if h.cfg.AuthorizedKeyOptions != "" {
		opts = append(opts, h.cfg.AuthorizedKeyOptions)
	}
	if h.cfg.ForcedCommand != "" {
		opts = append(opts, "command="+authOptionQuote(h.cfg.ForcedCommand))
	}
	if len(h.cfg.Environment) > 0 && !h.cfg.EnvironmentFile {
		for _, k := range slices.Sorted(maps.Keys(h.cfg.Environment)) {
			opts = append(opts, "environment="+authOptionQuote(k+"="+h.cfg.Environment[k]))
		}
	}
	return strings.Join(opts, ",")
}

// authOptionQuote wraps v in the double quotes authorized_keys option
// values use, backslash-escaping the two characters the option parser
// treats specially.
func authOptionQuote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}

// writeSSHDConfig renders the daemon configuration file.
func (h *Harness) writeSSHDConfig() error {
	data := sshdConfigData{
		Port:              h.port,
		Addr:              h.cfg.Addr,
		HostRSAKey:        h.paths.hostRSAKey,
		HostECDSAKey:      h.paths.hostECDSAKey,
		HostEd25519Key:    h.paths.hostEd25519Key,
		Pidfile:           h.paths.pidfile,
		AuthorizedKeys:    h.paths.authorizedKeys,
		PubkeyAuth:        yesNo(h.cfg.AuthMethod == AuthPublicKey),
		PasswordAuth:      yesNo(h.cfg.AuthMethod == AuthPassword),
		PermitEnvironment: yesNo(len(h.cfg.Environment) > 0),
	}

	f, err := os.OpenFile(h.paths.sshdConfig, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("write sshd_config: %w", err)
	}
	h.trackGenerated(h.paths.sshdConfig)
	if err := sshdConfigTemplate.Execute(f, data); err != nil {
		_ = f.Close() //nolint:errcheck // render error takes precedence
		return fmt.Errorf("render sshd_config: %w", err)
	}
	return f.Close()
}

// yesNo renders a boolean the way sshd_config spells it.
func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// trackGenerated records files for removal at teardown.
func (h *Harness) trackGenerated(paths ...string) {
	h.stateMu.Lock()
	h.generated = append(h.generated, paths...)
	h.stateMu.Unlock()
}

// removeIfExists deletes path, tolerating its absence.
func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
