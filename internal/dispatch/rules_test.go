// SPDX-License-Identifier: MPL-2.0

package dispatch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mitchellh/go-homedir"

	"vcs-ssh/internal/testutil"
)

func TestNormalizePath(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getting working directory: %v", err)
	}

	tests := []struct {
		name string
		path string
		want string
	}{
		{name: "absolute path untouched", path: "/srv/repos/a", want: "/srv/repos/a"},
		{name: "trailing slash cleaned", path: "/srv/repos/a/", want: "/srv/repos/a"},
		{name: "dot segments cleaned", path: "/srv/repos/../repos/a", want: "/srv/repos/a"},
		{name: "relative path anchored to cwd", path: "repos/a", want: filepath.Join(wd, "repos", "a")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePath(tt.path)
			if err != nil {
				t.Fatalf("NormalizePath(%q) returned error: %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestNormalizePathExpandsTilde(t *testing.T) {
	home := t.TempDir()
	restore := testutil.MustSetenv(t, "HOME", home)
	defer restore()
	homedir.Reset()
	defer homedir.Reset()

	got, err := NormalizePath("~/repos/a")
	if err != nil {
		t.Fatalf("NormalizePath() returned error: %v", err)
	}
	if want := filepath.Join(home, "repos", "a"); got != want {
		t.Errorf("NormalizePath(\"~/repos/a\") = %q, want %q", got, want)
	}

	// Expansion for other users is not supported.
	if _, err := NormalizePath("~nobody/repos/a"); err == nil {
		t.Error("NormalizePath(\"~nobody/repos/a\") succeeded, want error")
	}
}

func TestNewRulesNormalizes(t *testing.T) {
	t.Parallel()

	rules, err := NewRules(
		[]string{"/srv/repos/rw/", "/srv/./repos/rw2"},
		[]string{"/srv/repos/ro"},
	)
	if err != nil {
		t.Fatalf("NewRules() returned error: %v", err)
	}

	if !rules.Writable("/srv/repos/rw") {
		t.Error("Writable(/srv/repos/rw) = false, want true")
	}
	if !rules.Writable("/srv/repos/rw2") {
		t.Error("Writable(/srv/repos/rw2) = false, want true")
	}
	if !rules.ReadOnlyRepo("/srv/repos/ro") {
		t.Error("ReadOnlyRepo(/srv/repos/ro) = false, want true")
	}
	if rules.Writable("/srv/repos/ro") {
		t.Error("Writable(/srv/repos/ro) = true, want false")
	}
	if !rules.Known("/srv/repos/ro") || !rules.Known("/srv/repos/rw") {
		t.Error("Known() = false for listed repositories, want true")
	}
	if rules.Known("/srv/repos/other") {
		t.Error("Known(/srv/repos/other) = true, want false")
	}
}

func TestNewRulesRejectsUnexpandablePath(t *testing.T) {
	t.Parallel()

	if _, err := NewRules([]string{"~nobody/repo"}, nil); err == nil {
		t.Error("NewRules() with an unexpandable path succeeded, want error")
	}
	if _, err := NewRules(nil, []string{"~nobody/repo"}); err == nil {
		t.Error("NewRules() with an unexpandable read-only path succeeded, want error")
	}
}
