// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with TOML as the file format.
//
// Configuration is layered: built-in defaults, then the system file (/etc/vcs-ssh/config.toml),
// then the per-user file (~/.config/vcs-ssh/config.toml or XDG equivalent on Linux,
// ~/Library/Application Support/vcs-ssh/config.toml on macOS, %APPDATA%\vcs-ssh\config.toml
// on Windows), then VCS_SSH_* environment variables. Later layers win. The package provides
// type-safe access to the repository access lists and logging options.
package config
