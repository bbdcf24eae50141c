// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"vcs-ssh/internal/config"
	"vcs-ssh/internal/issue"
)

// newConfigCommand creates the `vcs-ssh config` command tree.
// Subcommands that read configuration use the App's ConfigProvider.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage vcs-ssh configuration",
		Long: `Manage vcs-ssh configuration.

Configuration is read from ` + config.SystemConfigPath + ` first, then
from the per-user file:
  - Linux: ~/.config/vcs-ssh/config.toml
  - macOS: ~/Library/Application Support/vcs-ssh/config.toml
  - Windows: %APPDATA%\vcs-ssh\config.toml

Values from the per-user file win on conflict; VCS_SSH_* environment
variables override both.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showConfig(cmd, app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return initConfig(app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file paths",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return showConfigPath(app)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.Config.Load(cmd.Context(), loadOptionsFrom(cmd))
			if err != nil {
				return err
			}
			fmt.Fprint(app.stdout, config.GenerateTOML(cfg))
			return nil
		},
	})

	return cfgCmd
}

func showConfig(cmd *cobra.Command, app *App) error {
	cfg, err := app.Config.Load(cmd.Context(), loadOptionsFrom(cmd))
	if err != nil {
		printGuidance(app, issue.ConfigLoadFailedId)
		return err
	}

	// Style definitions using shared color palette
	headerStyle := TitleStyle
	keyStyle := CmdStyle
	valueStyle := SuccessStyle

	fmt.Fprintln(app.stdout, headerStyle.Render("Current Configuration"))
	fmt.Fprintln(app.stdout)

	files := resolvedConfigFiles(loadOptionsFrom(cmd))
	if len(files) == 0 {
		fmt.Fprintf(app.stdout, "%s: %s\n", keyStyle.Render("Config files"), SubtitleStyle.Render("(none found, using defaults)"))
	} else {
		fmt.Fprintf(app.stdout, "%s:\n", keyStyle.Render("Config files"))
		for _, path := range files {
			fmt.Fprintf(app.stdout, "  - %s\n", path)
		}
	}
	fmt.Fprintln(app.stdout)

	printPathList(app.stdout, "read_write", cfg.ReadWrite)
	fmt.Fprintln(app.stdout)
	printPathList(app.stdout, "read_only", cfg.ReadOnly)
	fmt.Fprintln(app.stdout)

	fmt.Fprintf(app.stdout, "%s:\n", keyStyle.Render("log"))
	if cfg.Log.File == "" {
		fmt.Fprintf(app.stdout, "  file: %s\n", SubtitleStyle.Render("(logging disabled)"))
	} else {
		fmt.Fprintf(app.stdout, "  file: %s\n", valueStyle.Render(string(cfg.Log.File)))
	}
	fmt.Fprintf(app.stdout, "  level: %s\n", valueStyle.Render(string(cfg.Log.Level)))

	// A person looking at an all-defaults setup probably wants to know
	// where a file would go; the guidance card covers that.
	if len(files) == 0 && app.stdinIsTerminal() {
		printGuidance(app, issue.ConfigNotFoundId)
	}

	return nil
}

// printPathList renders one repository list with its configured entries.
func printPathList(w io.Writer, name string, paths []config.RepoPath) {
	fmt.Fprintf(w, "%s:\n", CmdStyle.Render(name))
	if len(paths) == 0 {
		fmt.Fprintf(w, "  %s\n", SubtitleStyle.Render("(none configured)"))
		return
	}
	for _, path := range paths {
		fmt.Fprintf(w, "  - %s\n", SuccessStyle.Render(string(path)))
	}
}

// resolvedConfigFiles lists the config files a load with opts would read,
// in merge order (later files win).
func resolvedConfigFiles(opts config.LoadOptions) []string {
	if opts.ConfigFilePath != "" {
		if fileExistsCheck(opts.ConfigFilePath) {
			return []string{opts.ConfigFilePath}
		}
		return nil
	}

	var files []string
	if path := config.SystemConfigFile(); fileExistsCheck(path) {
		files = append(files, path)
	}
	if path, err := config.UserConfigPath(); err == nil && fileExistsCheck(path) {
		files = append(files, path)
	}
	return files
}

func initConfig(app *App) error {
	cfgPath, err := config.UserConfigPath()
	if err != nil {
		return err
	}

	if fileExistsCheck(cfgPath) {
		fmt.Fprintf(app.stdout, "%s Configuration already exists at %s\n", SubtitleStyle.Render("•"), cfgPath)
		return nil
	}

	if err := config.CreateDefaultConfig(); err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}

	fmt.Fprintf(app.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), cfgPath)
	return nil
}

func showConfigPath(app *App) error {
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	cfgPath, err := config.UserConfigPath()
	if err != nil {
		return err
	}

	fmt.Fprintf(app.stdout, "Config directory: %s\n", cfgDir)
	fmt.Fprintf(app.stdout, "Config file: %s\n", cfgPath)
	fmt.Fprintf(app.stdout, "System config file: %s\n", config.SystemConfigFile())
	return nil
}

// fileExistsCheck reports whether path names an existing regular file.
func fileExistsCheck(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
