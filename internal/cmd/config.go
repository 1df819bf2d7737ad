package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"byedpi-core/internal/config/source"
)

const configHeader = `# ByeDPI configuration
#
# service.mode: vpn (TUN interface + proxy + tunnel adapter) or proxy (proxy only)
# proxy.engine: exec (external ciadpi-compatible binary) or builtin
# vpn.app_policy: disabled, whitelist or blacklist of vpn.apps
# Every key can be overridden with BYEDPI_* environment variables.

`

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after merging defaults, the config file,
environment variables and command line flags.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.newLoader().Load()
			if err != nil {
				return err
			}
			data, err := source.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a configuration file with default values",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "byedpi.yaml"
			if len(args) > 0 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}

			data, err := source.Marshal(source.GetDefaultConfig())
			if err != nil {
				return err
			}
			if dir := filepath.Dir(path); dir != "." && dir != "" {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return fmt.Errorf("create directory: %w", err)
				}
			}
			if err := os.WriteFile(path, append([]byte(configHeader), data...), 0644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			g.output().Success("Configuration file created: %s", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	cmd.AddCommand(show, initCmd)
	return cmd
}
