package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/harun/codexmcp/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	initForce    bool
	configOutput string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with default settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := config.NewLoader(cfgFile)
		path := loader.GetConfigPath()

		if _, err := os.Stat(path); err == nil && !initForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
		}

		if err := loader.Save(config.DefaultConfig()); err != nil {
			return fmt.Errorf("failed to save configuration: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, err := loadConfig()
		if err != nil {
			return err
		}

		switch configOutput {
		case outputYAML:
			// Round-trip through JSON so YAML keys match the file format.
			var tree map[string]interface{}
			if err := json.Unmarshal([]byte(cfg.String()), &tree); err != nil {
				return err
			}
			data, err := yaml.Marshal(tree)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		case outputJSON, "":
			fmt.Fprintln(cmd.OutOrStdout(), cfg.String())
			return nil
		default:
			return fmt.Errorf("unknown output format %q (use json or yaml)", configOutput)
		}
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	configShowCmd.Flags().StringVarP(&configOutput, "output", "o", outputJSON, "output format (json, yaml)")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
