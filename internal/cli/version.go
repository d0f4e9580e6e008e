package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/codexmcp/pkg/codex"
	"github.com/spf13/cobra"
)

var checkCodex bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "codexmcp version %s\n", version)
		if !checkCodex {
			return nil
		}

		_, cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		runner, cleanup, err := newRunner(ctx, cfg.Codex)
		if err != nil {
			return err
		}
		defer cleanup()

		v, err := codex.CheckVersion(ctx, runner, cfg.Codex.Command, cfg.Codex.MinVersion)
		if v != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "codex version %s\n", v)
		}
		return err
	},
}

func init() {
	versionCmd.Flags().BoolVar(&checkCodex, "codex", false, "also check the installed codex CLI against codex.min_version")
	rootCmd.AddCommand(versionCmd)
}
