package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/harun/codexmcp/internal/daemon"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve codex tools over MCP stdio",
	Long: `Serve the codex tools (codex, new_session, list_sessions, ping, help)
over the Model Context Protocol on stdin/stdout. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Server.Version == "" || cfg.Server.Version == "dev" {
		cfg.Server.Version = version
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	d, err := daemon.New(cfg, log,
		daemon.WithLoader(loader),
		daemon.WithIO(cmd.InOrStdin(), cmd.OutOrStdout()),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}
