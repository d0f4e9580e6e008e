package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/harun/codexmcp/internal/config"
	"github.com/harun/codexmcp/internal/logger"
	"github.com/harun/codexmcp/internal/observability"
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X ...cli.version=..."
var version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "codexmcp",
	Short: "codexmcp - MCP server for the codex CLI",
	Long: `codexmcp exposes the codex CLI as Model Context Protocol tools.
It keeps sessions that map to codex conversations, so follow-up prompts
resume the same conversation.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.codexmcp/codexmcp.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads the config file and applies the --log-level override.
func loadConfig() (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return loader, cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:          cfg.Logging.Level,
		File:           cfg.Logging.File,
		Console:        cfg.Logging.Console,
		Pretty:         cfg.Logging.Pretty,
		Redaction:      cfg.Logging.Redaction,
		RedactPatterns: cfg.Logging.RedactPatterns,
		MaxSize:        cfg.Logging.MaxSize,
		MaxAge:         cfg.Logging.MaxAge,
		Compress:       cfg.Logging.Compress,
	})
}

// openAudit points audit events at the data directory. The returned func
// closes the file.
func openAudit(cfg *config.Config, log *logger.Logger) func() {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Warn().Err(err).Msg("Audit log disabled")
		return func() {}
	}
	if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.log")); err != nil {
		log.Warn().Err(err).Msg("Audit log disabled")
		return func() {}
	}
	return func() { _ = observability.GetAuditLogger().Close() }
}
