package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/harun/codexmcp/internal/config"
	"github.com/harun/codexmcp/internal/daemon"
	"github.com/harun/codexmcp/pkg/codex"
	"github.com/spf13/cobra"
)

var (
	execSession string
	execModel   string
	execArgs    []string
)

// newRunner builds the codex runner for one-shot commands. Tests replace it.
var newRunner = func(ctx context.Context, cfg config.CodexConfig) (codex.Runner, func(), error) {
	sb, err := daemon.StartSandbox(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return codex.NewSandboxRunner(sb), func() { _ = sb.Stop(context.Background()) }, nil
}

var execCmd = &cobra.Command{
	Use:   "exec [flags] <prompt>",
	Short: "Run one codex dispatch from the terminal",
	Long: `Run a single prompt through the dispatcher, exactly as the codex MCP tool
would. With --session the call resumes that session's conversation; this needs
the sqlite session backend so sessions outlive the process.`,
	Example: `  codexmcp exec "explain main.go"
  codexmcp exec --session 3f1c... --arg --search "and now the tests"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().StringVar(&execSession, "session", "", "session id to resume")
	execCmd.Flags().StringVar(&execModel, "model", "", "model name (default from config)")
	execCmd.Flags().StringArrayVar(&execArgs, "arg", nil, "extra codex argument, repeatable")
	rootCmd.AddCommand(execCmd)
}

func runExec(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()
	defer openAudit(cfg, log)()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := daemon.OpenStore(cfg.Sessions)
	if err != nil {
		return err
	}
	defer store.Close()

	runner, cleanup, err := newRunner(ctx, cfg.Codex)
	if err != nil {
		return err
	}
	defer cleanup()

	dispatcher := codex.New(store, runner,
		codex.WithCommand(cfg.Codex.Command),
		codex.WithDefaultModel(cfg.Codex.DefaultModel),
	)

	result, err := dispatcher.Execute(ctx, codex.Request{
		Prompt:         strings.Join(args, " "),
		Model:          execModel,
		SessionID:      execSession,
		AdditionalArgs: execArgs,
	})

	var notFound *codex.SessionNotFoundError
	if errors.As(err, &notFound) && cfg.Sessions.Backend == config.BackendMemory {
		return fmt.Errorf("%w (sessions are not persisted with the memory backend)", err)
	}

	fmt.Fprint(cmd.OutOrStdout(), result.Stdout)
	fmt.Fprint(cmd.ErrOrStderr(), result.Stderr)
	return err
}
