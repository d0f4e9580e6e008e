package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/harun/codexmcp/internal/config"
	"github.com/harun/codexmcp/internal/daemon"
	"github.com/harun/codexmcp/internal/observability"
	"github.com/harun/codexmcp/pkg/session"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

var outputFormat string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage codex sessions in the configured store",
}

var sessionsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a session and print its id",
	Args:  cobra.NoArgs,
	RunE: withStore(func(cmd *cobra.Command, store session.Store, args []string) error {
		id, err := store.CreateSession(cmd.Context())
		if err != nil {
			return err
		}
		observability.RecordSessionAudit(cmd.Context(), "session_created", id, "success", map[string]interface{}{"source": "cli"})
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	}),
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Args:  cobra.NoArgs,
	RunE: withStore(func(cmd *cobra.Command, store session.Store, args []string) error {
		sessions, err := store.ListSessions(cmd.Context())
		if err != nil {
			return err
		}
		return writeSessions(cmd.OutOrStdout(), outputFormat, sessions)
	}),
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, store session.Store, args []string) error {
		s, err := store.GetSession(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return writeSessions(cmd.OutOrStdout(), outputFormat, []session.Session{*s})
	}),
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: withStore(func(cmd *cobra.Command, store session.Store, args []string) error {
		if err := store.DeleteSession(cmd.Context(), args[0]); err != nil {
			return err
		}
		observability.RecordSessionAudit(cmd.Context(), "session_deleted", args[0], "success", map[string]interface{}{"source": "cli"})
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
		return nil
	}),
}

func init() {
	sessionsCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", outputTable, "output format (table, json, yaml)")
	sessionsCmd.AddCommand(sessionsNewCmd, sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

type storeRunE func(cmd *cobra.Command, store session.Store, args []string) error

// withStore opens the configured session store around fn.
func withStore(fn storeRunE) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
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

		if cfg.Sessions.Backend != config.BackendSQLite {
			log.Warn().Str("backend", cfg.Sessions.Backend).Msg("Sessions are not persisted with this backend")
		}

		store, err := daemon.OpenStore(cfg.Sessions)
		if err != nil {
			return err
		}
		defer store.Close()

		return fn(cmd, store, args)
	}
}

func writeSessions(w io.Writer, format string, sessions []session.Session) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(sessions); err != nil {
			return err
		}
		return enc.Close()
	case outputTable, "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "SESSION ID\tCONVERSATION ID\tCREATED\tUPDATED")
		for _, s := range sessions {
			conversation := s.ConversationID
			if conversation == "" {
				conversation = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
				s.SessionID,
				conversation,
				s.CreatedAt.Format(time.RFC3339),
				s.UpdatedAt.Format(time.RFC3339),
			)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q (use table, json or yaml)", format)
	}
}
