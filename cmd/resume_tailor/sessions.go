package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/resume-tailor/internal/db"
	"github.com/jonathan/resume-tailor/internal/wizard"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect stored wizard sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sessions with their current step",
	RunE:  runSessionsList,
}

var sessionsHistoryCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Show the recorded history entries of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsHistory,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its history",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsListCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", db.DefaultSessionListLimit, "Maximum sessions to list")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsHistoryCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func withStore(fn func(ctx context.Context, store db.Store) error) error {
	ctx := context.Background()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store)
}

// stepOf names the step stored in an entry, or "invalid" when the entry
// would be discarded on replay.
func stepOf(entry *db.HistoryEntry) string {
	if entry == nil {
		return wizard.StepStart.String()
	}
	s, err := wizard.DecodeEntry(*entry.WizardEntry())
	if err != nil {
		return "invalid"
	}
	return s.Step.String()
}

func runSessionsList(cmd *cobra.Command, _ []string) error {
	return withStore(func(ctx context.Context, store db.Store) error {
		sessions, err := store.ListSessions(ctx, sessionsLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTEP\tCURSOR\tUPDATED")
		for _, s := range sessions {
			entry, err := store.CurrentEntry(ctx, s.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, stepOf(entry), s.Cursor, s.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	})
}

func runSessionsHistory(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}
	return withStore(func(ctx context.Context, store db.Store) error {
		sess, err := store.GetSession(ctx, id)
		if err != nil {
			return err
		}
		if sess == nil {
			return fmt.Errorf("session %s: %w", id, db.ErrSessionNotFound)
		}
		entries, err := store.ListEntries(ctx, id)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "POS\tFRAGMENT\tSTEP\tRECORDED")
		for i := range entries {
			marker := ""
			if entries[i].Position == sess.Cursor {
				marker = " *"
			}
			fmt.Fprintf(w, "%d%s\t#%s\t%s\t%s\n", entries[i].Position, marker, entries[i].Fragment,
				stepOf(&entries[i]), entries[i].CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	})
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}
	return withStore(func(ctx context.Context, store db.Store) error {
		if err := store.DeleteSession(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", id)
		return nil
	})
}
