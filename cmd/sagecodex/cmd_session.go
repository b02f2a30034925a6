package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/sagecodex/internal/store"
	"github.com/user/sagecodex/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionDeactivateCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := store.NewSessionStore(cfg.DataDir)
		messages := store.NewMessageStore(cfg.DataDir)

		ctx := context.Background()
		list, err := sessions.List(ctx)
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSER\tSTAGE\tACTIVE\tMESSAGES\tUPDATED")
		for _, s := range list {
			count, err := messages.Count(ctx, s.ID)
			if err != nil {
				count = 0
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%s\n",
				s.ID,
				s.UserID,
				s.Stage,
				s.Active,
				count,
				s.UpdatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session and its adventure state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := store.NewSessionStore(cfg.DataDir)
		states := store.NewStateStore(cfg.DataDir)

		ctx := context.Background()
		id := types.SessionID(args[0])
		session, err := sessions.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("session not found: %s", args[0])
		}
		state, err := states.Get(ctx, id)
		if err != nil {
			state = types.NewAdventureState(id)
		}

		out, err := json.MarshalIndent(map[string]any{
			"session": session,
			"state":   state,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var sessionDeactivateCmd = &cobra.Command{
	Use:   "deactivate <id>",
	Short: "Deactivate a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		sessions := store.NewSessionStore(cfg.DataDir)

		id := types.SessionID(args[0])
		if err := sessions.Deactivate(context.Background(), id); err != nil {
			return fmt.Errorf("deactivate session: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Session %s deactivated.\n", args[0])
		return nil
	},
}
