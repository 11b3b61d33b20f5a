package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/joss/aaroh/internal/domain"
	"github.com/joss/aaroh/internal/render"
	"github.com/joss/aaroh/internal/store"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Review archived practice sessions",
	}
	cmd.AddCommand(sessionsListCmd(), sessionsShowCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived sessions, newest first",
		Run: func(cmd *cobra.Command, args []string) {
			limit, _ := cmd.Flags().GetInt("limit")
			state, _ := cmd.Flags().GetString("state")
			ref, _ := cmd.Flags().GetString("schedule")

			st, err := openStore()
			if err != nil {
				exitOnError(err)
			}
			defer st.Close()

			filter := store.DefaultFilter().WithLimit(limit).WithSchedule(ref)
			if state != "" {
				filter = filter.WithState(domain.SessionState(state))
			}
			recs, err := st.ListSessions(context.Background(), filter)
			if err != nil {
				exitOnError(err)
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				enc.Encode(recs)
				return
			}
			render.NewArchive().Sessions(recs)
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum sessions to show")
	cmd.Flags().String("state", "", "Only sessions in this state (completed, failed)")
	cmd.Flags().String("schedule", "", "Only sessions for this schedule")
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func sessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one session with its verdicts and summary",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			st, err := openStore()
			if err != nil {
				exitOnError(err)
			}
			defer st.Close()

			ctx := context.Background()
			rec, err := st.GetSession(ctx, args[0])
			if err != nil {
				exitOnError(err)
			}
			verdicts, err := st.Verdicts(ctx, args[0])
			if err != nil {
				exitOnError(err)
			}
			render.NewArchive().Session(rec, verdicts, render.New(pretty))
		},
	}
}
