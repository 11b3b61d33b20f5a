package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joss/aaroh/internal/render"
	"github.com/joss/aaroh/internal/schedule"
	"github.com/joss/aaroh/internal/store"
)

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule",
		Aliases: []string{"sched"},
		Short:   "Manage expected chord schedules",
	}
	cmd.AddCommand(scheduleImportCmd(), scheduleListCmd(), scheduleShowCmd())
	return cmd
}

func scheduleImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <glob>...",
		Short: "Import schedule files into the archive",
		Long: `Import JSON, YAML or TOML schedules. Patterns use doublestar syntax
relative to --root, for example 'songs/**/*.yaml'. Each schedule is stored
under its file name without extension.`,
		Args: cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			root, _ := cmd.Flags().GetString("root")

			paths, err := schedule.Glob(root, args...)
			if err != nil {
				exitOnError(err)
			}
			if len(paths) == 0 {
				exitOnError(fmt.Errorf("no schedule files match %v under %s", args, root))
			}

			st, err := openStore()
			if err != nil {
				exitOnError(err)
			}
			defer st.Close()

			imported, err := schedule.Import(context.Background(), st, paths)
			for _, s := range imported {
				fmt.Printf("✓ %-20s %3d chords  %.1fs\n", s.Ref, s.Len(), s.Duration())
			}
			if err != nil {
				exitOnError(err)
			}
		},
	}
	cmd.Flags().String("root", ".", "Directory patterns are relative to")
	return cmd
}

func scheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List imported schedules",
		Run: func(cmd *cobra.Command, args []string) {
			st, err := openStore()
			if err != nil {
				exitOnError(err)
			}
			defer st.Close()

			recs, err := st.ListSchedules(context.Background(), store.DefaultFilter())
			if err != nil {
				exitOnError(err)
			}
			render.NewArchive().Schedules(recs)
		},
	}
}

func scheduleShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <ref>",
		Short: "Show a schedule's chord events",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			format, _ := cmd.Flags().GetString("format")

			s, err := lookupSchedule(context.Background(), args[0])
			if err != nil {
				exitOnError(err)
			}

			if format != "" {
				data, err := schedule.Encode(s, schedule.Format(format))
				if err != nil {
					exitOnError(err)
				}
				os.Stdout.Write(data)
				return
			}

			render.NewArchive().Schedule(&store.ScheduleRecord{
				Ref:    s.Ref,
				Title:  s.Title,
				Events: s.Events,
			})
		},
	}
	cmd.Flags().String("format", "", "Print as json, yaml or toml instead")
	return cmd
}
