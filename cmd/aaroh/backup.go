package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joss/aaroh/internal/backup"
	"github.com/joss/aaroh/internal/render"
)

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export and restore schedules and archived sessions",
	}
	cmd.AddCommand(backupExportCmd(), backupImportCmd(), backupListCmd())
	return cmd
}

func kindsFlag(cmd *cobra.Command) []backup.Kind {
	raw, _ := cmd.Flags().GetStringSlice("only")
	kinds := make([]backup.Kind, 0, len(raw))
	for _, k := range raw {
		kinds = append(kinds, backup.Kind(k))
	}
	return kinds
}

func backupExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Write a backup tarball",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			out := fmt.Sprintf("aaroh-%s.tar.gz", time.Now().Format("20060102-150405"))
			if len(args) == 1 {
				out = args[0]
			}
			desc, _ := cmd.Flags().GetString("description")

			st, err := openStore()
			if err != nil {
				exitOnError(err)
			}
			defer st.Close()

			meta, err := backup.NewManager(st).Export(context.Background(), kindsFlag(cmd), out, desc)
			if err != nil {
				exitOnError(err)
			}
			w := render.Stdout()
			w.Println("Wrote %s", out)
			w.Counts(meta.Counts)
		},
	}
	cmd.Flags().StringSlice("only", nil, "Sections to export (schedules, sessions)")
	cmd.Flags().String("description", "", "Note stored in the backup metadata")
	return cmd
}

func backupImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Restore a backup tarball into the archive",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			overwrite, _ := cmd.Flags().GetBool("overwrite")

			st, err := openStore()
			if err != nil {
				exitOnError(err)
			}
			defer st.Close()

			res, err := backup.NewManager(st).Import(context.Background(), args[0], kindsFlag(cmd), overwrite)
			if err != nil {
				exitOnError(err)
			}
			w := render.Stdout()
			w.Section("Restored")
			w.Counts(res.Restored)
			w.Section("Skipped (already present)")
			w.Counts(res.Skipped)
		},
	}
	cmd.Flags().StringSlice("only", nil, "Sections to import (schedules, sessions)")
	cmd.Flags().Bool("overwrite", false, "Replace records that already exist")
	return cmd
}

func backupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <file>",
		Short: "Show what a backup contains",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			meta, err := backup.List(args[0])
			if err != nil {
				exitOnError(err)
			}
			w := render.Stdout()
			w.Header("backup")
			w.Field("File", "%s", args[0])
			w.Field("Created", "%s", meta.CreatedAt.Local().Format("2006-01-02 15:04"))
			if meta.Description != "" {
				w.Field("Note", "%s", meta.Description)
			}
			w.Section("Contents")
			w.Counts(meta.Counts)
		},
	}
}
