// Package main provides the aaroh CLI entrypoint.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/joss/aaroh/internal/config"
	"github.com/joss/aaroh/internal/logging"
)

var (
	version    = "0.1.0"
	pretty     = true
	configPath string
	settings   config.Settings
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "aaroh",
		Short: "Real-time chord feedback for practice sessions",
		Long: `aaroh: play along with an expected chord schedule and get
per-chunk verdicts plus a summary when you stop.

Usage modes:
  aaroh serve                         Run the feedback server
  aaroh practice --schedule REF ...   Practice against a running server

Use 'aaroh doctor' to check the local setup.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			settings, err = config.Load(configPath)
			if err != nil {
				return err
			}
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				settings.Debug = true
			}
			if settings.Debug {
				logging.SetLevel(logging.LevelDebug)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.aaroh/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", true, "Pretty print output")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	rootCmd.AddGroup(
		&cobra.Group{ID: "session", Title: "Sessions:"},
		&cobra.Group{ID: "data", Title: "Data:"},
		&cobra.Group{ID: "infra", Title: "Infrastructure:"},
	)

	serve := serveCmd()
	serve.GroupID = "infra"
	rootCmd.AddCommand(serve)

	practice := practiceCmd()
	practice.GroupID = "session"
	rootCmd.AddCommand(practice)

	sessions := sessionsCmd()
	sessions.GroupID = "session"
	rootCmd.AddCommand(sessions)

	sched := scheduleCmd()
	sched.GroupID = "data"
	rootCmd.AddCommand(sched)

	bak := backupCmd()
	bak.GroupID = "data"
	rootCmd.AddCommand(bak)

	doctor := doctorCmd()
	doctor.GroupID = "infra"
	rootCmd.AddCommand(doctor)

	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
