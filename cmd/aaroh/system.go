package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/joss/aaroh/internal/config"
	"github.com/joss/aaroh/internal/selftest"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("aaroh %s\n", version)
		},
	}
}

func doctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check config, archive, recognizer, server and audio input",
		Run: func(cmd *cobra.Command, args []string) {
			quick, _ := cmd.Flags().GetBool("quick")

			cfg := configPath
			if cfg == "" {
				cfg = config.GetPaths().ConfigFile
			}
			env := selftest.Check(settings, cfg)

			var probes []selftest.Probe
			if st, err := openStore(); err == nil {
				defer st.Close()
				probes = append(probes, selftest.PingProbe("store", st))
			} else {
				env.Errors = append(env.Errors, fmt.Sprintf("Open archive: %v", err))
			}
			if rec, err := newRecognizer(); err != nil {
				env.Errors = append(env.Errors, err.Error())
			} else if p, ok := rec.(selftest.Pinger); ok {
				probes = append(probes, selftest.PingProbe("recognizer", p))
			}
			probes = append(probes, selftest.ServerProbe(settings.Server))

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			health := selftest.CheckHealth(ctx, probes)

			if quick {
				fmt.Println(env.QuickCheck() + " health:" + health.Status)
			} else {
				fmt.Print(env.Summary())
				fmt.Println("\nComponents:")
				for _, p := range probes {
					c := health.Components[p.Name]
					line := fmt.Sprintf("  %-11s %-8s %dms", p.Name, c.Status, c.Latency)
					if c.Error != "" {
						line += "  " + c.Error
					}
					fmt.Println(line)
				}
			}

			// The server is optional for local checks; only local errors fail.
			if !env.IsHealthy() {
				os.Exit(1)
			}
		},
	}
	cmd.Flags().Bool("quick", false, "One-line output")
	return cmd
}
