package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/joss/aaroh/internal/coordinator"
	"github.com/joss/aaroh/internal/gateway"
	"github.com/joss/aaroh/internal/logging"
	"github.com/joss/aaroh/internal/metrics"
	"github.com/joss/aaroh/internal/protocol"
	"github.com/joss/aaroh/internal/runtime"
	"github.com/joss/aaroh/internal/selftest"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the feedback server",
		Long: `Run the session coordinator.

Practice clients connect over JSON lines on --listen; browsers use the
socket.io endpoint on --http. Finished sessions are archived in SQLite.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetString("listen"); v != "" {
				settings.Listen = v
			}
			if v, _ := cmd.Flags().GetString("http"); v != "" {
				settings.HTTPListen = v
			}
			if v, _ := cmd.Flags().GetInt("metrics-port"); v > 0 {
				settings.MetricsPort = v
			}
			return serve()
		},
	}

	cmd.Flags().String("listen", "", "JSON-lines listen address")
	cmd.Flags().String("http", "", "socket.io listen address (empty disables)")
	cmd.Flags().Int("metrics-port", 0, "Metrics and health port (0 disables)")
	return cmd
}

func serve() error {
	log := logging.New("serve")
	mgr := runtime.NewShutdownManager(runtime.DefaultShutdownTimeout)
	mgr.ListenForSignals()

	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	rec, err := newRecognizer()
	if err != nil {
		st.Close()
		return err
	}

	m := metrics.Global()
	coord := coordinator.New(coordinator.OptionsFrom(settings), coordinator.Deps{
		Schedules:  scheduleProvider(st),
		Recognizer: rec,
		Archive:    st,
		Metrics:    m,
	})
	srv := protocol.NewServer(coord)

	// Steps run last registered first.
	mgr.Register("store", func(ctx context.Context) error { return st.Close() })
	mgr.Register("coordinator", coord.Close)

	ln, err := net.Listen("tcp", settings.Listen)
	if err != nil {
		mgr.Shutdown()
		return fmt.Errorf("listen: %w", err)
	}
	serveErr := make(chan error, 1)
	logging.SafeGo("serve", func() {
		serveErr <- srv.Serve(mgr.Context(), ln)
	})

	if settings.HTTPListen != "" {
		gw := gateway.New(srv)
		gw.Start()
		httpSrv := &http.Server{Addr: settings.HTTPListen, Handler: gw.Handler()}
		logging.SafeGo("gateway", func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("gateway_failed", map[string]interface{}{"addr": settings.HTTPListen}, err)
			}
		})
		mgr.Register("gateway", func(ctx context.Context) error {
			err := httpSrv.Shutdown(ctx)
			return errors.Join(err, gw.Close())
		})
	}

	if settings.MetricsPort > 0 {
		probes := []selftest.Probe{selftest.PingProbe("store", st)}
		if p, ok := rec.(selftest.Pinger); ok {
			probes = append(probes, selftest.PingProbe("recognizer", p))
		}
		ms := metrics.NewServer(settings.MetricsPort, m, selftest.HealthFunc(probes))
		ms.Start()
		mgr.Register("metrics", ms.Stop)
	}

	log.Info("started", map[string]interface{}{
		"listen":     settings.Listen,
		"http":       settings.HTTPListen,
		"metrics":    settings.MetricsPort,
		"recognizer": settings.RecognizerMode,
		"db":         st.Path(),
	})
	fmt.Printf("aaroh %s listening on %s\n", version, ln.Addr())

	select {
	case <-mgr.Done():
	case err := <-serveErr:
		if err != nil {
			log.Error("serve_failed", nil, err)
		}
		mgr.Shutdown()
	}
	return mgr.Err()
}
