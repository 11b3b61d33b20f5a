package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/joss/aaroh/internal/capture"
	"github.com/joss/aaroh/internal/domain"
	"github.com/joss/aaroh/internal/protocol"
	"github.com/joss/aaroh/internal/render"
	"github.com/joss/aaroh/internal/runtime"
	"github.com/joss/aaroh/internal/timeline"
	"github.com/joss/aaroh/internal/transport"
	"github.com/joss/aaroh/internal/tui"
)

func practiceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "practice",
		Short: "Practice against a schedule and get live feedback",
		Long: `Record a take and stream it to the feedback server.

The take comes from a WAV file (--file, played back in real time) or the
default microphone (--mic, needs a portaudio build). Press Ctrl+C, or q
in the live view, to finish and print the summary.`,
		Example: `  aaroh practice --schedule warmup --file take.wav
  aaroh practice --schedule warmup --mic --tui`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, _ := cmd.Flags().GetString("schedule")
			file, _ := cmd.Flags().GetString("file")
			mic, _ := cmd.Flags().GetBool("mic")
			useTUI, _ := cmd.Flags().GetBool("tui")
			if v, _ := cmd.Flags().GetString("server"); v != "" {
				settings.Server = v
			}

			if (file == "") == !mic {
				return errors.New("give exactly one of --file or --mic")
			}

			var source capture.Source
			if mic {
				source = capture.NewPortAudioSource(44100)
			} else {
				source = capture.NewFileSource(file)
			}

			if useTUI && !term.IsTerminal(int(os.Stdout.Fd())) {
				return errors.New("--tui needs a terminal")
			}
			return practice(ref, source, useTUI)
		},
	}

	cmd.Flags().String("schedule", "", "Expected schedule reference")
	cmd.Flags().String("file", "", "WAV take to play back")
	cmd.Flags().Bool("mic", false, "Record from the default microphone")
	cmd.Flags().Bool("tui", false, "Show the live timeline view")
	cmd.Flags().String("server", "", "Server address (default from config)")
	cmd.MarkFlagRequired("schedule")
	return cmd
}

// practiceRun ties one practice session's pieces together.
type practiceRun struct {
	link    *transport.Link
	ctrl    *capture.Controller
	program *tea.Program
	out     *render.Renderer
	failed  chan string
}

func practice(ref string, source capture.Source, useTUI bool) error {
	// Interrupts finish the take; the manager only tears down afterwards.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	ctx, finish := context.WithCancel(sigCtx)
	defer finish()

	mgr := runtime.NewShutdownManager(runtime.DefaultShutdownTimeout)
	defer mgr.Shutdown()

	run := &practiceRun{
		out:    render.New(pretty),
		failed: make(chan string, 1),
	}

	run.link = transport.NewLink(transport.TCPDialer(settings.Server), transport.Options{
		ReplayBuffer:    settings.ReplayBuffer,
		ReconnectWindow: settings.ReconnectWindow,
	}, run.events())
	mgr.Register("link", func(ctx context.Context) error { return run.link.Close() })

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	id, err := run.link.Open(openCtx, protocol.StartSessionPayload{
		ScheduleRef: ref,
		ChunkMs:     settings.ChunkDuration.Milliseconds(),
	})
	cancel()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	run.ctrl = capture.NewController(source, run.link, capture.Options{Cadence: settings.ChunkDuration})
	run.ctrl.OnError = func(err error) {
		select {
		case run.failed <- err.Error():
		default:
		}
	}

	if useTUI {
		sched, err := lookupSchedule(ctx, ref)
		if err != nil {
			run.link.Abort("schedule not available locally")
			return fmt.Errorf("load schedule for live view: %w", err)
		}
		run.program = tui.NewProgram(tui.New(sched.Title, sched.Events, timeline.NewClock(nil), finish))
	}

	if err := run.ctrl.Start(ctx, id); err != nil {
		run.link.Abort(err.Error())
		return err
	}

	if run.program != nil {
		done := make(chan error, 1)
		go func() {
			_, err := run.program.Run()
			done <- err
		}()
		summary, err := run.wait(ctx)
		if err != nil {
			run.program.Send(tui.FailedMsg{Err: err})
		} else {
			run.program.Send(tui.SummaryMsg(summary))
		}
		if uiErr := <-done; uiErr != nil {
			return uiErr
		}
		return err
	}

	fmt.Printf("Session %s started, schedule %s\n", id, ref)
	summary, err := run.wait(ctx)
	if err != nil {
		return err
	}
	fmt.Print("\n" + run.out.Summary(summary))
	return nil
}

// wait runs until the take ends, the user stops or the session fails,
// then stops capture and returns the summary.
func (r *practiceRun) wait(ctx context.Context) (domain.Summary, error) {
	select {
	case <-ctx.Done():
	case <-r.ctrl.Ended():
	case reason := <-r.failed:
		r.ctrl.Stop(context.Background())
		return domain.Summary{}, fmt.Errorf("session failed: %s", reason)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), settings.ReconnectWindow+settings.RecognitionTimeout)
	defer cancel()
	return r.ctrl.Stop(stopCtx)
}

func (r *practiceRun) events() transport.Events {
	send := func(msg tea.Msg) bool {
		if r.program == nil {
			return false
		}
		r.program.Send(msg)
		return true
	}

	return transport.Events{
		OnVerdict: func(v domain.Verdict) {
			if !send(tui.VerdictMsg(v)) {
				fmt.Print(r.out.Verdict(v))
			}
		},
		OnStatus: func(sessionID, message string) {
			if !send(tui.StatusMsg(message)) {
				fmt.Print(r.out.Status(message))
			}
		},
		OnFailed: func(sessionID, reason string) {
			select {
			case r.failed <- reason:
			default:
			}
		},
		OnState: func(s transport.State) {
			if !send(tui.StateMsg(s)) && s != transport.StateConnected {
				fmt.Print(r.out.Status("link " + string(s)))
			}
		},
	}
}
