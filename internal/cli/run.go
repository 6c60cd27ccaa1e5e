package cli

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/plexec/plexec/internal/api"
	"github.com/plexec/plexec/internal/config"
	"github.com/plexec/plexec/internal/executor"
	"github.com/plexec/plexec/internal/journal"
	"github.com/plexec/plexec/internal/metrics"
	"github.com/plexec/plexec/internal/scripted"
	"github.com/plexec/plexec/internal/timer"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// MaxTicks bounds the run; 0 means run until finished or interrupted.
	MaxTicks int
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Execute a plan",
		Long: `Execute the plan described by the configuration file against the
scripted solver, pacing ticks with the configured wall-clock period.

Notifications go to the log, to the trace journal (when configured) and
to websocket subscribers (when a listen address is configured).

Example:
  plexec run ./plan.yaml
  plexec run ./plan.yaml --verbose --max-ticks 20`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0])
		},
	}

	cmd.Flags().IntVar(&opts.MaxTicks, "max-ticks", 0, "stop after this many ticks (0 = run to completion)")

	return cmd
}

// doneWatcher closes done once the executor reaches a terminal state.
type doneWatcher struct {
	executor.NopListener
	done chan struct{}
}

func (w *doneWatcher) StateChanged(s executor.State) {
	if s == executor.Finished || s == executor.Failed {
		select {
		case <-w.done:
		default:
			close(w.done)
		}
	}
}

func runPlan(opts *RunOptions, path string) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := config.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load plan", err)
	}

	solverID := uuid.NewString()
	slv := scripted.NewSolver(solverID)
	exec, err := executor.New(slv, cfg.Name, cfg.UnitsPerTick.Rational())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create executor", err)
	}

	impulses := slv.NewPredicate("Impulse", scripted.Impulse)
	intervals := slv.NewPredicate("Interval", scripted.Interval)
	for _, act := range cfg.Plan {
		if act.Type == "impulse" {
			slv.AddImpulse(impulses, act.Name, act.At.Rational())
		} else {
			slv.AddInterval(intervals, act.Name, act.Start.Rational(), act.Duration.Rational())
		}
	}
	slv.SetHorizon(cfg.Horizon.Rational())

	if cfg.Journal != "" {
		slog.Info("opening journal", "path", cfg.Journal)
		j, err := journal.Open(cfg.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer j.Close()
		exec.Register(journal.NewObserver(solverID, j))
	}

	exec.Register(metrics.NewObserver(solverID))

	var srv *http.Server
	if cfg.Listen != "" {
		hub := api.NewHub()
		defer hub.Close()
		exec.Register(api.NewBroadcaster(solverID, hub))

		mux := http.NewServeMux()
		mux.Handle("/ws", hub)
		srv = &http.Server{Addr: cfg.Listen, Handler: mux}
		go func() {
			slog.Info("notification endpoint listening", "addr", cfg.Listen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("notification endpoint failed", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
	}

	watcher := &doneWatcher{done: make(chan struct{})}
	exec.Register(watcher)

	slog.Info("solving initial plan", "solver", solverID, "activities", len(cfg.Plan))
	if err := exec.Init(); err != nil {
		return WrapExitError(ExitFailure, "initial plan is inconsistent", err)
	}
	exec.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tickCount := 0
	tickErr := make(chan error, 1)
	tm := timer.New(time.Duration(cfg.TickDurationMS)*time.Millisecond, func() {
		if err := exec.Tick(); err != nil {
			select {
			case tickErr <- err:
			default:
			}
			return
		}
		tickCount++
		if opts.MaxTicks > 0 && tickCount >= opts.MaxTicks {
			select {
			case tickErr <- nil:
			default:
			}
		}
	})
	tm.Start()
	defer tm.Stop()

	select {
	case <-ctx.Done():
		slog.Info("interrupted; pausing execution")
		exec.Pause()
		return nil
	case err := <-tickErr:
		if err != nil {
			return WrapExitError(ExitFailure, "execution failed", err)
		}
		slog.Info("reached max ticks", "ticks", tickCount)
		exec.Pause()
		return nil
	case <-watcher.done:
		if exec.State() == executor.Failed {
			return NewExitError(ExitFailure, "the plan cannot be executed")
		}
		slog.Info("plan finished", "time", exec.CurrentTime())
		return nil
	}
}
