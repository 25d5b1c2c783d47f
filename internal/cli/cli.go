// ============================================================================
// Pacemaker CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Provides the command line interface based on the Cobra framework
//
// Command Structure:
//   pacemaker                          # Root command
//   ├── run                            # Run toward a distance/time goal
//   │   ├── --distance, --time         # Goal (distance in the preferred unit)
//   │   ├── --gpx                      # Replay a recorded track instead of a synthetic route
//   │   ├── --speed                    # Simulated clock speed factor
//   │   ├── --suspend-at/--suspend-for # Simulate the app going to the background
//   │   └── --gpx-out                  # Export the validated track on finish
//   ├── history list|delete|clear      # Completed runs
//   ├── settings show|set|reset        # Feedback preferences
//   ├── status --addr                  # Live status of a running instance
//   ├── stop --addr                    # Stop a running instance
//   ├── --config, -c                   # Config file (default configs/pacemaker.yaml)
//   └── --version
//
// Configuration Management:
//   YAML file, then .env, then PACEMAKER_* environment, then validation.
//   See config.go.
//
// run Command:
//   1. Load config, settings and the goal
//   2. Open history database and the background spool
//   3. Build the positioning source (GPX replay or synthetic route)
//   4. Start metrics HTTP server and gRPC control server (if enabled)
//   5. Start the controller and render updates until the run finishes
//
// Signal Handling:
//   - SIGINT / SIGTERM: stop the run (the record is still saved)
//   - SIGTSTP: simulate suspension (samples are spooled)
//   - SIGCONT: resume and replay spooled samples
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/pacemaker/internal/clock"
	"github.com/ChuLiYu/pacemaker/internal/controller"
	"github.com/ChuLiYu/pacemaker/internal/display"
	"github.com/ChuLiYu/pacemaker/internal/geo"
	"github.com/ChuLiYu/pacemaker/internal/gpx"
	"github.com/ChuLiYu/pacemaker/internal/history"
	"github.com/ChuLiYu/pacemaker/internal/metrics"
	"github.com/ChuLiYu/pacemaker/internal/positioning"
	"github.com/ChuLiYu/pacemaker/internal/server"
	"github.com/ChuLiYu/pacemaker/internal/session"
	"github.com/ChuLiYu/pacemaker/internal/settings"
	"github.com/ChuLiYu/pacemaker/internal/speech"
	"github.com/ChuLiYu/pacemaker/internal/storage/spool"
	"github.com/ChuLiYu/pacemaker/pkg/types"
)

// Version is set at build time.
var Version = "0.1.0"

var configFile string

// BuildCLI assembles the root command.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pacemaker",
		Short: "Pacemaker: spoken pace feedback toward a distance and time goal",
		Long: `Pacemaker tracks a run against a distance/time goal and tells you,
at regular intervals, whether you are ahead of, on, or behind target pace.
- GPS sample filtering (accuracy, jitter, speed)
- time or distance triggered pace feedback and checkpoint announcements
- background gap recovery
- local run history`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", DefaultConfigPath, "config file path")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildHistoryCommand())
	rootCmd.AddCommand(buildSettingsCommand())
	rootCmd.AddCommand(buildStatusCommand())
	rootCmd.AddCommand(buildStopCommand())

	return rootCmd
}

// ============================================================================
// run
// ============================================================================

// runOptions are the run command flags.
type runOptions struct {
	distance   float64
	minutes    float64
	gpxPath    string
	gpxOut     string
	speed      float64
	routePace  float64
	suspendAt  time.Duration
	suspendFor time.Duration
	noSpeech   bool
}

func buildRunCommand() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a run toward a distance and time goal",
		Long: `Start a run. Positions come from a GPX file (--gpx) replayed in real time,
or from a synthetic straight route at --route-pace. Use --speed to fast-forward.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPace(cmd.Context(), opts)
		},
	}

	cmd.Flags().Float64Var(&opts.distance, "distance", 5, "goal distance in the preferred unit")
	cmd.Flags().Float64Var(&opts.minutes, "time", 25, "goal time in minutes")
	cmd.Flags().StringVar(&opts.gpxPath, "gpx", "", "GPX track to replay as the position source")
	cmd.Flags().StringVar(&opts.gpxOut, "gpx-out", "", "write the validated track to this GPX file when the run ends")
	cmd.Flags().Float64Var(&opts.speed, "speed", 0, "clock speed factor (0 uses the config value)")
	cmd.Flags().Float64Var(&opts.routePace, "route-pace", 0, "synthetic route pace in min/km (0 uses the goal pace)")
	cmd.Flags().DurationVar(&opts.suspendAt, "suspend-at", 0, "simulate going to the background after this much run time")
	cmd.Flags().DurationVar(&opts.suspendFor, "suspend-for", 5*time.Minute, "how long the simulated background period lasts")
	cmd.Flags().BoolVar(&opts.noSpeech, "no-speech", false, "disable speech even if enabled in config")

	return cmd
}

func runPace(ctx context.Context, opts runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	setupLogging(cfg.Log.Level, os.Stderr)

	rs := settings.NewStore(cfg.Data.SettingsPath).Get()
	goal, err := session.NewGoal(geo.ToKm(opts.distance, rs.Unit), opts.minutes)
	if err != nil {
		return err
	}

	hist, err := history.Open(cfg.Data.HistoryPath)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer hist.Close()

	buf, err := spool.Open(cfg.Data.SpoolPath,
		spool.WithMaxRecords(cfg.Data.SpoolMaxRecords),
		spool.WithSyncOnAppend(true))
	if err != nil {
		return fmt.Errorf("failed to open spool: %w", err)
	}
	defer buf.Close()
	if stale, err := buf.Drain(); err != nil {
		return fmt.Errorf("failed to clear spool: %w", err)
	} else if len(stale) > 0 {
		slog.Warn("Discarded samples buffered by an earlier run", "count", len(stale))
	}

	speed := cfg.Clock.Speed
	if opts.speed > 0 {
		speed = opts.speed
	}
	clk := clock.NewScaled(time.Now(), speed)

	samples, err := loadSamples(opts, goal, clk.Now())
	if err != nil {
		return err
	}
	source := positioning.NewReplay(positioning.ReplayConfig{
		Samples:     samples,
		Clock:       clk,
		Buffer:      buf,
		Permissions: positioning.Permissions{Foreground: true, Background: true},
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	var announcer controller.Announcer
	if cfg.Speech.Enabled && !opts.noSpeech {
		dispatcher := speech.NewDispatcher(
			speech.NewCommandSpeaker(cfg.Speech.Command, cfg.Speech.Voice),
			func(r speech.Result) { collector.ObserveSpeech(r.Err, r.Duration) },
		)
		if err := dispatcher.Start(); err != nil {
			return fmt.Errorf("failed to start speech: %w", err)
		}
		defer dispatcher.Stop()
		announcer = dispatcher
	}

	sess, err := session.New(goal, rs)
	if err != nil {
		return err
	}

	renderer := display.NewRenderer(os.Stdout, rs.Unit)
	ctrl, err := controller.New(sess, controller.Deps{
		Positioning: source,
		Speech:      announcer,
		History:     hist,
		Metrics:     collector,
		Clock:       clk,
	}, controller.Config{
		TickInterval:    clk.RealDuration(time.Second),
		StopOnStreamEnd: true,
		OnUpdate:        renderer.Update,
	})
	if err != nil {
		return err
	}

	sigCtx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	runCtx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Port, reg)
		slog.Info("Starting metrics server", "addr", srv.Addr)
		g.Go(func() error { return serveHTTP(gctx, srv) })
	}

	if cfg.Control.Enabled {
		lis, err := net.Listen("tcp", cfg.Control.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.Control.Addr, err)
		}
		grpcServer := server.NewGRPCServer(server.NewServer(ctrl, hist))
		slog.Info("gRPC control server listening", "addr", lis.Addr().String())
		g.Go(func() error {
			go func() {
				<-gctx.Done()
				grpcServer.GracefulStop()
			}()
			return grpcServer.Serve(lis)
		})
	}

	g.Go(func() error {
		defer cancel()
		if err := ctrl.Start(gctx); err != nil {
			return err
		}
		go forwardSuspendSignals(ctrl)
		if opts.suspendAt > 0 {
			go simulateSuspension(ctrl, clk, opts.suspendAt, opts.suspendFor)
		}
		<-ctrl.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	ctrl.Stop()

	renderer.Finish(ctrl.Snapshot(), ctrl.Result())

	if opts.gpxOut != "" {
		doc := gpx.FromSamples("pacemaker run", ctrl.Track())
		if err := doc.Write(opts.gpxOut); err != nil {
			return fmt.Errorf("failed to export track: %w", err)
		}
		slog.Info("Track exported", "path", opts.gpxOut, "points", len(ctrl.Track()))
	}
	return nil
}

// loadSamples picks the position source.
func loadSamples(opts runOptions, goal types.RunGoal, start time.Time) ([]types.PositionSample, error) {
	if opts.gpxPath != "" {
		doc, err := gpx.Parse(opts.gpxPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read track: %w", err)
		}
		samples, err := doc.Samples(start, 5*time.Second)
		if err != nil {
			return nil, fmt.Errorf("failed to read track: %w", err)
		}
		return samples, nil
	}

	route := positioning.DefaultRoute(start)
	route.DistanceKm = goal.DistanceKm * 1.02
	route.PaceMinPerKm = goal.TargetPace()
	if opts.routePace > 0 {
		route.PaceMinPerKm = opts.routePace
	}
	return route.Samples(), nil
}

// serveHTTP runs srv until ctx is done.
func serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// forwardSuspendSignals maps job-control signals onto the run.
func forwardSuspendSignals(ctrl *controller.Controller) {
	suspend, resume := suspendSignals()
	if len(suspend) == 0 && len(resume) == 0 {
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, append(suspend, resume...)...)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctrl.Done():
			return
		case sig := <-sigCh:
			var err error
			if contains(suspend, sig) {
				err = ctrl.Suspend()
			} else {
				err = ctrl.Resume()
			}
			if err != nil && !errors.Is(err, controller.ErrControllerStopped) {
				slog.Warn("Signal handling failed", "signal", sig, "error", err)
			}
		}
	}
}

func contains(set []os.Signal, sig os.Signal) bool {
	for _, s := range set {
		if s == sig {
			return true
		}
	}
	return false
}

// simulateSuspension backgrounds the run after `at` of run time for `dur`.
func simulateSuspension(ctrl *controller.Controller, clk *clock.Scaled, at, dur time.Duration) {
	select {
	case <-time.After(clk.RealDuration(at)):
	case <-ctrl.Done():
		return
	}
	if err := ctrl.Suspend(); err != nil {
		return
	}
	fmt.Println(display.Muted.Render(fmt.Sprintf("  (in the background for %s)", dur)))

	select {
	case <-time.After(clk.RealDuration(dur)):
	case <-ctrl.Done():
		return
	}
	if err := ctrl.Resume(); err != nil && !errors.Is(err, controller.ErrControllerStopped) {
		slog.Warn("Resume failed", "error", err)
	}
}

// ============================================================================
// history
// ============================================================================

func buildHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List or delete completed runs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd.Context(), func(ctx context.Context, h *history.Store, unit types.DistanceUnit) error {
				runs, err := h.List(ctx)
				if err != nil {
					return err
				}
				if limit > 0 && len(runs) > limit {
					runs = runs[:limit]
				}
				sum, err := h.Summary(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), display.HistoryTable(runs, sum, unit))
				return nil
			})
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n runs (0 shows all)")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd.Context(), func(ctx context.Context, h *history.Store, _ types.DistanceUnit) error {
				if err := h.Remove(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd.Context(), func(ctx context.Context, h *history.Store, _ types.DistanceUnit) error {
				if err := h.ClearAll(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "history cleared")
				return nil
			})
		},
	}

	cmd.AddCommand(list, del, clearCmd)
	return cmd
}

func withHistory(ctx context.Context, fn func(context.Context, *history.Store, types.DistanceUnit) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	setupLogging(cfg.Log.Level, os.Stderr)

	h, err := history.Open(cfg.Data.HistoryPath)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer h.Close()

	unit := settings.NewStore(cfg.Data.SettingsPath).Get().Unit
	return fn(ctx, h, unit)
}

// ============================================================================
// settings
// ============================================================================

func buildSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change feedback settings",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := settingsStore()
			if err != nil {
				return err
			}
			out, err := yaml.Marshal(store.Get())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	set := &cobra.Command{
		Use:       "set <key> <value>",
		Short:     "Change one setting",
		Args:      cobra.ExactArgs(2),
		ValidArgs: settings.Keys,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := settingsStore()
			if err != nil {
				return err
			}
			if _, err := store.Update(func(rs *types.RunSettings) error {
				return settings.SetField(rs, args[0], args[1])
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
			return nil
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Restore the default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := settingsStore()
			if err != nil {
				return err
			}
			if err := store.Reset(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "settings reset")
			return nil
		},
	}

	cmd.AddCommand(show, set, reset)
	return cmd
}

func settingsStore() (*settings.Store, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	setupLogging(cfg.Log.Level, os.Stderr)
	return settings.NewStore(cfg.Data.SettingsPath), nil
}

// ============================================================================
// status / stop
// ============================================================================

func buildStatusCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the live status of a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := server.Dial(addr)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			snap, err := client.Status(ctx)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), display.Render(snap, types.UnitKilometers))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:50051", "control address of the running instance")
	return cmd
}

func buildStopCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running instance and print its record",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, conn, err := server.Dial(addr)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			run, err := client.Stop(ctx)
			if err != nil {
				return fmt.Errorf("stop: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), display.Summary(run, types.UnitKilometers))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:50051", "control address of the running instance")
	return cmd
}
