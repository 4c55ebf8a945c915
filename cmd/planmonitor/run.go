package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"planmonitor/internal/lock"
	"planmonitor/internal/monitor"
	"planmonitor/internal/notify"
	"planmonitor/internal/telemetry"
)

type runOptions struct {
	Ticks int
}

func addRunFlags(cmd *cobra.Command, opts *runOptions) {
	cmd.Flags().IntVar(&opts.Ticks, "ticks", 0, "Stop after N ticks (0 runs until signalled)")
}

func newRunCmd(opts *globalOptions, stderr io.Writer) *cobra.Command {
	runOpts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the monitor loop (default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd.Context(), opts, runOpts, stderr)
		},
	}
	addRunFlags(cmd, runOpts)
	return cmd
}

func runMonitor(ctx context.Context, opts *globalOptions, runOpts *runOptions, stderr io.Writer) error {
	if runOpts.Ticks < 0 {
		return fmt.Errorf("--ticks must not be negative")
	}
	cfg, ws, err := loadEnvironment(opts)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, cfg.SlogLevel())

	lk, err := lock.Acquire(ws.LockPath)
	if err != nil {
		return err
	}
	defer lk.Release()

	metrics := telemetry.New()
	m, err := monitor.New(monitor.Options{
		Config:    cfg,
		Workspace: ws,
		Logger:    logger,
		Metrics:   metrics,
		Notifier:  &notify.Notifier{Enabled: cfg.Notifications},
		Version:   version,
		MaxTicks:  runOpts.Ticks,
	})
	if err != nil {
		return fmt.Errorf("create monitor: %w", err)
	}
	defer m.Close()

	logger.Info("starting monitor", "workspace", ws.Root, "plan", ws.PlanPath, "tick_seconds", cfg.TickSeconds)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		defer cancel()
		return m.Run(runCtx)
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(runCtx, cfg.MetricsAddr, logger)
		})
	}
	return g.Wait()
}
