package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"planmonitor/internal/config"
	"planmonitor/internal/workspace"
)

const appName = "planmonitor"

var version = "dev"

// globalOptions are the flags shared by every command.
type globalOptions struct {
	ConfigPath string
	PlanPath   string
	Workspace  string
}

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", appName, err)
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{}
	runOpts := &runOptions{}

	root := &cobra.Command{
		Use:           appName,
		Short:         "Master test plan execution monitor",
		Long:          "planmonitor periodically reads a plan file, derives health, budget and compliance\nmetrics, and writes a monitoring log, a metrics document and a progress report.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd.Context(), opts, runOpts, stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.ConfigPath, "config", "", "Path to a YAML config file")
	flags.StringVar(&opts.PlanPath, "plan", "", "Path to the plan file (overrides paths.plan)")
	flags.StringVar(&opts.Workspace, "workspace", "", "Root that relative paths resolve against (overrides workspace)")
	addRunFlags(root, runOpts)

	root.AddCommand(newRunCmd(opts, stderr))
	root.AddCommand(newStatusCmd(opts, stdout))
	root.AddCommand(newScheduleCmd(opts, stdout))
	root.AddCommand(newCheckpointsCmd(opts, stdout))
	root.AddCommand(newServiceCmd(opts, stdout))
	return root
}

// loadEnvironment reads the config and resolves the workspace layout.
func loadEnvironment(opts *globalOptions) (config.Config, *workspace.Workspace, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if strings.TrimSpace(opts.PlanPath) != "" {
		abs, err := filepath.Abs(opts.PlanPath)
		if err != nil {
			return config.Config{}, nil, fmt.Errorf("resolve --plan: %w", err)
		}
		cfg.Paths.Plan = abs
	}
	root := cfg.Workspace
	if strings.TrimSpace(opts.Workspace) != "" {
		root = opts.Workspace
	}
	ws, err := workspace.Resolve(root, cfg.Paths)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, ws, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})).With("app", appName)
}
