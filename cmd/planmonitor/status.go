package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"planmonitor/internal/checkpoint"
	"planmonitor/internal/monitor"
	"planmonitor/internal/plan"
	"planmonitor/internal/workspace"
)

func newStatusCmd(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var alertLimit int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest checkpoint, last run and recent alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, ws, err := loadEnvironment(opts)
			if err != nil {
				return err
			}
			store, err := monitor.OpenState(ws.StateDBPath)
			if err != nil {
				return fmt.Errorf("open state store: %w", err)
			}
			defer store.Close()

			session := resolveSession(ws, store, "")
			fmt.Fprintf(stdout, "Session: %s\n", session)
			fmt.Fprintln(stdout)

			run, err := store.LastRun()
			if err != nil {
				return err
			}
			if run == nil {
				fmt.Fprintln(stdout, "Last run: none")
			} else {
				finished := "running"
				if run.FinishedAt != nil {
					finished = run.FinishedAt.Format(time.RFC3339)
				}
				total, failed, err := store.TickCount(run.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "Last run: %s [%s] started=%s finished=%s ticks=%d failed=%d\n",
					run.ID, run.Status, run.StartedAt.Format(time.RFC3339), finished, total, failed)
				if run.SummaryJSON != "" {
					fmt.Fprintf(stdout, "  summary: %s\n", run.SummaryJSON)
				}
			}
			fmt.Fprintln(stdout)

			cps := checkpoint.NewStore(ws.CheckpointDir)
			if cp, ok := cps.LoadLatest(session); ok {
				var st monitor.SessionState
				if err := cp.Decode(&st); err != nil {
					return fmt.Errorf("decode checkpoint: %w", err)
				}
				fmt.Fprintf(stdout, "Latest checkpoint: %s\n", checkpoint.FileName(session, cp.TakenAt))
				fmt.Fprintf(stdout, "  status=%s phase=%s tick_index=%d strategy=%s consecutive_errors=%d\n",
					st.Status, st.Phase, st.TickIndex, st.Strategy, st.ConsecutiveErrors)
				if st.ShutdownReason != "" {
					fmt.Fprintf(stdout, "  shutdown_reason=%s\n", st.ShutdownReason)
				}
				if st.Error != "" {
					fmt.Fprintf(stdout, "  error=%s\n", st.Error)
				}
			} else {
				fmt.Fprintln(stdout, "Latest checkpoint: none")
			}
			fmt.Fprintln(stdout)

			alerts, err := store.RecentAlerts(alertLimit)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Recent alerts (%d):\n", len(alerts))
			for _, a := range alerts {
				fmt.Fprintf(stdout, "  tick=%d %s\n", a.TickIndex, a.Line())
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&alertLimit, "alerts", 10, "Number of recent alerts to show")
	return cmd
}

func newCheckpointsCmd(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "List checkpoint files for a session with their validity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, ws, err := loadEnvironment(opts)
			if err != nil {
				return err
			}
			store, err := monitor.OpenState(ws.StateDBPath)
			if err != nil {
				return fmt.Errorf("open state store: %w", err)
			}
			defer store.Close()
			session = resolveSession(ws, store, session)

			entries, err := checkpoint.NewStore(ws.CheckpointDir).List(session)
			if err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("list checkpoints: %w", err)
			}
			fmt.Fprintf(stdout, "Checkpoints for %s (%d):\n", session, len(entries))
			for _, e := range entries {
				validity := "ok"
				if _, err := checkpoint.Read(e.Path); err != nil {
					validity = "invalid: " + err.Error()
				}
				fmt.Fprintf(stdout, "  %s  %s  %s\n", e.Name, e.ModTime.UTC().Format(time.RFC3339), validity)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Session id (defaults to the monitored plan's)")
	return cmd
}

// resolveSession picks the explicit session, then the one the monitor last
// wrote, then the one derived from the plan on disk.
func resolveSession(ws *workspace.Workspace, store *monitor.StateStore, explicit string) string {
	if s := strings.TrimSpace(explicit); s != "" {
		return s
	}
	if s, err := store.SessionID(); err == nil && s != "" {
		return s
	}
	if data, err := os.ReadFile(ws.PlanPath); err == nil {
		if st, err := plan.Decode(data); err == nil {
			return monitor.SessionIDFor(st)
		}
	}
	return monitor.SessionIDFor(nil)
}
