package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"planmonitor/internal/budget"
	"planmonitor/internal/monitor"
)

func newScheduleCmd(opts *globalOptions, stdout io.Writer) *cobra.Command {
	var items int
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print the chunked processing schedule for a workload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadEnvironment(opts)
			if err != nil {
				return err
			}
			guard := budget.NewGuard(budget.Config{
				DailyBudget:    cfg.TokenBudget,
				PerItemTokens:  cfg.PerItemTokens,
				OverheadTokens: cfg.OverheadTokens,
			})
			sched, err := budget.PlanSchedule(guard, items, cfg.ContextWindow)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(sched, "", "  ")
			if err != nil {
				return fmt.Errorf("encode schedule: %w", err)
			}
			fmt.Fprintln(stdout, string(data))
			return nil
		},
	}
	cmd.Flags().IntVar(&items, "items", monitor.ScheduleItems, "Number of work items to schedule")
	return cmd
}
