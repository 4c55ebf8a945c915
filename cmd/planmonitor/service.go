package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"planmonitor/internal/service"
)

func newServiceCmd(opts *globalOptions, stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the macOS LaunchAgent that keeps the monitor running",
	}

	var binary string
	install := &cobra.Command{
		Use:   "install",
		Short: "Write the LaunchAgent definition for this workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, ws, err := loadEnvironment(opts)
			if err != nil {
				return err
			}
			if binary == "" {
				if binary, err = os.Executable(); err != nil {
					return fmt.Errorf("locate executable: %w", err)
				}
			}
			path, err := service.Install(ws, service.Options{
				Binary:     binary,
				ConfigPath: opts.ConfigPath,
				PlanPath:   opts.PlanPath,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Installed %s\n", path)
			fmt.Fprintf(stdout, "Diagnostics: %s\n", service.StderrPath(ws))
			return nil
		},
	}
	install.Flags().StringVar(&binary, "binary", "", "Path to the planmonitor binary (defaults to this executable)")

	simple := func(use, short, done string, fn func(cmd *cobra.Command) error) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := fn(cmd); err != nil {
					return err
				}
				fmt.Fprintln(stdout, done)
				return nil
			},
		}
	}

	cmd.AddCommand(install)
	cmd.AddCommand(simple("uninstall", "Unload and remove the LaunchAgent", "Uninstalled", func(*cobra.Command) error {
		_, ws, err := loadEnvironment(opts)
		if err != nil {
			return err
		}
		return service.Uninstall(ws)
	}))
	cmd.AddCommand(simple("start", "Load the LaunchAgent", "Started", func(*cobra.Command) error {
		_, ws, err := loadEnvironment(opts)
		if err != nil {
			return err
		}
		return service.Start(ws)
	}))
	cmd.AddCommand(simple("stop", "Unload the LaunchAgent", "Stopped", func(*cobra.Command) error {
		_, ws, err := loadEnvironment(opts)
		if err != nil {
			return err
		}
		return service.Stop(ws)
	}))
	cmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the LaunchAgent definition without installing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, ws, err := loadEnvironment(opts)
			if err != nil {
				return err
			}
			bin := binary
			if bin == "" {
				if bin, err = os.Executable(); err != nil {
					return fmt.Errorf("locate executable: %w", err)
				}
			}
			plist, err := service.GeneratePlist(ws, service.Options{Binary: bin, ConfigPath: opts.ConfigPath, PlanPath: opts.PlanPath})
			if err != nil {
				return err
			}
			fmt.Fprint(stdout, plist)
			return nil
		},
	})
	return cmd
}
