package main

import (
	"time"

	"github.com/ashureev/study-buddy/internal/janitor"
	"github.com/spf13/cobra"
)

func newDevicesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Inspect known devices",
	}

	var inactive time.Duration
	list := &cobra.Command{
		Use:   "list",
		Short: "List devices inactive for at least --inactive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			devices, err := a.repo.GetExpiredDevices(ctx, inactive)
			if err != nil {
				return err
			}
			for _, d := range devices {
				printf(cmd.OutOrStdout(), "%s  last seen %s\n", d.DeviceID, d.LastSeenAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	list.Flags().DurationVar(&inactive, "inactive", 0, "Only devices idle at least this long")

	var ttl time.Duration
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Delete devices idle longer than --ttl with all their sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			n := janitor.Sweep(ctx, a.repo, a.kv, ttl, nil)
			printf(cmd.OutOrStdout(), "removed %d devices\n", n)
			return nil
		},
	}
	sweep.Flags().DurationVar(&ttl, "ttl", 90*24*time.Hour, "Inactivity threshold")

	cmd.AddCommand(list, sweep)
	return cmd
}
