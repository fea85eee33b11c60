package main

import (
	"sort"

	"github.com/spf13/cobra"
)

func newSignalsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signals",
		Short: "Inspect signals waiting for a page",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show pending signals without consuming them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireDevice(); err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			pending, err := a.signals().Pending(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(pending) == 0 {
				printf(out, "no pending signals\n")
				return nil
			}
			names := make([]string, 0, len(pending))
			for name := range pending {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				printf(out, "%s = %s\n", name, pending[name])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop every pending signal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireDevice(); err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			if err := a.signals().ClearAll(ctx); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "signals cleared\n")
			return nil
		},
	})

	return cmd
}
