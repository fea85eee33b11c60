package main

import (
	"fmt"
	"slices"
	"time"

	"github.com/ashureev/study-buddy/internal/domain"
	"github.com/ashureev/study-buddy/internal/registry"
	"github.com/spf13/cobra"
)

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage a device's learning sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireDevice(); err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			entries, err := registry.Build(ctx, a.sessions(), time.Now())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				printf(out, "no sessions\n")
				return nil
			}
			for _, e := range entries {
				marker := " "
				if e.IsCurrent {
					marker = "*"
				}
				printf(out, "%s %s  %s\n", marker, e.ID, e.Display)
			}
			return nil
		},
	})

	var ensure bool
	current := &cobra.Command{
		Use:   "current",
		Short: "Print the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireDevice(); err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			sessions := a.sessions()
			if ensure {
				id, err := sessions.Ensure(ctx)
				if err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "%s\n", id)
				return nil
			}
			id, ok, err := sessions.Current(ctx)
			if err != nil {
				return err
			}
			if !ok {
				printf(cmd.OutOrStdout(), "not started\n")
				return nil
			}
			printf(cmd.OutOrStdout(), "%s\n", id)
			return nil
		},
	}
	current.Flags().BoolVar(&ensure, "ensure", false, "Start a session when none is current")
	cmd.AddCommand(current)

	cmd.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Start a new session and make it current",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireDevice(); err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			created, err := a.sessions().Create(ctx)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%s\n", created.ID)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "switch <session-id>",
		Short: "Make a session current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireDevice(); err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			sessions := a.sessions()
			all, err := sessions.ListAll(ctx)
			if err != nil {
				return err
			}
			if !slices.ContainsFunc(all, func(s domain.SessionIdentity) bool { return s.ID == args[0] }) {
				return fmt.Errorf("unknown session %q", args[0])
			}
			if err := sessions.SwitchTo(ctx, args[0]); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "current session: %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>",
		Short: "Forget a session on this device",
		Long:  "Removes the session from the device's list. Backend history is kept.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireDevice(); err != nil {
				return err
			}
			ctx, cancel := a.context(cmd)
			defer cancel()

			replacement, err := a.sessions().DeleteMetadata(ctx, args[0])
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			if replacement != nil {
				printf(cmd.OutOrStdout(), "current session: %s\n", replacement.ID)
			}
			return nil
		},
	})

	return cmd
}
