package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/gantry/internal/app"
	"github.com/felixgeelhaar/gantry/internal/tui"
)

var dashCmd = &cobra.Command{
	Use:   "dash",
	Short: "Open the live extension dashboard",
	Long: `Open a full-screen dashboard over the profile: the installed set
with enable, disable, and reload at a keypress, update agent status,
and registry events as they happen.

Examples:
  gantry dash
  gantry --profile /tmp/scratch dash`,
	Args: cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return withHost(func(ctx context.Context, h *app.Host) error {
			return runDash(ctx, h)
		})
	},
}

func init() {
	rootCmd.AddCommand(dashCmd)
}

func runDash(ctx context.Context, h *app.Host) error {
	deps := tui.DashDeps{
		Registry: h.Registry(),
		Events:   h.Events(),
		Profile:  h.ProfileDir(),
	}
	// A plain assignment would wrap the nil pointer into a non-nil
	// interface and the dashboard would take the agent for live.
	if agent := h.Updater(); agent != nil {
		deps.Updater = agent
	}

	_, err := tui.RunDash(ctx, deps, tui.NewDashOptions())
	return err
}
