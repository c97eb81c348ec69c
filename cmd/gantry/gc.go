package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/gantry/internal/app"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Sweep orphaned extension directories",
	Long: `Delete every directory under the profile's install root that no
installed record claims, plus staged installs that never finished.
The same sweep runs on every start unless gc_on_startup is off; run
with --verbose to see what is removed.

Examples:
  gantry gc`,
	Args: cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return withHost(func(ctx context.Context, h *app.Host) error {
			return runGC(ctx, h)
		})
	},
}

func init() {
	rootCmd.AddCommand(gcCmd)
}

func runGC(ctx context.Context, h *app.Host) error {
	if err := h.Collector().Collect(ctx); err != nil {
		return err
	}
	fmt.Println("Swept the install and staging directories.")
	return nil
}
