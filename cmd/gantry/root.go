package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/gantry/internal/adapters/logging"
	"github.com/felixgeelhaar/gantry/internal/app"
	"github.com/felixgeelhaar/gantry/internal/ports"
)

var (
	// Global flags
	profileFlag string
	verbose     bool
	logJSON     bool
)

var rootCmd = &cobra.Command{
	Use:   "gantry",
	Short: "An extension lifecycle manager",
	Long: `Gantry manages the extension set of a host profile: installing,
updating, enabling and disabling, and uninstalling extensions, with
external install sources and a background update checker.

Everything lives in a profile directory (default: ~/.gantry):
  Extensions/   installed extension versions
  Staging/      installs being unpacked
  Downloads/    fetched update packages
  prefs.yaml    installed-set records
  gantry.yaml   host configuration`,
	SilenceErrors: true, // We handle error formatting ourselves
	SilenceUsage:  true, // Don't show usage on error
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		printError(err)
		return err
	}
	return nil
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "profile directory (default: $GANTRY_PROFILE, then ~/.gantry)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "write logs as JSON")

	rootCmd.AddCommand(versionCmd)
}

// newHost assembles a host for the selected profile. The --profile flag
// wins over GANTRY_PROFILE, which wins over ~/.gantry.
func newHost() (*app.Host, error) {
	profile := profileFlag
	if profile == "" {
		profile = os.Getenv("GANTRY_PROFILE")
	}
	if profile == "" {
		var err error
		profile, err = app.DefaultProfileDir()
		if err != nil {
			return nil, fmt.Errorf("resolving profile directory: %w", err)
		}
	}

	level := ports.LevelWarn
	if verbose {
		level = ports.LevelDebug
	}
	logger := logging.NewConsoleLogger(
		logging.WithLevel(level),
		logging.WithJSONFormat(logJSON),
	)
	return app.New(profile, app.WithLogger(logger))
}

// withHost starts a host for the selected profile, waits for the installed
// set to load, runs fn, and tears the host down.
func withHost(fn func(ctx context.Context, h *app.Host) error) error {
	ctx := context.Background()
	h, err := newHost()
	if err != nil {
		return err
	}
	if err := h.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = h.Stop(context.Background()) }()
	if err := h.WaitReady(ctx); err != nil {
		return err
	}
	return fn(ctx, h)
}

// printError prints an error message to stderr with proper formatting.
func printError(err error) {
	printErrorTo(os.Stderr, err)
}

// printErrorTo prints an error message to the given writer.
func printErrorTo(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "Error: %s\n", err)
}
