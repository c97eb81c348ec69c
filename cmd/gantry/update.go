package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/gantry/internal/app"
	"github.com/felixgeelhaar/gantry/internal/domain/extension"
	"github.com/felixgeelhaar/gantry/internal/domain/registry"
	"github.com/felixgeelhaar/gantry/internal/domain/updater"
)

var (
	updateStatusJSON bool
	pendingURL       string
	pendingTheme     bool
	pendingSilent    bool
	blacklistClear   bool
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Check for and apply extension updates",
	Long: `Talk to the galleries installed extensions name in their update_url
and apply any newer versions they offer.`,
}

var updateCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Run an update check now",
	Long: `Query every gallery with installed extensions and install the offers
that improve on what is already there. An update that requests new
permissions is installed but left disabled until it is approved.

Examples:
  gantry update check`,
	Args: cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return withHost(func(ctx context.Context, h *app.Host) error {
			return runUpdateCheck(ctx, h)
		})
	},
}

var updateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the update agent status",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return withHost(func(_ context.Context, h *app.Host) error {
			return runUpdateStatus(h)
		})
	},
}

var updatePendingCmd = &cobra.Command{
	Use:   "pending <id>",
	Short: "Fetch and install an extension by id",
	Long: `Ask the update agent to fetch an extension that is not installed
yet. The id is queued as a requested install and a check runs
immediately, so the package lands in this invocation if a gallery
offers it.

Examples:
  gantry update pending aaaabbbbccccddddeeeeffffgggghhhh
  gantry update pending aaaabbbbccccddddeeeeffffgggghhhh --url https://gallery.example.com/index`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withHost(func(ctx context.Context, h *app.Host) error {
			return runUpdatePending(ctx, h, args[0])
		})
	},
}

var updateBlacklistCmd = &cobra.Command{
	Use:   "blacklist [id...]",
	Short: "Replace the set of banned extension ids",
	Long: `Replace the persisted blacklist. Banned extensions are unloaded
immediately and skipped on every later start; components are exempt.
The given ids replace the whole list, so repeat ids that should stay
banned. With --clear, every ban is lifted.

Examples:
  gantry update blacklist aaaabbbbccccddddeeeeffffgggghhhh
  gantry update blacklist --clear`,
	RunE: func(_ *cobra.Command, args []string) error {
		return withHost(func(ctx context.Context, h *app.Host) error {
			return runUpdateBlacklist(ctx, h, args)
		})
	},
}

func init() {
	updateStatusCmd.Flags().BoolVar(&updateStatusJSON, "json", false, "print the status as JSON")
	updatePendingCmd.Flags().StringVar(&pendingURL, "url", "", "gallery to fetch from (default: the public gallery)")
	updatePendingCmd.Flags().BoolVar(&pendingTheme, "theme", false, "expect the package to be a theme")
	updatePendingCmd.Flags().BoolVar(&pendingSilent, "silent", false, "grant the package's permissions without prompting")
	updateBlacklistCmd.Flags().BoolVar(&blacklistClear, "clear", false, "lift every ban")

	updateCmd.AddCommand(updateCheckCmd)
	updateCmd.AddCommand(updateStatusCmd)
	updateCmd.AddCommand(updatePendingCmd)
	updateCmd.AddCommand(updateBlacklistCmd)
	rootCmd.AddCommand(updateCmd)
}

// updateAgent returns the host's update agent, or an error when the
// profile configuration turned it off.
func updateAgent(h *app.Host) (*updater.Agent, error) {
	agent := h.Updater()
	if agent == nil {
		return nil, errors.New("the update agent is disabled in this profile (updater.enabled: false)")
	}
	return agent, nil
}

func runUpdateCheck(ctx context.Context, h *app.Host) error {
	agent, err := updateAgent(h)
	if err != nil {
		return err
	}

	done, stop := watchInstallOutcome(h)
	defer stop()

	fmt.Println("Checking for updates...")
	before := agent.Status().UpdateCount
	checkErr := agent.CheckNow(ctx)
	handed := agent.Status().UpdateCount - before

	if err := reportUpdateOutcomes(ctx, h, done, handed); err != nil {
		return err
	}
	if checkErr != nil {
		return fmt.Errorf("update check: %w", checkErr)
	}
	return nil
}

// reportUpdateOutcomes waits for the installs a check handed to the
// registry and prints one line per outcome. Downloads complete before
// CheckNow returns; the unpack and load still run in the background.
func reportUpdateOutcomes(ctx context.Context, h *app.Host, done <-chan registry.Event, handed int) error {
	if handed == 0 {
		fmt.Println("Everything is up to date.")
		return nil
	}

	failures := 0
	deadline := time.After(installWait)
	for i := 0; i < handed; i++ {
		select {
		case ev := <-done:
			switch ev.Kind {
			case registry.EventInstallError:
				failures++
				fmt.Printf("Update failed: %s\n", ev.Err)
			case registry.EventOverinstalled, registry.EventNoThemeDetected:
				// The offered version was already in place when it arrived.
			default:
				if ev.Extension == nil {
					continue
				}
				fmt.Printf("Updated %s to %s\n", ev.Extension.Name(), ev.Extension.Manifest.Version)
				if _, err := h.Registry().Extension(ctx, ev.Extension.ID, false); err != nil {
					fmt.Println("The update requests new permissions, so the extension is disabled.")
					fmt.Printf("Approve them with: gantry enable %s\n", ev.Extension.ID)
				}
			}
		case <-deadline:
			return errors.New("timed out waiting for downloaded updates to install")
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d update(s) failed to install", failures)
	}
	return nil
}

func runUpdateStatus(h *app.Host) error {
	agent, err := updateAgent(h)
	if err != nil {
		return err
	}
	status := agent.Status()

	if updateStatusJSON {
		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	interval := h.Config().Updater.Interval
	if interval <= 0 {
		interval = updater.DefaultInterval
	}

	fmt.Printf("State:       %s\n", status.State)
	fmt.Printf("Interval:    %s\n", interval)
	if !status.StartedAt.IsZero() {
		fmt.Printf("Started:     %s\n", status.StartedAt.Format(time.DateTime))
	}
	if status.LastCheckAt.IsZero() {
		fmt.Println("Last check:  never")
	} else {
		fmt.Printf("Last check:  %s\n", status.LastCheckAt.Format(time.DateTime))
	}
	if !status.NextCheckAt.IsZero() {
		fmt.Printf("Next check:  %s\n", status.NextCheckAt.Format(time.DateTime))
	}
	fmt.Printf("Checks run:  %d\n", status.CheckCount)
	fmt.Printf("Updates:     %d\n", status.UpdateCount)
	fmt.Printf("Errors:      %d\n", status.ErrorCount)
	if status.LastError != "" {
		fmt.Printf("Last error:  %s\n", status.LastError)
	}
	return nil
}

func runUpdatePending(ctx context.Context, h *app.Host, rawID string) error {
	id := extension.NormalizeID(rawID)
	if !extension.ValidID(id) {
		return fmt.Errorf("%q is not a valid extension id", rawID)
	}
	agent, err := updateAgent(h)
	if err != nil {
		return err
	}

	reg := h.Registry()
	if ext, lookupErr := reg.Extension(ctx, id, true); lookupErr == nil {
		fmt.Printf("%s %s is already installed.\n", ext.Name(), ext.Manifest.Version)
		return nil
	}
	if err := reg.AddPendingExtension(ctx, id, pendingURL, pendingTheme, pendingSilent); err != nil {
		return err
	}

	done, stop := watchInstallOutcome(h)
	defer stop()

	fmt.Printf("Fetching %s...\n", id)
	before := agent.Status().UpdateCount
	if err := agent.CheckNow(ctx); err != nil {
		return fmt.Errorf("update check: %w", err)
	}
	handed := agent.Status().UpdateCount - before

	// Every handed-off package ends in exactly one install event, for this
	// id or not. Drain them all, then judge by what is installed.
	deadline := time.After(installWait)
	for i := 0; i < handed; i++ {
		select {
		case <-done:
		case <-deadline:
			return errors.New("timed out waiting for the downloaded package to install")
		}
	}

	if ext, lookupErr := reg.Extension(ctx, id, true); lookupErr == nil {
		fmt.Printf("Installed %s %s\n", ext.Name(), ext.Manifest.Version)
		if _, enabledErr := reg.Extension(ctx, id, false); enabledErr != nil {
			fmt.Printf("The extension is disabled. Enable it with: gantry enable %s\n", id)
		}
		return nil
	}
	pending, pendErr := reg.PendingInstalls(ctx)
	if pendErr != nil {
		return pendErr
	}
	if _, waiting := pending[id]; waiting {
		return fmt.Errorf("no gallery offered a package for %s", id)
	}
	return fmt.Errorf("the downloaded package for %s could not be installed", id)
}

func runUpdateBlacklist(ctx context.Context, h *app.Host, ids []string) error {
	if blacklistClear && len(ids) > 0 {
		return errors.New("--clear does not take ids")
	}
	if !blacklistClear && len(ids) == 0 {
		return errors.New("pass the ids to ban, or --clear to lift every ban")
	}
	for _, id := range ids {
		if !extension.ValidID(extension.NormalizeID(id)) {
			return fmt.Errorf("%q is not a valid extension id", id)
		}
	}

	if err := h.Registry().UpdateBlacklist(ctx, ids); err != nil {
		return err
	}
	if blacklistClear {
		fmt.Println("Blacklist cleared.")
		return nil
	}
	fmt.Printf("Blacklist replaced: %d id(s) banned.\n", len(ids))
	return nil
}
