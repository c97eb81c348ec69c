package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/gantry/internal/app"
	"github.com/felixgeelhaar/gantry/internal/domain/extension"
	"github.com/felixgeelhaar/gantry/internal/domain/registry"
)

var enableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a disabled extension",
	Long: `Move a disabled extension back into the running set.

Enabling also accepts any new permissions a disabling upgrade asked for.

Examples:
  gantry enable aaaabbbbccccddddeeeeffffgggghhhh`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withHost(func(ctx context.Context, h *app.Host) error {
			return runEnable(ctx, h, args[0])
		})
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable an enabled extension",
	Long: `Unload an extension and keep it installed. The state persists, so
the extension stays off across host restarts until it is enabled again.

Examples:
  gantry disable aaaabbbbccccddddeeeeffffgggghhhh`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withHost(func(ctx context.Context, h *app.Host) error {
			return runDisable(ctx, h, args[0])
		})
	},
}

var reloadAll bool

var reloadCmd = &cobra.Command{
	Use:   "reload [id]",
	Short: "Reload extensions",
	Long: `Unload an extension and load it back from its installed files,
picking up edits to unpacked extensions. With --all, the whole installed
set is reloaded.

Examples:
  gantry reload aaaabbbbccccddddeeeeffffgggghhhh
  gantry reload --all`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withHost(func(ctx context.Context, h *app.Host) error {
			if reloadAll {
				return runReloadAll(ctx, h)
			}
			if len(args) == 0 {
				return fmt.Errorf("an extension id or --all is required")
			}
			return runReload(ctx, h, args[0])
		})
	},
}

var incognitoCmd = &cobra.Command{
	Use:   "incognito <id> <on|off>",
	Short: "Allow or forbid an extension in incognito sessions",
	Long: `Control whether an installed extension may run in incognito
sessions. The setting persists in the profile.

Examples:
  gantry incognito aaaabbbbccccddddeeeeffffgggghhhh on`,
	Args: cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		return withHost(func(ctx context.Context, h *app.Host) error {
			return runIncognito(ctx, h, args[0], args[1])
		})
	},
}

func init() {
	reloadCmd.Flags().BoolVar(&reloadAll, "all", false, "reload every installed extension")

	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(disableCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(incognitoCmd)
}

func runEnable(ctx context.Context, h *app.Host, id string) error {
	reg := h.Registry()
	ext, err := reg.Extension(ctx, id, true)
	if err != nil {
		return fmt.Errorf("extension %q: %w", id, err)
	}
	if _, err := reg.Extension(ctx, ext.ID, false); err == nil {
		fmt.Printf("%s is already enabled.\n", ext.Name())
		return nil
	}

	if err := reg.EnableExtension(ctx, ext.ID); err != nil {
		return err
	}
	fmt.Printf("Enabled %s %s\n", ext.Name(), ext.Manifest.Version)
	return nil
}

func runDisable(ctx context.Context, h *app.Host, id string) error {
	reg := h.Registry()
	ext, err := reg.Extension(ctx, id, true)
	if err != nil {
		return fmt.Errorf("extension %q: %w", id, err)
	}
	if _, err := reg.Extension(ctx, ext.ID, false); err != nil {
		fmt.Printf("%s is already disabled.\n", ext.Name())
		return nil
	}

	if err := reg.DisableExtension(ctx, ext.ID); err != nil {
		return err
	}
	fmt.Printf("Disabled %s %s\n", ext.Name(), ext.Manifest.Version)
	return nil
}

func runReload(ctx context.Context, h *app.Host, id string) error {
	reg := h.Registry()
	ext, err := reg.Extension(ctx, id, true)
	if err != nil {
		return fmt.Errorf("extension %q: %w", id, err)
	}

	done, stop := watchInstallOutcome(h)
	defer stop()

	if err := reg.ReloadExtension(ctx, ext.ID); err != nil {
		return err
	}

	// A reload from the persisted record finishes inside the call. Only an
	// extension whose record is gone goes back through the directory parser,
	// in which case the outcome arrives as an install event.
	if cur, err := reg.Extension(ctx, ext.ID, true); err == nil {
		return reportReloaded(ctx, reg, cur)
	}

	select {
	case ev := <-done:
		if ev.Kind == registry.EventInstallError {
			return errors.New(ev.Err)
		}
		cur, err := reg.Extension(ctx, ext.ID, true)
		if err != nil {
			return fmt.Errorf("extension %q: %w", ext.ID, err)
		}
		return reportReloaded(ctx, reg, cur)
	case <-time.After(installWait):
		return errors.New("timed out waiting for the reload to finish")
	}
}

func reportReloaded(ctx context.Context, reg *registry.Service, ext *extension.Extension) error {
	fmt.Printf("Reloaded %s %s\n", ext.Name(), ext.Manifest.Version)
	if _, err := reg.Extension(ctx, ext.ID, false); err != nil {
		fmt.Printf("The extension is disabled. Enable it with: gantry enable %s\n", ext.ID)
	}
	return nil
}

func runReloadAll(ctx context.Context, h *app.Host) error {
	if err := h.Registry().ReloadAll(ctx); err != nil {
		return err
	}
	enabled, err := h.Registry().Extensions(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Reloaded the installed set: %d extension(s) running.\n", len(enabled))
	return nil
}

func runIncognito(ctx context.Context, h *app.Host, id, mode string) error {
	var enabled bool
	switch mode {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		return fmt.Errorf("mode must be \"on\" or \"off\", got %q", mode)
	}

	reg := h.Registry()
	ext, err := reg.Extension(ctx, id, true)
	if err != nil {
		return fmt.Errorf("extension %q: %w", id, err)
	}
	if err := reg.SetIncognitoEnabled(ctx, ext.ID, enabled); err != nil {
		return err
	}
	fmt.Printf("Incognito %s for %s\n", mode, ext.Name())
	return nil
}
