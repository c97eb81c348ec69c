package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/gantry/internal/app"
	"github.com/felixgeelhaar/gantry/internal/domain/registry"
)

// installWait bounds how long install commands wait for the registry to
// finish staging and loading a package.
const installWait = 30 * time.Second

var installCmd = &cobra.Command{
	Use:   "install <source>",
	Short: "Install a packaged extension",
	Long: `Install an extension from a package directory or zip archive.

The package is staged, its manifest validated, and the files moved into
the profile's Extensions directory. An upgrade that requests more
permissions than the installed version leaves the extension disabled
until it is re-enabled.

Examples:
  gantry install ./my-extension
  gantry install downloads/toolbar-1.2.0.zip`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withHost(func(ctx context.Context, h *app.Host) error {
			return runInstall(ctx, h, args[0])
		})
	},
}

var loadCmd = &cobra.Command{
	Use:   "load <dir>",
	Short: "Load an unpacked extension",
	Long: `Load a developer extension straight from a directory, without
copying it into the profile. The id derives from the directory path, so
the same directory always loads as the same extension.

Examples:
  gantry load ~/src/my-extension`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withHost(func(ctx context.Context, h *app.Host) error {
			return runLoad(ctx, h, args[0])
		})
	},
}

var uninstallCmd = &cobra.Command{
	Use:     "uninstall <id>",
	Aliases: []string{"remove", "rm"},
	Short:   "Uninstall an extension",
	Long: `Remove an installed extension: unload it, delete its record, and
delete its files from the profile.

An extension that came from an external source is remembered as
uninstalled, so the source cannot reinstall it on the next scan.

Examples:
  gantry uninstall aaaabbbbccccddddeeeeffffgggghhhh`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return withHost(func(ctx context.Context, h *app.Host) error {
			return runUninstall(ctx, h, args[0])
		})
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(uninstallCmd)
}

func runInstall(ctx context.Context, h *app.Host, source string) error {
	abs, err := filepath.Abs(source)
	if err != nil {
		return err
	}
	done, stop := watchInstallOutcome(h)
	defer stop()

	if err := h.Registry().InstallExtension(ctx, abs); err != nil {
		return err
	}
	return reportInstallOutcome(ctx, h, done)
}

func runLoad(ctx context.Context, h *app.Host, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	done, stop := watchInstallOutcome(h)
	defer stop()

	if err := h.Registry().LoadExtension(ctx, abs); err != nil {
		return err
	}
	return reportInstallOutcome(ctx, h, done)
}

func runUninstall(ctx context.Context, h *app.Host, id string) error {
	ext, err := h.Registry().Extension(ctx, id, true)
	if err != nil {
		return fmt.Errorf("extension %q: %w", id, err)
	}

	// A user-initiated removal of an externally-provided extension must
	// stick across provider rescans.
	external := ext.Location.IsExternal()
	if err := h.Registry().UninstallExtension(ctx, ext.ID, external); err != nil {
		return err
	}

	fmt.Printf("Uninstalled %s %s\n", ext.Name(), ext.Manifest.Version)
	if external {
		fmt.Println("The external source that provided it will not reinstall it.")
	}
	return nil
}

// watchInstallOutcome subscribes to the events that end install attempts
// and forwards them. The handler runs on the registry's own goroutine, so
// it never blocks; a full buffer drops events instead.
func watchInstallOutcome(h *app.Host) (<-chan registry.Event, func()) {
	done := make(chan registry.Event, 16)
	cancel := h.Events().Subscribe(func(ev registry.Event) {
		switch ev.Kind {
		case registry.EventInstalled, registry.EventThemeInstalled,
			registry.EventNoThemeDetected, registry.EventOverinstalled,
			registry.EventInstallError:
			select {
			case done <- ev:
			default:
			}
		}
	})
	return done, cancel
}

func reportInstallOutcome(ctx context.Context, h *app.Host, done <-chan registry.Event) error {
	select {
	case ev := <-done:
		switch ev.Kind {
		case registry.EventInstallError:
			return errors.New(ev.Err)
		case registry.EventOverinstalled, registry.EventNoThemeDetected:
			if ev.Extension != nil {
				fmt.Printf("Already installed: %s %s\n", ev.Extension.Name(), ev.Extension.Manifest.Version)
			} else {
				fmt.Println("Already installed.")
			}
			return nil
		default:
			if ev.Extension == nil {
				fmt.Println("Installed.")
				return nil
			}
			fmt.Printf("Installed %s %s (%s)\n", ev.Extension.Name(), ev.Extension.Manifest.Version, ev.Extension.ID)
			if _, err := h.Registry().Extension(ctx, ev.Extension.ID, false); err != nil {
				fmt.Println("The extension is disabled because it requests new permissions.")
				fmt.Printf("Approve them with: gantry enable %s\n", ev.Extension.ID)
			}
			return nil
		}
	case <-time.After(installWait):
		return errors.New("timed out waiting for the install to finish")
	}
}
