package registry

import (
	"context"

	"github.com/felixgeelhaar/gantry/internal/domain/extension"
)

// EventKind names a registry lifecycle event.
type EventKind string

const (
	// EventLoaded fires when an extension enters the enabled set.
	EventLoaded EventKind = "loaded"
	// EventUnloaded fires when an enabled extension leaves the live set.
	EventUnloaded EventKind = "unloaded"
	// EventUnloadedDisabled fires when a disabled extension leaves the
	// live set.
	EventUnloadedDisabled EventKind = "unloaded-disabled"
	// EventInstalled fires once per completed non-theme install.
	EventInstalled EventKind = "installed"
	// EventThemeInstalled fires once per completed theme install, and
	// again when a theme install turns out to be redundant.
	EventThemeInstalled EventKind = "theme-installed"
	// EventNoThemeDetected fires when a redundant install was not a theme.
	EventNoThemeDetected EventKind = "no-theme-detected"
	// EventOverinstalled fires when a load carries a version that is not
	// newer than the one already loaded.
	EventOverinstalled EventKind = "overinstalled"
	// EventUpdateDisabled fires when an extension stays disabled because
	// an update asked for more privileges than were granted.
	EventUpdateDisabled EventKind = "update-disabled"
	// EventInstallError fires when a load or install fails.
	EventInstallError EventKind = "install-error"
	// EventReady fires each time startup loading completes, including
	// after ReloadAll.
	EventReady EventKind = "ready"
)

// Event is one registry notification. Extension is a deep copy owned by the
// receiver; it is nil for EventReady and for install errors with no parsed
// extension.
type Event struct {
	Kind      EventKind
	Extension *extension.Extension
	// Path is the source path for install errors.
	Path string
	// Err is the failure description for EventInstallError.
	Err string
}

// Notifier fans registry events out to interested parties. Publish is called
// from the coordinator's own goroutine and must not block on slow consumers.
type Notifier interface {
	Publish(ctx context.Context, event Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, Event) {}
