package registry

import (
	"time"

	"github.com/felixgeelhaar/gantry/internal/domain/extension"
)

// InstalledInfo is one persisted extension record from the preference store.
type InstalledInfo struct {
	// ID is the extension id the record is keyed by.
	ID string
	// Path is the install directory recorded at install time.
	Path string
	// Location records where the extension came from.
	Location extension.Location
	// Manifest is the cached manifest, or nil when the stored copy is
	// missing or unreadable.
	Manifest *extension.Manifest
}

// PreferenceStore persists extension metadata and state across runs. The
// coordinator is the only writer; implementations add their own locking for
// concurrent readers such as CLI inspection commands.
type PreferenceStore interface {
	// InstalledExtensionsInfo returns every persisted record in install
	// order, excluding blacklisted ids. Records whose cached manifest is
	// unreadable are still returned with a nil Manifest.
	InstalledExtensionsInfo() []*InstalledInfo

	// UpdateManifest replaces the cached manifest document for id.
	UpdateManifest(id string, raw []byte) error

	// OnExtensionInstalled records a completed install with its initial
	// enable state.
	OnExtensionInstalled(ext *extension.Extension, initialState extension.State) error

	// OnExtensionUninstalled removes the record for id. When an external
	// extension is uninstalled at the user's request, the id is remembered
	// as killed so providers never reinstall it.
	OnExtensionUninstalled(id string, location extension.Location, externalUninstall bool) error

	// SetExtensionState persists the enable state for id.
	SetExtensionState(id string, state extension.State) error

	// ExtensionState returns the persisted state for id. Ids with no
	// recorded state default to enabled.
	ExtensionState(id string) extension.State

	// SetDidEscalatePermissions flags that an upgrade for id wanted more
	// privileges than the user had granted.
	SetDidEscalatePermissions(id string, escalated bool) error

	// DidEscalatePermissions reports the escalation flag for id.
	DidEscalatePermissions(id string) bool

	// UpdateBlacklist replaces the persisted blacklist. Blacklisted ids
	// stop appearing in InstalledExtensionsInfo; the registry itself never
	// filters loads against the list.
	UpdateBlacklist(ids []string) error

	// SetLastPingDay records the day an update ping was sent for id.
	SetLastPingDay(id string, day time.Time) error

	// LastPingDay returns the recorded ping day for id.
	LastPingDay(id string) (time.Time, bool)

	// SetIncognitoEnabled persists whether id may run in incognito.
	SetIncognitoEnabled(id string, enabled bool) error

	// IsIncognitoEnabled reports the incognito setting for id.
	IsIncognitoEnabled(id string) bool

	// KilledExtensionIDs returns the ids externally-installed extensions
	// were uninstalled under.
	KilledExtensionIDs() map[string]struct{}
}
