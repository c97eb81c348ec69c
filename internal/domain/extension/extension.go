// Package extension defines the extension entity: its manifest, identity,
// install location, and persisted state.
package extension

import (
	"fmt"

	version "github.com/hashicorp/go-version"
)

// Location indicates where an extension was installed from.
type Location string

const (
	// LocationInternal is an extension installed from the store.
	LocationInternal Location = "internal"
	// LocationUnpacked is a developer extension loaded from a local directory.
	LocationUnpacked Location = "unpacked"
	// LocationComponent is an extension bundled with the host itself.
	LocationComponent Location = "component"
	// LocationExternalPref is an extension declared by an external preference file.
	LocationExternalPref Location = "external-pref"
	// LocationExternalRegistry is an extension declared by a system registration entry.
	LocationExternalRegistry Location = "external-registry"
)

// IsExternal returns true for locations vended by external providers.
func (l Location) IsExternal() bool {
	return l == LocationExternalPref || l == LocationExternalRegistry
}

// RequiresKey returns true if manifests from this location must carry a
// public key. Unpacked developer extensions derive their id from the
// install path instead.
func (l Location) RequiresKey() bool {
	return l != LocationUnpacked
}

// Valid returns true if the location is a known value.
func (l Location) Valid() bool {
	switch l {
	case LocationInternal, LocationUnpacked, LocationComponent,
		LocationExternalPref, LocationExternalRegistry:
		return true
	}
	return false
}

// ParseLocation converts a persisted location string.
func ParseLocation(s string) (Location, error) {
	l := Location(s)
	if !l.Valid() {
		return "", fmt.Errorf("unknown extension location %q", s)
	}
	return l, nil
}

// State is the persisted enable state of an installed extension.
type State string

const (
	// StateEnabled means the extension loads and runs.
	StateEnabled State = "enabled"
	// StateDisabled means the extension stays installed but does not load.
	StateDisabled State = "disabled"
	// StateKilled marks an externally-installed extension the user
	// uninstalled. Providers must never reinstall it.
	StateKilled State = "killed"
)

// Valid returns true if the state is a known value.
func (s State) Valid() bool {
	switch s {
	case StateEnabled, StateDisabled, StateKilled:
		return true
	}
	return false
}

// ParseState converts a persisted state string.
func ParseState(s string) (State, error) {
	st := State(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown extension state %q", s)
	}
	return st, nil
}

// URLScheme is the scheme of canonical extension origins.
const URLScheme = "ext"

// Extension represents a single installed or loaded extension.
type Extension struct {
	// ID is the 32-character identifier derived from the manifest key
	// (or the install path for unpacked extensions).
	ID string
	// Path is the absolute install directory.
	Path string
	// Location records where the extension came from.
	Location Location
	// Manifest is the parsed manifest plus its raw bytes.
	Manifest *Manifest
	// BeingUpgraded is true only between the unload of an old version and
	// the completed load of its replacement.
	BeingUpgraded bool

	version *version.Version
}

// New builds an Extension from a validated manifest. The manifest must have
// passed Validate for the given location; New still rejects manifests whose
// version does not parse or whose key is missing when the location needs one.
func New(manifest *Manifest, path string, location Location) (*Extension, error) {
	if manifest == nil {
		return nil, ErrNilManifest
	}

	v, err := ParseVersion(manifest.Version)
	if err != nil {
		return nil, err
	}

	var id string
	if manifest.Key != "" {
		id, err = IDFromKeyString(manifest.Key)
		if err != nil {
			return nil, err
		}
	} else {
		if location.RequiresKey() {
			return nil, ErrKeyRequired
		}
		id = IDFromPath(path)
	}

	return &Extension{
		ID:       id,
		Path:     path,
		Location: location,
		Manifest: manifest,
		version:  v,
	}, nil
}

// Version returns the parsed extension version.
func (e *Extension) Version() *version.Version {
	return e.version
}

// Name returns the manifest name.
func (e *Extension) Name() string {
	return e.Manifest.Name
}

// IsTheme returns true if the extension is a theme.
func (e *Extension) IsTheme() bool {
	return e.Manifest.IsTheme()
}

// Origin returns the canonical URL origin for the extension,
// used when clearing site data on uninstall.
func (e *Extension) Origin() string {
	return fmt.Sprintf("%s://%s/", URLScheme, e.ID)
}

// String returns a human-readable description.
func (e *Extension) String() string {
	return fmt.Sprintf("%s@%s", e.ID, e.Manifest.Version)
}

// Clone creates a deep copy of the Extension.
func (e *Extension) Clone() *Extension {
	if e == nil {
		return nil
	}
	return &Extension{
		ID:            e.ID,
		Path:          e.Path,
		Location:      e.Location,
		Manifest:      e.Manifest.Clone(),
		BeingUpgraded: e.BeingUpgraded,
		version:       e.version,
	}
}
