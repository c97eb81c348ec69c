package extension

import (
	"encoding/json"
	"fmt"

	"golang.org/x/mod/semver"
)

// ManifestFilename is the manifest file every extension directory carries.
const ManifestFilename = "manifest.json"

// Manifest describes an extension's metadata and capabilities. The raw
// document is preserved alongside the typed view so the preference store
// can persist exactly what was read.
type Manifest struct {
	// Name is the display name.
	Name string `json:"name"`
	// Version is the dotted integer version (1 to 4 components).
	Version string `json:"version"`
	// Description is a short description.
	Description string `json:"description,omitempty"`
	// Key is the base64-encoded public key the id derives from.
	Key string `json:"key,omitempty"`
	// UpdateURL points at the update index that vends newer versions.
	UpdateURL string `json:"update_url,omitempty"`
	// MinHostVersion is the minimum host version the extension needs.
	MinHostVersion string `json:"minimum_host_version,omitempty"`
	// Permissions lists the capabilities the extension requests.
	Permissions []string `json:"permissions,omitempty"`
	// Theme holds theme definitions; its presence marks the package a theme.
	Theme map[string]interface{} `json:"theme,omitempty"`
	// Overrides maps built-in page kinds to replacement pages,
	// at most one entry per page kind.
	Overrides map[string]string `json:"page_overrides,omitempty"`
	// DefaultLocale names the fallback locale under _locales/.
	DefaultLocale string `json:"default_locale,omitempty"`
	// CurrentLocale records which locale the manifest was localized for.
	CurrentLocale string `json:"current_locale,omitempty"`

	// Raw is the manifest document exactly as read from disk.
	Raw []byte `json:"-"`
}

// ParseManifest decodes a manifest document, preserving the raw bytes.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestInvalid, err)
	}

	m.Raw = make([]byte, len(data))
	copy(m.Raw, data)
	return &m, nil
}

// IsTheme returns true if the manifest declares a theme.
func (m *Manifest) IsTheme() bool {
	return len(m.Theme) > 0
}

// SetCurrentLocale records which locale the manifest was localized for, in
// both the typed view and the raw document so persisted copies keep it.
func (m *Manifest) SetCurrentLocale(locale string) {
	m.CurrentLocale = locale

	var doc map[string]interface{}
	if err := json.Unmarshal(m.Raw, &doc); err != nil {
		return
	}
	doc["current_locale"] = locale
	if raw, err := json.Marshal(doc); err == nil {
		m.Raw = raw
	}
}

// Validate checks the manifest for structural problems. requireKey applies
// the location rule that installed extensions must carry a public key.
func (m *Manifest) Validate(requireKey bool) error {
	ve := &ValidationError{}

	if m.Name == "" {
		ve.Add("manifest is missing a name")
	}

	if m.Version == "" {
		ve.Add("manifest is missing a version")
	} else if _, err := ParseVersion(m.Version); err != nil {
		ve.Addf("manifest version %q is not a dotted integer version", m.Version)
	}

	if requireKey && m.Key == "" {
		ve.Add("manifest is missing the public key")
	}
	if m.Key != "" {
		if _, err := IDFromKeyString(m.Key); err != nil {
			ve.Addf("manifest key is not decodable: %v", err)
		}
	}

	for page, target := range m.Overrides {
		if page == "" || target == "" {
			ve.Add("page_overrides entries need both a page kind and a target")
			break
		}
	}

	if ve.HasErrors() {
		return ve
	}
	return nil
}

// CheckHostCompatibility verifies the manifest's minimum host version
// against the running host. Host versions follow semantic versioning.
func (m *Manifest) CheckHostCompatibility(hostVersion string) error {
	if m.MinHostVersion == "" {
		return nil
	}
	if !HostCompatible(m.MinHostVersion, hostVersion) {
		return &HostVersionError{Required: m.MinHostVersion, Host: hostVersion}
	}
	return nil
}

// HostCompatible reports whether a host at hostVersion satisfies the
// required minimum host version. An empty requirement always passes; an
// unparsable version on either side never does.
func HostCompatible(required, hostVersion string) bool {
	if required == "" {
		return true
	}
	req := ensureV(required)
	host := ensureV(hostVersion)
	if !semver.IsValid(req) || !semver.IsValid(host) {
		return false
	}
	return semver.Compare(host, req) >= 0
}

// ensureV normalizes a version string to the "v"-prefixed form semver expects.
func ensureV(v string) string {
	if v == "" {
		return v
	}
	if v[0] == 'v' || v[0] == 'V' {
		return "v" + v[1:]
	}
	return "v" + v
}

// Clone creates a deep copy of the Manifest.
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}

	clone := &Manifest{
		Name:           m.Name,
		Version:        m.Version,
		Description:    m.Description,
		Key:            m.Key,
		UpdateURL:      m.UpdateURL,
		MinHostVersion: m.MinHostVersion,
		DefaultLocale:  m.DefaultLocale,
		CurrentLocale:  m.CurrentLocale,
	}

	if m.Permissions != nil {
		clone.Permissions = make([]string, len(m.Permissions))
		copy(clone.Permissions, m.Permissions)
	}

	if m.Theme != nil {
		clone.Theme = make(map[string]interface{}, len(m.Theme))
		for k, v := range m.Theme {
			clone.Theme[k] = v
		}
	}

	if m.Overrides != nil {
		clone.Overrides = make(map[string]string, len(m.Overrides))
		for k, v := range m.Overrides {
			clone.Overrides[k] = v
		}
	}

	if m.Raw != nil {
		clone.Raw = make([]byte, len(m.Raw))
		copy(clone.Raw, m.Raw)
	}

	return clone
}
