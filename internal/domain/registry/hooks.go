package registry

import "github.com/felixgeelhaar/gantry/internal/domain/extension"

// DevToolsCookie identifies a detached inspector session waiting for its
// extension to come back.
type DevToolsCookie int

// DevToolsManager coordinates inspector sessions attached to extension
// runtime hosts across a reload.
type DevToolsManager interface {
	// DetachForReplacement detaches the inspector attached to id, if any,
	// and returns a cookie for reattaching it later.
	DetachForReplacement(id string) (DevToolsCookie, bool)
	// Reattach resumes the inspector session behind cookie.
	Reattach(cookie DevToolsCookie)
}

// CrashKeys mirrors the enabled extension set into crash reports.
type CrashKeys interface {
	SetActiveExtensions(ids []string)
}

// SiteDataClearer removes origin-scoped site data left behind by an
// uninstalled extension.
type SiteDataClearer interface {
	ClearExtensionData(origin string)
}

// OverrideRegistrar tracks page overrides contributed by enabled extensions.
type OverrideRegistrar interface {
	RegisterOverrides(ext *extension.Extension)
	UnregisterOverrides(ext *extension.Extension)
}

type nopDevTools struct{}

func (nopDevTools) DetachForReplacement(string) (DevToolsCookie, bool) { return 0, false }
func (nopDevTools) Reattach(DevToolsCookie)                            {}

type nopCrashKeys struct{}

func (nopCrashKeys) SetActiveExtensions([]string) {}

type nopSiteData struct{}

func (nopSiteData) ClearExtensionData(string) {}

type nopOverrides struct{}

func (nopOverrides) RegisterOverrides(*extension.Extension)   {}
func (nopOverrides) UnregisterOverrides(*extension.Extension) {}
