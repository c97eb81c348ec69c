package registry

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/gantry/internal/domain/extension"
	"github.com/felixgeelhaar/gantry/internal/ports"
)

// UnloadExtension removes the extension from the live sets without touching
// its persisted state. The id must be loaded; unloading an unknown id is a
// caller bug and panics.
func (s *Service) UnloadExtension(ctx context.Context, id string) error {
	id = extension.NormalizeID(id)
	return s.do(ctx, "unload extension", func() { s.unloadExtension(id) })
}

func (s *Service) unloadExtension(id string) {
	if ext, idx := findIn(s.disabled, id); ext != nil {
		s.unloadedPaths[id] = ext.Path
		s.disabled = removeAt(s.disabled, idx)
		s.notifier.Publish(s.runCtx, Event{Kind: EventUnloadedDisabled, Extension: ext.Clone()})
		return
	}
	ext, idx := findIn(s.enabled, id)
	if ext == nil {
		panic(fmt.Sprintf("registry: unload of extension %q that is not loaded", id))
	}
	s.unloadedPaths[id] = ext.Path
	s.enabled = removeAt(s.enabled, idx)
	s.notifyUnloaded(ext)
}

func (s *Service) notifyUnloaded(ext *extension.Extension) {
	s.notifier.Publish(s.runCtx, Event{Kind: EventUnloaded, Extension: ext.Clone()})
	if !ext.IsTheme() {
		s.overrides.UnregisterOverrides(ext)
		s.updateCrashKeys()
	}
}

// unloadAll drops every loaded extension without notifications. Used at
// teardown and as the first half of ReloadAll.
func (s *Service) unloadAll() {
	s.enabled = nil
	s.disabled = nil
}

// ReloadAll unloads everything silently and runs startup loading again.
func (s *Service) ReloadAll(ctx context.Context) error {
	return s.do(ctx, "reload all extensions", func() {
		s.unloadAll()
		s.loadAllInstalled()
	})
}

// ReloadExtension unloads the extension and loads it back from its persisted
// record, or from disk when no record exists. Works on ids that already
// crashed out of the live sets, as long as their last path is known.
func (s *Service) ReloadExtension(ctx context.Context, id string) error {
	id = extension.NormalizeID(id)
	return s.do(ctx, "reload extension", func() { s.reloadExtension(id) })
}

func (s *Service) reloadExtension(id string) {
	var path string
	if ext := s.lookup(id); ext != nil {
		// Keep any attached inspector session alive across the reload.
		if cookie, ok := s.devtools.DetachForReplacement(id); ok {
			s.orphanedDevTools[id] = cookie
		}
		path = ext.Path
		s.unloadExtension(id)
	} else {
		path = s.unloadedPaths[id]
	}
	if path == "" {
		panic(fmt.Sprintf("registry: reload of extension %q with no known path", id))
	}

	for _, info := range s.prefs.InstalledExtensionsInfo() {
		if info.ID == id {
			s.loadInstalledExtension(info)
			return
		}
	}
	s.loadExtensionFromPath(path)
}

// UninstallExtension removes the extension from the live sets and the
// preference store and deletes its files. externalUninstall marks removals
// requested by the user against an externally-provided extension; the id is
// then remembered so providers never bring it back. Uninstalling an unknown
// id is a caller bug and panics.
func (s *Service) UninstallExtension(ctx context.Context, id string, externalUninstall bool) error {
	id = extension.NormalizeID(id)
	return s.do(ctx, "uninstall extension", func() { s.uninstallExtension(id, externalUninstall) })
}

func (s *Service) uninstallExtension(id string, externalUninstall bool) {
	ext := s.lookup(id)
	if ext == nil {
		panic(fmt.Sprintf("registry: uninstall of extension %q that is not installed", id))
	}
	origin := ext.Origin()
	location := ext.Location

	if err := s.prefs.OnExtensionUninstalled(id, location, externalUninstall); err != nil {
		s.logger.Warn(s.runCtx, "removing extension record failed",
			ports.F("id", id), ports.F("error", err.Error()))
	}
	s.unloadExtension(id)

	// Unpacked extensions live in a directory the user owns; leave it be.
	if location != extension.LocationUnpacked {
		s.backend.post("delete extension files", func() { s.backend.deleteExtensionTree(id) })
	}
	s.siteData.ClearExtensionData(origin)
	s.logger.Info(s.runCtx, "extension uninstalled", ports.F("id", id))
}

// onExternalExtensionRemoved handles a provider that no longer vends an id
// the registry has installed. The record goes away like an uninstall, but
// nothing is remembered as killed.
func (s *Service) onExternalExtensionRemoved(id string, location extension.Location) {
	if s.lookup(id) != nil {
		s.uninstallExtension(id, false)
		return
	}
	// The record exists but never loaded this run (bad manifest, blacklist).
	if err := s.prefs.OnExtensionUninstalled(id, location, false); err != nil {
		s.logger.Warn(s.runCtx, "removing extension record failed",
			ports.F("id", id), ports.F("error", err.Error()))
	}
	s.backend.post("delete extension files", func() { s.backend.deleteExtensionTree(id) })
}

// EnableExtension moves a disabled extension back into the enabled set and
// persists the state. Enabling an id that is not disabled is a caller bug
// and panics; enabling an already-enabled id is a no-op.
func (s *Service) EnableExtension(ctx context.Context, id string) error {
	id = extension.NormalizeID(id)
	return s.do(ctx, "enable extension", func() { s.enableExtension(id) })
}

func (s *Service) enableExtension(id string) {
	if ext, _ := findIn(s.enabled, id); ext != nil {
		return
	}
	ext, idx := findIn(s.disabled, id)
	if ext == nil {
		panic(fmt.Sprintf("registry: enable of extension %q that is not disabled", id))
	}

	s.setPersistedState(id, extension.StateEnabled)
	// Re-enabling counts as accepting whatever the disabling update asked
	// for.
	if err := s.prefs.SetDidEscalatePermissions(id, false); err != nil {
		s.logger.Warn(s.runCtx, "clearing escalation flag failed",
			ports.F("id", id), ports.F("error", err.Error()))
	}

	s.disabled = removeAt(s.disabled, idx)
	s.enabled = append(s.enabled, ext)
	s.notifier.Publish(s.runCtx, Event{Kind: EventLoaded, Extension: ext.Clone()})
	if !ext.IsTheme() {
		s.overrides.RegisterOverrides(ext)
		s.updateCrashKeys()
	}
}

// DisableExtension moves an enabled extension into the disabled set and
// persists the state. Unknown or already-disabled ids are ignored.
func (s *Service) DisableExtension(ctx context.Context, id string) error {
	id = extension.NormalizeID(id)
	return s.do(ctx, "disable extension", func() { s.disableExtension(id) })
}

func (s *Service) disableExtension(id string) {
	ext, idx := findIn(s.enabled, id)
	if ext == nil {
		return
	}
	s.setPersistedState(id, extension.StateDisabled)
	s.enabled = removeAt(s.enabled, idx)
	s.disabled = append(s.disabled, ext)
	s.notifyUnloaded(ext)
}

// UpdateBlacklist replaces the persisted blacklist and unloads any loaded
// extension that is now on it. Component extensions are exempt.
func (s *Service) UpdateBlacklist(ctx context.Context, ids []string) error {
	norm := make([]string, 0, len(ids))
	for _, id := range ids {
		id = extension.NormalizeID(id)
		// Blacklist feeds are remote input; malformed ids never persist.
		if !extension.ValidID(id) {
			continue
		}
		norm = append(norm, id)
	}
	return s.do(ctx, "update blacklist", func() { s.updateBlacklist(norm) })
}

func (s *Service) updateBlacklist(ids []string) {
	if err := s.prefs.UpdateBlacklist(ids); err != nil {
		s.logger.Warn(s.runCtx, "persisting blacklist failed", ports.F("error", err.Error()))
		return
	}
	banned := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		banned[id] = struct{}{}
	}
	var toUnload []string
	for _, ext := range s.enabled {
		if _, hit := banned[ext.ID]; hit && ext.Location != extension.LocationComponent {
			toUnload = append(toUnload, ext.ID)
		}
	}
	for _, ext := range s.disabled {
		if _, hit := banned[ext.ID]; hit && ext.Location != extension.LocationComponent {
			toUnload = append(toUnload, ext.ID)
		}
	}
	for _, id := range toUnload {
		s.logger.Info(s.runCtx, "unloading blacklisted extension", ports.F("id", id))
		s.unloadExtension(id)
	}
}

// OnRuntimeHostTerminated tells the registry an extension's runtime host
// went away unexpectedly. The extension leaves the live sets but keeps its
// persisted state, so a reload can bring it back.
func (s *Service) OnRuntimeHostTerminated(ctx context.Context, id string) error {
	id = extension.NormalizeID(id)
	return s.do(ctx, "runtime host terminated", func() {
		if s.lookup(id) == nil {
			// Termination can race an unload the registry already did.
			s.logger.Debug(s.runCtx, "terminated host for extension that is not loaded",
				ports.F("id", id))
			return
		}
		s.logger.Warn(s.runCtx, "extension runtime host terminated", ports.F("id", id))
		s.unloadExtension(id)
	})
}

// OnRuntimeHostLoaded reattaches an inspector session that was detached for
// a reload of id, if one is waiting.
func (s *Service) OnRuntimeHostLoaded(ctx context.Context, id string) error {
	id = extension.NormalizeID(id)
	return s.do(ctx, "runtime host loaded", func() {
		cookie, ok := s.orphanedDevTools[id]
		if !ok {
			return
		}
		delete(s.orphanedDevTools, id)
		s.devtools.Reattach(cookie)
	})
}

func removeAt(list []*extension.Extension, idx int) []*extension.Extension {
	return append(list[:idx], list[idx+1:]...)
}
