package registry

import (
	"context"

	"github.com/felixgeelhaar/gantry/internal/domain/extension"
	"github.com/felixgeelhaar/gantry/internal/ports"
)

// LoadAllInstalled loads the component set and every persisted extension
// record. Manifests are re-read from disk first when any record needs it.
func (s *Service) LoadAllInstalled(ctx context.Context) error {
	return s.do(ctx, "load installed extensions", s.loadAllInstalled)
}

// LoadExtension loads an unpacked extension from a directory. Parsing runs
// on the backend; success reports back through the install path with
// privilege checks relaxed.
func (s *Service) LoadExtension(ctx context.Context, dir string) error {
	return s.do(ctx, "load unpacked extension", func() { s.loadExtensionFromPath(dir) })
}

func (s *Service) loadExtensionFromPath(dir string) {
	s.backend.post("load unpacked", func() { s.backend.loadSingle(dir) })
}

func (s *Service) loadAllInstalled() {
	s.loadComponents()

	infos := s.prefs.InstalledExtensionsInfo()
	for _, info := range infos {
		if needsManifestReload(info, s.hostLocale) {
			// One stale record means the whole batch gets re-read so the
			// persisted copies stay in step.
			s.backend.post("reload manifests", func() { s.backend.reloadManifests(infos) })
			return
		}
	}
	s.continueLoadAll(infos, false)
}

// needsManifestReload reports whether a persisted record cannot be trusted
// as cached: the cached copy is missing, the extension is unpacked and may
// have been edited in place, or it is localized for the wrong locale.
func needsManifestReload(info *InstalledInfo, hostLocale string) bool {
	if info.Manifest == nil {
		return true
	}
	if info.Location == extension.LocationUnpacked {
		return true
	}
	return info.Manifest.DefaultLocale != "" && info.Manifest.CurrentLocale != hostLocale
}

// continueLoadAll finishes startup loading on the coordinator goroutine
// once manifests are settled. didReload means the batch came back from a
// disk re-read and the persisted copies need refreshing.
func (s *Service) continueLoadAll(infos []*InstalledInfo, didReload bool) {
	for _, info := range infos {
		if didReload && info.Manifest != nil && len(info.Manifest.Raw) > 0 {
			if err := s.prefs.UpdateManifest(info.ID, info.Manifest.Raw); err != nil {
				s.logger.Warn(s.runCtx, "persisting refreshed manifest failed",
					ports.F("id", info.ID), ports.F("error", err.Error()))
			}
		}
		s.loadInstalledExtension(info)
	}
	s.onLoadedAllInstalled()
}

func (s *Service) loadComponents() {
	for _, c := range s.components {
		manifest, err := extension.ParseManifest([]byte(c.Manifest))
		if err != nil {
			s.reportLoadError(c.Path, err.Error())
			continue
		}
		s.loadOne(manifest, c.Path, extension.LocationComponent)
	}
}

func (s *Service) loadInstalledExtension(info *InstalledInfo) {
	if info.Manifest == nil {
		s.reportLoadError(info.Path, "The manifest is unreadable.")
		return
	}
	ext := s.loadOne(info.Manifest, info.Path, info.Location)
	if ext != nil && info.ID != "" && ext.ID != info.ID {
		s.logger.Warn(s.runCtx, "extension id changed across loads",
			ports.F("recorded", info.ID), ports.F("computed", ext.ID))
	}
	if info.Location.IsExternal() {
		s.backend.post("check external uninstall", func() {
			s.backend.checkExternalUninstall(info.ID, info.Location)
		})
	}
}

// loadOne validates a manifest, builds the extension, and routes it through
// onExtensionLoaded. Installed loads pass privilege checks because any
// escalation was already resolved when the version arrived.
func (s *Service) loadOne(manifest *extension.Manifest, path string, location extension.Location) *extension.Extension {
	if err := manifest.Validate(location.RequiresKey()); err != nil {
		s.reportLoadError(path, err.Error())
		return nil
	}
	if err := manifest.CheckHostCompatibility(s.hostVersion); err != nil {
		s.reportLoadError(path, err.Error())
		return nil
	}
	ext, err := extension.New(manifest, path, location)
	if err != nil {
		s.reportLoadError(path, err.Error())
		return nil
	}
	s.onExtensionLoaded(ext, true)
	return ext
}

func (s *Service) onLoadedAllInstalled() {
	first := !s.ready
	s.ready = true
	if first {
		close(s.readyCh)
		if s.updater != nil {
			if err := s.updater.Start(s.runCtx); err != nil {
				s.logger.Warn(s.runCtx, "update agent start failed", ports.F("error", err.Error()))
			}
		}
		if s.gc != nil && s.gcOnStartup {
			s.backend.post("collect garbage", func() {
				if err := s.gc.Collect(s.runCtx); err != nil {
					s.logger.Warn(s.runCtx, "install directory sweep failed", ports.F("error", err.Error()))
				}
			})
		}
	}
	s.logger.Info(s.runCtx, "installed extensions loaded",
		ports.F("enabled", len(s.enabled)), ports.F("disabled", len(s.disabled)))
	s.notifier.Publish(s.runCtx, Event{Kind: EventReady})
}

// onExtensionLoaded integrates a freshly parsed extension into the live
// sets. It resolves duplicates against the already-loaded version and then
// dispatches on the persisted enable state.
func (s *Service) onExtensionLoaded(ext *extension.Extension, allowPrivilegeIncrease bool) {
	delete(s.unloadedPaths, ext.ID)

	if !s.extensionsEnabled &&
		ext.Location != extension.LocationComponent &&
		ext.Location != extension.LocationUnpacked {
		s.logger.Debug(s.runCtx, "extensions disabled, discarding load", ports.F("id", ext.ID))
		return
	}

	if existing := s.lookup(ext.ID); existing != nil {
		if existing.Version().LessThan(ext.Version()) {
			// The arriving copy is an upgrade. Silent unless it wants more
			// privileges than the loaded version had.
			allowSilent := allowPrivilegeIncrease ||
				!extension.IsPrivilegeIncrease(existing.Manifest, ext.Manifest)
			existing.BeingUpgraded = true
			ext.BeingUpgraded = true
			s.unloadExtension(ext.ID)
			if !allowSilent {
				s.setPersistedState(ext.ID, extension.StateDisabled)
				if err := s.prefs.SetDidEscalatePermissions(ext.ID, true); err != nil {
					s.logger.Warn(s.runCtx, "persisting escalation flag failed",
						ports.F("id", ext.ID), ports.F("error", err.Error()))
				}
			}
		} else {
			s.logger.Warn(s.runCtx, "duplicate extension load attempt", ports.F("id", ext.ID))
			s.notifier.Publish(s.runCtx, Event{Kind: EventOverinstalled, Extension: existing.Clone()})
			delete(s.pending, ext.ID)
			return
		}
	}

	switch s.prefs.ExtensionState(ext.ID) {
	case extension.StateDisabled:
		s.disabled = append(s.disabled, ext)
		if s.prefs.DidEscalatePermissions(ext.ID) {
			s.notifier.Publish(s.runCtx, Event{Kind: EventUpdateDisabled, Extension: ext.Clone()})
		}
	default:
		s.enabled = append(s.enabled, ext)
		s.notifier.Publish(s.runCtx, Event{Kind: EventLoaded, Extension: ext.Clone()})
		if !ext.IsTheme() {
			s.overrides.RegisterOverrides(ext)
			s.updateCrashKeys()
		}
	}
	ext.BeingUpgraded = false
}

func (s *Service) setPersistedState(id string, state extension.State) {
	if err := s.prefs.SetExtensionState(id, state); err != nil {
		s.logger.Warn(s.runCtx, "persisting extension state failed",
			ports.F("id", id), ports.F("error", err.Error()))
	}
}

func (s *Service) updateCrashKeys() {
	ids := make([]string, 0, len(s.enabled))
	for _, ext := range s.enabled {
		ids = append(ids, ext.ID)
	}
	s.crashKeys.SetActiveExtensions(ids)
}

func (s *Service) reportLoadError(path, reason string) {
	err := &extension.LoadError{Path: path, Reason: reason}
	s.logger.Error(s.runCtx, "extension load failed",
		ports.F("path", path), ports.F("reason", reason))
	s.notifier.Publish(s.runCtx, Event{Kind: EventInstallError, Path: path, Err: err.Error()})
}
