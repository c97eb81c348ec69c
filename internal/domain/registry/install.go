package registry

import (
	"context"

	goversion "github.com/hashicorp/go-version"

	"github.com/felixgeelhaar/gantry/internal/domain/extension"
	"github.com/felixgeelhaar/gantry/internal/ports"
)

// installRequest carries one install through the backend: stage the source,
// confirm against the live sets, then move it into the install root.
type installRequest struct {
	// Source is a package directory or archive to install from.
	Source string
	// ExpectedID rejects packages whose manifest derives a different id.
	// Empty accepts any id.
	ExpectedID string
	// ExpectedVersion rejects packages carrying any other version. Nil
	// accepts any version.
	ExpectedVersion *goversion.Version
	// Location records where the install came from.
	Location extension.Location
	// AllowPrivilegeIncrease skips the escalation check when the install
	// upgrades a loaded extension.
	AllowPrivilegeIncrease bool
	// DeleteSource removes the source after staging, for downloaded
	// packages the registry owns.
	DeleteSource bool
}

// stagedInstall is a parsed, validated package sitting in the staging area.
type stagedInstall struct {
	req        installRequest
	ext        *extension.Extension
	stagingDir string
}

// InstallExtension installs a packaged extension from a local directory or
// zip archive. The work happens on the backend; completion and failure
// surface as events.
func (s *Service) InstallExtension(ctx context.Context, source string) error {
	return s.do(ctx, "install extension", func() {
		s.beginInstall(installRequest{Source: source, Location: extension.LocationInternal})
	})
}

// UpdateExtension feeds a downloaded update package into the install flow.
// Updates for ids that are neither installed nor pending are discarded and
// their package deleted.
func (s *Service) UpdateExtension(ctx context.Context, id, source string) error {
	id = extension.NormalizeID(id)
	return s.do(ctx, "update extension", func() { s.updateExtension(id, source) })
}

func (s *Service) updateExtension(id, source string) {
	installed := s.lookup(id)
	pendingInfo, isPending := s.pending[id]
	if installed == nil && !isPending {
		s.logger.Warn(s.runCtx, "update arrived for unknown extension, discarding",
			ports.F("id", id))
		s.backend.post("delete stray update", func() { s.backend.deletePath(source) })
		return
	}

	req := installRequest{
		Source:       source,
		ExpectedID:   id,
		Location:     extension.LocationInternal,
		DeleteSource: true,
	}
	if installed != nil {
		req.Location = installed.Location
	}
	if isPending {
		req.ExpectedVersion = pendingInfo.ExpectedVersion
		if !pendingInfo.InstallSilently {
			s.logger.Info(s.runCtx, "installing previously requested extension",
				ports.F("id", id))
		}
	}
	s.beginInstall(req)
}

// AddPendingExtension registers an id the update agent should fetch and
// install once a package is available. Already-installed ids are ignored.
func (s *Service) AddPendingExtension(ctx context.Context, id, updateURL string, isTheme, installSilently bool) error {
	id = extension.NormalizeID(id)
	return s.do(ctx, "add pending extension", func() {
		if s.lookup(id) != nil {
			s.logger.Debug(s.runCtx, "pending add for installed extension, ignoring",
				ports.F("id", id))
			return
		}
		s.pending[id] = PendingInfo{
			IsTheme:         isTheme,
			InstallSilently: installSilently,
			UpdateURL:       updateURL,
		}
	})
}

// OnExternalExtensionFound handles one extension declared by an external
// provider scan.
func (s *Service) OnExternalExtensionFound(ctx context.Context, found Found, location extension.Location) error {
	return s.do(ctx, "external extension found", func() { s.onExternalExtensionFound(found, location) })
}

func (s *Service) onExternalExtensionFound(found Found, location extension.Location) {
	id := extension.NormalizeID(found.ID)
	if found.Version == nil {
		s.logger.Warn(s.runCtx, "external source declared no version", ports.F("id", id))
		return
	}
	if _, killed := s.prefs.KilledExtensionIDs()[id]; killed {
		s.logger.Debug(s.runCtx, "ignoring external extension the user uninstalled",
			ports.F("id", id))
		return
	}
	if existing := s.lookup(id); existing != nil {
		switch {
		case existing.Version().LessThan(found.Version):
			// Newer than what is loaded; fall through to install.
		case existing.Version().Equal(found.Version):
			return
		default:
			s.logger.Warn(s.runCtx, "external source offers older version",
				ports.F("id", id),
				ports.F("installed", existing.Version().Original()),
				ports.F("offered", found.Version.Original()))
			return
		}
	}
	s.pending[id] = PendingInfo{InstallSilently: true, ExpectedVersion: found.Version}
	s.beginInstall(installRequest{
		Source:          found.Path,
		ExpectedID:      id,
		ExpectedVersion: found.Version,
		Location:        location,
	})
}

func (s *Service) beginInstall(req installRequest) {
	s.backend.post("stage install", func() { s.backend.stageInstall(req) })
}

// confirmInstall checks a staged package against the live sets before the
// backend moves it into place. Installs that do not carry a newer version
// than the loaded one are redundant and discarded.
func (s *Service) confirmInstall(st stagedInstall) {
	id := st.ext.ID
	existing := s.lookup(id)
	if existing != nil && !existing.Version().LessThan(st.ext.Version()) {
		s.logger.Warn(s.runCtx, "install is not an upgrade, discarding",
			ports.F("id", id),
			ports.F("installed", existing.Version().Original()),
			ports.F("offered", st.ext.Version().Original()))
		if _, isPending := s.pending[id]; isPending {
			s.notifier.Publish(s.runCtx, Event{Kind: EventOverinstalled, Extension: existing.Clone()})
			delete(s.pending, id)
		} else {
			s.onOverinstallAttempted(existing)
		}
		s.backend.post("discard staged install", func() { s.backend.deletePath(st.stagingDir) })
		return
	}
	s.backend.post("finish install", func() { s.backend.finishInstall(st) })
}

// onOverinstallAttempted tells theme previews whether the redundant install
// was a theme, so they can settle either way.
func (s *Service) onOverinstallAttempted(existing *extension.Extension) {
	kind := EventNoThemeDetected
	if existing.IsTheme() {
		kind = EventThemeInstalled
	}
	s.notifier.Publish(s.runCtx, Event{Kind: kind, Extension: existing.Clone()})
}

// onExtensionInstalled records a completed install and routes it into the
// live sets. The pending entry for the id, if any, is consumed here.
func (s *Service) onExtensionInstalled(ext *extension.Extension, allowPrivilegeIncrease bool) {
	id := ext.ID
	if info, isPending := s.pending[id]; isPending && info.IsTheme != ext.IsTheme() {
		s.logger.Warn(s.runCtx, "pending install kind mismatch, discarding",
			ports.F("id", id), ports.F("expected_theme", info.IsTheme))
		delete(s.pending, id)
		if ext.Location != extension.LocationUnpacked {
			s.backend.post("delete mismatched install", func() { s.backend.deletePath(ext.Path) })
		}
		return
	}

	old := s.lookup(id)
	allowSilent := allowPrivilegeIncrease || old == nil ||
		!extension.IsPrivilegeIncrease(old.Manifest, ext.Manifest)
	initialState := extension.StateEnabled
	if !allowSilent {
		initialState = extension.StateDisabled
	}
	if err := s.prefs.OnExtensionInstalled(ext, initialState); err != nil {
		s.logger.Warn(s.runCtx, "persisting install record failed",
			ports.F("id", id), ports.F("error", err.Error()))
	}

	kind := EventInstalled
	if ext.IsTheme() {
		kind = EventThemeInstalled
	}
	s.notifier.Publish(s.runCtx, Event{Kind: kind, Extension: ext.Clone()})
	s.logger.Info(s.runCtx, "extension installed",
		ports.F("id", id), ports.F("version", ext.Manifest.Version))

	s.onExtensionLoaded(ext, allowSilent)
	delete(s.pending, id)
}

func (s *Service) reportInstallError(path, reason string) {
	err := &extension.InstallError{Path: path, Reason: reason}
	s.logger.Error(s.runCtx, "extension install failed",
		ports.F("path", path), ports.F("reason", reason))
	s.notifier.Publish(s.runCtx, Event{Kind: EventInstallError, Path: path, Err: err.Error()})
}
