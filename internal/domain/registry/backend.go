package registry

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/gantry/internal/domain/extension"
	"github.com/felixgeelhaar/gantry/internal/ports"
)

// backend runs the registry's blocking file work on its own goroutine:
// manifest reads, package staging, installs, deletions, and provider scans.
// It never touches coordinator state; results go back through Service.post.
type backend struct {
	svc       *Service
	logger    ports.Logger
	providers []Provider

	tasks chan func()
	quit  chan struct{}
}

func newBackend(svc *Service) *backend {
	return &backend{
		svc:    svc,
		logger: noplog{},
		tasks:  make(chan func(), taskQueueDepth),
		quit:   make(chan struct{}),
	}
}

func (b *backend) start() {
	b.svc.wg.Add(1)
	go b.run()
}

func (b *backend) stop() {
	close(b.quit)
}

func (b *backend) run() {
	defer b.svc.wg.Done()
	for {
		select {
		case fn := <-b.tasks:
			fn()
		case <-b.quit:
			return
		}
	}
}

// post schedules fn on the backend goroutine. Work submitted after stop is
// dropped.
func (b *backend) post(name string, fn func()) {
	select {
	case b.tasks <- fn:
	case <-b.quit:
		b.logger.Debug(b.svc.runCtx, "dropping backend work after teardown", ports.F("op", name))
	}
}

func (b *backend) providerFor(location extension.Location) Provider {
	for _, p := range b.providers {
		if p.Location() == location {
			return p
		}
	}
	return nil
}

// loadSingle parses an unpacked extension directory and reports it through
// the install path.
func (b *backend) loadSingle(dir string) {
	ext, err := b.loadUnpacked(dir)
	if err != nil {
		b.svc.post("report load error", func() { b.svc.reportLoadError(dir, err.Error()) })
		return
	}
	b.svc.post("unpacked extension loaded", func() { b.svc.onExtensionInstalled(ext, true) })
}

func (b *backend) loadUnpacked(dir string) (*extension.Extension, error) {
	if !filepath.IsAbs(dir) {
		return nil, fmt.Errorf("extension path must be absolute: %s", dir)
	}
	raw, err := b.svc.fs.ReadFile(filepath.Join(dir, extension.ManifestFilename))
	if err != nil {
		return nil, extension.ErrManifestNotFound
	}
	m, err := extension.ParseManifest(raw)
	if err != nil {
		return nil, err
	}
	b.localizeManifest(m, dir)
	if err := m.Validate(false); err != nil {
		return nil, err
	}
	if err := m.CheckHostCompatibility(b.svc.hostVersion); err != nil {
		return nil, err
	}
	return extension.New(m, dir, extension.LocationUnpacked)
}

// reloadManifests re-reads stale cached manifests from disk and hands the
// batch back to the coordinator. The info slice is owned by this goroutine
// until the completion posts.
func (b *backend) reloadManifests(infos []*InstalledInfo) {
	for _, info := range infos {
		if !needsManifestReload(info, b.svc.hostLocale) {
			continue
		}
		raw, err := b.svc.fs.ReadFile(filepath.Join(info.Path, extension.ManifestFilename))
		if err != nil {
			b.logger.Debug(b.svc.runCtx, "manifest unreadable",
				ports.F("id", info.ID), ports.F("path", info.Path))
			info.Manifest = nil
			continue
		}
		m, err := extension.ParseManifest(raw)
		if err != nil {
			b.logger.Debug(b.svc.runCtx, "manifest unparsable",
				ports.F("id", info.ID), ports.F("error", err.Error()))
			info.Manifest = nil
			continue
		}
		b.localizeManifest(m, info.Path)
		info.Manifest = m
	}
	b.svc.post("continue loading", func() { b.svc.continueLoadAll(infos, true) })
}

// localizeManifest picks the message catalog matching the host locale and
// stamps it into the manifest.
func (b *backend) localizeManifest(m *extension.Manifest, dir string) {
	if m.DefaultLocale == "" {
		return
	}
	entries, err := b.svc.fs.ReadDir(filepath.Join(dir, extension.LocalesDirname))
	if err != nil {
		return
	}
	available := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir {
			available = append(available, e.Name)
		}
	}
	m.SetCurrentLocale(extension.MatchLocale(available, b.svc.hostLocale, m.DefaultLocale))
}

// checkForExternalUpdates scans every registered provider and reports each
// declared extension to the coordinator.
func (b *backend) checkForExternalUpdates() {
	for _, p := range b.providers {
		provider := p
		err := provider.Visit(b.svc.runCtx, func(found Found) {
			b.svc.post("external extension found", func() {
				b.svc.onExternalExtensionFound(found, provider.Location())
			})
		})
		if err != nil {
			b.logger.Warn(b.svc.runCtx, "external provider scan failed",
				ports.F("location", string(provider.Location())),
				ports.F("error", err.Error()))
		}
	}
}

// checkExternalUninstall asks the provider that installed id whether it
// still vends it. A missing provider is a wiring bug and panics.
func (b *backend) checkExternalUninstall(id string, location extension.Location) {
	provider := b.providerFor(location)
	if provider == nil {
		panic(fmt.Sprintf("registry: no provider registered for location %q", location))
	}
	if provider.HasExtension(id) {
		return
	}
	b.logger.Info(b.svc.runCtx, "external source dropped extension", ports.F("id", id))
	b.svc.post("external extension removed", func() {
		b.svc.onExternalExtensionRemoved(id, location)
	})
}

// stageInstall copies a package into the staging area, parses and checks it,
// and hands the result to the coordinator for confirmation.
func (b *backend) stageInstall(req installRequest) {
	st, err := b.stage(req)
	if err != nil {
		if st.stagingDir != "" {
			_ = b.svc.fs.RemoveAll(st.stagingDir)
		}
		b.svc.post("report install error", func() { b.svc.reportInstallError(req.Source, err.Error()) })
		return
	}
	b.svc.post("confirm install", func() { b.svc.confirmInstall(st) })
}

func (b *backend) stage(req installRequest) (stagedInstall, error) {
	st := stagedInstall{req: req}

	staging := filepath.Join(b.svc.stagingRoot, uuid.NewString())
	if err := b.svc.fs.MkdirAll(staging, 0o755); err != nil {
		return st, fmt.Errorf("creating staging directory: %w", err)
	}
	st.stagingDir = staging

	switch {
	case b.svc.fs.IsDir(req.Source):
		if err := b.svc.fs.CopyDir(req.Source, staging); err != nil {
			return st, fmt.Errorf("copying package: %w", err)
		}
	case strings.EqualFold(filepath.Ext(req.Source), ".zip"):
		if err := extractZip(req.Source, staging); err != nil {
			return st, fmt.Errorf("extracting package: %w", err)
		}
	default:
		return st, fmt.Errorf("unsupported package format: %s", filepath.Base(req.Source))
	}
	if req.DeleteSource {
		_ = b.svc.fs.RemoveAll(req.Source)
	}

	raw, err := b.svc.fs.ReadFile(filepath.Join(staging, extension.ManifestFilename))
	if err != nil {
		return st, extension.ErrManifestNotFound
	}
	m, err := extension.ParseManifest(raw)
	if err != nil {
		return st, err
	}
	b.localizeManifest(m, staging)
	if err := m.Validate(req.Location.RequiresKey()); err != nil {
		return st, err
	}
	if err := m.CheckHostCompatibility(b.svc.hostVersion); err != nil {
		return st, err
	}
	ext, err := extension.New(m, staging, req.Location)
	if err != nil {
		return st, err
	}
	if req.ExpectedID != "" && ext.ID != req.ExpectedID {
		return st, fmt.Errorf("package id %s does not match expected id %s", ext.ID, req.ExpectedID)
	}
	if req.ExpectedVersion != nil && !req.ExpectedVersion.Equal(ext.Version()) {
		return st, fmt.Errorf("package version %s does not match expected version %s",
			ext.Version().Original(), req.ExpectedVersion.Original())
	}
	st.ext = ext
	return st, nil
}

// finishInstall moves a confirmed package from staging into
// <install root>/<id>/<version>/ and reports the final extension.
func (b *backend) finishInstall(st stagedInstall) {
	versionDir := filepath.Join(b.svc.installRoot, st.ext.ID, st.ext.Manifest.Version)
	if err := b.moveIntoPlace(st.stagingDir, versionDir); err != nil {
		_ = b.svc.fs.RemoveAll(st.stagingDir)
		b.svc.post("report install error", func() { b.svc.reportInstallError(st.req.Source, err.Error()) })
		return
	}
	ext, err := extension.New(st.ext.Manifest, versionDir, st.req.Location)
	if err != nil {
		b.svc.post("report install error", func() { b.svc.reportInstallError(st.req.Source, err.Error()) })
		return
	}
	b.svc.post("extension installed", func() {
		b.svc.onExtensionInstalled(ext, st.req.AllowPrivilegeIncrease)
	})
}

func (b *backend) moveIntoPlace(stagingDir, versionDir string) error {
	if b.svc.fs.Exists(versionDir) {
		// Leftovers from an interrupted install; clobber them.
		if err := b.svc.fs.RemoveAll(versionDir); err != nil {
			return fmt.Errorf("clearing stale version directory: %w", err)
		}
	}
	if err := b.svc.fs.MkdirAll(filepath.Dir(versionDir), 0o755); err != nil {
		return fmt.Errorf("creating extension directory: %w", err)
	}
	if err := b.svc.fs.Rename(stagingDir, versionDir); err != nil {
		// Rename fails across filesystems; fall back to a copy.
		if err := b.svc.fs.CopyDir(stagingDir, versionDir); err != nil {
			return fmt.Errorf("moving package into place: %w", err)
		}
		_ = b.svc.fs.RemoveAll(stagingDir)
	}
	return nil
}

func (b *backend) deleteExtensionTree(id string) {
	path := filepath.Join(b.svc.installRoot, id)
	if err := b.svc.fs.RemoveAll(path); err != nil {
		b.logger.Warn(b.svc.runCtx, "deleting extension files failed",
			ports.F("path", path), ports.F("error", err.Error()))
	}
}

func (b *backend) deletePath(path string) {
	if err := b.svc.fs.RemoveAll(path); err != nil {
		b.logger.Warn(b.svc.runCtx, "deleting path failed",
			ports.F("path", path), ports.F("error", err.Error()))
	}
}

func defaultStagingRoot(installRoot string) string {
	return filepath.Join(filepath.Dir(installRoot), "Staging")
}

// extractZip unpacks an archive into dest, refusing entries that would
// escape it.
func extractZip(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		name := filepath.Clean(filepath.FromSlash(f.Name))
		if name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) || filepath.IsAbs(name) {
			return fmt.Errorf("archive entry escapes destination: %s", f.Name)
		}
		target := filepath.Join(dest, name)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := extractZipFile(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractZipFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, rc)
	return err
}
