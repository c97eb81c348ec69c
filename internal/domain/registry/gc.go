package registry

import (
	"context"
	"path/filepath"
	"time"

	"github.com/felixgeelhaar/gantry/internal/domain/extension"
	"github.com/felixgeelhaar/gantry/internal/ports"
)

const defaultStagingTTL = 24 * time.Hour

// GarbageCollector sweeps the install root for directories no persisted
// record claims, and the staging area for installs that never finished.
type GarbageCollector struct {
	logger      ports.Logger
	fs          ports.FileSystem
	prefs       PreferenceStore
	installRoot string
	stagingRoot string
	stagingTTL  time.Duration
}

// GCOption configures a GarbageCollector.
type GCOption func(*GarbageCollector)

// WithGCLogger sets the logger. Defaults to a no-op logger.
func WithGCLogger(logger ports.Logger) GCOption {
	return func(g *GarbageCollector) { g.logger = logger }
}

// WithGCStagingRoot sets the staging directory to sweep. Defaults to a
// sibling of the install root.
func WithGCStagingRoot(dir string) GCOption {
	return func(g *GarbageCollector) { g.stagingRoot = dir }
}

// WithStagingTTL sets how old a staging entry must be before it is swept.
func WithStagingTTL(ttl time.Duration) GCOption {
	return func(g *GarbageCollector) { g.stagingTTL = ttl }
}

// NewGarbageCollector builds a collector over installRoot keyed by the
// records in prefs.
func NewGarbageCollector(prefs PreferenceStore, fs ports.FileSystem, installRoot string, opts ...GCOption) *GarbageCollector {
	g := &GarbageCollector{
		logger:      noplog{},
		fs:          fs,
		prefs:       prefs,
		installRoot: installRoot,
		stagingTTL:  defaultStagingTTL,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.stagingRoot == "" {
		g.stagingRoot = defaultStagingRoot(installRoot)
	}
	return g
}

// Collect deletes every directory under the install root that no persisted
// record claims, then sweeps abandoned staging entries. Records without a
// usable version claim nothing, so their directories go too.
func (g *GarbageCollector) Collect(ctx context.Context) error {
	keep := g.keepSet()

	var firstErr error
	if g.fs.Exists(g.installRoot) {
		entries, err := g.fs.ReadDir(g.installRoot)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !e.IsDir {
				continue
			}
			if err := g.collectID(ctx, e.Name, keep); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := g.sweepStaging(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (g *GarbageCollector) collectID(ctx context.Context, name string, keep map[string]map[string]struct{}) error {
	idDir := filepath.Join(g.installRoot, name)
	versions, claimed := keep[extension.NormalizeID(name)]
	if !claimed {
		g.logger.Info(ctx, "removing orphaned extension directory", ports.F("path", idDir))
		return g.fs.RemoveAll(idDir)
	}

	sub, err := g.fs.ReadDir(idDir)
	if err != nil {
		return err
	}
	var firstErr error
	for _, v := range sub {
		if !v.IsDir {
			continue
		}
		if _, ok := versions[v.Name]; ok {
			continue
		}
		versionDir := filepath.Join(idDir, v.Name)
		g.logger.Info(ctx, "removing orphaned version directory", ports.F("path", versionDir))
		if err := g.fs.RemoveAll(versionDir); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// keepSet maps each claimed id to the set of version directory names its
// record pins. Unpacked extensions live outside the install root and claim
// nothing.
func (g *GarbageCollector) keepSet() map[string]map[string]struct{} {
	keep := make(map[string]map[string]struct{})
	for _, info := range g.prefs.InstalledExtensionsInfo() {
		if info.Location == extension.LocationUnpacked {
			continue
		}
		if info.Manifest == nil {
			continue
		}
		if _, err := extension.ParseVersion(info.Manifest.Version); err != nil {
			continue
		}
		versions, ok := keep[info.ID]
		if !ok {
			versions = make(map[string]struct{})
			keep[info.ID] = versions
		}
		versions[info.Manifest.Version] = struct{}{}
	}
	return keep
}

func (g *GarbageCollector) sweepStaging(ctx context.Context) error {
	if g.stagingRoot == "" || !g.fs.Exists(g.stagingRoot) {
		return nil
	}
	entries, err := g.fs.ReadDir(g.stagingRoot)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-g.stagingTTL)
	var firstErr error
	for _, e := range entries {
		path := filepath.Join(g.stagingRoot, e.Name)
		info, err := g.fs.GetFileInfo(path)
		if err != nil {
			continue
		}
		if info.ModTime.After(cutoff) {
			continue
		}
		g.logger.Info(ctx, "removing abandoned staging entry", ports.F("path", path))
		if err := g.fs.RemoveAll(path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
