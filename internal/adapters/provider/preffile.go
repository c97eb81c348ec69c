// Package provider implements the external extension sources: a
// preferences file dropped by other software and the host system's
// per-extension registration entries. Both are read on every scan so
// changes show up without restarting the host.
package provider

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	goversion "github.com/hashicorp/go-version"
	"github.com/pelletier/go-toml/v2"

	"github.com/felixgeelhaar/gantry/internal/domain/extension"
	"github.com/felixgeelhaar/gantry/internal/domain/registry"
	"github.com/felixgeelhaar/gantry/internal/ports"
)

// prefEntry is one declaration in the external preferences file.
type prefEntry struct {
	Package string `toml:"package"`
	Version string `toml:"version"`
}

// PrefFile vends extensions declared in a TOML preferences file. Each
// top-level table maps an extension id to the package another
// application left on disk:
//
//	[mihcahmgecmbnbcchbopgniflfhgnkff]
//	package = "bundles/highlighter.zip"
//	version = "1.0.0"
//
// Relative package paths resolve against the file's directory. A missing
// file means no declarations.
type PrefFile struct {
	path   string
	fs     ports.FileSystem
	logger ports.Logger
}

var _ registry.Provider = (*PrefFile)(nil)

// NewPrefFile creates a provider backed by the preferences file at path.
func NewPrefFile(path string, fs ports.FileSystem, logger ports.Logger) *PrefFile {
	return &PrefFile{path: path, fs: fs, logger: logger}
}

// Location implements registry.Provider.
func (p *PrefFile) Location() extension.Location {
	return extension.LocationExternalPref
}

// Visit implements registry.Provider.
func (p *PrefFile) Visit(ctx context.Context, fn func(registry.Found)) error {
	entries, err := p.load()
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		entry := entries[id]
		if !extension.ValidID(id) {
			p.logger.Warn(ctx, "ignoring declaration with malformed id",
				ports.F("id", id), ports.F("file", p.path))
			continue
		}
		if entry.Package == "" {
			p.logger.Warn(ctx, "ignoring declaration without a package path",
				ports.F("id", id), ports.F("file", p.path))
			continue
		}
		fn(registry.Found{
			ID:      id,
			Version: parseDeclaredVersion(entry.Version),
			Path:    p.resolve(entry.Package),
		})
	}
	return nil
}

// HasExtension implements registry.Provider.
func (p *PrefFile) HasExtension(id string) bool {
	entries, err := p.load()
	if err != nil {
		return false
	}
	_, ok := entries[id]
	return ok
}

func (p *PrefFile) load() (map[string]prefEntry, error) {
	if !p.fs.Exists(p.path) {
		return nil, nil
	}
	data, err := p.fs.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("reading external preferences %s: %w", p.path, err)
	}
	parsed := make(map[string]prefEntry)
	if err := toml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parsing external preferences %s: %w", p.path, err)
	}
	entries := make(map[string]prefEntry, len(parsed))
	for id, entry := range parsed {
		entries[extension.NormalizeID(id)] = entry
	}
	return entries, nil
}

func (p *PrefFile) resolve(pkg string) string {
	if filepath.IsAbs(pkg) {
		return pkg
	}
	return filepath.Join(filepath.Dir(p.path), pkg)
}

// parseDeclaredVersion returns nil for a missing or unparsable version
// string. The registry warns about and skips nil versions.
func parseDeclaredVersion(s string) *goversion.Version {
	if s == "" {
		return nil
	}
	v, err := goversion.NewVersion(s)
	if err != nil {
		return nil
	}
	return v
}
