package provider

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/felixgeelhaar/gantry/internal/domain/extension"
	"github.com/felixgeelhaar/gantry/internal/domain/registry"
	"github.com/felixgeelhaar/gantry/internal/ports"
)

const registrationExt = ".ini"

// SysReg vends extensions registered with the host system. Installers
// drop one INI file per extension into the registration directory,
// named after the extension id:
//
//	registrations/mihcahmgecmbnbcchbopgniflfhgnkff.ini
//
// with the package path and version as top-level keys:
//
//	package = /opt/vendor/highlighter.zip
//	version = 1.0.0
//
// A corrupt registration hides only itself, never its neighbors.
type SysReg struct {
	dir    string
	fs     ports.FileSystem
	logger ports.Logger
}

var _ registry.Provider = (*SysReg)(nil)

// NewSysReg creates a provider backed by the registration directory.
func NewSysReg(dir string, fs ports.FileSystem, logger ports.Logger) *SysReg {
	return &SysReg{dir: dir, fs: fs, logger: logger}
}

// Location implements registry.Provider.
func (s *SysReg) Location() extension.Location {
	return extension.LocationExternalRegistry
}

// Visit implements registry.Provider.
func (s *SysReg) Visit(ctx context.Context, fn func(registry.Found)) error {
	if !s.fs.IsDir(s.dir) {
		return nil
	}
	entries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("reading registration directory %s: %w", s.dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir || !strings.HasSuffix(entry.Name, registrationExt) {
			continue
		}
		id := extension.NormalizeID(strings.TrimSuffix(entry.Name, registrationExt))
		if !extension.ValidID(id) {
			s.logger.Warn(ctx, "ignoring registration with malformed id",
				ports.F("file", entry.Name), ports.F("dir", s.dir))
			continue
		}
		found, err := s.read(filepath.Join(s.dir, entry.Name), id)
		if err != nil {
			s.logger.Warn(ctx, "ignoring unreadable registration",
				ports.F("id", id), ports.F("error", err.Error()))
			continue
		}
		fn(found)
	}
	return nil
}

// HasExtension implements registry.Provider. Registration filenames are
// matched case-insensitively, like the ids they carry.
func (s *SysReg) HasExtension(id string) bool {
	entries, err := s.fs.ReadDir(s.dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if entry.IsDir || !strings.HasSuffix(entry.Name, registrationExt) {
			continue
		}
		if extension.NormalizeID(strings.TrimSuffix(entry.Name, registrationExt)) == id {
			return true
		}
	}
	return false
}

func (s *SysReg) read(path, id string) (registry.Found, error) {
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return registry.Found{}, err
	}
	cfg, err := ini.Load(data)
	if err != nil {
		return registry.Found{}, err
	}

	section := cfg.Section("")
	pkg := section.Key("package").String()
	if pkg == "" {
		return registry.Found{}, fmt.Errorf("registration for %s has no package path", id)
	}
	if !filepath.IsAbs(pkg) {
		pkg = filepath.Join(s.dir, pkg)
	}
	return registry.Found{
		ID:      id,
		Version: parseDeclaredVersion(section.Key("version").String()),
		Path:    pkg,
	}, nil
}
