// Package prefstore persists extension records, states, and host-side
// extension settings in a YAML preferences file.
package prefstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/gantry/internal/adapters/logging"
	"github.com/felixgeelhaar/gantry/internal/domain/extension"
	"github.com/felixgeelhaar/gantry/internal/domain/registry"
	"github.com/felixgeelhaar/gantry/internal/ports"
)

const pingDayLayout = "2006-01-02"

// prefsDoc is the serialized form of the preferences file.
type prefsDoc struct {
	Extensions map[string]*recordDoc `yaml:"extensions"`
	Blacklist  []string              `yaml:"blacklist,omitempty"`
}

// recordDoc is one persisted extension record. The manifest is embedded as
// the raw JSON document exactly as it was last read.
type recordDoc struct {
	Path        string `yaml:"path"`
	Location    string `yaml:"location"`
	State       string `yaml:"state"`
	Manifest    string `yaml:"manifest,omitempty"`
	DidEscalate bool   `yaml:"did_escalate_permissions,omitempty"`
	Incognito   bool   `yaml:"incognito_enabled,omitempty"`
	LastPingDay string `yaml:"last_ping_day,omitempty"`
	InstallTime string `yaml:"install_time,omitempty"`
}

// Store reads and writes the preferences file. The registry coordinator is
// the only writer; the mutex covers concurrent readers such as CLI
// inspection commands.
type Store struct {
	path   string
	fs     ports.FileSystem
	logger ports.Logger

	mu  sync.Mutex
	doc *prefsDoc
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger. Defaults to discarding.
func WithLogger(logger ports.Logger) StoreOption {
	return func(s *Store) { s.logger = logger }
}

// NewStore opens the preferences file at path, creating an empty document
// when the file does not exist yet.
func NewStore(path string, fs ports.FileSystem, opts ...StoreOption) (*Store, error) {
	s := &Store{
		path:   path,
		fs:     fs,
		logger: logging.NewNopLogger(),
		doc:    &prefsDoc{Extensions: make(map[string]*recordDoc)},
	}
	for _, opt := range opts {
		opt(s)
	}

	if fs.Exists(path) {
		data, err := fs.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading preferences: %w", err)
		}
		var doc prefsDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing preferences: %w", err)
		}
		if doc.Extensions == nil {
			doc.Extensions = make(map[string]*recordDoc)
		}
		s.doc = &doc
	}
	return s, nil
}

// Path returns the preferences file location.
func (s *Store) Path() string { return s.path }

// save writes the document to a temporary file and renames it into place so
// readers never observe a partial write. Callers hold the mutex.
func (s *Store) save() error {
	data, err := yaml.Marshal(s.doc)
	if err != nil {
		return fmt.Errorf("encoding preferences: %w", err)
	}

	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating preferences directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := s.fs.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing preferences: %w", err)
	}
	if err := s.fs.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing preferences: %w", err)
	}
	return nil
}

// InstalledExtensionsInfo returns every usable record sorted by id. Killed
// records, blacklisted ids, and records with an unknown location are left
// out.
func (s *Store) InstalledExtensionsInfo() []*registry.InstalledInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.doc.Extensions))
	for id := range s.doc.Extensions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []*registry.InstalledInfo
	for _, id := range ids {
		rec := s.doc.Extensions[id]
		if extension.State(rec.State) == extension.StateKilled {
			continue
		}
		if s.isBlacklistedLocked(id) {
			s.logger.Warn(context.Background(), "omitting blacklisted extension record",
				ports.F("id", id))
			continue
		}
		location, err := extension.ParseLocation(rec.Location)
		if err != nil {
			s.logger.Warn(context.Background(), "skipping record with unknown location",
				ports.F("id", id), ports.F("location", rec.Location))
			continue
		}
		info := &registry.InstalledInfo{ID: id, Path: rec.Path, Location: location}
		if rec.Manifest != "" {
			if m, err := extension.ParseManifest([]byte(rec.Manifest)); err == nil {
				info.Manifest = m
			}
		}
		out = append(out, info)
	}
	return out
}

// UpdateManifest replaces the cached manifest document for id.
func (s *Store) UpdateManifest(id string, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.doc.Extensions[id]
	if !ok {
		return nil
	}
	rec.Manifest = string(raw)
	return s.save()
}

// OnExtensionInstalled records a completed install.
func (s *Store) OnExtensionInstalled(ext *extension.Extension, initialState extension.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Extensions[ext.ID] = &recordDoc{
		Path:        ext.Path,
		Location:    string(ext.Location),
		State:       string(initialState),
		Manifest:    string(ext.Manifest.Raw),
		InstallTime: time.Now().UTC().Format(time.RFC3339),
	}
	return s.save()
}

// OnExtensionUninstalled drops the record. External extensions uninstalled
// at the user's request stay behind as killed so providers cannot
// resurrect them.
func (s *Store) OnExtensionUninstalled(id string, location extension.Location, externalUninstall bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if externalUninstall && location.IsExternal() {
		rec, ok := s.doc.Extensions[id]
		if !ok {
			rec = &recordDoc{Location: string(location)}
			s.doc.Extensions[id] = rec
		}
		rec.State = string(extension.StateKilled)
		rec.Manifest = ""
		rec.Path = ""
		return s.save()
	}
	delete(s.doc.Extensions, id)
	return s.save()
}

// SetExtensionState persists the enable state for id.
func (s *Store) SetExtensionState(id string, state extension.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.doc.Extensions[id]
	if !ok {
		rec = &recordDoc{}
		s.doc.Extensions[id] = rec
	}
	rec.State = string(state)
	return s.save()
}

// ExtensionState returns the persisted state, defaulting to enabled.
func (s *Store) ExtensionState(id string) extension.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.doc.Extensions[id]; ok {
		if state, err := extension.ParseState(rec.State); err == nil {
			return state
		}
	}
	return extension.StateEnabled
}

// SetDidEscalatePermissions flags a blocked silent upgrade.
func (s *Store) SetDidEscalatePermissions(id string, escalated bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.doc.Extensions[id]
	if !ok {
		rec = &recordDoc{}
		s.doc.Extensions[id] = rec
	}
	rec.DidEscalate = escalated
	return s.save()
}

// DidEscalatePermissions reports the escalation flag.
func (s *Store) DidEscalatePermissions(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.doc.Extensions[id]
	return ok && rec.DidEscalate
}

// UpdateBlacklist replaces the persisted blacklist.
func (s *Store) UpdateBlacklist(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Blacklist = append([]string(nil), ids...)
	sort.Strings(s.doc.Blacklist)
	return s.save()
}

// IsBlacklisted reports whether id is on the persisted blacklist.
func (s *Store) IsBlacklisted(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isBlacklistedLocked(id)
}

func (s *Store) isBlacklistedLocked(id string) bool {
	for _, banned := range s.doc.Blacklist {
		if banned == id {
			return true
		}
	}
	return false
}

// SetLastPingDay records the day an update ping went out. Only the date
// survives; update servers get day resolution at most.
func (s *Store) SetLastPingDay(id string, day time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.doc.Extensions[id]
	if !ok {
		rec = &recordDoc{}
		s.doc.Extensions[id] = rec
	}
	rec.LastPingDay = day.UTC().Format(pingDayLayout)
	return s.save()
}

// LastPingDay returns the recorded ping day.
func (s *Store) LastPingDay(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.doc.Extensions[id]
	if !ok || rec.LastPingDay == "" {
		return time.Time{}, false
	}
	day, err := time.Parse(pingDayLayout, rec.LastPingDay)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// SetIncognitoEnabled persists the incognito setting for id.
func (s *Store) SetIncognitoEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.doc.Extensions[id]
	if !ok {
		rec = &recordDoc{}
		s.doc.Extensions[id] = rec
	}
	rec.Incognito = enabled
	return s.save()
}

// IsIncognitoEnabled reports the incognito setting for id.
func (s *Store) IsIncognitoEnabled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.doc.Extensions[id]
	return ok && rec.Incognito
}

// KilledExtensionIDs returns ids of external extensions the user removed.
func (s *Store) KilledExtensionIDs() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]struct{})
	for id, rec := range s.doc.Extensions {
		if extension.State(rec.State) == extension.StateKilled {
			out[id] = struct{}{}
		}
	}
	return out
}

var _ registry.PreferenceStore = (*Store)(nil)
