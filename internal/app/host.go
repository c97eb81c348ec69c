// Package app assembles the extension host: configuration, the preference
// store, external install providers, the registry, and the update agent,
// all rooted in a single profile directory.
package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/gantry/internal/adapters/eventbus"
	"github.com/felixgeelhaar/gantry/internal/adapters/filesystem"
	"github.com/felixgeelhaar/gantry/internal/adapters/logging"
	"github.com/felixgeelhaar/gantry/internal/adapters/prefstore"
	"github.com/felixgeelhaar/gantry/internal/adapters/provider"
	"github.com/felixgeelhaar/gantry/internal/config"
	"github.com/felixgeelhaar/gantry/internal/domain/registry"
	"github.com/felixgeelhaar/gantry/internal/domain/updater"
	"github.com/felixgeelhaar/gantry/internal/ports"
)

// Profile directory layout. Everything the host persists lives under the
// profile directory: preferences, installed extensions, staged unpacks,
// and downloaded update packages.
const (
	PrefsFile     = "prefs.yaml"
	ExtensionsDir = "Extensions"
	StagingDir    = "Staging"
	DownloadsDir  = "Downloads"
)

// Host owns one profile's extension system. Construct with New, call
// Start, and reach the subsystems through the accessors. Stop tears the
// whole assembly down in dependency order.
type Host struct {
	profile string
	cfg     *config.Config
	logger  ports.Logger
	fs      ports.FileSystem

	store   *prefstore.Store
	bus     *eventbus.Bus
	gc      *registry.GarbageCollector
	service *registry.Service
	agent   *updater.Agent
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger shared by every subsystem. Defaults to a
// no-op logger.
func WithLogger(logger ports.Logger) Option {
	return func(h *Host) { h.logger = logger }
}

// WithFileSystem sets the filesystem implementation. Defaults to the real
// filesystem.
func WithFileSystem(fs ports.FileSystem) Option {
	return func(h *Host) { h.fs = fs }
}

// WithConfig supplies the configuration directly instead of reading
// gantry.yaml from the profile directory.
func WithConfig(cfg *config.Config) Option {
	return func(h *Host) { h.cfg = cfg }
}

// DefaultProfileDir returns the profile directory used when none is given:
// ~/.gantry.
func DefaultProfileDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".gantry"), nil
}

// New builds a stopped Host rooted at profileDir. Configuration comes from
// gantry.yaml inside the profile unless WithConfig overrides it; a missing
// file yields the defaults.
func New(profileDir string, opts ...Option) (*Host, error) {
	if profileDir == "" {
		return nil, errors.New("app: profile directory is required")
	}

	h := &Host{
		profile: profileDir,
		logger:  logging.NewNopLogger(),
		fs:      filesystem.NewRealFileSystem(),
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.cfg == nil {
		cfg, err := config.Load(filepath.Join(profileDir, config.DefaultFile), h.fs)
		if err != nil {
			return nil, err
		}
		h.cfg = cfg
	}

	store, err := prefstore.NewStore(filepath.Join(profileDir, PrefsFile), h.fs,
		prefstore.WithLogger(h.logger))
	if err != nil {
		return nil, err
	}
	h.store = store
	h.bus = eventbus.NewBus(eventbus.WithLogger(h.logger))

	installRoot := filepath.Join(profileDir, ExtensionsDir)
	stagingRoot := filepath.Join(profileDir, StagingDir)
	h.gc = registry.NewGarbageCollector(store, h.fs, installRoot,
		registry.WithGCLogger(h.logger),
		registry.WithGCStagingRoot(stagingRoot))

	svcOpts := []registry.Option{
		registry.WithLogger(h.logger),
		registry.WithNotifier(h.bus),
		registry.WithHostVersion(h.cfg.HostVersion),
		registry.WithHostLocale(h.cfg.Locale),
		registry.WithStagingRoot(stagingRoot),
		registry.WithExtensionsEnabled(!h.cfg.DisableExtensions),
		registry.WithGarbageCollector(h.gc),
		registry.WithGCOnStartup(h.cfg.GCOnStartup),
	}
	if providers := h.externalProviders(); len(providers) > 0 {
		svcOpts = append(svcOpts, registry.WithProviders(providers...))
	}
	for _, c := range h.cfg.Components {
		svcOpts = append(svcOpts, registry.WithComponents(registry.Component{
			Manifest: c.Manifest,
			Path:     h.resolve(c.Path),
		}))
	}

	svc, err := registry.NewService(store, h.fs, installRoot, svcOpts...)
	if err != nil {
		return nil, err
	}
	h.service = svc

	if h.cfg.Updater.Enabled {
		agent, err := updater.NewAgent(updater.Config{
			Interval:     h.cfg.Updater.Interval,
			DownloadDir:  filepath.Join(profileDir, DownloadsDir),
			HostVersion:  h.cfg.HostVersion,
			BlacklistURL: h.cfg.Updater.BlacklistURL,
		}, updater.NewClient(updater.DefaultClientConfig()), svc, h.fs, h.logger)
		if err != nil {
			return nil, err
		}
		if err := svc.AttachUpdateAgent(agent); err != nil {
			return nil, err
		}
		h.agent = agent
	}

	return h, nil
}

// externalProviders builds the install sources named by the configuration.
func (h *Host) externalProviders() []registry.Provider {
	var providers []registry.Provider
	if h.cfg.External.PrefFile != "" {
		providers = append(providers, provider.NewPrefFile(h.resolve(h.cfg.External.PrefFile), h.fs, h.logger))
	}
	if h.cfg.External.RegistryDir != "" {
		providers = append(providers, provider.NewSysReg(h.resolve(h.cfg.External.RegistryDir), h.fs, h.logger))
	}
	return providers
}

// resolve anchors a relative configured path at the profile directory.
func (h *Host) resolve(path string) string {
	path = ports.ExpandPath(path)
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(h.profile, path)
}

// Start creates the profile directory if needed and launches the registry.
// The update agent, when configured, starts once the installed set has
// finished loading.
func (h *Host) Start(ctx context.Context) error {
	if err := h.fs.MkdirAll(h.profile, 0o755); err != nil {
		return err
	}
	return h.service.Start(ctx)
}

// Stop shuts the registry down; the registry stops the update agent first.
func (h *Host) Stop(ctx context.Context) error {
	return h.service.Stop(ctx)
}

// WaitReady blocks until the installed extension set has been loaded or
// ctx expires.
func (h *Host) WaitReady(ctx context.Context) error {
	return h.service.WaitReady(ctx)
}

// Registry returns the extension registry.
func (h *Host) Registry() *registry.Service { return h.service }

// Updater returns the update agent, or nil when updates are disabled.
func (h *Host) Updater() *updater.Agent { return h.agent }

// Events returns the bus registry notifications are published on.
func (h *Host) Events() *eventbus.Bus { return h.bus }

// Collector returns the install-directory garbage collector.
func (h *Host) Collector() *registry.GarbageCollector { return h.gc }

// Config returns the effective configuration.
func (h *Host) Config() config.Config { return *h.cfg }

// ProfileDir returns the directory the host is rooted at.
func (h *Host) ProfileDir() string { return h.profile }
