// Package registry coordinates the installed extension set: loading,
// installing, updating, enabling and disabling, uninstalling, and the
// notifications other subsystems consume. All state lives on a single
// coordinator goroutine; blocking file work runs on a backend goroutine
// that reports completions back to the coordinator.
package registry

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/gantry/internal/domain/extension"
	"github.com/felixgeelhaar/gantry/internal/ports"
)

var (
	// ErrServiceStopped is returned for operations issued after Stop.
	ErrServiceStopped = errors.New("extension service stopped")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("extension service already started")
	// ErrNotInstalled is returned when an id resolves to no extension.
	ErrNotInstalled = errors.New("extension not installed")
)

// Component is an extension built into the host: its manifest ships inline
// and its resources live at a fixed path.
type Component struct {
	Manifest string
	Path     string
}

// UpdateAgent runs periodic update checks once the installed set is loaded.
type UpdateAgent interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// UpdateTarget describes one id the update agent should check.
type UpdateTarget struct {
	ID        string
	Version   string
	UpdateURL string
	IsTheme   bool
	// LastPing is the day of the last update ping, zero when never sent.
	LastPing time.Time
}

// Service owns the extension registry. Construct with NewService, call
// Start, and issue operations from any goroutine; each one runs on the
// coordinator goroutine in submission order.
type Service struct {
	logger    ports.Logger
	fs        ports.FileSystem
	prefs     PreferenceStore
	notifier  Notifier
	devtools  DevToolsManager
	crashKeys CrashKeys
	siteData  SiteDataClearer
	overrides OverrideRegistrar
	updater   UpdateAgent
	gc        *GarbageCollector

	installRoot       string
	stagingRoot       string
	hostVersion       string
	hostLocale        string
	extensionsEnabled bool
	gcOnStartup       bool
	components        []Component

	// Coordinator state. Only the coordinator goroutine touches these.
	enabled          []*extension.Extension
	disabled         []*extension.Extension
	pending          map[string]PendingInfo
	unloadedPaths    map[string]string
	orphanedDevTools map[string]DevToolsCookie
	ready            bool

	backend *backend

	tasks   chan *task
	quit    chan struct{}
	readyCh chan struct{}
	alive   atomic.Bool
	wg      sync.WaitGroup
	runCtx  context.Context
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger ports.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithNotifier sets the event sink. Defaults to dropping events.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithDevTools sets the inspector session manager.
func WithDevTools(d DevToolsManager) Option {
	return func(s *Service) { s.devtools = d }
}

// WithCrashKeys sets the crash report annotator.
func WithCrashKeys(c CrashKeys) Option {
	return func(s *Service) { s.crashKeys = c }
}

// WithSiteDataClearer sets the site data hook used on uninstall.
func WithSiteDataClearer(c SiteDataClearer) Option {
	return func(s *Service) { s.siteData = c }
}

// WithOverrideRegistrar sets the page override hook.
func WithOverrideRegistrar(r OverrideRegistrar) Option {
	return func(s *Service) { s.overrides = r }
}

// WithUpdateAgent attaches an update agent, started once the installed set
// has finished loading.
func WithUpdateAgent(u UpdateAgent) Option {
	return func(s *Service) { s.updater = u }
}

// AttachUpdateAgent wires an update agent after construction, for callers
// that need the Service value to build the agent. Must be called before
// Start.
func (s *Service) AttachUpdateAgent(u UpdateAgent) error {
	if s.alive.Load() {
		return ErrAlreadyStarted
	}
	s.updater = u
	return nil
}

// WithGarbageCollector attaches a collector, run after startup loading when
// WithGCOnStartup is set.
func WithGarbageCollector(gc *GarbageCollector) Option {
	return func(s *Service) { s.gc = gc }
}

// WithGCOnStartup sweeps orphaned install directories after startup loading.
func WithGCOnStartup(on bool) Option {
	return func(s *Service) { s.gcOnStartup = on }
}

// WithProviders registers external install providers.
func WithProviders(providers ...Provider) Option {
	return func(s *Service) { s.backend.providers = append(s.backend.providers, providers...) }
}

// WithStagingRoot sets the directory installs are unpacked into before they
// are moved into place. Defaults to a sibling of the install root.
func WithStagingRoot(dir string) Option {
	return func(s *Service) { s.stagingRoot = dir }
}

// WithHostVersion sets the host version manifests are checked against.
func WithHostVersion(v string) Option {
	return func(s *Service) { s.hostVersion = v }
}

// WithHostLocale sets the locale used to pick message catalogs.
func WithHostLocale(locale string) Option {
	return func(s *Service) { s.hostLocale = locale }
}

// WithExtensionsEnabled controls the master switch. When off, only component
// and unpacked extensions load.
func WithExtensionsEnabled(on bool) Option {
	return func(s *Service) { s.extensionsEnabled = on }
}

// WithComponents registers built-in extensions loaded before the installed
// set.
func WithComponents(components ...Component) Option {
	return func(s *Service) { s.components = append(s.components, components...) }
}

// NewService builds a stopped Service rooted at installRoot.
func NewService(prefs PreferenceStore, fs ports.FileSystem, installRoot string, opts ...Option) (*Service, error) {
	if prefs == nil {
		return nil, errors.New("registry: preference store is required")
	}
	if fs == nil {
		return nil, errors.New("registry: filesystem is required")
	}
	if installRoot == "" {
		return nil, errors.New("registry: install root is required")
	}

	s := &Service{
		logger:            noplog{},
		fs:                fs,
		prefs:             prefs,
		notifier:          nopNotifier{},
		devtools:          nopDevTools{},
		crashKeys:         nopCrashKeys{},
		siteData:          nopSiteData{},
		overrides:         nopOverrides{},
		installRoot:       installRoot,
		extensionsEnabled: true,
		pending:           make(map[string]PendingInfo),
		unloadedPaths:     make(map[string]string),
		orphanedDevTools:  make(map[string]DevToolsCookie),
		tasks:             make(chan *task, taskQueueDepth),
		quit:              make(chan struct{}),
		readyCh:           make(chan struct{}),
		runCtx:            context.Background(),
	}
	s.backend = newBackend(s)
	for _, opt := range opts {
		opt(s)
	}
	if s.stagingRoot == "" {
		s.stagingRoot = defaultStagingRoot(installRoot)
	}
	s.backend.logger = s.logger
	return s, nil
}

// Start launches the coordinator and backend goroutines, begins loading the
// installed set, and kicks off the external provider scan.
func (s *Service) Start(ctx context.Context) error {
	if !s.alive.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	s.runCtx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go s.run()
	s.backend.start()
	s.post("load installed extensions", s.loadAllInstalled)
	s.backend.post("check external sources", s.backend.checkForExternalUpdates)
	return nil
}

// Stop unloads every extension without notifications and tears both
// goroutines down. Operations issued afterwards fail with
// ErrServiceStopped; completions still in flight are dropped.
func (s *Service) Stop(ctx context.Context) error {
	if !s.alive.CompareAndSwap(true, false) {
		return nil
	}
	if s.updater != nil {
		if err := s.updater.Stop(ctx); err != nil {
			s.logger.Warn(ctx, "update agent stop failed", ports.F("error", err.Error()))
		}
	}
	done := make(chan any, 1)
	s.tasks <- &task{name: "unload all", fn: s.unloadAll, done: done}
	if pv := <-done; pv != nil {
		panic(pv)
	}
	close(s.quit)
	s.backend.stop()
	s.wg.Wait()
	return nil
}

// Ready returns a channel closed once the installed set has been loaded.
func (s *Service) Ready() <-chan struct{} { return s.readyCh }

// IsReady reports whether startup loading has completed.
func (s *Service) IsReady() bool {
	select {
	case <-s.readyCh:
		return true
	default:
		return false
	}
}

// WaitReady blocks until startup loading completes or ctx expires.
func (s *Service) WaitReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Extensions returns copies of the enabled extensions in load order.
func (s *Service) Extensions(ctx context.Context) ([]*extension.Extension, error) {
	var out []*extension.Extension
	err := s.do(ctx, "list extensions", func() {
		out = cloneList(s.enabled)
	})
	return out, err
}

// DisabledExtensions returns copies of the disabled extensions in load order.
func (s *Service) DisabledExtensions(ctx context.Context) ([]*extension.Extension, error) {
	var out []*extension.Extension
	err := s.do(ctx, "list disabled extensions", func() {
		out = cloneList(s.disabled)
	})
	return out, err
}

// Extension returns a copy of the extension with the given id, searching the
// disabled set too when includeDisabled. Returns ErrNotInstalled when the id
// is not loaded.
func (s *Service) Extension(ctx context.Context, id string, includeDisabled bool) (*extension.Extension, error) {
	id = extension.NormalizeID(id)
	var out *extension.Extension
	err := s.do(ctx, "get extension", func() {
		ext, _ := findIn(s.enabled, id)
		if ext == nil && includeDisabled {
			ext, _ = findIn(s.disabled, id)
		}
		if ext != nil {
			out = ext.Clone()
		}
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrNotInstalled
	}
	return out, nil
}

// ExtensionByOrigin resolves an ext:// origin to the enabled extension
// serving it.
func (s *Service) ExtensionByOrigin(ctx context.Context, origin string) (*extension.Extension, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, err
	}
	if u.Scheme != extension.URLScheme {
		return nil, ErrNotInstalled
	}
	return s.Extension(ctx, u.Host, false)
}

// PendingInstalls returns a copy of the pending install registry.
func (s *Service) PendingInstalls(ctx context.Context) (map[string]PendingInfo, error) {
	var out map[string]PendingInfo
	err := s.do(ctx, "list pending installs", func() {
		out = make(map[string]PendingInfo, len(s.pending))
		for id, info := range s.pending {
			out[id] = info
		}
	})
	return out, err
}

// UpdateTargets returns the ids the update agent should check: installed
// extensions with an update URL plus pending installs.
func (s *Service) UpdateTargets(ctx context.Context) ([]UpdateTarget, error) {
	var out []UpdateTarget
	err := s.do(ctx, "collect update targets", func() {
		seen := make(map[string]struct{})
		live := make([]*extension.Extension, 0, len(s.enabled)+len(s.disabled))
		live = append(live, s.enabled...)
		live = append(live, s.disabled...)
		for _, ext := range live {
			if ext.Location == extension.LocationComponent || ext.Manifest.UpdateURL == "" {
				continue
			}
			target := UpdateTarget{
				ID:        ext.ID,
				Version:   ext.Manifest.Version,
				UpdateURL: ext.Manifest.UpdateURL,
				IsTheme:   ext.IsTheme(),
			}
			if day, ok := s.prefs.LastPingDay(ext.ID); ok {
				target.LastPing = day
			}
			out = append(out, target)
			seen[ext.ID] = struct{}{}
		}
		for id, info := range s.pending {
			if info.UpdateURL == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			out = append(out, UpdateTarget{ID: id, UpdateURL: info.UpdateURL, IsTheme: info.IsTheme})
		}
	})
	return out, err
}

// SetLastPingDay records the day an update ping went out for id.
func (s *Service) SetLastPingDay(ctx context.Context, id string, day time.Time) error {
	id = extension.NormalizeID(id)
	return s.do(ctx, "set last ping day", func() {
		if err := s.prefs.SetLastPingDay(id, day); err != nil {
			s.logger.Warn(s.runCtx, "persisting ping day failed",
				ports.F("id", id), ports.F("error", err.Error()))
		}
	})
}

// LastPingDay returns the recorded update ping day for id.
func (s *Service) LastPingDay(ctx context.Context, id string) (time.Time, bool, error) {
	id = extension.NormalizeID(id)
	var (
		day time.Time
		ok  bool
	)
	err := s.do(ctx, "get last ping day", func() {
		day, ok = s.prefs.LastPingDay(id)
	})
	return day, ok, err
}

// SetIncognitoEnabled persists whether id may run in incognito sessions. A
// live extension gets an unload/load cycle so runtime hosts rebuild their
// contexts with the new setting.
func (s *Service) SetIncognitoEnabled(ctx context.Context, id string, enabled bool) error {
	id = extension.NormalizeID(id)
	return s.do(ctx, "set incognito enabled", func() {
		if err := s.prefs.SetIncognitoEnabled(id, enabled); err != nil {
			s.logger.Warn(s.runCtx, "persisting incognito setting failed",
				ports.F("id", id), ports.F("error", err.Error()))
			return
		}
		if ext, _ := findIn(s.enabled, id); ext != nil {
			s.notifier.Publish(s.runCtx, Event{Kind: EventUnloaded, Extension: ext.Clone()})
			s.notifier.Publish(s.runCtx, Event{Kind: EventLoaded, Extension: ext.Clone()})
		}
	})
}

// IsIncognitoEnabled reports whether id may run in incognito sessions.
// Component extensions always may, whatever the persisted setting says.
func (s *Service) IsIncognitoEnabled(ctx context.Context, id string) (bool, error) {
	id = extension.NormalizeID(id)
	var enabled bool
	err := s.do(ctx, "get incognito enabled", func() {
		if ext := s.lookup(id); ext != nil && ext.Location == extension.LocationComponent {
			enabled = true
			return
		}
		enabled = s.prefs.IsIncognitoEnabled(id)
	})
	return enabled, err
}

func cloneList(list []*extension.Extension) []*extension.Extension {
	out := make([]*extension.Extension, 0, len(list))
	for _, ext := range list {
		out = append(out, ext.Clone())
	}
	return out
}

func findIn(list []*extension.Extension, id string) (*extension.Extension, int) {
	for i, ext := range list {
		if ext.ID == id {
			return ext, i
		}
	}
	return nil, -1
}

// lookup finds id in either live list.
func (s *Service) lookup(id string) *extension.Extension {
	if ext, _ := findIn(s.enabled, id); ext != nil {
		return ext
	}
	ext, _ := findIn(s.disabled, id)
	return ext
}

type noplog struct{}

func (noplog) Debug(context.Context, string, ...ports.Field) {}
func (noplog) Info(context.Context, string, ...ports.Field)  {}
func (noplog) Warn(context.Context, string, ...ports.Field)  {}
func (noplog) Error(context.Context, string, ...ports.Field) {}
func (noplog) With(...ports.Field) ports.Logger              { return noplog{} }
func (noplog) Level() ports.Level                            { return ports.LevelInfo }
func (noplog) SetLevel(ports.Level)                          {}
