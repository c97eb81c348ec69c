package updater

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/felixgeelhaar/statekit"

	"github.com/felixgeelhaar/gantry/internal/domain/extension"
	"github.com/felixgeelhaar/gantry/internal/domain/registry"
	"github.com/felixgeelhaar/gantry/internal/ports"
)

// State represents the agent's current state.
type State string

const (
	// StateStopped indicates the agent is not running.
	StateStopped State = "stopped"
	// StateStarting indicates the agent is initializing.
	StateStarting State = "starting"
	// StateWaiting indicates the agent is waiting for the next check.
	StateWaiting State = "waiting"
	// StateChecking indicates a check cycle is in flight.
	StateChecking State = "checking"
	// StateStopping indicates the agent is shutting down.
	StateStopping State = "stopping"
	// StateError indicates the last cycle failed.
	StateError State = "error"
)

// Event types for the agent state machine.
const (
	eventStart         = "START"
	eventStarted       = "STARTED"
	eventTick          = "TICK"
	eventCheckComplete = "CHECK_COMPLETE"
	eventError         = "ERROR"
	eventRecover       = "RECOVER"
	eventStop          = "STOP"
)

// Registry is the slice of the extension service the agent drives.
type Registry interface {
	UpdateTargets(ctx context.Context) ([]registry.UpdateTarget, error)
	UpdateExtension(ctx context.Context, id, source string) error
	UpdateBlacklist(ctx context.Context, ids []string) error
	SetLastPingDay(ctx context.Context, id string, day time.Time) error
}

var _ Registry = (*registry.Service)(nil)

// Config configures the update agent.
type Config struct {
	// Interval between periodic checks.
	Interval time.Duration
	// FirstCheckDelay defers the initial check so host startup is not
	// competing with downloads.
	FirstCheckDelay time.Duration
	// DownloadDir receives fetched packages until the registry consumes
	// them.
	DownloadDir string
	// HostVersion filters offers whose min_host_version is too new.
	HostVersion string
	// BlacklistURL, when set, is polled for banned ids on every cycle.
	BlacklistURL string
}

// DefaultInterval is the period between update checks.
const DefaultInterval = 5 * time.Hour

// DefaultFirstCheckDelay is how long the agent waits after start before
// the first check.
const DefaultFirstCheckDelay = time.Minute

// machineContext is the statekit context type. Cycle statistics live in
// runtimeStats; the machine only tracks control flow.
type machineContext struct{}

// Status represents a snapshot of the agent's status.
type Status struct {
	State       State     `json:"state"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	LastCheckAt time.Time `json:"last_check_at,omitempty"`
	NextCheckAt time.Time `json:"next_check_at,omitempty"`
	CheckCount  int       `json:"check_count"`
	UpdateCount int       `json:"update_count"`
	ErrorCount  int       `json:"error_count"`
	LastError   string    `json:"last_error,omitempty"`
}

// runtimeStats tracks cycle outcomes with thread-safe access.
type runtimeStats struct {
	mu          sync.RWMutex
	startedAt   time.Time
	lastCheckAt time.Time
	checkCount  int
	updateCount int
	errorCount  int
	lastError   error
}

func (r *runtimeStats) recordStart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startedAt = time.Now()
}

func (r *runtimeStats) recordCheck(applied int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastCheckAt = time.Now()
	r.checkCount++
	r.updateCount += applied
}

func (r *runtimeStats) recordError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorCount++
	r.lastError = err
}

func (r *runtimeStats) snapshot() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	status := Status{
		StartedAt:   r.startedAt,
		LastCheckAt: r.lastCheckAt,
		CheckCount:  r.checkCount,
		UpdateCount: r.updateCount,
		ErrorCount:  r.errorCount,
	}
	if r.lastError != nil {
		status.LastError = r.lastError.Error()
	}
	return status
}

// Agent is the background update agent. It satisfies the registry's
// update-agent contract: the registry starts it once the installed set
// has loaded and stops it on shutdown.
type Agent struct {
	config Config
	client *Client
	reg    Registry
	fs     ports.FileSystem
	logger ports.Logger

	interp *statekit.Interpreter[machineContext]
	stats  *runtimeStats

	// cycleMu serializes check cycles: the scheduler and CheckNow must
	// never overlap.
	cycleMu   sync.Mutex
	stopCh    chan struct{}
	stoppedCh chan struct{}
	mu        sync.RWMutex
}

var _ registry.UpdateAgent = (*Agent)(nil)

// NewAgent creates a new update agent.
func NewAgent(cfg Config, client *Client, reg Registry, fs ports.FileSystem, logger ports.Logger) (*Agent, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if fs == nil {
		return nil, fmt.Errorf("filesystem is required")
	}
	if cfg.DownloadDir == "" {
		return nil, fmt.Errorf("download directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.FirstCheckDelay <= 0 {
		cfg.FirstCheckDelay = DefaultFirstCheckDelay
	}
	if logger == nil {
		logger = noplog{}
	}

	return &Agent{
		config:    cfg,
		client:    client,
		reg:       reg,
		fs:        fs,
		logger:    logger,
		stats:     &runtimeStats{},
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}, nil
}

// buildMachine constructs the agent state machine using statekit. The
// stats pointer is captured by closures so actions mutate the original.
func buildMachine(stats *runtimeStats) (*statekit.Interpreter[machineContext], error) {
	machine, err := statekit.NewMachine[machineContext]("gantry-updater").
		WithInitial("stopped").
		WithContext(machineContext{}).
		WithAction("recordStart", func(_ *machineContext, _ statekit.Event) {
			stats.recordStart()
		}).
		WithAction("recordError", func(_ *machineContext, event statekit.Event) {
			if payload, ok := event.Payload.(map[string]interface{}); ok {
				if err, ok := payload["error"].(error); ok {
					stats.recordError(err)
				}
			}
		}).
		// Stopped state
		State("stopped").
		On(eventStart).Target("starting").Done().
		// Starting state
		State("starting").
		OnEntry("recordStart").
		On(eventStarted).Target("waiting").
		On(eventError).Target("error").Done().
		// Waiting state (between checks)
		State("waiting").
		On(eventTick).Target("checking").
		On(eventStop).Target("stopping").
		On(eventError).Target("error").Done().
		// Checking state
		State("checking").
		On(eventCheckComplete).Target("waiting").
		On(eventStop).Target("stopping").
		On(eventError).Target("error").Done().
		// Stopping state
		State("stopping").
		After(100 * time.Millisecond).Target("stopped").Done().
		// Error state
		State("error").
		OnEntry("recordError").
		On(eventRecover).Target("waiting").
		On(eventStop).Target("stopped").Done().
		Build()
	if err != nil {
		return nil, err
	}

	return statekit.NewInterpreter(machine), nil
}

// Start brings up the state machine and the check scheduler.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.interp != nil {
		return fmt.Errorf("update agent already running")
	}

	interp, err := buildMachine(a.stats)
	if err != nil {
		return fmt.Errorf("failed to build state machine: %w", err)
	}
	a.interp = interp

	a.stopCh = make(chan struct{})
	a.stoppedCh = make(chan struct{})

	a.interp.Start()
	a.interp.Send(statekit.Event{Type: eventStart})
	a.interp.Send(statekit.Event{Type: eventStarted})

	go a.runScheduler(ctx)

	return nil
}

// Stop shuts the agent down gracefully.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	interp := a.interp
	stopCh := a.stopCh
	stoppedCh := a.stoppedCh

	if interp == nil {
		a.mu.Unlock()
		return nil
	}

	select {
	case <-stopCh:
		// Already closed
	default:
		close(stopCh)
	}
	a.mu.Unlock()

	interp.Send(statekit.Event{Type: eventStop})

	select {
	case <-stoppedCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	a.mu.Lock()
	interp.Stop()
	a.interp = nil
	a.mu.Unlock()

	return nil
}

// State returns the current state.
func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.interp == nil {
		return StateStopped
	}
	return State(a.interp.State().Value)
}

// Status returns the current agent status.
func (a *Agent) Status() Status {
	status := a.stats.snapshot()
	status.State = a.State()

	if status.State == StateWaiting || status.State == StateChecking {
		if !status.LastCheckAt.IsZero() {
			status.NextCheckAt = status.LastCheckAt.Add(a.config.Interval)
		} else if !status.StartedAt.IsZero() {
			status.NextCheckAt = status.StartedAt.Add(a.config.FirstCheckDelay)
		}
	}

	return status
}

// CheckNow runs one update cycle immediately, whether or not the
// background schedule is running. A successful manual cycle clears a
// lingering error state.
func (a *Agent) CheckNow(ctx context.Context) error {
	return a.runCycle(ctx)
}

func (a *Agent) interpreter() *statekit.Interpreter[machineContext] {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.interp
}

// runScheduler drives periodic checks until the agent stops.
func (a *Agent) runScheduler(ctx context.Context) {
	defer close(a.stoppedCh)

	first := time.NewTimer(a.config.FirstCheckDelay)
	defer first.Stop()
	select {
	case <-first.C:
	case <-ctx.Done():
		return
	case <-a.stopCh:
		return
	}
	_ = a.runCycle(ctx)

	ticker := time.NewTicker(a.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			_ = a.runCycle(ctx)
		}
	}
}

// runCycle performs one check, routing control-flow events through the
// machine when it is running.
func (a *Agent) runCycle(ctx context.Context) error {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()

	interp := a.interpreter()
	if interp != nil && a.State() == StateError {
		interp.Send(statekit.Event{Type: eventRecover})
	}
	machineDriven := interp != nil && a.State() == StateWaiting
	if machineDriven {
		interp.Send(statekit.Event{Type: eventTick})
	}

	err := a.check(ctx)

	if machineDriven {
		if err != nil {
			interp.Send(statekit.Event{
				Type:    eventError,
				Payload: map[string]interface{}{"error": err},
			})
		} else {
			interp.Send(statekit.Event{Type: eventCheckComplete})
		}
	} else if err != nil {
		a.stats.recordError(err)
	}
	return err
}

// check queries every gallery with installed extensions, applies the
// offers that qualify, and refreshes the blacklist. Gallery failures
// are isolated; the first one is reported after all galleries ran.
func (a *Agent) check(ctx context.Context) error {
	targets, err := a.reg.UpdateTargets(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	applied := 0

	groups := make(map[string][]registry.UpdateTarget)
	for _, target := range targets {
		groups[target.UpdateURL] = append(groups[target.UpdateURL], target)
	}
	galleries := make([]string, 0, len(groups))
	for gallery := range groups {
		galleries = append(galleries, gallery)
	}
	sort.Strings(galleries)

	for _, gallery := range galleries {
		n, err := a.checkGallery(ctx, gallery, groups[gallery])
		applied += n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.config.BlacklistURL != "" {
		if err := a.refreshBlacklist(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	a.stats.recordCheck(applied)
	return firstErr
}

// checkGallery fetches one gallery's index and applies qualifying offers.
func (a *Agent) checkGallery(ctx context.Context, gallery string, targets []registry.UpdateTarget) (int, error) {
	idx, err := a.client.FetchIndex(ctx, gallery, targets)
	if err != nil {
		a.logger.Warn(ctx, "update check failed",
			ports.F("gallery", gallery), ports.F("error", err.Error()))
		return 0, err
	}

	applied := 0
	var firstErr error
	for _, target := range targets {
		info, ok := idx.Get(target.ID)
		if !ok {
			continue
		}
		if !a.wantsUpdate(ctx, target, info) {
			continue
		}
		if err := a.applyUpdate(ctx, info); err != nil {
			a.logger.Warn(ctx, "applying update failed",
				ports.F("id", info.ID), ports.F("version", info.Version),
				ports.F("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		applied++
	}

	a.recordPings(ctx, targets)
	return applied, firstErr
}

// wantsUpdate decides whether an offer improves on what is installed.
func (a *Agent) wantsUpdate(ctx context.Context, target registry.UpdateTarget, info UpdateInfo) bool {
	offered, err := extension.ParseVersion(info.Version)
	if err != nil {
		a.logger.Warn(ctx, "gallery offered unusable version",
			ports.F("id", info.ID), ports.F("version", info.Version))
		return false
	}

	if !extension.HostCompatible(info.MinHostVersion, a.config.HostVersion) {
		a.logger.Debug(ctx, "offer requires newer host",
			ports.F("id", info.ID), ports.F("required", info.MinHostVersion))
		return false
	}

	// Pending extensions have no installed version; any offer qualifies.
	if target.Version == "" {
		return true
	}

	installed, err := extension.ParseVersion(target.Version)
	if err != nil {
		a.logger.Warn(ctx, "installed version unreadable, skipping update",
			ports.F("id", target.ID), ports.F("version", target.Version))
		return false
	}
	return installed.LessThan(offered)
}

// applyUpdate downloads an offer and hands it to the registry.
func (a *Agent) applyUpdate(ctx context.Context, info UpdateInfo) error {
	data, err := a.client.FetchPackage(ctx, info)
	if err != nil {
		return err
	}

	if err := a.fs.MkdirAll(a.config.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("creating download directory: %w", err)
	}
	path := filepath.Join(a.config.DownloadDir, fmt.Sprintf("%s-%s.zip", info.ID, info.Version))
	if err := a.fs.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing downloaded package: %w", err)
	}

	a.logger.Info(ctx, "update downloaded",
		ports.F("id", info.ID), ports.F("version", info.Version))
	return a.reg.UpdateExtension(ctx, info.ID, path)
}

// recordPings notes today as the ping day for every target whose last
// ping is older than today. Runs only after a successful index fetch.
func (a *Agent) recordPings(ctx context.Context, targets []registry.UpdateTarget) {
	now := time.Now()
	for _, target := range targets {
		if sameDay(target.LastPing, now) {
			continue
		}
		if err := a.reg.SetLastPingDay(ctx, target.ID, now); err != nil {
			a.logger.Debug(ctx, "recording ping day failed",
				ports.F("id", target.ID), ports.F("error", err.Error()))
		}
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// refreshBlacklist pulls the banned-id list and applies it.
func (a *Agent) refreshBlacklist(ctx context.Context) error {
	ids, err := a.client.FetchBlacklist(ctx, a.config.BlacklistURL)
	if err != nil {
		a.logger.Warn(ctx, "blacklist refresh failed", ports.F("error", err.Error()))
		return err
	}
	return a.reg.UpdateBlacklist(ctx, ids)
}

type noplog struct{}

func (noplog) Debug(context.Context, string, ...ports.Field) {}
func (noplog) Info(context.Context, string, ...ports.Field)  {}
func (noplog) Warn(context.Context, string, ...ports.Field)  {}
func (noplog) Error(context.Context, string, ...ports.Field) {}
func (noplog) With(...ports.Field) ports.Logger              { return noplog{} }
func (noplog) Level() ports.Level                            { return ports.LevelInfo }
func (noplog) SetLevel(ports.Level)                          {}
