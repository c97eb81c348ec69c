// Package tui provides terminal user interface entry points for gantry.
package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/felixgeelhaar/gantry/internal/adapters/eventbus"
	"github.com/felixgeelhaar/gantry/internal/domain/extension"
	"github.com/felixgeelhaar/gantry/internal/domain/registry"
	"github.com/felixgeelhaar/gantry/internal/domain/updater"
)

// RegistryService is the slice of the extension registry the dashboard
// drives. *registry.Service satisfies it; tests substitute a fake.
type RegistryService interface {
	Extensions(ctx context.Context) ([]*extension.Extension, error)
	DisabledExtensions(ctx context.Context) ([]*extension.Extension, error)
	PendingInstalls(ctx context.Context) (map[string]registry.PendingInfo, error)
	Extension(ctx context.Context, id string, includeDisabled bool) (*extension.Extension, error)
	EnableExtension(ctx context.Context, id string) error
	DisableExtension(ctx context.Context, id string) error
	ReloadExtension(ctx context.Context, id string) error
}

// UpdateService is the slice of the update agent the dashboard reads.
type UpdateService interface {
	Status() updater.Status
	CheckNow(ctx context.Context) error
}

// EventSource delivers registry events to the dashboard as they happen.
type EventSource interface {
	Subscribe(fn eventbus.Handler) func()
}

// DashDeps carries the live services the dashboard renders.
type DashDeps struct {
	Registry RegistryService
	// Events feeds the live event panel; nil leaves the panel empty.
	Events EventSource
	// Updater may be nil when the profile turned the update agent off.
	Updater UpdateService
	// Profile is the profile directory shown in the header.
	Profile string
}

// DashOptions configures the dashboard.
type DashOptions struct {
	// Refresh is the cadence for re-reading state the event feed cannot
	// carry, such as updater statistics.
	Refresh time.Duration
}

// NewDashOptions creates default dashboard options.
func NewDashOptions() DashOptions {
	return DashOptions{Refresh: 2 * time.Second}
}

// DashResult holds the result of a dashboard session.
type DashResult struct {
	Cancelled bool
}

// RunDash runs the live extension dashboard until the user quits.
func RunDash(ctx context.Context, deps DashDeps, opts DashOptions) (*DashResult, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("a registry is required")
	}

	model := newDashModel(ctx, deps, opts)
	p := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen())

	// Bus handlers run on the registry coordinator and must not block, so
	// events hop through a buffered channel on their way into the program.
	if deps.Events != nil {
		events := make(chan registry.Event, 64)
		stop := deps.Events.Subscribe(func(ev registry.Event) {
			select {
			case events <- ev:
			default:
			}
		})
		defer stop()

		quit := make(chan struct{})
		defer close(quit)
		go func() {
			for {
				select {
				case ev := <-events:
					p.Send(dashEventMsg(ev))
				case <-quit:
					return
				}
			}
		}()
	}

	finalModel, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("dashboard failed: %w", err)
	}

	m, ok := finalModel.(dashModel)
	if !ok {
		return nil, fmt.Errorf("unexpected model type")
	}
	return &DashResult{Cancelled: m.cancelled}, nil
}
