package mode

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/devflow-ai/devflow/pkg/bus"
	"github.com/devflow-ai/devflow/pkg/config"
	"github.com/devflow-ai/devflow/pkg/events"
	"github.com/devflow-ai/devflow/pkg/models"
)

// Info describes one mode for listings.
type Info struct {
	Mode   models.Mode        `json:"mode"`
	Config *models.ModeConfig `json:"config"`
	Active bool               `json:"active"`
}

// Manager holds the active mode and one statically-built strategy per mode.
// Tasks snapshot their strategy at submit time, so switching modes never
// affects work already in flight.
type Manager struct {
	mu         sync.RWMutex
	current    models.Mode
	strategies map[models.Mode]Strategy
	switching  bool

	bus    *bus.Bus
	logger *slog.Logger
}

// NewManager builds strategies for every configured mode and activates
// initial. Each of the four modes needs a config.
func NewManager(initial models.Mode, configs map[models.Mode]*models.ModeConfig, b *bus.Bus, logger *slog.Logger) (*Manager, error) {
	if !initial.IsValid() {
		return nil, models.Ef(models.ErrorValidation, "unknown initial mode %q", initial)
	}
	if b == nil {
		return nil, models.E(models.ErrorValidation, "mode manager requires an event bus")
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	strategies := make(map[models.Mode]Strategy, len(models.AllModes()))
	for _, m := range models.AllModes() {
		cfg, ok := configs[m]
		if !ok {
			return nil, models.Ef(models.ErrorValidation, "missing config for mode %s", m)
		}
		s, err := NewStrategy(m, cfg)
		if err != nil {
			return nil, err
		}
		strategies[m] = s
	}

	return &Manager{
		current:    initial,
		strategies: strategies,
		bus:        b,
		logger:     logger.With("component", "mode.manager"),
	}, nil
}

// Current returns the active mode.
func (m *Manager) Current() models.Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// ActiveStrategy returns the strategy of the active mode.
func (m *Manager) ActiveStrategy() Strategy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.strategies[m.current]
}

// Strategy returns the strategy for a specific mode.
func (m *Manager) Strategy(mode models.Mode) (Strategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.strategies[mode]
	if !ok {
		return nil, models.Ef(models.ErrorNotFound, "unknown mode %q", mode)
	}
	return s, nil
}

// Config returns a copy of a mode's configuration.
func (m *Manager) Config(mode models.Mode) (*models.ModeConfig, error) {
	s, err := m.Strategy(mode)
	if err != nil {
		return nil, err
	}
	return s.Config(), nil
}

// List describes every mode in canonical order.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.strategies))
	for _, mode := range models.AllModes() {
		s, ok := m.strategies[mode]
		if !ok {
			continue
		}
		out = append(out, Info{Mode: mode, Config: s.Config(), Active: mode == m.current})
	}
	return out
}

// SwitchMode activates target. Only one switch may run at a time; a second
// concurrent call gets a busy conflict. Switching to the already-active
// mode is a no-op. Publishes mode.switching, then mode.switched.
func (m *Manager) SwitchMode(ctx context.Context, target models.Mode) error {
	m.mu.Lock()
	if _, ok := m.strategies[target]; !ok {
		m.mu.Unlock()
		return models.Ef(models.ErrorNotFound, "unknown mode %q", target)
	}
	if m.switching {
		m.mu.Unlock()
		return models.E(models.ErrorConflict, "busy: a mode switch is already in progress")
	}
	from := m.current
	if from == target {
		m.mu.Unlock()
		return nil
	}
	m.switching = true
	m.mu.Unlock()

	m.publish(ctx, events.EventModeSwitching, target, map[string]any{
		"from": string(from),
		"to":   string(target),
	})

	m.mu.Lock()
	m.current = target
	m.mu.Unlock()

	m.publish(ctx, events.EventModeSwitched, target, map[string]any{
		"from": string(from),
		"to":   string(target),
	})

	m.mu.Lock()
	m.switching = false
	m.mu.Unlock()

	m.logger.Info("Mode switched", "from", string(from), "to", string(target))
	return nil
}

// UpdateConfig merges a partial override into a mode's current config,
// rebuilds that strategy, and publishes mode.config.updated. The updated
// config is returned.
func (m *Manager) UpdateConfig(ctx context.Context, mode models.Mode, patch *config.ModeOverride) (*models.ModeConfig, error) {
	if patch == nil {
		return nil, models.E(models.ErrorValidation, "empty mode config update")
	}

	m.mu.Lock()
	current, ok := m.strategies[mode]
	if !ok {
		m.mu.Unlock()
		return nil, models.Ef(models.ErrorNotFound, "unknown mode %q", mode)
	}
	updated, err := patch.ApplyTo(current.Config())
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	next, err := NewStrategy(mode, updated)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.strategies[mode] = next
	m.mu.Unlock()

	m.publish(ctx, events.EventModeConfigUpdated, mode, map[string]any{
		"mode": string(mode),
	})
	m.logger.Info("Mode configuration updated", "mode", string(mode))
	return updated.Clone(), nil
}

func (m *Manager) publish(ctx context.Context, eventType string, mode models.Mode, data map[string]any) {
	if _, err := m.bus.Publish(ctx, eventType, data, bus.WithAggregate(string(mode), models.AggregateMode)); err != nil {
		m.logger.Warn("Event publish failed", "event_type", eventType, "error", err)
	}
}
