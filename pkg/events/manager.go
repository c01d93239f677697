package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devflow-ai/devflow/pkg/bus"
	"github.com/devflow-ai/devflow/pkg/models"
)

// DefaultSubscriberBuffer is the per-subscriber channel depth when the
// configured value is missing or non-positive.
const DefaultSubscriberBuffer = 256

// Broadcaster pushes a routed event to transport-level subscribers.
// Implemented by ConnectionManager for WebSocket delivery.
type Broadcaster interface {
	Broadcast(channel string, payload []byte)
}

// Subscription is one consumer's view of a single channel. Envelopes
// arrive on Events() in publish order; the channel closes when the
// subscription is removed, the manager stops, or the consumer falls
// behind (after a final overflow notice).
type Subscription struct {
	ID      string
	Channel string
	ch      chan Envelope
}

// Events returns the envelope stream for this subscription.
func (s *Subscription) Events() <-chan Envelope { return s.ch }

// Manager fans bus events out to channel subscribers and an optional
// Broadcaster. Routing is by the channel taxonomy: every event reaches
// its own type channel, task-scoped events additionally reach
// "task:<id>", and task lifecycle/phase events reach the global "tasks"
// feed.
//
// Delivery to a subscriber never blocks. Each subscription buffers up to
// the configured depth; a subscriber that stops draining is dropped with
// a final overflow envelope so it can distinguish "fell behind" from a
// clean close.
type Manager struct {
	bus    *bus.Bus
	buffer int
	logger *slog.Logger

	mu       sync.Mutex
	subs     map[string]*Subscription
	channels map[string]map[string]*Subscription
	busSubID string
	started  bool
	stopped  bool
	dropped  int64

	bcMu        sync.RWMutex
	broadcaster Broadcaster
}

// NewManager creates a fan-out manager over the given bus. buffer is the
// per-subscriber channel depth; values <= 0 fall back to
// DefaultSubscriberBuffer.
func NewManager(b *bus.Bus, buffer int, logger *slog.Logger) (*Manager, error) {
	if b == nil {
		return nil, models.E(models.ErrorValidation, "event bus is required")
	}
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Manager{
		bus:      b,
		buffer:   buffer,
		logger:   logger.With("component", "events.manager"),
		subs:     make(map[string]*Subscription),
		channels: make(map[string]map[string]*Subscription),
	}, nil
}

// SetBroadcaster attaches the transport hub. Called once during startup
// after both the manager and the hub are constructed.
func (m *Manager) SetBroadcaster(br Broadcaster) {
	m.bcMu.Lock()
	defer m.bcMu.Unlock()
	m.broadcaster = br
}

// Start begins consuming the bus. Idempotent.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return models.E(models.ErrorConflict, "event fan-out is stopped")
	}
	if m.started {
		return nil
	}
	id, err := m.bus.Subscribe(bus.Wildcard, m.handleEvent)
	if err != nil {
		return err
	}
	m.busSubID = id
	m.started = true
	m.logger.Debug("Event fan-out started", "buffer", m.buffer)
	return nil
}

// Stop detaches from the bus and closes every subscription. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	busSubID := m.busSubID
	for _, sub := range m.subs {
		close(sub.ch)
	}
	m.subs = make(map[string]*Subscription)
	m.channels = make(map[string]map[string]*Subscription)
	m.mu.Unlock()

	if busSubID != "" {
		m.bus.Unsubscribe(busSubID)
	}
}

// Subscribe registers a consumer on one channel: "tasks", "task:<id>",
// or an event type.
func (m *Manager) Subscribe(channel string) (*Subscription, error) {
	if !ValidChannel(channel) {
		return nil, models.Ef(models.ErrorValidation, "unknown channel %q", channel)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, models.E(models.ErrorConflict, "event fan-out is stopped")
	}

	sub := &Subscription{
		ID:      uuid.NewString(),
		Channel: channel,
		// One slot above the advertised depth stays reserved for the
		// overflow notice, so the notice send can never block.
		ch: make(chan Envelope, m.buffer+1),
	}
	m.subs[sub.ID] = sub
	if m.channels[channel] == nil {
		m.channels[channel] = make(map[string]*Subscription)
	}
	m.channels[channel][sub.ID] = sub
	return sub, nil
}

// Unsubscribe removes a subscription and closes its channel. Returns
// false when the id is unknown (already removed or never existed).
func (m *Manager) Unsubscribe(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return false
	}
	m.removeLocked(sub)
	close(sub.ch)
	return true
}

// ActiveSubscriptions returns the number of live channel subscriptions.
func (m *Manager) ActiveSubscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// DroppedSubscribers returns how many subscribers have been dropped for
// falling behind since the manager started.
func (m *Manager) DroppedSubscribers() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

// subscriberCount returns the subscribers on one channel. Unexported —
// used by tests to poll instead of sleeping.
func (m *Manager) subscriberCount(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels[channel])
}

// handleEvent is the bus wildcard handler. Channel sends happen under
// the lock but are guaranteed non-blocking, so publishers are never
// stalled by a slow consumer; WebSocket delivery runs after the lock is
// released because hub writes can take up to the hub's write timeout.
func (m *Manager) handleEvent(_ context.Context, e models.Event) error {
	env := Envelope{
		Type:      e.Type,
		TaskID:    taskIDOf(e),
		Data:      e.Data,
		Timestamp: e.Timestamp,
	}
	routes := routesFor(env.Type, env.TaskID)

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	for _, channel := range routes {
		for _, sub := range m.channels[channel] {
			if len(sub.ch) >= m.buffer {
				m.removeLocked(sub)
				sub.ch <- Envelope{Type: NoticeOverflow, Channel: sub.Channel, Timestamp: time.Now().UTC()}
				close(sub.ch)
				m.dropped++
				m.logger.Warn("Dropping slow event subscriber",
					"subscription_id", sub.ID, "channel", sub.Channel, "buffer", m.buffer)
				continue
			}
			sub.ch <- env
		}
	}
	m.mu.Unlock()

	m.bcMu.RLock()
	br := m.broadcaster
	m.bcMu.RUnlock()
	if br != nil {
		payload, err := json.Marshal(env)
		if err != nil {
			m.logger.Warn("Failed to marshal event for broadcast", "type", e.Type, "error", err)
			return nil
		}
		for _, channel := range routes {
			br.Broadcast(channel, payload)
		}
	}
	return nil
}

// removeLocked drops a subscription from both maps. Caller holds m.mu
// and owns closing the channel.
func (m *Manager) removeLocked(sub *Subscription) {
	delete(m.subs, sub.ID)
	if subs, ok := m.channels[sub.Channel]; ok {
		delete(subs, sub.ID)
		if len(subs) == 0 {
			delete(m.channels, sub.Channel)
		}
	}
}

// routesFor lists the channels an event lands on. Task lifecycle and
// phase events feed the global "tasks" channel for list views; agent,
// cost, mode, and system events stay on their type and task channels to
// keep the global feed low-volume.
func routesFor(eventType, taskID string) []string {
	routes := make([]string, 0, 3)
	routes = append(routes, eventType)
	if taskID != "" {
		routes = append(routes, TaskChannel(taskID))
	}
	if strings.HasPrefix(eventType, "task.") {
		routes = append(routes, GlobalTasksChannel)
	}
	return routes
}

// taskIDOf extracts the owning task id from the payload, falling back
// to the aggregate id for task-aggregate events.
func taskIDOf(e models.Event) string {
	if id, ok := e.Data["task_id"].(string); ok && id != "" {
		return id
	}
	if e.AggregateType == models.AggregateTask {
		return e.AggregateID
	}
	return ""
}
