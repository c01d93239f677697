// Package bus implements the in-process publish/subscribe backbone. Handlers
// are invoked concurrently per publish; publish waits for the full fan-out
// before returning. Handler errors are logged and isolated so a misbehaving
// subscriber can never fail a publish.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devflow-ai/devflow/pkg/models"
)

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

// DefaultMaxListeners bounds subscriptions per event type (and for the
// wildcard set) unless overridden.
const DefaultMaxListeners = 100

// Handler consumes one event. Returning an error only records it in the log;
// delivery to the remaining handlers is unaffected.
type Handler func(ctx context.Context, event models.Event) error

type subscription struct {
	id        string
	eventType string
	handler   Handler
	once      bool

	mu      sync.Mutex
	claimed bool
	done    bool
}

// tryClaim reserves a once-subscription for the calling deliverer so two
// concurrent publishes cannot both fire it.
func (s *subscription) tryClaim() bool {
	if !s.once {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed || s.done {
		return false
	}
	s.claimed = true
	return true
}

// settle finalizes a once-subscription after delivery: success removes it,
// failure releases the claim so a later publish can retry it.
func (s *subscription) settle(success bool) {
	if !s.once {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimed = false
	s.done = success
}

// Bus is the in-process event bus.
type Bus struct {
	mu           sync.RWMutex
	typed        map[string][]*subscription
	wildcard     []*subscription
	byID         map[string]*subscription
	version      int64
	maxListeners int

	logger *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithMaxListeners overrides the per-type (and wildcard) subscription limit.
func WithMaxListeners(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.maxListeners = n
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = l
	}
}

// New creates an empty bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		typed:        make(map[string][]*subscription),
		byID:         make(map[string]*subscription),
		maxListeners: DefaultMaxListeners,
		logger:       slog.With("component", "event_bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for an event type, or for every event when
// eventType is Wildcard. Returns a subscription id for Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) (string, error) {
	return b.subscribe(eventType, handler, false)
}

// Once registers a handler removed after its first successful delivery.
func (b *Bus) Once(eventType string, handler Handler) (string, error) {
	return b.subscribe(eventType, handler, true)
}

func (b *Bus) subscribe(eventType string, handler Handler, once bool) (string, error) {
	if handler == nil {
		return "", models.E(models.ErrorValidation, "handler must not be nil")
	}
	if eventType == "" {
		return "", models.E(models.ErrorValidation, "event type must not be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id:        uuid.NewString(),
		eventType: eventType,
		handler:   handler,
		once:      once,
	}
	if eventType == Wildcard {
		if len(b.wildcard) >= b.maxListeners {
			return "", models.Ef(models.ErrorConflict, "max listeners (%d) reached for wildcard", b.maxListeners)
		}
		b.wildcard = append(b.wildcard, sub)
	} else {
		if len(b.typed[eventType]) >= b.maxListeners {
			return "", models.Ef(models.ErrorConflict, "max listeners (%d) reached for %s", b.maxListeners, eventType)
		}
		b.typed[eventType] = append(b.typed[eventType], sub)
	}
	b.byID[sub.id] = sub
	return sub.id, nil
}

// Unsubscribe removes a subscription by id. Returns false for unknown ids.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.byID[id]
	if !ok {
		return false
	}
	b.removeLocked(sub)
	return true
}

func (b *Bus) removeLocked(sub *subscription) {
	delete(b.byID, sub.id)
	if sub.eventType == Wildcard {
		b.wildcard = withoutSub(b.wildcard, sub.id)
		return
	}
	remaining := withoutSub(b.typed[sub.eventType], sub.id)
	if len(remaining) == 0 {
		delete(b.typed, sub.eventType)
	} else {
		b.typed[sub.eventType] = remaining
	}
}

func withoutSub(subs []*subscription, id string) []*subscription {
	out := subs[:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// SubscriberCount returns the number of handlers registered for a type
// (typed only; wildcard handlers are counted under Wildcard).
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if eventType == Wildcard {
		return len(b.wildcard)
	}
	return len(b.typed[eventType])
}

// PublishOption customizes the event built by Publish.
type PublishOption func(*models.Event)

// WithAggregate sets the aggregate identity of the event.
func WithAggregate(id string, typ models.AggregateType) PublishOption {
	return func(e *models.Event) {
		e.AggregateID = id
		e.AggregateType = typ
	}
}

// WithMetadata sets the event metadata.
func WithMetadata(meta models.EventMetadata) PublishOption {
	return func(e *models.Event) {
		e.Metadata = meta
	}
}

// Publish builds the event (fresh id, timestamp, per-bus monotonic version,
// default system aggregate), delivers it to a snapshot of matching handlers
// concurrently, and returns once every handler has finished.
func (b *Bus) Publish(ctx context.Context, eventType string, data map[string]any, opts ...PublishOption) (models.Event, error) {
	if eventType == "" || eventType == Wildcard {
		return models.Event{}, models.Ef(models.ErrorValidation, "cannot publish to %q", eventType)
	}

	event := models.Event{
		ID:            uuid.NewString(),
		AggregateID:   "system",
		AggregateType: models.AggregateSystem,
		Type:          eventType,
		Data:          data,
		Timestamp:     time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&event)
	}

	b.mu.Lock()
	b.version++
	event.Version = b.version
	// Snapshot under the same lock so subscribe/unsubscribe during fan-out
	// cannot mutate the delivery set.
	targets := make([]*subscription, 0, len(b.typed[eventType])+len(b.wildcard))
	targets = append(targets, b.typed[eventType]...)
	targets = append(targets, b.wildcard...)
	b.mu.Unlock()

	b.dispatch(ctx, event, targets)
	return event, nil
}

// PublishBatch publishes events in order, waiting for each fan-out before
// starting the next, so a single caller observes ordered delivery.
func (b *Bus) PublishBatch(ctx context.Context, batch []BatchEntry) ([]models.Event, error) {
	events := make([]models.Event, 0, len(batch))
	for _, entry := range batch {
		evt, err := b.Publish(ctx, entry.Type, entry.Data, entry.Opts...)
		if err != nil {
			return events, err
		}
		events = append(events, evt)
	}
	return events, nil
}

// BatchEntry is one event in a PublishBatch call.
type BatchEntry struct {
	Type string
	Data map[string]any
	Opts []PublishOption
}

func (b *Bus) dispatch(ctx context.Context, event models.Event, targets []*subscription) {
	var wg sync.WaitGroup
	for _, sub := range targets {
		if !sub.tryClaim() {
			continue
		}
		wg.Add(1)
		go func(sub *subscription) {
			defer wg.Done()
			err := b.invoke(ctx, sub, event)
			if sub.once {
				sub.settle(err == nil)
				if err == nil {
					b.mu.Lock()
					b.removeLocked(sub)
					b.mu.Unlock()
				}
			}
			if err != nil {
				b.logger.Warn("Event handler failed",
					"event_type", event.Type,
					"event_id", event.ID,
					"subscription_id", sub.id,
					"error", err)
			}
		}(sub)
	}
	wg.Wait()
}

// invoke runs one handler, converting a panic into an error so a broken
// subscriber cannot take down the publisher.
func (b *Bus) invoke(ctx context.Context, sub *subscription, event models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return sub.handler(ctx, event)
}
