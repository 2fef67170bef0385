package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"firestore-driver/internal/shared/logger"
)

// Event is anything published on a topic
type Event interface {
	Type() string
	Topic() string
	Data() interface{}
	Timestamp() time.Time
}

// Handler defines the event handler function type
type Handler func(ctx context.Context, event Event) error

// Bus defines the contract for event bus implementations
type Bus interface {
	Subscribe(topic string, handler Handler) (unsubscribe func())
	Publish(ctx context.Context, event Event) error
	PublishAndForget(ctx context.Context, event Event)
	SubscriberCount(topic string) int
}

// EventBus is an in-memory topic bus. Handlers of one topic run in subscription order.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   uint64
	logger   logger.Logger
	config   BusConfig
}

type subscription struct {
	id      uint64
	handler Handler
}

// BusConfig holds configuration for the event bus
type BusConfig struct {
	AsyncProcessing bool
	MaxRetries      int
	RetryDelay      time.Duration
}

// DefaultBusConfig returns default configuration
func DefaultBusConfig() BusConfig {
	return BusConfig{
		AsyncProcessing: false,
		MaxRetries:      0,
		RetryDelay:      50 * time.Millisecond,
	}
}

// NewEventBus creates a new event bus instance
func NewEventBus(log logger.Logger) *EventBus {
	return NewEventBusWithConfig(log, DefaultBusConfig())
}

// NewEventBusWithConfig creates a new event bus with custom configuration
func NewEventBusWithConfig(log logger.Logger, config BusConfig) *EventBus {
	if log == nil {
		log = logger.NewNop()
	}
	return &EventBus{
		handlers: make(map[string][]subscription),
		logger:   log.WithComponent("eventbus"),
		config:   config,
	}
}

// Subscribe adds a handler for a topic and returns a func removing exactly that handler
func (eb *EventBus) Subscribe(topic string, handler Handler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.handlers[topic] = append(eb.handlers[topic], subscription{id: id, handler: handler})
	eb.logger.Debugf("Subscribed handler %d to topic %s", id, topic)

	var once sync.Once
	return func() {
		once.Do(func() { eb.remove(topic, id) })
	}
}

func (eb *EventBus) remove(topic string, id uint64) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.handlers[topic]
	for i, s := range subs {
		if s.id == id {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(eb.handlers, topic)
		return
	}
	eb.handlers[topic] = subs
}

// Publish sends an event to all handlers of its topic
func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	eb.mu.RLock()
	subs := append([]subscription(nil), eb.handlers[event.Topic()]...)
	eb.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}

	if eb.config.AsyncProcessing {
		return eb.publishAsync(ctx, event, subs)
	}
	for _, s := range subs {
		if err := eb.executeHandler(ctx, event, s); err != nil {
			return err
		}
	}
	return nil
}

func (eb *EventBus) publishAsync(ctx context.Context, event Event, subs []subscription) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(subs))

	for _, s := range subs {
		wg.Add(1)
		go func(s subscription) {
			defer wg.Done()
			if err := eb.executeHandler(ctx, event, s); err != nil {
				errCh <- err
			}
		}(s)
	}

	wg.Wait()
	close(errCh)
	return <-errCh
}

// executeHandler runs a handler, retrying up to MaxRetries times
func (eb *EventBus) executeHandler(ctx context.Context, event Event, s subscription) error {
	var lastErr error
	for attempt := 0; attempt <= eb.config.MaxRetries; attempt++ {
		if attempt > 0 {
			eb.logger.Warnf("Retrying handler %d for %s on %s (attempt %d/%d)",
				s.id, event.Type(), event.Topic(), attempt+1, eb.config.MaxRetries+1)
			time.Sleep(eb.config.RetryDelay)
		}
		if err := s.handler(ctx, event); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	eb.logger.Errorf("Handler %d failed for %s on %s: %v", s.id, event.Type(), event.Topic(), lastErr)
	return fmt.Errorf("handler failed after %d attempts: %w", eb.config.MaxRetries+1, lastErr)
}

// PublishAndForget publishes an event asynchronously without waiting for completion
func (eb *EventBus) PublishAndForget(ctx context.Context, event Event) {
	go func() {
		if err := eb.Publish(ctx, event); err != nil {
			eb.logger.Errorf("Failed to publish event %s: %v", event.Type(), err)
		}
	}()
}

// SubscriberCount returns the number of handlers on a topic
func (eb *EventBus) SubscriberCount(topic string) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[topic])
}

// BasicEvent implements the Event interface
type BasicEvent struct {
	eventType string
	topic     string
	data      interface{}
	timestamp time.Time
}

// NewBasicEvent creates a new event on a topic
func NewBasicEvent(eventType, topic string, data interface{}) Event {
	return &BasicEvent{
		eventType: eventType,
		topic:     topic,
		data:      data,
		timestamp: time.Now(),
	}
}

func (e *BasicEvent) Type() string         { return e.eventType }
func (e *BasicEvent) Topic() string        { return e.topic }
func (e *BasicEvent) Data() interface{}    { return e.data }
func (e *BasicEvent) Timestamp() time.Time { return e.timestamp }

// Event types for document changes
const (
	EventTypeDocumentCreated   = "document.created"
	EventTypeDocumentUpdated   = "document.updated"
	EventTypeDocumentDeleted   = "document.deleted"
	EventTypeCollectionDropped = "collection.dropped"
)

// CollectionTopic is the topic carrying changes of one collection
func CollectionTopic(collection string) string {
	return "collection:" + collection
}
