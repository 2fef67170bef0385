// Package changefeed carries committed document changes to listeners. The
// memory feed serves a single process; the Redis feed is shared between
// gateways and survives their restarts.
package changefeed

import (
	"context"
	"strconv"
	"sync"

	"firestore-driver/internal/firestore/domain/model"
	"firestore-driver/internal/firestore/domain/repository"
	apperrors "firestore-driver/internal/shared/errors"
	"firestore-driver/internal/shared/eventbus"
	"firestore-driver/internal/shared/logger"
)

// DefaultRetention is how many events a feed keeps per collection for resumption
const DefaultRetention = 10000

var _ repository.ChangeFeed = (*MemoryFeed)(nil)

// MemoryFeed fans events out through an event bus and keeps a bounded log
// per collection so subscribers can resume after a token. Tokens are
// decimal sequence numbers.
type MemoryFeed struct {
	mu        sync.Mutex
	bus       *eventbus.EventBus
	logs      map[string][]model.ChangeEvent
	seq       uint64
	retention int
	closed    bool
	log       logger.Logger
}

// NewMemoryFeed creates a feed keeping retention events per collection
func NewMemoryFeed(log logger.Logger, retention int) *MemoryFeed {
	if log == nil {
		log = logger.NewNop()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryFeed{
		bus:       eventbus.NewEventBus(log),
		logs:      make(map[string][]model.ChangeEvent),
		retention: retention,
		log:       log.WithComponent("memory-changefeed"),
	}
}

// Publish implements repository.ChangeFeed
func (f *MemoryFeed) Publish(ctx context.Context, event model.ChangeEvent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", apperrors.NewBackendUnavailableError("change feed is closed").WithComponent("memory-changefeed")
	}

	f.seq++
	event.Token = strconv.FormatUint(f.seq, 10)
	entries := append(f.logs[event.Collection], event)
	if len(entries) > f.retention {
		entries = entries[len(entries)-f.retention:]
	}
	f.logs[event.Collection] = entries

	// handlers only enqueue, so publishing under the lock cannot block
	err := f.bus.Publish(ctx, eventbus.NewBasicEvent(eventType(event), eventbus.CollectionTopic(event.Collection), event))
	return event.Token, err
}

// Subscribe implements repository.ChangeFeed
func (f *MemoryFeed) Subscribe(ctx context.Context, collection, afterToken string) (<-chan model.ChangeEvent, error) {
	var after uint64
	if afterToken != "" {
		n, err := strconv.ParseUint(afterToken, 10, 64)
		if err != nil {
			return nil, apperrors.NewInvalidArgumentError("malformed resume token").WithDetail("token", afterToken)
		}
		after = n
	}

	q := newQueue()
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, apperrors.NewBackendUnavailableError("change feed is closed").WithComponent("memory-changefeed")
	}
	if afterToken != "" {
		for _, e := range f.logs[collection] {
			if seq, _ := strconv.ParseUint(e.Token, 10, 64); seq > after {
				q.push(e)
			}
		}
	}
	unsubscribe := f.bus.Subscribe(eventbus.CollectionTopic(collection), func(_ context.Context, ev eventbus.Event) error {
		q.push(ev.Data().(model.ChangeEvent))
		return nil
	})
	f.mu.Unlock()

	out := make(chan model.ChangeEvent)
	go func() {
		defer close(out)
		defer unsubscribe()
		q.drain(ctx, out)
	}()
	return out, nil
}

// Close implements repository.ChangeFeed. Existing subscriptions end when
// their contexts do.
func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func eventType(e model.ChangeEvent) string {
	switch e.Type {
	case model.ChangeAdded:
		return eventbus.EventTypeDocumentCreated
	case model.ChangeModified:
		return eventbus.EventTypeDocumentUpdated
	}
	if e.DocumentID == "" {
		return eventbus.EventTypeCollectionDropped
	}
	return eventbus.EventTypeDocumentDeleted
}

// queue is an unbounded FIFO between a publisher and one subscriber
type queue struct {
	mu     sync.Mutex
	items  []model.ChangeEvent
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) push(e model.ChangeEvent) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) drain(ctx context.Context, out chan<- model.ChangeEvent) {
	for {
		q.mu.Lock()
		items := q.items
		q.items = nil
		q.mu.Unlock()

		for _, e := range items {
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
		if len(items) > 0 {
			continue
		}
		select {
		case <-q.notify:
		case <-ctx.Done():
			return
		}
	}
}
