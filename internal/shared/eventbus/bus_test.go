package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_SubscribePublish(t *testing.T) {
	bus := NewEventBus(nil)
	var got []string
	bus.Subscribe(CollectionTopic("items"), func(ctx context.Context, event Event) error {
		got = append(got, event.Type())
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), NewBasicEvent(EventTypeDocumentCreated, CollectionTopic("items"), "a")))
	require.NoError(t, bus.Publish(context.Background(), NewBasicEvent(EventTypeDocumentCreated, CollectionTopic("other"), "b")))
	assert.Equal(t, []string{EventTypeDocumentCreated}, got)
}

func TestEventBus_UnsubscribeRemovesOnlyThatHandler(t *testing.T) {
	bus := NewEventBus(nil)
	var first, second int
	stop := bus.Subscribe("t", func(ctx context.Context, event Event) error { first++; return nil })
	bus.Subscribe("t", func(ctx context.Context, event Event) error { second++; return nil })
	assert.Equal(t, 2, bus.SubscriberCount("t"))

	stop()
	stop()
	assert.Equal(t, 1, bus.SubscriberCount("t"))

	require.NoError(t, bus.Publish(context.Background(), NewBasicEvent("x", "t", nil)))
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestEventBus_AsyncPublish(t *testing.T) {
	bus := NewEventBusWithConfig(nil, BusConfig{AsyncProcessing: true})
	ch := make(chan struct{}, 1)
	bus.Subscribe("async", func(ctx context.Context, event Event) error {
		ch <- struct{}{}
		return nil
	})
	require.NoError(t, bus.Publish(context.Background(), NewBasicEvent("x", "async", nil)))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for async event")
	}
}

func TestEventBus_RetriesThenFails(t *testing.T) {
	bus := NewEventBusWithConfig(nil, BusConfig{MaxRetries: 2, RetryDelay: time.Millisecond})
	calls := 0
	bus.Subscribe("t", func(ctx context.Context, event Event) error {
		calls++
		return errors.New("boom")
	})
	err := bus.Publish(context.Background(), NewBasicEvent("x", "t", nil))
	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestEventBus_PublishAndForget(t *testing.T) {
	bus := NewEventBus(nil)
	var wg sync.WaitGroup
	wg.Add(1)
	bus.Subscribe("forget", func(ctx context.Context, event Event) error {
		wg.Done()
		return nil
	})
	bus.PublishAndForget(context.Background(), NewBasicEvent("x", "forget", nil))
	wait := make(chan struct{})
	go func() {
		wg.Wait()
		close(wait)
	}()
	select {
	case <-wait:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for PublishAndForget")
	}
}
