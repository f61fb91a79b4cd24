package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestMemoryBus_PublishNoSubscribers(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	// A topic nobody listens on is a valid no-op.
	assert.NoError(t, bus.Publish(context.Background(), "webConnectorInstalled", map[string]string{"k": "v"}))
}

func TestMemoryBus_DeliversToAllSubscribers(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var mu sync.Mutex
	got := make(map[string]int)
	handler := func(name string) Handler {
		return func(_ context.Context, ev Event) error {
			mu.Lock()
			got[name]++
			mu.Unlock()
			return nil
		}
	}

	_, err := bus.Subscribe("topic", handler("a"))
	require.NoError(t, err)
	_, err = bus.Subscribe("topic", handler("b"))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "topic", "payload"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got["a"] == 1 && got["b"] == 1
	})
}

func TestMemoryBus_FailingSubscriberIsolated(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var mu sync.Mutex
	var healthy int

	_, err := bus.Subscribe("topic", func(_ context.Context, _ Event) error {
		return errors.New("boom")
	})
	require.NoError(t, err)
	_, err = bus.Subscribe("topic", func(_ context.Context, _ Event) error {
		panic("worse boom")
	})
	require.NoError(t, err)
	_, err = bus.Subscribe("topic", func(_ context.Context, _ Event) error {
		mu.Lock()
		healthy++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	// Publisher is never failed by subscribers.
	require.NoError(t, bus.Publish(context.Background(), "topic", "payload"))
	require.NoError(t, bus.Publish(context.Background(), "topic", "payload"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return healthy == 2
	})
}

func TestMemoryBus_FIFOPerSubscriber(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var mu sync.Mutex
	var got []int

	_, err := bus.Subscribe("topic", func(_ context.Context, ev Event) error {
		var n int
		if err := json.Unmarshal(ev.Data, &n); err != nil {
			return err
		}
		mu.Lock()
		got = append(got, n)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, bus.Publish(context.Background(), "topic", i))
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 50
	})

	mu.Lock()
	defer mu.Unlock()
	for i, n := range got {
		assert.Equal(t, i, n)
	}
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var mu sync.Mutex
	var count int
	sub, err := bus.Subscribe("topic", func(_ context.Context, _ Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "topic", "one"))
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, bus.Publish(context.Background(), "topic", "two"))

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestMemoryBus_Closed(t *testing.T) {
	bus := NewMemoryBus(nil)
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(context.Background(), "topic", "x"), ErrBusClosed)
	_, err := bus.Subscribe("topic", func(_ context.Context, _ Event) error { return nil })
	assert.ErrorIs(t, err, ErrBusClosed)
}
