package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore holds staged events in memory; sent events stay but are skipped.
type memStore struct {
	mu     sync.Mutex
	events []Event
	sent   map[int64]bool
}

func newMemStore(events ...Event) *memStore {
	return &memStore{events: events, sent: make(map[int64]bool)}
}

func (m *memStore) FetchUnsent(_ context.Context, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if m.sent[ev.ID] {
			continue
		}
		out = append(out, ev)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memStore) MarkSent(_ context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.sent[id] = true
	}
	return nil
}

func (m *memStore) unsentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, ev := range m.events {
		if !m.sent[ev.ID] {
			count++
		}
	}
	return count
}

// flakyDispatcher fails on the event kinds listed in failOn.
type flakyDispatcher struct {
	mu        sync.Mutex
	delivered []int64
	failOn    map[string]bool
}

func (d *flakyDispatcher) Dispatch(_ context.Context, ev Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOn[ev.Kind] {
		return errors.New("broker unavailable")
	}
	d.delivered = append(d.delivered, ev.ID)
	return nil
}

func (d *flakyDispatcher) deliveredIDs() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.delivered...)
}

func staged(id int64, kind string) Event {
	return Event{ID: id, Kind: kind, Payload: []byte(`{}`), CreatedAt: time.Now()}
}

func TestNewEvent(t *testing.T) {
	ev, err := NewEvent("order.created", map[string]int64{"order_id": 7})
	require.NoError(t, err)
	assert.Equal(t, "order.created", ev.Kind)
	assert.JSONEq(t, `{"order_id":7}`, string(ev.Payload))

	_, err = NewEvent("bad", func() {})
	require.Error(t, err)
}

func TestDeliverBatch(t *testing.T) {
	t.Run("delivers and acknowledges the whole batch", func(t *testing.T) {
		store := newMemStore(staged(1, "order.created"), staged(2, "coupon.decremented"))
		dispatcher := &flakyDispatcher{}
		relay := NewRelay(store, dispatcher, time.Minute, 10, zap.NewNop())

		require.NoError(t, relay.deliverBatch(context.Background()))
		assert.Equal(t, []int64{1, 2}, dispatcher.deliveredIDs())
		assert.Zero(t, store.unsentCount())
	})

	t.Run("mid-batch failure acknowledges the delivered prefix only", func(t *testing.T) {
		store := newMemStore(
			staged(1, "order.created"),
			staged(2, "coupon.decremented"),
			staged(3, "order.created"),
		)
		dispatcher := &flakyDispatcher{failOn: map[string]bool{"coupon.decremented": true}}
		relay := NewRelay(store, dispatcher, time.Minute, 10, zap.NewNop())

		require.Error(t, relay.deliverBatch(context.Background()))
		assert.Equal(t, []int64{1}, dispatcher.deliveredIDs())
		// Events 2 and 3 stay queued for the next tick.
		assert.Equal(t, 2, store.unsentCount())

		// After the broker recovers the remainder goes out in order.
		dispatcher.mu.Lock()
		dispatcher.failOn = nil
		dispatcher.mu.Unlock()
		require.NoError(t, relay.deliverBatch(context.Background()))
		assert.Equal(t, []int64{1, 2, 3}, dispatcher.deliveredIDs())
		assert.Zero(t, store.unsentCount())
	})

	t.Run("respects the batch size", func(t *testing.T) {
		store := newMemStore(staged(1, "a"), staged(2, "a"), staged(3, "a"))
		dispatcher := &flakyDispatcher{}
		relay := NewRelay(store, dispatcher, time.Minute, 2, zap.NewNop())

		require.NoError(t, relay.deliverBatch(context.Background()))
		assert.Len(t, dispatcher.deliveredIDs(), 2)
		assert.Equal(t, 1, store.unsentCount())
	})

	t.Run("empty store is a no-op", func(t *testing.T) {
		store := newMemStore()
		relay := NewRelay(store, &flakyDispatcher{}, time.Minute, 10, zap.NewNop())
		require.NoError(t, relay.deliverBatch(context.Background()))
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	store := newMemStore(staged(1, "order.created"))
	dispatcher := &flakyDispatcher{}
	relay := NewRelay(store, dispatcher, 5*time.Millisecond, 10, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	// Give the relay a few ticks to drain the store, then shut down.
	deadline := time.After(time.Second)
	for store.unsentCount() > 0 {
		select {
		case <-deadline:
			t.Fatal("relay never delivered the staged event")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err, "shutdown must not surface as an error")
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancellation")
	}
}
