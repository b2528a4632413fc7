package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	batches [][]Event
	err     error
}

func (s *memoryStore) SaveEvents(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, events)
	return nil
}

func (s *memoryStore) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func TestRecorderFlushesOnStop(t *testing.T) {
	store := &memoryStore{}
	r := NewRecorder(store, Config{FlushInterval: time.Hour})
	r.Start()

	require.NoError(t, r.Track(Event{Name: EventTriggerEcho, ItemID: "e1", ItemName: "Gate", TriggerType: "location"}))
	require.NoError(t, r.Track(Event{Name: EventDetriggerEcho, ItemID: "e1", ItemName: "Gate"}))
	r.Stop()

	events := store.all()
	require.Len(t, events, 2)
	assert.Equal(t, EventTriggerEcho, events[0].Name)
	assert.Equal(t, ContentTypeEcho, events[0].ContentType)
	assert.Equal(t, r.SessionID(), events[1].SessionID)
	assert.False(t, events[1].At.IsZero())
	assert.Empty(t, events[1].TriggerType)

	r.Stop()
}

func TestRecorderBatches(t *testing.T) {
	store := &memoryStore{}
	r := NewRecorder(store, Config{BatchSize: 2, FlushInterval: time.Hour})
	r.Start()
	defer r.Stop()

	for i := 0; i < 4; i++ {
		require.NoError(t, r.Track(Event{Name: EventTriggerEcho}))
	}
	assert.Eventually(t, func() bool { return len(store.all()) == 4 }, time.Second, 5*time.Millisecond)
}

func TestRecorderQueueFull(t *testing.T) {
	r := NewRecorder(nil, Config{QueueSize: 1})

	require.NoError(t, r.Track(Event{Name: EventTriggerEcho}))
	assert.ErrorIs(t, r.Track(Event{Name: EventTriggerEcho}), ErrQueueFull)
}

func TestRecorderSwallowsStoreErrors(t *testing.T) {
	store := &memoryStore{err: errors.New("db down")}
	r := NewRecorder(store, Config{FlushInterval: time.Hour})
	r.Start()
	require.NoError(t, r.Track(Event{Name: EventTriggerEcho}))
	r.Stop()
	assert.Empty(t, store.all())
}

type sliceTracker struct{ events []Event }

func (s *sliceTracker) Track(e Event) error {
	s.events = append(s.events, e)
	return nil
}

func TestWithSessionOverridesSessionID(t *testing.T) {
	inner := &sliceTracker{}
	tr := WithSession(inner, "listener-1")

	require.NoError(t, tr.Track(Event{Name: EventTriggerEcho, SessionID: "other"}))
	require.NoError(t, tr.Track(Event{Name: EventDetriggerEcho}))
	require.Len(t, inner.events, 2)
	assert.Equal(t, "listener-1", inner.events[0].SessionID)
	assert.Equal(t, "listener-1", inner.events[1].SessionID)
}
