// Package analytics records echo trigger events. Tracking never blocks the caller: events go
// through a bounded queue to a background writer that persists them in batches.
package analytics

import (
	"context"
	"errors"
	"sync"
	"time"

	"echoes/logger"

	"github.com/google/uuid"
)

// Event names.
const (
	EventTriggerEcho   = "trigger_echo"
	EventDetriggerEcho = "detrigger_echo"
)

// ContentTypeEcho is the only content type this service emits.
const ContentTypeEcho = "echo"

var ErrQueueFull = errors.New("analytics: queue full")

// Event is one analytics record.
type Event struct {
	Name        string    `json:"event"`
	ItemID      string    `json:"item_id"`
	ItemName    string    `json:"item_name"`
	ContentType string    `json:"content_type"`
	TriggerType string    `json:"trigger_type,omitempty"`
	SessionID   string    `json:"session_id"`
	At          time.Time `json:"at"`
}

// Tracker accepts events. Implementations must not block.
type Tracker interface {
	Track(e Event) error
}

// Store persists a batch of events.
type Store interface {
	SaveEvents(ctx context.Context, events []Event) error
}

// Discard drops every event.
var Discard Tracker = discard{}

type discard struct{}

func (discard) Track(Event) error { return nil }

// Config tunes the recorder.
type Config struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

var DefaultConfig = Config{
	QueueSize:     1024,
	BatchSize:     50,
	FlushInterval: 5 * time.Second,
}

// Recorder is a Tracker backed by a Store.
type Recorder struct {
	store     Store
	cfg       Config
	sessionID string

	events chan Event
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewRecorder returns a recorder tagged with a fresh session id. Call Start before tracking.
func NewRecorder(store Store, cfg Config) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig.QueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig.FlushInterval
	}
	return &Recorder{
		store:     store,
		cfg:       cfg,
		sessionID: uuid.NewString(),
		events:    make(chan Event, cfg.QueueSize),
		stop:      make(chan struct{}),
	}
}

// SessionID identifies this process's listening session.
func (r *Recorder) SessionID() string { return r.sessionID }

func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.writer()
}

// Stop flushes what is queued and waits for the writer to exit.
func (r *Recorder) Stop() {
	r.once.Do(func() { close(r.stop) })
	r.wg.Wait()
}

// Track enqueues e, filling in session id, content type and timestamp when missing.
func (r *Recorder) Track(e Event) error {
	if e.SessionID == "" {
		e.SessionID = r.sessionID
	}
	if e.ContentType == "" {
		e.ContentType = ContentTypeEcho
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	select {
	case r.events <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

func (r *Recorder) writer() {
	defer r.wg.Done()

	batch := make([]Event, 0, r.cfg.BatchSize)
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case e := <-r.events:
			batch = append(batch, e)
			if len(batch) >= r.cfg.BatchSize {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-r.stop:
			for {
				select {
				case e := <-r.events:
					batch = append(batch, e)
					continue
				default:
				}
				break
			}
			if len(batch) > 0 {
				r.flush(batch)
			}
			return
		}
	}
}

func (r *Recorder) flush(events []Event) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out := make([]Event, len(events))
	copy(out, events)
	if err := r.store.SaveEvents(ctx, out); err != nil {
		logger.Warn("Failed to save analytics events",
			logger.Int("count", len(out)),
			logger.ErrorField(err))
		return
	}
	logger.Debug("Saved analytics events", logger.Int("count", len(out)))
}

// WithSession tags every event passed to t with a fixed session id.
func WithSession(t Tracker, sessionID string) Tracker {
	return sessionTracker{next: t, id: sessionID}
}

type sessionTracker struct {
	next Tracker
	id   string
}

func (s sessionTracker) Track(e Event) error {
	e.SessionID = s.id
	return s.next.Track(e)
}
