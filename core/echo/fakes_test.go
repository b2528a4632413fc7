package echo

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"echoes/core/analytics"
	"echoes/core/player"
)

type fakePlayer struct {
	mu       sync.Mutex
	calls    []string
	playing  bool
	gain     float64
	ramp     time.Duration
	fade     time.Duration
	played   int
	unloaded bool
	complete bool
	listener *player.Position
}

func (p *fakePlayer) record(call string) {
	p.calls = append(p.calls, call)
}

func (p *fakePlayer) Play(gain float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("play")
	p.playing, p.gain = true, gain
	p.played++
}

func (p *fakePlayer) Pause(fade time.Duration, force bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("pause")
	p.playing, p.fade = false, fade
}

func (p *fakePlayer) Stop(fade time.Duration, force bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("stop")
	p.playing, p.fade = false, fade
}

func (p *fakePlayer) SetGain(gain float64, ramp time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("gain")
	p.gain, p.ramp = gain, ramp
}

func (p *fakePlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *fakePlayer) ShouldPlay() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.unloaded && !p.playing
}

func (p *fakePlayer) ShouldStop(force bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return force || (p.playing && !p.complete)
}

func (p *fakePlayer) StartSeeking() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("start_seek")
}

func (p *fakePlayer) StopSeeking(float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("stop_seek")
}

func (p *fakePlayer) Unload() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unloaded = true
	p.playing = false
}

func (p *fakePlayer) Duration() time.Duration { return 10 * time.Second }

func (p *fakePlayer) PlayedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.played
}

func (p *fakePlayer) SetListener(at player.Position) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = &at
}

func (p *fakePlayer) count(call string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (p *fakePlayer) currentGain() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gain
}

func (p *fakePlayer) isUnloaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unloaded
}

// fakeLoader builds fakePlayers. Loads block on gate when it is set, and give up when their
// context ends unless ignoreCancel is set.
type fakeLoader struct {
	mu           sync.Mutex
	requests     []player.Request
	players      map[string]*fakePlayer // keyed by echo id and element index
	fail         map[int]bool
	complete     map[int]bool
	gate         chan struct{}
	ignoreCancel bool
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{players: map[string]*fakePlayer{}, fail: map[int]bool{}, complete: map[int]bool{}}
}

func (l *fakeLoader) Load(ctx context.Context, req player.Request) (player.Player, error) {
	l.mu.Lock()
	l.requests = append(l.requests, req)
	gate, ignoreCancel := l.gate, l.ignoreCancel
	l.mu.Unlock()

	if gate != nil && ignoreCancel {
		<-gate
	} else if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail[req.Index] {
		return nil, errors.New("media missing")
	}
	p := &fakePlayer{gain: req.Gain, complete: l.complete[req.Index]}
	l.players[slotKey(req.EchoID, req.Index)] = p
	return p, nil
}

func (l *fakeLoader) requestCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

func slotKey(echoID string, i int) string {
	return echoID + "/" + strconv.Itoa(i)
}

// player returns element i of the only echo a test loads.
func (l *fakeLoader) player(i int) *fakePlayer {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, req := range l.requests {
		if req.Index == i {
			return l.players[slotKey(req.EchoID, i)]
		}
	}
	return nil
}

func (l *fakeLoader) playerOf(echoID string, i int) *fakePlayer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.players[slotKey(echoID, i)]
}

type recordingTracker struct {
	mu     sync.Mutex
	events []analytics.Event
	err    error
}

func (t *recordingTracker) Track(e analytics.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
	return t.err
}

func (t *recordingTracker) names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.events))
	for _, e := range t.events {
		out = append(out, e.Name)
	}
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) HandleEchoEvent(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Kind)
	}
	return out
}
