package player

import (
	"math"
	"sync"
	"time"

	"echoes/core/element"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
)

// ramp is a linear gain change that started at start and lasts dur.
type ramp struct {
	from, to float64
	start    time.Time
	dur      time.Duration
}

func (r ramp) value(now time.Time) float64 {
	if r.dur <= 0 {
		return r.to
	}
	elapsed := now.Sub(r.start)
	switch {
	case elapsed <= 0:
		return r.from
	case elapsed >= r.dur:
		return r.to
	}
	return r.from + (r.to-r.from)*float64(elapsed)/float64(r.dur)
}

type options struct {
	now   func() time.Time
	bus   *Bus
	clock *SyncClock
}

func (o options) withDefaults() options {
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// base holds the transport logic every variant shares. Control state is guarded by mu; the
// decoder chain by io, so a slow network read never blocks a play or pause command.
type base struct {
	desc element.Descriptor
	now  func() time.Time

	mu       sync.Mutex
	state    State
	gain     ramp
	played   int
	fading   bool
	fadeGen  uint64
	seeking  bool
	rewind   bool
	seekTo   float64
	startAt  time.Time
	unloaded bool
	shape    func() (attenuation, pan float64) // called with mu held

	io     sync.Mutex
	src    *source
	vol    *effects.Volume
	pan    *effects.Pan
	out    beep.Streamer
	closed bool
}

func newBase(desc element.Descriptor, src *source, opts options, spatial bool) *base {
	opts = opts.withDefaults()

	var chain beep.Streamer = src.stream
	if opts.bus != nil && src.format.SampleRate != opts.bus.Format().SampleRate {
		chain = beep.Resample(4, src.format.SampleRate, opts.bus.Format().SampleRate, chain)
	}
	b := &base{
		desc:   desc,
		now:    opts.now,
		seekTo: -1,
		src:    src,
		vol:    &effects.Volume{Streamer: chain, Base: 2},
	}
	b.out = b.vol
	if spatial {
		b.pan = &effects.Pan{Streamer: b.vol}
		b.out = b.pan
	}
	return b
}

func (b *base) Play(gain float64) {
	b.playAt(gain, time.Time{})
}

func (b *base) playAt(gain float64, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unloaded {
		return
	}

	now := b.now()
	wasFading := b.fading
	b.fadeGen++ // cancels a pending fade-out
	b.fading = false

	from := b.gain.value(now)
	dur := b.desc.FadeIn
	switch {
	case b.state != StatePlaying:
		from = 0
	case !wasFading:
		dur = 0
	}
	if b.state == StateStopped {
		b.played++
	}

	start := now
	if at.After(now) {
		start = at
	}
	b.gain = ramp{from: from, to: ClampGain(gain), start: start, dur: dur}
	b.state = StatePlaying
	b.startAt = at
}

func (b *base) Pause(fade time.Duration, force bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unloaded || b.state != StatePlaying {
		return
	}
	b.endLocked(StatePaused, fade, force)
}

func (b *base) Stop(fade time.Duration, force bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unloaded || b.state == StateStopped {
		return
	}
	b.endLocked(StateStopped, fade, force)
}

func (b *base) endLocked(target State, fade time.Duration, force bool) {
	b.fadeGen++
	if fade <= 0 || force || b.state != StatePlaying {
		b.finishLocked(target)
		return
	}

	gen := b.fadeGen
	b.fading = true
	b.setGainLocked(0, fade)
	time.AfterFunc(fade, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.fadeGen != gen || b.unloaded {
			return
		}
		b.finishLocked(target)
	})
}

func (b *base) finishLocked(target State) {
	b.state = target
	b.fading = false
	b.startAt = time.Time{}
	if target == StateStopped {
		b.rewind = true
	}
}

func (b *base) SetGain(gain float64, rampDur time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unloaded || b.fading {
		return
	}
	b.setGainLocked(ClampGain(gain), rampDur)
}

func (b *base) setGainLocked(gain float64, dur time.Duration) {
	now := b.now()
	b.gain = ramp{from: b.gain.value(now), to: gain, start: now, dur: dur}
}

// Gain is the gain currently applied, mid-ramp if a ramp is running.
func (b *base) Gain() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gain.value(b.now())
}

// State reports the transport state.
func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *base) IsPlaying() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isPlayingLocked()
}

func (b *base) isPlayingLocked() bool {
	return b.state == StatePlaying && !b.fading
}

func (b *base) ShouldPlay() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.unloaded || b.isPlayingLocked() {
		return false
	}
	if b.desc.PlayOnce && b.played > 0 && b.state == StateStopped {
		return false
	}
	return true
}

func (b *base) ShouldStop(force bool) bool {
	if force {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isPlayingLocked() && !b.desc.PlayComplete
}

func (b *base) StartSeeking() {
	b.mu.Lock()
	b.seeking = true
	b.mu.Unlock()
}

func (b *base) StopSeeking(percentage float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seeking = false
	b.seekTo = math.Min(math.Max(percentage, 0), 1)
}

func (b *base) Unload() {
	b.mu.Lock()
	if b.unloaded {
		b.mu.Unlock()
		return
	}
	b.unloaded = true
	b.state = StateStopped
	b.fading = false
	b.fadeGen++
	b.mu.Unlock()

	// a Stream call in progress closes the source itself on its next pass
	if b.io.TryLock() {
		b.closeLocked()
		b.io.Unlock()
	}
}

func (b *base) closeLocked() {
	if b.closed {
		return
	}
	b.closed = true
	_ = b.src.close()
}

func (b *base) Duration() time.Duration {
	return b.src.duration()
}

func (b *base) PlayedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.played
}

// Stream renders the player into samples. Stopped, paused, seeking and not-yet-started
// players render silence and stay on the bus; only an unloaded player leaves it.
func (b *base) Stream(samples [][2]float64) (int, bool) {
	b.mu.Lock()
	unloaded := b.unloaded
	now := b.now()
	playing := b.state == StatePlaying && !b.seeking && !now.Before(b.startAt)
	gain := ClampGain(b.gain.value(now))
	rewind, seekTo := b.rewind, b.seekTo
	b.rewind, b.seekTo = false, -1
	attenuation, pan := 1.0, 0.0
	if b.shape != nil {
		attenuation, pan = b.shape()
	}
	b.mu.Unlock()

	b.io.Lock()
	defer b.io.Unlock()

	if unloaded {
		b.closeLocked()
		return 0, false
	}
	if rewind {
		b.src.seek(0)
	}
	if seekTo >= 0 {
		b.src.seekFraction(seekTo)
	}
	if !playing {
		silence(samples)
		return len(samples), true
	}

	b.vol.Volume, b.vol.Silent = volumeFor(gain * attenuation)
	if b.pan != nil {
		b.pan.Pan = pan
	}

	filled, looped, ended := 0, false, false
	for filled < len(samples) {
		n, ok := b.out.Stream(samples[filled:])
		filled += n
		if ok && n > 0 {
			continue
		}
		if b.desc.PlayLoop && !looped && b.src.length() > 0 {
			b.src.seek(0)
			looped = true
			continue
		}
		ended = true
		break
	}
	silence(samples[filled:])

	if ended {
		b.mu.Lock()
		if b.state == StatePlaying {
			b.finishLocked(StateStopped)
		}
		b.mu.Unlock()
	}
	return len(samples), true
}

func (b *base) Err() error {
	return b.src.stream.Err()
}

func volumeFor(gain float64) (volume float64, silent bool) {
	if gain <= 0 {
		return 0, true
	}
	return math.Log2(gain), false
}

func silence(samples [][2]float64) {
	for i := range samples {
		samples[i] = [2]float64{}
	}
}
