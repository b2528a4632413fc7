package player

import (
	"math"
	"time"

	"echoes/core/element"
)

// SpatialPlayer renders an element at a fixed position relative to a moving listener, and
// starts tempo-synced elements on the next shared bar line.
type SpatialPlayer struct {
	*base
	position Position
	listener Position // guarded by base.mu
	clock    *SyncClock
}

func newSpatial(b *base, desc element.Descriptor, at Position, clock *SyncClock) *SpatialPlayer {
	at.Up += desc.RelativeElevation
	p := &SpatialPlayer{base: b, position: at, clock: clock}
	b.shape = p.shape
	return p
}

func (p *SpatialPlayer) Play(gain float64) {
	if p.desc.InSyncGroup() && p.clock != nil {
		p.playAt(gain, p.clock.NextBar(p.now(), p.desc.BarDuration()))
		return
	}
	p.base.Play(gain)
}

func (p *SpatialPlayer) SetListener(l Position) {
	p.mu.Lock()
	p.listener = l
	p.mu.Unlock()
}

// Position is where the element sits.
func (p *SpatialPlayer) Position() Position { return p.position }

// shape runs with base.mu held.
func (p *SpatialPlayer) shape() (float64, float64) {
	if !p.desc.Is3D() && !p.desc.Spatialization {
		return 1, 0
	}
	dx := p.position.East - p.listener.East
	dy := p.position.North - p.listener.North
	dz := p.position.Up - p.listener.Up
	d := math.Sqrt(dx*dx + dy*dy + dz*dz)

	pan := 0.0
	if d > 0 {
		pan = dx / d
	}
	return attenuation(d, p.desc.MinDistance, p.desc.MaxDistance, p.desc.Rolloff), pan
}

// attenuation follows the inverse or linear rolloff between min and max distance. Inside
// min the element is at full level; beyond max the level no longer changes.
func attenuation(d, near, far float64, rolloff string) float64 {
	if near <= 0 {
		near = 1
	}
	if far < near {
		far = near
	}
	if d <= near {
		return 1
	}
	if d > far {
		d = far
	}
	if rolloff == element.RolloffLinear {
		if far == near {
			return 1
		}
		return 1 - (d-near)/(far-near)
	}
	return near / d
}

// SyncClock is the shared bar grid of every sync group.
type SyncClock struct {
	epoch time.Time
}

func NewSyncClock(epoch time.Time) *SyncClock {
	return &SyncClock{epoch: epoch}
}

// NextBar returns the first bar line at or after now.
func (c *SyncClock) NextBar(now time.Time, bar time.Duration) time.Time {
	if c == nil || bar <= 0 {
		return now
	}
	if now.Before(c.epoch) {
		return c.epoch
	}
	elapsed := now.Sub(c.epoch)
	if elapsed%bar == 0 {
		return now
	}
	return c.epoch.Add((elapsed/bar + 1) * bar)
}
