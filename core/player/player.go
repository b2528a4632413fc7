// Package player implements the playback backends an echo drives. The runtime only sees the
// Player interface; the Factory picks a concrete variant per element when it loads.
package player

import (
	"errors"
	"time"
)

var (
	ErrUnsupportedCodec = errors.New("player: unsupported codec")
	ErrNoLocalCopy      = errors.New("player: element has no local copy")
	ErrNoMedia          = errors.New("player: element has no media reference")
	ErrUnloaded         = errors.New("player: unloaded")
)

// Player is the capability set the echo runtime depends on. Commands are fire-and-forget:
// fades and ramps run inside the player.
type Player interface {
	Play(gain float64)
	Pause(fade time.Duration, force bool)
	Stop(fade time.Duration, force bool)
	SetGain(gain float64, ramp time.Duration)
	IsPlaying() bool
	ShouldPlay() bool
	ShouldStop(force bool) bool
	StartSeeking()
	StopSeeking(percentage float64)
	Unload()
	Duration() time.Duration
	PlayedCount() int
}

// Positional is implemented by players that render the listener's position.
type Positional interface {
	SetListener(p Position)
}

// Position is a point in metres on the collection's local east/north plane.
type Position struct {
	East  float64 `json:"east"`
	North float64 `json:"north"`
	Up    float64 `json:"up"`
}

// State is the transport state of a player.
type State int

const (
	StateStopped State = iota
	StatePlaying
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	}
	return "unknown"
}

// ClampGain forces g into [0,1]; NaN becomes 0.
func ClampGain(g float64) float64 {
	if g != g || g <= 0 {
		return 0
	}
	if g >= 1 {
		return 1
	}
	return g
}
