// Package element describes the static, per-element playback configuration of an echo and the
// rule that picks a player backend for it.
package element

import (
	"path"
	"strings"
	"time"

	"echoes/core/geo"
)

// Element types as stored by the backend.
const (
	TypeSound     = "sound"
	TypeAmbisonic = "ambisonic"
	TypeText      = "text"
	TypeImage     = "image"
)

// Rolloff curves for spatial playback.
const (
	RolloffInverse = "inverse"
	RolloffLinear  = "linear"
)

// NoSyncGroup marks an element that is not tempo-aligned with anything.
const NoSyncGroup = -1

// Descriptor is the immutable configuration of one playable element.
type Descriptor struct {
	ID        string
	Type      string
	Title     string
	MediaHref string // remote reference: URL or object key
	LocalPath string // downloaded copy, preferred when set

	Spatialization bool
	ThreeD         bool
	Resume         bool // pause on exit instead of stop
	PlayLoop       bool
	PlayOnce       bool
	PlayComplete   bool // once started, only a forced stop interrupts it

	MinDistance       float64 // metres, spatial only
	MaxDistance       float64
	Rolloff           string
	RelativeElevation float64

	FadeIn  time.Duration
	FadeOut time.Duration

	Coords *geo.Coordinate // own position; nil means the echo centre

	SyncGroup int
	Tempo     float64 // beats per minute
	SyncBeats int     // beats per bar

	SizeBytes int64
}

// SoundPath is the reference a player should open: the local copy when there is one,
// otherwise the remote href.
func (d Descriptor) SoundPath() string {
	if d.LocalPath != "" {
		return d.LocalPath
	}
	return d.MediaHref
}

// IsSounding reports whether the element has a media reference at all.
func (d Descriptor) IsSounding() bool {
	return strings.TrimSpace(d.SoundPath()) != ""
}

// Is3D reports whether the element is positioned in space.
func (d Descriptor) Is3D() bool {
	return d.Type == TypeAmbisonic || d.ThreeD
}

// InSyncGroup reports whether the element is tempo-aligned with others.
func (d Descriptor) InSyncGroup() bool {
	return d.SyncGroup > NoSyncGroup
}

// Codec is the lower-cased file extension of the sound path, without the dot.
func (d Descriptor) Codec() string {
	return CodecOf(d.SoundPath())
}

// CodecOf extracts the codec from a path or URL, ignoring any query or fragment.
func CodecOf(ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(ref)), ".")
}

// NeedsAdvancedBackend reports whether only the spatial backend can play the element.
func (d Descriptor) NeedsAdvancedBackend() bool {
	return d.Spatialization || d.Is3D() || d.InSyncGroup() || d.Codec() == "ogg"
}

// BeatDuration is the length of one beat at the element's tempo, zero without a tempo.
func (d Descriptor) BeatDuration() time.Duration {
	if d.Tempo <= 0 {
		return 0
	}
	return time.Duration(float64(time.Minute) / d.Tempo)
}

// BarDuration is SyncBeats beats, defaulting to four.
func (d Descriptor) BarDuration() time.Duration {
	beats := d.SyncBeats
	if beats <= 0 {
		beats = 4
	}
	return d.BeatDuration() * time.Duration(beats)
}
