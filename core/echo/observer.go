package echo

import (
	"time"

	"echoes/core/geo"
)

// EventKind names a runtime transition.
type EventKind string

const (
	EventTriggered   EventKind = "triggered"
	EventDetriggered EventKind = "detriggered"
	EventGain        EventKind = "gain"
	EventLoaded      EventKind = "loaded"
	EventLoadFailed  EventKind = "load_failed"
	EventUnloaded    EventKind = "unloaded"
	EventSelected    EventKind = "selected"
	EventCrossed     EventKind = "crossed"
)

// Event describes one transition of one echo.
type Event struct {
	Kind      EventKind       `json:"kind"`
	EchoID    string          `json:"echo_id"`
	Title     string          `json:"title"`
	Active    bool            `json:"active"`
	Gain      float64         `json:"gain"`
	Source    Source          `json:"source,omitempty"`
	Point     *geo.Coordinate `json:"point,omitempty"`
	Populated int             `json:"populated,omitempty"`
	Hint      ZoneHint        `json:"hint"`
	Time      time.Time       `json:"time"`
}

// Observer receives runtime events. It is called outside the runtime lock, from whichever
// goroutine caused the transition, and must not block.
type Observer interface {
	HandleEchoEvent(e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) HandleEchoEvent(e Event) { f(e) }

// Zone colours for map rendering.
const (
	ColourActive   = "blue"
	ColourInactive = "light_blue"
	ColourSelected = "yellow"
)

// ZoneHint is how a map should draw the zone.
type ZoneHint struct {
	Fill   string `json:"fill"`
	Stroke string `json:"stroke"`
	Hidden bool   `json:"hidden"`
}

func zoneHint(a Activation, selected, hidden bool) ZoneHint {
	h := ZoneHint{Fill: ColourInactive, Stroke: ColourActive, Hidden: hidden}
	if a == Active {
		h.Fill = ColourActive
	}
	if selected {
		h.Fill, h.Stroke = ColourSelected, ColourSelected
	}
	return h
}
