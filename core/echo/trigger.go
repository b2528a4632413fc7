package echo

import (
	"fmt"
	"time"

	"echoes/core/analytics"
	"echoes/core/geo"
	"echoes/core/player"
)

// Trigger activates the echo for an update at coordinate at. On the first trigger it counts
// the activation, starts playback if nothing is already playing (loading first when
// needed) and emits analytics. While already active it only re-applies gain, ramped over
// interval.
//
// Location updates on a circle fade by distance from the centre; on a polygon they play at
// full gain inside and silently outside. Beacon updates always play at full gain.
func (r *Runtime) Trigger(at geo.Coordinate, source Source, interval time.Duration) error {
	if _, err := ParseSource(string(source)); err != nil {
		return err
	}

	inside := false
	if source == SourceLocation {
		in, err := r.def.Zone.Contains(at)
		if err != nil {
			return fmt.Errorf("trigger echo %s: %w", r.def.ID, err)
		}
		inside = in
	}
	gain := r.gainFor(at, source, inside)

	r.mu.Lock()
	if source == SourceLocation {
		r.location = statusOf(inside)
		l := r.listenerAt(at)
		r.listener = &l
	}
	listener := r.listener

	if r.activation == Active {
		if r.loading == Loading {
			r.autoGain = gain
		}
		players := r.populatedLocked()
		ev := r.eventLocked(EventGain)
		r.mu.Unlock()

		setListener(players, listener)
		for _, p := range players {
			p.SetGain(gain, interval)
		}
		ev.Gain, ev.Source = gain, source
		r.notify(ev)
		return nil
	}

	r.activation = Active
	r.triggered++
	state := r.loading
	players := r.populatedLocked()
	if state == Loading {
		r.autoplay, r.autoGain = true, gain
	}
	ev := r.eventLocked(EventTriggered)
	r.mu.Unlock()

	switch state {
	case Unloaded:
		r.Load(r.ctx, LoadOptions{AutoPlay: true, Gain: gain})
	case Loaded:
		setListener(players, listener)
		if !anyPlaying(players) {
			playAll(players, gain)
		}
	}

	r.track(analytics.EventTriggerEcho, source)
	ev.Gain, ev.Source, ev.Point = gain, source, &at
	r.notify(ev)
	return nil
}

func (r *Runtime) gainFor(at geo.Coordinate, source Source, inside bool) float64 {
	switch {
	case source == SourceBeacon:
		return 1
	case r.def.Zone.Shape == ShapeCircle:
		return GainFromDistance(geo.Distance(at, r.def.Zone.Centre), r.def.Zone.Radius)
	case inside:
		return 1
	}
	return 0
}

// Detrigger deactivates an active echo. Elements that resume are paused, the rest stopped,
// each with its own fade-out. Players that refuse to stop (play-complete elements) keep
// playing.
func (r *Runtime) Detrigger() {
	r.mu.Lock()
	if r.activation != Active {
		r.mu.Unlock()
		return
	}
	r.activation = Inactive
	r.autoplay = false
	slots := append([]player.Player(nil), r.players...)
	ev := r.eventLocked(EventDetriggered)
	r.mu.Unlock()

	for i, p := range slots {
		if p == nil || !p.ShouldStop(false) {
			continue
		}
		d := r.def.Elements[i]
		if d.Resume {
			p.Pause(d.FadeOut, false)
		} else {
			p.Stop(d.FadeOut, false)
		}
	}

	r.track(analytics.EventDetriggerEcho, "")
	r.notify(ev)
}

func (r *Runtime) setLocationStatus(s LocationStatus) {
	r.mu.Lock()
	r.location = s
	r.mu.Unlock()
}

func statusOf(inside bool) LocationStatus {
	if inside {
		return Inside
	}
	return Outside
}

func setListener(players []player.Player, at *player.Position) {
	if at == nil {
		return
	}
	for _, p := range players {
		if pos, ok := p.(player.Positional); ok {
			pos.SetListener(*at)
		}
	}
}
