package echo

import (
	"context"
	"sync"
	"time"

	"echoes/core/analytics"
	"echoes/core/element"
	"echoes/core/geo"
	"echoes/core/player"
	"echoes/logger"
)

// CirclePathSteps is the resolution of the outline drawn for circular zones.
const CirclePathSteps = 100

// Loader creates the player for one element.
type Loader interface {
	Load(ctx context.Context, req player.Request) (player.Player, error)
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithOrigin sets the collection centre used to place elements in metres.
func WithOrigin(c geo.Coordinate) Option {
	return func(r *Runtime) { r.origin = &c }
}

func WithTracker(t analytics.Tracker) Option {
	return func(r *Runtime) {
		if t != nil {
			r.tracker = t
		}
	}
}

func WithObserver(o Observer) Option {
	return func(r *Runtime) { r.observers = append(r.observers, o) }
}

// WithContext sets the runtime's lifetime. Every load runs under it, whoever starts it.
func WithContext(ctx context.Context) Option {
	return func(r *Runtime) { r.ctx = ctx }
}

// Runtime drives one echo. Every method is safe for concurrent use; player commands are
// issued outside the lock.
type Runtime struct {
	def     Definition
	origin  *geo.Coordinate
	loader  Loader
	tracker analytics.Tracker
	ctx     context.Context
	now     func() time.Time

	centroidOnce sync.Once
	centroid     geo.Coordinate
	pathOnce     sync.Once
	path         []geo.Coordinate

	mu         sync.Mutex
	activation Activation
	location   LocationStatus
	loading    LoadingState
	triggered  int
	selected   bool
	players    []player.Player // index-aligned with def.Elements
	generation uint64
	cancelLoad context.CancelFunc // cancels the load in flight, nil when none
	autoplay   bool
	autoGain   float64
	listener   *player.Position
	observers  []Observer
}

func NewRuntime(def Definition, loader Loader, opts ...Option) *Runtime {
	r := &Runtime{
		def:     def,
		loader:  loader,
		tracker: analytics.Discard,
		ctx:     context.Background(),
		now:     time.Now,
		players: make([]player.Player, len(def.Elements)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runtime) ID() string             { return r.def.ID }
func (r *Runtime) Definition() Definition { return r.def }

// AddObserver registers o for every later event.
func (r *Runtime) AddObserver(o Observer) {
	r.mu.Lock()
	r.observers = append(r.observers, o)
	r.mu.Unlock()
}

func (r *Runtime) Activation() Activation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activation
}

func (r *Runtime) LocationStatus() LocationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.location
}

func (r *Runtime) LoadingState() LoadingState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loading
}

func (r *Runtime) TriggeredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.triggered
}

func (r *Runtime) Selected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}

// SetSelected marks the echo as the one the user picked on the map.
func (r *Runtime) SetSelected(selected bool) {
	r.mu.Lock()
	changed := r.selected != selected
	r.selected = selected
	ev := r.eventLocked(EventSelected)
	r.mu.Unlock()
	if changed {
		r.notify(ev)
	}
}

// ZoneHint is the map styling for the current state.
func (r *Runtime) ZoneHint() ZoneHint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return zoneHint(r.activation, r.selected, r.def.HideZone)
}

// Players returns the populated slots in element order.
func (r *Runtime) Players() []player.Player {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.populatedLocked()
}

func (r *Runtime) populatedLocked() []player.Player {
	out := make([]player.Player, 0, len(r.players))
	for _, p := range r.players {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// PlayedCount sums the play counts of every live player.
func (r *Runtime) PlayedCount() int {
	n := 0
	for _, p := range r.Players() {
		n += p.PlayedCount()
	}
	return n
}

// Duration is the length of the first loaded element.
func (r *Runtime) Duration() time.Duration {
	if players := r.Players(); len(players) > 0 {
		return players[0].Duration()
	}
	return 0
}

// IsPlaying reports whether any player is audibly playing.
func (r *Runtime) IsPlaying() bool {
	return anyPlaying(r.Players())
}

func anyPlaying(players []player.Player) bool {
	for _, p := range players {
		if p.IsPlaying() {
			return true
		}
	}
	return false
}

func (r *Runtime) StartSeeking() {
	for _, p := range r.Players() {
		p.StartSeeking()
	}
}

func (r *Runtime) StopSeeking(percentage float64) {
	for _, p := range r.Players() {
		p.StopSeeking(percentage)
	}
}

// StopPlayers stops every player that agrees to stop, regardless of resume flags.
func (r *Runtime) StopPlayers(fade time.Duration, force bool) {
	for _, p := range r.Players() {
		if p.ShouldStop(force) {
			p.Stop(fade, force)
		}
	}
}

// Centroid is the spherical mean of a polygon's vertices, or the centre of a circle.
func (r *Runtime) Centroid() geo.Coordinate {
	r.centroidOnce.Do(func() {
		r.centroid = r.def.Zone.Centre
		if r.def.Zone.Shape != ShapePolygon {
			return
		}
		c, err := geo.PolygonCentroid(r.def.Zone.Ring)
		if err != nil {
			logger.Warn("Falling back to zone centre",
				logger.String("echoId", r.def.ID),
				logger.ErrorField(err))
			return
		}
		r.centroid = c
	})
	return r.centroid
}

// Path is the zone outline: the ring of a polygon or a sampled circle.
func (r *Runtime) Path() []geo.Coordinate {
	r.pathOnce.Do(func() {
		if r.def.Zone.Shape == ShapePolygon {
			r.path = append([]geo.Coordinate(nil), r.def.Zone.Ring...)
			return
		}
		r.path = geo.CirclePath(r.def.Zone.Centre, r.def.Zone.Radius, CirclePathSteps)
	})
	return append([]geo.Coordinate(nil), r.path...)
}

// Is3D reports whether any element is positioned in space.
func (r *Runtime) Is3D() bool {
	for _, e := range r.def.Elements {
		if e.Is3D() {
			return true
		}
	}
	return false
}

func (r *Runtime) Spatialization() bool {
	for _, e := range r.def.Elements {
		if e.Spatialization {
			return true
		}
	}
	return false
}

// Contains tests p against the zone.
func (r *Runtime) Contains(p geo.Coordinate) (bool, error) {
	return r.def.Zone.Contains(p)
}

func (r *Runtime) originPoint() geo.Coordinate {
	if r.origin != nil {
		return *r.origin
	}
	return r.Centroid()
}

// elementPosition places element i in metres from the origin.
func (r *Runtime) elementPosition(d element.Descriptor) player.Position {
	at := r.Centroid()
	if d.Coords != nil {
		at = *d.Coords
	}
	east, north := geo.ToMetres(at, r.originPoint())
	return player.Position{East: east, North: north}
}

func (r *Runtime) listenerAt(c geo.Coordinate) player.Position {
	east, north := geo.ToMetres(c, r.originPoint())
	return player.Position{East: east, North: north}
}

// Snapshot is a point-in-time copy of the runtime state.
type Snapshot struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Shape          Shape          `json:"shape"`
	Activation     Activation     `json:"activation"`
	Location       LocationStatus `json:"location_status"`
	Loading        LoadingState   `json:"loading_state"`
	TriggeredCount int            `json:"triggered_count"`
	PlayedCount    int            `json:"played_count"`
	Populated      int            `json:"populated"`
	Selected       bool           `json:"selected"`
	Hint           ZoneHint       `json:"hint"`
}

func (r *Runtime) Snapshot() Snapshot {
	r.mu.Lock()
	s := Snapshot{
		ID:             r.def.ID,
		Title:          r.def.Title,
		Shape:          r.def.Zone.Shape,
		Activation:     r.activation,
		Location:       r.location,
		Loading:        r.loading,
		TriggeredCount: r.triggered,
		Selected:       r.selected,
		Hint:           zoneHint(r.activation, r.selected, r.def.HideZone),
	}
	players := r.populatedLocked()
	r.mu.Unlock()

	s.Populated = len(players)
	for _, p := range players {
		s.PlayedCount += p.PlayedCount()
	}
	return s
}

// Restore seeds the counters and selection carried over from a previous session. Live
// state (activation, loading) always starts fresh.
func (r *Runtime) Restore(triggeredCount int, selected bool) {
	r.mu.Lock()
	if triggeredCount > r.triggered {
		r.triggered = triggeredCount
	}
	r.selected = selected
	r.mu.Unlock()
}

func (r *Runtime) eventLocked(kind EventKind) Event {
	return Event{
		Kind:   kind,
		EchoID: r.def.ID,
		Title:  r.def.Title,
		Active: r.activation == Active,
		Hint:   zoneHint(r.activation, r.selected, r.def.HideZone),
		Time:   r.now(),
	}
}

func (r *Runtime) notify(e Event) {
	r.mu.Lock()
	observers := append([]Observer(nil), r.observers...)
	r.mu.Unlock()
	for _, o := range observers {
		o.HandleEchoEvent(e)
	}
}

func (r *Runtime) track(name string, source Source) {
	e := analytics.Event{
		Name:        name,
		ItemID:      r.def.ID,
		ItemName:    r.def.Title,
		ContentType: analytics.ContentTypeEcho,
		TriggerType: string(source),
	}
	if err := r.tracker.Track(e); err != nil {
		logger.Debug("Dropped analytics event",
			logger.String("event", name),
			logger.String("echoId", r.def.ID),
			logger.ErrorField(err))
	}
}
