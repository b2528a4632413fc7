package echo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"echoes/core/geo"
	"echoes/logger"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrUnknownEcho = errors.New("echo: unknown echo")

// Update is one location or beacon fix.
type Update struct {
	Coordinate geo.Coordinate `json:"coordinate"`
	Source     Source         `json:"source"`
	Time       time.Time      `json:"time,omitempty"`
}

// Crossing is a point where the travelled path crossed a zone boundary.
type Crossing struct {
	EchoID string         `json:"echo_id"`
	Point  geo.Coordinate `json:"point"`
}

// Result summarises what one update changed.
type Result struct {
	Candidates  []string   `json:"candidates"`
	Triggered   []string   `json:"triggered"`
	Detriggered []string   `json:"detriggered"`
	Crossings   []Crossing `json:"crossings"`
}

// Group feeds updates to every echo of a collection, one update at a time.
type Group struct {
	collection *Collection
	loader     Loader
	ctx        context.Context
	opts       []Option
	now        func() time.Time

	mu        sync.Mutex
	runtimes  []*Runtime
	byID      map[string]*Runtime
	last      *geo.Coordinate
	lastAt    time.Time
	observers []Observer
}

// NewGroup builds a runtime per echo of c. ctx bounds loads started by triggers; opts are
// applied to every runtime after the collection origin.
func NewGroup(ctx context.Context, c *Collection, loader Loader, opts ...Option) *Group {
	g := &Group{
		collection: c,
		loader:     loader,
		ctx:        ctx,
		opts:       opts,
		now:        time.Now,
	}
	g.rebuildLocked()
	return g
}

func (g *Group) rebuildLocked() {
	var base []Option
	if origin, ok := g.collection.Origin(); ok {
		base = append(base, WithOrigin(origin))
	}
	base = append(base, WithContext(g.ctx))

	defs := g.collection.Echoes()
	g.runtimes = make([]*Runtime, 0, len(defs))
	g.byID = make(map[string]*Runtime, len(defs))
	for _, d := range defs {
		opts := append(append([]Option(nil), base...), g.opts...)
		for _, o := range g.observers {
			opts = append(opts, WithObserver(o))
		}
		r := NewRuntime(d, g.loader, opts...)
		r.now = g.now
		g.runtimes = append(g.runtimes, r)
		g.byID[d.ID] = r
	}
}

// Collection is the collection the group was built from.
func (g *Group) Collection() *Collection { return g.collection }

// Runtimes returns the runtimes in collection order.
func (g *Group) Runtimes() []*Runtime {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Runtime(nil), g.runtimes...)
}

func (g *Group) Runtime(id string) (*Runtime, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.byID[id]
	return r, ok
}

// AddObserver registers o with every current and future runtime.
func (g *Group) AddObserver(o Observer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observers = append(g.observers, o)
	for _, r := range g.runtimes {
		r.AddObserver(o)
	}
}

// Push evaluates u against every echo. Echoes whose zone contains the point, or that are
// active, are candidates: the containing ones are triggered and the others detriggered.
// Location updates also report where the path since the previous fix crossed a zone
// boundary.
func (g *Group) Push(ctx context.Context, u Update) (Result, error) {
	if _, err := ParseSource(string(u.Source)); err != nil {
		return Result{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	_, span := tracer.Start(ctx, "echo.group.push", trace.WithAttributes(
		attribute.String("collection.id", g.collection.ID),
		attribute.String("update.source", string(u.Source)),
	))
	defer span.End()

	at := u.Time
	if at.IsZero() {
		at = g.now()
	}
	var interval time.Duration
	if !g.lastAt.IsZero() && at.After(g.lastAt) {
		interval = at.Sub(g.lastAt)
	}

	res := Result{}
	for _, r := range g.runtimes {
		if u.Source == SourceLocation && g.last != nil {
			res.Crossings = append(res.Crossings, g.crossings(r, geo.Segment{From: *g.last, To: u.Coordinate})...)
		}

		inside, err := r.Contains(u.Coordinate)
		if err != nil {
			logger.Warn("Skipping echo with invalid zone",
				logger.String("echoId", r.ID()),
				logger.ErrorField(err))
			continue
		}
		active := r.Activation() == Active
		if !inside && !active {
			if u.Source == SourceLocation {
				r.setLocationStatus(Outside)
			}
			continue
		}

		res.Candidates = append(res.Candidates, r.ID())
		if !inside {
			if u.Source == SourceLocation {
				r.setLocationStatus(Outside)
			}
			r.Detrigger()
			res.Detriggered = append(res.Detriggered, r.ID())
			continue
		}
		if err := r.Trigger(u.Coordinate, u.Source, interval); err != nil {
			return res, fmt.Errorf("push update: %w", err)
		}
		if !active {
			res.Triggered = append(res.Triggered, r.ID())
		}
	}

	if u.Source == SourceLocation {
		c := u.Coordinate
		g.last = &c
	}
	g.lastAt = at
	span.SetAttributes(
		attribute.Int("update.candidates", len(res.Candidates)),
		attribute.Int("update.crossings", len(res.Crossings)),
	)
	return res, nil
}

func (g *Group) crossings(r *Runtime, seg geo.Segment) []Crossing {
	if seg.From == seg.To {
		return nil
	}
	points, err := geo.SegmentIntersections(r.Path(), seg)
	if err != nil {
		return nil
	}
	out := make([]Crossing, 0, len(points))
	for _, p := range points {
		out = append(out, Crossing{EchoID: r.ID(), Point: p})
		r.mu.Lock()
		ev := r.eventLocked(EventCrossed)
		r.mu.Unlock()
		pt := p
		ev.Point = &pt
		r.notify(ev)
	}
	return out
}

// LoadAll loads every echo without playing and waits until each load has joined, been
// abandoned by an unload, or ctx ends. Loads keep running after ctx ends.
func (g *Group) LoadAll(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, r := range g.Runtimes() {
		wg.Add(1)
		if !r.Load(ctx, LoadOptions{Done: wg.Done, Abandoned: wg.Done}) {
			wg.Done()
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UnloadAll tears down every runtime and forgets the travelled path.
func (g *Group) UnloadAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range g.runtimes {
		r.Unload()
	}
	g.last = nil
	g.lastAt = time.Time{}
}

// Reload replaces the collection's definitions and rebuilds every runtime. Counters and
// selection of echoes that survive are kept.
func (g *Group) Reload(defs []Definition) {
	g.mu.Lock()
	defer g.mu.Unlock()

	kept := make(map[string]Snapshot, len(g.runtimes))
	for _, r := range g.runtimes {
		kept[r.ID()] = r.Snapshot()
		r.Unload()
	}
	g.collection.Replace(defs)
	g.rebuildLocked()
	for _, r := range g.runtimes {
		if s, ok := kept[r.ID()]; ok {
			r.Restore(s.TriggeredCount, s.Selected)
		}
	}
	g.last = nil
}

// Select marks id as the selected echo and clears the others. An empty id clears all.
func (g *Group) Select(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.byID[id]; id != "" && !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEcho, id)
	}
	for _, r := range g.runtimes {
		r.SetSelected(r.ID() == id)
	}
	return nil
}

// Snapshot returns the state of every runtime in collection order.
func (g *Group) Snapshot() []Snapshot {
	runtimes := g.Runtimes()
	out := make([]Snapshot, 0, len(runtimes))
	for _, r := range runtimes {
		out = append(out, r.Snapshot())
	}
	return out
}

// Restore applies counters and selection from previously saved snapshots.
func (g *Group) Restore(snaps []Snapshot) {
	for _, s := range snaps {
		if r, ok := g.Runtime(s.ID); ok {
			r.Restore(s.TriggeredCount, s.Selected)
		}
	}
}
