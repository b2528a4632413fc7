// Package echo is the runtime behind every geofenced echo: zone tests, the loading and
// trigger state machines, and the coordinator that feeds location updates to a collection.
package echo

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"echoes/core/element"
	"echoes/core/geo"
)

// Shape of a zone.
type Shape string

const (
	ShapeCircle  Shape = "circle"
	ShapePolygon Shape = "polygon"
)

var ErrInvalidDefinition = errors.New("echo: invalid definition")

// Zone is the area that triggers an echo.
type Zone struct {
	Shape  Shape
	Centre geo.Coordinate
	Radius float64  // metres, circles only
	Ring   geo.Ring // polygons only, not closed
}

// Contains reports whether p lies in the zone.
func (z Zone) Contains(p geo.Coordinate) (bool, error) {
	if z.Shape == ShapePolygon {
		return geo.PointInPolygon(p, z.Ring)
	}
	return geo.PointInCircle(p, z.Centre, z.Radius)
}

// Definition is the immutable description of one echo.
type Definition struct {
	ID       string
	Title    string
	Zone     Zone
	Elements []element.Descriptor
	HideZone bool
}

// NewDefinition validates the zone and copies the slices it is given.
func NewDefinition(id, title string, zone Zone, elements []element.Descriptor, hideZone bool) (Definition, error) {
	if id == "" {
		return Definition{}, fmt.Errorf("%w: missing id", ErrInvalidDefinition)
	}
	if !validCoordinate(zone.Centre) {
		return Definition{}, fmt.Errorf("%w: echo %s: centre %s out of range", ErrInvalidDefinition, id, zone.Centre)
	}
	switch zone.Shape {
	case ShapeCircle:
		if !(zone.Radius > 0) || math.IsInf(zone.Radius, 0) {
			return Definition{}, fmt.Errorf("%w: echo %s: radius %v", ErrInvalidDefinition, id, zone.Radius)
		}
		zone.Ring = nil
	case ShapePolygon:
		ring := zone.Ring
		if n := len(ring); n > 1 && ring[0] == ring[n-1] {
			ring = ring[:n-1]
		}
		if len(ring) < 3 {
			return Definition{}, fmt.Errorf("%w: echo %s: polygon needs 3 vertices, got %d", ErrInvalidDefinition, id, len(ring))
		}
		for _, c := range ring {
			if !validCoordinate(c) {
				return Definition{}, fmt.Errorf("%w: echo %s: vertex %s out of range", ErrInvalidDefinition, id, c)
			}
		}
		zone.Ring = slices.Clone(ring)
	default:
		return Definition{}, fmt.Errorf("%w: echo %s: unknown shape %q", ErrInvalidDefinition, id, zone.Shape)
	}

	return Definition{
		ID:       id,
		Title:    title,
		Zone:     zone,
		Elements: slices.Clone(elements),
		HideZone: hideZone,
	}, nil
}

func validCoordinate(c geo.Coordinate) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// SizeBytes is the summed media size of the echo's elements.
func (d Definition) SizeBytes() int64 {
	var n int64
	for _, e := range d.Elements {
		n += e.SizeBytes
	}
	return n
}

// Collection is an ordered set of echo definitions sharing an origin.
type Collection struct {
	ID     string
	Title  string
	Centre *geo.Coordinate

	mu        sync.RWMutex
	echoes    []Definition
	size      int64
	sizeValid bool
}

func NewCollection(id, title string, centre *geo.Coordinate, defs ...Definition) *Collection {
	return &Collection{ID: id, Title: title, Centre: centre, echoes: slices.Clone(defs)}
}

// Echoes returns a copy of the definitions in order.
func (c *Collection) Echoes() []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.echoes)
}

func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.echoes)
}

// Echo finds a definition by id.
func (c *Collection) Echo(id string) (Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.echoes {
		if d.ID == id {
			return d, true
		}
	}
	return Definition{}, false
}

func (c *Collection) Add(defs ...Definition) {
	c.mu.Lock()
	c.echoes = append(c.echoes, defs...)
	c.sizeValid = false
	c.mu.Unlock()
}

func (c *Collection) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := slices.IndexFunc(c.echoes, func(d Definition) bool { return d.ID == id })
	if i < 0 {
		return false
	}
	c.echoes = slices.Delete(c.echoes, i, i+1)
	c.sizeValid = false
	return true
}

func (c *Collection) Replace(defs []Definition) {
	c.mu.Lock()
	c.echoes = slices.Clone(defs)
	c.sizeValid = false
	c.mu.Unlock()
}

// TotalSizeBytes is the media size of every echo. The sum is cached until the echo list
// next changes.
func (c *Collection) TotalSizeBytes() int64 {
	c.mu.RLock()
	if c.sizeValid {
		n := c.size
		c.mu.RUnlock()
		return n
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sizeValid {
		var n int64
		for _, d := range c.echoes {
			n += d.SizeBytes()
		}
		c.size, c.sizeValid = n, true
	}
	return c.size
}

// Bounds covers every zone centre and polygon vertex.
func (c *Collection) Bounds() (geo.Bounds, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sets := make([][]geo.Coordinate, 0, len(c.echoes))
	for _, d := range c.echoes {
		sets = append(sets, []geo.Coordinate{d.Zone.Centre}, d.Zone.Ring)
	}
	return geo.BoundsOf(sets...)
}

// Origin is the reference point for relative element placement: the collection centre when
// set, otherwise the middle of the bounds.
func (c *Collection) Origin() (geo.Coordinate, bool) {
	if c.Centre != nil {
		return *c.Centre, true
	}
	b, ok := c.Bounds()
	if !ok {
		return geo.Coordinate{}, false
	}
	return geo.Coordinate{Lat: (b.SW.Lat + b.NE.Lat) / 2, Lng: (b.SW.Lng + b.NE.Lng) / 2}, true
}
