// Package geo holds the stateless geometry used to decide whether a listener is inside an echo
// zone. Coordinates are WGS84 degrees; distances are metres.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadius is the mean earth radius in metres.
const EarthRadius = 6371008.8

var (
	// ErrDegenerateZone is returned for zones that cannot contain anything meaningful:
	// a negative or NaN radius, or a ring with fewer than three vertices.
	ErrDegenerateZone = errors.New("geo: degenerate zone")
	// ErrEmptyRing is returned when a ring has no vertices at all.
	ErrEmptyRing = errors.New("geo: empty ring")
)

// Coordinate is a latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%.6f,%.6f)", c.Lat, c.Lng)
}

// Ring is an ordered polygon boundary. The first vertex closes the ring implicitly and is not
// repeated at the end.
type Ring []Coordinate

// Segment is a straight line between two coordinates, treated in the (lat,lng) plane.
type Segment struct {
	From Coordinate
	To   Coordinate
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }

// Distance returns the great-circle (haversine) distance between a and b in metres.
func Distance(a, b Coordinate) float64 {
	lat1, lat2 := toRadians(a.Lat), toRadians(b.Lat)
	dLat := lat2 - lat1
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadius * math.Asin(math.Sqrt(h))
}

// PointInCircle reports whether p lies within radius metres of centre. The boundary counts as
// inside.
func PointInCircle(p, centre Coordinate, radius float64) (bool, error) {
	if math.IsNaN(radius) || radius < 0 {
		return false, fmt.Errorf("%w: radius %v", ErrDegenerateZone, radius)
	}
	return Distance(p, centre) <= radius, nil
}

// PointInPolygon runs a crossing test over the planar projection of ring, with latitude as x
// and longitude as y. Results for self-intersecting rings are unspecified.
func PointInPolygon(p Coordinate, ring Ring) (bool, error) {
	if len(ring) < 3 {
		return false, fmt.Errorf("%w: ring has %d vertices", ErrDegenerateZone, len(ring))
	}

	inside := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if (a.Lng > p.Lng) != (b.Lng > p.Lng) {
			x := (b.Lat-a.Lat)*(p.Lng-a.Lng)/(b.Lng-a.Lng) + a.Lat
			if p.Lat < x {
				inside = !inside
			}
		}
	}
	return inside, nil
}

// PolygonCentroid averages the vertices as unit vectors on the sphere and projects the mean
// back to latitude/longitude, which keeps rings that straddle the antimeridian sane.
func PolygonCentroid(ring Ring) (Coordinate, error) {
	if len(ring) == 0 {
		return Coordinate{}, ErrEmptyRing
	}

	var x, y, z float64
	for _, c := range ring {
		lat, lng := toRadians(c.Lat), toRadians(c.Lng)
		x += math.Cos(lat) * math.Cos(lng)
		y += math.Cos(lat) * math.Sin(lng)
		z += math.Sin(lat)
	}
	n := float64(len(ring))
	x, y, z = x/n, y/n, z/n

	lng := math.Atan2(y, x)
	lat := math.Atan2(z, math.Sqrt(x*x+y*y))
	return Coordinate{Lat: toDegrees(lat), Lng: toDegrees(lng)}, nil
}

// SegmentIntersections returns every point where seg crosses an edge of ring, in ring order.
// The closing edge (last vertex back to the first) is included. Parallel edges and
// intersections outside either segment are skipped.
func SegmentIntersections(ring Ring, seg Segment) ([]Coordinate, error) {
	if len(ring) < 2 {
		return nil, fmt.Errorf("%w: ring has %d vertices", ErrDegenerateZone, len(ring))
	}

	s := vec{seg.To.Lat - seg.From.Lat, seg.To.Lng - seg.From.Lng}
	var points []Coordinate
	for i := range ring {
		p0 := ring[i]
		p1 := ring[(i+1)%len(ring)]

		r := vec{p1.Lat - p0.Lat, p1.Lng - p0.Lng}
		denom := r.cross(s)
		if denom == 0 {
			continue
		}

		q := vec{seg.From.Lat - p0.Lat, seg.From.Lng - p0.Lng}
		u := q.cross(s) / denom // along the ring edge
		v := q.cross(r) / denom // along seg
		if u < 0 || u > 1 || v < 0 || v > 1 {
			continue
		}
		points = append(points, Coordinate{
			Lat: p0.Lat + u*r.x,
			Lng: p0.Lng + u*r.y,
		})
	}
	return points, nil
}

type vec struct{ x, y float64 }

func (a vec) cross(b vec) float64 { return a.x*b.y - a.y*b.x }
