package geo

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var square = Ring{{0, 0}, {0, 10}, {10, 10}, {10, 0}}

func TestPointInCircle(t *testing.T) {
	centre := Coordinate{Lat: 51.5007, Lng: -0.1246}

	t.Run("centre and near points are inside", func(t *testing.T) {
		for _, d := range []float64{0, 1, 25, 49.5} {
			p := Destination(centre, math.Pi/3, d)
			inside, err := PointInCircle(p, centre, 50)
			require.NoError(t, err)
			assert.True(t, inside, "distance %v", d)
		}
	})

	t.Run("points beyond the radius are outside", func(t *testing.T) {
		for _, d := range []float64{50.5, 60, 1000} {
			p := Destination(centre, 2.1, d)
			inside, err := PointInCircle(p, centre, 50)
			require.NoError(t, err)
			assert.False(t, inside, "distance %v", d)
		}
	})

	t.Run("boundary counts as inside", func(t *testing.T) {
		p := Destination(centre, 0.7, 50)
		inside, err := PointInCircle(p, centre, Distance(p, centre))
		require.NoError(t, err)
		assert.True(t, inside)
	})

	t.Run("negative radius is rejected", func(t *testing.T) {
		_, err := PointInCircle(centre, centre, -1)
		assert.ErrorIs(t, err, ErrDegenerateZone)
		_, err = PointInCircle(centre, centre, math.NaN())
		assert.ErrorIs(t, err, ErrDegenerateZone)
	})
}

func TestPointInPolygonSquare(t *testing.T) {
	inside, err := PointInPolygon(Coordinate{5, 5}, square)
	require.NoError(t, err)
	assert.True(t, inside)

	inside, err = PointInPolygon(Coordinate{20, 20}, square)
	require.NoError(t, err)
	assert.False(t, inside)

	_, err = PointInPolygon(Coordinate{1, 1}, square[:2])
	assert.ErrorIs(t, err, ErrDegenerateZone)
}

// windingNumber is an independent reference: non-zero winding number means inside.
func windingNumber(p Coordinate, ring Ring) int {
	isLeft := func(a, b, c Coordinate) float64 {
		return (b.Lat-a.Lat)*(c.Lng-a.Lng) - (c.Lat-a.Lat)*(b.Lng-a.Lng)
	}
	wn := 0
	for i := range ring {
		a, b := ring[i], ring[(i+1)%len(ring)]
		if a.Lng <= p.Lng {
			if b.Lng > p.Lng && isLeft(a, b, p) > 0 {
				wn++
			}
		} else if b.Lng <= p.Lng && isLeft(a, b, p) < 0 {
			wn--
		}
	}
	return wn
}

func TestPointInPolygonAgreesWithReference(t *testing.T) {
	rings := map[string]Ring{
		"square": square,
		"concave": {
			{0, 0}, {0, 6}, {3, 3}, {6, 6}, {6, 0},
		},
		"star-ish": {
			{0, 5}, {2, 2}, {5, 0}, {2, -2}, {0, -5}, {-2, -2}, {-5, 0}, {-2, 2},
		},
		"real-world": {
			{45.4381, 12.3265}, {45.4392, 12.3290}, {45.4375, 12.3310}, {45.4360, 12.3282},
		},
	}

	rnd := rand.New(rand.NewSource(7))
	for name, ring := range rings {
		b, ok := BoundsOf(ring)
		require.True(t, ok)
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 2000; i++ {
				p := Coordinate{
					Lat: b.SW.Lat - 1 + rnd.Float64()*(b.NE.Lat-b.SW.Lat+2),
					Lng: b.SW.Lng - 1 + rnd.Float64()*(b.NE.Lng-b.SW.Lng+2),
				}
				got, err := PointInPolygon(p, ring)
				require.NoError(t, err)
				assert.Equal(t, windingNumber(p, ring) != 0, got, "point %v", p)
			}
		})
	}
}

func TestPolygonCentroid(t *testing.T) {
	c, err := PolygonCentroid(Ring{{10, 20}, {10, 22}, {12, 22}, {12, 20}})
	require.NoError(t, err)
	assert.InDelta(t, 11.0, c.Lat, 0.01)
	assert.InDelta(t, 21.0, c.Lng, 0.01)

	// across the antimeridian a planar mean would land near longitude 0
	c, err = PolygonCentroid(Ring{{-1, 179}, {1, 179}, {1, -179}, {-1, -179}})
	require.NoError(t, err)
	assert.InDelta(t, 180.0, math.Abs(c.Lng), 0.01)
	assert.InDelta(t, 0.0, c.Lat, 0.01)

	_, err = PolygonCentroid(nil)
	assert.ErrorIs(t, err, ErrEmptyRing)
}

func TestSegmentIntersections(t *testing.T) {
	t.Run("crossing the square", func(t *testing.T) {
		pts, err := SegmentIntersections(square, Segment{From: Coordinate{5, -5}, To: Coordinate{5, 15}})
		require.NoError(t, err)
		require.Len(t, pts, 2)
		// ring order: edge (0,0)-(0,10) is parallel, (0,10)-(10,10) hit at (5,10), then (10,0)-(0,0) at (5,0)
		assert.InDelta(t, 5.0, pts[0].Lat, 1e-9)
		assert.InDelta(t, 10.0, pts[0].Lng, 1e-9)
		assert.InDelta(t, 5.0, pts[1].Lat, 1e-9)
		assert.InDelta(t, 0.0, pts[1].Lng, 1e-9)
	})

	t.Run("parallel edges are skipped, not fatal", func(t *testing.T) {
		pts, err := SegmentIntersections(square, Segment{From: Coordinate{-5, 5}, To: Coordinate{15, 5}})
		require.NoError(t, err)
		assert.Len(t, pts, 2)
	})

	t.Run("segment fully inside", func(t *testing.T) {
		pts, err := SegmentIntersections(square, Segment{From: Coordinate{2, 2}, To: Coordinate{3, 3}})
		require.NoError(t, err)
		assert.Empty(t, pts)
	})

	t.Run("degenerate ring", func(t *testing.T) {
		_, err := SegmentIntersections(Ring{{0, 0}}, Segment{})
		assert.ErrorIs(t, err, ErrDegenerateZone)
	})
}

func TestCirclePathAndMetres(t *testing.T) {
	centre := Coordinate{Lat: 48.8584, Lng: 2.2945}
	path := CirclePath(centre, 30, 100)
	require.Len(t, path, 101)
	for _, p := range path {
		assert.InDelta(t, 30.0, Distance(p, centre), 0.01)
	}

	north := Destination(centre, 0, 100)
	east, n := ToMetres(north, centre)
	assert.InDelta(t, 0.0, east, 0.5)
	assert.InDelta(t, 100.0, n, 0.5)

	b, ok := BoundsOf(path)
	require.True(t, ok)
	assert.True(t, b.Contains(centre))
	_, ok = BoundsOf()
	assert.False(t, ok)
}
