package geo

import "math"

// Destination returns the point reached by travelling distance metres from c on the given
// bearing (radians clockwise from north).
func Destination(c Coordinate, bearing, distance float64) Coordinate {
	lat1 := toRadians(c.Lat)
	lng1 := toRadians(c.Lng)
	d := distance / EarthRadius

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(bearing))
	lng2 := lng1 + math.Atan2(
		math.Sin(bearing)*math.Sin(d)*math.Cos(lat1),
		math.Cos(d)-math.Sin(lat1)*math.Sin(lat2),
	)
	return Coordinate{Lat: toDegrees(lat2), Lng: toDegrees(lng2)}
}

// CirclePath approximates a circle with steps+1 points; the last point repeats the first.
func CirclePath(centre Coordinate, radius float64, steps int) []Coordinate {
	if steps <= 0 {
		steps = 100
	}
	path := make([]Coordinate, 0, steps+1)
	step := 2 * math.Pi / float64(steps)
	for i := 0; i <= steps; i++ {
		path = append(path, Destination(centre, float64(i)*step, radius))
	}
	return path
}

// ToMetres projects p onto a local east/north plane centred on origin. Good enough for the
// few hundred metres a collection spans.
func ToMetres(p, origin Coordinate) (east, north float64) {
	north = toRadians(p.Lat-origin.Lat) * EarthRadius
	east = toRadians(p.Lng-origin.Lng) * EarthRadius * math.Cos(toRadians(origin.Lat))
	return east, north
}

// Bounds is a south-west / north-east box.
type Bounds struct {
	SW Coordinate `json:"sw"`
	NE Coordinate `json:"ne"`
}

// BoundsOf returns the box enclosing every coordinate, and false when there are none.
func BoundsOf(coords ...[]Coordinate) (Bounds, bool) {
	var b Bounds
	found := false
	for _, set := range coords {
		for _, c := range set {
			if !found {
				b = Bounds{SW: c, NE: c}
				found = true
				continue
			}
			b.SW.Lat = math.Min(b.SW.Lat, c.Lat)
			b.SW.Lng = math.Min(b.SW.Lng, c.Lng)
			b.NE.Lat = math.Max(b.NE.Lat, c.Lat)
			b.NE.Lng = math.Max(b.NE.Lng, c.Lng)
		}
	}
	return b, found
}

// Contains reports whether c falls inside the box, edges included.
func (b Bounds) Contains(c Coordinate) bool {
	return c.Lat >= b.SW.Lat && c.Lat <= b.NE.Lat && c.Lng >= b.SW.Lng && c.Lng <= b.NE.Lng
}
