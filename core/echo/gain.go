package echo

// GainFromDistance maps distance from a circle's centre to a gain in [0,1]: full at the
// centre, silent at and beyond the radius. A non-positive radius is silent.
func GainFromDistance(distance, radius float64) float64 {
	if radius <= 0 || distance != distance {
		return 0
	}
	g := 1 - distance/radius
	if g <= 0 {
		return 0
	}
	if g >= 1 {
		return 1
	}
	return g
}
