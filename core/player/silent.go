package player

import (
	"echoes/core/element"

	"github.com/gopxl/beep/v2"
)

// silentStream renders n frames of silence and supports seeking like a decoded file.
type silentStream struct {
	n, pos int
}

func (s *silentStream) Stream(samples [][2]float64) (int, bool) {
	if s.pos >= s.n {
		return 0, false
	}
	k := min(len(samples), s.n-s.pos)
	silence(samples[:k])
	s.pos += k
	return k, true
}

func (s *silentStream) Err() error    { return nil }
func (s *silentStream) Len() int      { return s.n }
func (s *silentStream) Position() int { return s.pos }
func (s *silentStream) Close() error  { return nil }

func (s *silentStream) Seek(p int) error {
	s.pos = min(max(p, 0), s.n)
	return nil
}

// PlaceholderPlayer stands in for an element's media during dry runs. It has the full
// transport behaviour of a real player but never opens a file or URL.
type PlaceholderPlayer struct {
	*base
}

func newPlaceholder(desc element.Descriptor, length int, format beep.Format, opts options) *PlaceholderPlayer {
	src := &source{stream: &silentStream{n: length}, format: format}
	return &PlaceholderPlayer{base: newBase(desc, src, opts, false)}
}
