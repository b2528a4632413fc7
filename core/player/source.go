package player

import (
	"fmt"
	"io"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

// source is a decoded audio stream plus its format.
type source struct {
	stream beep.StreamSeekCloser
	format beep.Format
}

// decode takes ownership of rc: it is closed on failure and by source.close otherwise.
func decode(rc io.ReadCloser, codec string) (*source, error) {
	var (
		s   beep.StreamSeekCloser
		f   beep.Format
		err error
	)
	switch codec {
	case "mp3":
		s, f, err = mp3.Decode(rc)
	case "wav", "wave":
		s, f, err = wav.Decode(rc)
	case "flac":
		s, f, err = flac.Decode(rc)
	case "ogg", "oga":
		s, f, err = vorbis.Decode(rc)
	default:
		rc.Close()
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCodec, codec)
	}
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("decode %s: %w", codec, err)
	}
	return &source{stream: s, format: f}, nil
}

func (s *source) length() int {
	return s.stream.Len()
}

// duration is zero when the length is unknown, which is the case for most network streams.
func (s *source) duration() time.Duration {
	n := s.stream.Len()
	if n <= 0 {
		return 0
	}
	return s.format.SampleRate.D(n)
}

// seek errors are dropped: a non-seekable stream just keeps its position.
func (s *source) seek(p int) {
	_ = s.stream.Seek(p)
}

func (s *source) seekFraction(f float64) {
	n := s.stream.Len()
	if n <= 0 {
		return
	}
	s.seek(int(f * float64(n-1)))
}

func (s *source) close() error {
	return s.stream.Close()
}
