package player

import (
	"context"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
)

// DefaultSampleRate is the rate the output bus mixes at.
const DefaultSampleRate beep.SampleRate = 44100

// Bus mixes every loaded player into one stream. Players stay on the bus until unloaded.
type Bus struct {
	mu     sync.Mutex
	format beep.Format
	mixer  beep.Mixer
}

func NewBus(sr beep.SampleRate) *Bus {
	if sr <= 0 {
		sr = DefaultSampleRate
	}
	return &Bus{format: beep.Format{SampleRate: sr, NumChannels: 2, Precision: 2}}
}

func (b *Bus) Format() beep.Format {
	return b.format
}

func (b *Bus) Add(s beep.Streamer) {
	b.mu.Lock()
	b.mixer.Add(s)
	b.mu.Unlock()
}

// Active is the number of streamers still mixed.
func (b *Bus) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mixer.Len()
}

// Stream always fills samples; an empty bus is silence.
func (b *Bus) Stream(samples [][2]float64) (int, bool) {
	b.mu.Lock()
	n, _ := b.mixer.Stream(samples)
	b.mu.Unlock()
	silence(samples[n:])
	return len(samples), true
}

func (b *Bus) Err() error { return nil }

// Run pulls the mix at wall-clock pace until ctx is done and hands each quantum to sink,
// which may be nil. It keeps players advancing when no audio device drains the bus.
func (b *Bus) Run(ctx context.Context, quantum time.Duration, sink func(samples [][2]float64)) {
	if quantum <= 0 {
		quantum = 20 * time.Millisecond
	}
	buf := make([][2]float64, b.format.SampleRate.N(quantum))
	ticker := time.NewTicker(quantum)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Stream(buf)
			if sink != nil {
				sink(buf)
			}
		}
	}
}
