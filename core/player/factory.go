package player

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"echoes/core/element"

	"github.com/gopxl/beep/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("echoes/core/player")

var placeholderFormat = beep.Format{SampleRate: DefaultSampleRate, NumChannels: 2, Precision: 2}

// Request is everything the factory needs to build one element's player.
type Request struct {
	EchoID   string
	Index    int
	Element  element.Descriptor
	Gain     float64
	Position Position // element position relative to the collection origin
}

// Factory builds players. The zero value streams over DefaultClient with no bus.
type Factory struct {
	Offline  bool
	Resolver Resolver
	Client   *http.Client
	Bus      *Bus
	Clock    *SyncClock

	// Placeholder, when set, replaces every element's media with silence of this length.
	Placeholder time.Duration

	now func() time.Time
}

// Load opens the element's media and returns a stopped player at req.Gain.
func (f *Factory) Load(ctx context.Context, req Request) (Player, error) {
	backend := element.SelectBackend(req.Element, f.Offline)
	ctx, span := tracer.Start(ctx, "player.load", trace.WithAttributes(
		attribute.String("echo.id", req.EchoID),
		attribute.Int("element.index", req.Index),
		attribute.String("element.id", req.Element.ID),
		attribute.String("player.backend", backend.String()),
	))
	defer span.End()

	p, err := f.open(ctx, backend, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	p.SetGain(req.Gain, 0)
	if f.Bus != nil {
		f.Bus.Add(p)
	}
	return p, nil
}

type busPlayer interface {
	Player
	Stream(samples [][2]float64) (int, bool)
	Err() error
}

func (f *Factory) open(ctx context.Context, backend element.Backend, req Request) (busPlayer, error) {
	desc := req.Element
	if !desc.IsSounding() {
		return nil, ErrNoMedia
	}
	opts := options{now: f.now, bus: f.Bus, clock: f.Clock}
	if f.Placeholder > 0 {
		format := placeholderFormat
		if f.Bus != nil {
			format = f.Bus.Format()
		}
		return newPlaceholder(desc, format.SampleRate.N(f.Placeholder), format, opts), nil
	}

	switch backend {
	case element.BackendLocal:
		return openLocal(desc.LocalPath, desc, opts)
	case element.BackendStream:
		url, err := resolve(ctx, f.Resolver, desc.MediaHref)
		if err != nil {
			return nil, err
		}
		return openStream(ctx, f.Client, url, desc, opts)
	case element.BackendSpatial:
		src, err := f.openSource(ctx, desc)
		if err != nil {
			return nil, err
		}
		return newSpatial(newBase(desc, src, opts, true), desc, req.Position, f.Clock), nil
	}
	return nil, fmt.Errorf("player: unknown backend %v", backend)
}

// openSource is used by the spatial backend, which reads local copies and remote media alike.
func (f *Factory) openSource(ctx context.Context, desc element.Descriptor) (*source, error) {
	if desc.LocalPath != "" {
		return openFile(desc.LocalPath)
	}
	if f.Offline {
		return nil, ErrNoLocalCopy
	}
	url, err := resolve(ctx, f.Resolver, desc.MediaHref)
	if err != nil {
		return nil, err
	}
	return fetch(ctx, f.Client, url)
}
