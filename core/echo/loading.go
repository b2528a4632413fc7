package echo

import (
	"context"
	"sync"

	"echoes/core/player"
	"echoes/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("echoes/core/echo")

// LoadOptions controls one Load call.
type LoadOptions struct {
	AutoPlay  bool    // play once loaded, if the echo is still active
	Gain      float64 // gain for AutoPlay
	Done      func()  // called once after every request has resolved
	Abandoned func()  // called instead of Done when Unload supersedes the load
}

// Load creates one player per sounding element concurrently and returns immediately. It is
// a no-op unless the runtime is Unloaded. The runtime becomes Loaded when every request has
// resolved, whether or not it succeeded.
//
// Requests run under the runtime's lifetime context, not ctx: a caller that stops waiting
// does not affect the result, and ctx only parents the trace span. The runtime ends in
// LoadError when its lifetime ends before the join. Unload cancels the requests in flight
// and calls Abandoned rather than Done. Load reports whether it started loading.
func (r *Runtime) Load(ctx context.Context, opts LoadOptions) bool {
	r.mu.Lock()
	if r.loading != Unloaded {
		r.mu.Unlock()
		return false
	}
	loadCtx, cancel := context.WithCancel(trace.ContextWithSpan(r.ctx, trace.SpanFromContext(ctx)))
	r.loading = Loading
	r.autoplay, r.autoGain = opts.AutoPlay, player.ClampGain(opts.Gain)
	r.cancelLoad = cancel
	gen := r.generation
	reqs := r.requestsLocked()
	r.mu.Unlock()

	go r.join(loadCtx, cancel, gen, reqs, opts)
	return true
}

func (r *Runtime) requestsLocked() []player.Request {
	reqs := make([]player.Request, 0, len(r.def.Elements))
	for i, d := range r.def.Elements {
		if !d.IsSounding() {
			continue
		}
		reqs = append(reqs, player.Request{
			EchoID:   r.def.ID,
			Index:    i,
			Element:  d,
			Gain:     r.autoGain,
			Position: r.elementPosition(d),
		})
	}
	return reqs
}

func (r *Runtime) join(ctx context.Context, cancel context.CancelFunc, gen uint64, reqs []player.Request, opts LoadOptions) {
	defer cancel()
	ctx, span := tracer.Start(ctx, "echo.load", trace.WithAttributes(
		attribute.String("echo.id", r.def.ID),
		attribute.Int("echo.elements", len(r.def.Elements)),
		attribute.Int("echo.requests", len(reqs)),
	))
	defer span.End()

	var wg sync.WaitGroup
	for _, req := range reqs {
		wg.Add(1)
		go func(req player.Request) {
			defer wg.Done()
			r.complete(gen, req, r.loadOne(ctx, req))
		}(req)
	}
	wg.Wait()

	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		span.SetAttributes(attribute.Bool("echo.abandoned", true))
		if opts.Abandoned != nil {
			opts.Abandoned()
		}
		return
	}
	r.cancelLoad = nil

	var released []player.Player
	kind := EventLoaded
	if err := ctx.Err(); err != nil {
		r.loading = LoadError
		released = r.populatedLocked()
		r.players = make([]player.Player, len(r.def.Elements))
		kind = EventLoadFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		r.loading = Loaded
	}

	var toPlay []player.Player
	gain := r.autoGain
	if r.autoplay && r.loading == Loaded && r.activation == Active {
		toPlay = r.populatedLocked()
	}
	r.autoplay = false
	ev := r.eventLocked(kind)
	ev.Populated = len(r.populatedLocked())
	state := r.loading
	r.mu.Unlock()

	for _, p := range released {
		p.Unload()
	}
	if len(toPlay) > 0 && !anyPlaying(toPlay) {
		playAll(toPlay, gain)
	}

	logger.Debug("Echo load finished",
		logger.String("echoId", r.def.ID),
		logger.String("state", state.String()),
		logger.Int("players", ev.Populated),
		logger.Int("requests", len(reqs)))
	r.notify(ev)
	if opts.Done != nil {
		opts.Done()
	}
}

func (r *Runtime) loadOne(ctx context.Context, req player.Request) player.Player {
	if r.loader == nil {
		return nil
	}
	p, err := r.loader.Load(ctx, req)
	if err != nil {
		logger.Warn("Failed to load echo element",
			logger.String("echoId", r.def.ID),
			logger.Int("index", req.Index),
			logger.String("elementId", req.Element.ID),
			logger.ErrorField(err))
		return nil
	}
	return p
}

// complete stores p in its slot unless the load it belongs to has been abandoned.
func (r *Runtime) complete(gen uint64, req player.Request, p player.Player) {
	if p == nil {
		return
	}
	r.mu.Lock()
	if gen != r.generation {
		r.mu.Unlock()
		p.Unload()
		return
	}
	r.players[req.Index] = p
	listener := r.listener
	r.mu.Unlock()

	if pos, ok := p.(player.Positional); ok && listener != nil {
		pos.SetListener(*listener)
	}
}

// Unload releases every player and returns to Unloaded and Inactive. A load still in flight
// is cancelled and its late completions are discarded. It is safe to call in any state.
func (r *Runtime) Unload() {
	r.mu.Lock()
	r.generation++
	cancel := r.cancelLoad
	r.cancelLoad = nil
	players := r.populatedLocked()
	r.players = make([]player.Player, len(r.def.Elements))
	wasLoaded := r.loading != Unloaded
	r.loading = Unloaded
	r.activation = Inactive
	r.autoplay = false
	ev := r.eventLocked(EventUnloaded)
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, p := range players {
		p.Unload()
	}
	if wasLoaded {
		r.notify(ev)
	}
}

func playAll(players []player.Player, gain float64) {
	for _, p := range players {
		if p.ShouldPlay() {
			p.Play(gain)
		}
	}
}
