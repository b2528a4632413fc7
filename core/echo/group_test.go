package echo

import (
	"context"
	"testing"
	"time"

	"echoes/core/geo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGroup(t *testing.T) (*Group, *fakeLoader) {
	t.Helper()
	loader := newFakeLoader()
	c := NewCollection("tour", "Tour", nil, squareDef(t, sound("a")), circleDef(t, sound("b")))
	return NewGroup(context.Background(), c, loader), loader
}

func TestGroupPush(t *testing.T) {
	g, _ := newTestGroup(t)
	ctx := context.Background()
	start := time.Unix(1_700_000_000, 0)

	res, err := g.Push(ctx, Update{Coordinate: geo.Coordinate{Lat: 20, Lng: 5}, Source: SourceLocation, Time: start})
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)

	res, err = g.Push(ctx, Update{Coordinate: geo.Coordinate{Lat: 5, Lng: 5}, Source: SourceLocation, Time: start.Add(time.Second)})
	require.NoError(t, err)
	assert.Equal(t, []string{"square"}, res.Candidates)
	assert.Equal(t, []string{"square"}, res.Triggered)
	require.Len(t, res.Crossings, 1)
	assert.InDelta(t, 10, res.Crossings[0].Point.Lat, 1e-9)

	sq, ok := g.Runtime("square")
	require.True(t, ok)
	assert.Equal(t, Active, sq.Activation())
	assert.Equal(t, Inside, sq.LocationStatus())

	res, err = g.Push(ctx, Update{Coordinate: geo.Coordinate{Lat: 6, Lng: 5}, Source: SourceLocation, Time: start.Add(2 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, []string{"square"}, res.Candidates)
	assert.Empty(t, res.Triggered)
	assert.Empty(t, res.Crossings)
	assert.Equal(t, 1, sq.TriggeredCount())

	res, err = g.Push(ctx, Update{Coordinate: geo.Coordinate{Lat: 6, Lng: 15}, Source: SourceLocation, Time: start.Add(3 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, []string{"square"}, res.Detriggered)
	require.Len(t, res.Crossings, 1)
	assert.Equal(t, "square", res.Crossings[0].EchoID)
	assert.InDelta(t, 10, res.Crossings[0].Point.Lng, 1e-9)
	assert.Equal(t, Inactive, sq.Activation())
	assert.Equal(t, Outside, sq.LocationStatus())

	_, err = g.Push(ctx, Update{Coordinate: centre, Source: "wifi"})
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestGroupPushRampsOverUpdateInterval(t *testing.T) {
	g, loader := newTestGroup(t)
	ctx := context.Background()
	start := time.Unix(1_700_000_000, 0)

	require.NoError(t, g.LoadAll(ctx))
	_, err := g.Push(ctx, Update{Coordinate: centre, Source: SourceLocation, Time: start})
	require.NoError(t, err)
	_, err = g.Push(ctx, Update{Coordinate: centre, Source: SourceLocation, Time: start.Add(3 * time.Second)})
	require.NoError(t, err)

	b := loader.playerOf("circle", 0)
	require.NotNil(t, b)
	assert.Equal(t, 1, b.count("play"))
	assert.Equal(t, 3*time.Second, b.ramp)
}

func TestGroupBeacon(t *testing.T) {
	g, _ := newTestGroup(t)
	res, err := g.Push(context.Background(), Update{Coordinate: centre, Source: SourceBeacon})
	require.NoError(t, err)
	assert.Equal(t, []string{"circle"}, res.Triggered)
	assert.Empty(t, res.Crossings)
}

func TestGroupLoadAndUnloadAll(t *testing.T) {
	g, loader := newTestGroup(t)
	require.NoError(t, g.LoadAll(context.Background()))
	for _, r := range g.Runtimes() {
		assert.Equal(t, Loaded, r.LoadingState())
	}
	assert.Equal(t, 2, loader.requestCount())

	require.NoError(t, g.LoadAll(context.Background()))
	assert.Equal(t, 2, loader.requestCount())

	g.UnloadAll()
	for _, r := range g.Runtimes() {
		assert.Equal(t, Unloaded, r.LoadingState())
	}
	assert.True(t, loader.playerOf("square", 0).isUnloaded())
}

func TestGroupPreloadOutlivesCallerDeadline(t *testing.T) {
	g, loader := newTestGroup(t)
	loader.gate = make(chan struct{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, g.LoadAll(ctx), context.DeadlineExceeded)

	close(loader.gate)
	circle, ok := g.Runtime("circle")
	require.True(t, ok)
	require.Eventually(t, func() bool { return circle.LoadingState() == Loaded }, time.Second, time.Millisecond)

	_, err := g.Push(context.Background(), Update{Coordinate: centre, Source: SourceLocation})
	require.NoError(t, err)
	assert.Equal(t, Active, circle.Activation())
	p := loader.playerOf("circle", 0)
	require.NotNil(t, p)
	assert.True(t, p.IsPlaying())
}

func TestGroupPreloadReturnsWhenUnloaded(t *testing.T) {
	g, loader := newTestGroup(t)
	loader.gate = make(chan struct{})
	defer close(loader.gate)

	errc := make(chan error, 1)
	go func() { errc <- g.LoadAll(context.Background()) }()
	require.Eventually(t, func() bool { return loader.requestCount() == 2 }, time.Second, time.Millisecond)

	g.UnloadAll()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("LoadAll kept waiting for abandoned loads")
	}
}

func TestGroupSelect(t *testing.T) {
	g, _ := newTestGroup(t)
	require.NoError(t, g.Select("circle"))
	sq, _ := g.Runtime("square")
	ci, _ := g.Runtime("circle")
	assert.True(t, ci.Selected())
	assert.False(t, sq.Selected())

	require.NoError(t, g.Select(""))
	assert.False(t, ci.Selected())
	assert.ErrorIs(t, g.Select("nope"), ErrUnknownEcho)
}

func TestGroupReloadKeepsCounters(t *testing.T) {
	g, _ := newTestGroup(t)
	log := &eventLog{}
	g.AddObserver(log)

	_, err := g.Push(context.Background(), Update{Coordinate: geo.Coordinate{Lat: 5, Lng: 5}, Source: SourceLocation})
	require.NoError(t, err)

	moved, err := NewDefinition("square", "Square", Zone{Shape: ShapePolygon, Ring: square}, nil, false)
	require.NoError(t, err)
	g.Reload([]Definition{moved})

	runtimes := g.Runtimes()
	require.Len(t, runtimes, 1)
	assert.Equal(t, 1, runtimes[0].TriggeredCount())
	assert.Equal(t, Inactive, runtimes[0].Activation())
	assert.Equal(t, 1, g.Collection().Len())

	_, err = g.Push(context.Background(), Update{Coordinate: geo.Coordinate{Lat: 5, Lng: 5}, Source: SourceLocation})
	require.NoError(t, err)
	assert.Equal(t, 2, runtimes[0].TriggeredCount())
	assert.Contains(t, log.kinds(), EventTriggered)
}

func TestGroupSnapshotRestore(t *testing.T) {
	g, _ := newTestGroup(t)
	_, err := g.Push(context.Background(), Update{Coordinate: centre, Source: SourceBeacon})
	require.NoError(t, err)

	snaps := g.Snapshot()
	require.Len(t, snaps, 2)
	assert.Equal(t, "square", snaps[0].ID)
	assert.Equal(t, 1, snaps[1].TriggeredCount)

	fresh, _ := newTestGroup(t)
	fresh.Restore(snaps)
	ci, _ := fresh.Runtime("circle")
	assert.Equal(t, 1, ci.TriggeredCount())
	assert.Equal(t, Inactive, ci.Activation())
}
