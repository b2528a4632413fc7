package model

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"echoes/core/echo"
	"echoes/core/element"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDefinitions = `{
  "collections": [{
    "_id": "tour",
    "title": "Westminster",
    "lat": 51.5007, "lng": -0.1246,
    "echoes": [
      {"_id": "abbey", "position": 1, "shape": "polygon", "title": "Abbey",
       "polygon": [{"lat": 51.4990, "lng": -0.1280}, {"lat": 51.4997, "lng": -0.1280}, {"lat": 51.4997, "lng": -0.1265}],
       "elements": [{"_id": "e2", "media_href": "abbey.ogg", "resume": true}]},
      {"_id": "bigben", "position": 0, "shape": "circle", "title": "Big Ben", "lat": 51.5007, "lng": -0.1246, "radius": 40,
       "elements": [
         {"_id": "e1b", "position": 1, "media_href": "https://cdn.example/bells.mp3", "sync_group": 0},
         {"_id": "e1a", "position": 0, "media_href": "https://cdn.example/intro.mp3", "fade_in_ms": 250}
       ]}
    ]
  }]
}`

func TestLoadDefinitionsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defs.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleDefinitions), 0o644))

	cols, err := LoadDefinitionsFile(path)
	require.NoError(t, err)
	require.Len(t, cols, 1)

	c := cols[0]
	require.Len(t, c.Echoes, 2)
	assert.Equal(t, "bigben", c.Echoes[0].ID)
	assert.Equal(t, "e1a", c.Echoes[0].Elements[0].ID)

	intro := c.Echoes[0].Elements[0]
	assert.Equal(t, element.NoSyncGroup, intro.SyncGroup)
	assert.Equal(t, 500, intro.FadeOutMs)
	assert.Equal(t, 20.0, intro.ThreeDMaxDist)
	assert.Equal(t, element.RolloffInverse, intro.ThreeDRolloff)
	assert.Equal(t, 0, c.Echoes[0].Elements[1].SyncGroup)

	col, err := c.Runtime()
	require.NoError(t, err)
	assert.Equal(t, 2, col.Len())
	require.NotNil(t, col.Centre)

	defs := col.Echoes()
	assert.Equal(t, echo.ShapeCircle, defs[0].Zone.Shape)
	assert.Equal(t, 250*time.Millisecond, defs[0].Elements[0].FadeIn)
	assert.True(t, defs[0].Elements[1].InSyncGroup())
	assert.Len(t, defs[1].Zone.Ring, 3)
	assert.True(t, defs[1].Elements[0].Resume)
}

func TestInvalidEchoRejected(t *testing.T) {
	c := Collection{ID: "bad", Echoes: []Echo{{ID: "x", Shape: "polygon", Polygon: CoordsList{{Lat: 1, Lng: 1}}}}}
	_, err := c.Runtime()
	assert.ErrorIs(t, err, echo.ErrInvalidDefinition)

	_, err = LoadDefinitionsFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestCoordsColumns(t *testing.T) {
	var l CoordsList
	require.NoError(t, l.Scan([]byte(`[{"lat":1,"lng":2}]`)))
	assert.Equal(t, CoordsList{{Lat: 1, Lng: 2}}, l)

	require.NoError(t, l.Scan(nil))
	assert.Nil(t, l)
	v, err := l.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	var c Coords
	require.NoError(t, c.Scan("null"))
	assert.Equal(t, Coords{}, c)

	var e Element
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"a","sync_group":2,"tempo":90}`), &e))
	assert.Equal(t, 2, e.SyncGroup)
	assert.Equal(t, 90.0, e.Tempo)
	assert.Equal(t, 4, e.SyncBeats)
}
