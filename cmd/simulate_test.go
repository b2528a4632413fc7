package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"echoes/core/echo"
	"echoes/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const walkDefinitions = `{
  "collections": [
    {"_id": "empty", "title": "Nothing here"},
    {"_id": "tour", "title": "Westminster", "lat": 51.5007, "lng": -0.1246,
     "echoes": [{"_id": "bigben", "title": "Big Ben", "shape": "circle", "lat": 51.5007, "lng": -0.1246, "radius": 40,
                 "elements": [{"_id": "bells", "media_href": "tour/bells.mp3"}]}]}
  ]
}`

const walk = `[
  {"coordinate": {"lat": 51.5020, "lng": -0.1246}, "time": "2026-05-01T10:00:00Z"},
  {"coordinate": {"lat": 51.5007, "lng": -0.1246}, "time": "2026-05-01T10:01:00Z"},
  {"coordinate": {"lat": 51.5020, "lng": -0.1246}, "source": "location", "time": "2026-05-01T10:02:00Z"}
]`

func loadWalk(t *testing.T) []model.Collection {
	path := filepath.Join(t.TempDir(), "walks.json")
	require.NoError(t, os.WriteFile(path, []byte(walkDefinitions), 0o644))
	cols, err := model.LoadDefinitionsFile(path)
	require.NoError(t, err)
	return cols
}

func TestPickCollection(t *testing.T) {
	cols := loadWalk(t)

	c, err := pickCollection(cols, "")
	require.NoError(t, err)
	assert.Equal(t, "empty", c.ID)

	c, err = pickCollection(cols, "tour")
	require.NoError(t, err)
	assert.Equal(t, "Westminster", c.Title)

	_, err = pickCollection(cols, "missing")
	assert.Error(t, err)
	_, err = pickCollection(nil, "")
	assert.Error(t, err)
}

func TestDecodeTrajectory(t *testing.T) {
	updates, err := decodeTrajectory(strings.NewReader(walk))
	require.NoError(t, err)
	require.Len(t, updates, 3)
	assert.Equal(t, echo.SourceLocation, updates[0].Source)
	assert.Equal(t, 51.5007, updates[1].Coordinate.Lat)
	assert.False(t, updates[2].Time.IsZero())

	_, err = decodeTrajectory(strings.NewReader(`{"lat": 1}`))
	assert.Error(t, err)
}

func TestSimulateWalk(t *testing.T) {
	c, err := pickCollection(loadWalk(t), "tour")
	require.NoError(t, err)
	updates, err := decodeTrajectory(strings.NewReader(walk))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, simulate(context.Background(), &out, c, updates, simulation{}))

	lines := strings.Split(out.String(), "\n")
	var steps []string
	for _, l := range lines {
		if strings.HasPrefix(l, "#") {
			steps = append(steps, l)
		}
	}
	require.Len(t, steps, 3)
	assert.NotContains(t, steps[0], "triggered")
	assert.Contains(t, steps[1], "triggered=[bigben]")
	assert.Contains(t, steps[1], "crossed bigben")
	assert.Contains(t, steps[2], "detriggered=[bigben]")
	assert.Contains(t, steps[2], "crossed bigben")

	assert.Contains(t, out.String(), "events: triggered=1 detriggered=1")
	assert.Regexp(t, `bigben\s+inactive\s+outside`, out.String())
}

func TestSimulateRejectsUnknownSource(t *testing.T) {
	c, err := pickCollection(loadWalk(t), "tour")
	require.NoError(t, err)

	var out bytes.Buffer
	err = simulate(context.Background(), &out, c, []echo.Update{{Source: "wifi"}}, simulation{})
	assert.ErrorIs(t, err, echo.ErrUnknownSource)
}
