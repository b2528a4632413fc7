package cache

import (
	"context"
	"errors"
	"testing"

	"echoes/core/echo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestStateEncoding(t *testing.T) {
	in := echo.Snapshot{
		ID:             "abbey",
		Activation:     echo.Active,
		Location:       echo.Inside,
		Loading:        echo.Loaded,
		TriggeredCount: 3,
		Selected:       true,
	}
	b, err := encodeState(in)
	require.NoError(t, err)

	out, err := decodeState("abbey", b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeStateRejectsUnknownRawValues(t *testing.T) {
	b, err := msgpack.Marshal(stateRecord{Activation: 7})
	require.NoError(t, err)

	_, err = decodeState("x", b)
	var raw *echo.RawValueError
	require.True(t, errors.As(err, &raw))
	assert.Equal(t, 7, raw.Value)

	b, err = msgpack.Marshal(stateRecord{Loading: -1})
	require.NoError(t, err)
	_, err = decodeState("x", b)
	assert.True(t, errors.As(err, &raw))

	_, err = decodeState("x", []byte{0xc1})
	assert.Error(t, err)
}

func TestStateCacheRequiresClient(t *testing.T) {
	RedisClient = nil
	c := NewStateCache(0)
	assert.Equal(t, defaultStateTTL, c.ttl)

	ctx := context.Background()
	assert.Error(t, c.SaveSnapshots(ctx, "tour", nil))
	_, err := c.LoadSnapshots(ctx, "tour")
	assert.Error(t, err)
	assert.Error(t, c.Clear(ctx, "tour"))
	assert.Error(t, TestRedis(ctx))
}
