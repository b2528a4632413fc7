package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"echoes/core/echo"

	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	collectionStateKey = "echoes:collection:%s:state" // Hash: echoID -> msgpack(stateRecord)
	collectionSeenKey  = "echoes:collection:%s:seen"  // String: 最近一次位置更新时间 (unix ms)
	defaultStateTTL    = 24 * time.Hour
)

// stateRecord 持久化的运行时状态，枚举按原始整数保存
type stateRecord struct {
	Activation     int  `msgpack:"a"`
	Location       int  `msgpack:"l"`
	Loading        int  `msgpack:"s"`
	TriggeredCount int  `msgpack:"t"`
	Selected       bool `msgpack:"sel"`
}

// StateCache 在 Redis 中保存 collection 的运行时快照，进程重启后用于恢复计数与选中状态
type StateCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStateCache 使用全局客户端创建缓存
func NewStateCache(ttl time.Duration) *StateCache {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &StateCache{client: RedisClient, ttl: ttl}
}

func encodeState(s echo.Snapshot) ([]byte, error) {
	return msgpack.Marshal(stateRecord{
		Activation:     int(s.Activation),
		Location:       int(s.Location),
		Loading:        int(s.Loading),
		TriggeredCount: s.TriggeredCount,
		Selected:       s.Selected,
	})
}

// decodeState 严格解码：越界的枚举值返回 *echo.RawValueError
func decodeState(id string, b []byte) (echo.Snapshot, error) {
	var rec stateRecord
	if err := msgpack.Unmarshal(b, &rec); err != nil {
		return echo.Snapshot{}, fmt.Errorf("failed to decode state for %s: %w", id, err)
	}
	a, err := echo.ParseActivation(rec.Activation)
	if err != nil {
		return echo.Snapshot{}, err
	}
	l, err := echo.ParseLocationStatus(rec.Location)
	if err != nil {
		return echo.Snapshot{}, err
	}
	s, err := echo.ParseLoadingState(rec.Loading)
	if err != nil {
		return echo.Snapshot{}, err
	}
	return echo.Snapshot{
		ID:             id,
		Activation:     a,
		Location:       l,
		Loading:        s,
		TriggeredCount: rec.TriggeredCount,
		Selected:       rec.Selected,
	}, nil
}

// SaveSnapshots 覆盖写入一个 collection 的全部快照
func (c *StateCache) SaveSnapshots(ctx context.Context, collectionID string, snaps []echo.Snapshot) error {
	if c.client == nil {
		return errNotInitialized
	}
	key := fmt.Sprintf(collectionStateKey, collectionID)
	fields := make(map[string]interface{}, len(snaps))
	for _, s := range snaps {
		b, err := encodeState(s)
		if err != nil {
			return fmt.Errorf("failed to encode state for %s: %w", s.ID, err)
		}
		fields[s.ID] = b
	}

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(fields) > 0 {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, c.ttl)
	}
	pipe.Set(ctx, fmt.Sprintf(collectionSeenKey, collectionID), time.Now().UnixMilli(), c.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// LoadSnapshots 读取快照；key 不存在时返回空切片。任何一条记录非法都会返回错误
func (c *StateCache) LoadSnapshots(ctx context.Context, collectionID string) ([]echo.Snapshot, error) {
	if c.client == nil {
		return nil, errNotInitialized
	}
	raw, err := c.client.HGetAll(ctx, fmt.Sprintf(collectionStateKey, collectionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	out := make([]echo.Snapshot, 0, len(raw))
	for id, v := range raw {
		s, err := decodeState(id, []byte(v))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// LastSeen 返回最近一次保存的时间
func (c *StateCache) LastSeen(ctx context.Context, collectionID string) (time.Time, bool, error) {
	if c.client == nil {
		return time.Time{}, false, errNotInitialized
	}
	ms, err := c.client.Get(ctx, fmt.Sprintf(collectionSeenKey, collectionID)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

// Clear 删除一个 collection 的全部状态
func (c *StateCache) Clear(ctx context.Context, collectionID string) error {
	if c.client == nil {
		return errNotInitialized
	}
	return c.client.Del(ctx,
		fmt.Sprintf(collectionStateKey, collectionID),
		fmt.Sprintf(collectionSeenKey, collectionID)).Err()
}
