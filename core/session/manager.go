// Package session 为每个 listener 在每个 collection 上维护一个 echo group，
// 把事件推送给 WebSocket 客户端，并在重启之间保存计数
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"echoes/core/analytics"
	"echoes/core/echo"
	"echoes/logger"
	"echoes/model"
	"echoes/repository"

	"github.com/google/uuid"
)

var ErrCollectionNotFound = errors.New("session: collection not found")

// AnonymousListener 未认证请求使用的 listener
const AnonymousListener = "anonymous"

// StateStore 保存与恢复运行时快照 (cache.StateCache)
type StateStore interface {
	SaveSnapshots(ctx context.Context, collectionID string, snaps []echo.Snapshot) error
	LoadSnapshots(ctx context.Context, collectionID string) ([]echo.Snapshot, error)
}

// Session 一个 listener 在一个 collection 上的运行状态
type Session struct {
	Key          string
	ID           string // analytics 会话 ID
	CollectionID string
	Listener     string
	Group        *echo.Group
	Created      time.Time
}

// Manager session 管理器
type Manager struct {
	ctx     context.Context
	repo    repository.CollectionRepository
	loader  echo.Loader
	hub     *Hub
	tracker analytics.Tracker
	states  StateStore
	prepare func(ctx context.Context, c *model.Collection) error

	mu       sync.Mutex
	sessions map[string]*Session
	building map[string]*pendingSession
}

// pendingSession 正在构建的 session，同 key 的其他调用等待 done
type pendingSession struct {
	done chan struct{}
	s    *Session
	err  error
}

// Option 配置 Manager
type Option func(*Manager)

func WithTracker(t analytics.Tracker) Option {
	return func(m *Manager) { m.tracker = t }
}

func WithStateStore(s StateStore) Option {
	return func(m *Manager) { m.states = s }
}

// WithPrepare 在构建 group 前处理 collection，例如下载离线媒体
func WithPrepare(fn func(ctx context.Context, c *model.Collection) error) Option {
	return func(m *Manager) { m.prepare = fn }
}

// NewManager ctx 限定所有 session 的生命周期
func NewManager(ctx context.Context, repo repository.CollectionRepository, loader echo.Loader, hub *Hub, opts ...Option) *Manager {
	m := &Manager{
		ctx:      ctx,
		repo:     repo,
		loader:   loader,
		hub:      hub,
		tracker:  analytics.Discard,
		sessions: make(map[string]*Session),
		building: make(map[string]*pendingSession),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Key 生成 session key
func Key(collectionID, listener string) string {
	if listener == "" {
		listener = AnonymousListener
	}
	return collectionID + "/" + listener
}

// Hub 返回 WebSocket 中心
func (m *Manager) Hub() *Hub { return m.hub }

// Session 返回已有 session，不存在时从仓库构建。构建 (读仓库、prepare 下载媒体) 不持有 m.mu，
// 其他 session 的更新不受影响；同一 key 的并发调用共享一次构建
func (m *Manager) Session(ctx context.Context, collectionID, listener string) (*Session, error) {
	key := Key(collectionID, listener)

	m.mu.Lock()
	if s, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		return s, nil
	}
	if p, ok := m.building[key]; ok {
		m.mu.Unlock()
		select {
		case <-p.done:
			return p.s, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p := &pendingSession{done: make(chan struct{})}
	m.building[key] = p
	m.mu.Unlock()

	p.s, p.err = m.build(ctx, key, collectionID, listener)

	m.mu.Lock()
	delete(m.building, key)
	if p.err == nil {
		m.sessions[key] = p.s
	}
	m.mu.Unlock()
	close(p.done)

	if p.err == nil {
		logger.Info("Session created",
			logger.String("session", key),
			logger.CollectionID(collectionID),
			logger.Int("echoes", p.s.Group.Collection().Len()))
	}
	return p.s, p.err
}

func (m *Manager) build(ctx context.Context, key, collectionID, listener string) (*Session, error) {
	col, err := m.collection(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	s := &Session{
		Key:          key,
		ID:           uuid.NewString(),
		CollectionID: collectionID,
		Listener:     listener,
		Created:      time.Now(),
	}
	s.Group = echo.NewGroup(m.ctx, col, m.loader, echo.WithTracker(analytics.WithSession(m.tracker, s.ID)))
	if m.hub != nil {
		s.Group.AddObserver(m.hub.Observer(key))
	}
	m.restore(ctx, s)
	return s, nil
}

func (m *Manager) collection(ctx context.Context, id string) (*echo.Collection, error) {
	mc, err := m.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load collection %s: %w", id, err)
	}
	if mc == nil {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, id)
	}
	if m.prepare != nil {
		if err := m.prepare(ctx, mc); err != nil {
			return nil, fmt.Errorf("failed to prepare collection %s: %w", id, err)
		}
	}
	return mc.Runtime()
}

// restore 恢复计数与选中状态；非法的持久化数据只记录日志
func (m *Manager) restore(ctx context.Context, s *Session) {
	if m.states == nil {
		return
	}
	snaps, err := m.states.LoadSnapshots(ctx, s.Key)
	if err != nil {
		var raw *echo.RawValueError
		if errors.As(err, &raw) {
			logger.Warn("Discarding corrupt session state", logger.String("session", s.Key), logger.ErrorField(err))
		} else {
			logger.Warn("Failed to load session state", logger.String("session", s.Key), logger.ErrorField(err))
		}
		return
	}
	s.Group.Restore(snaps)
}

func (m *Manager) persist(ctx context.Context, s *Session) {
	if m.states == nil {
		return
	}
	if err := m.states.SaveSnapshots(ctx, s.Key, s.Group.Snapshot()); err != nil {
		logger.Warn("Failed to save session state", logger.String("session", s.Key), logger.ErrorField(err))
	}
}

// Push 把一次位置更新交给 session 的 group
func (m *Manager) Push(ctx context.Context, collectionID, listener string, u echo.Update) (echo.Result, error) {
	s, err := m.Session(ctx, collectionID, listener)
	if err != nil {
		return echo.Result{}, err
	}
	res, err := s.Group.Push(ctx, u)
	if err != nil {
		return res, err
	}
	if len(res.Triggered) > 0 || len(res.Detriggered) > 0 {
		m.persist(ctx, s)
	}
	return res, nil
}

// Select 选中 echo，空 id 取消选中
func (m *Manager) Select(ctx context.Context, collectionID, listener, echoID string) error {
	s, err := m.Session(ctx, collectionID, listener)
	if err != nil {
		return err
	}
	if err := s.Group.Select(echoID); err != nil {
		return err
	}
	m.persist(ctx, s)
	return nil
}

// Snapshot 返回 session 的全部 echo 状态
func (m *Manager) Snapshot(ctx context.Context, collectionID, listener string) ([]echo.Snapshot, error) {
	s, err := m.Session(ctx, collectionID, listener)
	if err != nil {
		return nil, err
	}
	return s.Group.Snapshot(), nil
}

// Preload 提前加载全部 echo 的播放器
func (m *Manager) Preload(ctx context.Context, collectionID, listener string) error {
	s, err := m.Session(ctx, collectionID, listener)
	if err != nil {
		return err
	}
	return s.Group.LoadAll(ctx)
}

// Unload 卸载并移除 session
func (m *Manager) Unload(ctx context.Context, collectionID, listener string) bool {
	key := Key(collectionID, listener)
	m.mu.Lock()
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.Group.UnloadAll()
	m.persist(ctx, s)
	logger.Info("Session unloaded", logger.String("session", key))
	return true
}

// Reload 重新读取所有活动 session 的定义并重建运行时
func (m *Manager) Reload(ctx context.Context) error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		col, err := m.collection(ctx, s.CollectionID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.Group.Reload(col.Echoes())
		m.broadcastSnapshot(s)
		logger.Info("Session reloaded", logger.String("session", s.Key), logger.Int("echoes", col.Len()))
	}
	return errors.Join(errs...)
}

func (m *Manager) broadcastSnapshot(s *Session) {
	if m.hub == nil {
		return
	}
	data, err := json.Marshal(s.Group.Snapshot())
	if err != nil {
		return
	}
	m.hub.Broadcast(s.Key, &WSMessage{Type: MsgTypeSnapshot, Data: data})
}

// HandleMessage 处理客户端消息
func (m *Manager) HandleMessage(ctx context.Context, c *Client, msg *WSMessage) {
	s := m.lookup(c.Key)
	if s == nil {
		c.SendError("session closed")
		return
	}
	switch msg.Type {
	case MsgTypeSelect:
		var d SelectData
		if err := json.Unmarshal(msg.Data, &d); err != nil {
			c.SendError("invalid select payload")
			return
		}
		if err := m.Select(ctx, s.CollectionID, s.Listener, d.EchoID); err != nil {
			c.SendError(err.Error())
		}
	case MsgTypeLocation:
		var u echo.Update
		if err := json.Unmarshal(msg.Data, &u); err != nil {
			c.SendError("invalid location payload")
			return
		}
		if _, err := m.Push(ctx, s.CollectionID, s.Listener, u); err != nil {
			c.SendError(err.Error())
		}
	case MsgTypeSnapshot:
		data, _ := json.Marshal(s.Group.Snapshot())
		c.SendMessage(&WSMessage{Type: MsgTypeSnapshot, Data: data})
	default:
		c.SendError(fmt.Sprintf("unsupported message type: %s", msg.Type))
	}
}

func (m *Manager) lookup(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[key]
}

// Close 卸载全部 session
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Group.UnloadAll()
		m.persist(ctx, s)
	}
}
