package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"echoes/core/echo"
	"echoes/logger"

	"github.com/gorilla/websocket"
)

// MessageType 消息类型
type MessageType string

const (
	MsgTypePing     MessageType = "ping"     // 心跳
	MsgTypePong     MessageType = "pong"     // 心跳响应
	MsgTypeError    MessageType = "error"    // 错误消息
	MsgTypeSnapshot MessageType = "snapshot" // 全量状态 (连接建立时发送)
	MsgTypeEcho     MessageType = "echo"     // echo 状态变化
	MsgTypeSelect   MessageType = "select"   // 客户端选中 echo
	MsgTypeLocation MessageType = "location" // 客户端上报位置
)

// WSMessage WebSocket 消息结构
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Session   string          `json:"session,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// SelectData 选中请求，echoId 为空表示取消选中
type SelectData struct {
	EchoID string `json:"echoId"`
}

// ErrorData 错误消息数据
type ErrorData struct {
	Message string `json:"message"`
}

// Client WebSocket 客户端
type Client struct {
	Hub  *Hub
	Conn *websocket.Conn
	Send chan []byte
	Key  string // session key: collection/listener

	mu     sync.Mutex
	closed bool
}

// NewClient 创建客户端
func NewClient(hub *Hub, conn *websocket.Conn, key string) *Client {
	return &Client{Hub: hub, Conn: conn, Send: make(chan []byte, 256), Key: key}
}

// trySend 非阻塞写入发送队列，队列满返回 false
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// Hub 按 session 分组的 WebSocket 连接中心
type Hub struct {
	sessions map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage

	mu   sync.RWMutex
	done chan struct{}
	once sync.Once
}

type broadcastMessage struct {
	key     string
	message []byte
}

// NewHub 创建 Hub
func NewHub() *Hub {
	return &Hub{
		sessions:   make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run 启动 Hub 主循环
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.broadcastToSession(msg)
		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop 停止 Hub，可重复调用
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[client.Key] == nil {
		h.sessions[client.Key] = make(map[*Client]bool)
	}
	h.sessions[client.Key][client] = true
	logger.Debug("client registered", logger.String("session", client.Key))
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.sessions[client.Key]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	client.closeSend()
	if len(clients) == 0 {
		delete(h.sessions, client.Key)
	}
	logger.Debug("client unregistered", logger.String("session", client.Key))
}

func (h *Hub) broadcastToSession(msg *broadcastMessage) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.sessions[msg.key]))
	for client := range h.sessions[msg.key] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if !client.trySend(msg.message) {
			// 发送缓冲区满，移除客户端
			go h.Unregister(client)
		}
	}
}

func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.sessions {
		for client := range clients {
			client.closeSend()
		}
	}
	h.sessions = make(map[string]map[*Client]bool)
}

// Register 注册客户端
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast 向 session 的所有连接广播，不阻塞：队列满时丢弃
func (h *Hub) Broadcast(key string, msg *WSMessage) {
	msg.Session = key
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Warn("failed to marshal ws message", logger.ErrorField(err))
		return
	}
	select {
	case h.broadcast <- &broadcastMessage{key: key, message: data}:
	default:
		logger.Warn("broadcast queue full, dropping message", logger.String("session", key))
	}
}

// ClientCount 返回 session 的连接数
func (h *Hub) ClientCount(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[key])
}

// Observer 把 echo 事件转发到 session 的所有连接
func (h *Hub) Observer(key string) echo.Observer {
	return echo.ObserverFunc(func(e echo.Event) {
		data, err := json.Marshal(e)
		if err != nil {
			return
		}
		h.Broadcast(key, &WSMessage{Type: MsgTypeEcho, Data: data, Timestamp: e.Time.UnixMilli()})
	})
}

// ========== Client 方法 ==========

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxMessage = 4096
)

// ReadPump 读取消息循环，ping 在这里直接应答，其余消息交给 handler
func (c *Client) ReadPump(ctx context.Context, handler func(ctx context.Context, client *Client, msg *WSMessage)) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessage)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("websocket read error", logger.ErrorField(err), logger.String("session", c.Key))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.SendError("invalid message format")
			continue
		}
		if msg.Type == MsgTypePing {
			c.SendMessage(&WSMessage{Type: MsgTypePong})
			continue
		}
		handler(ctx, c, &msg)
	}
}

// WritePump 写入消息循环
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 关闭了通道
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage 发送消息给客户端，缓冲区满时丢弃
func (c *Client) SendMessage(msg *WSMessage) {
	msg.Session = c.Key
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// SendError 发送错误消息
func (c *Client) SendError(message string) {
	data, _ := json.Marshal(ErrorData{Message: message})
	c.SendMessage(&WSMessage{Type: MsgTypeError, Data: data})
}
