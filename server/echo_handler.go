package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"echoes/core/echo"
	"echoes/core/geo"
	"echoes/core/session"
	"echoes/logger"
	"echoes/repository"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const preloadTimeout = 2 * time.Minute

// EchoHandler collection / echo 相关的 HTTP 与 WebSocket 处理器
type EchoHandler struct {
	manager  *session.Manager
	repo     repository.CollectionRepository
	upgrader websocket.Upgrader
}

// NewEchoHandler 创建处理器
func NewEchoHandler(manager *session.Manager, repo repository.CollectionRepository) *EchoHandler {
	return &EchoHandler{
		manager: manager,
		repo:    repo,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// CollectionSummary 列表项
type CollectionSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Echoes    int    `json:"echoes"`
	SizeBytes int64  `json:"sizeBytes"`
}

// LocationRequest 位置上报
type LocationRequest struct {
	Lat    float64     `json:"lat"`
	Lng    float64     `json:"lng"`
	Source echo.Source `json:"source"`
	Time   *time.Time  `json:"time,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write response", logger.ErrorField(err))
	}
}

// writeError 把领域错误映射为 HTTP 状态码
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrCollectionNotFound), errors.Is(err, echo.ErrUnknownEcho):
		status = http.StatusNotFound
	case errors.Is(err, echo.ErrUnknownSource), errors.Is(err, echo.ErrInvalidDefinition):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", logger.ErrorField(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// ListCollectionsHandler 列出全部 collection
func (h *EchoHandler) ListCollectionsHandler(w http.ResponseWriter, r *http.Request) {
	cols, err := h.repo.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]CollectionSummary, 0, len(cols))
	for _, c := range cols {
		sum := CollectionSummary{ID: c.ID, Title: c.Title, Echoes: len(c.Echoes)}
		if rc, err := c.Runtime(); err == nil {
			sum.SizeBytes = rc.TotalSizeBytes()
		}
		out = append(out, sum)
	}
	writeJSON(w, http.StatusOK, out)
}

// EchoesHandler 返回当前 listener 的全部 echo 状态
func (h *EchoHandler) EchoesHandler(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.manager.Snapshot(r.Context(), mux.Vars(r)["id"], ListenerFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// LocationHandler 处理一次位置或 beacon 上报
func (h *EchoHandler) LocationHandler(w http.ResponseWriter, r *http.Request) {
	var req LocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Source == "" {
		req.Source = echo.SourceLocation
	}
	u := echo.Update{Coordinate: geo.Coordinate{Lat: req.Lat, Lng: req.Lng}, Source: req.Source}
	if req.Time != nil {
		u.Time = *req.Time
	}

	res, err := h.manager.Push(r.Context(), mux.Vars(r)["id"], ListenerFromContext(r.Context()), u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SelectHandler 选中 echo
func (h *EchoHandler) SelectHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.manager.Select(r.Context(), vars["id"], ListenerFromContext(r.Context()), vars["echoId"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearSelectionHandler 取消选中
func (h *EchoHandler) ClearSelectionHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Select(r.Context(), mux.Vars(r)["id"], ListenerFromContext(r.Context()), ""); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PreloadHandler 提前加载全部 echo
func (h *EchoHandler) PreloadHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), preloadTimeout)
	defer cancel()
	if err := h.manager.Preload(ctx, mux.Vars(r)["id"], ListenerFromContext(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	snaps, err := h.manager.Snapshot(r.Context(), mux.Vars(r)["id"], ListenerFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

// UnloadHandler 卸载 session
func (h *EchoHandler) UnloadHandler(w http.ResponseWriter, r *http.Request) {
	unloaded := h.manager.Unload(r.Context(), mux.Vars(r)["id"], ListenerFromContext(r.Context()))
	writeJSON(w, http.StatusOK, map[string]bool{"unloaded": unloaded})
}

// WebSocketHandler 推送 echo 事件，并接收 select / location 消息
func (h *EchoHandler) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	collectionID := mux.Vars(r)["id"]
	listener := ListenerFromContext(r.Context())

	s, err := h.manager.Session(r.Context(), collectionID, listener)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	hub := h.manager.Hub()
	client := session.NewClient(hub, conn, s.Key)
	hub.Register(client)

	data, _ := json.Marshal(s.Group.Snapshot())
	client.SendMessage(&session.WSMessage{Type: session.MsgTypeSnapshot, Data: data})

	go client.WritePump()
	// 连接的生命周期与请求无关
	go client.ReadPump(context.Background(), h.manager.HandleMessage)

	logger.Info("websocket connected", logger.String("session", s.Key))
}

// RegisterRoutes 注册路由
func (h *EchoHandler) RegisterRoutes(router *mux.Router, auth *Authenticator) {
	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth.Middleware)
	api.HandleFunc("/collections", h.ListCollectionsHandler).Methods(http.MethodGet)
	api.HandleFunc("/collections/{id}/echoes", h.EchoesHandler).Methods(http.MethodGet)
	api.HandleFunc("/collections/{id}/location", h.LocationHandler).Methods(http.MethodPost)
	api.HandleFunc("/collections/{id}/echoes/{echoId}/select", h.SelectHandler).Methods(http.MethodPost)
	api.HandleFunc("/collections/{id}/selection", h.ClearSelectionHandler).Methods(http.MethodDelete)
	api.HandleFunc("/collections/{id}/load", h.PreloadHandler).Methods(http.MethodPost)
	api.HandleFunc("/collections/{id}/unload", h.UnloadHandler).Methods(http.MethodPost)

	ws := router.PathPrefix("/ws").Subrouter()
	ws.Use(auth.Middleware)
	ws.HandleFunc("/collections/{id}", h.WebSocketHandler)
}
