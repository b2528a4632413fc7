package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"echoes/cache"
	"echoes/config"
	"echoes/core/analytics"
	"echoes/core/player"
	"echoes/core/session"
	"echoes/db"
	"echoes/logger"
	"echoes/model"
	"echoes/repository"
	"echoes/storage"
	"echoes/tracing"

	"github.com/gorilla/mux"
)

// Version 服务版本
const Version = "0.3.0"

// corsMiddleware 允许任意来源访问 API
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter 组装路由
func NewRouter(handler *EchoHandler, auth *Authenticator) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
	}).Methods(http.MethodGet)
	handler.RegisterRoutes(router, auth)
	return router
}

// Backend 服务依赖，由 Open 根据配置创建
type Backend struct {
	Repo    repository.CollectionRepository
	Events  analytics.Store
	States  session.StateStore
	Media   *storage.MediaStore
	closers []func() error
}

// Close 按相反顺序关闭依赖
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Warn("failed to close backend", logger.ErrorField(err))
		}
	}
}

// Open 连接定义源、Redis 与 MinIO。定义文件优先于数据库；Redis 不可用时不保存状态
func Open(cfg *config.Config) (*Backend, error) {
	b := &Backend{}

	if cfg.DefinitionsFile != "" {
		repo, err := repository.NewFileCollectionRepository(cfg.DefinitionsFile)
		if err != nil {
			return nil, err
		}
		b.Repo = repo
		logger.Info("Using definitions file", logger.String("path", cfg.DefinitionsFile))
	} else {
		if err := db.ConnectGormDB(cfg); err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db.CloseGormDB)
		if err := db.AutoMigrateModels(); err != nil {
			b.Close()
			return nil, err
		}
		b.Repo = repository.NewGormCollectionRepository(db.GormDB)
		b.Events = repository.NewGormEventRepository(db.GormDB)
	}

	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Warn("Redis unavailable, session state will not persist", logger.ErrorField(err))
	} else {
		b.closers = append(b.closers, cache.CloseRedis)
		b.States = cache.NewStateCache(cfg.StateTTL)
	}

	media, err := storage.NewMediaStore(cfg)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.Media = media
	return b, nil
}

// NewFactory 根据配置创建播放器工厂
func NewFactory(cfg *config.Config, b *Backend, bus *player.Bus) *player.Factory {
	f := &player.Factory{Offline: cfg.Offline, Bus: bus, Clock: player.NewSyncClock(time.Now())}
	if b.Media != nil {
		f.Resolver = b.Media
	}
	return f
}

// Start 启动 HTTP 服务并阻塞到收到退出信号
func Start(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := tracing.Initialize(ctx, tracing.Config{
		ServiceName:    "echoes",
		ServiceVersion: Version,
		Exporter:       cfg.TraceExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	}); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(shutdownCtx)
	}()

	backend, err := Open(cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	var tracker analytics.Tracker = analytics.Discard
	if backend.Events != nil {
		rec := analytics.NewRecorder(backend.Events, analytics.DefaultConfig)
		rec.Start()
		defer rec.Stop()
		tracker = rec
	}

	bus := player.NewBus(player.DefaultSampleRate)
	go bus.Run(ctx, 20*time.Millisecond, nil)

	hub := session.NewHub()
	go hub.Run()
	defer hub.Stop()

	opts := []session.Option{session.WithTracker(tracker)}
	if backend.States != nil {
		opts = append(opts, session.WithStateStore(backend.States))
	}
	if cfg.Offline && backend.Media != nil {
		opts = append(opts, session.WithPrepare(func(ctx context.Context, c *model.Collection) error {
			n, err := backend.Media.DownloadCollection(ctx, c)
			logger.Info("Offline media ready", logger.CollectionID(c.ID), logger.String("size", storage.FormatSize(n)))
			return err
		}))
	}
	manager := session.NewManager(ctx, backend.Repo, NewFactory(cfg, backend, bus), hub, opts...)
	defer manager.Close(context.Background())

	if fileRepo, ok := backend.Repo.(repository.FileCollectionRepository); ok {
		err := WatchFile(ctx, fileRepo.Path(), func() {
			if err := fileRepo.Reload(); err != nil {
				logger.Warn("Failed to reload definitions", logger.ErrorField(err))
				return
			}
			if err := manager.Reload(ctx); err != nil {
				logger.Warn("Failed to rebuild sessions", logger.ErrorField(err))
			}
		})
		if err != nil {
			logger.Warn("Definitions hot reload disabled", logger.ErrorField(err))
		}
	}

	auth := NewAuthenticator(cfg.JWTSecret)
	if auth == nil {
		logger.Warn("JWT_SECRET not set, API is open to anonymous listeners")
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      NewRouter(NewEchoHandler(manager, backend.Repo), auth),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", logger.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}
