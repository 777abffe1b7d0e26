package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"mjpegsw/internal/camera"
	"mjpegsw/internal/config"
	"mjpegsw/internal/log"
	"mjpegsw/internal/stream"
)

// Server はHTTPサーバーとキャプチャループを管理する構造体
type Server struct {
	config     *config.Config
	store      *camera.FrameStore
	supervisor *camera.Supervisor
	encoder    *stream.CachingEncoder
	discovery  camera.Discovery
	logger     *slog.Logger

	engine     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// New は実デバイス用のバックエンドでServerを作成する
func New(cfg *config.Config) *Server {
	logger := log.L()
	return NewWithOpener(cfg, camera.NewSourceFactory(logger), camera.NewLinuxDiscovery(), logger)
}

// NewWithOpener は任意のOpenerとDiscoveryでServerを作成する
func NewWithOpener(cfg *config.Config, opener camera.Opener, discovery camera.Discovery, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	store := camera.NewFrameStore(cfg.Resolution(), cfg.Camera.Rotate)

	engine := gin.New()
	engine.Use(gin.Recovery())
	// リクエストログはdebugレベルの時だけ
	if log.ParseLevel(cfg.Log.Level) <= slog.LevelDebug {
		engine.Use(gin.Logger())
	}

	s := &Server{
		config:     cfg,
		store:      store,
		supervisor: camera.NewSupervisor(store, opener, cfg.SupervisorConfig(), logger.With("component", "supervisor")),
		encoder:    stream.NewCachingEncoder(stream.JPEGEncoder{Quality: cfg.Stream.Quality}),
		discovery:  discovery,
		logger:     logger,
		engine:     engine,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

// Handler はルーティング済みのhttp.Handlerを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Store はフレームの共有領域を返す
func (s *Server) Store() *camera.FrameStore {
	return s.store
}

// Supervisor はキャプチャループを返す
func (s *Server) Supervisor() *camera.Supervisor {
	return s.supervisor
}

// StartCapture はキャプチャループだけを開始する
func (s *Server) StartCapture(ctx context.Context) error {
	return s.supervisor.Start(ctx)
}

// Start はキャプチャループとHTTPサーバーを起動し、終了要求まで待つ
func (s *Server) Start(ctx context.Context) error {
	if err := s.StartCapture(ctx); err != nil {
		return err
	}

	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Info("HTTPサーバーを起動しています", "address", s.config.ServerAddress())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		s.logger.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.logger.Info("シグナルを受信しました", "signal", sig.String())
	case err := <-shutdownCh:
		_ = s.stopCapture()
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はキャプチャを止めてからサーバーをグレースフルにシャットダウンする
// 配信中のストリームはキャプチャ終了を検知して自ら終わる
func (s *Server) Shutdown() error {
	s.logger.Info("サーバーをシャットダウンしています...")

	captureErr := s.stopCapture()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}
	if captureErr != nil {
		return captureErr
	}

	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}

// stopCapture はキャプチャ終了を要求し、ループの終了を一定時間だけ待つ
func (s *Server) stopCapture() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()

	if err := s.supervisor.Stop(ctx); err != nil {
		s.logger.Warn("キャプチャの終了を待てませんでした", "error", err)
		return err
	}
	return nil
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.config.Server.ShutdownTimeout > 0 {
		return s.config.Server.ShutdownTimeout
	}
	return 5 * time.Second
}
