package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/grid/explainer/internal/engine"
	"github.com/grid/explainer/internal/jobs"
	"github.com/grid/explainer/internal/playback"
)

// RunService is the run history surface used by the handlers.
type RunService interface {
	Submit(ctx context.Context, query string) (*jobs.Run, error)
	Get(ctx context.Context, id string) (*jobs.Run, error)
	List(ctx context.Context, limit int) ([]*jobs.Run, error)
	Count(ctx context.Context, status string) (int, error)
}

// RunnerControl is the part of the background runner the API drives.
type RunnerControl interface {
	Pause()
	Resume()
	Wake()
	IsPaused() bool
	IsRunning() bool
	CurrentRunID() string
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port      int
	Version   string
	Service   RunService
	Runner    RunnerControl
	Config    ConfigStore
	Doctor    *engine.CachedDoctor
	Playback  playback.VideoServer
	Metrics   http.Handler
	Logger    *slog.Logger
	StartTime time.Time
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Video responses can take arbitrarily long.
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
