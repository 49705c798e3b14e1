package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/damian-maker/IA-KICK/internal/ledger"
	"github.com/damian-maker/IA-KICK/internal/media"
	"github.com/damian-maker/IA-KICK/internal/model"
	"github.com/damian-maker/IA-KICK/internal/playback"
)

// RunController is the runner surface the API drives.
type RunController interface {
	Pause()
	Resume()
	IsPaused() bool
	CurrentRun() string
	StopCurrent() bool
}

// SessionState reports whether a run is being processed.
type SessionState interface {
	Busy() bool
}

// ModelStatus reports the loaded model bundles.
type ModelStatus interface {
	Status() []model.Status
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port       int
	Version    string
	Ledger     *ledger.Service
	Repository ledger.Repository
	Session    SessionState
	Runner     RunController
	Models     ModelStatus
	Doctor     *media.Doctor
	Playback   playback.ClipServer
	Logger     *slog.Logger
	StartTime  time.Time
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
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
