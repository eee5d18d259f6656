// Package api serves the anchor watch over HTTP and websocket
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/anchorwatch/anchorwatch/pkg"
	"github.com/anchorwatch/anchorwatch/pkg/alarm"
	"github.com/anchorwatch/anchorwatch/pkg/bottom"
	"github.com/anchorwatch/anchorwatch/pkg/health"
	"github.com/anchorwatch/anchorwatch/pkg/logx"
	"github.com/anchorwatch/anchorwatch/pkg/telem"
	"github.com/anchorwatch/anchorwatch/pkg/watch"
)

// Watcher is the watch controller as seen by the API
type Watcher interface {
	Arm(ctx context.Context, req watch.ArmRequest) (*alarm.Transition, error)
	Disarm(ctx context.Context) (*alarm.Transition, error)
	Status() watch.View
	SessionKey() string
	UpdateSettings(s pkg.AppSettings) error
}

// Store is the persistent state the API reads and writes
type Store interface {
	AddObservation(ctx context.Context, obs pkg.BottomObservation) (int64, error)
	ListSessions(ctx context.Context, limit int) ([]pkg.AnchoringSession, error)
	GetSession(ctx context.Context, id int64) (*pkg.AnchoringSession, error)
	TrackPoints(ctx context.Context, sessionID int64) ([]pkg.TrackPoint, error)
	SaveSettings(ctx context.Context, settings pkg.AppSettings) error
}

// SettingsWriter persists settings to the router configuration
type SettingsWriter interface {
	SaveSettings(ctx context.Context, s pkg.AppSettings) error
}

// EventJournal answers event history queries
type EventJournal interface {
	Query(since time.Time, types []string, limit int) ([]pkg.Event, error)
}

// PredictionRecorder counts served predictions
type PredictionRecorder interface {
	RecordPrediction(bottomType string)
}

// Deps are the collaborators of the server. Watch and Observations are required.
type Deps struct {
	Watch        Watcher
	Store        Store
	Observations *bottom.Log
	Telemetry    *telem.Store
	Health       *health.Tracker
	Hub          *Hub
	Journal      EventJournal
	Config       SettingsWriter
	Metrics      PredictionRecorder
}

// Server is the HTTP API
type Server struct {
	deps   Deps
	logger *logx.Logger
	engine *gin.Engine
	server *http.Server

	mu       sync.RWMutex
	settings pkg.AppSettings
}

// New builds the router. settings are the settings currently in effect.
func New(deps Deps, settings pkg.AppSettings, logger *logx.Logger) (*Server, error) {
	if deps.Watch == nil || deps.Observations == nil {
		return nil, errors.New("api server needs a watch controller and an observation log")
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(logger)
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{deps: deps, logger: logger, settings: settings}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	r.GET("/health", s.handleHealth)
	r.GET("/health/live", s.handleLive)
	r.GET("/ws", s.handleWS)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/watch", s.handleWatchStatus)
		apiGroup.POST("/watch/arm", s.handleArm)
		apiGroup.POST("/watch/disarm", s.handleDisarm)
		apiGroup.GET("/watch/track", s.handleTrack)
		apiGroup.GET("/events", s.handleEvents)
		apiGroup.GET("/events/history", s.handleEventHistory)
		apiGroup.GET("/telemetry/dump", s.handleTelemetryDump)

		apiGroup.GET("/bottom/predict", s.handlePredict)
		apiGroup.GET("/bottom/heatmap", s.handleHeatmap)
		apiGroup.POST("/bottom/observations", s.handleAddObservations)

		apiGroup.GET("/scope", s.handleScope)

		apiGroup.GET("/sessions", s.handleListSessions)
		apiGroup.GET("/sessions/:id/export", s.handleExport)

		apiGroup.GET("/settings", s.handleGetSettings)
		apiGroup.PUT("/settings", s.handlePutSettings)
	}

	s.engine = r
	return s, nil
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Hub returns the websocket hub the watch controller broadcasts to
func (s *Server) Hub() *Hub {
	return s.deps.Hub
}

// Start listens on addr in the background
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", "listen", addr)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Stop closes websocket clients and shuts the listener down
func (s *Server) Stop(ctx context.Context) error {
	s.deps.Hub.Close()
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown api server: %w", err)
	}
	return nil
}

func requestLogger(logger *logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) currentSettings() pkg.AppSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}
