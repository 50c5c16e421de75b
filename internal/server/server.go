package server

import (
	"net/http"
	"sync"
	"time"

	"cropsight/internal/auth"
	"cropsight/internal/config"
	"cropsight/internal/library"
	"cropsight/internal/middleware"
	"cropsight/internal/pipeline"
	"cropsight/internal/ws"
)

// Server exposes the analysis service over HTTP: run control and
// history, reports, live progress over WebSocket and an MJPEG preview of
// the frames being annotated.
type Server struct {
	runner    *pipeline.Runner
	detector  pipeline.DetectorTracker
	library   *library.Library
	config    *config.Manager
	auth      *auth.Authenticator
	hub       *ws.Hub
	preview   *Preview
	startedAt time.Time

	// startMu serializes run admission so a second start request gets a
	// clean 409 instead of racing the runner's own gate
	startMu sync.Mutex
	running bool
}

// New wires the service together and subscribes the event bridge to the
// runner's bus
func New(runner *pipeline.Runner, detector pipeline.DetectorTracker, lib *library.Library, cfg *config.Manager, authenticator *auth.Authenticator) *Server {
	s := &Server{
		runner:    runner,
		detector:  detector,
		library:   lib,
		config:    cfg,
		auth:      authenticator,
		hub:       ws.NewHub(),
		preview:   NewPreview(),
		startedAt: time.Now(),
	}

	runner.Bus().Subscribe(NewBridge(s.hub, s.preview))
	return s
}

// Hub returns the WebSocket hub
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// Handler returns the HTTP routing for the service
func (s *Server) Handler() http.Handler {
	requireAuth := middleware.AuthMiddleware(s.auth)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.Handle("PUT /api/config", requireAuth(http.HandlerFunc(s.handleUpdateConfig)))

	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.Handle("POST /api/runs", requireAuth(http.HandlerFunc(s.handleStartRun)))
	mux.HandleFunc("GET /api/runs/active", s.handleActiveRun)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.Handle("DELETE /api/runs/{id}", requireAuth(http.HandlerFunc(s.handleDeleteRun)))
	mux.HandleFunc("GET /api/runs/{id}/report", s.handleReport)

	mux.Handle("/ws", ws.NewHandler(s.hub))
	mux.Handle("GET /preview", s.preview)

	return mux
}
