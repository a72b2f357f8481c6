package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/fieldmesh/internal/controller"
	"github.com/nerrad567/fieldmesh/internal/device"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/config"
	"github.com/nerrad567/fieldmesh/internal/infrastructure/logging"
	"github.com/nerrad567/fieldmesh/internal/readings"
	"github.com/nerrad567/fieldmesh/internal/registry"
	"github.com/nerrad567/fieldmesh/internal/transport"
)

// LoopStats reports controller loop counters.
type LoopStats interface {
	Stats() controller.Stats
}

// ConnectionStatus reports whether an optional broker link is up.
type ConnectionStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Addr     string
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	Registry *registry.Registry
	Store    readings.Store
	Loop     LoopStats
	Self     device.Describer
	MQTT     ConnectionStatus // optional
	Hub      *Hub             // optional; created when nil
	Version  string
}

// Server is the controller's HTTP API.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	registry  *registry.Registry
	store     readings.Store
	loop      LoopStats
	self      device.Describer
	mqtt      ConnectionStatus
	hub       *Hub
	ownsHub   bool
	version   string
	startTime time.Time

	http   *transport.Server
	cancel context.CancelFunc
}

// New creates the server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("api: logger is required")
	case deps.Registry == nil:
		return nil, errors.New("api: registry is required")
	case deps.Store == nil:
		return nil, errors.New("api: reading store is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger.With("component", "api"),
		registry:  deps.Registry,
		store:     deps.Store,
		loop:      deps.Loop,
		self:      deps.Self,
		mqtt:      deps.MQTT,
		hub:       deps.Hub,
		version:   deps.Version,
		startTime: time.Now(),
	}
	if s.hub == nil {
		s.hub = NewHub(deps.WS, s.logger)
		s.ownsHub = true
	}

	s.http = transport.NewServer(transport.ServerConfig{
		Addr:         deps.Addr,
		ReadTimeout:  time.Duration(deps.Config.Timeouts.Read) * time.Second,
		WriteTimeout: time.Duration(deps.Config.Timeouts.Write) * time.Second,
		IdleTimeout:  time.Duration(deps.Config.Timeouts.Idle) * time.Second,
	}, s.Handler(), s.logger)

	return s, nil
}

// Hub returns the WebSocket hub, for wiring into the controller loop.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and starts the hub.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.ownsHub {
		go s.hub.Run(srvCtx)
	}

	if err := s.http.Start(srvCtx); err != nil {
		s.cancel()
		return fmt.Errorf("starting API server: %w", err)
	}
	s.logger.Info("API server listening", "address", s.http.Addr())
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	return s.http.Addr()
}

// Close stops the hub and shuts the listener down gracefully.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("API server shutting down")
	return s.http.Close()
}
