package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ostiary-io/ostiary-core/internal/audit"
	"github.com/ostiary-io/ostiary-core/internal/auth"
	"github.com/ostiary-io/ostiary-core/internal/cabinet"
	"github.com/ostiary-io/ostiary-core/internal/door"
	"github.com/ostiary-io/ostiary-core/internal/hardware"
	"github.com/ostiary-io/ostiary-core/internal/infrastructure/config"
	"github.com/ostiary-io/ostiary-core/internal/infrastructure/logging"
	"github.com/ostiary-io/ostiary-core/internal/infrastructure/mqtt"
	"github.com/ostiary-io/ostiary-core/internal/occupancy"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	WS          config.WebSocketConfig
	Security    config.SecurityConfig
	SiteID      string
	Logger      *logging.Logger
	Doors       *door.Registry
	Engine      *occupancy.Engine
	Queue       *hardware.Queue
	Tokens      *hardware.TokenIssuer
	CabinetRepo cabinet.Repository
	UserRepo    auth.UserRepository
	TokenRepo   auth.TokenRepository
	AuditRepo   audit.Repository
	MQTT        *mqtt.Client // optional: door state mirrored to the bus when set
	ExternalHub *Hub         // if set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP API server for Ostiary Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	siteID      string
	logger      *logging.Logger
	doors       *door.Registry
	engine      *occupancy.Engine
	queue       *hardware.Queue
	tokens      *hardware.TokenIssuer
	cabinetRepo cabinet.Repository
	userRepo    auth.UserRepository
	tokenRepo   auth.TokenRepository
	auditRepo   audit.Repository
	auditCh     chan *audit.AuditLog
	mqtt        *mqtt.Client
	version     string
	server      *http.Server
	hub         *Hub
	wsTickets   *ticketStore
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Doors == nil {
		return nil, fmt.Errorf("door registry is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("occupancy engine is required")
	}
	// MQTT is optional: QUEUED controllers can poll over HTTP and the
	// WebSocket hub still broadcasts state changes.

	s := &Server{
		cfg:         deps.Config,
		wsCfg:       deps.WS,
		secCfg:      deps.Security,
		siteID:      deps.SiteID,
		logger:      deps.Logger,
		doors:       deps.Doors,
		engine:      deps.Engine,
		queue:       deps.Queue,
		tokens:      deps.Tokens,
		cabinetRepo: deps.CabinetRepo,
		userRepo:    deps.UserRepo,
		tokenRepo:   deps.TokenRepo,
		auditRepo:   deps.AuditRepo,
		mqtt:        deps.MQTT,
		version:     deps.Version,
		wsTickets:   newTicketStore(),
	}

	if deps.AuditRepo != nil {
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
	}

	// Use externally-provided hub if available (needed when the engine's
	// event publisher also requires the hub for WebSocket broadcasting).
	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	}

	return s, nil
}

// Hub returns the server's WebSocket hub, creating it if necessary.
// Used to wire the occupancy event publisher before Start().
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub and background workers,
// and launches the HTTP listener in a goroutine. The server is stopped
// with Close().
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	// Create WebSocket hub (unless one was injected externally)
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	// Periodic ticket cleanup to prevent memory leaks
	go s.wsTickets.cleanLoop(srvCtx)

	// Serial audit log writer
	if s.auditCh != nil {
		go s.drainAuditLog(srvCtx)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub, ticket cleanup, audit drain)
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
