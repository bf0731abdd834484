package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/hid-climate-bridge/internal/bridges/hid"
	"github.com/nerrad567/hid-climate-bridge/internal/device"
	"github.com/nerrad567/hid-climate-bridge/internal/entry"
	"github.com/nerrad567/hid-climate-bridge/internal/flow"
	"github.com/nerrad567/hid-climate-bridge/internal/infrastructure/config"
	"github.com/nerrad567/hid-climate-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// EntryFlow runs config flow steps. *flow.Manager satisfies it.
type EntryFlow interface {
	UserStep(ctx context.Context, in flow.UserInput) (*flow.Result, error)
	RemoveEntry(ctx context.Context, id string) error
	DiscoveredDevices() []hid.DiscoveryPayload
}

// Topology reports the coordinator's live state. *hid.Coordinator satisfies it.
type Topology interface {
	Bridges() []hid.BridgeInfo
	PendingCount() int
	RegistrationState(e *entry.Entry) string
}

// DeviceLister lists registered controllers. *device.Registry satisfies it.
type DeviceLister interface {
	ListDevices() []device.Device
}

// ConnectionChecker reports broker connectivity. *mqtt.Client satisfies it.
type ConnectionChecker interface {
	IsConnected() bool
}

// DBStatser exposes connection pool statistics. *database.DB satisfies it.
type DBStatser interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Flow    EntryFlow
	Entries entry.Repository

	// Optional.
	Topology Topology
	Devices  DeviceLister
	MQTT     ConnectionChecker
	DB       DBStatser
	Metrics  http.Handler

	// Hub is used instead of creating one. The caller runs it.
	Hub *Hub

	Version string
}

// Server is the HTTP API server of the bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	flow     EntryFlow
	entries  entry.Repository
	topology Topology
	devices  DeviceLister
	mqtt     ConnectionChecker
	db       DBStatser
	metrics  http.Handler
	version  string

	server      *http.Server
	listener    net.Listener
	hub         *Hub
	externalHub bool
	startTime   time.Time
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Flow == nil {
		return nil, fmt.Errorf("config flow is required")
	}
	if deps.Entries == nil {
		return nil, fmt.Errorf("entry repository is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		flow:      deps.Flow,
		entries:   deps.Entries,
		topology:  deps.Topology,
		devices:   deps.Devices,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		metrics:   deps.Metrics,
		version:   deps.Version,
		hub:       deps.Hub,
		startTime: time.Now(),
	}
	if s.hub != nil {
		s.externalHub = true
	} else {
		s.hub = NewHub(s.wsCfg, s.logger)
	}

	return s, nil
}

// Hub returns the WebSocket hub used by the server.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// The listener is bound before Start returns, so a port conflict is reported
// to the caller. Connections are served in a background goroutine until
// Close.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", ln.Addr().String(),
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

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

// HealthCheck verifies the API server is running.
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
