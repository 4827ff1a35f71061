package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/asynkron/protoactor-go/actor"

	"github.com/nerrad567/gray-logic-iot/internal/bridges/sensor"
	"github.com/nerrad567/gray-logic-iot/internal/device"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/logging"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceService is the device facade the handlers call. Satisfied by
// *device.Service.
type DeviceService interface {
	TrackDevice(ctx context.Context, groupID, deviceID string) (*actor.PID, error)
	ListDevices(ctx context.Context, groupID string) (device.DeviceList, error)
	QueryAllTemperatures(ctx context.Context, groupID string, timeout time.Duration) (device.QueryResult, error)
	RecordTemperature(ctx context.Context, groupID, deviceID string, value float64) error
	ReadTemperature(ctx context.Context, groupID, deviceID string) (device.TemperatureReading, error)
	PassivateDevice(ctx context.Context, groupID, deviceID string) error
	PassivateGroup(ctx context.Context, groupID string) error
	QueryHistory(ctx context.Context, groupID string, limit int) ([]device.QueryLogEntry, error)
	Stats() device.Stats
}

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionState reports broker connectivity.
type ConnectionState interface {
	IsConnected() bool
}

// DBStatser exposes connection pool statistics. Satisfied by *database.DB.
type DBStatser interface {
	Stats() sql.DBStats
}

// BridgeMetrics exposes sensor bridge counters.
type BridgeMetrics interface {
	GetMetrics() sensor.Metrics
}

// Deps holds the dependencies of the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Devices DeviceService
	Version string

	// Hub is optional; New creates one when nil. Pass a shared hub when it
	// is also registered as a device event publisher.
	Hub *Hub

	// Optional collaborators used by /health and /metrics.
	Checks map[string]HealthChecker
	MQTT   ConnectionState
	DB     DBStatser
	Bridge BridgeMetrics
}

// Server is the HTTP API server.
//
// Thread Safety: All methods are safe for concurrent use.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	devices   DeviceService
	version   string
	hub       *Hub
	checks    map[string]HealthChecker
	mqtt      ConnectionState
	db        DBStatser
	bridge    BridgeMetrics
	startTime time.Time

	mu     sync.Mutex
	server *http.Server
	addr   string
	cancel context.CancelFunc
}

// New creates an API server. It does not listen until Start.
//
// Returns:
//   - error: If the logger or device service is missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device service is required")
	}

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.WS, deps.Logger)
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		devices:   deps.Devices,
		version:   deps.Version,
		hub:       hub,
		checks:    deps.Checks,
		mqtt:      deps.MQTT,
		db:        deps.DB,
		bridge:    deps.Bridge,
		startTime: time.Now(),
	}, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the router with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in the background. The hub runs
// until ctx is cancelled or Close is called.
//
// Returns:
//   - error: If the address cannot be bound
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	srvCtx, cancel := context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port))
	if err != nil {
		cancel()
		return fmt.Errorf("binding API listener: %w", err)
	}

	read := time.Duration(s.cfg.Timeouts.Read) * time.Second
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       read,
		ReadHeaderTimeout: read,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}
	s.addr = ln.Addr().String()
	s.cancel = cancel

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", s.addr)
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close stops the hub and shuts the listener down, waiting up to 10
// seconds for in-flight requests.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server is serving.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
