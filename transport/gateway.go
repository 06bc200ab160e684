package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/swarmops/coordhub/bus"
	"github.com/swarmops/coordhub/distribute"
	"github.com/swarmops/coordhub/logging"
	"github.com/swarmops/coordhub/registry"
	"github.com/swarmops/coordhub/resource"
	"github.com/swarmops/coordhub/telemetry"
)

// Coordinator is the hub surface the gateway exposes. *hub.Hub
// implements it.
type Coordinator interface {
	Register(name string, capabilities []string, resources map[string]float64) error
	Unregister(name string) error
	Heartbeat(name string) error
	UpdateStatus(name string, status registry.Status, workload float64) error
	Agents(filter *registry.Filter) ([]*registry.Agent, error)
	SubmitTask(spec distribute.TaskSpec) (*distribute.Assignment, error)
	SendMessage(from, to string, msgType bus.MessageType, payload json.RawMessage, priority int) (string, error)
	ReceiveMessages(agent string, limit int) ([]*bus.Message, error)
	RequestResource(agent, kind string, amount float64, ttl time.Duration) (*resource.Lock, error)
	ReleaseResource(lockID string) error
	Metrics() telemetry.Snapshot
}

// Config holds gateway configuration.
type Config struct {
	// Addr is the listen address for Start (e.g., ":8700").
	Addr string

	// WriteTimeout for each outbound frame. Default: 10s.
	WriteTimeout time.Duration

	// PingInterval for keepalive pings. Default: 30s.
	PingInterval time.Duration

	// MaxMessageSize limits inbound frames. Default: 1MB.
	MaxMessageSize int64

	// SendBuffer is the per-connection outbound queue. Default: 64.
	SendBuffer int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 1024 * 1024,
		SendBuffer:     64,
	}
}

// Gateway accepts WebSocket connections and serves hub operations.
// It implements http.Handler, so it can be mounted on any mux.
type Gateway struct {
	cfg      Config
	coord    Coordinator
	log      *logging.Logger
	upgrader *websocket.Upgrader
	server   *http.Server
}

// NewGateway creates a gateway over the coordinator.
func NewGateway(cfg Config, coord Coordinator, log *logging.Logger) *Gateway {
	def := DefaultConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if log == nil {
		log = logging.New()
	}
	return &Gateway{
		cfg:   cfg,
		coord: coord,
		log:   log.WithComponent("transport"),
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs a session until the peer
// disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	s := newSession(g, conn)
	s.run()
}

// Start listens on Config.Addr and serves until Shutdown.
func (g *Gateway) Start() error {
	if g.cfg.Addr == "" {
		return errors.New("transport: no listen address configured")
	}
	g.server = &http.Server{Addr: g.cfg.Addr, Handler: g}
	g.log.Info("gateway listening", map[string]interface{}{"addr": g.cfg.Addr})

	err := g.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the listener and waits for in-flight requests.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}
