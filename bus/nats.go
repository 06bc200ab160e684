package bus

import (
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/swarmops/coordhub/logging"
)

// Subject layout for the NATS bridge.
const (
	// subjectOutPrefix carries hub-originated messages to remote executors,
	// one subject per recipient.
	subjectOutPrefix = "coordhub.msg."

	// subjectInbound receives messages from remote executors. The last
	// token is the intended hub recipient (or "broadcast").
	subjectInbound = "coordhub.inbound.>"
)

// BridgeConfig holds NATS bridge configuration.
type BridgeConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for identification.
	Name string

	// ReconnectWait is the time between reconnection attempts.
	ReconnectWait time.Duration

	// MaxReconnects limits reconnection attempts. -1 = unlimited.
	MaxReconnects int

	// ConnectTimeout for the initial connection.
	ConnectTimeout time.Duration
}

// DefaultBridgeConfig returns configuration with sensible defaults.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		URL:            nats.DefaultURL,
		Name:           "coordhub",
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1,
		ConnectTimeout: 5 * time.Second,
	}
}

// Bridge mirrors hub messages to NATS and injects inbound NATS messages
// into the hub bus, letting out-of-process executors participate.
type Bridge struct {
	conn    *nats.Conn
	ownConn bool
	bus     *PriorityBus
	log     *logging.Logger
	sub     *nats.Subscription
}

// NewBridge connects to NATS and attaches to the given bus.
func NewBridge(cfg BridgeConfig, b *PriorityBus, log *logging.Logger) (*Bridge, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if log == nil {
		log = logging.New()
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Bridge{
		conn:    conn,
		ownConn: true,
		bus:     b,
		log:     log.WithComponent("nats-bridge"),
	}, nil
}

// NewBridgeFromConn attaches a bridge to an existing NATS connection.
// The caller retains ownership of the connection.
func NewBridgeFromConn(conn *nats.Conn, b *PriorityBus, log *logging.Logger) *Bridge {
	if log == nil {
		log = logging.New()
	}
	return &Bridge{
		conn: conn,
		bus:  b,
		log:  log.WithComponent("nats-bridge"),
	}
}

// Start subscribes to inbound subjects and begins injecting messages into
// the hub bus.
func (br *Bridge) Start() error {
	sub, err := br.conn.Subscribe(subjectInbound, br.handleInbound)
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	br.sub = sub
	return nil
}

// handleInbound decodes a NATS message and injects it into the hub bus.
// Malformed messages are logged and dropped.
func (br *Bridge) handleInbound(nm *nats.Msg) {
	msg, err := UnmarshalMessage(nm.Data)
	if err != nil {
		br.log.Warn("dropping malformed inbound message", map[string]interface{}{
			"subject": nm.Subject,
			"error":   err.Error(),
		})
		return
	}

	// The subject's last token wins if the envelope left To empty.
	if msg.To == "" {
		if idx := strings.LastIndex(nm.Subject, "."); idx >= 0 {
			msg.To = nm.Subject[idx+1:]
		}
	}

	if _, err := br.bus.Send(msg.From, msg.To, msg.Type, msg.Payload, msg.Priority); err != nil {
		br.log.Warn("inbound message rejected by bus", map[string]interface{}{
			"from":  msg.From,
			"to":    msg.To,
			"error": err.Error(),
		})
	}
}

// Mirror publishes a hub message to the recipient's NATS subject so remote
// executors can observe it.
func (br *Bridge) Mirror(msg *Message) error {
	data, err := msg.Marshal()
	if err != nil {
		return err
	}
	return br.conn.Publish(subjectOutPrefix+msg.To, data)
}

// Close unsubscribes and, if the bridge opened the connection itself,
// closes it.
func (br *Bridge) Close() error {
	if br.sub != nil {
		br.sub.Unsubscribe()
	}
	if br.ownConn && br.conn != nil && !br.conn.IsClosed() {
		br.conn.Close()
	}
	return nil
}
