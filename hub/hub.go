package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/swarmops/coordhub/bus"
	"github.com/swarmops/coordhub/config"
	"github.com/swarmops/coordhub/distribute"
	"github.com/swarmops/coordhub/liveness"
	"github.com/swarmops/coordhub/logging"
	"github.com/swarmops/coordhub/registry"
	"github.com/swarmops/coordhub/resource"
	"github.com/swarmops/coordhub/snapshot"
	"github.com/swarmops/coordhub/telemetry"
)

// ErrNotStarted is returned by Stop when the hub was never started.
var ErrNotStarted = errors.New("hub not started")

// messageBridge mirrors hub traffic to an external broker. Satisfied by
// *bus.Bridge.
type messageBridge interface {
	Start() error
	Mirror(msg *bus.Message) error
	Close() error
}

// hubSender routes internal sends through SendMessage so hub-originated
// messages reach the bridge as well as the bus.
type hubSender struct{ h *Hub }

func (s hubSender) Send(from, to string, msgType bus.MessageType, payload json.RawMessage, priority int) (string, error) {
	return s.h.SendMessage(from, to, msgType, payload, priority)
}

// Options configures a Hub. Zero-value fields fall back to defaults:
// a fresh in-memory registry, a fresh metrics collector, no snapshots.
type Options struct {
	Config config.Config
	Logger *logging.Logger

	// Registry backing agent state. Nil uses a new MemoryRegistry.
	Registry registry.Registry

	// Snapshots enables state persistence when non-nil. The hub saves
	// periodically (per Config.Snapshot.Interval) and once on Stop, and
	// restores the newest snapshot during New.
	Snapshots snapshot.Store

	// Metrics collector. Nil uses a new collector with the default
	// latency window.
	Metrics *telemetry.Metrics

	// NATSConn attaches a bridge over an existing NATS connection,
	// mirroring direct messages outbound and injecting inbound ones.
	// Nil with Config.NATS.URL set makes the hub dial its own
	// connection; nil with no URL disables bridging.
	NATSConn *nats.Conn
}

// Hub is the coordination hub.
type Hub struct {
	cfg config.Config
	log *logging.Logger

	registry  registry.Registry
	bus       *bus.PriorityBus
	resources *resource.Coordinator
	tasks     *distribute.Distributor
	monitor   *liveness.Monitor
	metrics   *telemetry.Metrics
	snapshots snapshot.Store
	bridge    messageBridge

	dispatcher *bus.Dispatcher

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New wires a hub from its components. The returned hub is inert until
// Start is called; operations that do not need the background loops
// (register, send, request) work immediately.
func New(opts Options) (*Hub, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("hub config: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = logging.New()
	}

	reg := opts.Registry
	if reg == nil {
		reg = registry.NewMemoryRegistry()
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics(0)
	}

	h := &Hub{
		cfg:       cfg,
		log:       log.WithComponent("hub"),
		registry:  reg,
		metrics:   metrics,
		snapshots: opts.Snapshots,
	}

	h.bus = bus.NewPriorityBus(bus.Config{
		BroadcastRetention: cfg.BroadcastRetention,
		KnownRecipient:     h.knownRecipient,
		DispatchRecipient:  distribute.HubSender,
	})

	h.resources = resource.NewCoordinator(resource.Config{
		Limits:               cfg.Pools,
		LowWorkloadThreshold: cfg.LowWorkloadThreshold,
	}, reg, log)
	h.resources.OnConflict = metrics.RecordConflict
	h.resources.OnReclaim = h.notifyReclaim

	h.tasks = distribute.NewDistributor(reg, hubSender{h}, log)
	h.tasks.OnStuck = h.notifyStuck

	monitor, err := liveness.NewMonitor(liveness.Config{
		Registry:         reg,
		Reclaimer:        h.resources,
		Requeuer:         h.tasks,
		OfflineThreshold: cfg.OfflineThreshold,
		CheckInterval:    cfg.LivenessInterval,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("liveness monitor: %w", err)
	}
	monitor.OnOffline(h.agentWentOffline)
	h.monitor = monitor

	h.dispatcher = bus.NewDispatcher(h.bus, h.handlers(), log)
	h.dispatcher.OnHandled = h.messageHandled

	switch {
	case opts.NATSConn != nil:
		h.bridge = bus.NewBridgeFromConn(opts.NATSConn, h.bus, log)
	case cfg.NATS.URL != "":
		bridgeCfg := bus.DefaultBridgeConfig()
		bridgeCfg.URL = cfg.NATS.URL
		bridge, err := bus.NewBridge(bridgeCfg, h.bus, log)
		if err != nil {
			return nil, fmt.Errorf("nats bridge: %w", err)
		}
		h.bridge = bridge
	}

	if h.snapshots != nil {
		if err := h.restore(); err != nil {
			return nil, fmt.Errorf("restore snapshot: %w", err)
		}
	}

	return h, nil
}

// knownRecipient accepts registered agents and the hub itself.
func (h *Hub) knownRecipient(name string) bool {
	if name == distribute.HubSender {
		return true
	}
	_, err := h.registry.Get(name)
	return err == nil
}

// Start launches the background loops and returns immediately. Calling
// Start twice is an error.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return errors.New("hub already started")
	}
	h.started = true

	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.dispatcher.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.monitor.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.sweepLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.coordinationLoop(ctx)
	}()

	if h.snapshots != nil && h.cfg.Snapshot.Interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.snapshotLoop(ctx)
		}()
	}

	if h.bridge != nil {
		if err := h.bridge.Start(); err != nil {
			h.log.Error("nats bridge start failed", map[string]interface{}{"error": err.Error()})
		}
	}

	go func() {
		wg.Wait()
		close(h.done)
	}()

	h.log.Info("hub started")
	return nil
}

// Stop cancels the background loops, drains the dispatch queue, writes a
// final snapshot, and closes the components.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return ErrNotStarted
	}
	cancel := h.cancel
	done := h.done
	h.started = false
	h.mu.Unlock()

	cancel()
	<-done

	h.dispatcher.Drain()

	if h.snapshots != nil {
		if err := h.saveSnapshot(); err != nil {
			h.log.Error("final snapshot failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if h.bridge != nil {
		h.bridge.Close()
	}

	h.bus.Close()
	h.resources.Close()
	h.tasks.Close()
	err := h.registry.Close()

	h.log.Info("hub stopped")
	return err
}

// sweepLoop reclaims expired locks and refreshes the telemetry gauges.
func (h *Hub) sweepLoop(ctx context.Context) {
	interval := h.cfg.SweepInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			expired := h.resources.Sweep(now)
			for _, lock := range expired {
				h.log.Debug("lock expired", map[string]interface{}{
					"agent": lock.Agent, "kind": lock.Kind, "amount": lock.Amount,
				})
			}
			h.metrics.SetUtilization(h.resources.Utilization())
			h.metrics.SetActiveTasks(h.tasks.ActiveCount())
		}
	}
}

// coordinationLoop retries pending tasks as agents free up.
func (h *Hub) coordinationLoop(ctx context.Context) {
	interval := h.cfg.CoordinationInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if assigned := h.tasks.AssignPending(); assigned > 0 {
				h.log.Info("assigned pending tasks", map[string]interface{}{"count": assigned})
			}
		}
	}
}

func (h *Hub) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Snapshot.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.saveSnapshot(); err != nil {
				h.log.Error("snapshot failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// saveSnapshot captures the current hub state into the snapshot store.
func (h *Hub) saveSnapshot() error {
	agents, err := h.registry.List(nil)
	if err != nil {
		return err
	}

	state := &snapshot.State{
		Component: snapshot.Component,
		TakenAt:   time.Now(),
		Locks:     h.resources.Locks(),
		Metrics:   h.metrics.Snapshot(),
	}
	for _, a := range agents {
		state.Agents = append(state.Agents, *a)
	}
	for _, t := range h.tasks.List("") {
		state.Tasks = append(state.Tasks, *t)
	}
	return h.snapshots.Save(state)
}

// restore rebuilds hub state from the newest snapshot. Restored agents
// come back offline until their first heartbeat, and restored locks are
// discarded as expired; holders must re-request capacity.
func (h *Hub) restore() error {
	state, err := h.snapshots.Load()
	if err == snapshot.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	for i := range state.Agents {
		a := &state.Agents[i]
		if err := h.registry.Register(a.Name, a.Capabilities, a.Resources); err != nil {
			h.log.Warn("restore agent failed", map[string]interface{}{
				"agent": a.Name, "error": err.Error(),
			})
			continue
		}
		// No heartbeat survives a restart.
		_ = h.registry.MarkOffline(a.Name)
	}

	tasks := make([]*distribute.Task, 0, len(state.Tasks))
	for i := range state.Tasks {
		tasks = append(tasks, &state.Tasks[i])
	}
	h.tasks.Restore(tasks)

	h.metrics.Restore(state.Metrics)

	h.log.Info("state restored", map[string]interface{}{
		"agents":          len(state.Agents),
		"tasks":           len(state.Tasks),
		"locks_discarded": len(state.Locks),
		"taken_at":        state.TakenAt.Format(time.RFC3339),
	})
	return nil
}

// notifyReclaim alerts a holder that negotiation took part of its
// allocation.
func (h *Hub) notifyReclaim(agent, kind string, amount float64) {
	payload, err := bus.EncodePayload(bus.AlertPayload{
		Reason: "resource_reclaimed",
		Kind:   kind,
		Amount: amount,
	})
	if err != nil {
		return
	}
	if _, err := h.SendMessage(distribute.HubSender, agent, bus.TypeAlert, payload, bus.PriorityHigh); err != nil {
		h.log.Warn("reclaim alert failed", map[string]interface{}{
			"agent": agent, "error": err.Error(),
		})
	}
}

// notifyStuck broadcasts the agents trapped in a dependency cycle.
func (h *Hub) notifyStuck(stuck []string) {
	h.metrics.RecordCycle()
	payload, err := bus.EncodePayload(bus.AlertPayload{
		Reason: "dependency_cycle",
		Detail: fmt.Sprintf("stuck agents: %v", stuck),
	})
	if err != nil {
		return
	}
	_, _ = h.SendMessage(distribute.HubSender, bus.Broadcast, bus.TypeAlert, payload, bus.PriorityHigh)
}

// agentWentOffline reacts to the liveness monitor marking an agent dead.
func (h *Hub) agentWentOffline(agent string) {
	h.metrics.RecordOffline()
	h.tasks.RemoveDependencies(agent)

	payload, err := bus.EncodePayload(bus.AlertPayload{
		Reason: "agent_offline",
		Detail: agent,
	})
	if err != nil {
		return
	}
	_, _ = h.SendMessage(distribute.HubSender, bus.Broadcast, bus.TypeAlert, payload, bus.PriorityNormal)
}

// messageHandled feeds dispatch outcomes into telemetry.
func (h *Hub) messageHandled(msgType bus.MessageType, from string, elapsed time.Duration, err error) {
	h.metrics.RecordMessage(string(msgType), from)
	h.metrics.RecordHandlerLatency(elapsed)
	if err != nil {
		h.log.Warn("handler error", map[string]interface{}{
			"type": string(msgType), "from": from, "error": err.Error(),
		})
	}
}
