// Package telemetry aggregates passive counters and timings from the hub.
// It never mutates other components; everything arrives through record
// calls and leaves as a read-only snapshot.
package telemetry

import (
	"sync"
	"time"
)

// DefaultWindowSize bounds the handler latency sample window.
const DefaultWindowSize = 128

// Metrics collects hub counters. Safe for concurrent use.
type Metrics struct {
	mu sync.Mutex

	messagesByType   map[string]uint64
	messagesBySender map[string]uint64

	negotiationConflicts  uint64
	coordinationSucceeded uint64
	coordinationFailed    uint64
	agentsMarkedOffline   uint64
	dependencyCycles      uint64

	latencies   []time.Duration
	latencyIdx  int
	latencyFill int

	utilization map[string]float64
	activeTasks int
}

// NewMetrics creates an empty collector with the given latency window size.
// Zero or negative uses DefaultWindowSize.
func NewMetrics(windowSize int) *Metrics {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Metrics{
		messagesByType:   make(map[string]uint64),
		messagesBySender: make(map[string]uint64),
		latencies:        make([]time.Duration, windowSize),
		utilization:      make(map[string]float64),
	}
}

// RecordMessage counts one message by type and sender.
func (m *Metrics) RecordMessage(msgType, sender string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messagesByType[msgType]++
	m.messagesBySender[sender]++
}

// RecordConflict counts one resource negotiation conflict.
func (m *Metrics) RecordConflict() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.negotiationConflicts++
}

// RecordCoordination counts one coordination attempt by outcome.
func (m *Metrics) RecordCoordination(succeeded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if succeeded {
		m.coordinationSucceeded++
	} else {
		m.coordinationFailed++
	}
}

// RecordOffline counts one agent forced offline by the liveness monitor.
func (m *Metrics) RecordOffline() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agentsMarkedOffline++
}

// RecordCycle counts one dependency-cycle detection.
func (m *Metrics) RecordCycle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dependencyCycles++
}

// RecordHandlerLatency adds a sample to the bounded rolling window.
func (m *Metrics) RecordHandlerLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies[m.latencyIdx] = d
	m.latencyIdx = (m.latencyIdx + 1) % len(m.latencies)
	if m.latencyFill < len(m.latencies) {
		m.latencyFill++
	}
}

// SetUtilization replaces the per-kind utilization gauges.
func (m *Metrics) SetUtilization(util map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.utilization = make(map[string]float64, len(util))
	for k, v := range util {
		m.utilization[k] = v
	}
}

// SetActiveTasks replaces the active-task gauge.
func (m *Metrics) SetActiveTasks(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeTasks = n
}

// Snapshot is a read-only view of the collected metrics.
type Snapshot struct {
	MessagesByType   map[string]uint64 `json:"messages_by_type"`
	MessagesBySender map[string]uint64 `json:"messages_by_sender"`

	NegotiationConflicts  uint64 `json:"negotiation_conflicts"`
	CoordinationSucceeded uint64 `json:"coordination_succeeded"`
	CoordinationFailed    uint64 `json:"coordination_failed"`
	AgentsMarkedOffline   uint64 `json:"agents_marked_offline"`
	DependencyCycles      uint64 `json:"dependency_cycles"`

	// AvgHandlerLatency is the mean over the bounded sample window.
	AvgHandlerLatency time.Duration `json:"avg_handler_latency_ns"`

	Utilization map[string]float64 `json:"utilization"`
	ActiveTasks int                `json:"active_tasks"`

	TakenAt time.Time `json:"taken_at"`
}

// Snapshot returns a deep-copied view of the current counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		MessagesByType:        make(map[string]uint64, len(m.messagesByType)),
		MessagesBySender:      make(map[string]uint64, len(m.messagesBySender)),
		NegotiationConflicts:  m.negotiationConflicts,
		CoordinationSucceeded: m.coordinationSucceeded,
		CoordinationFailed:    m.coordinationFailed,
		AgentsMarkedOffline:   m.agentsMarkedOffline,
		DependencyCycles:      m.dependencyCycles,
		Utilization:           make(map[string]float64, len(m.utilization)),
		ActiveTasks:           m.activeTasks,
		TakenAt:               time.Now(),
	}
	for k, v := range m.messagesByType {
		snap.MessagesByType[k] = v
	}
	for k, v := range m.messagesBySender {
		snap.MessagesBySender[k] = v
	}
	for k, v := range m.utilization {
		snap.Utilization[k] = v
	}

	if m.latencyFill > 0 {
		var total time.Duration
		for i := 0; i < m.latencyFill; i++ {
			total += m.latencies[i]
		}
		snap.AvgHandlerLatency = total / time.Duration(m.latencyFill)
	}
	return snap
}

// Restore reloads counters from a persisted snapshot. The latency window
// starts empty; only durable counters carry over.
func (m *Metrics) Restore(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messagesByType = make(map[string]uint64, len(snap.MessagesByType))
	for k, v := range snap.MessagesByType {
		m.messagesByType[k] = v
	}
	m.messagesBySender = make(map[string]uint64, len(snap.MessagesBySender))
	for k, v := range snap.MessagesBySender {
		m.messagesBySender[k] = v
	}
	m.negotiationConflicts = snap.NegotiationConflicts
	m.coordinationSucceeded = snap.CoordinationSucceeded
	m.coordinationFailed = snap.CoordinationFailed
	m.agentsMarkedOffline = snap.AgentsMarkedOffline
	m.dependencyCycles = snap.DependencyCycles
}
