package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/swarmops/coordhub/bus"
	"github.com/swarmops/coordhub/config"
	"github.com/swarmops/coordhub/distribute"
	"github.com/swarmops/coordhub/registry"
	"github.com/swarmops/coordhub/snapshot"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Pools = map[string]float64{"compute": 3}
	return cfg
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h, err := New(Options{Config: testConfig()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestRegisterAndDuplicate(t *testing.T) {
	h := newTestHub(t)

	if err := h.Register("worker-1", []string{"go"}, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.Register("worker-1", []string{"go"}, nil); err == nil {
		t.Fatal("duplicate Register succeeded, want error")
	}

	agents, err := h.Agents(nil)
	if err != nil {
		t.Fatalf("Agents: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("got %d agents, want 1", len(agents))
	}
	if agents[0].Status != registry.StatusIdle {
		t.Errorf("status = %q, want idle", agents[0].Status)
	}
}

func TestUnregisterReleasesEverything(t *testing.T) {
	h := newTestHub(t)

	if err := h.Register("worker-1", []string{"go"}, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := h.RequestResource("worker-1", "compute", 2, time.Minute); err != nil {
		t.Fatalf("RequestResource: %v", err)
	}

	if err := h.Unregister("worker-1"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	if util := h.ResourceUtilization()["compute"]; util != 0 {
		t.Errorf("compute utilization after unregister = %v, want 0", util)
	}
	agents, err := h.Agents(nil)
	if err != nil {
		t.Fatalf("Agents: %v", err)
	}
	if len(agents) != 0 {
		t.Errorf("got %d agents after unregister, want 0", len(agents))
	}
	if err := h.Unregister("worker-1"); err == nil {
		t.Error("Unregister of unknown agent succeeded, want error")
	}
}

func TestResourceNegotiationReclaimsFromIdleHolder(t *testing.T) {
	h := newTestHub(t)

	if err := h.Register("holder", nil, nil); err != nil {
		t.Fatalf("Register holder: %v", err)
	}
	if err := h.Register("requester", nil, nil); err != nil {
		t.Fatalf("Register requester: %v", err)
	}

	if _, err := h.RequestResource("holder", "compute", 2, time.Minute); err != nil {
		t.Fatalf("holder request: %v", err)
	}

	// Pool limit 3, holder has 2, requester wants 2: negotiation takes
	// 1 back from the idle holder.
	lock, err := h.RequestResource("requester", "compute", 2, time.Minute)
	if err != nil {
		t.Fatalf("requester negotiation failed: %v", err)
	}
	if lock.Amount != 2 {
		t.Errorf("granted amount = %v, want 2", lock.Amount)
	}

	snap := h.Metrics()
	if snap.NegotiationConflicts != 1 {
		t.Errorf("conflicts = %d, want 1", snap.NegotiationConflicts)
	}

	// The reclaimed holder is alerted.
	msgs, err := h.ReceiveMessages("holder", 10)
	if err != nil {
		t.Fatalf("ReceiveMessages: %v", err)
	}
	var alerted bool
	for _, m := range msgs {
		if m.Type == bus.TypeAlert {
			alerted = true
		}
	}
	if !alerted {
		t.Error("holder received no reclamation alert")
	}
}

func TestSubmitTaskPicksLeastLoaded(t *testing.T) {
	h := newTestHub(t)

	if err := h.Register("busy", []string{"go"}, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.Register("free", []string{"go"}, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.UpdateStatus("busy", registry.StatusWorking, 0.8); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	assignment, err := h.SubmitTask(distribute.TaskSpec{
		Type: "review", Required: []string{"go"}, EstimatedLoad: 0.2,
	})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	if assignment.Agent != "free" {
		t.Errorf("assigned to %q, want free", assignment.Agent)
	}

	msgs, err := h.ReceiveMessages("free", 10)
	if err != nil {
		t.Fatalf("ReceiveMessages: %v", err)
	}
	var assigned bool
	for _, m := range msgs {
		if m.Type == bus.TypeTaskAssignment {
			assigned = true
		}
	}
	if !assigned {
		t.Error("chosen agent received no task_assignment message")
	}
}

func TestSubmitTaskNoCapableAgent(t *testing.T) {
	h := newTestHub(t)

	if err := h.Register("worker-1", []string{"go"}, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := h.SubmitTask(distribute.TaskSpec{
		Type: "deploy", Required: []string{"kubernetes"},
	}); err == nil {
		t.Fatal("SubmitTask with unmet capability succeeded, want error")
	}

	snap := h.Metrics()
	if snap.CoordinationFailed != 1 {
		t.Errorf("coordination failures = %d, want 1", snap.CoordinationFailed)
	}
}

func TestDispatcherServesResourceRequestMessages(t *testing.T) {
	h := newTestHub(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer h.Stop()

	if err := h.Register("worker-1", nil, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	payload, err := bus.EncodePayload(bus.ResourceRequestPayload{
		Kind: "compute", Amount: 1, DurationSeconds: 60,
	})
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	if _, err := h.SendMessage("worker-1", distribute.HubSender, bus.TypeResourceRequest, payload, bus.PriorityNormal); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	var response *bus.Message
	ok := waitFor(t, 2*time.Second, func() bool {
		msgs, err := h.ReceiveMessages("worker-1", 10)
		if err != nil {
			return false
		}
		for _, m := range msgs {
			if m.Type == bus.TypeResourceResponse {
				response = m
				return true
			}
		}
		return false
	})
	if !ok {
		t.Fatal("no resource_response delivered")
	}

	var granted bus.ResourceResponsePayload
	if err := bus.DecodePayload(response, &granted); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if !granted.Granted || granted.LockID == "" {
		t.Errorf("response = %+v, want granted with lock id", granted)
	}
}

func TestBroadcastDeliveredOncePerAgent(t *testing.T) {
	h := newTestHub(t)

	if err := h.Register("a", nil, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.Register("b", nil, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	payload, _ := bus.EncodePayload(bus.AlertPayload{Reason: "drill"})
	if _, err := h.SendMessage("a", bus.Broadcast, bus.TypeAlert, payload, bus.PriorityNormal); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	countAlerts := func(agent string) int {
		msgs, err := h.ReceiveMessages(agent, 10)
		if err != nil {
			t.Fatalf("ReceiveMessages(%s): %v", agent, err)
		}
		n := 0
		for _, m := range msgs {
			if m.Type == bus.TypeAlert {
				n++
			}
		}
		return n
	}

	if n := countAlerts("b"); n != 1 {
		t.Errorf("b saw %d alerts, want 1", n)
	}
	if n := countAlerts("b"); n != 0 {
		t.Errorf("b saw %d alerts on second check, want 0 (no redelivery)", n)
	}
}

func TestSnapshotRestoreBringsAgentsBackOffline(t *testing.T) {
	store := snapshot.NewMemoryStore()

	h, err := New(Options{Config: testConfig(), Snapshots: store})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := h.Register("worker-1", []string{"go"}, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := h.SubmitTask(distribute.TaskSpec{Type: "review", Required: []string{"go"}}); err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	if err := h.saveSnapshot(); err != nil {
		t.Fatalf("saveSnapshot: %v", err)
	}

	restored, err := New(Options{Config: testConfig(), Snapshots: store})
	if err != nil {
		t.Fatalf("New (restore): %v", err)
	}

	agents, err := restored.Agents(nil)
	if err != nil {
		t.Fatalf("Agents: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("restored %d agents, want 1", len(agents))
	}
	if agents[0].Status != registry.StatusOffline {
		t.Errorf("restored status = %q, want offline until first heartbeat", agents[0].Status)
	}

	if tasks := restored.tasks.List(""); len(tasks) != 1 {
		t.Errorf("restored %d tasks, want 1", len(tasks))
	}

	// Locks never survive a restart.
	if util := restored.ResourceUtilization()["compute"]; util != 0 {
		t.Errorf("restored utilization = %v, want 0", util)
	}
}

func TestLivenessTimeoutReclaimsLocks(t *testing.T) {
	h := newTestHub(t)

	if err := h.Register("silent", nil, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.Register("observer", nil, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := h.RequestResource("silent", "compute", 2, time.Hour); err != nil {
		t.Fatalf("RequestResource: %v", err)
	}

	// No heartbeat arrives; check liveness as if the threshold passed.
	later := time.Now().Add(h.cfg.OfflineThreshold + time.Second)
	marked := h.monitor.CheckOnce(later)
	if len(marked) != 2 {
		t.Fatalf("marked = %v, want both agents offline", marked)
	}

	agents, err := h.Agents(&registry.Filter{Status: registry.StatusOffline})
	if err != nil {
		t.Fatalf("Agents: %v", err)
	}
	if len(agents) != 2 {
		t.Errorf("got %d offline agents, want 2", len(agents))
	}

	if allocated := h.resources.AgentAllocated("silent", "compute"); allocated != 0 {
		t.Errorf("silent still holds %v compute, want 0", allocated)
	}
	if h.Metrics().AgentsMarkedOffline != 2 {
		t.Errorf("offline counter = %d, want 2", h.Metrics().AgentsMarkedOffline)
	}

	// A fresh heartbeat revives the agent for new work.
	if err := h.Heartbeat("silent"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	agent, err := h.registry.Get("silent")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if agent.Status != registry.StatusIdle {
		t.Errorf("status after heartbeat = %q, want idle", agent.Status)
	}
}

func TestExecutionOrderRespectsDependencies(t *testing.T) {
	h := newTestHub(t)

	for _, name := range []string{"a", "b", "c"} {
		if err := h.Register(name, nil, nil); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}
	h.DependOn("b", "a")
	h.DependOn("c", "b")

	order, stuck := h.ExecutionOrder()
	if len(stuck) != 0 {
		t.Fatalf("stuck = %v, want none", stuck)
	}
	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	if !(pos["a"] < pos["b"] && pos["b"] < pos["c"]) {
		t.Errorf("order = %v, want a before b before c", order)
	}
}

func TestDependencyCycleReportsStuck(t *testing.T) {
	h := newTestHub(t)

	if err := h.Register("a", nil, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := h.Register("b", nil, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	h.DependOn("a", "b")
	h.DependOn("b", "a")

	_, stuck := h.ExecutionOrder()
	if len(stuck) != 2 {
		t.Errorf("stuck = %v, want both cycle members", stuck)
	}
	if h.Metrics().DependencyCycles == 0 {
		t.Error("cycle not counted in telemetry")
	}
}

// recordingBridge stands in for the NATS bridge and captures mirrored
// messages.
type recordingBridge struct {
	mu       sync.Mutex
	mirrored []*bus.Message
}

func (b *recordingBridge) Start() error { return nil }
func (b *recordingBridge) Close() error { return nil }

func (b *recordingBridge) Mirror(msg *bus.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mirrored = append(b.mirrored, msg)
	return nil
}

func (b *recordingBridge) byType(msgType bus.MessageType) []*bus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*bus.Message
	for _, msg := range b.mirrored {
		if msg.Type == msgType {
			out = append(out, msg)
		}
	}
	return out
}

func TestBridgeMirrorsInternalSends(t *testing.T) {
	h := newTestHub(t)
	br := &recordingBridge{}
	h.bridge = br

	if err := h.Register("worker", []string{"deploy"}, nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	assignment, err := h.SubmitTask(distribute.TaskSpec{Type: "release", Required: []string{"deploy"}})
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}

	// The assignment is hub-originated yet delivered over the bridge too,
	// so an executor attached only via NATS still sees it.
	assignments := br.byType(bus.TypeTaskAssignment)
	if len(assignments) != 1 {
		t.Fatalf("mirrored %d task assignments, want 1", len(assignments))
	}
	if assignments[0].To != "worker" {
		t.Errorf("mirrored To = %q, want worker", assignments[0].To)
	}
	var payload bus.AssignmentPayload
	if err := bus.DecodePayload(assignments[0], &payload); err != nil {
		t.Fatalf("decode mirrored payload: %v", err)
	}
	if payload.TaskID != assignment.TaskID {
		t.Errorf("mirrored task id = %q, want %q", payload.TaskID, assignment.TaskID)
	}
}
