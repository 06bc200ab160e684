package hub

import (
	"errors"
	"time"

	"github.com/swarmops/coordhub/bus"
	"github.com/swarmops/coordhub/distribute"
	"github.com/swarmops/coordhub/registry"
	"github.com/swarmops/coordhub/resource"
)

// handlers wires the dispatch table. Types with a nil handler carry no
// hub-side processing; their recipients poll them via Receive.
func (h *Hub) handlers() bus.Handlers {
	return bus.Handlers{
		ResourceRequest: h.handleResourceRequest,
		StatusUpdate:    h.handleStatusUpdate,
		Heartbeat:       h.handleHeartbeat,
		Result:          h.handleResult,
		Discovery:       h.handleDiscovery,
	}
}

// handleResourceRequest serves allocation requests sent as messages and
// answers with a resource_response addressed to the requester.
func (h *Hub) handleResourceRequest(msg *bus.Message) error {
	var req bus.ResourceRequestPayload
	if err := bus.DecodePayload(msg, &req); err != nil {
		return err
	}

	ttl := time.Duration(req.DurationSeconds) * time.Second
	lock, err := h.resources.Request(msg.From, req.Kind, req.Amount, ttl)
	h.metrics.SetUtilization(h.resources.Utilization())

	response := bus.ResourceResponsePayload{Granted: err == nil}
	if lock != nil {
		response.LockID = lock.ID
	}
	var capErr *resource.CapacityError
	if errors.As(err, &capErr) {
		response.Shortfall = capErr.Shortfall
	}

	payload, encErr := bus.EncodePayload(response)
	if encErr != nil {
		return encErr
	}
	_, sendErr := h.SendMessage(distribute.HubSender, msg.From, bus.TypeResourceResponse, payload, bus.PriorityHigh)
	return sendErr
}

// handleStatusUpdate applies an agent's self-reported status and
// workload. The update also counts as a heartbeat.
func (h *Hub) handleStatusUpdate(msg *bus.Message) error {
	var status bus.StatusPayload
	if err := bus.DecodePayload(msg, &status); err != nil {
		return err
	}
	return h.registry.UpdateStatus(msg.From, registry.Status(status.Status), status.Workload)
}

// handleHeartbeat refreshes the sender's liveness.
func (h *Hub) handleHeartbeat(msg *bus.Message) error {
	return h.registry.Heartbeat(msg.From)
}

// handleResult closes out a finished task and frees the assignee's
// workload.
func (h *Hub) handleResult(msg *bus.Message) error {
	var result bus.ResultPayload
	if err := bus.DecodePayload(msg, &result); err != nil {
		return err
	}
	if result.Error != "" {
		h.log.Warn("task failed", map[string]interface{}{
			"task": result.TaskID, "agent": msg.From, "error": result.Error,
		})
	}
	if err := h.tasks.RecordResult(result.TaskID); err != nil {
		return err
	}
	h.metrics.SetActiveTasks(h.tasks.ActiveCount())
	return nil
}

// handleDiscovery answers capability queries with the matching roster.
// An empty capability list returns every non-offline agent.
func (h *Hub) handleDiscovery(msg *bus.Message) error {
	// Roster announcements originate here; answering them would loop.
	if msg.From == distribute.HubSender {
		return nil
	}

	var query bus.DiscoveryPayload
	if err := bus.DecodePayload(msg, &query); err != nil {
		return err
	}

	agents, err := h.registry.FindCapable(query.Capabilities)
	if err != nil {
		return err
	}

	roster := bus.RosterPayload{}
	for _, a := range agents {
		roster.Agents = append(roster.Agents, bus.RosterEntry{
			Name:         a.Name,
			Capabilities: a.Capabilities,
			Status:       string(a.Status),
			Workload:     a.Workload,
		})
	}

	payload, err := bus.EncodePayload(roster)
	if err != nil {
		return err
	}
	_, sendErr := h.SendMessage(distribute.HubSender, msg.From, bus.TypeDiscovery, payload, bus.PriorityNormal)
	return sendErr
}
