package bus

import (
	"context"
	"time"

	"github.com/swarmops/coordhub/logging"
)

// HandlerFunc processes one dispatched message. Handlers run synchronously
// on the dispatch goroutine and must not block on external I/O.
type HandlerFunc func(*Message) error

// Handlers maps each message type to its handler. A nil handler means the
// type carries no hub-side processing (it is only polled by its recipient).
type Handlers struct {
	TaskAssignment   HandlerFunc
	ResourceRequest  HandlerFunc
	ResourceResponse HandlerFunc
	StatusUpdate     HandlerFunc
	Coordination     HandlerFunc
	Discovery        HandlerFunc
	Heartbeat        HandlerFunc
	Alert            HandlerFunc
	Result           HandlerFunc
}

// forType returns the handler for a message type and whether the type is
// known at all.
func (h *Handlers) forType(t MessageType) (HandlerFunc, bool) {
	switch t {
	case TypeTaskAssignment:
		return h.TaskAssignment, true
	case TypeResourceRequest:
		return h.ResourceRequest, true
	case TypeResourceResponse:
		return h.ResourceResponse, true
	case TypeStatusUpdate:
		return h.StatusUpdate, true
	case TypeCoordination:
		return h.Coordination, true
	case TypeDiscovery:
		return h.Discovery, true
	case TypeHeartbeat:
		return h.Heartbeat, true
	case TypeAlert:
		return h.Alert, true
	case TypeResult:
		return h.Result, true
	default:
		return nil, false
	}
}

// Dispatcher is the single logical consumer of the global priority queue.
type Dispatcher struct {
	bus      *PriorityBus
	handlers Handlers
	log      *logging.Logger

	// OnHandled is invoked after each handler returns, with the handler's
	// wall time and error. Used to feed telemetry.
	OnHandled func(msgType MessageType, from string, elapsed time.Duration, err error)
}

// NewDispatcher creates a dispatcher over the given bus.
func NewDispatcher(b *PriorityBus, handlers Handlers, log *logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.New()
	}
	return &Dispatcher{
		bus:      b,
		handlers: handlers,
		log:      log.WithComponent("dispatcher"),
	}
}

// Run consumes the global queue until ctx is cancelled. Handler errors are
// logged and never abort the loop.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		d.Drain()

		select {
		case <-ctx.Done():
			return
		case <-d.bus.Notify():
		}
	}
}

// Drain processes every message currently queued. Exposed for tests and the
// hub's synchronous paths.
func (d *Dispatcher) Drain() {
	for {
		msg := d.bus.Pop()
		if msg == nil {
			return
		}
		d.dispatch(msg)
	}
}

// dispatch routes one message to its handler.
func (d *Dispatcher) dispatch(msg *Message) {
	handler, known := d.handlers.forType(msg.Type)
	if !known {
		d.log.Warn("dropping message with unknown type", map[string]interface{}{
			"type": string(msg.Type),
			"from": msg.From,
		})
		return
	}
	if handler == nil {
		return
	}

	start := time.Now()
	err := d.safeHandle(handler, msg)
	elapsed := time.Since(start)

	if err != nil {
		d.log.Error("handler failed, message discarded", map[string]interface{}{
			"type":  string(msg.Type),
			"from":  msg.From,
			"error": err.Error(),
		})
	}
	if d.OnHandled != nil {
		d.OnHandled(msg.Type, msg.From, elapsed, err)
	}
}

// safeHandle runs a handler, converting panics into errors so a bad message
// cannot kill the dispatch loop.
func (d *Dispatcher) safeHandle(handler HandlerFunc, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("handler panicked", map[string]interface{}{
				"type":  string(msg.Type),
				"panic": r,
			})
			err = ErrInvalidPayload
		}
	}()
	return handler(msg)
}
