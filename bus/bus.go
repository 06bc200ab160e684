package bus

import (
	"encoding/json"
	"errors"
	"sync"
)

// Common errors.
var (
	ErrClosed           = errors.New("bus closed")
	ErrUnknownRecipient = errors.New("unknown recipient")
	ErrInvalidType      = errors.New("invalid message type")
	ErrInvalidPayload   = errors.New("invalid message payload")
	ErrInvalidSender    = errors.New("invalid sender")
)

// Config holds bus configuration.
type Config struct {
	// BroadcastRetention bounds the broadcast ring buffer.
	// Default: 256
	BroadcastRetention int

	// KnownRecipient validates direct-message targets. Nil accepts any.
	KnownRecipient func(name string) bool

	// DispatchRecipient names a pseudo-recipient consumed only through
	// the global queue. Messages addressed to it skip the per-agent
	// queue, which nothing would ever drain.
	DispatchRecipient string
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BroadcastRetention: 256,
	}
}

// PriorityBus is the hub's in-memory message bus. Each agent has a direct
// queue ordered by (priority, arrival); broadcasts live in a bounded ring;
// every accepted message is also pushed onto a single global priority queue
// consumed by the Dispatcher.
type PriorityBus struct {
	config Config

	mu        sync.Mutex
	seq       uint64
	global    msgHeap
	queues    map[string]*msgHeap
	broadcast *broadcastRing
	cursors   map[string]uint64
	notify    chan struct{}
	closed    bool
}

// NewPriorityBus creates an empty bus.
func NewPriorityBus(cfg Config) *PriorityBus {
	if cfg.BroadcastRetention <= 0 {
		cfg.BroadcastRetention = DefaultConfig().BroadcastRetention
	}
	return &PriorityBus{
		config:    cfg,
		queues:    make(map[string]*msgHeap),
		broadcast: newBroadcastRing(cfg.BroadcastRetention),
		cursors:   make(map[string]uint64),
		notify:    make(chan struct{}, 1),
	}
}

// Send validates and enqueues a message, returning its generated id.
func (b *PriorityBus) Send(from, to string, msgType MessageType, payload json.RawMessage, priority int) (string, error) {
	if from == "" {
		return "", ErrInvalidSender
	}
	if !msgType.Valid() {
		return "", ErrInvalidType
	}
	if to != Broadcast && b.config.KnownRecipient != nil && !b.config.KnownRecipient(to) {
		return "", ErrUnknownRecipient
	}

	msg := NewMessage(from, to, msgType, payload, priority)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", ErrClosed
	}

	b.seq++
	seq := b.seq

	if to == Broadcast {
		b.broadcast.add(msg, seq)
	} else if b.config.DispatchRecipient == "" || to != b.config.DispatchRecipient {
		q, ok := b.queues[to]
		if !ok {
			q = &msgHeap{}
			b.queues[to] = q
		}
		q.push(msg, seq)
	}
	b.global.push(msg, seq)
	b.mu.Unlock()

	// Wake the dispatcher without blocking the sender.
	select {
	case b.notify <- struct{}{}:
	default:
	}

	return msg.ID, nil
}

// Receive drains up to limit messages from the agent's direct queue in
// priority order, then appends any broadcasts posted since the agent's last
// check and advances its cursor.
func (b *PriorityBus) Receive(agent string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	var result []*Message
	if q, ok := b.queues[agent]; ok {
		for len(result) < limit && q.Len() > 0 {
			result = append(result, q.pop())
		}
	}

	cursor := b.cursors[agent]
	for _, msg := range b.broadcast.since(cursor) {
		result = append(result, msg)
	}
	if latest := b.broadcast.latest(); latest > cursor {
		b.cursors[agent] = latest
	}

	return result, nil
}

// Pop removes and returns the most urgent message from the global queue,
// or nil if the bus is empty.
func (b *PriorityBus) Pop() *Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	return b.global.pop()
}

// Len returns the number of messages awaiting dispatch.
func (b *PriorityBus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.global.Len()
}

// Pending returns the number of undelivered direct messages for an agent.
func (b *PriorityBus) Pending(agent string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if q, ok := b.queues[agent]; ok {
		return q.Len()
	}
	return 0
}

// DropQueue discards an agent's direct queue and broadcast cursor.
// Called when the agent unregisters.
func (b *PriorityBus) DropQueue(agent string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.queues, agent)
	delete(b.cursors, agent)
}

// Notify returns the channel signalled when new messages arrive.
func (b *PriorityBus) Notify() <-chan struct{} {
	return b.notify
}

// Close shuts down the bus. Subsequent operations return ErrClosed.
func (b *PriorityBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.queues = nil
	b.global = nil
	return nil
}
