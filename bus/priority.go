package bus

import "container/heap"

// queueItem pairs a message with its arrival sequence for stable ordering.
type queueItem struct {
	msg *Message
	seq uint64
}

// msgHeap is a min-heap ordered by (priority, arrival sequence).
type msgHeap []queueItem

func (h msgHeap) Len() int { return len(h) }

func (h msgHeap) Less(i, j int) bool {
	if h[i].msg.Priority != h[j].msg.Priority {
		return h[i].msg.Priority < h[j].msg.Priority
	}
	return h[i].seq < h[j].seq
}

func (h msgHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *msgHeap) Push(x interface{}) {
	*h = append(*h, x.(queueItem))
}

func (h *msgHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = queueItem{}
	*h = old[:n-1]
	return item
}

func (h *msgHeap) push(msg *Message, seq uint64) {
	heap.Push(h, queueItem{msg: msg, seq: seq})
}

func (h *msgHeap) pop() *Message {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(queueItem).msg
}

// broadcastRing is a bounded log of broadcast messages. Each entry keeps the
// global sequence it was posted at so per-agent cursors can skip seen
// entries. When full, the oldest entry is overwritten.
type broadcastRing struct {
	entries []ringEntry
	start   int
	count   int
}

type ringEntry struct {
	seq uint64
	msg *Message
}

func newBroadcastRing(capacity int) *broadcastRing {
	return &broadcastRing{
		entries: make([]ringEntry, capacity),
	}
}

func (r *broadcastRing) add(msg *Message, seq uint64) {
	idx := (r.start + r.count) % len(r.entries)
	if r.count == len(r.entries) {
		// Full: overwrite oldest
		r.entries[r.start] = ringEntry{seq: seq, msg: msg}
		r.start = (r.start + 1) % len(r.entries)
		return
	}
	r.entries[idx] = ringEntry{seq: seq, msg: msg}
	r.count++
}

// since returns all entries with sequence greater than after, oldest first.
func (r *broadcastRing) since(after uint64) []*Message {
	var result []*Message
	for i := 0; i < r.count; i++ {
		entry := r.entries[(r.start+i)%len(r.entries)]
		if entry.seq > after {
			result = append(result, entry.msg)
		}
	}
	return result
}

// latest returns the highest sequence currently in the ring, or zero.
func (r *broadcastRing) latest() uint64 {
	if r.count == 0 {
		return 0
	}
	return r.entries[(r.start+r.count-1)%len(r.entries)].seq
}
