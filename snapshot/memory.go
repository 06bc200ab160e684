package snapshot

import "sync"

// MemoryStore keeps snapshots in memory. Useful for tests and for
// running the hub without persistence configured.
type MemoryStore struct {
	mu     sync.Mutex
	states []*State
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save appends a snapshot. The state is re-encoded so later mutations
// by the caller cannot leak into the stored copy.
func (s *MemoryStore) Save(state *State) error {
	blob, err := state.Encode()
	if err != nil {
		return err
	}
	copied, err := Decode(blob)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, copied)
	return nil
}

// Load returns the newest snapshot.
func (s *MemoryStore) Load() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.states) - 1; i >= 0; i-- {
		if s.states[i].Component == Component {
			return s.states[i], nil
		}
	}
	return nil, ErrNotFound
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
