package snapshot

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/swarmops/coordhub/distribute"
	"github.com/swarmops/coordhub/registry"
	"github.com/swarmops/coordhub/resource"
	"github.com/swarmops/coordhub/telemetry"
)

// Component identifies hub snapshots in a shared store.
const Component = "agent-coordination-hub"

// ErrNotFound is returned by Load when no snapshot exists.
var ErrNotFound = errors.New("snapshot: not found")

// State is the full persisted hub state.
type State struct {
	Component string    `json:"component"`
	TakenAt   time.Time `json:"taken_at"`

	Agents  []registry.Agent   `json:"agents"`
	Locks   []resource.Lock    `json:"locks"`
	Tasks   []distribute.Task  `json:"tasks"`
	Metrics telemetry.Snapshot `json:"metrics"`
}

// Encode serializes the state for storage.
func (s *State) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// Decode deserializes a stored state blob.
func Decode(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Store persists hub snapshots.
type Store interface {
	// Save writes a snapshot. Older snapshots for the same component
	// may be retained or pruned at the store's discretion.
	Save(state *State) error

	// Load returns the most recent snapshot for the hub component,
	// or ErrNotFound if none has been saved.
	Load() (*State, error)

	Close() error
}
