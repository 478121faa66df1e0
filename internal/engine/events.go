package engine

import "time"

// State is a stage of a sync run.
type State int

const (
	Scanning State = iota + 1
	Mapping
	Diffing
	Planning
	ExecutingCreates
	ResolvingLinks
	ExecutingLinkUpdates
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Scanning:
		return "scanning"
	case Mapping:
		return "mapping"
	case Diffing:
		return "diffing"
	case Planning:
		return "planning"
	case ExecutingCreates:
		return "executing_creates"
	case ResolvingLinks:
		return "resolving_links"
	case ExecutingLinkUpdates:
		return "executing_link_updates"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event is published on every state transition and every finished node.
// Node is nil for transitions.
type Event struct {
	RunID string      `json:"run_id"`
	State State       `json:"state"`
	Node  *NodeResult `json:"node,omitempty"`
	Time  time.Time   `json:"time"`
}

// Observer receives events from the run, possibly from several goroutines
// at once. It must not block.
type Observer func(Event)
