package engine

import (
	"sort"
	"time"

	"github.com/starford/obsidian2bookstack/internal/apperr"
)

// Action is the outcome of one node or attachment.
type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionSkipped   Action = "skipped"
	ActionFailed    Action = "failed"
	ActionCancelled Action = "cancelled"
)

// NodeResult is the outcome recorded for one tree node or uploaded file.
type NodeResult struct {
	Level    string `json:"level"`
	Path     string `json:"path"`
	Source   string `json:"source,omitempty"`
	Action   Action `json:"action"`
	RemoteID int    `json:"remote_id,omitempty"`
	// ErrorKind is the apperr.Kind of Error.
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Warning is a non-fatal problem found while scanning, mapping or rendering.
type Warning struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func warningOf(err error) Warning {
	return Warning{Kind: apperr.Kind(err), Message: err.Error()}
}

// Report is the run summary.
type Report struct {
	RunID      string       `json:"run_id"`
	DryRun     bool         `json:"dry_run"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	State      State        `json:"state"`
	Nodes      []NodeResult `json:"nodes"`
	Warnings   []Warning    `json:"warnings,omitempty"`
	// FatalKind and Fatal are set when the run aborted.
	FatalKind string `json:"fatal_kind,omitempty"`
	Fatal     string `json:"fatal,omitempty"`
}

// ExitCode is 0 on success, 1 on a fatal error and 2 when some nodes failed,
// were skipped because of a failed ancestor, or were cancelled.
func (r *Report) ExitCode() int {
	if r.Fatal != "" {
		return 1
	}
	for _, n := range r.Nodes {
		if n.Action == ActionFailed || n.Action == ActionCancelled || n.ErrorKind != "" {
			return 2
		}
	}
	return 0
}

// Counts returns the number of results per action.
func (r *Report) Counts() map[Action]int {
	out := make(map[Action]int)
	for _, n := range r.Nodes {
		out[n.Action]++
	}
	return out
}

// Find returns the result for a path, e.g. "Projects/Alpha".
func (r *Report) Find(path string) (NodeResult, bool) {
	for _, n := range r.Nodes {
		if n.Path == path {
			return n, true
		}
	}
	return NodeResult{}, false
}

func (r *Report) sortNodes() {
	sort.SliceStable(r.Nodes, func(i, j int) bool {
		if r.Nodes[i].Path != r.Nodes[j].Path {
			return r.Nodes[i].Path < r.Nodes[j].Path
		}
		return r.Nodes[i].Level < r.Nodes[j].Level
	})
}
