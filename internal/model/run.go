package model

import "time"

// RunStatus represents the state of an engine batch run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	// RunStatusPartial marks a run cancelled after the per-artifact stage:
	// written headers are valid on their own, graph construction was skipped.
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// Run records one invocation of the engine over a set of artifact paths.
type Run struct {
	ID        string     `json:"id"`
	Op        string     `json:"op"` // scan, update, verify, graph
	Paths     []string   `json:"paths"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds aggregate counts for a finished run.
type RunResult struct {
	Artifacts   int    `json:"artifacts"`
	Valid       int    `json:"valid"`
	Regenerated int    `json:"regenerated"`
	Recovered   int    `json:"recovered"`
	Rejected    int    `json:"rejected"`
	Unresolved  int    `json:"unresolved,omitempty"`
	Cycles      int    `json:"cycles,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ArtifactState is the latest recorded engine result for one artifact,
// kept as an inventory row behind the runs and serve surfaces.
type ArtifactState struct {
	Path        string        `json:"path"`
	Kind        Kind          `json:"kind"`
	Staleness   Staleness     `json:"staleness"`
	Disposition Disposition   `json:"disposition,omitempty"`
	Derived     Confidence    `json:"derived,omitempty"`
	Record      *HeaderRecord `json:"record,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
