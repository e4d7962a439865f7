package model

import "time"

// ScanResult is the staleness report for a single artifact. Scans never
// write; the result is the whole answer.
type ScanResult struct {
	Path      string        `json:"path" yaml:"path"`
	Kind      Kind          `json:"kind" yaml:"kind"`
	Staleness Staleness     `json:"staleness" yaml:"staleness"`
	Reasons   []StaleReason `json:"reasons,omitempty" yaml:"reasons,omitempty"`
}

// UpdateSummary is the structured record returned after generation. It is
// emitted even when nothing changed; a no-op is an answer, not an error.
type UpdateSummary struct {
	File             string        `json:"file" yaml:"file"`
	Kind             Kind          `json:"kind" yaml:"kind"`
	Description      string        `json:"description" yaml:"description"`
	Inputs           []Requirement `json:"inputs" yaml:"inputs"`
	Outputs          []Requirement `json:"outputs" yaml:"outputs"`
	Dependencies     []string      `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	SafetyBoundaries BoundarySet   `json:"safety_boundaries,omitempty" yaml:"safety_boundaries,omitempty"`
	LastGenerated    time.Time     `json:"last_generated" yaml:"last_generated"`

	// RequiresDryRun marks a hardware-job artifact generated without
	// safety boundaries. The engine never synthesizes them.
	RequiresDryRun bool `json:"requires_dry_run,omitempty" yaml:"requires_dry_run,omitempty"`

	// Discrepancies lists declared-but-undetected interface points that
	// were retained rather than silently dropped.
	Discrepancies []string `json:"discrepancies,omitempty" yaml:"discrepancies,omitempty"`

	Regenerated bool `json:"regenerated" yaml:"regenerated"`
	// Recovered marks regeneration from a malformed header, where only
	// confidently re-parsed fields were carried over.
	Recovered bool `json:"recovered,omitempty" yaml:"recovered,omitempty"`
}

// GateResult is the safety gate's disposition for one artifact, plus the
// parsed boundary set on EXECUTE so an external executor can cross-check
// against live readings before physical action.
type GateResult struct {
	Path        string      `json:"path" yaml:"path"`
	Kind        Kind        `json:"kind" yaml:"kind"`
	Disposition Disposition `json:"disposition" yaml:"disposition"`
	Boundaries  BoundarySet `json:"boundaries,omitempty" yaml:"boundaries,omitempty"`
	Reasons     []string    `json:"reasons,omitempty" yaml:"reasons,omitempty"`
}
