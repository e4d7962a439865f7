package model

import (
	"strconv"
	"strings"
	"time"
)

// Kind identifies what class of artifact a header belongs to. The kind
// selects the fingerprint extractor, the comment convention, and whether
// the safety gate applies.
type Kind string

const (
	KindCode        Kind = "code"
	KindDocument    Kind = "document"
	KindHardwareJob Kind = "hardware-job"
)

// Valid reports whether k is one of the known artifact kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindCode, KindDocument, KindHardwareJob:
		return true
	}
	return false
}

// Requirement is a named input or output declared in a header.
// Type is optional ("setpoint(float)" declares Type "float").
type Requirement struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// String renders the wire form: "name" or "name(type)".
func (r Requirement) String() string {
	if r.Type == "" {
		return r.Name
	}
	return r.Name + "(" + r.Type + ")"
}

// ActionItem is a human-owned follow-up task declared under ActionRequired.
type ActionItem struct {
	Owner string `json:"owner"`
	Task  string `json:"task"`
	Due   string `json:"due,omitempty"`
}

// Boundary is a single named safety limit. Values are kept as written;
// Numeric reports whether the value parses as a number.
type Boundary struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Numeric returns the boundary value as a float and whether it parsed.
func (b Boundary) Numeric() (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(b.Value), 64)
	return v, err == nil
}

// BoundarySet is an ordered set of safety boundaries. Order is preserved
// because boundaries are human-authored and regenerated verbatim.
type BoundarySet []Boundary

// Get returns the boundary for key and whether it exists.
func (s BoundarySet) Get(key string) (Boundary, bool) {
	for _, b := range s {
		if b.Key == key {
			return b, true
		}
	}
	return Boundary{}, false
}

// HeaderRecord is the structured contract extracted from, or destined for,
// the head of an artifact.
//
// Notes and SafetyBoundaries are human-owned: the generator preserves them
// verbatim and never invents values for them. All other fields are owned by
// the generator between human edits.
type HeaderRecord struct {
	Path             string        `json:"path"`
	Kind             Kind          `json:"kind"`
	Description      string        `json:"description"`
	Inputs           []Requirement `json:"inputs"`
	Outputs          []Requirement `json:"outputs"`
	Dependencies     []string      `json:"dependencies,omitempty"`
	Confidence       Confidence    `json:"confidence,omitempty"`
	ActionRequired   []ActionItem  `json:"action_required,omitempty"`
	SafetyBoundaries BoundarySet   `json:"safety_boundaries,omitempty"`
	Notes            string        `json:"notes,omitempty"`
	LastGenerated    time.Time     `json:"last_generated"`
	Checksum         string        `json:"checksum,omitempty"`
}

// DeclaredNames returns the set of names declared across Inputs and
// Outputs, used to check fingerprint coverage.
func (h *HeaderRecord) DeclaredNames() map[string]bool {
	names := make(map[string]bool, len(h.Inputs)+len(h.Outputs))
	for _, r := range h.Inputs {
		names[r.Name] = true
	}
	for _, r := range h.Outputs {
		names[r.Name] = true
	}
	return names
}
