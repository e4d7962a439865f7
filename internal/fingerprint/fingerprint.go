// Package fingerprint derives a canonical, comparison-only signature of an
// artifact's declared interface. Extraction is structural pattern matching,
// not semantic analysis: it is best-effort by contract. An extractor that
// cannot read a body reports Known=false, which the evaluator treats
// conservatively; an extractor must never claim structure that is not there.
package fingerprint

import (
	"sort"

	"github.com/fablab-systems/hdrctl/internal/model"
)

// Role classifies an interface point.
type Role string

const (
	// RoleEntryPoint is a named callable surface of a code artifact.
	RoleEntryPoint Role = "entrypoint"
	// RoleParameter is a declared physical parameter of a hardware job.
	RoleParameter Role = "parameter"
)

// Point is one detected interface point. Params carries the parameter
// names of an entry point; it is empty for physical parameters.
type Point struct {
	Name   string
	Role   Role
	Params []string
}

// Fingerprint is the signature of one evaluation cycle. It is never
// persisted; comparison is by name set, so extraction order is irrelevant.
type Fingerprint struct {
	// Known is false when the extractor could not make sense of the body
	// at all. Unknown fingerprints force conservative handling upstream.
	Known  bool
	Points []Point
}

// RequiredNames returns the sorted set of names a header must declare to
// cover this fingerprint: every point name plus every entry-point
// parameter name.
func (f Fingerprint) RequiredNames() []string {
	seen := make(map[string]bool)
	for _, pt := range f.Points {
		seen[pt.Name] = true
		for _, p := range pt.Params {
			seen[p] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Extractor derives a fingerprint for one artifact kind.
type Extractor interface {
	Kind() model.Kind
	Extract(body []byte) Fingerprint
}

// Registry selects an extractor by artifact kind.
type Registry struct {
	byKind map[model.Kind]Extractor
}

// NewRegistry builds a registry over the given extractors.
func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{byKind: make(map[model.Kind]Extractor, len(extractors))}
	for _, e := range extractors {
		r.byKind[e.Kind()] = e
	}
	return r
}

// DefaultRegistry covers the three built-in kinds.
func DefaultRegistry() *Registry {
	return NewRegistry(CodeExtractor{}, HardwareExtractor{}, DocumentExtractor{})
}

// Extract runs the extractor registered for kind. An unregistered kind
// yields an unknown fingerprint, never an error: absence of knowledge is a
// legitimate extraction result here.
func (r *Registry) Extract(kind model.Kind, body []byte) Fingerprint {
	e, ok := r.byKind[kind]
	if !ok {
		return Fingerprint{}
	}
	return e.Extract(body)
}
