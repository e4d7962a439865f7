// Package engine implements the contract-header lifecycle: staleness
// evaluation, regeneration with a data-driven merge policy, the safety
// gate, and the batch pipeline that ties them together per artifact.
package engine

import (
	"github.com/fablab-systems/hdrctl/internal/fingerprint"
	"github.com/fablab-systems/hdrctl/internal/header"
	"github.com/fablab-systems/hdrctl/internal/model"
)

// Evaluation is the staleness classification for one artifact. It is
// recomputed fresh on every call; nothing persists between evaluations.
type Evaluation struct {
	Staleness model.Staleness
	Reasons   []model.StaleReason
	// MissingFields names required keys absent from a parsed header.
	MissingFields []string
	// Undeclared names fingerprint points the header does not cover.
	Undeclared []string
}

// EvaluateStaleness classifies a parsed header against the freshly
// computed fingerprint and body checksum.
//
// A header is STALE when the recorded checksum disagrees with the body,
// when the fingerprint shows interface points the header does not declare,
// or when a required field is missing. Absent and malformed parses map
// straight through to their own states.
func EvaluateStaleness(res header.Result, fp fingerprint.Fingerprint, bodySum string) Evaluation {
	if st, done := res.Staleness(); done {
		return Evaluation{Staleness: st}
	}

	ev := Evaluation{Staleness: model.StalenessValid}
	rec := res.Record

	if rec.Checksum != "" && rec.Checksum != bodySum {
		ev.Reasons = append(ev.Reasons, model.ReasonChecksumMismatch)
	}

	if fp.Known {
		declared := rec.DeclaredNames()
		for _, name := range fp.RequiredNames() {
			if !declared[name] {
				ev.Undeclared = append(ev.Undeclared, name)
			}
		}
		if len(ev.Undeclared) > 0 {
			ev.Reasons = append(ev.Reasons, model.ReasonFingerprintDrift)
		}
	} else {
		ev.Reasons = append(ev.Reasons, model.ReasonInterfaceUnknown)
	}

	for _, key := range header.RequiredKeys {
		if !res.Fields[key] {
			ev.MissingFields = append(ev.MissingFields, key)
		}
	}
	if len(ev.MissingFields) > 0 {
		ev.Reasons = append(ev.Reasons, model.ReasonMissingField)
	}

	if len(ev.Reasons) > 0 {
		ev.Staleness = model.StalenessStale
	}
	return ev
}
