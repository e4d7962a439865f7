package engine

import (
	"fmt"

	"github.com/fablab-systems/hdrctl/internal/model"
)

// EvaluateGate decides whether an artifact may drive a side-effecting
// action. It is total and pure: any (kind, record) pair yields a
// disposition, it never writes, and the result depends on nothing but its
// arguments.
//
// mandatoryKeys lists the boundary keys the caller's policy requires for
// this kind (for example a maximum-temperature limit). Non-hardware kinds
// pass through: the gate does not apply to them.
//
// On EXECUTE the parsed boundary set is returned so the external executor
// can cross-check limits against live readings before physical action;
// that cross-check is outside this engine.
func EvaluateGate(kind model.Kind, rec *model.HeaderRecord, mandatoryKeys []string) model.GateResult {
	res := model.GateResult{Kind: kind}
	if rec != nil {
		res.Path = rec.Path
	}

	if kind != model.KindHardwareJob {
		res.Disposition = model.DispositionExecute
		return res
	}

	if rec == nil || len(rec.SafetyBoundaries) == 0 {
		// Missing boundaries never execute and never hard-fail: a dry run
		// is always safe and tells the author what to supply.
		res.Disposition = model.DispositionDryRun
		res.Reasons = append(res.Reasons, "SafetyBoundaries absent")
		return res
	}

	for _, b := range rec.SafetyBoundaries {
		if !boundaryWellFormed(b) {
			res.Reasons = append(res.Reasons,
				fmt.Sprintf("boundary %q has malformed value %q", b.Key, b.Value))
		}
	}
	for _, key := range mandatoryKeys {
		b, ok := rec.SafetyBoundaries.Get(key)
		switch {
		case !ok:
			res.Reasons = append(res.Reasons,
				fmt.Sprintf("mandatory boundary %q missing", key))
		default:
			if _, numeric := b.Numeric(); !numeric {
				res.Reasons = append(res.Reasons,
					fmt.Sprintf("mandatory boundary %q must be numeric, got %q", key, b.Value))
			}
		}
	}

	if len(res.Reasons) > 0 {
		// Structurally invalid limits are a hard stop; executing on a
		// half-readable safety contract is worse than refusing.
		res.Disposition = model.DispositionReject
		return res
	}

	res.Disposition = model.DispositionExecute
	res.Boundaries = rec.SafetyBoundaries
	return res
}

// boundaryWellFormed accepts a numeric limit or a bare enumerated token
// (a zone name, a mode). Anything with internal whitespace or an empty
// value is treated as mangled.
func boundaryWellFormed(b model.Boundary) bool {
	if b.Key == "" || b.Value == "" {
		return false
	}
	if _, ok := b.Numeric(); ok {
		return true
	}
	for _, r := range b.Value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}
