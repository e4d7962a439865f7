package engine

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fablab-systems/hdrctl/internal/fingerprint"
	"github.com/fablab-systems/hdrctl/internal/header"
	"github.com/fablab-systems/hdrctl/internal/model"
)

// Generator synthesizes and refreshes header records. The clock is
// injected so idempotence is testable with a fixed time.
type Generator struct {
	now func() time.Time
}

// NewGenerator builds a generator around the given clock. A nil clock
// falls back to time.Now.
func NewGenerator(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now}
}

// GenerateInput carries everything the merge policy may consult.
type GenerateInput struct {
	Path string
	Kind model.Kind
	// Prev is the previous record if one parsed, including the partial
	// record recovered from a malformed block. Nil when absent.
	Prev       *model.HeaderRecord
	PrevStatus header.Status
	Fingerprint fingerprint.Fingerprint
	Body        []byte
}

// GenerateOutput is the regenerated record, its serialized wire form, and
// the structured summary returned to the caller.
type GenerateOutput struct {
	Record     model.HeaderRecord
	// Serialized is the full artifact: header block followed by the body.
	Serialized []byte
	Summary    model.UpdateSummary
}

// mergeRule is one step of the merge policy. The policy is an ordered
// table rather than scattered conditionals so the contract stays auditable:
// each rule owns a named slice of the record and nothing else.
type mergeRule struct {
	name  string
	apply func(g *Generator, in GenerateInput, rec *model.HeaderRecord, sum *model.UpdateSummary)
}

// mergePolicy, in priority order:
//  1. human-owned fields are preserved verbatim, never invented
//  2. interface fields recompute from the fingerprint but retain
//     declared-but-undetected entries, flagging the discrepancy
//  3. carried fields (description, confidence, dependencies, actions)
//     survive regeneration
//  4. stamps (timestamp, checksum) always refresh
var mergePolicy = []mergeRule{
	{name: "preserve-human-fields", apply: (*Generator).preserveHumanFields},
	{name: "recompute-interface", apply: (*Generator).recomputeInterface},
	{name: "carry-declared-fields", apply: (*Generator).carryDeclaredFields},
	{name: "refresh-stamps", apply: (*Generator).refreshStamps},
}

// Generate produces a fresh record by running the merge policy, then
// serializes it in the given convention. Running it twice over unchanged
// content changes nothing but LastGenerated: the checksum is content-based
// and every other field either recomputes identically or is preserved.
func (g *Generator) Generate(in GenerateInput, conv header.Convention) GenerateOutput {
	rec := model.HeaderRecord{
		Path: in.Path,
		Kind: in.Kind,
	}
	sum := model.UpdateSummary{
		File: in.Path,
		Kind: in.Kind,
	}

	for _, rule := range mergePolicy {
		rule.apply(g, in, &rec, &sum)
	}

	sum.Description = rec.Description
	sum.Inputs = rec.Inputs
	sum.Outputs = rec.Outputs
	sum.Dependencies = rec.Dependencies
	sum.SafetyBoundaries = rec.SafetyBoundaries
	sum.LastGenerated = rec.LastGenerated
	sum.Recovered = in.PrevStatus == header.StatusMalformed

	serialized := header.Serialize(&rec, conv)
	serialized = append(serialized, in.Body...)

	return GenerateOutput{Record: rec, Serialized: serialized, Summary: sum}
}

// preserveHumanFields carries Notes and SafetyBoundaries over verbatim.
// The generator never fabricates boundaries: a hardware job without them
// is marked RequiresDryRun instead.
func (g *Generator) preserveHumanFields(in GenerateInput, rec *model.HeaderRecord, sum *model.UpdateSummary) {
	if in.Prev != nil {
		rec.Notes = in.Prev.Notes
		rec.SafetyBoundaries = in.Prev.SafetyBoundaries
	}
	if in.Kind == model.KindHardwareJob && len(rec.SafetyBoundaries) == 0 {
		sum.RequiresDryRun = true
	}
}

// recomputeInterface rebuilds Inputs/Outputs from the fingerprint. For
// code artifacts entry points become outputs and their parameters become
// inputs; for hardware jobs the declared physical parameters become
// inputs. Previously declared items the fingerprint no longer detects are
// retained, not silently dropped, and the discrepancy is flagged.
func (g *Generator) recomputeInterface(in GenerateInput, rec *model.HeaderRecord, sum *model.UpdateSummary) {
	inputs := []model.Requirement{}
	outputs := []model.Requirement{}

	if in.Fingerprint.Known {
		seenIn := map[string]bool{}
		seenOut := map[string]bool{}
		for _, pt := range in.Fingerprint.Points {
			switch pt.Role {
			case fingerprint.RoleEntryPoint:
				if !seenOut[pt.Name] {
					seenOut[pt.Name] = true
					outputs = append(outputs, model.Requirement{Name: pt.Name})
				}
				for _, p := range pt.Params {
					if !seenIn[p] {
						seenIn[p] = true
						inputs = append(inputs, model.Requirement{Name: p})
					}
				}
			case fingerprint.RoleParameter:
				if !seenIn[pt.Name] {
					seenIn[pt.Name] = true
					inputs = append(inputs, model.Requirement{Name: pt.Name})
				}
			}
		}
	}

	if in.Prev != nil {
		detected := map[string]bool{}
		for _, r := range inputs {
			detected[r.Name] = true
		}
		for _, r := range outputs {
			detected[r.Name] = true
		}
		for _, r := range in.Prev.Inputs {
			if detected[r.Name] {
				// Detected again; prefer the previous entry, it may carry
				// a human-written type annotation.
				inputs = replaceRequirement(inputs, r)
				continue
			}
			inputs = append(inputs, r)
			sum.Discrepancies = append(sum.Discrepancies,
				fmt.Sprintf("input %q declared but not detected in body", r.Name))
		}
		for _, r := range in.Prev.Outputs {
			if detected[r.Name] {
				outputs = replaceRequirement(outputs, r)
				continue
			}
			outputs = append(outputs, r)
			sum.Discrepancies = append(sum.Discrepancies,
				fmt.Sprintf("output %q declared but not detected in body", r.Name))
		}
	}

	rec.Inputs = inputs
	rec.Outputs = outputs
}

// carryDeclaredFields keeps description, confidence, dependencies, and
// action items across regeneration, with conservative defaults on first
// generation: a fresh machine-written header starts at low confidence.
func (g *Generator) carryDeclaredFields(in GenerateInput, rec *model.HeaderRecord, sum *model.UpdateSummary) {
	if in.Prev != nil {
		rec.Description = in.Prev.Description
		rec.Confidence = in.Prev.Confidence
		rec.Dependencies = in.Prev.Dependencies
		rec.ActionRequired = in.Prev.ActionRequired
	}
	if rec.Description == "" {
		rec.Description = "Contract header for " + filepath.Base(in.Path)
	}
	if !rec.Confidence.Set {
		rec.Confidence = model.ConfidenceFromTier(model.TierLow)
	}
}

// refreshStamps recomputes the content checksum and stamps the clock.
func (g *Generator) refreshStamps(in GenerateInput, rec *model.HeaderRecord, sum *model.UpdateSummary) {
	rec.Checksum = header.BodyChecksum(in.Body)
	rec.LastGenerated = g.now().UTC().Truncate(time.Second)
}

// replaceRequirement swaps the entry with the same name for r, keeping the
// detected ordering.
func replaceRequirement(reqs []model.Requirement, r model.Requirement) []model.Requirement {
	for i := range reqs {
		if reqs[i].Name == r.Name {
			reqs[i] = r
			return reqs
		}
	}
	return reqs
}
