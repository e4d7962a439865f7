package header

import (
	"strings"

	"github.com/fablab-systems/hdrctl/internal/model"
)

// Serialize renders a header record as a comment block in the given
// convention. Key order is fixed so unchanged records serialize
// byte-identically (apart from fields the generator refreshes).
func Serialize(rec *model.HeaderRecord, conv Convention) []byte {
	inner := innerLines(rec)

	var b strings.Builder
	if conv.IsBlock() {
		b.WriteString(conv.BlockStart)
		b.WriteByte('\n')
		for _, ln := range inner {
			b.WriteString(ln)
			b.WriteByte('\n')
		}
		b.WriteString(conv.BlockEnd)
		b.WriteByte('\n')
		return []byte(b.String())
	}

	prefix := conv.LinePrefix
	if prefix == "" {
		prefix = "#"
	}
	for _, ln := range inner {
		b.WriteString(prefix)
		if ln != "" {
			b.WriteByte(' ')
			b.WriteString(ln)
		}
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func innerLines(rec *model.HeaderRecord) []string {
	var lines []string
	add := func(key, value string) {
		lines = append(lines, key+": "+value)
	}

	add(Marker, Version+"/"+string(rec.Kind))
	add("File", rec.Path)
	add("Description", rec.Description)
	add("Inputs", requirementList(rec.Inputs))
	add("Outputs", requirementList(rec.Outputs))
	if len(rec.Dependencies) > 0 {
		add("Dependencies", strings.Join(rec.Dependencies, ", "))
	}
	if rec.Confidence.Set {
		add("Confidence", rec.Confidence.String())
	}
	if len(rec.ActionRequired) > 0 {
		lines = append(lines, "ActionRequired:")
		for _, a := range rec.ActionRequired {
			item := "- owner: " + a.Owner + "; task: " + a.Task
			if a.Due != "" {
				item += "; due: " + a.Due
			}
			lines = append(lines, item)
		}
	}
	if len(rec.SafetyBoundaries) > 0 {
		lines = append(lines, "SafetyBoundaries:")
		for _, bd := range rec.SafetyBoundaries {
			lines = append(lines, "- "+bd.Key+": "+bd.Value)
		}
	}
	if rec.Notes != "" {
		add("Notes", rec.Notes)
	}
	add("LastGenerated", rec.LastGenerated.UTC().Format(timeFormat))
	if rec.Checksum != "" {
		add("Checksum", rec.Checksum)
	}
	return lines
}

// timeFormat is RFC3339 at second precision; sub-second digits would not
// survive a round trip through the wire form.
const timeFormat = "2006-01-02T15:04:05Z07:00"

func requirementList(reqs []model.Requirement) string {
	if len(reqs) == 0 {
		return "None"
	}
	parts := make([]string, len(reqs))
	for i, r := range reqs {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}
