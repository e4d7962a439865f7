package header

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablab-systems/hdrctl/internal/model"
)

var testConventions = []Convention{
	{LinePrefix: "#"},
	{LinePrefix: "//"},
	{BlockStart: "/*", BlockEnd: "*/"},
	{BlockStart: "<!--", BlockEnd: "-->"},
}

const prefixedHeader = `# Contract-Header: v1/code
# File: pkg/thermal/controller.go
# Description: PID loop for the heater bed
# Inputs: setpoint(float), probe_id(string)
# Outputs: ControlLoop, Calibrate
# Dependencies: jobs/warmup.gcode
# Confidence: high
# Notes: tuned on rig 3
# LastGenerated: 2026-08-20T10:00:00Z
# Checksum: sha256:abc123
package thermal

func ControlLoop(setpoint float64, probeID string) {}
`

func TestParse_PrefixedBlock(t *testing.T) {
	res := Parse([]byte(prefixedHeader), "pkg/thermal/controller.go", model.KindCode, testConventions, 0)
	require.Equal(t, StatusParsed, res.Status, "issues: %v", res.Issues)

	rec := res.Record
	assert.Equal(t, "pkg/thermal/controller.go", rec.Path)
	assert.Equal(t, model.KindCode, rec.Kind)
	assert.Equal(t, "PID loop for the heater bed", rec.Description)
	assert.Equal(t, []model.Requirement{
		{Name: "setpoint", Type: "float"},
		{Name: "probe_id", Type: "string"},
	}, rec.Inputs)
	assert.Equal(t, []model.Requirement{
		{Name: "ControlLoop"},
		{Name: "Calibrate"},
	}, rec.Outputs)
	assert.Equal(t, []string{"jobs/warmup.gcode"}, rec.Dependencies)
	assert.Equal(t, model.TierHigh, rec.Confidence.Label)
	assert.Equal(t, "tuned on rig 3", rec.Notes)
	assert.Equal(t, time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC), rec.LastGenerated)
	assert.Equal(t, "sha256:abc123", rec.Checksum)
	assert.True(t, res.Fields["Checksum"])
}

func TestParse_DelimitedBlock(t *testing.T) {
	raw := `<!--
Contract-Header: v1/document
File: docs/runbook.md
Description: Operator runbook
Inputs: None
Outputs: shutdown-procedure
LastGenerated: 2026-08-20T10:00:00Z
-->
# Runbook
`
	res := Parse([]byte(raw), "docs/runbook.md", model.KindDocument, testConventions, 0)
	require.Equal(t, StatusParsed, res.Status, "issues: %v", res.Issues)
	assert.Empty(t, res.Record.Inputs)
	assert.NotNil(t, res.Record.Inputs, "explicit None parses as empty, not missing")
	assert.True(t, res.Fields["Inputs"])

	body := Body([]byte(raw), res)
	assert.Equal(t, "# Runbook\n", string(body))
}

func TestParse_Absent(t *testing.T) {
	raw := "package thermal\n\nfunc F() {}\n"
	res := Parse([]byte(raw), "f.go", model.KindCode, testConventions, 0)
	assert.Equal(t, StatusAbsent, res.Status)
	assert.Nil(t, res.Record)
	assert.Equal(t, raw, string(Body([]byte(raw), res)))
}

func TestParse_PlainCommentIsNotAHeader(t *testing.T) {
	raw := "// Package thermal drives the heater bed.\npackage thermal\n"
	res := Parse([]byte(raw), "f.go", model.KindCode, testConventions, 0)
	assert.Equal(t, StatusAbsent, res.Status)
}

func TestParse_MalformedIsNotAbsent(t *testing.T) {
	// Marker present, required LastGenerated unparsable.
	raw := `# Contract-Header: v1/code
# File: f.go
# Description: broken
# Inputs: None
# Outputs: None
# LastGenerated: yesterday-ish
`
	res := Parse([]byte(raw), "f.go", model.KindCode, testConventions, 0)
	require.Equal(t, StatusMalformed, res.Status)
	require.NotNil(t, res.Record)
	// Confidently parsed fields survive for the partial-preserve path.
	assert.Equal(t, "broken", res.Record.Description)
	assert.NotEmpty(t, res.Issues)
}

func TestParse_BareMarkerIsMalformed(t *testing.T) {
	raw := "# Contract-Header: v1/code\npackage thermal\n"
	res := Parse([]byte(raw), "f.go", model.KindCode, testConventions, 0)
	assert.Equal(t, StatusMalformed, res.Status)
}

func TestParse_UnknownVersionTagIsMalformed(t *testing.T) {
	raw := `# Contract-Header: v9/code
# File: f.go
# Description: future format
# Inputs: None
# Outputs: None
# LastGenerated: 2026-08-20T10:00:00Z
`
	res := Parse([]byte(raw), "f.go", model.KindCode, testConventions, 0)
	assert.Equal(t, StatusMalformed, res.Status)
}

func TestParse_MissingFieldStaysParsed(t *testing.T) {
	// Description missing entirely: parseable, evaluator will call it STALE.
	raw := `# Contract-Header: v1/code
# File: f.go
# Inputs: None
# Outputs: None
# LastGenerated: 2026-08-20T10:00:00Z
`
	res := Parse([]byte(raw), "f.go", model.KindCode, testConventions, 0)
	assert.Equal(t, StatusParsed, res.Status)
	assert.False(t, res.Fields["Description"])
}

func TestParse_BoundarySubItems(t *testing.T) {
	raw := `# Contract-Header: v1/hardware-job
# File: jobs/anneal.gcode
# Description: anneal cycle
# Inputs: temperature(float)
# Outputs: None
# SafetyBoundaries:
#   - maxTemp: 245
#   - dutyCycle: 0.4
# LastGenerated: 2026-08-20T10:00:00Z
`
	res := Parse([]byte(raw), "jobs/anneal.gcode", model.KindHardwareJob, testConventions, 0)
	require.Equal(t, StatusParsed, res.Status, "issues: %v", res.Issues)
	require.Len(t, res.Record.SafetyBoundaries, 2)
	assert.Equal(t, model.Boundary{Key: "maxTemp", Value: "245"}, res.Record.SafetyBoundaries[0])
	assert.Equal(t, model.Boundary{Key: "dutyCycle", Value: "0.4"}, res.Record.SafetyBoundaries[1])
}

func TestParse_BoundaryInlineBraces(t *testing.T) {
	raw := `# Contract-Header: v1/hardware-job
# File: jobs/anneal.gcode
# Description: anneal cycle
# Inputs: None
# Outputs: None
# SafetyBoundaries: { maxTemp: 245 }
# LastGenerated: 2026-08-20T10:00:00Z
`
	res := Parse([]byte(raw), "jobs/anneal.gcode", model.KindHardwareJob, testConventions, 0)
	require.Equal(t, StatusParsed, res.Status)
	b, ok := res.Record.SafetyBoundaries.Get("maxTemp")
	assert.True(t, ok)
	assert.Equal(t, "245", b.Value)
}

func TestParse_UnparsableBoundaryDropped(t *testing.T) {
	raw := `# Contract-Header: v1/hardware-job
# File: jobs/anneal.gcode
# Description: anneal cycle
# Inputs: None
# Outputs: None
# SafetyBoundaries:
#   - just words no colon
# LastGenerated: 2026-08-20T10:00:00Z
`
	res := Parse([]byte(raw), "jobs/anneal.gcode", model.KindHardwareJob, testConventions, 0)
	require.Equal(t, StatusParsed, res.Status)
	assert.Nil(t, res.Record.SafetyBoundaries, "mangled limits must not survive as invented data")
	assert.False(t, res.Fields["SafetyBoundaries"])
	assert.NotEmpty(t, res.Issues)
}

func TestParse_ActionRequired(t *testing.T) {
	raw := `# Contract-Header: v1/code
# File: f.go
# Description: d
# Inputs: None
# Outputs: None
# ActionRequired:
#   - owner: kim; task: recalibrate probe; due: 2026-09-01
#   - owner: ops; task: review limits
# LastGenerated: 2026-08-20T10:00:00Z
`
	res := Parse([]byte(raw), "f.go", model.KindCode, testConventions, 0)
	require.Equal(t, StatusParsed, res.Status, "issues: %v", res.Issues)
	require.Len(t, res.Record.ActionRequired, 2)
	assert.Equal(t, model.ActionItem{Owner: "kim", Task: "recalibrate probe", Due: "2026-09-01"}, res.Record.ActionRequired[0])
	assert.Equal(t, model.ActionItem{Owner: "ops", Task: "review limits"}, res.Record.ActionRequired[1])
}

func TestParse_HeaderAfterShebang(t *testing.T) {
	raw := `#!/usr/bin/env python3
# Contract-Header: v1/code
# File: scripts/run.py
# Description: runner
# Inputs: None
# Outputs: main
# LastGenerated: 2026-08-20T10:00:00Z
import sys
`
	res := Parse([]byte(raw), "scripts/run.py", model.KindCode, testConventions, 0)
	require.Equal(t, StatusParsed, res.Status, "issues: %v", res.Issues)
	body := string(Body([]byte(raw), res))
	assert.Contains(t, body, "import sys")
}

func TestParse_AdjacentBodyCommentStaysInBody(t *testing.T) {
	// A comment shaped like "key: value" touching the header block is body
	// content. Absorbing it would drift the checksum and regeneration would
	// delete the line.
	body := []byte("# note: keep this comment\nprint('x')\n")
	rec := &model.HeaderRecord{
		Path:          "scripts/run.py",
		Kind:          model.KindCode,
		Description:   "runner",
		Outputs:       []model.Requirement{{Name: "main"}},
		LastGenerated: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
		Checksum:      BodyChecksum(body),
	}
	raw := append(Serialize(rec, Convention{LinePrefix: "#"}), body...)

	res := Parse(raw, "scripts/run.py", model.KindCode, testConventions, 0)
	require.Equal(t, StatusParsed, res.Status, "issues: %v", res.Issues)
	assert.Equal(t, string(body), string(Body(raw, res)))
	assert.Equal(t, rec.Checksum, BodyChecksum(Body(raw, res)))
}

func TestParse_TrailingTodoCommentStaysInBody(t *testing.T) {
	raw := `// Contract-Header: v1/code
// File: f.go
// Description: d
// Inputs: None
// Outputs: None
// LastGenerated: 2026-08-20T10:00:00Z
// TODO: fix the retry path
package thermal
`
	res := Parse([]byte(raw), "f.go", model.KindCode, testConventions, 0)
	require.Equal(t, StatusParsed, res.Status, "issues: %v", res.Issues)
	assert.Contains(t, string(Body([]byte(raw), res)), "// TODO: fix the retry path")
}

func TestParse_DelimitedLeadingAsterisks(t *testing.T) {
	raw := `/*
 * Contract-Header: v1/code
 * File: f.c
 * Description: motor driver
 * Inputs: duty(float)
 * Outputs: spin
 * LastGenerated: 2026-08-20T10:00:00Z
 */
int spin(void);
`
	res := Parse([]byte(raw), "f.c", model.KindCode, testConventions, 0)
	require.Equal(t, StatusParsed, res.Status, "issues: %v", res.Issues)
	assert.Equal(t, "motor driver", res.Record.Description)
	assert.Equal(t, []model.Requirement{{Name: "duty", Type: "float"}}, res.Record.Inputs)
	assert.Equal(t, "int spin(void);\n", string(Body([]byte(raw), res)))
}

func TestParse_WindowBound(t *testing.T) {
	// A header buried past the window is not found.
	var raw string
	for i := 0; i < 60; i++ {
		raw += "filler line\n"
	}
	raw += prefixedHeader
	res := Parse([]byte(raw), "f.go", model.KindCode, testConventions, 40)
	assert.Equal(t, StatusAbsent, res.Status)
}

func TestParse_DependenciesCanonicalSet(t *testing.T) {
	raw := `# Contract-Header: v1/code
# File: f.go
# Description: d
# Inputs: None
# Outputs: None
# Dependencies: b.md, a.md, b.md
# LastGenerated: 2026-08-20T10:00:00Z
`
	res := Parse([]byte(raw), "f.go", model.KindCode, testConventions, 0)
	require.Equal(t, StatusParsed, res.Status)
	assert.Equal(t, []string{"a.md", "b.md"}, res.Record.Dependencies)
}
