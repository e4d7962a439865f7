package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablab-systems/hdrctl/internal/fingerprint"
	"github.com/fablab-systems/hdrctl/internal/header"
	"github.com/fablab-systems/hdrctl/internal/model"
)

var codeConventions = []header.Convention{{LinePrefix: "//"}, {LinePrefix: "#"}}

func parseFixture(t *testing.T, raw string, kind model.Kind) (header.Result, []byte) {
	t.Helper()
	res := header.Parse([]byte(raw), "fixture", kind, codeConventions, 0)
	return res, header.Body([]byte(raw), res)
}

func TestEvaluateStaleness_AbsentHeader(t *testing.T) {
	res, body := parseFixture(t, "package x\n\nfunc F() {}\n", model.KindCode)
	fp := fingerprint.CodeExtractor{}.Extract(body)

	ev := EvaluateStaleness(res, fp, header.BodyChecksum(body))
	assert.Equal(t, model.StalenessAbsent, ev.Staleness)
}

func TestEvaluateStaleness_ValidHeader(t *testing.T) {
	body := "package x\n\nfunc Run(count int) {}\n"
	rec := &model.HeaderRecord{
		Path:        "fixture",
		Kind:        model.KindCode,
		Description: "runner",
		Inputs:      []model.Requirement{{Name: "count"}},
		Outputs:     []model.Requirement{{Name: "Run"}},
		Checksum:    header.BodyChecksum([]byte(body)),
	}
	raw := string(header.Serialize(rec, header.Convention{LinePrefix: "//"})) + body

	res, gotBody := parseFixture(t, raw, model.KindCode)
	require.Equal(t, header.StatusParsed, res.Status)
	fp := fingerprint.CodeExtractor{}.Extract(gotBody)

	ev := EvaluateStaleness(res, fp, header.BodyChecksum(gotBody))
	assert.Equal(t, model.StalenessValid, ev.Staleness, "reasons: %v", ev.Reasons)
}

func TestEvaluateStaleness_ChecksumMismatch(t *testing.T) {
	raw := `// Contract-Header: v1/code
// File: fixture
// Description: edited since generation
// Inputs: None
// Outputs: None
// LastGenerated: 2026-08-20T10:00:00Z
// Checksum: sha256:0000000000000000
package x
`
	res, body := parseFixture(t, raw, model.KindCode)
	ev := EvaluateStaleness(res, fingerprint.Fingerprint{Known: true}, header.BodyChecksum(body))
	assert.Equal(t, model.StalenessStale, ev.Staleness)
	assert.Contains(t, ev.Reasons, model.ReasonChecksumMismatch)
}

func TestEvaluateStaleness_FingerprintDrift(t *testing.T) {
	raw := `// Contract-Header: v1/code
// File: fixture
// Description: stale interface
// Inputs: None
// Outputs: Run
// LastGenerated: 2026-08-20T10:00:00Z
package x
`
	res, body := parseFixture(t, raw, model.KindCode)
	// Body grew a new entry point the header does not name.
	fp := fingerprint.Fingerprint{Known: true, Points: []fingerprint.Point{
		{Name: "Run", Role: fingerprint.RoleEntryPoint},
		{Name: "Stop", Role: fingerprint.RoleEntryPoint},
	}}

	ev := EvaluateStaleness(res, fp, header.BodyChecksum(body))
	assert.Equal(t, model.StalenessStale, ev.Staleness)
	assert.Contains(t, ev.Reasons, model.ReasonFingerprintDrift)
	assert.Equal(t, []string{"Stop"}, ev.Undeclared)
}

func TestEvaluateStaleness_NoChecksumSubsetIsValid(t *testing.T) {
	raw := `// Contract-Header: v1/code
// File: fixture
// Description: declares more than detected
// Inputs: legacy_flag
// Outputs: Run
// LastGenerated: 2026-08-20T10:00:00Z
package x
`
	res, body := parseFixture(t, raw, model.KindCode)
	fp := fingerprint.Fingerprint{Known: true, Points: []fingerprint.Point{
		{Name: "Run", Role: fingerprint.RoleEntryPoint},
	}}

	ev := EvaluateStaleness(res, fp, header.BodyChecksum(body))
	assert.Equal(t, model.StalenessValid, ev.Staleness,
		"fingerprint subset of declared interface with no checksum is valid")
}

func TestEvaluateStaleness_MissingRequiredField(t *testing.T) {
	raw := `// Contract-Header: v1/code
// File: fixture
// Inputs: None
// Outputs: None
// LastGenerated: 2026-08-20T10:00:00Z
package x
`
	res, body := parseFixture(t, raw, model.KindCode)
	ev := EvaluateStaleness(res, fingerprint.Fingerprint{Known: true}, header.BodyChecksum(body))
	assert.Equal(t, model.StalenessStale, ev.Staleness)
	assert.Contains(t, ev.Reasons, model.ReasonMissingField)
	assert.Contains(t, ev.MissingFields, "Description")
}

func TestEvaluateStaleness_UnknownInterfaceForcesRegeneration(t *testing.T) {
	raw := `// Contract-Header: v1/code
// File: fixture
// Description: d
// Inputs: None
// Outputs: None
// LastGenerated: 2026-08-20T10:00:00Z
package x
`
	res, body := parseFixture(t, raw, model.KindCode)
	ev := EvaluateStaleness(res, fingerprint.Fingerprint{}, header.BodyChecksum(body))
	assert.Equal(t, model.StalenessStale, ev.Staleness)
	assert.Contains(t, ev.Reasons, model.ReasonInterfaceUnknown)
}

func TestEvaluateStaleness_MalformedMapsThrough(t *testing.T) {
	raw := `// Contract-Header: v1/code
// File: fixture
// Description: d
// Inputs: None
// Outputs: None
// LastGenerated: not-a-time
package x
`
	res, body := parseFixture(t, raw, model.KindCode)
	ev := EvaluateStaleness(res, fingerprint.Fingerprint{Known: true}, header.BodyChecksum(body))
	assert.Equal(t, model.StalenessMalformed, ev.Staleness)
}
