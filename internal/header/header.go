// Package header reads and writes the Contract-Header block at the head of
// an artifact. Parsing is a pure read over a bounded leading window; the
// comment conventions to try are supplied by the caller, never hard-coded
// per artifact kind.
package header

import "github.com/fablab-systems/hdrctl/internal/model"

// Marker is the key that identifies a contract header block.
const Marker = "Contract-Header"

// Version is the header format version written by the generator and
// accepted by the parser.
const Version = "v1"

// DefaultWindow is how many leading lines are scanned for a header block
// when the caller does not configure a window.
const DefaultWindow = 40

// Convention describes one comment style a header block may be wrapped in:
// either a line prefix repeated on every line, or a delimited block.
type Convention struct {
	LinePrefix string `yaml:"line_prefix" mapstructure:"line_prefix"`
	BlockStart string `yaml:"block_start" mapstructure:"block_start"`
	BlockEnd   string `yaml:"block_end" mapstructure:"block_end"`
}

// IsBlock reports whether the convention uses delimited-block style.
func (c Convention) IsBlock() bool {
	return c.BlockStart != "" && c.BlockEnd != ""
}

// Status is the outcome of a parse attempt. Absent and Malformed are
// distinct on purpose: Absent triggers plain generation, Malformed triggers
// the stricter partial-preserve path.
type Status string

const (
	StatusParsed    Status = "parsed"
	StatusAbsent    Status = "absent"
	StatusMalformed Status = "malformed"
)

// RequiredKeys are the keys every header must carry. A missing key leaves
// the header parseable (the evaluator classifies it STALE); an unparsable
// value for one of these makes the block Malformed.
var RequiredKeys = []string{Marker, "File", "Description", "Inputs", "Outputs", "LastGenerated"}

// Result is the outcome of parsing an artifact's leading window.
type Result struct {
	Status Status
	// Record is fully populated for StatusParsed; for StatusMalformed it
	// holds only the fields that re-parsed confidently; nil for StatusAbsent.
	Record *model.HeaderRecord
	// Fields marks which keys were present in the block.
	Fields map[string]bool
	// Issues lists non-fatal parse problems (bad optional values, junk lines).
	Issues []string

	// Line span [start, end) of the header block in the raw artifact,
	// used to strip the block when computing the body.
	start, end int
}

// Staleness maps the parse status to its staleness classification for the
// two terminal cases. Parsed headers need the full evaluator.
func (r Result) Staleness() (model.Staleness, bool) {
	switch r.Status {
	case StatusAbsent:
		return model.StalenessAbsent, true
	case StatusMalformed:
		return model.StalenessMalformed, true
	}
	return "", false
}
