package header

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/fablab-systems/hdrctl/internal/model"
)

var (
	keyValueRe    = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_-]*):\s*(.*)$`)
	requirementRe = regexp.MustCompile(`^([\w./-]+)\s*(?:\(([^)]*)\))?$`)
)

// Parse scans the leading window of raw for a contract header, trying each
// supplied comment convention in order. It is a pure read: no file access,
// no side effects. window <= 0 falls back to DefaultWindow.
func Parse(raw []byte, path string, kind model.Kind, conventions []Convention, window int) Result {
	if window <= 0 {
		window = DefaultWindow
	}
	lines := splitLines(raw)

	block, ok := findBlock(lines, conventions, window)
	if !ok {
		return Result{Status: StatusAbsent}
	}

	p := &blockParser{
		path: path,
		kind: kind,
	}
	rec := p.parse(block.inner)

	res := Result{
		Record: rec,
		Fields: p.fields,
		Issues: p.issues,
		start:  block.start,
		end:    block.end,
	}
	if p.malformed {
		res.Status = StatusMalformed
	} else {
		res.Status = StatusParsed
	}
	return res
}

// Body returns raw with the parsed header block removed. For an absent
// header the body is the whole artifact.
func Body(raw []byte, res Result) []byte {
	if res.Status == StatusAbsent {
		return raw
	}
	lines := splitLines(raw)
	body := make([]byte, 0, len(raw))
	for i, ln := range lines {
		if i >= res.start && i < res.end {
			continue
		}
		body = append(body, ln...)
	}
	return body
}

// splitLines splits raw into lines, each retaining its trailing newline so
// the original bytes can be reassembled exactly.
func splitLines(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var lines []string
	start := 0
	for i, b := range raw {
		if b == '\n' {
			lines = append(lines, string(raw[start:i+1]))
			start = i + 1
		}
	}
	if start < len(raw) {
		lines = append(lines, string(raw[start:]))
	}
	return lines
}

// candidateBlock is a located header block: inner lines with comment
// decoration stripped, plus the line span it occupies.
type candidateBlock struct {
	inner      []string
	start, end int
}

func findBlock(lines []string, conventions []Convention, window int) (candidateBlock, bool) {
	limit := len(lines)
	if window < limit {
		limit = window
	}
	for _, conv := range conventions {
		if conv.IsBlock() {
			if b, ok := findDelimitedBlock(lines, limit, conv); ok {
				return b, true
			}
		}
		if conv.LinePrefix != "" {
			if b, ok := findPrefixedBlock(lines, limit, conv); ok {
				return b, true
			}
		}
	}
	return candidateBlock{}, false
}

func findDelimitedBlock(lines []string, limit int, conv Convention) (candidateBlock, bool) {
	for i := 0; i < limit; i++ {
		if !strings.HasPrefix(strings.TrimSpace(lines[i]), conv.BlockStart) {
			continue
		}
		for j := i + 1; j < len(lines); j++ {
			if !strings.Contains(lines[j], conv.BlockEnd) {
				continue
			}
			inner := make([]string, 0, j-i-1)
			hasMarker := false
			for _, ln := range lines[i+1 : j] {
				s := strings.TrimRight(strings.TrimSpace(ln), "\n")
				s = strings.TrimSpace(strings.TrimRight(s, "\r"))
				// Accept the "/* * Key: value */" style with a leading
				// asterisk on each inner line.
				s = strings.TrimSpace(strings.TrimPrefix(s, "*"))
				inner = append(inner, s)
				if strings.HasPrefix(s, Marker+":") {
					hasMarker = true
				}
			}
			if !hasMarker {
				break // a leading comment block that is not a header
			}
			return candidateBlock{inner: inner, start: i, end: j + 1}, true
		}
		// Unterminated block start; try later lines or other conventions.
	}
	return candidateBlock{}, false
}

func findPrefixedBlock(lines []string, limit int, conv Convention) (candidateBlock, bool) {
	prefix := conv.LinePrefix
	markerAt := -1
	for i := 0; i < limit; i++ {
		s, ok := stripPrefix(lines[i], prefix)
		if ok && strings.HasPrefix(s, Marker+":") {
			markerAt = i
			break
		}
	}
	if markerAt < 0 {
		return candidateBlock{}, false
	}

	// Expand to the contiguous run of prefixed lines around the marker,
	// but only absorb recognized header content. A shebang, an ordinary
	// comment, or a "key: value" note with a key the serializer never
	// emits touches the block yet belongs to the body; absorbing it would
	// drift the body checksum and delete the line on regeneration.
	start := markerAt
	for start > 0 {
		s, ok := stripPrefix(lines[start-1], prefix)
		if !ok || !isHeaderLine(s) {
			break
		}
		start--
	}
	end := markerAt + 1
	for end < len(lines) {
		s, ok := stripPrefix(lines[end], prefix)
		if !ok || !isHeaderLine(s) {
			break
		}
		end++
	}

	inner := make([]string, 0, end-start)
	for _, ln := range lines[start:end] {
		s, _ := stripPrefix(ln, prefix)
		inner = append(inner, s)
	}
	return candidateBlock{inner: inner, start: start, end: end}, true
}

// headerKeys are the keys the serializer emits. Prefixed-block expansion
// absorbs only these and their "- " continuations.
var headerKeys = map[string]bool{
	Marker:             true,
	"File":             true,
	"Description":      true,
	"Inputs":           true,
	"Outputs":          true,
	"Dependencies":     true,
	"Confidence":       true,
	"ActionRequired":   true,
	"SafetyBoundaries": true,
	"Notes":            true,
	"LastGenerated":    true,
	"Checksum":         true,
}

// isHeaderLine reports whether a stripped line belongs to a header block:
// a "Key: value" line with a known header key, or a "- " sub-item.
func isHeaderLine(s string) bool {
	if strings.HasPrefix(s, "- ") || s == "-" {
		return true
	}
	m := keyValueRe.FindStringSubmatch(s)
	return m != nil && headerKeys[m[1]]
}

func stripPrefix(line, prefix string) (string, bool) {
	s := strings.TrimSpace(strings.TrimRight(line, "\n"))
	s = strings.TrimSpace(strings.TrimRight(s, "\r"))
	if !strings.HasPrefix(s, prefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(s, prefix)), true
}

// blockParser turns stripped header lines into a HeaderRecord, tracking
// which fields were present and whether any required value was unparsable.
type blockParser struct {
	path      string
	kind      model.Kind
	fields    map[string]bool
	issues    []string
	malformed bool
}

// entry is one parsed key with its inline value and any indented sub-items.
type entry struct {
	value string
	items []string
}

func (p *blockParser) parse(inner []string) *model.HeaderRecord {
	p.fields = make(map[string]bool)

	entries := make(map[string]*entry)
	var order []string
	var current *entry
	for _, ln := range inner {
		if ln == "" {
			continue
		}
		if strings.HasPrefix(ln, "- ") || ln == "-" {
			if current == nil {
				p.issue("sub-item outside any key: %q", ln)
				continue
			}
			current.items = append(current.items, strings.TrimSpace(strings.TrimPrefix(ln, "-")))
			continue
		}
		m := keyValueRe.FindStringSubmatch(ln)
		if m == nil {
			p.issue("unrecognized line: %q", ln)
			continue
		}
		e := &entry{value: strings.TrimSpace(m[2])}
		entries[m[1]] = e
		order = append(order, m[1])
		current = e
		p.fields[m[1]] = true
	}

	if len(entries) <= 1 {
		// A bare marker with no fields is a header in name only.
		p.malformed = true
	}

	rec := &model.HeaderRecord{Path: p.path, Kind: p.kind}

	if e, ok := entries[Marker]; ok {
		p.parseTag(e.value, rec)
	}
	if e, ok := entries["File"]; ok && e.value != "" {
		rec.Path = e.value
	}
	if e, ok := entries["Description"]; ok {
		rec.Description = e.value
	}
	if e, ok := entries["Inputs"]; ok {
		rec.Inputs = p.parseRequirements("Inputs", e)
	}
	if e, ok := entries["Outputs"]; ok {
		rec.Outputs = p.parseRequirements("Outputs", e)
	}
	if e, ok := entries["Dependencies"]; ok {
		rec.Dependencies = canonicalSet(listValues(e))
	}
	if e, ok := entries["Confidence"]; ok {
		c, err := model.ParseConfidence(e.value)
		if err != nil {
			p.issue("Confidence: %v", err)
			delete(p.fields, "Confidence")
		} else {
			rec.Confidence = c
		}
	}
	if e, ok := entries["ActionRequired"]; ok {
		rec.ActionRequired = p.parseActions(e)
	}
	if e, ok := entries["SafetyBoundaries"]; ok {
		rec.SafetyBoundaries = p.parseBoundaries(e)
	}
	if e, ok := entries["Notes"]; ok {
		rec.Notes = e.value
	}
	if e, ok := entries["LastGenerated"]; ok {
		ts, err := time.Parse(time.RFC3339, e.value)
		if err != nil {
			p.required("LastGenerated: not an RFC3339 timestamp: %q", e.value)
		} else {
			rec.LastGenerated = ts.UTC()
		}
	}
	if e, ok := entries["Checksum"]; ok {
		if !strings.HasPrefix(e.value, ChecksumPrefix) {
			p.issue("Checksum: unrecognized digest %q", e.value)
			delete(p.fields, "Checksum")
		} else {
			rec.Checksum = e.value
		}
	}

	return rec
}

// parseTag validates the "Contract-Header: v1/kind" version tag.
func (p *blockParser) parseTag(value string, rec *model.HeaderRecord) {
	version, kindPart, _ := strings.Cut(value, "/")
	if strings.TrimSpace(version) != Version {
		p.required("%s: unsupported version tag %q", Marker, value)
		return
	}
	if kindPart == "" {
		return
	}
	tagKind := model.Kind(strings.TrimSpace(kindPart))
	if !tagKind.Valid() {
		p.required("%s: unknown kind in tag %q", Marker, value)
		return
	}
	if p.kind != "" && tagKind != p.kind {
		p.issue("%s: tag kind %q differs from configured kind %q", Marker, tagKind, p.kind)
	}
	rec.Kind = tagKind
}

func (p *blockParser) parseRequirements(key string, e *entry) []model.Requirement {
	values := listValues(e)
	out := make([]model.Requirement, 0, len(values))
	for _, v := range values {
		m := requirementRe.FindStringSubmatch(v)
		if m == nil {
			p.required("%s: unparsable item %q", key, v)
			continue
		}
		out = append(out, model.Requirement{Name: m[1], Type: strings.TrimSpace(m[2])})
	}
	return out
}

func (p *blockParser) parseActions(e *entry) []model.ActionItem {
	var out []model.ActionItem
	for _, item := range e.items {
		var a model.ActionItem
		ok := true
		for _, part := range strings.Split(item, ";") {
			k, v, found := strings.Cut(part, ":")
			if !found {
				ok = false
				break
			}
			v = strings.TrimSpace(v)
			switch strings.ToLower(strings.TrimSpace(k)) {
			case "owner":
				a.Owner = v
			case "task":
				a.Task = v
			case "due":
				a.Due = v
			default:
				ok = false
			}
		}
		if !ok || a.Owner == "" || a.Task == "" {
			p.issue("ActionRequired: unparsable item %q", item)
			continue
		}
		out = append(out, a)
	}
	if len(out) == 0 {
		delete(p.fields, "ActionRequired")
	}
	return out
}

// parseBoundaries reads either the inline "{ k: v, k2: v2 }" form or
// indented "- k: v" sub-items. Unparsable boundaries are dropped rather
// than guessed at: a missing boundary set fails safe (DRY_RUN), a mangled
// one must not survive as invented data.
func (p *blockParser) parseBoundaries(e *entry) model.BoundarySet {
	items := e.items
	if len(items) == 0 && e.value != "" {
		inline := strings.TrimSpace(e.value)
		inline = strings.TrimPrefix(inline, "{")
		inline = strings.TrimSuffix(inline, "}")
		items = splitList(inline)
	}
	var set model.BoundarySet
	for _, item := range items {
		k, v, found := strings.Cut(item, ":")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !found || k == "" || v == "" {
			p.issue("SafetyBoundaries: unparsable limit %q, dropped", item)
			continue
		}
		set = append(set, model.Boundary{Key: k, Value: v})
	}
	if set == nil {
		delete(p.fields, "SafetyBoundaries")
	}
	return set
}

func (p *blockParser) issue(format string, args ...any) {
	p.issues = append(p.issues, fmt.Sprintf(format, args...))
}

// required records an unparsable required field, which makes the whole
// block malformed.
func (p *blockParser) required(format string, args ...any) {
	p.issue(format, args...)
	p.malformed = true
}

// listValues flattens an entry into its list items: indented sub-items if
// present, otherwise the inline comma-separated value. "None" is an
// explicit empty list.
func listValues(e *entry) []string {
	if len(e.items) > 0 {
		return e.items
	}
	if strings.EqualFold(strings.TrimSpace(e.value), "none") || strings.TrimSpace(e.value) == "" {
		return nil
	}
	return splitList(e.value)
}

// splitList splits on commas that are not inside parentheses.
func splitList(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				if item := strings.TrimSpace(s[start:i]); item != "" {
					out = append(out, item)
				}
				start = i + 1
			}
		}
	}
	if item := strings.TrimSpace(s[start:]); item != "" {
		out = append(out, item)
	}
	return out
}

// canonicalSet sorts and deduplicates, giving dependencies set semantics.
func canonicalSet(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
