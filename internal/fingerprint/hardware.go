package fingerprint

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"

	"github.com/fablab-systems/hdrctl/internal/model"
)

// Hardware job scripts declare physical parameters in a few common
// spellings. Both are treated as declarations of the named parameter:
//
//	SET temperature 245        (directive style)
//	temperature = 245          (assignment style)
var (
	directiveRe  = regexp.MustCompile(`(?i)^\s*(?:set|param)\s+([A-Za-z_]\w*)\b`)
	assignmentRe = regexp.MustCompile(`^\s*([A-Za-z_]\w*)\s*=\s*\S`)
)

// HardwareExtractor detects declared physical parameters of a job script.
type HardwareExtractor struct{}

func (HardwareExtractor) Kind() model.Kind { return model.KindHardwareJob }

func (HardwareExtractor) Extract(body []byte) Fingerprint {
	fp := Fingerprint{Known: true}
	seen := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexAny(line, "#;"); i >= 0 {
			line = line[:i]
		}
		name := ""
		if m := directiveRe.FindStringSubmatch(line); m != nil {
			name = m[1]
		} else if m := assignmentRe.FindStringSubmatch(line); m != nil {
			name = m[1]
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		fp.Points = append(fp.Points, Point{Name: name, Role: RoleParameter})
	}
	if err := sc.Err(); err != nil {
		return Fingerprint{}
	}
	return fp
}

// DocumentExtractor is the extractor for prose artifacts. Documents carry
// no structurally detectable interface, so the fingerprint is known and
// empty: an empty set is a subset of any declared interface and never
// flags drift. Declared inputs and outputs of documents are validated by
// the dependency graph instead.
type DocumentExtractor struct{}

func (DocumentExtractor) Kind() model.Kind { return model.KindDocument }

func (DocumentExtractor) Extract(body []byte) Fingerprint {
	return Fingerprint{Known: true}
}
