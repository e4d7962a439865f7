package fingerprint

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"

	"github.com/fablab-systems/hdrctl/internal/model"
)

// declRes matches top-level callable declarations across the common
// source shapes the engine meets (Go, Python, JavaScript/TypeScript).
// Matching is line-oriented on purpose: under-reporting is acceptable,
// inventing entry points is not.
var declRes = []*regexp.Regexp{
	regexp.MustCompile(`^func\s+(?:\([^)]*\)\s+)?([A-Za-z_]\w*)\s*\(([^)]*)\)`),
	regexp.MustCompile(`^def\s+([A-Za-z_]\w*)\s*\(([^)]*)\)`),
	regexp.MustCompile(`^(?:export\s+)?(?:async\s+)?function\s+([A-Za-z_]\w*)\s*\(([^)]*)\)`),
	regexp.MustCompile(`^(?:export\s+)?const\s+([A-Za-z_]\w*)\s*=\s*(?:async\s*)?\(([^)]*)\)\s*=>`),
}

// CodeExtractor detects named entry points and their parameter lists.
type CodeExtractor struct{}

func (CodeExtractor) Kind() model.Kind { return model.KindCode }

func (CodeExtractor) Extract(body []byte) Fingerprint {
	fp := Fingerprint{Known: true}
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		for _, re := range declRes {
			m := re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			name := m[1]
			if name == "_" || strings.HasPrefix(name, "_") {
				// Private by convention; not part of the declared interface.
				break
			}
			fp.Points = append(fp.Points, Point{
				Name:   name,
				Role:   RoleEntryPoint,
				Params: paramNames(m[2]),
			})
			break
		}
	}
	if err := sc.Err(); err != nil {
		return Fingerprint{}
	}
	return fp
}

// paramNames pulls the bare names out of a parameter list, dropping types,
// defaults, and receiver noise.
func paramNames(list string) []string {
	var names []string
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" || part == "self" {
			continue
		}
		// Strip defaults ("x=1") and type annotations ("x: int").
		if i := strings.IndexAny(part, "=:"); i >= 0 {
			part = strings.TrimSpace(part[:i])
		}
		// Go style "name type": the name is the first token.
		fields := strings.Fields(part)
		if len(fields) == 0 {
			continue
		}
		name := strings.TrimLeft(fields[0], "*&.")
		if name == "" || name == "_" {
			continue
		}
		if !identRe.MatchString(name) {
			continue
		}
		names = append(names, name)
	}
	return names
}

var identRe = regexp.MustCompile(`^[A-Za-z_]\w*$`)
