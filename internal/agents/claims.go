package agents

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/researchd/internal/research"
)

var listMarker = regexp.MustCompile(`^\s*(?:[-*•·]+|\(?\d+[.)]|[a-zA-Z][.)])\s+`)

// parseClaims turns an LLM claim listing into at most max distinct claims.
// Bullets, numbering and surrounding quotes are stripped; headings (lines
// ending in ':') and blank lines are dropped.
func parseClaims(text string, max int) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = listMarker.ReplaceAllString(line, "")
		line = strings.Trim(strings.TrimSpace(line), `"*`)
		line = strings.TrimSpace(line)
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		key := strings.ToLower(line)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, line)
		if len(out) == max {
			break
		}
	}
	return out
}

// verdictFor maps the fact-checker vocabulary onto the three verdicts.
func verdictFor(raw string) research.Verdict {
	v := strings.ToUpper(strings.TrimSpace(strings.Trim(raw, `"*[] .`)))
	v = strings.ReplaceAll(v, " ", "_")
	switch v {
	case "SUPPORTED", "TRUE", "CONFIRMED":
		return research.VerdictSupported
	case "UNSUPPORTED", "CONTRADICTED", "REFUTED", "FALSE":
		return research.VerdictUnsupported
	default:
		return research.VerdictUncertain
	}
}

// parseVerdict reads VERDICT/CONFIDENCE/EXPLANATION lines. Missing fields
// default to UNCERTAIN, 0.5 and the whole response respectively.
func parseVerdict(text string) (research.Verdict, float64, string) {
	verdict := research.VerdictUncertain
	confidence := 0.5
	explanation := strings.TrimSpace(text)
	for _, line := range strings.Split(text, "\n") {
		line = listMarker.ReplaceAllString(strings.ReplaceAll(line, "*", ""), "")
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "VERDICT":
			verdict = verdictFor(value)
		case "CONFIDENCE":
			if c, ok := parseConfidence(value); ok {
				confidence = c
			}
		case "EXPLANATION":
			if value != "" {
				explanation = value
			}
		}
	}
	return verdict, research.ClampUnit(confidence), explanation
}

// parseConfidence reads a unit-interval score. A "%" suffix, or a whole
// number in (1, 100], is read as a percentage; anything else is clamped.
func parseConfidence(raw string) (float64, bool) {
	raw = strings.Trim(strings.TrimSpace(raw), "[]")
	pct := strings.HasSuffix(raw, "%")
	raw = strings.TrimSuffix(raw, "%")
	if f := strings.Fields(raw); len(f) > 0 {
		raw = f[0]
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	if pct || (v > 1 && v <= 100 && v == math.Trunc(v)) {
		v /= 100
	}
	return research.ClampUnit(v), true
}
