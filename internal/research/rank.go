package research

import (
	"net/url"
	"path"
	"sort"
	"strings"
)

var trackingParams = map[string]struct{}{
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {},
	"utm_content": {}, "gclid": {}, "fbclid": {}, "msclkid": {},
}

// URLKey returns the key used to deduplicate sources: lower-cased scheme and
// host, default ports, fragments and tracking parameters dropped, path cleaned.
// Strings that do not parse as absolute URLs are compared trimmed and
// lower-cased.
func URLKey(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(raw)
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(scheme == "http" && port == "80") && !(scheme == "https" && port == "443") {
		host += ":" + port
	}
	p := path.Clean("/" + u.Path)
	if p == "/" {
		p = ""
	}
	q := u.Query()
	for k := range q {
		if _, drop := trackingParams[strings.ToLower(k)]; drop {
			q.Del(k)
		}
	}
	key := scheme + "://" + host + p
	if enc := q.Encode(); enc != "" {
		key += "?" + enc
	}
	return key
}

// ClampUnit bounds v to [0,1].
func ClampUnit(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// RankSources clamps scores, sorts by descending relevance keeping provider
// order for ties, drops later duplicates of the same URL and keeps at most
// limit entries (limit <= 0 means no cap).
func RankSources(in []Source, limit int) []Source {
	ranked := make([]Source, len(in))
	for i, s := range in {
		s.RelevanceScore = ClampUnit(s.RelevanceScore)
		ranked[i] = s
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RelevanceScore > ranked[j].RelevanceScore
	})
	seen := make(map[string]struct{}, len(ranked))
	out := make([]Source, 0, len(ranked))
	for _, s := range ranked {
		key := URLKey(s.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// MeanConfidence is the unweighted mean of claim confidences, 0 for none.
func MeanConfidence(claims []Claim) float64 {
	if len(claims) == 0 {
		return 0
	}
	var sum float64
	for _, c := range claims {
		sum += ClampUnit(c.Confidence)
	}
	return ClampUnit(sum / float64(len(claims)))
}

// Tally counts claims per verdict.
func Tally(claims []Claim) ValidationStats {
	st := ValidationStats{Total: len(claims)}
	for _, c := range claims {
		switch c.Verdict {
		case VerdictSupported:
			st.Supported++
		case VerdictUnsupported:
			st.Unsupported++
		default:
			st.Uncertain++
		}
	}
	return st
}
