package research

import (
	"time"
)

// Verdict is the outcome of validating one claim.
type Verdict string

const (
	VerdictSupported   Verdict = "SUPPORTED"
	VerdictUnsupported Verdict = "UNSUPPORTED"
	VerdictUncertain   Verdict = "UNCERTAIN"
)

// Source is a single ranked search result gathered by the researcher.
type Source struct {
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	Excerpt        string  `json:"excerpt"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Digest is the summarizer's condensed view of one source.
type Digest struct {
	SourceTitle   string  `json:"source_title"`
	SourceURL     string  `json:"source_url"`
	Summary       string  `json:"summary"`
	OriginalScore float64 `json:"original_score"`
}

// Claim is an atomic factual statement extracted from the combined summary.
type Claim struct {
	Text              string   `json:"claim"`
	Verdict           Verdict  `json:"verdict"`
	Confidence        float64  `json:"confidence"`
	Explanation       string   `json:"explanation"`
	SupportingSources []string `json:"sources"`
}

// ValidationStats counts claims per verdict.
type ValidationStats struct {
	Total       int `json:"total_claims"`
	Supported   int `json:"supported"`
	Unsupported int `json:"unsupported"`
	Uncertain   int `json:"uncertain"`
}

// Level grades an activity line.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// LogLine is one human-readable activity line reported by a stage.
type LogLine struct {
	Agent     string    `json:"agent"`
	Level     Level     `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the record threaded through the pipeline. Fields are populated in
// declaration order; ErrorMessage may truncate the pipeline at any point.
type State struct {
	Query             string          `json:"query"`
	MemoryContext     string          `json:"memory_context,omitempty"`
	ResearchResults   []Source        `json:"research_results"`
	Summaries         []Digest        `json:"summaries"`
	CombinedSummary   string          `json:"combined_summary"`
	Validations       []Claim         `json:"validations"`
	OverallConfidence *float64        `json:"overall_confidence,omitempty"`
	ValidationStats   ValidationStats `json:"validation_stats"`
	FinalResponse     string          `json:"final_response"`
	ActivityLog       []LogLine       `json:"activity_log"`
	ErrorMessage      string          `json:"error,omitempty"`
}

// NewState returns the initial state for a query.
func NewState(query string) State {
	return State{Query: query}
}

// Confidence returns the overall confidence, or 0 when validation never ran.
func (s State) Confidence() float64 {
	if s.OverallConfidence == nil {
		return 0
	}
	return *s.OverallConfidence
}

// Clone returns a deep copy so callers can hand out snapshots safely.
func (s State) Clone() State {
	out := s
	out.ResearchResults = append([]Source(nil), s.ResearchResults...)
	out.Summaries = append([]Digest(nil), s.Summaries...)
	if s.Validations != nil {
		out.Validations = make([]Claim, len(s.Validations))
		for i, c := range s.Validations {
			c.SupportingSources = append([]string(nil), c.SupportingSources...)
			out.Validations[i] = c
		}
	}
	out.ActivityLog = append([]LogLine(nil), s.ActivityLog...)
	if s.OverallConfidence != nil {
		v := *s.OverallConfidence
		out.OverallConfidence = &v
	}
	return out
}

// Float returns a pointer to v; handy for OverallConfidence literals.
func Float(v float64) *float64 { return &v }
