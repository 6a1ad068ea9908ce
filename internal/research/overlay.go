package research

import "strings"

// Field identifies the State fields a stage is responsible for.
type Field uint16

const (
	FieldMemoryContext Field = 1 << iota
	FieldResearchResults
	FieldSummaries
	FieldCombinedSummary
	FieldValidations
	FieldOverallConfidence
	FieldValidationStats
	FieldFinalResponse
)

// Has reports whether all bits of o are set in f.
func (f Field) Has(o Field) bool { return f&o == o }

func (f Field) String() string {
	names := []struct {
		bit  Field
		name string
	}{
		{FieldMemoryContext, "memory_context"},
		{FieldResearchResults, "research_results"},
		{FieldSummaries, "summaries"},
		{FieldCombinedSummary, "combined_summary"},
		{FieldValidations, "validations"},
		{FieldOverallConfidence, "overall_confidence"},
		{FieldValidationStats, "validation_stats"},
		{FieldFinalResponse, "final_response"},
	}
	var parts []string
	for _, n := range names {
		if f.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Overlay returns s with only the owned fields replaced by the values in p.
// Query, ActivityLog and ErrorMessage belong to the engine and always pass
// through from s.
func (s State) Overlay(p State, owned Field) State {
	out := s
	if owned.Has(FieldMemoryContext) {
		out.MemoryContext = p.MemoryContext
	}
	if owned.Has(FieldResearchResults) {
		out.ResearchResults = p.ResearchResults
	}
	if owned.Has(FieldSummaries) {
		out.Summaries = p.Summaries
	}
	if owned.Has(FieldCombinedSummary) {
		out.CombinedSummary = p.CombinedSummary
	}
	if owned.Has(FieldValidations) {
		out.Validations = p.Validations
	}
	if owned.Has(FieldOverallConfidence) {
		out.OverallConfidence = p.OverallConfidence
	}
	if owned.Has(FieldValidationStats) {
		out.ValidationStats = p.ValidationStats
	}
	if owned.Has(FieldFinalResponse) {
		out.FinalResponse = p.FinalResponse
	}
	return out
}
