package agents

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/researchd/internal/helpers"
	"github.com/mohammad-safakhou/researchd/internal/research"
	"github.com/mohammad-safakhou/researchd/memory"
)

const (
	digestSystem    = "You are an expert research assistant who writes faithful, concise summaries."
	synthesisSystem = "You are an expert research analyst."
	claimsSystem    = "You are an expert at identifying factual claims."
	verdictSystem   = "You are an expert fact-checker."
	presenterSystem = "You are an expert research presenter who communicates complex information clearly."
)

func digestPrompt(query string, src research.Source, words int) string {
	return fmt.Sprintf(`Provide a concise summary in approximately %d words of the following source, focusing on what is relevant to the question "%s".

Title: %s
URL: %s

Text to summarize:
%s

Summary:`, words, query, src.Title, src.URL, src.Excerpt)
}

func synthesisPrompt(query, memoryContext string, digests []research.Digest) string {
	var b strings.Builder
	for i, d := range digests {
		fmt.Fprintf(&b, "Source %d (%s): %s\n\n", i+1, d.SourceTitle, d.Summary)
	}
	prior := ""
	if memoryContext != "" {
		prior = "\nEarlier research on related questions (may be outdated):\n" + memoryContext + "\n"
	}
	return fmt.Sprintf(`Given the following summaries from multiple sources about "%s", create a cohesive, well-structured summary that synthesizes the key information.

Summaries:
%s%s
Please provide a comprehensive summary that:
1. Identifies the main themes
2. Highlights key insights
3. Notes any contradictions or disagreements
4. Organizes information logically`, query, strings.TrimSpace(b.String()), prior)
}

func claimsPrompt(text string, max int) string {
	return fmt.Sprintf(`Extract the %d most important factual claims from the following text.
List only the claims, one per line, without numbering or bullet points.

Text:
%s

Claims:`, max, text)
}

type evidence struct {
	Title   string
	URL     string
	Snippet string
}

func verdictPrompt(claim string, ev []evidence) string {
	var b strings.Builder
	for _, e := range ev {
		fmt.Fprintf(&b, "Source: %s\n%s\n\n", e.Title, e.Snippet)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		text = "(no evidence found)"
	}
	return fmt.Sprintf(`You are a fact-checker. Analyze the following claim and evidence.

Claim: %s

Evidence from web sources:
%s

Provide a validation assessment with:
1. Verdict: "SUPPORTED", "CONTRADICTED", or "INSUFFICIENT_EVIDENCE"
2. Confidence score (0.0 to 1.0)
3. Brief explanation

Format your response as:
VERDICT: [verdict]
CONFIDENCE: [score]
EXPLANATION: [explanation]`, claim, text)
}

func presenterPrompt(s research.State, maxSources int) string {
	var validations strings.Builder
	if len(s.Validations) > 0 {
		validations.WriteString("\n\nValidation Results:\n")
		for _, c := range s.Validations {
			fmt.Fprintf(&validations, "- %s: %s (confidence: %.2f)\n", c.Text, c.Verdict, c.Confidence)
		}
	}
	var sources strings.Builder
	if len(s.ResearchResults) > 0 {
		sources.WriteString("\n\nSources:\n")
		for i, src := range s.ResearchResults {
			if i >= maxSources {
				break
			}
			fmt.Fprintf(&sources, "%d. %s (%s)\n", i+1, src.Title, src.URL)
		}
	}
	summary := s.CombinedSummary
	if strings.TrimSpace(summary) == "" {
		summary = "(no research summary is available; answer from general knowledge and say so)"
	}
	return fmt.Sprintf(`You are presenting research findings to a user. Create a comprehensive, well-structured response.

User Query: %s

Research Summary:
%s%s%s

Overall Confidence Score: %.2f

Please create a final response that:
1. Directly answers the user's query
2. Presents key findings in a clear, organized manner
3. Uses markdown formatting (headings, bullet points, bold, etc.)
4. Includes the confidence assessment
5. Cites the number of sources verified
6. Is engaging and easy to read

Format the response professionally with proper markdown.`, s.Query, summary, validations.String(), sources.String(), s.Confidence())
}

func metadataFooter(s research.State) string {
	var b strings.Builder
	b.WriteString("\n\n---\n\n")
	if len(s.ResearchResults) == 0 {
		b.WriteString("_" + NoSourcesMessage + "_\n\n")
	}
	b.WriteString("**Research Metadata:**\n")
	fmt.Fprintf(&b, "- Sources analyzed: %d\n", len(s.ResearchResults))
	fmt.Fprintf(&b, "- Claims validated: %d\n", len(s.Validations))
	fmt.Fprintf(&b, "- Overall confidence: %.1f%%\n", s.Confidence()*100)
	return b.String()
}

func memoryContextText(hits []memory.Hit, answerChars int) string {
	var b strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&b, "- Q: %s (confidence %.2f)\n  A: %s\n", h.Query, h.Confidence, helpers.Excerpt(h.Answer, answerChars))
	}
	return strings.TrimRight(b.String(), "\n")
}
