package models

// Result is one hit returned by a search provider. Score is the provider's
// relevance in [0,1] when it reports one, otherwise a rank-derived value.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// RankScore derives a relevance for providers that only report position.
// The first of k results scores 1 and scores fall linearly toward 1/k.
func RankScore(index, k int) float64 {
	if k <= 0 {
		return 0
	}
	return 1 - float64(index)/float64(k)
}
