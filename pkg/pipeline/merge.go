package pipeline

import (
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/ymparistovahti/vahti/pkg/domain/model"
	"github.com/ymparistovahti/vahti/pkg/domain/types"
)

// mergeThreshold is the score above which a candidate case absorbs the
// new extraction instead of a new case being created.
const mergeThreshold = 0.8

// mergeProbe is the extraction side of the merge comparison
type mergeProbe struct {
	Municipality string
	Entities     []string
	Locations    []string
	Headline     string
	Category     types.Category
}

// scoreMerge computes the match score between an existing case and a new
// extraction: identical entity or permit number 0.6, overlapping
// location 0.2, category match 0.1, title similarity 0.1.
func scoreMerge(c *model.Case, probe mergeProbe) float64 {
	var score float64
	if overlaps(c.Entities, probe.Entities) {
		score += 0.6
	}
	if overlaps(c.Locations, probe.Locations) {
		score += 0.2
	}
	if c.PrimaryCategory == probe.Category {
		score += 0.1
	}
	if titleSimilarity(c.Headline, probe.Headline) >= 0.7 {
		score += 0.1
	}
	return score
}

// bestMerge returns the highest-scoring candidate above the merge
// threshold, or nil.
func bestMerge(candidates []*model.Case, probe mergeProbe) (*model.Case, float64) {
	var best *model.Case
	var bestScore float64
	for _, c := range candidates {
		if s := scoreMerge(c, probe); s > bestScore {
			best, bestScore = c, s
		}
	}
	if bestScore <= mergeThreshold {
		return nil, bestScore
	}
	return best, bestScore
}

func overlaps(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, s := range a {
		if n := normalizeTerm(s); n != "" {
			set[n] = true
		}
	}
	for _, s := range b {
		if set[normalizeTerm(s)] {
			return true
		}
	}
	return false
}

func normalizeTerm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// titleSimilarity is the normalized Levenshtein similarity of two
// headlines in [0, 1].
func titleSimilarity(a, b string) float64 {
	na, nb := normalizeTerm(a), normalizeTerm(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	dist := levenshtein.ComputeDistance(na, nb)
	longest := len([]rune(na))
	if l := len([]rune(nb)); l > longest {
		longest = l
	}
	return 1 - float64(dist)/float64(longest)
}
