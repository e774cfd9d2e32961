package search

import (
	"sort"

	"subtitlehub/searchservice/internal/domain"
)

// rankCandidates applies the request's perfect-match and forced-only filters
// and sorts by score, highest first. The sort is stable: equal scores keep
// the order in which providers were folded.
func rankCandidates(items []domain.Candidate, request domain.SearchRequest) []domain.Candidate {
	ranked := make([]domain.Candidate, 0, len(items))
	for _, item := range items {
		if request.PerfectMatch && !item.Flags.HashMatch {
			continue
		}
		if request.ForcedOnly && !item.Flags.Forced {
			continue
		}
		ranked = append(ranked, item)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return compareFloat64(ranked[i].Score, ranked[j].Score) > 0
	})
	return ranked
}

func compareFloat64(left, right float64) int {
	switch {
	case left < right:
		return -1
	case left > right:
		return 1
	default:
		return 0
	}
}
