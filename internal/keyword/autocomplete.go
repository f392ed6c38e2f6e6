package keyword

import (
	"sort"
	"strings"

	"github.com/adverant/somhunter/internal/models"
)

type acCandidate struct {
	id        models.KeywordID
	bestLen   int
}

// Find returns up to k distinct keyword IDs whose synset carries a string
// beginning (case-insensitively) with prefix, ordered by shortest matching
// string length then by keyword ID. An empty prefix or k == 0 returns no
// results (spec.md §4.3).
func (r *Ranker) Find(prefix string, k int) []models.KeywordID {
	if prefix == "" || k == 0 {
		return nil
	}
	lowerPrefix := strings.ToLower(prefix)

	seen := make(map[models.KeywordID]int) // id -> best matching length so far
	for _, kw := range r.keywords {
		for _, s := range kw.SynsetStrs {
			if !strings.HasPrefix(strings.ToLower(s), lowerPrefix) {
				continue
			}
			if best, ok := seen[kw.ID]; !ok || len(s) < best {
				seen[kw.ID] = len(s)
			}
		}
	}

	cands := make([]acCandidate, 0, len(seen))
	for id, l := range seen {
		cands = append(cands, acCandidate{id: id, bestLen: l})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].bestLen != cands[j].bestLen {
			return cands[i].bestLen < cands[j].bestLen
		}
		return cands[i].id < cands[j].id
	})

	if k > len(cands) {
		k = len(cands)
	}
	out := make([]models.KeywordID, k)
	for i := 0; i < k; i++ {
		out[i] = cands[i].id
	}
	return out
}
