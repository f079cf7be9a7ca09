package engine

import (
	"math/rand"
	"sort"

	"github.com/defoss123-ai/bot13/internal/market"
)

// Candidate is a symbol that produced an entry signal this tick.
type Candidate struct {
	Symbol   string
	Score    int
	Reason   string
	Leverage int
	TPPct    float64
	SLPct    float64
	Price    float64
	Info     market.Info
}

// rankCandidates orders by score descending. The sort is stable so
// equal-score candidates keep their pair-list order and round-robin stays
// deterministic.
func rankCandidates(candidates []Candidate) []Candidate {
	ordered := append([]Candidate(nil), candidates...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Score > ordered[j].Score })
	return ordered
}

func selectBestScore(ordered []Candidate, limit int) []Candidate {
	if limit > len(ordered) {
		limit = len(ordered)
	}
	if limit <= 0 {
		return nil
	}
	return ordered[:limit]
}

// selectRoundRobin walks the ordered list from the cursor, wrapping, and
// advances the cursor past what it consumed so successive ticks cover
// every candidate.
func selectRoundRobin(ordered []Candidate, limit, cursor int) ([]Candidate, int) {
	if len(ordered) == 0 || limit <= 0 {
		return nil, cursor
	}
	count := limit
	if count > len(ordered) {
		count = len(ordered)
	}
	start := cursor % len(ordered)
	selected := make([]Candidate, 0, count)
	for i := 0; i < count; i++ {
		selected = append(selected, ordered[(start+i)%len(ordered)])
	}
	return selected, (start + count) % len(ordered)
}

// selectRandomTopK samples from the top K scorers: the whole pool shuffled
// when the limit covers it, otherwise a uniform sample without
// replacement.
func selectRandomTopK(ordered []Candidate, limit, topK int, rng *rand.Rand) []Candidate {
	if len(ordered) == 0 || limit <= 0 {
		return nil
	}
	if topK < 1 {
		topK = 1
	}
	poolSize := topK
	if poolSize > len(ordered) {
		poolSize = len(ordered)
	}
	pool := append([]Candidate(nil), ordered[:poolSize]...)

	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if limit >= len(pool) {
		return pool
	}
	return pool[:limit]
}
