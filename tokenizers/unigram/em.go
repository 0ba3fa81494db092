package unigram

import (
	"math"
	"sort"
)

const expectedCountFloor = 1e-10

// buildIndex maps each current piece to its entries slot and returns the
// longest piece length (in runes) present, bounding the DP window below.
func buildIndex(entries []pieceEntry) (map[string]int, int) {
	index := make(map[string]int, len(entries))
	maxLen := 1
	for i, e := range entries {
		index[e.Piece] = i
		if n := len([]rune(e.Piece)); n > maxLen {
			maxLen = n
		}
	}
	return index, maxLen
}

func logAdd(a, b float64) float64 {
	if a == negInf {
		return b
	}
	if b == negInf {
		return a
	}
	m := math.Max(a, b)
	return m + math.Log(math.Exp(a-m)+math.Exp(b-m))
}

// runEM alternates the E-step (forward-backward expected counts) and
// M-step (score renormalization) of spec §4.4 for the given number of
// inner iterations, mutating entries' scores in place, and returns the
// expected counts from the final E-step for the caller's pruning decision.
func runEM(entries []pieceEntry, words []trainWord, iterations int) []float64 {
	var expected []float64
	if iterations < 1 {
		iterations = 1
	}
	for iter := 0; iter < iterations; iter++ {
		index, maxLen := buildIndex(entries)
		expected = make([]float64, len(entries))
		for _, w := range words {
			accumulateExpectedCounts(w, entries, index, maxLen, expected)
		}

		var total float64
		for i := range expected {
			if expected[i] < expectedCountFloor {
				expected[i] = expectedCountFloor
			}
			total += expected[i]
		}
		for i := range entries {
			entries[i].Score = math.Log(expected[i] / total)
		}
	}
	return expected
}

// accumulateExpectedCounts runs forward-backward over one training word and
// adds its weighted posterior piece counts into expected.
func accumulateExpectedCounts(w trainWord, entries []pieceEntry, index map[string]int, maxLen int, expected []float64) {
	n := len(w.Runes)
	if n == 0 {
		return
	}

	alpha := make([]float64, n+1)
	for j := 1; j <= n; j++ {
		alpha[j] = negInf
	}
	for j := 1; j <= n; j++ {
		limit := maxLen
		if j < limit {
			limit = j
		}
		for l := 1; l <= limit; l++ {
			if alpha[j-l] == negInf {
				continue
			}
			idx, ok := index[string(w.Runes[j-l:j])]
			if !ok {
				continue
			}
			alpha[j] = logAdd(alpha[j], alpha[j-l]+entries[idx].Score)
		}
	}

	beta := make([]float64, n+1)
	for j := 0; j < n; j++ {
		beta[j] = negInf
	}
	for j := n - 1; j >= 0; j-- {
		limit := maxLen
		if n-j < limit {
			limit = n - j
		}
		for l := 1; l <= limit; l++ {
			if beta[j+l] == negInf {
				continue
			}
			idx, ok := index[string(w.Runes[j:j+l])]
			if !ok {
				continue
			}
			beta[j] = logAdd(beta[j], entries[idx].Score+beta[j+l])
		}
	}

	z := alpha[n]
	if z == negInf {
		return
	}

	for j := 0; j < n; j++ {
		if alpha[j] == negInf {
			continue
		}
		limit := maxLen
		if n-j < limit {
			limit = n - j
		}
		for l := 1; l <= limit; l++ {
			if beta[j+l] == negInf {
				continue
			}
			idx, ok := index[string(w.Runes[j:j+l])]
			if !ok {
				continue
			}
			logPosterior := alpha[j] + entries[idx].Score + beta[j+l] - z
			expected[idx] += w.Freq * math.Exp(logPosterior)
		}
	}
}

// prune removes the removeCount non-mandatory entries with the smallest
// loss-delta — the approximate drop in corpus log-likelihood incurred by
// removing them, ‑E_i·score_i — per spec §4.4 step 5.
func prune(entries []pieceEntry, expected []float64, removeCount int) []pieceEntry {
	type ranked struct {
		index     int
		lossDelta float64
	}
	var candidates []ranked
	for i, e := range entries {
		if e.Mandatory {
			continue
		}
		candidates = append(candidates, ranked{index: i, lossDelta: -expected[i] * e.Score})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].lossDelta != candidates[j].lossDelta {
			return candidates[i].lossDelta < candidates[j].lossDelta
		}
		return entries[candidates[i].index].Piece < entries[candidates[j].index].Piece
	})
	if removeCount > len(candidates) {
		removeCount = len(candidates)
	}

	remove := make(map[int]bool, removeCount)
	for _, c := range candidates[:removeCount] {
		remove[c.index] = true
	}

	kept := make([]pieceEntry, 0, len(entries)-removeCount)
	for i, e := range entries {
		if !remove[i] {
			kept = append(kept, e)
		}
	}
	return kept
}
