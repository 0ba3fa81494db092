// Package bpe implements character-level byte pair encoding (spec §4.2).
//
// merge.go holds the algorithm's reusable core: pair counting, deterministic
// pair selection and incremental merge application. It is deliberately
// vocabulary-agnostic (it knows nothing about ids or special tokens) so that
// tokenizers/bbpe can compose it unchanged over a 256-byte seed alphabet
// instead of re-implementing merge training. The incremental-update
// technique (decrementing/incrementing only the pair counts touched by an
// applied merge, rather than rescanning every word each round) is grounded
// on the teacher pack's zhubert-bpe-tokenizer example (countPairs /
// applyMergeIncremental).
package bpe

// WordEntry is one distinct pre-token's current symbol segmentation and the
// number of times it occurs in the training corpus.
type WordEntry struct {
	Symbols []string
	Freq    int
}

// MergeRule is one learned merge, in the order it was learned. Order is
// significant: it is the priority encoding uses to pick which merge to
// apply first.
type MergeRule struct {
	Left  string
	Right string
}

type pairKey struct {
	L, R string
}

// NewWordEntries aggregates preTokens by distinct value (preserving
// first-seen order) and splits each distinct value into its initial symbol
// sequence via split.
func NewWordEntries(preTokens []string, split func(string) []string) []WordEntry {
	freq := make(map[string]int)
	var order []string
	for _, w := range preTokens {
		if _, ok := freq[w]; !ok {
			order = append(order, w)
		}
		freq[w]++
	}
	entries := make([]WordEntry, 0, len(order))
	for _, w := range order {
		entries = append(entries, WordEntry{Symbols: split(w), Freq: freq[w]})
	}
	return entries
}

// TrainMerges repeatedly selects the highest-frequency adjacent symbol pair
// across words (ties broken lexicographically by left, then right) and
// applies it, until shouldContinue returns false or no pair remains.
//
// onMerge is called with the winning pair before it is applied; it returns
// the merged symbol's string form (ordinarily left+right) and is the
// caller's hook to register the new symbol in its own vocabulary and decide
// whether training has room for it (via shouldContinue on the next round).
// words is mutated in place: each WordEntry's Symbols reflect every merge
// applied so far.
func TrainMerges(words []WordEntry, shouldContinue func() bool, onMerge func(left, right string) string) []MergeRule {
	counts := countAllPairs(words)
	var merges []MergeRule
	for shouldContinue() {
		best, count, found := selectBestPair(counts)
		if !found || count <= 0 {
			break
		}
		merged := onMerge(best.L, best.R)
		merges = append(merges, MergeRule{Left: best.L, Right: best.R})
		applyMerge(words, best, merged, counts)
	}
	return merges
}

func countAllPairs(words []WordEntry) map[pairKey]int {
	counts := make(map[pairKey]int)
	for _, w := range words {
		for i := 0; i+1 < len(w.Symbols); i++ {
			counts[pairKey{w.Symbols[i], w.Symbols[i+1]}] += w.Freq
		}
	}
	return counts
}

// selectBestPair scans the full count map so the result is independent of
// Go's randomized map iteration order: count descending, then left
// ascending, then right ascending.
func selectBestPair(counts map[pairKey]int) (pairKey, int, bool) {
	var best pairKey
	bestCount := 0
	found := false
	for k, c := range counts {
		if c <= 0 {
			continue
		}
		if !found || c > bestCount || (c == bestCount && lessPair(k, best)) {
			best, bestCount, found = k, c, true
		}
	}
	return best, bestCount, found
}

func lessPair(a, b pairKey) bool {
	if a.L != b.L {
		return a.L < b.L
	}
	return a.R < b.R
}

// applyMerge rewrites every word's symbol sequence by merging all
// non-overlapping occurrences of best into merged, left to right, updating
// counts incrementally rather than recounting every word.
func applyMerge(words []WordEntry, best pairKey, merged string, counts map[pairKey]int) {
	for wi := range words {
		syms := words[wi].Symbols
		freq := words[wi].Freq
		if len(syms) < 2 {
			continue
		}
		newSyms := make([]string, 0, len(syms))
		i := 0
		for i < len(syms) {
			if i+1 < len(syms) && syms[i] == best.L && syms[i+1] == best.R {
				if len(newSyms) > 0 {
					left := newSyms[len(newSyms)-1]
					bumpPair(counts, pairKey{left, best.L}, -freq)
					bumpPair(counts, pairKey{left, merged}, freq)
				}
				bumpPair(counts, best, -freq)
				if i+2 < len(syms) {
					right := syms[i+2]
					bumpPair(counts, pairKey{best.R, right}, -freq)
					bumpPair(counts, pairKey{merged, right}, freq)
				}
				newSyms = append(newSyms, merged)
				i += 2
				continue
			}
			newSyms = append(newSyms, syms[i])
			i++
		}
		words[wi].Symbols = newSyms
	}
}

func bumpPair(counts map[pairKey]int, k pairKey, delta int) {
	c := counts[k] + delta
	if c <= 0 {
		delete(counts, k)
		return
	}
	counts[k] = c
}

// ApplyLearnedMerges segments a fresh symbol sequence (not part of the
// training set) using an already-trained merge priority ranking, by
// repeatedly applying the lowest-ranked (earliest-learned) pair present
// among adjacent symbols until none remains. This is the shared encode-time
// algorithm both bpe.Tokenizer and bbpe.Tokenizer use.
func ApplyLearnedMerges(symbols []string, rank map[PairKey]int) []string {
	syms := append([]string(nil), symbols...)
	for {
		bestIdx := -1
		bestRank := -1
		for i := 0; i+1 < len(syms); i++ {
			r, ok := rank[PairKey{syms[i], syms[i+1]}]
			if !ok {
				continue
			}
			if bestIdx == -1 || r < bestRank {
				bestIdx, bestRank = i, r
			}
		}
		if bestIdx == -1 {
			break
		}
		merged := syms[bestIdx] + syms[bestIdx+1]
		syms = append(syms[:bestIdx], append([]string{merged}, syms[bestIdx+2:]...)...)
	}
	return syms
}

// PairKey mirrors pairKey but is exported for use as a map key type by
// callers outside this package (bbpe) building their own rank tables.
type PairKey struct {
	Left, Right string
}

// NewPairKey constructs a PairKey, for building rank maps.
func NewPairKey(left, right string) PairKey { return PairKey{left, right} }
