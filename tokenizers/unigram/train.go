package unigram

import (
	"math"
	"sort"

	"k8s.io/klog/v2"

	"github.com/gomlx/gotokenizers/internal/pretokenize"
	"github.com/gomlx/gotokenizers/tokenizers/api"
	"github.com/gomlx/gotokenizers/vocab"
)

// pieceEntry is one piece's working state during training: its current
// score and whether pruning is allowed to remove it (single-codepoint
// pieces and special tokens never are, per spec §4.4 step 5).
type pieceEntry struct {
	Piece     string
	Score     float64
	Mandatory bool
}

// trainWord is one distinct pre-token and how often it occurs.
type trainWord struct {
	Runes []rune
	Freq  float64
}

// Train builds a Unigram vocabulary of at most vocabSize pieces from
// corpus, per spec §4.4: frequency-ranked substring seeding, then
// alternating EM re-estimation and loss-based pruning until the target size
// is reached, followed by a final EM pass.
func (t *Tokenizer) Train(corpus []string, vocabSize int, specialTokens []string) error {
	opts := normalizedOptions(t.Options)

	preTokens := preTokenizeCorpus(corpus)
	if len(preTokens) == 0 {
		return api.NewError(api.KindEmptyCorpus, "training corpus is empty")
	}

	wordFreq := make(map[string]float64)
	for _, w := range preTokens {
		wordFreq[w]++
	}
	words := make([]trainWord, 0, len(wordFreq))
	for w, freq := range wordFreq {
		words = append(words, trainWord{Runes: []rune(w), Freq: freq})
	}

	mandatorySet, mandatoryFreq := singleCodepointCandidates(words)
	// One id is reserved for the space token Encode emits between pre-tokens.
	required := len(specialTokens) + len(mandatorySet) + 1
	if vocabSize < required {
		return api.InvalidVocabSize(vocabSize, required)
	}
	target := vocabSize - 1

	candFreq := enumerateSubstringCandidates(words, opts.MaxPieceLength)

	seedSize := 10 * vocabSize
	if seedSize > opts.MaxCandidates {
		seedSize = opts.MaxCandidates
	}
	entries := seedEntries(specialTokens, mandatorySet, mandatoryFreq, candFreq, seedSize)
	klog.V(1).Infof("unigram: seeded %d candidates (target vocab %d)", len(entries), vocabSize)

	eta := opts.PruneFraction
	for len(entries) > target {
		expected := runEM(entries, words, opts.InnerEMIterations)
		nonMandatory := 0
		for _, e := range entries {
			if !e.Mandatory {
				nonMandatory++
			}
		}
		removeCount := int(eta * float64(nonMandatory))
		if removeCount < 1 {
			removeCount = 1
		}
		if room := len(entries) - target; removeCount > room {
			removeCount = room
		}
		entries = prune(entries, expected, removeCount)
		klog.V(1).Infof("unigram: pruned to %d entries", len(entries))
	}
	runEM(entries, words, opts.InnerEMIterations)

	v := vocab.New()
	specialSet := make(map[string]bool, len(specialTokens))
	for _, s := range specialTokens {
		v.Add(s)
		specialSet[s] = true
	}
	v.Add(spaceToken)
	rest := make([]pieceEntry, 0, len(entries))
	for _, e := range entries {
		if !specialSet[e.Piece] {
			rest = append(rest, e)
		}
	}
	sort.Slice(rest, func(i, j int) bool {
		if rest[i].Score != rest[j].Score {
			return rest[i].Score > rest[j].Score
		}
		return rest[i].Piece < rest[j].Piece
	})
	for _, e := range rest {
		v.Add(e.Piece)
	}

	scores := make([]float64, v.Size())
	byPiece := make(map[string]float64, len(entries))
	for _, e := range entries {
		byPiece[e.Piece] = e.Score
	}
	for id, tok := range v.Tokens() {
		if s, ok := byPiece[tok]; ok {
			scores[id] = s
		} else {
			scores[id] = negInf
		}
	}

	t.vocab = v
	t.scores = scores
	t.specialTokens = append([]string(nil), specialTokens...)
	t.unkID = findUnkID(v, specialTokens)
	klog.V(1).Infof("unigram: trained, final vocab size %d", v.Size())
	return nil
}

func preTokenizeCorpus(corpus []string) []string {
	var preTokens []string
	for _, line := range corpus {
		preTokens = append(preTokens, pretokenize.Whitespace(line)...)
	}
	return preTokens
}

// singleCodepointCandidates returns every distinct codepoint across words,
// as single-rune strings, with their aggregate frequency.
func singleCodepointCandidates(words []trainWord) ([]string, map[string]float64) {
	freq := make(map[string]float64)
	var order []string
	for _, w := range words {
		for _, r := range w.Runes {
			s := string(r)
			if _, ok := freq[s]; !ok {
				order = append(order, s)
			}
			freq[s] += w.Freq
		}
	}
	sort.Strings(order)
	return order, freq
}

// enumerateSubstringCandidates counts every substring up to maxLen
// codepoints across all words, weighted by word frequency.
func enumerateSubstringCandidates(words []trainWord, maxLen int) map[string]float64 {
	freq := make(map[string]float64)
	for _, w := range words {
		n := len(w.Runes)
		for i := 0; i < n; i++ {
			limit := maxLen
			if n-i < limit {
				limit = n - i
			}
			for l := 1; l <= limit; l++ {
				freq[string(w.Runes[i:i+l])] += w.Freq
			}
		}
	}
	return freq
}

// seedEntries builds the initial working piece set: special tokens, every
// mandatory single-codepoint piece, and the top (seedSize - mandatory
// count) remaining candidates by frequency (ties broken lexicographically).
func seedEntries(specialTokens, mandatorySet []string, mandatoryFreq, candFreq map[string]float64, seedSize int) []pieceEntry {
	mandatory := make(map[string]bool, len(mandatorySet))
	for _, p := range mandatorySet {
		mandatory[p] = true
	}

	type scored struct {
		piece string
		freq  float64
	}
	var nonMandatory []scored
	for p, f := range candFreq {
		if mandatory[p] {
			continue
		}
		nonMandatory = append(nonMandatory, scored{p, f})
	}
	sort.Slice(nonMandatory, func(i, j int) bool {
		if nonMandatory[i].freq != nonMandatory[j].freq {
			return nonMandatory[i].freq > nonMandatory[j].freq
		}
		return nonMandatory[i].piece < nonMandatory[j].piece
	})

	budget := seedSize - len(mandatorySet)
	if budget < 0 {
		budget = 0
	}
	if budget > len(nonMandatory) {
		budget = len(nonMandatory)
	}

	entries := make([]pieceEntry, 0, len(specialTokens)+len(mandatorySet)+budget)
	var totalFreq float64
	for _, s := range specialTokens {
		totalFreq += 1
	}
	for _, p := range mandatorySet {
		totalFreq += mandatoryFreq[p]
	}
	for _, c := range nonMandatory[:budget] {
		totalFreq += c.freq
	}

	for _, s := range specialTokens {
		entries = append(entries, pieceEntry{Piece: s, Mandatory: true, Score: math.Log(1 / totalFreq)})
	}
	for _, p := range mandatorySet {
		entries = append(entries, pieceEntry{Piece: p, Mandatory: true, Score: math.Log(mandatoryFreq[p] / totalFreq)})
	}
	for _, c := range nonMandatory[:budget] {
		entries = append(entries, pieceEntry{Piece: c.piece, Mandatory: false, Score: math.Log(c.freq / totalFreq)})
	}
	return entries
}
