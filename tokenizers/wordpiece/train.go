package wordpiece

import (
	"sort"

	"k8s.io/klog/v2"

	"github.com/gomlx/gotokenizers/tokenizers/api"
	"github.com/gomlx/gotokenizers/vocab"
)

// trainWord is one distinct pre-token, its frequency, and its current
// segmentation into pieces (mutated in place as merges are applied).
type trainWord struct {
	pieces []string
	freq   int
}

// pairKey identifies one adjacent pair of pieces.
type pairKey struct {
	a, b string
}

// Train builds a WordPiece vocabulary of at most vocabSize tokens from
// corpus, per spec §4.5: seed every distinct character in the form(s) it
// takes in the corpus (initial when it starts a word, continuation when it
// occurs later in one), then repeatedly merge the highest
// likelihood-ratio-scored adjacent pair until the target size is reached
// or no pair has positive support left.
func (t *Tokenizer) Train(corpus []string, vocabSize int, specialTokens []string) error {
	preTokens := preTokenizeCorpus(corpus)
	if len(preTokens) == 0 {
		return api.NewError(api.KindEmptyCorpus, "training corpus is empty")
	}

	wordFreq := make(map[string]int)
	for _, w := range preTokens {
		wordFreq[w]++
	}

	mandatory := make(map[string]bool)
	words := make([]trainWord, 0, len(wordFreq))
	for w, freq := range wordFreq {
		pieces := initialSegmentation(w)
		for _, p := range pieces {
			mandatory[p] = true
		}
		words = append(words, trainWord{pieces: pieces, freq: freq})
	}
	mandatoryList := make([]string, 0, len(mandatory))
	for p := range mandatory {
		mandatoryList = append(mandatoryList, p)
	}
	sort.Strings(mandatoryList)

	required := len(specialTokens) + len(mandatoryList)
	if vocabSize < required {
		return api.InvalidVocabSize(vocabSize, required)
	}

	v := vocab.New()
	for _, s := range specialTokens {
		v.Add(s)
	}
	for _, p := range mandatoryList {
		v.Add(p)
	}

	for v.Size() < vocabSize {
		cand, found := selectBestPair(words)
		if !found {
			klog.V(1).Infof("wordpiece: no positive-score pair remains at %d/%d tokens", v.Size(), vocabSize)
			break
		}
		merged := cand.a + stripMarker(cand.b)
		v.Add(merged)
		applyMerge(words, cand.a, cand.b, merged)
		klog.V(1).Infof("wordpiece: merged (%q, %q) -> %q, score %.6g, vocab now %d", cand.a, cand.b, merged, cand.score, v.Size())
	}

	t.vocab = v
	t.specialTokens = append([]string(nil), specialTokens...)
	t.unkID = findUnkID(v, specialTokens)
	klog.V(1).Infof("wordpiece: trained, final vocab size %d", v.Size())
	return nil
}

// initialSegmentation splits word into its starting per-character
// segmentation: the first codepoint as an initial piece, every subsequent
// codepoint as a continuation piece.
func initialSegmentation(word string) []string {
	runes := []rune(word)
	pieces := make([]string, len(runes))
	for i, r := range runes {
		if i == 0 {
			pieces[i] = string(r)
		} else {
			pieces[i] = continuationMarker + string(r)
		}
	}
	return pieces
}

type pairCandidate struct {
	a, b  string
	score float64
}

// selectBestPair scores every adjacent pair of pieces currently segmenting
// any word by freq(ab) / (freq(a) * freq(b)), per spec §4.5, and returns
// the highest-scoring one, ties broken lexicographically by (a, b).
func selectBestPair(words []trainWord) (pairCandidate, bool) {
	pieceFreq := make(map[string]int)
	pairFreq := make(map[pairKey]int)
	for _, w := range words {
		for i, p := range w.pieces {
			pieceFreq[p] += w.freq
			if i+1 < len(w.pieces) {
				pairFreq[pairKey{w.pieces[i], w.pieces[i+1]}] += w.freq
			}
		}
	}

	var best pairCandidate
	found := false
	for k, abFreq := range pairFreq {
		fa, fb := pieceFreq[k.a], pieceFreq[k.b]
		if fa == 0 || fb == 0 {
			continue
		}
		score := float64(abFreq) / (float64(fa) * float64(fb))
		cand := pairCandidate{a: k.a, b: k.b, score: score}
		if !found || betterPair(cand, best) {
			best, found = cand, true
		}
	}
	return best, found
}

func betterPair(x, y pairCandidate) bool {
	if x.score != y.score {
		return x.score > y.score
	}
	if x.a != y.a {
		return x.a < y.a
	}
	return x.b < y.b
}

// applyMerge replaces every adjacent (a, b) occurrence in every word's
// segmentation with merged, scanning left to right without overlap.
func applyMerge(words []trainWord, a, b, merged string) {
	for i := range words {
		pieces := words[i].pieces
		out := make([]string, 0, len(pieces))
		j := 0
		for j < len(pieces) {
			if j+1 < len(pieces) && pieces[j] == a && pieces[j+1] == b {
				out = append(out, merged)
				j += 2
				continue
			}
			out = append(out, pieces[j])
			j++
		}
		words[i].pieces = out
	}
}
