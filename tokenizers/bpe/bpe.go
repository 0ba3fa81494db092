package bpe

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strings"

	"k8s.io/klog/v2"

	"github.com/gomlx/gotokenizers/internal/batch"
	"github.com/gomlx/gotokenizers/internal/dictfile"
	"github.com/gomlx/gotokenizers/internal/persist"
	"github.com/gomlx/gotokenizers/internal/pretokenize"
	"github.com/gomlx/gotokenizers/tokenizers/api"
	"github.com/gomlx/gotokenizers/vocab"
)

// spaceToken is the literal ASCII space, seeded into the vocabulary as an
// ordinary token and emitted explicitly by Encode between pre-tokens, so
// Decode can reconstruct word boundaries by pure concatenation. See
// SPEC_FULL.md §4.1.
const spaceToken = " "

// Tokenizer implements api.Tokenizer with character-level byte pair
// encoding (spec §4.2).
type Tokenizer struct {
	vocab         *vocab.Vocab
	merges        []MergeRule
	rank          map[PairKey]int
	specialTokens []string
	unkID         int

	// DictRoot, if set, is the directory LoadVocabFromDict resolves
	// dictionary names against.
	DictRoot *dictfile.Root
}

// New returns an untrained Tokenizer.
func New() *Tokenizer {
	return &Tokenizer{vocab: vocab.New(), unkID: -1}
}

var _ api.Tokenizer = (*Tokenizer)(nil)

func splitChars(word string) []string {
	runes := []rune(word)
	out := make([]string, len(runes))
	for i, r := range runes {
		out[i] = string(r)
	}
	return out
}

func findUnkID(v *vocab.Vocab, specialTokens []string) int {
	for _, s := range specialTokens {
		if s == "<unk>" || s == "[UNK]" {
			if id, ok := v.IDOf(s); ok {
				return id
			}
		}
	}
	return -1
}

// Train builds a character-level BPE vocabulary of at most vocabSize tokens
// from corpus, per spec §4.2.
func (t *Tokenizer) Train(corpus []string, vocabSize int, specialTokens []string) error {
	preTokens := preTokenizeCorpus(corpus)
	if len(preTokens) == 0 {
		return api.NewError(api.KindEmptyCorpus, "training corpus is empty")
	}

	v := vocab.New()
	for _, s := range specialTokens {
		v.Add(s)
	}
	v.Add(spaceToken)

	distinct := distinctChars(preTokens)
	for _, c := range distinct {
		v.Add(c)
	}

	required := v.Size()
	if vocabSize < required {
		return api.InvalidVocabSize(vocabSize, required)
	}

	words := NewWordEntries(preTokens, splitChars)
	merges := TrainMerges(words,
		func() bool { return v.Size() < vocabSize },
		func(left, right string) string {
			merged := left + right
			v.Add(merged)
			return merged
		},
	)
	klog.V(1).Infof("bpe: trained %d merges, vocab size %d (requested %d)", len(merges), v.Size(), vocabSize)

	t.vocab = v
	t.merges = merges
	t.rank = rankMerges(merges)
	t.specialTokens = append([]string(nil), specialTokens...)
	t.unkID = findUnkID(v, specialTokens)
	return nil
}

// TrainFromFiles reads each path as UTF-8 text, one pre-training line per
// newline-delimited line, and trains as Train would on their concatenation.
func (t *Tokenizer) TrainFromFiles(paths []string, vocabSize int, specialTokens []string) error {
	var corpus []string
	for _, p := range paths {
		lines, err := readLines(p)
		if err != nil {
			return err
		}
		corpus = append(corpus, lines...)
	}
	return t.Train(corpus, vocabSize, specialTokens)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, api.WrapError(api.KindFileNotFound, err, "corpus file %q not found", path)
		}
		return nil, api.WrapError(api.KindIOError, err, "opening corpus file %q", path)
	}
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, api.WrapError(api.KindIOError, err, "reading corpus file %q", path)
	}
	return lines, nil
}

func preTokenizeCorpus(corpus []string) []string {
	var preTokens []string
	for _, line := range corpus {
		preTokens = append(preTokens, pretokenize.Whitespace(line)...)
	}
	return preTokens
}

func distinctChars(preTokens []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range preTokens {
		for _, r := range w {
			s := string(r)
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

func rankMerges(merges []MergeRule) map[PairKey]int {
	rank := make(map[PairKey]int, len(merges))
	for i, m := range merges {
		rank[PairKey{m.Left, m.Right}] = i
	}
	return rank
}

// Encode converts text into a sequence of token ids, per spec §4.2.
func (t *Tokenizer) Encode(text string) ([]int, error) {
	preTokens := pretokenize.Whitespace(text)
	var ids []int
	spaceID, hasSpace := t.vocab.IDOf(spaceToken)
	for i, w := range preTokens {
		if i > 0 && hasSpace {
			ids = append(ids, spaceID)
		}
		wordIDs, err := t.encodeWord(w)
		if err != nil {
			return nil, err
		}
		ids = append(ids, wordIDs...)
	}
	return ids, nil
}

func (t *Tokenizer) encodeWord(word string) ([]int, error) {
	symbols := ApplyLearnedMerges(splitChars(word), t.rank)
	ids := make([]int, 0, len(symbols))
	for _, sym := range symbols {
		id, ok := t.vocab.IDOf(sym)
		if !ok {
			if t.unkID >= 0 {
				ids = append(ids, t.unkID)
				continue
			}
			r := []rune(sym)[0]
			return nil, api.UnknownCharacter(r)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// EncodeBatch encodes each text independently, bounded by internal/batch's
// default parallelism.
func (t *Tokenizer) EncodeBatch(texts []string) ([][]int, error) {
	type result struct {
		ids []int
		err error
	}
	results := batch.Run(len(texts), batch.MaxParallel(), func(i int) result {
		ids, err := t.Encode(texts[i])
		return result{ids, err}
	})
	out := make([][]int, len(texts))
	for i, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		out[i] = r.ids
	}
	return out, nil
}

// Decode converts a sequence of ids back into text by concatenating each
// id's token string; pre-token boundaries survive because Encode emitted an
// explicit space-token id between them.
func (t *Tokenizer) Decode(ids []int) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		tok, err := t.vocab.RequireToken(id)
		if err != nil {
			return "", err
		}
		b.WriteString(tok)
	}
	return b.String(), nil
}

// DecodeBatch decodes each id sequence independently.
func (t *Tokenizer) DecodeBatch(batches [][]int) ([]string, error) {
	type result struct {
		text string
		err  error
	}
	results := batch.Run(len(batches), batch.MaxParallel(), func(i int) result {
		text, err := t.Decode(batches[i])
		return result{text, err}
	})
	out := make([]string, len(batches))
	for i, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		out[i] = r.text
	}
	return out, nil
}

// VocabSize returns the number of assigned ids.
func (t *Tokenizer) VocabSize() int { return t.vocab.Size() }

// IDToToken returns the string form of id.
func (t *Tokenizer) IDToToken(id int) (string, error) { return t.vocab.RequireToken(id) }

// TokenToID returns the id assigned to token.
func (t *Tokenizer) TokenToID(token string) (int, error) {
	id, ok := t.vocab.IDOf(token)
	if !ok {
		return 0, api.NewError(api.KindUnknownToken, "token %q is not in the vocabulary", token)
	}
	return id, nil
}

// LoadVocabFromDict seeds additional vocabulary entries, one per
// non-comment, non-blank line of the named dictionary file, resolved
// against DictRoot.
func (t *Tokenizer) LoadVocabFromDict(name string) error {
	if t.DictRoot == nil {
		return api.NewError(api.KindInvalidArgument, "no dictionary root configured")
	}
	entries, err := t.DictRoot.Load(name)
	if err != nil {
		return err
	}
	if t.vocab == nil {
		t.vocab = vocab.New()
	}
	for _, e := range entries {
		t.vocab.Add(e)
	}
	return nil
}

// Save persists the trained model to path (spec §4.7 framing): the common
// header followed by the ordered merge list as two parallel string slices.
func (t *Tokenizer) Save(path string) error {
	return persist.SaveAtomic(path, func(w io.Writer) error {
		h := persist.Header{
			Version:       persist.Version,
			SpecialTokens: t.specialTokens,
			Tokens:        t.vocab.Tokens(),
		}
		if err := persist.WriteHeader(w, persist.MagicBPE, h); err != nil {
			return err
		}
		lefts := make([]string, len(t.merges))
		rights := make([]string, len(t.merges))
		for i, m := range t.merges {
			lefts[i], rights[i] = m.Left, m.Right
		}
		if err := persist.WriteStringSlice(w, lefts); err != nil {
			return err
		}
		return persist.WriteStringSlice(w, rights)
	})
}

// Load replaces all engine state with the model persisted at path.
func (t *Tokenizer) Load(path string) error {
	f, err := persist.OpenForRead(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return t.loadFrom(f)
}

// LoadMMap is the counterpart to Load that memory-maps path instead of
// reading it whole, for large persisted vocabularies (spec §4.7).
func (t *Tokenizer) LoadMMap(path string) error {
	m, err := persist.OpenMMap(path)
	if err != nil {
		return err
	}
	defer m.Close()
	return t.loadFrom(m)
}

func (t *Tokenizer) loadFrom(r io.Reader) error {
	h, err := persist.ReadHeader(r, persist.MagicBPE)
	if err != nil {
		return err
	}
	lefts, err := persist.ReadStringSlice(r)
	if err != nil {
		return api.WrapError(api.KindCorruptedModel, err, "reading merge list")
	}
	rights, err := persist.ReadStringSlice(r)
	if err != nil {
		return api.WrapError(api.KindCorruptedModel, err, "reading merge list")
	}
	if len(lefts) != len(rights) {
		return api.NewError(api.KindCorruptedModel, "merge list has mismatched left/right lengths (%d vs %d)", len(lefts), len(rights))
	}

	v := vocab.NewWithCapacity(len(h.Tokens))
	for _, tok := range h.Tokens {
		v.Add(tok)
	}
	if v.Size() != len(h.Tokens) {
		return api.NewError(api.KindCorruptedModel, "vocabulary has duplicate tokens (%d unique of %d)", v.Size(), len(h.Tokens))
	}
	merges := make([]MergeRule, len(lefts))
	for i := range lefts {
		if !v.Has(lefts[i]) || !v.Has(rights[i]) {
			return api.NewError(api.KindCorruptedModel, "merge %d (%q, %q) references a token not in the vocabulary", i, lefts[i], rights[i])
		}
		merges[i] = MergeRule{Left: lefts[i], Right: rights[i]}
	}

	t.vocab = v
	t.merges = merges
	t.rank = rankMerges(merges)
	t.specialTokens = h.SpecialTokens
	t.unkID = findUnkID(v, h.SpecialTokens)
	return nil
}
