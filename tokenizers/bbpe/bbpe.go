// Package bbpe implements byte-level byte pair encoding (spec §4.3): BPE
// merge training run over a fixed 256-symbol seed alphabet (the printable
// stand-ins internal/bytelevel assigns to each byte value) instead of over
// corpus characters, so every possible input byte sequence is encodable and
// decode is an exact inverse of encode (property P1). The merge-training
// core (pair counting, deterministic selection, incremental application) is
// composed unchanged from tokenizers/bpe rather than re-implemented.
package bbpe

import (
	"bufio"
	"io"
	"os"
	"strings"

	"k8s.io/klog/v2"

	"github.com/gomlx/gotokenizers/internal/batch"
	"github.com/gomlx/gotokenizers/internal/bytelevel"
	"github.com/gomlx/gotokenizers/internal/dictfile"
	"github.com/gomlx/gotokenizers/internal/persist"
	"github.com/gomlx/gotokenizers/tokenizers/api"
	"github.com/gomlx/gotokenizers/tokenizers/bpe"
	"github.com/gomlx/gotokenizers/vocab"
)

// Tokenizer implements api.Tokenizer with byte-level BPE.
type Tokenizer struct {
	vocab         *vocab.Vocab
	merges        []bpe.MergeRule
	rank          map[bpe.PairKey]int
	specialTokens []string
	unkID         int
	codec         *bytelevel.Codec

	// DictRoot, if set, is the directory LoadVocabFromDict resolves
	// dictionary names against.
	DictRoot *dictfile.Root
}

var _ api.Tokenizer = (*Tokenizer)(nil)

// New returns an untrained Tokenizer whose vocabulary already carries the
// 256 byte stand-in tokens (spec §3 lifecycle, §4.3): even before Train
// ever succeeds, Encode/Decode round-trip arbitrary byte sequences through
// this seed alphabet alone.
func New() *Tokenizer {
	codec := bytelevel.Default()
	v := vocab.New()
	for _, sym := range byteAlphabet(codec) {
		v.Add(sym)
	}
	return &Tokenizer{vocab: v, unkID: -1, codec: codec}
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

// byteAlphabet returns the 256 printable single-rune strings standing in
// for each byte value, in byte order.
func byteAlphabet(codec *bytelevel.Codec) []string {
	out := make([]string, 256)
	for b := 0; b < 256; b++ {
		out[b] = string(codec.ByteToRune(byte(b)))
	}
	return out
}

// splitBytes converts text into its byte-level printable-rune symbol
// sequence, one symbol per raw byte.
func splitBytes(codec *bytelevel.Codec, text string) []string {
	data := []byte(text)
	out := make([]string, len(data))
	for i, b := range data {
		out[i] = string(codec.ByteToRune(b))
	}
	return out
}

// Train builds a byte-level BPE vocabulary of at most vocabSize tokens from
// corpus, per spec §4.3. The seed alphabet is always the full 256 byte
// stand-ins, regardless of which bytes actually occur in corpus, so any
// future input remains encodable.
func (t *Tokenizer) Train(corpus []string, vocabSize int, specialTokens []string) error {
	if len(corpus) == 0 {
		return api.NewError(api.KindEmptyCorpus, "training corpus is empty")
	}

	v := vocab.New()
	for _, s := range specialTokens {
		v.Add(s)
	}
	for _, sym := range byteAlphabet(t.codec) {
		v.Add(sym)
	}

	required := v.Size()
	if vocabSize < required {
		return api.InvalidVocabSize(vocabSize, required)
	}

	// BBPE never strips whitespace: the byte stream itself carries it, so
	// every line of the corpus is one "word" whose bytes must round-trip.
	words := bpe.NewWordEntries(corpus, func(w string) []string { return splitBytes(t.codec, w) })
	merges := bpe.TrainMerges(words,
		func() bool { return v.Size() < vocabSize },
		func(left, right string) string {
			merged := left + right
			v.Add(merged)
			return merged
		},
	)
	klog.V(1).Infof("bbpe: trained %d merges, vocab size %d (requested %d)", len(merges), v.Size(), vocabSize)

	t.vocab = v
	t.merges = merges
	t.rank = rankMerges(merges)
	t.specialTokens = append([]string(nil), specialTokens...)
	t.unkID = findUnkID(v, specialTokens)
	return nil
}

// TrainFromFiles reads each path as UTF-8 text and trains as Train would on
// the concatenation of their lines.
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

func rankMerges(merges []bpe.MergeRule) map[bpe.PairKey]int {
	rank := make(map[bpe.PairKey]int, len(merges))
	for i, m := range merges {
		rank[bpe.NewPairKey(m.Left, m.Right)] = i
	}
	return rank
}

// Encode converts text into a sequence of token ids. Unlike BPE/Unigram/
// WordPiece, the entire byte stream (including any whitespace) is one
// sequence handed to the merge algorithm; there is no separate pre-token
// space-id convention here, since raw space bytes are already ordinary
// vocabulary entries.
func (t *Tokenizer) Encode(text string) ([]int, error) {
	symbols := bpe.ApplyLearnedMerges(splitBytes(t.codec, text), t.rank)
	ids := make([]int, 0, len(symbols))
	for _, sym := range symbols {
		id, ok := t.vocab.IDOf(sym)
		if !ok {
			if t.unkID >= 0 {
				ids = append(ids, t.unkID)
				continue
			}
			return nil, api.UnknownCharacter([]rune(sym)[0])
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// EncodeBatch encodes each text independently.
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

// Decode converts a sequence of ids back into the exact original bytes: the
// concatenated token strings are printable stand-ins that bytelevel.Decode
// maps back to raw bytes one-for-one.
func (t *Tokenizer) Decode(ids []int) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		tok, err := t.vocab.RequireToken(id)
		if err != nil {
			return "", err
		}
		b.WriteString(tok)
	}
	return string(t.codec.Decode(b.String())), nil
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

// LoadVocabFromDict seeds additional vocabulary entries from the named
// dictionary file, resolved against DictRoot. Each entry is stored in its
// byte-level printable form (the same codec Encode uses). No merge rule is
// added for it, so Encode emits an entry's id only when the learned merges
// produce that exact symbol.
func (t *Tokenizer) LoadVocabFromDict(name string) error {
	if t.DictRoot == nil {
		return api.NewError(api.KindInvalidArgument, "no dictionary root configured")
	}
	entries, err := t.DictRoot.Load(name)
	if err != nil {
		return err
	}
	for _, e := range entries {
		t.vocab.Add(t.codec.Encode([]byte(e)))
	}
	return nil
}

// Save persists the trained model to path.
func (t *Tokenizer) Save(path string) error {
	return persist.SaveAtomic(path, func(w io.Writer) error {
		h := persist.Header{
			Version:       persist.Version,
			SpecialTokens: t.specialTokens,
			Tokens:        t.vocab.Tokens(),
		}
		if err := persist.WriteHeader(w, persist.MagicBBPE, h); err != nil {
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
	h, err := persist.ReadHeader(r, persist.MagicBBPE)
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
	merges := make([]bpe.MergeRule, len(lefts))
	for i := range lefts {
		if !v.Has(lefts[i]) || !v.Has(rights[i]) {
			return api.NewError(api.KindCorruptedModel, "merge %d (%q, %q) references a token not in the vocabulary", i, lefts[i], rights[i])
		}
		merges[i] = bpe.MergeRule{Left: lefts[i], Right: rights[i]}
	}

	t.vocab = v
	t.merges = merges
	t.rank = rankMerges(merges)
	t.specialTokens = h.SpecialTokens
	t.unkID = findUnkID(v, h.SpecialTokens)
	t.codec = bytelevel.Default()
	return nil
}
