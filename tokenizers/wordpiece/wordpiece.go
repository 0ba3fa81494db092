// Package wordpiece implements the WordPiece tokenizer: a greedy
// longest-match segmenter whose vocabulary is grown by a
// likelihood-ratio-scored merge loop (spec.md §4.5). Training and the
// pair-scoring loop have no teacher precedent (the teacher only ever loads
// a pretrained HuggingFace WordPiece vocab); the greedy longest-match
// encoder below is grounded on the teacher's wordPieceTokenize in the
// now-deleted tokenizers/hftokenizer/hftokenizer.go, which shrinks the end
// pointer of a candidate substring until it hits a vocabulary entry.
package wordpiece

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/gomlx/gotokenizers/internal/batch"
	"github.com/gomlx/gotokenizers/internal/dictfile"
	"github.com/gomlx/gotokenizers/internal/persist"
	"github.com/gomlx/gotokenizers/internal/pretokenize"
	"github.com/gomlx/gotokenizers/tokenizers/api"
	"github.com/gomlx/gotokenizers/vocab"
)

// continuationMarker prefixes every WordPiece token that may only appear
// as a non-initial piece of a word.
const continuationMarker = "##"

// Tokenizer implements api.Tokenizer with WordPiece.
type Tokenizer struct {
	vocab         *vocab.Vocab
	specialTokens []string
	unkID         int

	// DictRoot, if set, is the directory LoadVocabFromDict resolves
	// dictionary names against.
	DictRoot *dictfile.Root
}

var _ api.Tokenizer = (*Tokenizer)(nil)

// New returns an untrained Tokenizer.
func New() *Tokenizer {
	return &Tokenizer{vocab: vocab.New(), unkID: -1}
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

func isContinuation(token string) bool {
	return strings.HasPrefix(token, continuationMarker)
}

func stripMarker(token string) string {
	return strings.TrimPrefix(token, continuationMarker)
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

func preTokenizeCorpus(corpus []string) []string {
	var preTokens []string
	for _, line := range corpus {
		preTokens = append(preTokens, pretokenize.Whitespace(line)...)
	}
	return preTokens
}

// Encode converts text into a sequence of token ids via greedy
// longest-match segmentation, per spec §4.5.
func (t *Tokenizer) Encode(text string) ([]int, error) {
	preTokens := pretokenize.Whitespace(text)
	var ids []int
	for _, w := range preTokens {
		wordIDs, err := t.encodeWord(w)
		if err != nil {
			return nil, err
		}
		ids = append(ids, wordIDs...)
	}
	return ids, nil
}

// encodeWord greedily matches the longest vocabulary prefix at each
// position, in continuation mode after the first piece. If any position has
// no match, the whole word falls back to a single <unk> id.
func (t *Tokenizer) encodeWord(word string) ([]int, error) {
	runes := []rune(word)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}
	ids := make([]int, 0, n)
	start := 0
	for start < n {
		end := n
		matched := false
		for end > start {
			candidate := string(runes[start:end])
			if start > 0 {
				candidate = continuationMarker + candidate
			}
			if id, ok := t.vocab.IDOf(candidate); ok {
				ids = append(ids, id)
				start = end
				matched = true
				break
			}
			end--
		}
		if !matched {
			if t.unkID >= 0 {
				return []int{t.unkID}, nil
			}
			return nil, api.UnknownCharacter(runes[start])
		}
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

// Decode concatenates piece strings in id order, dropping the
// continuation marker and inserting a space before every initial piece
// except the first, per spec §4.5.
func (t *Tokenizer) Decode(ids []int) (string, error) {
	var b strings.Builder
	for i, id := range ids {
		tok, err := t.vocab.RequireToken(id)
		if err != nil {
			return "", err
		}
		if isContinuation(tok) {
			b.WriteString(stripMarker(tok))
			continue
		}
		if i > 0 {
			b.WriteByte(' ')
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

// LoadVocabFromDict seeds dictionary entries as initial pieces and ensures
// a continuation form exists for every character they contain, per spec
// §4.6. Re-adding an entry that already exists (in either form) is a
// no-op, since vocab.Add is idempotent.
func (t *Tokenizer) LoadVocabFromDict(name string) error {
	if t.DictRoot == nil {
		return api.NewError(api.KindInvalidArgument, "no dictionary root configured")
	}
	entries, err := t.DictRoot.Load(name)
	if err != nil {
		return err
	}
	for _, e := range entries {
		t.vocab.Add(e)
		for _, r := range e {
			t.vocab.Add(continuationMarker + string(r))
		}
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
		if err := persist.WriteHeader(w, persist.MagicWordPiece, h); err != nil {
			return err
		}
		flags := make([]bool, t.vocab.Size())
		for i, tok := range t.vocab.Tokens() {
			flags[i] = isContinuation(tok)
		}
		return persist.WriteBoolSlice(w, flags)
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
	h, err := persist.ReadHeader(r, persist.MagicWordPiece)
	if err != nil {
		return err
	}
	flags, err := persist.ReadBoolSlice(r)
	if err != nil {
		return api.WrapError(api.KindCorruptedModel, err, "reading continuation flags")
	}
	if len(flags) != len(h.Tokens) {
		return api.NewError(api.KindCorruptedModel, "flag count %d does not match token count %d", len(flags), len(h.Tokens))
	}
	for i, tok := range h.Tokens {
		if isContinuation(tok) != flags[i] {
			return api.NewError(api.KindCorruptedModel, "token %q continuation flag does not match its marker", tok)
		}
	}

	v := vocab.NewWithCapacity(len(h.Tokens))
	for _, tok := range h.Tokens {
		v.Add(tok)
	}
	if v.Size() != len(h.Tokens) {
		return api.NewError(api.KindCorruptedModel, "vocabulary has duplicate tokens (%d unique of %d)", v.Size(), len(h.Tokens))
	}

	t.vocab = v
	t.specialTokens = h.SpecialTokens
	t.unkID = findUnkID(v, h.SpecialTokens)
	return nil
}
