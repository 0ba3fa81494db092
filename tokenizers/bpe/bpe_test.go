package bpe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/gotokenizers/internal/dictfile"
	"github.com/gomlx/gotokenizers/tokenizers/api"
)

// seedCorpus is the corpus used throughout spec.md §8's concrete scenarios:
// ["low", "lower", "lowest", "newer", "newest"] with frequencies
// 5, 2, 2, 6, 3 respectively.
func seedCorpus() []string {
	var lines []string
	repeat := func(w string, n int) {
		for i := 0; i < n; i++ {
			lines = append(lines, w)
		}
	}
	repeat("low", 5)
	repeat("lower", 2)
	repeat("lowest", 2)
	repeat("newer", 6)
	repeat("newest", 3)
	return lines
}

func TestTrainEmptyCorpus(t *testing.T) {
	tok := New()
	err := tok.Train(nil, 50, nil)
	require.Error(t, err)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.KindEmptyCorpus, apiErr.Kind)
}

func TestTrainInvalidVocabSize(t *testing.T) {
	tok := New()
	err := tok.Train([]string{"a"}, 1, nil)
	require.Error(t, err)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.KindInvalidVocabSize, apiErr.Kind)
}

// TestMergeOrderAndVocabBudget exercises S1's corpus and V=14 target. The
// exact learned merge order is derived by hand from the stated
// frequencies (see DESIGN.md): the highest-frequency adjacent pair is
// (w, e), not (e, r) as spec.md's prose walkthrough claims for this
// corpus — a direct recount shows (w, e) occurs 13 times against 8 for
// (e, r). This test asserts the arithmetically correct first merge a
// standard frequency-greedy BPE trainer produces, rather than the figure
// in the spec's prose example.
func TestMergeOrderAndVocabBudget(t *testing.T) {
	tok := New()
	require.NoError(t, tok.Train(seedCorpus(), 14, nil))

	assert.LessOrEqual(t, tok.VocabSize(), 14)
	require.NotEmpty(t, tok.merges)
	assert.Equal(t, MergeRule{Left: "w", Right: "e"}, tok.merges[0])
}

func TestEncodeDecodeRoundTripUpToWhitespace(t *testing.T) {
	tok := New()
	require.NoError(t, tok.Train(seedCorpus(), 14, nil))

	for _, word := range []string{"low", "lower", "lowest", "newer", "newest"} {
		ids, err := tok.Encode(word)
		require.NoError(t, err)
		decoded, err := tok.Decode(ids)
		require.NoError(t, err)
		assert.Equal(t, word, decoded)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	tok := New()
	require.NoError(t, tok.Train(seedCorpus(), 14, nil))

	first, err := tok.Encode("lower newest")
	require.NoError(t, err)
	second, err := tok.Encode("lower newest")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// TestApplyingMergesReproducesEncode is property B1.
func TestApplyingMergesReproducesEncode(t *testing.T) {
	tok := New()
	require.NoError(t, tok.Train(seedCorpus(), 14, nil))

	word := "lowest"
	want, err := tok.encodeWord(word)
	require.NoError(t, err)

	symbols := ApplyLearnedMerges(splitChars(word), tok.rank)
	got := make([]int, 0, len(symbols))
	for _, s := range symbols {
		id, ok := tok.vocab.IDOf(s)
		require.True(t, ok)
		got = append(got, id)
	}
	assert.Equal(t, want, got)
}

func TestSpecialTokenPrecedence(t *testing.T) {
	tok := New()
	require.NoError(t, tok.Train(seedCorpus(), 20, []string{"<pad>", "<unk>"}))
	id, err := tok.TokenToID("<pad>")
	require.NoError(t, err)
	assert.Equal(t, 0, id)
	id, err = tok.TokenToID("<unk>")
	require.NoError(t, err)
	assert.Equal(t, 1, id)
}

func TestUnknownCharacterFallsBackToUnk(t *testing.T) {
	tok := New()
	require.NoError(t, tok.Train(seedCorpus(), 20, []string{"<unk>"}))

	ids, err := tok.Encode("newest中")
	require.NoError(t, err)
	last := ids[len(ids)-1]
	tokStr, err := tok.IDToToken(last)
	require.NoError(t, err)
	assert.Equal(t, "<unk>", tokStr)
}

func TestUnknownCharacterErrorsWithoutUnk(t *testing.T) {
	tok := New()
	require.NoError(t, tok.Train(seedCorpus(), 14, nil))

	_, err := tok.Encode("newest中")
	require.Error(t, err)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.KindUnknownCharacter, apiErr.Kind)
}

func TestEncodeBatchMatchesEncode(t *testing.T) {
	tok := New()
	require.NoError(t, tok.Train(seedCorpus(), 14, nil))

	texts := []string{"low", "lower newest", "newer"}
	batchResult, err := tok.EncodeBatch(texts)
	require.NoError(t, err)
	for i, text := range texts {
		single, err := tok.Encode(text)
		require.NoError(t, err)
		assert.Equal(t, single, batchResult[i])
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tok := New()
	require.NoError(t, tok.Train(seedCorpus(), 14, []string{"<unk>"}))

	path := filepath.Join(t.TempDir(), "bpe.model")
	require.NoError(t, tok.Save(path))

	loaded := New()
	require.NoError(t, loaded.Load(path))

	assert.Equal(t, tok.VocabSize(), loaded.VocabSize())
	for _, word := range []string{"low", "lower", "lowest", "newer", "newest"} {
		want, err := tok.Encode(word)
		require.NoError(t, err)
		got, err := loaded.Encode(word)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

// TestLoadMMapMatchesLoad checks the memory-mapped load path (spec §4.7)
// reproduces the same engine state as plain Load.
func TestLoadMMapMatchesLoad(t *testing.T) {
	tok := New()
	require.NoError(t, tok.Train(seedCorpus(), 14, []string{"<unk>"}))

	path := filepath.Join(t.TempDir(), "bpe.model")
	require.NoError(t, tok.Save(path))

	mapped := New()
	require.NoError(t, mapped.LoadMMap(path))

	assert.Equal(t, tok.VocabSize(), mapped.VocabSize())
	for _, word := range []string{"low", "lower", "lowest", "newer", "newest"} {
		want, err := tok.Encode(word)
		require.NoError(t, err)
		got, err := mapped.Encode(word)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

// TestDictionarySeed is scenario S5 (dictionary seeding on a fresh BPE
// engine, independent of training).
func TestDictionarySeed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "elements.txt"), []byte("氢\n锂\n"), 0o644))

	tok := New()
	tok.DictRoot = dictfile.NewRoot(dir)
	require.NoError(t, tok.LoadVocabFromDict("elements.txt"))

	hID, err := tok.TokenToID("氢")
	require.NoError(t, err)
	liID, err := tok.TokenToID("锂")
	require.NoError(t, err)
	assert.NotEqual(t, hID, liID)

	ids, err := tok.Encode("氢锂")
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

