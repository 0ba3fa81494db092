package bbpe

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/gotokenizers/tokenizers/api"
)

// TestFreshTokenizerEncodesViaByteAlphabet is spec.md §3's lifecycle
// invariant: a constructed-but-untrained BBPE engine already carries the
// 256 byte stand-in tokens and can round-trip arbitrary text through them
// alone, with zero merges applied.
func TestFreshTokenizerEncodesViaByteAlphabet(t *testing.T) {
	tok := New()
	assert.Equal(t, 256, tok.VocabSize())

	ids, err := tok.Encode("héllo, world!")
	require.NoError(t, err)
	assert.Len(t, ids, len([]byte("héllo, world!")))

	decoded, err := tok.Decode(ids)
	require.NoError(t, err)
	assert.Equal(t, "héllo, world!", decoded)
}

// TestEncodeAfterFailedTrainingStillWorks is grounded on original_source's
// tests/python/test_error_handling.py::test_encode_after_failed_training:
// a BBPE engine whose Train call failed (here, on an empty corpus) must
// still encode using its initial 256-byte vocabulary.
func TestEncodeAfterFailedTrainingStillWorks(t *testing.T) {
	tok := New()
	err := tok.Train(nil, 300, nil)
	require.Error(t, err)

	ids, err := tok.Encode("hello")
	require.NoError(t, err)
	decoded, err := tok.Decode(ids)
	require.NoError(t, err)
	assert.Equal(t, "hello", decoded)
}

func TestTrainEmptyCorpus(t *testing.T) {
	tok := New()
	err := tok.Train(nil, 300, nil)
	require.Error(t, err)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.KindEmptyCorpus, apiErr.Kind)
}

// TestTrainInvalidVocabSize is scenario S6's BBPE half: train(["a"], 50)
// fails with InvalidVocabSize, since the 256-byte seed alphabet alone
// already exceeds 50.
func TestTrainInvalidVocabSize(t *testing.T) {
	tok := New()
	err := tok.Train([]string{"a"}, 50, nil)
	require.Error(t, err)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.KindInvalidVocabSize, apiErr.Kind)
}

// TestHelloRoundTripAndShortEncoding is scenario S2.
func TestHelloRoundTripAndShortEncoding(t *testing.T) {
	tok := New()
	require.NoError(t, tok.Train([]string{"héllo"}, 260, nil))

	ids, err := tok.Encode("héllo")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(ids), 6)

	decoded, err := tok.Decode(ids)
	require.NoError(t, err)
	assert.Equal(t, "héllo", decoded)
}

// TestExactRoundTripForArbitraryUTF8 is property P1: BBPE must round-trip
// exactly, including whitespace, punctuation and multi-byte runes, unlike
// BPE/Unigram/WordPiece.
func TestExactRoundTripForArbitraryUTF8(t *testing.T) {
	tok := New()
	require.NoError(t, tok.Train([]string{"héllo world", "  multiple   spaces  ", "日本語 text", "tab\ttab"}, 300, nil))

	for _, s := range []string{
		"héllo world",
		"  multiple   spaces  ",
		"日本語 text",
		"tab\ttab",
		"",
		"a single byte string",
	} {
		ids, err := tok.Encode(s)
		require.NoError(t, err)
		decoded, err := tok.Decode(ids)
		require.NoError(t, err)
		assert.Equal(t, s, decoded)
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	tok := New()
	require.NoError(t, tok.Train([]string{"héllo world", "foo bar baz"}, 280, nil))

	first, err := tok.Encode("héllo world foo")
	require.NoError(t, err)
	second, err := tok.Encode("héllo world foo")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSpecialTokenPrecedence(t *testing.T) {
	tok := New()
	require.NoError(t, tok.Train([]string{"héllo"}, 262, []string{"<pad>", "<unk>"}))
	id, err := tok.TokenToID("<pad>")
	require.NoError(t, err)
	assert.Equal(t, 0, id)
	id, err = tok.TokenToID("<unk>")
	require.NoError(t, err)
	assert.Equal(t, 1, id)
}

func TestVocabCardinalityRespectsBudget(t *testing.T) {
	tok := New()
	require.NoError(t, tok.Train([]string{"héllo world", "foo bar baz quux"}, 270, nil))
	assert.LessOrEqual(t, tok.VocabSize(), 270)
	assert.GreaterOrEqual(t, tok.VocabSize(), 256)
}

func TestEncodeBatchMatchesEncode(t *testing.T) {
	tok := New()
	require.NoError(t, tok.Train([]string{"héllo world", "foo bar baz"}, 280, nil))

	texts := []string{"héllo", "foo bar", "baz world"}
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
	require.NoError(t, tok.Train([]string{"héllo world", "foo bar baz"}, 280, []string{"<unk>"}))

	path := filepath.Join(t.TempDir(), "bbpe.model")
	require.NoError(t, tok.Save(path))

	loaded := New()
	require.NoError(t, loaded.Load(path))

	assert.Equal(t, tok.VocabSize(), loaded.VocabSize())
	for _, s := range []string{"héllo world", "foo bar", "日本語"} {
		want, err := tok.Encode(s)
		require.NoError(t, err)
		got, err := loaded.Encode(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		wantDecoded, err := tok.Decode(want)
		require.NoError(t, err)
		gotDecoded, err := loaded.Decode(got)
		require.NoError(t, err)
		assert.Equal(t, wantDecoded, gotDecoded)
	}
}

// TestLoadMMapMatchesLoad checks the memory-mapped load path (spec §4.7)
// reproduces the same engine state as plain Load.
func TestLoadMMapMatchesLoad(t *testing.T) {
	tok := New()
	require.NoError(t, tok.Train([]string{"héllo world", "foo bar baz"}, 280, []string{"<unk>"}))

	path := filepath.Join(t.TempDir(), "bbpe.model")
	require.NoError(t, tok.Save(path))

	mapped := New()
	require.NoError(t, mapped.LoadMMap(path))

	assert.Equal(t, tok.VocabSize(), mapped.VocabSize())
	for _, s := range []string{"héllo world", "日本語"} {
		want, err := tok.Encode(s)
		require.NoError(t, err)
		got, err := mapped.Encode(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
