// Package pretokenize implements the whitespace pre-tokenizer shared by the
// character-level engines (BPE, Unigram, WordPiece), generalizing the
// teacher's strings.Fields-based default pre-tokenizer into a small,
// dependency-free splitter. Per spec, pre-tokenization never goes beyond
// whitespace splitting: no regex, no punctuation splitting, no Unicode
// segmentation.
package pretokenize

import "unicode"

// Whitespace splits text on runs of Unicode whitespace, the same semantics
// as strings.Fields. Empty input yields an empty, non-nil slice.
func Whitespace(text string) []string {
	words := make([]string, 0, len(text)/4+1)
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				words = append(words, text[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, text[start:])
	}
	return words
}
