// Package vocab implements the bidirectional token/id store shared by every
// tokenizer engine. It is the one piece of mutable state all four engines
// compose by value rather than re-implement: ids are assigned densely from
// zero, in insertion order, and Add is idempotent.
package vocab

import "github.com/gomlx/gotokenizers/tokenizers/api"

// Vocab is a bidirectional mapping between token strings and the
// non-negative integer ids assigned to them in insertion order.
//
// The zero value is not usable; construct with New.
type Vocab struct {
	tokens []string
	ids    map[string]int
}

// New returns an empty vocabulary.
func New() *Vocab {
	return &Vocab{ids: make(map[string]int)}
}

// NewWithCapacity returns an empty vocabulary pre-sized for n entries, to
// avoid incremental map growth in hot training loops.
func NewWithCapacity(n int) *Vocab {
	return &Vocab{tokens: make([]string, 0, n), ids: make(map[string]int, n)}
}

// Add assigns token the next free id and returns it, unless token is
// already present, in which case its existing id is returned unchanged.
func (v *Vocab) Add(token string) int {
	if id, ok := v.ids[token]; ok {
		return id
	}
	id := len(v.tokens)
	v.tokens = append(v.tokens, token)
	v.ids[token] = id
	return id
}

// Has reports whether token is already assigned an id.
func (v *Vocab) Has(token string) bool {
	_, ok := v.ids[token]
	return ok
}

// IDOf returns the id assigned to token, or (-1, false) if absent.
func (v *Vocab) IDOf(token string) (int, bool) {
	id, ok := v.ids[token]
	if !ok {
		return -1, false
	}
	return id, true
}

// TokenOf returns the string assigned to id, or ("", false) if id is
// outside [0, Size()).
func (v *Vocab) TokenOf(id int) (string, bool) {
	if id < 0 || id >= len(v.tokens) {
		return "", false
	}
	return v.tokens[id], true
}

// Size returns the number of assigned ids.
func (v *Vocab) Size() int { return len(v.tokens) }

// Iter calls yield(id, token) for every entry in insertion order, stopping
// early if yield returns false.
func (v *Vocab) Iter(yield func(id int, token string) bool) {
	for id, tok := range v.tokens {
		if !yield(id, tok) {
			return
		}
	}
}

// Tokens returns the token strings in id order. The returned slice must not
// be mutated; it aliases the vocabulary's internal storage.
func (v *Vocab) Tokens() []string { return v.tokens }

// RequireToken returns the token assigned to id, or an *api.Error of kind
// KindUnknownToken if id is unassigned. It is the canonical decode-path
// lookup every engine's Decode uses.
func (v *Vocab) RequireToken(id int) (string, error) {
	tok, ok := v.TokenOf(id)
	if !ok {
		return "", api.UnknownToken(id)
	}
	return tok, nil
}
