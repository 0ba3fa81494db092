package api

import "fmt"

// Kind classifies a tokenizer error without binding callers to a specific
// error type, so errors.As can match against Kind comparisons.
type Kind int

const (
	// KindInvalidVocabSize: requested vocabulary size is smaller than the
	// unavoidable seed (256 for BBPE, |alphabet|+|specials| for others).
	KindInvalidVocabSize Kind = iota
	// KindEmptyCorpus: training was invoked with no content.
	KindEmptyCorpus
	// KindUnknownToken: decode received an id the vocabulary doesn't contain.
	KindUnknownToken
	// KindUnknownCharacter: encode met a character with no vocabulary entry
	// and no <unk> fallback.
	KindUnknownCharacter
	// KindAlgorithmMismatch: load received a persisted model of a different
	// algorithm.
	KindAlgorithmMismatch
	// KindCorruptedModel: persisted file failed schema or invariant
	// validation.
	KindCorruptedModel
	// KindFileNotFound: filesystem path does not exist.
	KindFileNotFound
	// KindIOError: other filesystem problem.
	KindIOError
	// KindInvalidArgument: malformed input.
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindInvalidVocabSize:
		return "InvalidVocabSize"
	case KindEmptyCorpus:
		return "EmptyCorpus"
	case KindUnknownToken:
		return "UnknownToken"
	case KindUnknownCharacter:
		return "UnknownCharacter"
	case KindAlgorithmMismatch:
		return "AlgorithmMismatch"
	case KindCorruptedModel:
		return "CorruptedModel"
	case KindFileNotFound:
		return "FileNotFound"
	case KindIOError:
		return "IOError"
	case KindInvalidArgument:
		return "InvalidArgument"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the concrete error type returned by every public operation in
// this module. It always names the failing value and, where relevant, the
// constraint it violated.
type Error struct {
	Kind Kind
	Msg  string
	// Cause wraps an underlying error, e.g. an *os.PathError from the
	// filesystem, or a github.com/pkg/errors-wrapped cause.
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, &Error{Kind: KindFoo}) match by Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError constructs an *Error of the given kind with a formatted message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError constructs an *Error of the given kind wrapping cause.
func WrapError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// InvalidVocabSize builds the standard message for a too-small target
// vocabulary size, always naming both the requested and required sizes.
func InvalidVocabSize(requested, required int) *Error {
	return NewError(KindInvalidVocabSize,
		"vocab_size must be >= %d (got %d)", required, requested)
}

// UnknownToken builds the standard message for a decode of an unassigned id.
func UnknownToken(id int) *Error {
	return NewError(KindUnknownToken, "token id %d is not assigned", id)
}

// UnknownCharacter builds the standard message for an encode of an
// out-of-vocabulary character with no <unk> fallback.
func UnknownCharacter(r rune) *Error {
	return NewError(KindUnknownCharacter, "character %q has no vocabulary entry and no <unk> token is configured", r)
}
