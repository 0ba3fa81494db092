// Package persist implements the binary framing shared by every engine's
// Save/Load: a 4-byte magic tag, a format version, length-prefixed special
// tokens and vocabulary, followed by algorithm-specific sections the caller
// writes/reads itself. Framing is modeled on the teacher's
// models/gguf package (magic check, then version, then a sequence of
// typed reads via encoding/binary); atomic-write-then-rename and
// cross-process locking are modeled on hub/download.go's lockedDownload
// and execOnFileLock.
package persist

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/gomlx/gotokenizers/tokenizers/api"
)

// Version is the current persisted-format version for every engine.
const Version uint32 = 1

// Magic tags identify which engine a persisted file belongs to, so Load
// fails fast with AlgorithmMismatch on a mismatched file rather than
// misinterpreting its bytes.
var (
	MagicBPE      = [4]byte{'Z', 'T', 'B', 'P'}
	MagicBBPE     = [4]byte{'Z', 'T', 'B', 'B'}
	MagicUnigram  = [4]byte{'Z', 'T', 'U', 'G'}
	MagicWordPiece = [4]byte{'Z', 'T', 'W', 'P'}
)

// Header is the fixed portion common to every persisted engine.
type Header struct {
	Version       uint32
	SpecialTokens []string
	Tokens        []string
}

// WriteHeader writes the magic tag, version, special-token list and
// vocabulary token list, in that order. Callers append algorithm-specific
// sections to w immediately afterward.
func WriteHeader(w io.Writer, magic [4]byte, h Header) error {
	if _, err := w.Write(magic[:]); err != nil {
		return errors.Wrap(err, "writing magic")
	}
	if err := binary.Write(w, binary.LittleEndian, h.Version); err != nil {
		return errors.Wrap(err, "writing version")
	}
	if err := writeStringSlice(w, h.SpecialTokens); err != nil {
		return errors.Wrap(err, "writing special tokens")
	}
	if err := writeStringSlice(w, h.Tokens); err != nil {
		return errors.Wrap(err, "writing vocabulary")
	}
	return nil
}

// ReadHeader validates the magic tag against wantMagic and reads the
// common header. The returned error is an *api.Error of kind
// KindAlgorithmMismatch on a magic mismatch, or KindCorruptedModel on any
// other framing problem.
func ReadHeader(r io.Reader, wantMagic [4]byte) (Header, error) {
	var gotMagic [4]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return Header{}, api.WrapError(api.KindCorruptedModel, err, "reading magic tag")
	}
	if gotMagic != wantMagic {
		return Header{}, api.NewError(api.KindAlgorithmMismatch,
			"file has magic %q, this engine expects %q", gotMagic[:], wantMagic[:])
	}

	var h Header
	if err := binary.Read(r, binary.LittleEndian, &h.Version); err != nil {
		return Header{}, api.WrapError(api.KindCorruptedModel, err, "reading version")
	}
	if h.Version > Version {
		return Header{}, api.NewError(api.KindCorruptedModel,
			"file format version %d is newer than supported version %d", h.Version, Version)
	}

	specials, err := readStringSlice(r)
	if err != nil {
		return Header{}, api.WrapError(api.KindCorruptedModel, err, "reading special tokens")
	}
	h.SpecialTokens = specials

	tokens, err := readStringSlice(r)
	if err != nil {
		return Header{}, api.WrapError(api.KindCorruptedModel, err, "reading vocabulary")
	}
	h.Tokens = tokens

	return h, nil
}

// WriteStringSlice writes a length-prefixed list of length-prefixed
// strings; exported for algorithm-specific sections (e.g. BPE's merge
// list) that need the same framing.
func WriteStringSlice(w io.Writer, values []string) error { return writeStringSlice(w, values) }

// ReadStringSlice is the counterpart to WriteStringSlice.
func ReadStringSlice(r io.Reader) ([]string, error) { return readStringSlice(r) }

func writeStringSlice(w io.Writer, values []string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(values))); err != nil {
		return err
	}
	for _, v := range values {
		if err := writeString(w, v); err != nil {
			return err
		}
	}
	return nil
}

func readStringSlice(r io.Reader) ([]string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteFloat64Slice and ReadFloat64Slice frame Unigram's per-token scores.
func WriteFloat64Slice(w io.Writer, values []float64) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(values))); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, values)
}

func ReadFloat64Slice(r io.Reader) ([]float64, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]float64, n)
	if err := binary.Read(r, binary.LittleEndian, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WriteBoolSlice and ReadBoolSlice frame WordPiece's continuation flags.
func WriteBoolSlice(w io.Writer, values []bool) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(values))); err != nil {
		return err
	}
	packed := make([]byte, len(values))
	for i, b := range values {
		if b {
			packed[i] = 1
		}
	}
	_, err := w.Write(packed)
	return err
}

func ReadBoolSlice(r io.Reader) ([]bool, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	packed := make([]byte, n)
	if _, err := io.ReadFull(r, packed); err != nil {
		return nil, err
	}
	out := make([]bool, n)
	for i, b := range packed {
		out[i] = b != 0
	}
	return out, nil
}

// SaveAtomic writes the bytes produced by writeFn to path atomically: it
// writes to a uniquely-suffixed temp file under the same directory, then
// renames it into place, while holding a path+".lock" file lock for the
// duration, so concurrent savers (in this or another process) never
// interleave or half-write a file a reader might observe.
func SaveAtomic(path string, writeFn func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return api.WrapError(api.KindIOError, err, "creating directory for %q", path)
	}

	lockPath := path + ".lock"
	fileLock := flock.New(lockPath)
	if err := fileLock.Lock(); err != nil {
		return api.WrapError(api.KindIOError, err, "locking %q", lockPath)
	}
	defer fileLock.Unlock()

	tmpPath := path + ".tmp-" + uuid.NewString()
	f, err := os.Create(tmpPath)
	if err != nil {
		return api.WrapError(api.KindIOError, err, "creating temporary file for %q", path)
	}
	w := bufio.NewWriter(f)

	writeErr := writeFn(w)
	if writeErr == nil {
		writeErr = w.Flush()
	}
	closeErr := f.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return api.WrapError(api.KindIOError, writeErr, "writing model to %q", path)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return api.WrapError(api.KindIOError, closeErr, "closing temporary file for %q", path)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return api.WrapError(api.KindIOError, err, "renaming temporary file into %q", path)
	}
	return nil
}

// OpenForRead opens path for Load, translating a missing file into
// KindFileNotFound rather than a bare *os.PathError.
func OpenForRead(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, api.WrapError(api.KindFileNotFound, err, "model file %q does not exist", path)
		}
		return nil, api.WrapError(api.KindIOError, err, "opening %q", path)
	}
	return f, nil
}

// MMapReader memory-maps path read-only and exposes it as an io.Reader,
// for loading large persisted vocabularies without reading them whole into
// process memory, the same reason models/gguf.MMapReader maps tensor data.
type MMapReader struct {
	data mmap.MMap
	off  int
}

// OpenMMap memory-maps path for reading.
func OpenMMap(path string) (*MMapReader, error) {
	f, err := OpenForRead(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, api.WrapError(api.KindIOError, err, "memory-mapping %q", path)
	}
	return &MMapReader{data: data}, nil
}

// Close unmaps the underlying file.
func (m *MMapReader) Close() error { return m.data.Unmap() }

// Read implements io.Reader over the mapped region.
func (m *MMapReader) Read(p []byte) (int, error) {
	if m.off >= len(m.data) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.off:])
	m.off += n
	return n, nil
}
