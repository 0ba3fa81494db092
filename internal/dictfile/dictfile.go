// Package dictfile resolves and parses dictionary-seed files (spec §4.6,
// §6). Resolution is grounded on the teacher's hub.IterFileNames path
// safety check: a dictionary name is always resolved strictly under a
// caller-configured root directory, and is rejected outright if it is
// absolute or contains a ".." segment, the same two checks
// hub/files.go applies to repository sibling file names before trusting
// them.
package dictfile

import (
	"bufio"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/gomlx/gotokenizers/tokenizers/api"
)

// Root resolves dictionary file names against a fixed root directory.
type Root struct {
	dir string
}

// NewRoot returns a Root resolving names under dir.
func NewRoot(dir string) *Root { return &Root{dir: dir} }

// Resolve validates name and returns its absolute path under the root,
// without touching the filesystem.
func (r *Root) Resolve(name string) (string, error) {
	if path.IsAbs(name) || strings.Contains(name, "..") {
		return "", api.NewError(api.KindInvalidArgument,
			"dictionary name %q must be relative and must not contain \"..\"", name)
	}
	return filepath.Join(r.dir, filepath.FromSlash(name)), nil
}

// Load resolves name under root and parses it as a dictionary file: UTF-8
// text, one token per line, blank lines and lines starting with "#"
// ignored, trailing whitespace stripped. Entries are de-duplicated while
// preserving first-seen order.
func (r *Root) Load(name string) ([]string, error) {
	path, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, api.WrapError(api.KindFileNotFound, err, "dictionary file %q not found", name)
		}
		return nil, api.WrapError(api.KindIOError, err, "opening dictionary file %q", name)
	}
	defer f.Close()

	entries, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing dictionary file %q", name)
	}
	return entries, nil
}

// Parse reads a dictionary file's contents: one token per line, blank
// lines and lines beginning with "#" ignored, trailing whitespace
// stripped, duplicates removed preserving first-seen order.
func Parse(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	seen := make(map[string]bool)
	var entries []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r\n")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if seen[line] {
			continue
		}
		seen[line] = true
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
