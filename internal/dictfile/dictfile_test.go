package dictfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSkipsBlankAndCommentLines(t *testing.T) {
	content := "氢\n锂\n\n# a comment\n铍  \n氢\n"
	entries, err := Parse(strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, []string{"氢", "锂", "铍"}, entries)
}

func TestResolveRejectsAbsoluteAndDotDot(t *testing.T) {
	r := NewRoot("/var/dict")

	_, err := r.Resolve("/etc/passwd")
	require.Error(t, err)

	_, err = r.Resolve("../../etc/passwd")
	require.Error(t, err)
}

func TestResolveStaysUnderRoot(t *testing.T) {
	r := NewRoot("/var/dict")
	p, err := r.Resolve("elements.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/var/dict", "elements.txt"), p)
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "elements.txt"), []byte("H\n氢\nLi\n锂\n"), 0o644))

	r := NewRoot(dir)
	entries, err := r.Load("elements.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"H", "氢", "Li", "锂"}, entries)
}

func TestLoadMissingFile(t *testing.T) {
	r := NewRoot(t.TempDir())
	_, err := r.Load("nope.txt")
	require.Error(t, err)
}
