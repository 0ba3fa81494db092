package bytelevel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripAllBytes(t *testing.T) {
	c := Default()
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	encoded := c.Encode(data)
	decoded := c.Decode(encoded)
	require.Equal(t, data, decoded)
}

func TestRoundTripUTF8Text(t *testing.T) {
	c := Default()
	for _, s := range []string{"hello", "héllo", "你好世界", "", "a b\tc\nd"} {
		encoded := c.Encode([]byte(s))
		decoded := c.Decode(encoded)
		assert.Equal(t, s, string(decoded))
	}
}

func TestEncodedCharactersArePrintable(t *testing.T) {
	c := Default()
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	encoded := c.Encode(data)
	for _, r := range encoded {
		assert.NotEqual(t, ' ', r)
		assert.False(t, r == '\n' || r == '\t' || r == '\r')
	}
}

func TestByteToRuneInjective(t *testing.T) {
	c := Default()
	seen := make(map[rune]bool, 256)
	for b := 0; b < 256; b++ {
		r := c.ByteToRune(byte(b))
		assert.False(t, seen[r], "rune %q reused for byte %d", r, b)
		seen[r] = true
	}
}
