package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("gang_")
	assert.True(t, strings.HasPrefix(id, "gang_"))
	assert.Len(t, id, len("gang_")+24)
}

func TestHex(t *testing.T) {
	assert.Len(t, Hex(8), 16)
	assert.NotEqual(t, Hex(8), Hex(8))
}

func TestCode_Alphabet(t *testing.T) {
	for i := 0; i < 200; i++ {
		c := Code(12)
		assert.Len(t, c, 12)
		for _, r := range c {
			assert.True(t, strings.ContainsRune(keyAlphabet, r), "unexpected rune %q in %s", r, c)
		}
	}
}

func TestCode_NoAmbiguousCharacters(t *testing.T) {
	for _, r := range "01IO" {
		assert.False(t, strings.ContainsRune(keyAlphabet, r))
	}
}
