package pagination

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_EncodeDecode(t *testing.T) {
	at := time.Date(2026, 2, 15, 10, 30, 0, 123, time.UTC)

	c, err := Decode(Encode(at, "PRO-7KQ2MXW9HT4R"))
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.True(t, at.Equal(c.CreatedAt))
	assert.Equal(t, "PRO-7KQ2MXW9HT4R", c.ID)
}

func TestDecode_Empty(t *testing.T) {
	c, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, c)
}

func TestDecode_Rejects(t *testing.T) {
	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }
	for name, in := range map[string]string{
		"not base64":   "not-base64!!!",
		"no separator": enc("nopipe"),
		"bad nanos":    enc("abc|PRO-1"),
		"empty id":     enc("123|"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(in)
			assert.ErrorIs(t, err, ErrInvalidCursor)
		})
	}
}

func TestComputePage(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	key := func(s string) (time.Time, string) { return at, s }

	page, next, more := ComputePage([]string{"a", "b", "c"}, 5, key)
	assert.Len(t, page, 3)
	assert.Empty(t, next)
	assert.False(t, more)

	page, next, more = ComputePage([]string{"a", "b", "c"}, 3, key)
	assert.Len(t, page, 3)
	assert.Empty(t, next)
	assert.False(t, more)

	page, next, more = ComputePage([]string{"a", "b", "c", "d"}, 3, key)
	assert.Equal(t, []string{"a", "b", "c"}, page)
	assert.True(t, more)
	c, err := Decode(next)
	require.NoError(t, err)
	assert.Equal(t, "c", c.ID)
}
