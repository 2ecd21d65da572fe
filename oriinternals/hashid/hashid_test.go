package hashid_test

import (
	"strings"
	"testing"

	"github.com/ori-vcs/ori/oriinternals/hashid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumDeterministic(t *testing.T) {
	t.Parallel()

	a := hashid.Sum([]byte("hello"))
	b := hashid.Sum([]byte("hello"))
	assert.Equal(t, a, b)

	c := hashid.Sum([]byte("hello world"))
	assert.NotEqual(t, a, c)
}

func TestEmpty(t *testing.T) {
	t.Parallel()

	assert.True(t, hashid.Empty.IsZero())
	assert.False(t, hashid.Sum([]byte("x")).IsZero())
}

func TestHexRoundTrip(t *testing.T) {
	t.Parallel()

	id := hashid.Sum([]byte("round trip me"))
	str := id.String()
	assert.Len(t, str, hashid.HexSize)
	assert.Equal(t, strings.ToLower(str), str)

	parsed, err := hashid.FromHex(str)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	parsed, err = hashid.FromHex(strings.ToUpper(str))
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestFromHexInvalid(t *testing.T) {
	t.Parallel()

	_, err := hashid.FromHex("not-hex")
	assert.Error(t, err)

	_, err = hashid.FromHex("abcd")
	assert.Error(t, err)
}

func TestFromBytesInvalid(t *testing.T) {
	t.Parallel()

	_, err := hashid.FromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestLess(t *testing.T) {
	t.Parallel()

	a, err := hashid.FromHex(strings.Repeat("00", hashid.Size))
	require.NoError(t, err)
	b, err := hashid.FromHex(strings.Repeat("ff", hashid.Size))
	require.NoError(t, err)

	assert.True(t, hashid.Less(a, b))
	assert.False(t, hashid.Less(b, a))
	assert.False(t, hashid.Less(a, a))
}
