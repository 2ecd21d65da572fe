package stream_test

import (
	"testing"

	"github.com/ori-vcs/ori/oriinternals/hashid"
	"github.com/ori-vcs/ori/oriinternals/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripTypesEnabled(t *testing.T) {
	t.Parallel()
	roundTrip(t, true)
}

func TestRoundTripTypesDisabled(t *testing.T) {
	t.Parallel()
	roundTrip(t, false)
}

func roundTrip(t *testing.T, typesEnabled bool) {
	id := hashid.Sum([]byte("payload"))

	w := stream.NewWriter(typesEnabled)
	w.U8(7).U32(1234).U64(9876543210).Hash(id).PStr("short").LPStr("a longer string with spaces")

	r := stream.NewReader(w.Bytes(), typesEnabled)

	u8, err := r.U8()
	require.NoError(t, err)
	assert.Equal(t, uint8(7), u8)

	u32, err := r.U32()
	require.NoError(t, err)
	assert.Equal(t, uint32(1234), u32)

	u64, err := r.U64()
	require.NoError(t, err)
	assert.Equal(t, uint64(9876543210), u64)

	gotID, err := r.Hash()
	require.NoError(t, err)
	assert.Equal(t, id, gotID)

	pstr, err := r.PStr()
	require.NoError(t, err)
	assert.Equal(t, "short", pstr)

	lpstr, err := r.LPStr()
	require.NoError(t, err)
	assert.Equal(t, "a longer string with spaces", lpstr)

	assert.Zero(t, r.Len())
}

func TestMismatchedTagIsFatal(t *testing.T) {
	t.Parallel()

	w := stream.NewWriter(true)
	w.U32(42)

	r := stream.NewReader(w.Bytes(), true)
	_, err := r.U64()
	assert.Error(t, err)
}

func TestTruncatedBufferErrors(t *testing.T) {
	t.Parallel()

	w := stream.NewWriter(false)
	w.U64(1)
	truncated := w.Bytes()[:4]

	r := stream.NewReader(truncated, false)
	_, err := r.U64()
	assert.Error(t, err)
}

func TestRawTail(t *testing.T) {
	t.Parallel()

	w := stream.NewWriter(false)
	w.U8(1).Raw([]byte("hello\x00world"))

	r := stream.NewReader(w.Bytes(), false)
	_, err := r.U8()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello\x00world"), r.Raw())
}
