package codec_test

import (
	"testing"

	"github.com/ori-vcs/ori/oriinternals/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripAllModes(t *testing.T) {
	t.Parallel()

	payload := []byte("the quick brown fox jumps over the lazy dog, repeatedly, repeatedly, repeatedly")
	for _, mode := range []codec.Mode{codec.ModeNone, codec.ModeZlib, codec.ModeZstd} {
		mode := mode
		t.Run(modeName(mode), func(t *testing.T) {
			t.Parallel()

			stored, err := codec.EncodeBytes(mode, payload)
			require.NoError(t, err)

			decoded, err := codec.DecodeBytes(mode, stored)
			require.NoError(t, err)
			assert.Equal(t, payload, decoded)
		})
	}
}

func TestWithModeRoundTrip(t *testing.T) {
	t.Parallel()

	flags := uint32(0xFFFF_FFF0)
	flags = codec.WithMode(flags, codec.ModeZstd)
	assert.Equal(t, codec.ModeZstd, codec.ModeFromFlags(flags))

	flags = codec.WithMode(flags, codec.ModeNone)
	assert.Equal(t, codec.ModeNone, codec.ModeFromFlags(flags))
}

func TestForUnknownMode(t *testing.T) {
	t.Parallel()

	_, err := codec.For(codec.Mode(99))
	assert.Error(t, err)
}

func modeName(m codec.Mode) string {
	switch m {
	case codec.ModeNone:
		return "none"
	case codec.ModeZlib:
		return "zlib"
	case codec.ModeZstd:
		return "zstd"
	default:
		return "unknown"
	}
}
