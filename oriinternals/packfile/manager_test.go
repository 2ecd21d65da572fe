package packfile_test

import (
	"testing"

	"github.com/ori-vcs/ori/oriinternals/packfile"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerAllocatesFreshPackfileWhenNone(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	m, err := packfile.OpenManager(fs, "/repo/objs")
	require.NoError(t, err)
	defer m.Close()

	cur, err := m.Current()
	require.NoError(t, err)
	assert.Equal(t, uint32(0), cur.ID())

	again, err := m.Current()
	require.NoError(t, err)
	assert.Equal(t, cur.ID(), again.ID())
}

func TestManagerResumesFromExistingPackfiles(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/repo/objs", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/repo/objs/pack.00000000", []byte{magicEndByte()}, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/repo/objs/pack.00000003", []byte{magicEndByte()}, 0o644))

	m, err := packfile.OpenManager(fs, "/repo/objs")
	require.NoError(t, err)
	defer m.Close()

	ids, err := m.All()
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 3}, ids)

	cur, err := m.Current()
	require.NoError(t, err)
	assert.Equal(t, uint32(4), cur.ID())
}

func magicEndByte() byte { return 0x00 }
