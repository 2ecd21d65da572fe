package index_test

import (
	"testing"

	"github.com/ori-vcs/ori/oriinternals/hashid"
	"github.com/ori-vcs/ori/oriinternals/index"
	"github.com/ori-vcs/ori/oriobject"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateInfoThenGet(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	idx, err := index.Open(fs, "/repo/index")
	require.NoError(t, err)
	defer idx.Close()

	id := hashid.Sum([]byte("hello"))
	entry := index.Entry{
		ID:         id,
		PackfileID: 1,
		Offset:     64,
		StoredSize: 5,
		Info: oriobject.Info{
			ID:          id,
			Type:        oriobject.TypeBlob,
			PayloadSize: 5,
		},
	}
	require.NoError(t, idx.UpdateInfo(entry))

	got, ok := idx.Get(id)
	require.True(t, ok)
	assert.Equal(t, entry, got)
	assert.Equal(t, 1, idx.Len())
}

func TestOpenReplaysLog(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	idx1, err := index.Open(fs, "/repo/index")
	require.NoError(t, err)

	id := hashid.Sum([]byte("payload"))
	require.NoError(t, idx1.UpdateInfo(index.Entry{
		ID:         id,
		PackfileID: 2,
		Offset:     10,
		StoredSize: 20,
		Info:       oriobject.Info{ID: id, Type: oriobject.TypeTree, PayloadSize: 20},
	}))
	require.NoError(t, idx1.Close())

	idx2, err := index.Open(fs, "/repo/index")
	require.NoError(t, err)
	defer idx2.Close()

	got, ok := idx2.Get(id)
	require.True(t, ok)
	assert.Equal(t, uint32(2), got.PackfileID)
}

func TestRewritePreservesLiveMap(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	idx, err := index.Open(fs, "/repo/index")
	require.NoError(t, err)
	defer idx.Close()

	var ids []hashid.ID
	for i := 0; i < 5; i++ {
		id := hashid.Sum([]byte{byte(i)})
		ids = append(ids, id)
		require.NoError(t, idx.UpdateInfo(index.Entry{
			ID:         id,
			PackfileID: 1,
			Offset:     uint64(i * 10),
			StoredSize: 10,
			Info:       oriobject.Info{ID: id, Type: oriobject.TypeBlob, PayloadSize: 10},
		}))
	}

	before := idx.Len()
	require.NoError(t, idx.Rewrite())
	assert.Equal(t, before, idx.Len())

	for _, id := range ids {
		assert.True(t, idx.Has(id))
	}
}

func TestRebuildReplacesMap(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	idx, err := index.Open(fs, "/repo/index")
	require.NoError(t, err)
	defer idx.Close()

	stale := hashid.Sum([]byte("stale"))
	require.NoError(t, idx.UpdateInfo(index.Entry{ID: stale, PackfileID: 1}))

	fresh := hashid.Sum([]byte("fresh"))
	err = idx.Rebuild(func(yield func(index.Entry) error) error {
		return yield(index.Entry{ID: fresh, PackfileID: 3})
	})
	require.NoError(t, err)

	assert.False(t, idx.Has(stale))
	assert.True(t, idx.Has(fresh))
}
