package metadatalog_test

import (
	"testing"

	"github.com/ori-vcs/ori/oriinternals/hashid"
	"github.com/ori-vcs/ori/oriinternals/metadatalog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionAppliesRefDeltas(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	log, err := metadatalog.Open(fs, "/repo/metadata")
	require.NoError(t, err)
	defer log.Close()

	id := hashid.Sum([]byte("tree"))
	tx := log.Begin()
	tx.AddRefDelta(id, 1)
	tx.AddRefDelta(id, 1)
	require.NoError(t, tx.Commit())

	assert.Equal(t, int64(2), log.Refcount(id))
}

func TestOpenReplaysBatches(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	log1, err := metadatalog.Open(fs, "/repo/metadata")
	require.NoError(t, err)

	commitID := hashid.Sum([]byte("commit"))
	tx := log1.Begin()
	tx.AddRefDelta(commitID, 3)
	tx.AddCommitStatus(commitID, "purging")
	tx.AddKeyRecord("fp1", []byte("-----BEGIN PUBLIC KEY-----"))
	require.NoError(t, tx.Commit())
	require.NoError(t, log1.Close())

	log2, err := metadatalog.Open(fs, "/repo/metadata")
	require.NoError(t, err)
	defer log2.Close()

	assert.Equal(t, int64(3), log2.Refcount(commitID))
	status, ok := log2.Status(commitID)
	require.True(t, ok)
	assert.Equal(t, "purging", status)
	pem, ok := log2.Key("fp1")
	require.True(t, ok)
	assert.Equal(t, []byte("-----BEGIN PUBLIC KEY-----"), pem)
}

func TestRewriteFromTruth(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	log, err := metadatalog.Open(fs, "/repo/metadata")
	require.NoError(t, err)
	defer log.Close()

	stale := hashid.Sum([]byte("stale"))
	tx := log.Begin()
	tx.AddRefDelta(stale, 5)
	require.NoError(t, tx.Commit())

	truth := map[hashid.ID]int64{hashid.Sum([]byte("new")): 7}
	require.NoError(t, log.Rewrite(truth))

	assert.Equal(t, int64(0), log.Refcount(stale))
	assert.Equal(t, int64(7), log.Refcount(hashid.Sum([]byte("new"))))
}

func TestNegativeRefDeltaDecrements(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	log, err := metadatalog.Open(fs, "/repo/metadata")
	require.NoError(t, err)
	defer log.Close()

	id := hashid.Sum([]byte("x"))
	tx := log.Begin()
	tx.AddRefDelta(id, 2)
	require.NoError(t, tx.Commit())

	tx2 := log.Begin()
	tx2.AddRefDelta(id, -1)
	require.NoError(t, tx2.Commit())

	assert.Equal(t, int64(1), log.Refcount(id))
}
