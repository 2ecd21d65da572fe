package transfer_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/ori-vcs/ori/internal/mocks/mocktransfer"
	"github.com/ori-vcs/ori/oriinternals/hashid"
	"github.com/ori-vcs/ori/oriinternals/index"
	"github.com/ori-vcs/ori/oriinternals/metadatalog"
	"github.com/ori-vcs/ori/oriinternals/packfile"
	"github.com/ori-vcs/ori/oriobject"
	"github.com/ori-vcs/ori/store"
	"github.com/ori-vcs/ori/transfer"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, dir string) *store.Store {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(dir, 0o755))
	packs, err := packfile.OpenManager(fs, dir+"/objs")
	require.NoError(t, err)
	idx, err := index.Open(fs, dir+"/index")
	require.NoError(t, err)
	mlog, err := metadatalog.Open(fs, dir+"/metadata")
	require.NoError(t, err)
	s := store.New(packs, idx, mlog)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRequestRoundTrip(t *testing.T) {
	t.Parallel()
	ids := []hashid.ID{hashid.Sum([]byte("a")), hashid.Sum([]byte("b"))}

	var buf bytes.Buffer
	require.NoError(t, transfer.WriteRequest(&buf, ids))

	got, err := transfer.ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, ids, got)
}

func TestSendReceiveObjectsRoundTrip(t *testing.T) {
	t.Parallel()
	src := newStore(t, "/src")
	dst := newStore(t, "/dst")

	id1, err := src.Add(oriobject.TypeBlob, []byte("payload one"))
	require.NoError(t, err)
	id2, err := src.Add(oriobject.TypeBlob, []byte("payload two"))
	require.NoError(t, err)

	var wire bytes.Buffer
	require.NoError(t, transfer.SendObjects(&wire, src, []hashid.ID{id1, id2}))

	n, err := transfer.ReceiveObjects(&wire, dst)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.True(t, dst.Has(id1))
	assert.True(t, dst.Has(id2))

	obj, err := dst.Get(id1)
	require.NoError(t, err)
	payload, err := obj.Payload()
	require.NoError(t, err)
	assert.Equal(t, "payload one", string(payload))
}

// localPeer implements transfer.Fetcher by answering directly from an
// in-process Store, exercising Pull's BFS across several RequestObjects
// round trips without real sockets.
type localPeer struct {
	store *store.Store
}

func (p *localPeer) RequestObjects(ctx context.Context, ids []hashid.ID) (io.Reader, error) {
	var buf bytes.Buffer
	if err := transfer.SendObjects(&buf, p.store, ids); err != nil {
		return nil, err
	}
	return &buf, nil
}

func TestFetchLevelUsesFetcherRequestObjects(t *testing.T) {
	t.Parallel()
	src := newStore(t, "/fetchlevel-src")
	dst := newStore(t, "/fetchlevel-dst")

	id, err := src.Add(oriobject.TypeBlob, []byte("fetched via mock"))
	require.NoError(t, err)

	var wire bytes.Buffer
	require.NoError(t, transfer.SendObjects(&wire, src, []hashid.ID{id}))

	ctrl := gomock.NewController(t)
	peer := mocktransfer.NewMockFetcher(ctrl)
	peer.EXPECT().RequestObjects(gomock.Any(), []hashid.ID{id}).Return(&wire, nil)

	n, err := transfer.Pull(context.Background(), dst, peer, []hashid.ID{id})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, dst.Has(id))
}

func TestPullWalksCommitTreeAndBlob(t *testing.T) {
	t.Parallel()
	remote := newStore(t, "/remote")
	local := newStore(t, "/local")

	blobID, err := remote.Add(oriobject.TypeBlob, []byte("file contents"))
	require.NoError(t, err)
	tree, err := oriobject.NewTree([]oriobject.TreeEntry{
		{Name: "a.txt", Kind: oriobject.EntryBlob, ChildID: blobID},
	})
	require.NoError(t, err)
	treeID, err := remote.Add(oriobject.TypeTree, tree.ToBlob())
	require.NoError(t, err)

	c := &oriobject.Commit{Version: 1, Tree: treeID, User: "tester", Time: 1, Message: "m"}
	blob, err := c.ToBlob(true)
	require.NoError(t, err)
	commitID, err := remote.Add(oriobject.TypeCommit, blob)
	require.NoError(t, err)

	n, err := transfer.Pull(context.Background(), local, &localPeer{store: remote}, []hashid.ID{commitID})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.True(t, local.Has(commitID))
	assert.True(t, local.Has(treeID))
	assert.True(t, local.Has(blobID))
}

func TestPullSkipsAlreadyKnownObjects(t *testing.T) {
	t.Parallel()
	remote := newStore(t, "/remote2")
	local := newStore(t, "/local2")

	blobID, err := remote.Add(oriobject.TypeBlob, []byte("shared"))
	require.NoError(t, err)
	localBlobID, err := local.Add(oriobject.TypeBlob, []byte("shared"))
	require.NoError(t, err)
	require.Equal(t, blobID, localBlobID)

	tree, err := oriobject.NewTree([]oriobject.TreeEntry{
		{Name: "f", Kind: oriobject.EntryBlob, ChildID: blobID},
	})
	require.NoError(t, err)
	treeID, err := remote.Add(oriobject.TypeTree, tree.ToBlob())
	require.NoError(t, err)

	c := &oriobject.Commit{Version: 1, Tree: treeID, User: "t", Time: 1, Message: "m"}
	blob, err := c.ToBlob(true)
	require.NoError(t, err)
	commitID, err := remote.Add(oriobject.TypeCommit, blob)
	require.NoError(t, err)

	n, err := transfer.Pull(context.Background(), local, &localPeer{store: remote}, []hashid.ID{commitID})
	require.NoError(t, err)
	assert.Equal(t, 2, n) // commit + tree; blob already local
}
