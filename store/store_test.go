package store_test

import (
	"bytes"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/ori-vcs/ori/internal/mocks/mockstore"
	"github.com/ori-vcs/ori/oriinternals/hashid"
	"github.com/ori-vcs/ori/oriinternals/index"
	"github.com/ori-vcs/ori/oriinternals/metadatalog"
	"github.com/ori-vcs/ori/oriinternals/packfile"
	"github.com/ori-vcs/ori/oriobject"
	"github.com/ori-vcs/ori/store"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, root string) *store.Store {
	t.Helper()
	fs := afero.NewMemMapFs()

	packs, err := packfile.OpenManager(fs, root+"/objs")
	require.NoError(t, err)
	idx, err := index.Open(fs, root+"/index")
	require.NoError(t, err)
	meta, err := metadatalog.Open(fs, root+"/metadata")
	require.NoError(t, err)

	s := store.New(packs, idx, meta)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAddIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, "/repo")
	payload := []byte("hello")

	id1, err := s.Add(oriobject.TypeBlob, payload)
	require.NoError(t, err)
	id2, err := s.Add(oriobject.TypeBlob, payload)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Len(t, s.List(), 1)
}

func TestAddGetRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, "/repo")
	payload := []byte("payload bytes")

	id, err := s.Add(oriobject.TypeBlob, payload)
	require.NoError(t, err)

	obj, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, oriobject.TypeBlob, obj.Info().Type)

	got, err := obj.Payload()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestGetMissingWithoutPeerFails(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, "/repo")
	_, err := s.Get(hashid.Sum([]byte("nowhere")))
	assert.Error(t, err)
}

func TestGetForwardsToPeerWhenAbsent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, "/repo")
	payload := []byte("remote bytes")
	id := hashid.Sum(payload)
	info := oriobject.Info{ID: id, Type: oriobject.TypeBlob, PayloadSize: uint64(len(payload))}

	ctrl := gomock.NewController(t)
	peer := mockstore.NewMockPeer(ctrl)
	peer.EXPECT().Get(id).Return(info, payload, nil)
	s.SetPeer(peer)

	obj, err := s.Get(id)
	require.NoError(t, err)
	got, err := obj.Payload()
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	assert.False(t, s.Has(id), "forwarded get must not cache locally")
}

func TestPurgeMarksObjectPurged(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, "/repo")
	id, err := s.Add(oriobject.TypeBlob, []byte("goodbye"))
	require.NoError(t, err)

	require.NoError(t, s.Purge(id))

	info, err := s.Info(id)
	require.NoError(t, err)
	assert.Equal(t, oriobject.TypePurged, info.Type)
}

func TestTransmitReceiveBetweenStores(t *testing.T) {
	t.Parallel()

	src := newTestStore(t, "/src")
	payload := []byte("shared object")
	id, err := src.Add(oriobject.TypeBlob, payload)
	require.NoError(t, err)

	var wire bytes.Buffer
	require.NoError(t, src.Transmit(&wire, []hashid.ID{id}))

	dst := newTestStore(t, "/dst")
	_, err = dst.Receive(&wire)
	require.NoError(t, err)

	obj, err := dst.Get(id)
	require.NoError(t, err)
	got, err := obj.Payload()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
