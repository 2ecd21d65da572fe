package repository_test

import (
	"testing"

	"github.com/ori-vcs/ori/oerrors"
	"github.com/ori-vcs/ori/oriinternals/hashid"
	"github.com/ori-vcs/ori/oriobject"
	"github.com/ori-vcs/ori/repository"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openRepo(t *testing.T) *repository.Repo {
	t.Helper()
	fs := afero.NewMemMapFs()
	r, err := repository.Init(fs, "/repo", repository.InitOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func addTree(t *testing.T, r *repository.Repo, entries ...oriobject.TreeEntry) hashid.ID {
	t.Helper()
	tree, err := oriobject.NewTree(entries)
	require.NoError(t, err)
	id, err := r.AddObject(oriobject.TypeTree, tree.ToBlob())
	require.NoError(t, err)
	return id
}

func TestEmptyRepoBoundaryCases(t *testing.T) {
	t.Parallel()
	r := openRepo(t)

	branches, err := r.ListBranches()
	require.NoError(t, err)
	assert.Equal(t, []string{repository.DefaultBranch}, branches)

	head, err := r.HEAD()
	require.NoError(t, err)
	assert.Equal(t, repository.DefaultBranch, head)

	tip, err := r.BranchTip(repository.DefaultBranch)
	require.NoError(t, err)
	assert.True(t, tip.IsZero())

	hist, err := r.History(repository.DefaultBranch)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestAddObjectIsIdempotent(t *testing.T) {
	t.Parallel()
	r := openRepo(t)

	id1, err := r.AddObject(oriobject.TypeBlob, []byte("hello"))
	require.NoError(t, err)
	id2, err := r.AddObject(oriobject.TypeBlob, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestCommitAdvancesBranchAndBumpsRefcounts(t *testing.T) {
	t.Parallel()
	r := openRepo(t)

	blobID, err := r.AddObject(oriobject.TypeBlob, []byte("contents"))
	require.NoError(t, err)
	treeID := addTree(t, r, oriobject.TreeEntry{Name: "a", Kind: oriobject.EntryBlob, ChildID: blobID})

	c1, err := r.Commit(treeID, repository.CommitOptions{Message: "first"})
	require.NoError(t, err)

	tip, err := r.BranchTip(repository.DefaultBranch)
	require.NoError(t, err)
	assert.Equal(t, c1, tip)

	assert.EqualValues(t, 1, r.Store().Metadata().Refcount(treeID))
	assert.EqualValues(t, 1, r.Store().Metadata().Refcount(blobID))

	c2, err := r.Commit(treeID, repository.CommitOptions{Message: "second"}.WithParents(c1))
	require.NoError(t, err)

	hist, err := r.History(repository.DefaultBranch)
	require.NoError(t, err)
	assert.Equal(t, []hashid.ID{c2, c1}, hist)

	assert.EqualValues(t, 2, r.Store().Metadata().Refcount(treeID))
}

func TestGCPreservesReachableAndPurgesOrphans(t *testing.T) {
	t.Parallel()
	r := openRepo(t)

	keepBlob, err := r.AddObject(oriobject.TypeBlob, []byte("kept"))
	require.NoError(t, err)
	keepTree := addTree(t, r, oriobject.TreeEntry{Name: "a", Kind: oriobject.EntryBlob, ChildID: keepBlob})
	c1, err := r.Commit(keepTree, repository.CommitOptions{Message: "c1"})
	require.NoError(t, err)

	orphanBlob, err := r.AddObject(oriobject.TypeBlob, []byte("orphan, never committed"))
	require.NoError(t, err)

	require.NoError(t, r.GC())

	assert.True(t, r.Store().Has(keepBlob))
	assert.True(t, r.Store().Has(keepTree))
	assert.True(t, r.Store().Has(c1))
	assert.False(t, r.Store().Has(orphanBlob))
}

func TestDoubleLockConflicts(t *testing.T) {
	t.Parallel()
	r := openRepo(t)

	require.NoError(t, r.AcquireLock())
	err := r.AcquireLock()
	require.Error(t, err)
	assert.ErrorIs(t, err, oerrors.ErrConflict)

	require.NoError(t, r.ReleaseLock())
}

func TestSetBranchSeedsFromCurrentTip(t *testing.T) {
	t.Parallel()
	r := openRepo(t)

	blobID, err := r.AddObject(oriobject.TypeBlob, []byte("x"))
	require.NoError(t, err)
	treeID := addTree(t, r, oriobject.TreeEntry{Name: "a", Kind: oriobject.EntryBlob, ChildID: blobID})
	c1, err := r.Commit(treeID, repository.CommitOptions{Message: "c1"})
	require.NoError(t, err)

	require.NoError(t, r.SetBranch("feature"))
	head, err := r.HEAD()
	require.NoError(t, err)
	assert.Equal(t, "feature", head)

	tip, err := r.BranchTip("feature")
	require.NoError(t, err)
	assert.Equal(t, c1, tip)
}

func TestSnapshotRejectsDuplicateNames(t *testing.T) {
	t.Parallel()
	r := openRepo(t)

	blobID, err := r.AddObject(oriobject.TypeBlob, []byte("x"))
	require.NoError(t, err)
	treeID := addTree(t, r, oriobject.TreeEntry{Name: "a", Kind: oriobject.EntryBlob, ChildID: blobID})
	c1, err := r.Commit(treeID, repository.CommitOptions{Message: "c1", SnapshotName: "release-1"})
	require.NoError(t, err)

	got, ok := r.Snapshot("release-1")
	require.True(t, ok)
	assert.Equal(t, c1, got)

	err = r.AddSnapshot("release-1", c1)
	require.Error(t, err)
	assert.ErrorIs(t, err, oerrors.ErrConflict)
}

func TestRecomputeRefCountsMatchesLiveCounts(t *testing.T) {
	t.Parallel()
	r := openRepo(t)

	blobID, err := r.AddObject(oriobject.TypeBlob, []byte("x"))
	require.NoError(t, err)
	treeID := addTree(t, r, oriobject.TreeEntry{Name: "a", Kind: oriobject.EntryBlob, ChildID: blobID})
	_, err = r.Commit(treeID, repository.CommitOptions{Message: "c1"})
	require.NoError(t, err)

	recomputed, err := r.RecomputeRefCounts()
	require.NoError(t, err)

	assert.Equal(t, r.Store().Metadata().Refcount(treeID), recomputed[treeID])
	assert.Equal(t, r.Store().Metadata().Refcount(blobID), recomputed[blobID])
}

func TestGraftCopiesClosureAndRecordsProvenance(t *testing.T) {
	t.Parallel()
	source := openRepo(t)
	dest := openRepo(t)

	blobID, err := source.AddObject(oriobject.TypeBlob, []byte("grafted payload"))
	require.NoError(t, err)
	treeID := addTree(t, source, oriobject.TreeEntry{Name: "a", Kind: oriobject.EntryBlob, ChildID: blobID})
	sourceCommit, err := source.Commit(treeID, repository.CommitOptions{Message: "source commit"})
	require.NoError(t, err)

	graftCommit, err := dest.Graft(source, sourceCommit, "vendor/lib", repository.CommitOptions{Message: "graft lib"})
	require.NoError(t, err)
	assert.False(t, graftCommit.IsZero())

	assert.True(t, dest.Store().Has(blobID))
	assert.True(t, dest.Store().Has(treeID))

	obj, err := dest.Store().Get(blobID)
	require.NoError(t, err)
	payload, err := obj.Payload()
	require.NoError(t, err)
	assert.Equal(t, "grafted payload", string(payload))
}
