package repository

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"

	"github.com/ori-vcs/ori/oerrors"
	"github.com/ori-vcs/ori/oriinternals/hashid"
	"github.com/ori-vcs/ori/oriinternals/index"
	"github.com/ori-vcs/ori/oriinternals/oripath"
	"github.com/ori-vcs/ori/oriinternals/packfile"
	"github.com/ori-vcs/ori/oriobject"
	"github.com/ori-vcs/ori/store"
	"golang.org/x/xerrors"
)

// GC runs the four-phase garbage collection pass of spec.md §4.8:
// rewrite the index, rewrite the metadata log, purge unreachable
// zero-refcount objects, and compact packfiles by copying live records
// into fresh ones and swapping them in atomically.
func (r *Repo) GC() error {
	return r.withLock(r.gcLocked)
}

func (r *Repo) gcLocked() error {
	r.log.Info().Msg("gc: rewriting index")
	if err := r.store.Index().Rewrite(); err != nil {
		return xerrors.Errorf("repository: gc: rewrite index: %w", err)
	}
	r.log.Info().Msg("gc: rewriting metadata log")
	if err := r.store.Metadata().Rewrite(nil); err != nil {
		return xerrors.Errorf("repository: gc: rewrite metadata: %w", err)
	}

	reachable, err := r.reachableIDs()
	if err != nil {
		return xerrors.Errorf("repository: gc: reachable set: %w", err)
	}

	purged := 0
	for _, info := range r.store.List() {
		if info.Type == oriobject.TypePurged {
			continue
		}
		if reachable[info.ID] {
			continue
		}
		if r.store.Metadata().Refcount(info.ID) != 0 {
			continue
		}
		if err := r.store.Purge(info.ID); err != nil {
			return xerrors.Errorf("repository: gc: purge %s: %w", info.ID, err)
		}
		purged++
	}
	r.log.Info().Int("purged", purged).Int("reachable", len(reachable)).Msg("gc: purge phase done")

	if err := r.compactPackfiles(); err != nil {
		return xerrors.Errorf("repository: gc: compact packfiles: %w", err)
	}
	r.log.Info().Msg("gc: packfile compaction done")
	return nil
}

// reachableIDs returns every object id reachable from a branch tip or a
// snapshot (spec.md §4.8's liveness test for purge; spec.md §8:
// "gc() preserves has(id) for every id reachable from any branch tip or
// snapshot").
func (r *Repo) reachableIDs() (map[hashid.ID]bool, error) {
	reachable := map[hashid.ID]bool{}

	var roots []hashid.ID
	branches, err := r.ListBranches()
	if err != nil {
		return nil, err
	}
	for _, b := range branches {
		tip, err := r.BranchTip(b)
		if err != nil {
			return nil, err
		}
		if !tip.IsZero() {
			roots = append(roots, tip)
		}
	}
	for _, s := range r.snaps.All() {
		if !s.CommitID.IsZero() {
			roots = append(roots, s.CommitID)
		}
	}

	queue := append([]hashid.ID{}, roots...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if reachable[id] {
			continue
		}
		reachable[id] = true

		info, err := r.store.Info(id)
		if err != nil {
			if errors.Is(err, oerrors.ErrNotFound) {
				continue
			}
			return nil, err
		}

		switch info.Type {
		case oriobject.TypeCommit:
			c, err := r.readCommit(id)
			if err != nil {
				return nil, err
			}
			if !c.Tree.IsZero() {
				queue = append(queue, c.Tree)
			}
			for _, p := range c.Parents {
				if !p.IsZero() {
					queue = append(queue, p)
				}
			}
		case oriobject.TypeTree:
			tree, err := r.readTree(id)
			if err != nil {
				return nil, err
			}
			for _, e := range tree.Entries() {
				queue = append(queue, e.ChildID)
			}
		case oriobject.TypeLargeBlob:
			lb, err := r.readLargeBlob(id)
			if err != nil {
				return nil, err
			}
			for _, c := range lb.Chunks {
				queue = append(queue, c.ChunkID)
			}
		case oriobject.TypeBlob, oriobject.TypePurged:
			// leaf.
		}
	}
	return reachable, nil
}

func (r *Repo) readCommit(id hashid.ID) (*oriobject.Commit, error) {
	obj, err := r.store.Get(id)
	if err != nil {
		return nil, xerrors.Errorf("get commit %s: %w", id, err)
	}
	payload, err := obj.Payload()
	if err != nil {
		return nil, err
	}
	c, err := oriobject.CommitFromBlob(payload)
	if err != nil {
		return nil, xerrors.Errorf("parse commit %s: %w", id, err)
	}
	return c, nil
}

func (r *Repo) readTree(id hashid.ID) (*oriobject.Tree, error) {
	obj, err := r.store.Get(id)
	if err != nil {
		return nil, xerrors.Errorf("get tree %s: %w", id, err)
	}
	payload, err := obj.Payload()
	if err != nil {
		return nil, err
	}
	tree, err := oriobject.TreeFromBlob(payload)
	if err != nil {
		return nil, xerrors.Errorf("parse tree %s: %w", id, err)
	}
	return tree, nil
}

func (r *Repo) readLargeBlob(id hashid.ID) (*oriobject.LargeBlob, error) {
	obj, err := r.store.Get(id)
	if err != nil {
		return nil, xerrors.Errorf("get largeblob %s: %w", id, err)
	}
	payload, err := obj.Payload()
	if err != nil {
		return nil, err
	}
	lb, err := oriobject.LargeBlobFromBlob(payload)
	if err != nil {
		return nil, xerrors.Errorf("parse largeblob %s: %w", id, err)
	}
	return lb, nil
}

// compactPackfiles copies every live (non-Purged) record into a fresh
// set of packfiles via the existing verbatim transmit/receive path, then
// atomically swaps the new objects directory and index log in over the
// old ones (spec.md §4.8 gc phase (d)).
func (r *Repo) compactPackfiles() error {
	objsDir := filepath.Join(r.root, oripath.ObjectsDir)
	indexPath := filepath.Join(r.root, oripath.IndexPath)
	newObjsDir := filepath.Join(r.root, oripath.TmpDir, "objs.gc")
	newIndexPath := filepath.Join(r.root, oripath.TmpDir, "index.gc")

	if err := r.fs.RemoveAll(newObjsDir); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := r.fs.Remove(newIndexPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := r.fs.MkdirAll(newObjsDir, 0o755); err != nil {
		return err
	}

	newPacks, err := packfile.OpenManager(r.fs, newObjsDir)
	if err != nil {
		return xerrors.Errorf("open staging manager: %w", err)
	}
	newIdx, err := index.Open(r.fs, newIndexPath)
	if err != nil {
		return xerrors.Errorf("open staging index: %w", err)
	}

	byPack := map[uint32][]hashid.ID{}
	for _, e := range r.store.Index().All() {
		if e.Info.Type == oriobject.TypePurged {
			continue
		}
		byPack[e.PackfileID] = append(byPack[e.PackfileID], e.ID)
	}

	stagingStore := store.New(newPacks, newIdx, r.store.Metadata())
	for _, ids := range byPack {
		var buf bytes.Buffer
		if err := r.store.Transmit(&buf, ids); err != nil {
			return xerrors.Errorf("transmit live group: %w", err)
		}
		if _, err := stagingStore.Receive(&buf); err != nil {
			return xerrors.Errorf("receive live group: %w", err)
		}
	}

	if err := newIdx.Close(); err != nil {
		return err
	}
	if err := newPacks.Close(); err != nil {
		return err
	}

	oldIdx := r.store.Index()
	oldPacks := r.store.Packfiles()
	metadata := r.store.Metadata()
	if err := oldIdx.Close(); err != nil {
		return err
	}
	if err := oldPacks.Close(); err != nil {
		return err
	}

	if err := r.fs.RemoveAll(objsDir); err != nil {
		return err
	}
	if err := r.fs.Rename(newObjsDir, objsDir); err != nil {
		return err
	}
	if err := r.fs.Remove(indexPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := r.fs.Rename(newIndexPath, indexPath); err != nil {
		return err
	}

	reopenedPacks, err := packfile.OpenManager(r.fs, objsDir)
	if err != nil {
		return err
	}
	reopenedIdx, err := index.Open(r.fs, indexPath)
	if err != nil {
		return err
	}

	r.store = store.New(reopenedPacks, reopenedIdx, metadata)
	return nil
}

// RecomputeRefCounts counts, from scratch, how many times each object is
// referenced by walking every branch tip and snapshot (spec.md §8: used
// to cross-check the in-memory refcount map after a mutation sequence
// that never purged anything).
func (r *Repo) RecomputeRefCounts() (map[hashid.ID]int64, error) {
	counts := map[hashid.ID]int64{}
	seenCommit := map[hashid.ID]bool{}
	seenObject := map[hashid.ID]bool{}

	var roots []hashid.ID
	branches, err := r.ListBranches()
	if err != nil {
		return nil, err
	}
	for _, b := range branches {
		tip, err := r.BranchTip(b)
		if err != nil {
			return nil, err
		}
		if !tip.IsZero() {
			roots = append(roots, tip)
		}
	}
	for _, s := range r.snaps.All() {
		if !s.CommitID.IsZero() {
			roots = append(roots, s.CommitID)
		}
	}

	queue := append([]hashid.ID{}, roots...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seenCommit[id] {
			continue
		}
		seenCommit[id] = true

		c, err := r.readCommit(id)
		if err != nil {
			return nil, err
		}

		counts[c.Tree]++
		if !seenObject[c.Tree] {
			seenObject[c.Tree] = true
			if err := r.walkObjectRefs(c.Tree, counts, seenObject); err != nil {
				return nil, err
			}
		}
		for _, p := range c.Parents {
			if p.IsZero() {
				continue
			}
			counts[p]++
			queue = append(queue, p)
		}
	}
	return counts, nil
}

func (r *Repo) walkObjectRefs(id hashid.ID, counts map[hashid.ID]int64, seen map[hashid.ID]bool) error {
	info, err := r.store.Info(id)
	if err != nil {
		return err
	}

	switch info.Type {
	case oriobject.TypeTree:
		tree, err := r.readTree(id)
		if err != nil {
			return err
		}
		for _, e := range tree.Entries() {
			counts[e.ChildID]++
			if seen[e.ChildID] {
				continue
			}
			seen[e.ChildID] = true
			if err := r.walkObjectRefs(e.ChildID, counts, seen); err != nil {
				return err
			}
		}
	case oriobject.TypeLargeBlob:
		lb, err := r.readLargeBlob(id)
		if err != nil {
			return err
		}
		for _, chunk := range lb.Chunks {
			counts[chunk.ChunkID]++
		}
	}
	return nil
}
