package repository

import (
	"github.com/ori-vcs/ori/oriinternals/hashid"
	"github.com/ori-vcs/ori/oriobject"
	"golang.org/x/xerrors"
)

// Graft copies the tree closure of sourceCommit (its tree and every
// tree, blob, largeblob and chunk under it, but not the commit itself or
// its parents) from source into r, then creates a new commit in r over
// that tree that records the graft's provenance
// (spec.md §4.8: "graft(sourceRepo, sourceCommit, path) copies the
// referenced tree closure... and records a commit whose Graft field
// names the origin"). Because object ids are content hashes, a copied
// object keeps the same id in r as it had in source.
func (r *Repo) Graft(source *Repo, sourceCommit hashid.ID, path string, opts CommitOptions) (hashid.ID, error) {
	c, err := source.readCommit(sourceCommit)
	if err != nil {
		return hashid.ID{}, xerrors.Errorf("repository: graft: read source commit: %w", err)
	}

	newTree, err := r.copyTreeClosure(source, c.Tree)
	if err != nil {
		return hashid.ID{}, xerrors.Errorf("repository: graft: copy closure: %w", err)
	}

	opts.Graft = &oriobject.Graft{
		Repo:     source.id,
		Path:     path,
		CommitID: sourceCommit,
	}
	return r.Commit(newTree, opts)
}

// copyTreeClosure recursively copies id and everything it references
// from source into r, skipping objects r already has, and returns the
// (identical, since ids are content-addressed) id the object now has
// in r.
func (r *Repo) copyTreeClosure(source *Repo, id hashid.ID) (hashid.ID, error) {
	if r.store.Has(id) {
		return id, nil
	}

	info, err := source.store.Info(id)
	if err != nil {
		return hashid.ID{}, xerrors.Errorf("repository: graft: source missing %s: %w", id, err)
	}

	obj, err := source.store.Get(id)
	if err != nil {
		return hashid.ID{}, xerrors.Errorf("repository: graft: get %s: %w", id, err)
	}
	payload, err := obj.Payload()
	if err != nil {
		return hashid.ID{}, xerrors.Errorf("repository: graft: payload %s: %w", id, err)
	}

	switch info.Type {
	case oriobject.TypeTree:
		tree, err := oriobject.TreeFromBlob(payload)
		if err != nil {
			return hashid.ID{}, xerrors.Errorf("repository: graft: parse tree %s: %w", id, err)
		}
		for _, e := range tree.Entries() {
			if _, err := r.copyTreeClosure(source, e.ChildID); err != nil {
				return hashid.ID{}, err
			}
		}
	case oriobject.TypeLargeBlob:
		lb, err := oriobject.LargeBlobFromBlob(payload)
		if err != nil {
			return hashid.ID{}, xerrors.Errorf("repository: graft: parse largeblob %s: %w", id, err)
		}
		for _, chunk := range lb.Chunks {
			if _, err := r.copyTreeClosure(source, chunk.ChunkID); err != nil {
				return hashid.ID{}, err
			}
		}
	}

	newID, err := r.store.AddRaw(info, payload)
	if err != nil {
		return hashid.ID{}, xerrors.Errorf("repository: graft: add %s: %w", id, err)
	}
	return newID, nil
}
