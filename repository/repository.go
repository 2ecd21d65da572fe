// Package repository implements spec.md §4.8's Repository: the
// top-level orchestrator owning an ObjectStore, branch refs, HEAD, the
// snapshot table, peers, and the whole-repository lock.
//
// Grounded on the teacher's root Repository (repo.go: a path-rooted
// struct wrapping a backend, Init/Open pair) and on
// ginternals.ResolveReference/IsRefNameValid for branch-ref handling,
// generalized from git's arbitrarily-nested ref namespace and
// packed-refs onto Ori's flat refs/heads/<name> plain-hex-id files
// (spec.md §6), and extended with snapshots, refcount-aware commit
// creation, grafting and gc (spec.md §4.8).
package repository

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ori-vcs/ori/oerrors"
	"github.com/ori-vcs/ori/oriinternals/env"
	"github.com/ori-vcs/ori/oriinternals/hashid"
	"github.com/ori-vcs/ori/oriinternals/index"
	"github.com/ori-vcs/ori/oriinternals/metadatalog"
	"github.com/ori-vcs/ori/oriinternals/oripath"
	"github.com/ori-vcs/ori/oriinternals/packfile"
	"github.com/ori-vcs/ori/oriinternals/refname"
	"github.com/ori-vcs/ori/oriinternals/repoconfig"
	"github.com/ori-vcs/ori/oriobject"
	"github.com/ori-vcs/ori/store"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// DefaultBranch is the branch a freshly-initialized repository starts
// on (spec.md §8: "listBranches() == {\"default\"}" for an empty repo).
const DefaultBranch = "default"

// Repo is a single Ori repository rooted at a directory on fs.
type Repo struct {
	mu sync.Mutex

	fs   afero.Fs
	root string
	id   string

	store *store.Store
	cfg   *repoconfig.Config
	snaps *snapshotLog
	log   zerolog.Logger

	lockPath string
}

// SetLogger attaches a structured logger a Repo reports lock
// contention, commits, and gc phases through. The zero value leaves
// logging disabled (zerolog.Nop()).
func (r *Repo) SetLogger(l zerolog.Logger) {
	r.log = l
}

// InitOptions customizes Init.
type InitOptions struct {
	// Branch names the branch HEAD starts on. Defaults to DefaultBranch.
	Branch string
}

// Init lays out a new repository under root (spec.md §6's on-disk
// layout) and returns it open.
func Init(fs afero.Fs, root string, opts InitOptions) (*Repo, error) {
	branch := opts.Branch
	if branch == "" {
		branch = DefaultBranch
	}
	if !refname.IsValid(branch) {
		return nil, xerrors.Errorf("repository: init: invalid branch name %q: %w", branch, oerrors.ErrCorruption)
	}

	dirs := []string{
		root,
		filepath.Join(root, oripath.ObjectsDir),
		filepath.Join(root, oripath.RefsHeadsDir),
		filepath.Join(root, oripath.RefsRemoteDir),
		filepath.Join(root, oripath.TmpDir),
	}
	for _, d := range dirs {
		if err := fs.MkdirAll(d, 0o755); err != nil {
			return nil, xerrors.Errorf("repository: init: mkdir %s: %w", d, err)
		}
	}

	id := uuid.NewString()
	if err := afero.WriteFile(fs, filepath.Join(root, oripath.IDPath), []byte(id), 0o644); err != nil {
		return nil, xerrors.Errorf("repository: init: write id: %w", err)
	}
	if err := afero.WriteFile(fs, filepath.Join(root, oripath.VersionPath), []byte(oripath.CurrentVersion), 0o644); err != nil {
		return nil, xerrors.Errorf("repository: init: write version: %w", err)
	}
	if err := afero.WriteFile(fs, filepath.Join(root, oripath.HEADPath), []byte(branch), 0o644); err != nil {
		return nil, xerrors.Errorf("repository: init: write HEAD: %w", err)
	}
	branchPath := filepath.Join(root, oripath.BranchRefPath(branch))
	if err := afero.WriteFile(fs, branchPath, []byte(hashid.Empty.String()+"\n"), 0o644); err != nil {
		return nil, xerrors.Errorf("repository: init: write branch %s: %w", branch, err)
	}

	cfg, err := repoconfig.Load(fs, repoconfig.Paths{Local: filepath.Join(root, oripath.ConfigPath)})
	if err != nil {
		return nil, xerrors.Errorf("repository: init: load config: %w", err)
	}
	if err := cfg.Save(); err != nil {
		return nil, xerrors.Errorf("repository: init: save config: %w", err)
	}

	return Open(fs, root)
}

// Open loads an existing repository rooted at root.
func Open(fs afero.Fs, root string) (*Repo, error) {
	versionRaw, err := afero.ReadFile(fs, filepath.Join(root, oripath.VersionPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.Errorf("repository: open %s: %w", root, oerrors.ErrNotFound)
		}
		return nil, xerrors.Errorf("repository: read version: %w", err)
	}
	if string(versionRaw) != oripath.CurrentVersion {
		return nil, xerrors.Errorf("repository: open %s: on-disk version %q: %w", root, versionRaw, oerrors.ErrUnsupported)
	}

	idRaw, err := afero.ReadFile(fs, filepath.Join(root, oripath.IDPath))
	if err != nil {
		return nil, xerrors.Errorf("repository: read id: %w", err)
	}

	packs, err := packfile.OpenManager(fs, filepath.Join(root, oripath.ObjectsDir))
	if err != nil {
		return nil, xerrors.Errorf("repository: open packfile manager: %w", err)
	}
	idx, err := index.Open(fs, filepath.Join(root, oripath.IndexPath))
	if err != nil {
		return nil, xerrors.Errorf("repository: open index: %w", err)
	}
	mlog, err := metadatalog.Open(fs, filepath.Join(root, oripath.MetadataPath))
	if err != nil {
		return nil, xerrors.Errorf("repository: open metadata log: %w", err)
	}

	cfg, err := repoconfig.Load(fs, repoconfig.Paths{Local: filepath.Join(root, oripath.ConfigPath)})
	if err != nil {
		return nil, xerrors.Errorf("repository: load config: %w", err)
	}
	snaps, err := openSnapshotLog(fs, filepath.Join(root, oripath.SnapshotsPath))
	if err != nil {
		return nil, xerrors.Errorf("repository: open snapshots: %w", err)
	}

	return &Repo{
		fs:       fs,
		root:     root,
		id:       string(idRaw),
		store:    store.New(packs, idx, mlog),
		cfg:      cfg,
		snaps:    snaps,
		log:      zerolog.Nop(),
		lockPath: filepath.Join(root, oripath.LockPath),
	}, nil
}

// Close releases every resource owned by the repository.
func (r *Repo) Close() error {
	var firstErr error
	if err := r.snaps.Close(); err != nil {
		firstErr = err
	}
	if err := r.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ID returns the repository's UUID, assigned at Init.
func (r *Repo) ID() string {
	return r.id
}

// Store exposes the backing ObjectStore for direct get/has/add/list use.
func (r *Repo) Store() *store.Store {
	return r.store
}

// Config exposes the repository's merged configuration.
func (r *Repo) Config() *repoconfig.Config {
	return r.cfg
}

// SetPeer attaches a remote ObjectStore to forward absent gets to
// (spec.md §4.6).
func (r *Repo) SetPeer(p store.Peer) {
	r.store.SetPeer(p)
}

// AcquireLock takes the cross-process exclusive lock by creating the
// lock file at <R>/lock; creation fails atomically if it already exists
// (spec.md §5). The teacher's equivalent "symlink" (backend/config.go's
// CreateSymlink option) is itself a plain written file rather than an OS
// symlink once routed through afero, so the lock here is grounded the
// same way: an exclusively-created regular file naming the locker.
func (r *Repo) AcquireLock() error {
	locker := fmt.Sprintf("%s@%d", r.id, os.Getpid())
	f, err := r.fs.OpenFile(r.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			r.log.Warn().Str("locker", locker).Msg("repository lock contended")
			return xerrors.Errorf("repository: lock held: %w", oerrors.ErrConflict)
		}
		return xerrors.Errorf("repository: acquire lock: %w", err)
	}
	defer f.Close() //nolint:errcheck
	if _, err := f.Write([]byte(locker)); err != nil {
		return xerrors.Errorf("repository: write lock: %w", err)
	}
	return nil
}

// ReleaseLock releases the cross-process lock.
func (r *Repo) ReleaseLock() error {
	if err := r.fs.Remove(r.lockPath); err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("repository: release lock: %w", err)
	}
	return nil
}

// withLock serializes fn against other in-process mutators (spec.md §5:
// "concurrent mutators within a process must serialize on an internal
// mutex") and against other processes via the filesystem lock.
func (r *Repo) withLock(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.AcquireLock(); err != nil {
		return err
	}
	defer func() { _ = r.ReleaseLock() }()

	return fn()
}

// HEAD returns the name of the current branch.
func (r *Repo) HEAD() (string, error) {
	b, err := afero.ReadFile(r.fs, filepath.Join(r.root, oripath.HEADPath))
	if err != nil {
		return "", xerrors.Errorf("repository: read HEAD: %w", err)
	}
	return string(b), nil
}

// SetBranch switches HEAD to name, creating the branch file (seeded
// from the current HEAD's tip) if it doesn't already exist (spec.md
// §4.8).
func (r *Repo) SetBranch(name string) error {
	return r.withLock(func() error { return r.setBranchLocked(name) })
}

func (r *Repo) setBranchLocked(name string) error {
	if !refname.IsValid(name) {
		return xerrors.Errorf("repository: invalid branch name %q: %w", name, oerrors.ErrCorruption)
	}

	path := filepath.Join(r.root, oripath.BranchRefPath(name))
	if _, err := r.fs.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return xerrors.Errorf("repository: stat branch %s: %w", name, err)
		}
		cur, err := r.HEAD()
		if err != nil {
			return err
		}
		tip, err := r.BranchTip(cur)
		if err != nil {
			return err
		}
		if err := r.writeBranchTip(name, tip); err != nil {
			return err
		}
	}
	return r.writeAtomic(filepath.Join(r.root, oripath.HEADPath), []byte(name))
}

// BranchTip returns the commit id currently stored at refs/heads/<name>.
func (r *Repo) BranchTip(name string) (hashid.ID, error) {
	path := filepath.Join(r.root, oripath.BranchRefPath(name))
	raw, err := afero.ReadFile(r.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return hashid.Empty, xerrors.Errorf("repository: branch %s: %w", name, oerrors.ErrNotFound)
		}
		return hashid.Empty, xerrors.Errorf("repository: read branch %s: %w", name, err)
	}
	id, err := hashid.FromHex(strings.TrimSpace(string(raw)))
	if err != nil {
		return hashid.Empty, xerrors.Errorf("repository: branch %s tip: %w", name, err)
	}
	return id, nil
}

func (r *Repo) writeBranchTip(name string, id hashid.ID) error {
	path := filepath.Join(r.root, oripath.BranchRefPath(name))
	return r.writeAtomic(path, []byte(id.String()+"\n"))
}

// ListBranches returns every branch name, sorted.
func (r *Repo) ListBranches() ([]string, error) {
	dir := filepath.Join(r.root, oripath.RefsHeadsDir)
	entries, err := afero.ReadDir(r.fs, dir)
	if err != nil {
		return nil, xerrors.Errorf("repository: list branches: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// writeAtomic writes content to path via a temp file under <R>/tmp,
// fsync, then rename-over (spec.md §4.8: "write-then-rename").
func (r *Repo) writeAtomic(path string, content []byte) error {
	tmpDir := filepath.Join(r.root, oripath.TmpDir)
	if err := r.fs.MkdirAll(tmpDir, 0o755); err != nil {
		return xerrors.Errorf("repository: mkdir %s: %w", tmpDir, err)
	}
	tmp := filepath.Join(tmpDir, fmt.Sprintf("%s.%d.tmp", filepath.Base(path), os.Getpid()))

	f, err := r.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return xerrors.Errorf("repository: create %s: %w", tmp, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close() //nolint:errcheck
		return xerrors.Errorf("repository: write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close() //nolint:errcheck
		return xerrors.Errorf("repository: fsync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return xerrors.Errorf("repository: close %s: %w", tmp, err)
	}
	if err := r.fs.Rename(tmp, path); err != nil {
		return xerrors.Errorf("repository: rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}

// AddObject adds a payload of the given type to the object store under
// the repository lock (spec.md §5: addObject is a mutating operation).
func (r *Repo) AddObject(typ oriobject.Type, payload []byte) (hashid.ID, error) {
	var id hashid.ID
	err := r.withLock(func() error {
		var addErr error
		id, addErr = r.store.Add(typ, payload)
		return addErr
	})
	return id, err
}

// CommitOptions fills in the optional parts of a new Commit (spec.md
// §4.8). Zero values trigger the documented defaults.
type CommitOptions struct {
	User         string
	Message      string
	Time         time.Time
	SnapshotName string
	// Parents overrides the default (current branch tip, none). Pass
	// an explicit slice (possibly empty) to suppress the default.
	Parents []hashid.ID
	// Graft, if set, is recorded on the new commit as provenance
	// (spec.md §3/§4.8).
	Graft *oriobject.Graft

	parentsSet bool
}

// WithParents marks opts as having an explicit parent list, even if
// empty, suppressing the "current HEAD tip" default.
func (o CommitOptions) WithParents(parents ...hashid.ID) CommitOptions {
	o.Parents = parents
	o.parentsSet = true
	return o
}

// Commit builds, hashes, and stores a new Commit over tree, updates
// refcounts for the tree and everything newly reachable from it, and
// atomically advances the current branch (spec.md §4.8).
func (r *Repo) Commit(tree hashid.ID, opts CommitOptions) (hashid.ID, error) {
	var commitID hashid.ID
	err := r.withLock(func() error {
		var commitErr error
		commitID, commitErr = r.commitLocked(tree, opts)
		return commitErr
	})
	return commitID, err
}

func (r *Repo) commitLocked(tree hashid.ID, opts CommitOptions) (hashid.ID, error) {
	info, err := r.store.Info(tree)
	if err != nil {
		return hashid.Empty, xerrors.Errorf("repository: commit: tree %s: %w", tree, err)
	}
	if info.Type != oriobject.TypeTree {
		return hashid.Empty, xerrors.Errorf("repository: commit: %s is not a tree: %w", tree, oerrors.ErrCorruption)
	}

	branch, err := r.HEAD()
	if err != nil {
		return hashid.Empty, err
	}

	parents := opts.Parents
	if !opts.parentsSet && opts.Parents == nil {
		tip, err := r.BranchTip(branch)
		if err != nil {
			return hashid.Empty, err
		}
		if !tip.IsZero() {
			parents = []hashid.ID{tip}
		}
	}
	if len(parents) > 2 {
		return hashid.Empty, xerrors.Errorf("repository: commit: %d parents, max is 2: %w", len(parents), oerrors.ErrCorruption)
	}
	for _, p := range parents {
		if p.IsZero() {
			continue
		}
		pInfo, err := r.store.Info(p)
		if err != nil || pInfo.Type != oriobject.TypeCommit {
			return hashid.Empty, xerrors.Errorf("repository: commit: parent %s is not a known commit: %w", p, oerrors.ErrCorruption)
		}
	}

	when := opts.Time
	if when.IsZero() {
		when = time.Now()
	}
	user := opts.User
	if user == "" {
		user = defaultIdentity()
	}
	message := opts.Message
	if message == "" {
		message = "No message."
	}

	c := &oriobject.Commit{
		Version:      1,
		Tree:         tree,
		Parents:      parents,
		User:         user,
		Time:         uint64(when.Unix()),
		SnapshotName: opts.SnapshotName,
		Graft:        opts.Graft,
		Message:      message,
	}
	blob, err := c.ToBlob(true)
	if err != nil {
		return hashid.Empty, xerrors.Errorf("repository: commit: serialize: %w", err)
	}
	commitID, err := r.store.Add(oriobject.TypeCommit, blob)
	if err != nil {
		return hashid.Empty, xerrors.Errorf("repository: commit: add: %w", err)
	}

	tx := r.store.Metadata().Begin()
	tx.AddRefDelta(tree, 1)
	for _, p := range parents {
		if !p.IsZero() {
			tx.AddRefDelta(p, 1)
		}
	}
	seen := map[hashid.ID]bool{tree: true}
	if r.store.Metadata().Refcount(tree) == 0 {
		if err := r.bumpTreeRefs(tx, tree, seen); err != nil {
			return hashid.Empty, xerrors.Errorf("repository: commit: refcount walk: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return hashid.Empty, xerrors.Errorf("repository: commit: refcount transaction: %w", err)
	}

	if err := r.writeBranchTip(branch, commitID); err != nil {
		return hashid.Empty, xerrors.Errorf("repository: commit: advance branch %s: %w", branch, err)
	}

	if opts.SnapshotName != "" {
		if err := r.snaps.Add(opts.SnapshotName, commitID); err != nil {
			return hashid.Empty, xerrors.Errorf("repository: commit: record snapshot: %w", err)
		}
	}

	r.log.Info().
		Str("commit", commitID.String()).
		Str("branch", branch).
		Int("parents", len(parents)).
		Msg("commit created")

	return commitID, nil
}

// bumpTreeRefs increments the refcount of every entry in treeID and
// recurses into a child only the first time it's seen in this
// transaction and its persisted refcount was zero (spec.md §4.8's
// recursion policy).
func (r *Repo) bumpTreeRefs(tx *metadatalog.Transaction, treeID hashid.ID, seen map[hashid.ID]bool) error {
	obj, err := r.store.Get(treeID)
	if err != nil {
		return xerrors.Errorf("get tree %s: %w", treeID, err)
	}
	payload, err := obj.Payload()
	if err != nil {
		return err
	}
	tree, err := oriobject.TreeFromBlob(payload)
	if err != nil {
		return xerrors.Errorf("parse tree %s: %w", treeID, err)
	}

	for _, e := range tree.Entries() {
		tx.AddRefDelta(e.ChildID, 1)
		if seen[e.ChildID] {
			continue
		}
		prior := r.store.Metadata().Refcount(e.ChildID)
		seen[e.ChildID] = true
		if prior != 0 {
			continue
		}
		switch e.Kind {
		case oriobject.EntryTree:
			if err := r.bumpTreeRefs(tx, e.ChildID, seen); err != nil {
				return err
			}
		case oriobject.EntryLargeBlob:
			if err := r.bumpLargeBlobRefs(tx, e.ChildID, seen); err != nil {
				return err
			}
		case oriobject.EntryBlob:
			// leaf; nothing further to descend into.
		}
	}
	return nil
}

func (r *Repo) bumpLargeBlobRefs(tx *metadatalog.Transaction, lbID hashid.ID, seen map[hashid.ID]bool) error {
	obj, err := r.store.Get(lbID)
	if err != nil {
		return xerrors.Errorf("get largeblob %s: %w", lbID, err)
	}
	payload, err := obj.Payload()
	if err != nil {
		return err
	}
	lb, err := oriobject.LargeBlobFromBlob(payload)
	if err != nil {
		return xerrors.Errorf("parse largeblob %s: %w", lbID, err)
	}
	for _, chunk := range lb.Chunks {
		tx.AddRefDelta(chunk.ChunkID, 1)
		seen[chunk.ChunkID] = true
	}
	return nil
}

// History walks first-parent ancestry from branch's tip, most recent
// first (spec.md §9's iterator-style history walk, rewritten as a plain
// slice the caller filters or maps over).
func (r *Repo) History(branch string) ([]hashid.ID, error) {
	tip, err := r.BranchTip(branch)
	if err != nil {
		return nil, err
	}
	var out []hashid.ID
	for !tip.IsZero() {
		out = append(out, tip)
		obj, err := r.store.Get(tip)
		if err != nil {
			return nil, xerrors.Errorf("repository: history: %w", err)
		}
		payload, err := obj.Payload()
		if err != nil {
			return nil, err
		}
		c, err := oriobject.CommitFromBlob(payload)
		if err != nil {
			return nil, xerrors.Errorf("repository: history: parse %s: %w", tip, err)
		}
		if len(c.Parents) == 0 {
			break
		}
		tip = c.Parents[0]
	}
	return out, nil
}

// defaultIdentity derives the "user" field default: ORI_AUTHOR from the
// environment, falling back to the OS user name (spec.md §4.8:
// "user ← environment-derived identity").
func defaultIdentity() string {
	if v := env.FromOS().Get("ORI_AUTHOR"); v != "" {
		return v
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "unknown"
}
