package repository

import (
	"io"
	"os"
	"sync"

	"github.com/ori-vcs/ori/oerrors"
	"github.com/ori-vcs/ori/oriinternals/hashid"
	"github.com/ori-vcs/ori/oriinternals/stream"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// Snapshot is a named, immutable pointer to a commit (spec.md §4.8),
// distinct from a branch because it never moves once recorded.
type Snapshot struct {
	Name     string
	CommitID hashid.ID
}

// snapshotLog is the append-only backing store for the repository's
// snapshot table (spec.md §4.8: "a mapping name -> commit id, persisted
// as a compact log"). Grounded on oriinternals/metadatalog's
// replay-into-map discipline, simplified to a single record kind with
// no checksum framing since duplicate names are rejected at append time
// rather than requiring recovery bookkeeping.
type snapshotLog struct {
	mu sync.RWMutex

	fs   afero.Fs
	path string
	f    afero.File

	byName map[string]hashid.ID
	order  []string
}

func openSnapshotLog(fs afero.Fs, path string) (*snapshotLog, error) {
	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, xerrors.Errorf("repository: open snapshots log: %w", err)
	}
	l := &snapshotLog{fs: fs, path: path, f: f, byName: make(map[string]hashid.ID)}
	if err := l.replay(); err != nil {
		f.Close() //nolint:errcheck
		return nil, err
	}
	return l, nil
}

// replay reads every (name, commit id) record, stopping silently at the
// first malformed or truncated one (spec.md §7's recovery-by-truncation
// rule, applied here too).
func (l *snapshotLog) replay() error {
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return xerrors.Errorf("repository: seek snapshots log: %w", err)
	}
	data, err := io.ReadAll(l.f)
	if err != nil {
		return xerrors.Errorf("repository: read snapshots log: %w", err)
	}

	r := stream.NewReader(data, false)
	valid := 0
	for r.Len() > 0 {
		mark := r.Len()
		n, err := r.U32()
		if err != nil || int(n) > mark-4 {
			break
		}
		recBytes, err := r.RawN(int(n))
		if err != nil {
			break
		}
		rr := stream.NewReader(recBytes, false)
		name, err := rr.PStr()
		if err != nil {
			break
		}
		id, err := rr.Hash()
		if err != nil {
			break
		}
		if _, exists := l.byName[name]; !exists {
			l.order = append(l.order, name)
		}
		l.byName[name] = id
		valid = len(data) - r.Len()
	}
	if valid < len(data) {
		if err := l.f.Truncate(int64(valid)); err != nil {
			return xerrors.Errorf("repository: truncate snapshots log: %w", err)
		}
	}

	if _, err := l.f.Seek(0, io.SeekEnd); err != nil {
		return xerrors.Errorf("repository: seek snapshots log end: %w", err)
	}
	return nil
}

// Add appends a new (name, commit id) record, rejecting a name already
// present (spec.md §4.8: "rejects duplicate names").
func (l *snapshotLog) Add(name string, id hashid.ID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byName[name]; exists {
		return xerrors.Errorf("repository: snapshot %q already exists: %w", name, oerrors.ErrConflict)
	}

	rec := stream.NewWriter(false).PStr(name).Hash(id).Bytes()
	frame := stream.NewWriter(false).U32(uint32(len(rec))).Raw(rec).Bytes()

	if _, err := l.f.Write(frame); err != nil {
		return xerrors.Errorf("repository: append snapshot: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return xerrors.Errorf("repository: fsync snapshots log: %w", err)
	}

	l.byName[name] = id
	l.order = append(l.order, name)
	return nil
}

// Get returns the commit id recorded under name, if any.
func (l *snapshotLog) Get(name string) (hashid.ID, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.byName[name]
	return id, ok
}

// All returns every snapshot in append order.
func (l *snapshotLog) All() []Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Snapshot, 0, len(l.order))
	for _, name := range l.order {
		out = append(out, Snapshot{Name: name, CommitID: l.byName[name]})
	}
	return out
}

func (l *snapshotLog) Close() error {
	return l.f.Close()
}

// AddSnapshot records name -> commitID in the snapshot table.
func (r *Repo) AddSnapshot(name string, commitID hashid.ID) error {
	return r.snaps.Add(name, commitID)
}

// Snapshot returns the commit id recorded under name, if any.
func (r *Repo) Snapshot(name string) (hashid.ID, bool) {
	return r.snaps.Get(name)
}

// Snapshots returns every recorded snapshot, in creation order.
func (r *Repo) Snapshots() []Snapshot {
	return r.snaps.All()
}
