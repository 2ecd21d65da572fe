// Package store implements spec.md §4.6's ObjectStore: the coordinator
// composing Packfile + Index + MetadataLog behind a single
// has/info/get/add/purge/list/transmit/receive surface.
//
// Grounded on the teacher's backend.Backend interface (the same
// has/get/write/walk shape) and backend/fsbackend.Backend's concrete
// implementation (LRU-cached decoded objects, per-oid NamedMutex
// serializing access), composing oriinternals/packfile +
// oriinternals/index + oriinternals/metadatalog instead of fsbackend's
// loose-file-or-packed lookup.
package store

import (
	"io"

	"github.com/ori-vcs/ori/internal/cache"
	"github.com/ori-vcs/ori/internal/syncutil"
	"github.com/ori-vcs/ori/oerrors"
	"github.com/ori-vcs/ori/oriinternals/hashid"
	"github.com/ori-vcs/ori/oriinternals/index"
	"github.com/ori-vcs/ori/oriinternals/metadatalog"
	"github.com/ori-vcs/ori/oriinternals/packfile"
	"github.com/ori-vcs/ori/oriobject"
	"golang.org/x/xerrors"
)

// decodedObjectCacheSize bounds the number of decoded payloads kept
// in-memory, mirroring the teacher's object LRU in backend/fsbackend.
const decodedObjectCacheSize = 256

// namedMutexShards is the NamedMutex shard count guarding per-id
// Get/Add/Purge access, mirroring the teacher's backend/fsbackend sizing.
const namedMutexShards = 64

// This line generates a mock of the interface using gomock
// (https://github.com/golang/mock). To regenerate the mock, you'll need
// gomock and mockgen installed, then run `go generate github.com/ori-vcs/ori/store`
//
//go:generate mockgen -package mockstore -destination ../internal/mocks/mockstore/store.go github.com/ori-vcs/ori/store Peer

// Peer is a remote ObjectStore reachable for objects absent locally
// (spec.md §4.6: "If the id is absent locally and a remote is attached,
// the request is forwarded").
type Peer interface {
	Get(id hashid.ID) (oriobject.Info, []byte, error)
}

// Object is a handle over a stored payload: its identity and type are
// always known; Payload() lazily streams the bytes through the codec
// from the packfile slot the index names (spec.md §4.6).
type Object struct {
	info    oriobject.Info
	payload []byte // set directly for remote-forwarded, uncached objects
	entry   *index.Entry
	store   *Store
}

// Info returns the object's (id, type, flags, payload_size) tuple.
func (o *Object) Info() oriobject.Info {
	return o.info
}

// Payload returns the decoded payload bytes, reading from the packfile
// on first access for locally-stored objects.
func (o *Object) Payload() ([]byte, error) {
	if o.payload != nil {
		return o.payload, nil
	}
	if cached, ok := o.store.cache.Get(o.info.ID); ok {
		return cached.([]byte), nil
	}

	pf, err := o.store.packs.Open(o.entry.PackfileID)
	if err != nil {
		return nil, xerrors.Errorf("store: open packfile %d: %w", o.entry.PackfileID, err)
	}
	payload, err := pf.ReadPayload(o.entry.Offset, o.entry.StoredSize, o.entry.Info.Flags)
	if err != nil {
		return nil, xerrors.Errorf("store: read payload for %s: %w", o.info.ID, err)
	}
	o.store.cache.Add(o.info.ID, payload)
	return payload, nil
}

// Store is spec.md §4.6's ObjectStore: composes a packfile.Manager, an
// index.Index, and a metadatalog.Log.
type Store struct {
	packs    *packfile.Manager
	idx      *index.Index
	metadata *metadatalog.Log
	cache    *cache.LRU
	locks    *syncutil.NamedMutex
	peer     Peer
}

// New composes a Store from its three backing components.
func New(packs *packfile.Manager, idx *index.Index, metadata *metadatalog.Log) *Store {
	return &Store{
		packs:    packs,
		idx:      idx,
		metadata: metadata,
		cache:    cache.NewLRU(decodedObjectCacheSize),
		locks:    syncutil.NewNamedMutex(namedMutexShards),
	}
}

// SetPeer attaches a remote ObjectStore to forward get() calls to when an
// id is absent locally (spec.md §4.6).
func (s *Store) SetPeer(p Peer) {
	s.peer = p
}

// Has reports whether id is known locally.
func (s *Store) Has(id hashid.ID) bool {
	return s.idx.Has(id)
}

// Info returns the ObjectInfo for a locally-known id.
func (s *Store) Info(id hashid.ID) (oriobject.Info, error) {
	e, ok := s.idx.Get(id)
	if !ok {
		return oriobject.Info{}, xerrors.Errorf("store: info %s: %w", id, oerrors.ErrNotFound)
	}
	return e.Info, nil
}

// Get returns an Object handle for id. If absent locally and a Peer is
// attached, the request is forwarded; the result is not cached unless
// the caller explicitly calls Copy (spec.md §4.6).
func (s *Store) Get(id hashid.ID) (*Object, error) {
	s.locks.Lock(id.Bytes())
	defer s.locks.Unlock(id.Bytes())

	if e, ok := s.idx.Get(id); ok {
		entry := e
		return &Object{info: e.Info, entry: &entry, store: s}, nil
	}

	if s.peer != nil {
		info, payload, err := s.peer.Get(id)
		if err != nil {
			return nil, xerrors.Errorf("store: forward get %s: %w", id, err)
		}
		return &Object{info: info, payload: payload, store: s}, nil
	}

	return nil, xerrors.Errorf("store: get %s: %w", id, oerrors.ErrNotFound)
}

// Copy fetches id from the peer (if not already local) and persists it,
// the explicit opt-in to caching a remote-forwarded object (spec.md §4.6).
func (s *Store) Copy(id hashid.ID) (hashid.ID, error) {
	if s.idx.Has(id) {
		return id, nil
	}
	obj, err := s.Get(id)
	if err != nil {
		return hashid.Empty, err
	}
	payload, err := obj.Payload()
	if err != nil {
		return hashid.Empty, err
	}
	return s.AddRaw(obj.info, payload)
}

// Add computes id = hash(payload), stages and commits a single-record
// transaction, and returns id. Adding the same (type, payload) twice
// yields the same id, and the second call appends nothing (spec.md §8's
// idempotence property).
func (s *Store) Add(typ oriobject.Type, payload []byte) (hashid.ID, error) {
	id := hashid.Sum(payload)
	s.locks.Lock(id.Bytes())
	defer s.locks.Unlock(id.Bytes())

	if s.idx.Has(id) {
		return id, nil
	}

	info := oriobject.Info{ID: id, Type: typ, PayloadSize: uint64(len(payload))}
	return s.AddRaw(info, payload)
}

// AddRaw stages and commits payload under the given pre-computed info,
// used by Add, by Copy, and by the repository's graft copy.
func (s *Store) AddRaw(info oriobject.Info, payload []byte) (hashid.ID, error) {
	pf, err := s.packs.Current()
	if err != nil {
		return hashid.Empty, xerrors.Errorf("store: current packfile: %w", err)
	}

	tx := pf.Begin()
	if _, err := tx.Add(info, payload); err != nil {
		return hashid.Empty, xerrors.Errorf("store: stage %s: %w", info.ID, err)
	}
	if _, err := tx.Commit(s.idx); err != nil {
		return hashid.Empty, xerrors.Errorf("store: commit %s: %w", info.ID, err)
	}
	return info.ID, nil
}

// List returns a snapshot of every locally-known ObjectInfo.
func (s *Store) List() []oriobject.Info {
	entries := s.idx.All()
	out := make([]oriobject.Info, len(entries))
	for i, e := range entries {
		out[i] = e.Info
	}
	return out
}

// Purge locates id's packfile and purges it in place (spec.md §4.6).
func (s *Store) Purge(id hashid.ID) error {
	s.locks.Lock(id.Bytes())
	defer s.locks.Unlock(id.Bytes())

	e, ok := s.idx.Get(id)
	if !ok {
		return xerrors.Errorf("store: purge %s: %w", id, oerrors.ErrNotFound)
	}
	pf, err := s.packs.Open(e.PackfileID)
	if err != nil {
		return xerrors.Errorf("store: open packfile %d: %w", e.PackfileID, err)
	}
	return pf.Purge(s.idx, id)
}

// Transmit streams every named id's (info, stored_size, stored_bytes)
// tuple to sink, grouped by source packfile (spec.md §4.9).
func (s *Store) Transmit(sink io.Writer, ids []hashid.ID) error {
	byPack := make(map[uint32][]index.Entry)
	for _, id := range ids {
		e, ok := s.idx.Get(id)
		if !ok {
			return xerrors.Errorf("store: transmit %s: %w", id, oerrors.ErrNotFound)
		}
		byPack[e.PackfileID] = append(byPack[e.PackfileID], e)
	}
	for packID, entries := range byPack {
		pf, err := s.packs.Open(packID)
		if err != nil {
			return xerrors.Errorf("store: open packfile %d: %w", packID, err)
		}
		if err := pf.Transmit(sink, entries); err != nil {
			return xerrors.Errorf("store: transmit from packfile %d: %w", packID, err)
		}
	}
	return nil
}

// Receive reads one transmit group from source into the current
// writable packfile and indexes the results (spec.md §4.9).
func (s *Store) Receive(source io.Reader) ([]index.Entry, error) {
	pf, err := s.packs.Current()
	if err != nil {
		return nil, xerrors.Errorf("store: current packfile: %w", err)
	}
	return pf.Receive(source, s.idx)
}

// Metadata exposes the backing MetadataLog for repository-level refcount
// and status bookkeeping.
func (s *Store) Metadata() *metadatalog.Log {
	return s.metadata
}

// Index exposes the backing Index for repository-level operations (GC
// rewrite, rebuild).
func (s *Store) Index() *index.Index {
	return s.idx
}

// Packfiles exposes the backing Manager for repository-level GC.
func (s *Store) Packfiles() *packfile.Manager {
	return s.packs
}

// Close releases every owned resource.
func (s *Store) Close() error {
	var firstErr error
	if err := s.idx.Close(); err != nil {
		firstErr = err
	}
	if err := s.metadata.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.packs.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
