// Package metadatalog implements spec.md §4.5's MetadataLog: an
// append-only log of refcount deltas, commit status notes, and trusted
// keys, backed by an in-memory authoritative view (refcount map + status
// map + keyring).
//
// Grounded on the teacher's append-don't-mutate discipline for
// backend.Backend.WriteReference and on ginternals/config's
// FileAggregate replay-into-map pattern, generalized from config key/value
// pairs to the three metadata entry kinds spec.md §4.5 names. The
// CRC32 checksum over each appended batch is new: spec.md §9 flags the source's
// implicit on-disk checksum framing and asks for an explicit one.
package metadatalog

import (
	"bufio"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/ori-vcs/ori/oerrors"
	"github.com/ori-vcs/ori/oriinternals/hashid"
	"github.com/ori-vcs/ori/oriinternals/stream"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// EntryKind distinguishes the three metadata entry shapes (spec.md §4.5).
type EntryKind uint8

// Entry kinds recognized by the log.
const (
	KindRefDelta     EntryKind = 1
	KindCommitStatus EntryKind = 2
	KindKeyRecord    EntryKind = 3
)

// Entry is one tagged metadata record.
type Entry struct {
	Kind EntryKind

	// RefDelta fields.
	RefID    hashid.ID
	RefDelta int32

	// CommitStatus fields.
	CommitID hashid.ID
	Status   string

	// KeyRecord fields.
	Fingerprint string
	PEM         []byte
}

func (e Entry) encode() []byte {
	w := stream.NewWriter(false)
	w.U8(uint8(e.Kind))
	switch e.Kind {
	case KindRefDelta:
		w.Hash(e.RefID).U32(uint32(e.RefDelta))
	case KindCommitStatus:
		w.Hash(e.CommitID).PStr(e.Status)
	case KindKeyRecord:
		w.PStr(e.Fingerprint).LPStr(string(e.PEM))
	}
	return w.Bytes()
}

func decodeEntry(data []byte) (Entry, error) {
	r := stream.NewReader(data, false)
	kind, err := r.U8()
	if err != nil {
		return Entry{}, xerrors.Errorf("metadatalog: entry kind: %w", err)
	}
	e := Entry{Kind: EntryKind(kind)}
	switch e.Kind {
	case KindRefDelta:
		if e.RefID, err = r.Hash(); err != nil {
			return Entry{}, xerrors.Errorf("metadatalog: refdelta id: %w", err)
		}
		delta, err := r.U32()
		if err != nil {
			return Entry{}, xerrors.Errorf("metadatalog: refdelta value: %w", err)
		}
		e.RefDelta = int32(delta)
	case KindCommitStatus:
		if e.CommitID, err = r.Hash(); err != nil {
			return Entry{}, xerrors.Errorf("metadatalog: commitstatus id: %w", err)
		}
		if e.Status, err = r.PStr(); err != nil {
			return Entry{}, xerrors.Errorf("metadatalog: commitstatus value: %w", err)
		}
	case KindKeyRecord:
		if e.Fingerprint, err = r.PStr(); err != nil {
			return Entry{}, xerrors.Errorf("metadatalog: keyrecord fingerprint: %w", err)
		}
		pem, err := r.LPStr()
		if err != nil {
			return Entry{}, xerrors.Errorf("metadatalog: keyrecord pem: %w", err)
		}
		e.PEM = []byte(pem)
	default:
		return Entry{}, xerrors.Errorf("metadatalog: unknown entry kind %d: %w", kind, oerrors.ErrCorruption)
	}
	return e, nil
}

// Log is the in-memory authoritative view over the append-only metadata
// log (spec.md §4.5).
type Log struct {
	mu   sync.RWMutex
	fs   afero.Fs
	path string
	f    afero.File

	refcounts map[hashid.ID]int64
	status    map[hashid.ID]string
	keyring   map[string][]byte
}

// Open replays the log at path (creating it if absent).
func Open(fs afero.Fs, path string) (*Log, error) {
	l := &Log{
		fs:        fs,
		path:      path,
		refcounts: make(map[hashid.ID]int64),
		status:    make(map[hashid.ID]string),
		keyring:   make(map[string][]byte),
	}

	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, xerrors.Errorf("metadatalog: open %s: %w", path, err)
	}
	l.f = f

	if err := l.replay(); err != nil {
		f.Close() //nolint:errcheck
		return nil, err
	}
	return l, nil
}

// replay reads every batch from the log, applying well-formed ones and
// stopping at the first batch whose checksum doesn't validate — a
// truncated trailing batch, per spec.md §7's recovery-by-truncation rule.
func (l *Log) replay() error {
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return xerrors.Errorf("metadatalog: seek: %w", err)
	}
	data, err := io.ReadAll(bufio.NewReader(l.f))
	if err != nil {
		return xerrors.Errorf("metadatalog: read: %w", err)
	}

	r := stream.NewReader(data, false)
	valid := 0
	for r.Len() > 0 {
		batch, ok := readBatch(r)
		if !ok {
			break
		}
		for _, e := range batch {
			l.applyLocked(e)
		}
		valid = len(data) - r.Len()
	}
	if valid < len(data) {
		if err := l.f.Truncate(int64(valid)); err != nil {
			return xerrors.Errorf("metadatalog: truncate torn tail: %w", err)
		}
	}
	return nil
}

// readBatch reads one checksummed batch: u32 payload_len ‖ payload ‖ u32
// crc32(payload). ok is false if the remaining bytes don't form a
// complete, valid batch.
func readBatch(r *stream.Reader) (entries []Entry, ok bool) {
	mark := r.Len()
	n, err := r.U32()
	if err != nil || int(n) > mark-8 {
		return nil, false
	}
	payload, err := r.RawN(int(n))
	if err != nil {
		return nil, false
	}
	wantCRC, err := r.U32()
	if err != nil {
		return nil, false
	}
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return nil, false
	}

	pr := stream.NewReader(payload, false)
	for pr.Len() > 0 {
		lm := pr.Len()
		elen, err := pr.U32()
		if err != nil || int(elen) > lm-4 {
			return nil, false
		}
		ebytes, err := pr.RawN(int(elen))
		if err != nil {
			return nil, false
		}
		e, err := decodeEntry(ebytes)
		if err != nil {
			return nil, false
		}
		entries = append(entries, e)
	}
	return entries, true
}

func (l *Log) applyLocked(e Entry) {
	switch e.Kind {
	case KindRefDelta:
		l.refcounts[e.RefID] += int64(e.RefDelta)
	case KindCommitStatus:
		l.status[e.CommitID] = e.Status
	case KindKeyRecord:
		l.keyring[e.Fingerprint] = e.PEM
	}
}

// Refcount returns the current refcount for id.
func (l *Log) Refcount(id hashid.ID) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.refcounts[id]
}

// Refcounts returns a snapshot copy of the whole refcount map.
func (l *Log) Refcounts() map[hashid.ID]int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[hashid.ID]int64, len(l.refcounts))
	for k, v := range l.refcounts {
		out[k] = v
	}
	return out
}

// Status returns the recorded status for a commit id, if any.
func (l *Log) Status(commitID hashid.ID) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.status[commitID]
	return s, ok
}

// Key returns the PEM-encoded key for a fingerprint, if known.
func (l *Log) Key(fingerprint string) ([]byte, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pem, ok := l.keyring[fingerprint]
	return pem, ok
}

// Transaction batches metadata entries for a single checksummed append
// (spec.md §4.5).
type Transaction struct {
	log     *Log
	entries []Entry
}

// Begin opens a transaction against l.
func (l *Log) Begin() *Transaction {
	return &Transaction{log: l}
}

// AddRefDelta stages a refcount delta for id.
func (tx *Transaction) AddRefDelta(id hashid.ID, delta int32) {
	tx.entries = append(tx.entries, Entry{Kind: KindRefDelta, RefID: id, RefDelta: delta})
}

// AddCommitStatus stages a status note for a commit.
func (tx *Transaction) AddCommitStatus(commitID hashid.ID, status string) {
	tx.entries = append(tx.entries, Entry{Kind: KindCommitStatus, CommitID: commitID, Status: status})
}

// AddKeyRecord stages a trusted key record.
func (tx *Transaction) AddKeyRecord(fingerprint string, pem []byte) {
	tx.entries = append(tx.entries, Entry{Kind: KindKeyRecord, Fingerprint: fingerprint, PEM: pem})
}

// Commit appends every staged entry as one checksummed batch and applies
// them to the in-memory state.
func (tx *Transaction) Commit() error {
	l := tx.log
	l.mu.Lock()
	defer l.mu.Unlock()

	pw := stream.NewWriter(false)
	for _, e := range tx.entries {
		enc := e.encode()
		pw.U32(uint32(len(enc))).Raw(enc)
	}
	payloadBytes := pw.Bytes()

	w := stream.NewWriter(false)
	w.U32(uint32(len(payloadBytes))).Raw(payloadBytes)
	w.U32(crc32.ChecksumIEEE(payloadBytes))

	if _, err := l.f.Seek(0, io.SeekEnd); err != nil {
		return xerrors.Errorf("metadatalog: seek end: %w", err)
	}
	if _, err := l.f.Write(w.Bytes()); err != nil {
		return xerrors.Errorf("metadatalog: append: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return xerrors.Errorf("metadatalog: fsync: %w", err)
	}

	for _, e := range tx.entries {
		l.applyLocked(e)
	}
	tx.entries = nil
	return nil
}

// Rewrite rebuilds the log from truth (or, if nil, from the current
// in-memory state) and atomically replaces the durable log (spec.md
// §4.5), used by gc and by recovery's rewriteRefCounts.
func (l *Log) Rewrite(truth map[hashid.ID]int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if truth != nil {
		l.refcounts = make(map[hashid.ID]int64, len(truth))
		for k, v := range truth {
			l.refcounts[k] = v
		}
	}

	var batch []Entry
	for id, rc := range l.refcounts {
		batch = append(batch, Entry{Kind: KindRefDelta, RefID: id, RefDelta: int32(rc)})
	}
	for commitID, status := range l.status {
		batch = append(batch, Entry{Kind: KindCommitStatus, CommitID: commitID, Status: status})
	}
	for fp, pem := range l.keyring {
		batch = append(batch, Entry{Kind: KindKeyRecord, Fingerprint: fp, PEM: pem})
	}

	pw := stream.NewWriter(false)
	for _, e := range batch {
		enc := e.encode()
		pw.U32(uint32(len(enc))).Raw(enc)
	}
	payloadBytes := pw.Bytes()

	w := stream.NewWriter(false)
	w.U32(uint32(len(payloadBytes))).Raw(payloadBytes)
	w.U32(crc32.ChecksumIEEE(payloadBytes))

	tmpPath := l.path + ".tmp"
	tmp, err := l.fs.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return xerrors.Errorf("metadatalog: create temp log: %w", err)
	}
	if _, err := tmp.Write(w.Bytes()); err != nil {
		tmp.Close() //nolint:errcheck
		return xerrors.Errorf("metadatalog: write temp log: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return xerrors.Errorf("metadatalog: fsync temp log: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return xerrors.Errorf("metadatalog: close temp log: %w", err)
	}

	if err := l.f.Close(); err != nil {
		return xerrors.Errorf("metadatalog: close old log: %w", err)
	}
	if err := l.fs.Rename(tmpPath, l.path); err != nil {
		return xerrors.Errorf("metadatalog: rename temp log: %w", err)
	}

	f, err := l.fs.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return xerrors.Errorf("metadatalog: reopen log: %w", err)
	}
	l.f = f
	return nil
}

// Close releases the log file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
