// Package packfile implements spec.md §4.3's Packfile: an append-only
// container of object payloads, each preceded by a fixed header, supporting
// transactional append, in-place purge, and streaming transmit/receive.
//
// Grounded on the teacher's ginternals/packfile.Pack (afero.File-backed,
// mutex-guarded, header-validated-at-open) but inverted from a read-only
// reader into a writer: the teacher's Pack has no equivalent of begin/
// commit because git packfiles are built once by `git pack-objects` and
// never mutated; Ori's Packfile is a live, growing append target, so the
// transactional shape is new, built from spec.md §4.3 directly.
package packfile

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/ori-vcs/ori/oerrors"
	"github.com/ori-vcs/ori/oriinternals/codec"
	"github.com/ori-vcs/ori/oriinternals/hashid"
	oindex "github.com/ori-vcs/ori/oriinternals/index"
	"github.com/ori-vcs/ori/oriinternals/stream"
	"github.com/ori-vcs/ori/oriobject"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// recordHeaderSize is the fixed, untagged size of a record header: magic
// (1) + type_tag (4) + flags (4) + payload_size (8) + stored_size (8) +
// id (32), per spec.md §6.
const recordHeaderSize = 1 + 4 + 4 + 8 + 8 + hashid.Size

// magicRecord marks the start of a live record; magicEnd is the trailing
// sentinel marking logical end of file (spec.md §4.3).
const (
	magicRecord byte = 0xF5
	magicEnd    byte = 0x00
)

// defaultTxThreshold is Transaction.full()'s default staged-bytes
// threshold (spec.md §4.3).
const defaultTxThreshold = 4 * 1024 * 1024

// SoftCap is the default on-disk size above which a packfile is
// considered full and a new one is allocated (spec.md §4.3).
const SoftCap = 64 * 1024 * 1024

type recordHeader struct {
	Info       oriobject.Info
	StoredSize uint64
}

func writeRecordHeader(w io.Writer, rh recordHeader) error {
	buf := stream.NewWriter(false)
	buf.U8(magicRecord)
	tag := rh.Info.Type.Tag()
	buf.Raw(tag[:])
	buf.U32(rh.Info.Flags).U64(rh.Info.PayloadSize).U64(rh.StoredSize).Hash(rh.Info.ID)
	_, err := w.Write(buf.Bytes())
	return err
}

func writeEndMarker(w io.Writer) error {
	_, err := w.Write([]byte{magicEnd})
	return err
}

// readRecordHeader reads one header from r. ok is false (with a nil error)
// when the end marker was read instead of a live record.
func readRecordHeader(r io.Reader) (rh recordHeader, ok bool, err error) {
	var magic [1]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		if err == io.EOF {
			return recordHeader{}, false, nil
		}
		return recordHeader{}, false, xerrors.Errorf("packfile: read magic: %w", err)
	}
	if magic[0] == magicEnd {
		return recordHeader{}, false, nil
	}
	if magic[0] != magicRecord {
		return recordHeader{}, false, xerrors.Errorf("packfile: bad record magic %#x: %w", magic[0], oerrors.ErrCorruption)
	}

	rest := make([]byte, recordHeaderSize-1)
	if _, err := io.ReadFull(r, rest); err != nil {
		return recordHeader{}, false, xerrors.Errorf("packfile: truncated record header: %w", err)
	}

	rr := stream.NewReader(rest, false)
	var tag [4]byte
	tagBytes, err := rr.RawN(4)
	if err != nil {
		return recordHeader{}, false, xerrors.Errorf("packfile: record type tag: %w", err)
	}
	copy(tag[:], tagBytes)
	typ, err := oriobject.TypeFromTag(tag)
	if err != nil {
		return recordHeader{}, false, xerrors.Errorf("packfile: record type: %w", err)
	}
	flags, err := rr.U32()
	if err != nil {
		return recordHeader{}, false, xerrors.Errorf("packfile: record flags: %w", err)
	}
	payloadSize, err := rr.U64()
	if err != nil {
		return recordHeader{}, false, xerrors.Errorf("packfile: record payload size: %w", err)
	}
	storedSize, err := rr.U64()
	if err != nil {
		return recordHeader{}, false, xerrors.Errorf("packfile: record stored size: %w", err)
	}
	id, err := rr.Hash()
	if err != nil {
		return recordHeader{}, false, xerrors.Errorf("packfile: record id: %w", err)
	}

	return recordHeader{
		Info: oriobject.Info{
			ID:          id,
			Type:        typ,
			Flags:       flags,
			PayloadSize: payloadSize,
		},
		StoredSize: storedSize,
	}, true, nil
}

// Packfile is a single append-only container file (spec.md §4.3).
type Packfile struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
	id   uint32
	f    afero.File
}

// Open opens (creating if absent) the packfile at path with numeric id.
func Open(fs afero.Fs, path string, id uint32) (*Packfile, error) {
	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, xerrors.Errorf("packfile: open %s: %w", path, err)
	}
	return &Packfile{fs: fs, path: path, id: id, f: f}, nil
}

// ID returns the packfile's numeric id.
func (p *Packfile) ID() uint32 {
	return p.id
}

// Size returns the current on-disk size.
func (p *Packfile) Size() (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, err := p.fs.Stat(p.path)
	if err != nil {
		return 0, xerrors.Errorf("packfile: stat: %w", err)
	}
	return info.Size(), nil
}

// Full reports whether the packfile's on-disk size exceeds SoftCap
// (spec.md §4.3).
func (p *Packfile) Full() (bool, error) {
	size, err := p.Size()
	if err != nil {
		return false, err
	}
	return size > SoftCap, nil
}

// Close releases the underlying file handle.
func (p *Packfile) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.f.Close()
}

// stagedRecord is one (info, compressed payload) pair collected by a
// Transaction before commit.
type stagedRecord struct {
	header  recordHeader
	payload []byte
}

// Transaction collects records in memory before they are atomically
// appended to the packfile (spec.md §4.3).
type Transaction struct {
	pack    *Packfile
	staged  []stagedRecord
	sizeSum int64
}

// Begin opens a write transaction targeted at p.
func (p *Packfile) Begin() *Transaction {
	return &Transaction{pack: p}
}

// Add compresses payload per info.Flags's codec mode and stages the
// record; it returns the record's index within the transaction.
func (tx *Transaction) Add(info oriobject.Info, payload []byte) (int, error) {
	mode := codec.ModeFromFlags(info.Flags)
	stored, err := codec.EncodeBytes(mode, payload)
	if err != nil {
		return 0, xerrors.Errorf("packfile: compress payload for %s: %w", info.ID, err)
	}

	info.PayloadSize = uint64(len(payload))
	rh := recordHeader{Info: info, StoredSize: uint64(len(stored))}
	tx.staged = append(tx.staged, stagedRecord{header: rh, payload: stored})
	tx.sizeSum += int64(len(stored))
	return len(tx.staged) - 1, nil
}

// Full reports whether the sum of staged stored sizes exceeds the default
// 4 MiB threshold (spec.md §4.3).
func (tx *Transaction) Full() bool {
	return tx.sizeSum > defaultTxThreshold
}

// Len returns the number of staged records.
func (tx *Transaction) Len() int {
	return len(tx.staged)
}

// Commit atomically appends every staged record to disk (write, then
// fsync), then appends a matching IndexEntry for each to idx. If the
// append fails before fsync, the transaction's in-memory state is simply
// discarded by the caller; nothing durable changed (spec.md §4.3).
func (tx *Transaction) Commit(idx *oindex.Index) ([]oindex.Entry, error) {
	p := tx.pack
	p.mu.Lock()
	defer p.mu.Unlock()

	startOffset, err := p.fs.Stat(p.path)
	if err != nil {
		return nil, xerrors.Errorf("packfile: stat before commit: %w", err)
	}
	offset := uint64(startOffset.Size())

	if _, err := p.f.Seek(0, io.SeekEnd); err != nil {
		return nil, xerrors.Errorf("packfile: seek end: %w", err)
	}

	var buf bytes.Buffer
	offsets := make([]uint64, len(tx.staged))
	cur := offset
	for i, rec := range tx.staged {
		if err := writeRecordHeader(&buf, rec.header); err != nil {
			return nil, xerrors.Errorf("packfile: encode header: %w", err)
		}
		buf.Write(rec.payload)
		offsets[i] = cur
		cur += recordHeaderSize + uint64(len(rec.payload))
	}

	if _, err := p.f.Write(buf.Bytes()); err != nil {
		return nil, xerrors.Errorf("packfile: write records: %w", err)
	}
	if err := p.f.Sync(); err != nil {
		return nil, xerrors.Errorf("packfile: fsync data: %w", err)
	}

	entries := make([]oindex.Entry, len(tx.staged))
	for i, rec := range tx.staged {
		entries[i] = oindex.Entry{
			ID:         rec.header.Info.ID,
			PackfileID: p.id,
			Offset:     offsets[i],
			StoredSize: rec.header.StoredSize,
			Info:       rec.header.Info,
		}
		if err := idx.UpdateInfo(entries[i]); err != nil {
			return nil, xerrors.Errorf("packfile: update index for %s: %w", rec.header.Info.ID, err)
		}
	}

	tx.staged = nil
	tx.sizeSum = 0
	return entries, nil
}

// ReadStored returns the raw stored (possibly compressed) bytes for the
// record at offset.
func (p *Packfile) ReadStored(offset, storedSize uint64) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.f.Seek(int64(offset), io.SeekStart); err != nil {
		return nil, xerrors.Errorf("packfile: seek to %d: %w", offset, err)
	}
	var hdrBuf [recordHeaderSize]byte
	if _, err := io.ReadFull(p.f, hdrBuf[:]); err != nil {
		return nil, xerrors.Errorf("packfile: read header at %d: %w", offset, err)
	}

	stored := make([]byte, storedSize)
	if _, err := io.ReadFull(p.f, stored); err != nil {
		return nil, xerrors.Errorf("packfile: read payload at %d: %w", offset, err)
	}
	return stored, nil
}

// ReadPayload reads and decodes the payload for the record at offset,
// given its codec mode (derived from the owning IndexEntry's info.flags).
func (p *Packfile) ReadPayload(offset, storedSize uint64, flags uint32) ([]byte, error) {
	stored, err := p.ReadStored(offset, storedSize)
	if err != nil {
		return nil, err
	}
	mode := codec.ModeFromFlags(flags)
	payload, err := codec.DecodeBytes(mode, stored)
	if err != nil {
		return nil, xerrors.Errorf("packfile: decode payload at %d: %w", offset, err)
	}
	return payload, nil
}

// Purge locates the record for id via idx, rewrites its header's type to
// Purged, and overwrites the payload bytes with zeros. Storage is not
// reclaimed until gc (spec.md §4.3).
func (p *Packfile) Purge(idx *oindex.Index, id hashid.ID) error {
	entry, ok := idx.Get(id)
	if !ok {
		return xerrors.Errorf("packfile: purge %s: %w", id, oerrors.ErrNotFound)
	}
	if entry.PackfileID != p.id {
		return xerrors.Errorf("packfile: purge %s: not in this packfile: %w", id, oerrors.ErrCorruption)
	}

	purgedInfo := entry.Info
	purgedInfo.Type = oriobject.TypePurged
	purgedInfo.Flags = 0
	purgedInfo.PayloadSize = 0
	rh := recordHeader{Info: purgedInfo, StoredSize: 0}

	var buf bytes.Buffer
	if err := writeRecordHeader(&buf, rh); err != nil {
		return xerrors.Errorf("packfile: encode purge header: %w", err)
	}
	// Pad to the original record's total size with zeros so later records
	// keep their offsets valid.
	totalOld := recordHeaderSize + entry.StoredSize
	pad := int64(totalOld) - int64(buf.Len())
	if pad < 0 {
		pad = 0
	}
	buf.Write(make([]byte, pad))

	if err := func() error {
		p.mu.Lock()
		defer p.mu.Unlock()

		if _, err := p.f.WriteAt(buf.Bytes(), int64(entry.Offset)); err != nil {
			return xerrors.Errorf("packfile: write purge record: %w", err)
		}
		return p.f.Sync()
	}(); err != nil {
		return xerrors.Errorf("packfile: fsync purge: %w", err)
	}

	newEntry := entry
	newEntry.Info = purgedInfo
	if err := idx.UpdateInfo(newEntry); err != nil {
		return xerrors.Errorf("packfile: update index after purge: %w", err)
	}
	return nil
}

// Transmit streams framed (info, stored_size, stored_bytes) tuples for
// each entry, copying raw stored bytes without recompression (spec.md
// §4.3/§6): u32 count ‖ count × (object-header ‖ stored_bytes).
func (p *Packfile) Transmit(sink io.Writer, entries []oindex.Entry) error {
	hdr := stream.NewWriter(false)
	hdr.U32(uint32(len(entries)))
	if _, err := sink.Write(hdr.Bytes()); err != nil {
		return xerrors.Errorf("packfile: write transmit count: %w", err)
	}

	for _, e := range entries {
		stored, err := p.ReadStored(e.Offset, e.StoredSize)
		if err != nil {
			return xerrors.Errorf("packfile: transmit read %s: %w", e.ID, err)
		}
		rh := recordHeader{Info: e.Info, StoredSize: e.StoredSize}
		if err := writeRecordHeader(sink, rh); err != nil {
			return xerrors.Errorf("packfile: transmit write header for %s: %w", e.ID, err)
		}
		if _, err := sink.Write(stored); err != nil {
			return xerrors.Errorf("packfile: transmit write payload for %s: %w", e.ID, err)
		}
	}
	return nil
}

// Receive reads a transmit group from source, copies each record's bytes
// into p, and appends a matching IndexEntry to idx for each. Flags are
// propagated unchanged and stored bytes are copied verbatim, never
// recompressed (spec.md §9's redesign flag).
func (p *Packfile) Receive(source io.Reader, idx *oindex.Index) ([]oindex.Entry, error) {
	var countBuf [4]byte
	if _, err := io.ReadFull(source, countBuf[:]); err != nil {
		return nil, xerrors.Errorf("packfile: receive count: %w", err)
	}
	cr := stream.NewReader(countBuf[:], false)
	count, err := cr.U32()
	if err != nil {
		return nil, xerrors.Errorf("packfile: receive count: %w", err)
	}

	tx := p.Begin()
	for i := uint32(0); i < count; i++ {
		rh, ok, err := readRecordHeader(source)
		if err != nil {
			return nil, xerrors.Errorf("packfile: receive header %d: %w", i, err)
		}
		if !ok {
			return nil, xerrors.Errorf("packfile: receive: short group, expected %d records: %w", count, oerrors.ErrProtocol)
		}
		stored := make([]byte, rh.StoredSize)
		if _, err := io.ReadFull(source, stored); err != nil {
			return nil, xerrors.Errorf("packfile: receive payload %d: %w", i, err)
		}
		tx.staged = append(tx.staged, stagedRecord{header: rh, payload: stored})
		tx.sizeSum += int64(rh.StoredSize)
	}

	return tx.Commit(idx)
}
