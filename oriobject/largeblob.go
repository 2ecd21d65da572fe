package oriobject

import (
	"github.com/ori-vcs/ori/oerrors"
	"github.com/ori-vcs/ori/oriinternals/hashid"
	"github.com/ori-vcs/ori/oriinternals/stream"
	"golang.org/x/xerrors"
)

// Content-defined chunking parameters (spec.md §4.7): chunk boundaries are
// picked so the average chunk size is close to chunkTargetAvg, with a hard
// ceiling of chunkHardMax so no single chunk is unbounded. chunkMinSize
// avoids pathological runs of tiny chunks on degenerate input.
const (
	chunkTargetAvg = 256 * 1024
	chunkHardMax   = 1024 * 1024
	chunkMinSize   = 2 * 1024

	// chunkMask is sized against chunkTargetAvg: a rolling hash with this
	// many low bits zero fires, in expectation, once every chunkTargetAvg
	// bytes.
	chunkMask = chunkTargetAvg - 1

	gearPrime = 0x9E3779B97F4A7C15 // 64-bit fractional part of the golden ratio
)

// gearTable is a fixed per-byte multiplier table used by the rolling gear
// hash below; values are derived deterministically from the byte itself so
// chunking is reproducible across processes without shipping a table.
var gearTable = func() [256]uint64 {
	var t [256]uint64
	h := uint64(gearPrime)
	for i := range t {
		h ^= h << 13
		h ^= h >> 7
		h ^= h << 17
		h += uint64(i) * gearPrime
		t[i] = h
	}
	return t
}()

// Chunk splits content into content-defined boundaries using a gear rolling
// hash (spec.md §4.7: "chunk boundaries are content-defined so that a small
// edit near the start of a large file only invalidates the chunks touching
// the edit, not the whole file"). The cut set is a pure function of the
// bytes, so two peers chunking the same content independently produce
// identical chunk boundaries.
func Chunk(content []byte) [][]byte {
	if len(content) == 0 {
		return nil
	}

	var chunks [][]byte
	start := 0
	var h uint64
	for i, b := range content {
		h = (h << 1) + gearTable[b]
		size := i - start + 1
		if size < chunkMinSize {
			continue
		}
		if h&chunkMask == 0 || size >= chunkHardMax {
			chunks = append(chunks, content[start:i+1])
			start = i + 1
			h = 0
		}
	}
	if start < len(content) {
		chunks = append(chunks, content[start:])
	}
	return chunks
}

// ChunkRef maps a byte range within a LargeBlob's logical content to the
// id of the packfile object holding that range's bytes (spec.md §3).
type ChunkRef struct {
	Offset  uint64
	Length  uint64
	ChunkID hashid.ID
}

// LargeBlob is an ordered offset-keyed mapping of chunk references
// representing a file too large to store as a single blob (spec.md §3).
type LargeBlob struct {
	TotalSize uint64
	Chunks    []ChunkRef
}

// NewLargeBlob builds a LargeBlob from chunk references, which must already
// be offset-ordered and contiguous (no gaps, no overlaps).
func NewLargeBlob(chunks []ChunkRef) (*LargeBlob, error) {
	out := make([]ChunkRef, len(chunks))
	copy(out, chunks)

	var expect uint64
	for i, c := range out {
		if c.Offset != expect {
			return nil, xerrors.Errorf("oriobject: largeblob chunk %d offset %d, expected %d: %w", i, c.Offset, expect, oerrors.ErrCorruption)
		}
		expect += c.Length
	}
	return &LargeBlob{TotalSize: expect, Chunks: out}, nil
}

// ToBlob serializes the large blob per the canonical layout (spec.md §6):
// u32 nparts ‖ nparts × (u64 offset ‖ u64 length ‖ hash chunk). TotalSize
// isn't stored; it's recomputed from the chunk list on parse.
func (l *LargeBlob) ToBlob() []byte {
	w := stream.NewWriter(false)
	w.U32(uint32(len(l.Chunks)))
	for _, c := range l.Chunks {
		w.U64(c.Offset).U64(c.Length).Hash(c.ChunkID)
	}
	return w.Bytes()
}

// LargeBlobFromBlob parses a large blob's canonical blob back into a
// LargeBlob, recomputing TotalSize as the last chunk's offset+length.
func LargeBlobFromBlob(blob []byte) (*LargeBlob, error) {
	r := stream.NewReader(blob, false)
	l := &LargeBlob{}

	n, err := r.U32()
	if err != nil {
		return nil, xerrors.Errorf("oriobject: largeblob nchunks: %w", err)
	}
	l.Chunks = make([]ChunkRef, 0, n)
	for i := uint32(0); i < n; i++ {
		var c ChunkRef
		if c.Offset, err = r.U64(); err != nil {
			return nil, xerrors.Errorf("oriobject: largeblob chunk %d offset: %w", i, err)
		}
		if c.Length, err = r.U64(); err != nil {
			return nil, xerrors.Errorf("oriobject: largeblob chunk %d length: %w", i, err)
		}
		if c.ChunkID, err = r.Hash(); err != nil {
			return nil, xerrors.Errorf("oriobject: largeblob chunk %d id: %w", i, err)
		}
		l.Chunks = append(l.Chunks, c)
	}
	if len(l.Chunks) > 0 {
		last := l.Chunks[len(l.Chunks)-1]
		l.TotalSize = last.Offset + last.Length
	}
	return l, nil
}
