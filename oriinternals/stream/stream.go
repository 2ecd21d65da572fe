// Package stream implements TypedStream, the self-describing binary
// framing used for every persisted entity in Ori (spec.md §4.1).
//
// The teacher hand-rolls a framing scheme per format: packfile headers
// parse a variable-length varint by hand (ginternals/packfile/packfile.go,
// readSize/insertLittleEndian7) and objects parse free-text lines byte by
// byte (internal/readutil.ReadTo). TypedStream generalizes both into one
// disciplined Writer/Reader pair: every primitive is preceded by a
// one-byte tag so a Reader can validate the schema it's decoding instead
// of trusting offsets, and every integer is little-endian.
package stream

import (
	"bytes"
	"encoding/binary"

	"github.com/ori-vcs/ori/oerrors"
	"github.com/ori-vcs/ori/oriinternals/hashid"
	"golang.org/x/xerrors"
)

// Tag identifies the type of the primitive that follows it when "types
// enabled" framing is used (spec.md §4.1).
type Tag byte

// Tag values fixed by spec.md §4.1.
const (
	TagU8    Tag = 0x01
	TagU32   Tag = 0x02
	TagU64   Tag = 0x03
	TagHash  Tag = 0x04
	TagPStr  Tag = 0x05 // u16-length-prefixed string
	TagLPStr Tag = 0x06 // u32-length-prefixed string
)

// Writer serializes primitives into an in-memory buffer, optionally
// preceding each one with its type tag.
type Writer struct {
	buf          bytes.Buffer
	typesEnabled bool
}

// NewWriter returns a Writer. When typesEnabled is true, every primitive
// written is preceded by its one-byte Tag.
func NewWriter(typesEnabled bool) *Writer {
	return &Writer{typesEnabled: typesEnabled}
}

// Bytes returns the buffer accumulated so far.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

func (w *Writer) writeTag(t Tag) {
	if w.typesEnabled {
		w.buf.WriteByte(byte(t))
	}
}

// U8 appends a single byte.
func (w *Writer) U8(v uint8) *Writer {
	w.writeTag(TagU8)
	w.buf.WriteByte(v)
	return w
}

// U32 appends a little-endian uint32.
func (w *Writer) U32(v uint32) *Writer {
	w.writeTag(TagU32)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
	return w
}

// U64 appends a little-endian uint64.
func (w *Writer) U64(v uint64) *Writer {
	w.writeTag(TagU64)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
	return w
}

// Hash appends a fixed-width 32-byte HashedId.
func (w *Writer) Hash(id hashid.ID) *Writer {
	w.writeTag(TagHash)
	w.buf.Write(id[:])
	return w
}

// PStr appends a string preceded by a u16 length. s must be at most
// 65535 bytes.
func (w *Writer) PStr(s string) *Writer {
	w.writeTag(TagPStr)
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(len(s)))
	w.buf.Write(b[:])
	w.buf.WriteString(s)
	return w
}

// LPStr appends a string preceded by a u32 length.
func (w *Writer) LPStr(s string) *Writer {
	w.writeTag(TagLPStr)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(len(s)))
	w.buf.Write(b[:])
	w.buf.WriteString(s)
	return w
}

// Raw appends bytes with no framing at all; callers that need the bytes
// to be read back separately write their length first.
func (w *Writer) Raw(b []byte) *Writer {
	w.buf.Write(b)
	return w
}

// Reader parses primitives out of an in-memory buffer produced by a
// Writer using the same typesEnabled setting.
type Reader struct {
	data         []byte
	pos          int
	typesEnabled bool
}

// NewReader returns a Reader over data.
func NewReader(data []byte, typesEnabled bool) *Reader {
	return &Reader{data: data, typesEnabled: typesEnabled}
}

// Len returns the number of unread bytes remaining.
func (r *Reader) Len() int {
	return len(r.data) - r.pos
}

// Remaining returns every unread byte without advancing the cursor.
func (r *Reader) Remaining() []byte {
	return r.data[r.pos:]
}

func (r *Reader) need(n int) error {
	if r.Len() < n {
		return xerrors.Errorf("stream: need %d bytes, have %d: %w", n, r.Len(), oerrors.ErrCorruption)
	}
	return nil
}

func (r *Reader) expectTag(want Tag) error {
	if !r.typesEnabled {
		return nil
	}
	if err := r.need(1); err != nil {
		return err
	}
	got := Tag(r.data[r.pos])
	r.pos++
	if got != want {
		return xerrors.Errorf("stream: expected tag %#x, got %#x: %w", want, got, oerrors.ErrCorruption)
	}
	return nil
}

// U8 reads a single byte.
func (r *Reader) U8() (uint8, error) {
	if err := r.expectTag(TagU8); err != nil {
		return 0, err
	}
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

// U32 reads a little-endian uint32.
func (r *Reader) U32() (uint32, error) {
	if err := r.expectTag(TagU32); err != nil {
		return 0, err
	}
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

// U64 reads a little-endian uint64.
func (r *Reader) U64() (uint64, error) {
	if err := r.expectTag(TagU64); err != nil {
		return 0, err
	}
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

// Hash reads a fixed-width 32-byte HashedId.
func (r *Reader) Hash() (hashid.ID, error) {
	if err := r.expectTag(TagHash); err != nil {
		return hashid.Empty, err
	}
	if err := r.need(hashid.Size); err != nil {
		return hashid.Empty, err
	}
	id, err := hashid.FromBytes(r.data[r.pos : r.pos+hashid.Size])
	if err != nil {
		return hashid.Empty, err
	}
	r.pos += hashid.Size
	return id, nil
}

// PStr reads a u16-length-prefixed string.
func (r *Reader) PStr() (string, error) {
	if err := r.expectTag(TagPStr); err != nil {
		return "", err
	}
	if err := r.need(2); err != nil {
		return "", err
	}
	n := int(binary.LittleEndian.Uint16(r.data[r.pos:]))
	r.pos += 2
	if err := r.need(n); err != nil {
		return "", err
	}
	s := string(r.data[r.pos : r.pos+n])
	r.pos += n
	return s, nil
}

// LPStr reads a u32-length-prefixed string.
func (r *Reader) LPStr() (string, error) {
	if err := r.expectTag(TagLPStr); err != nil {
		return "", err
	}
	if err := r.need(4); err != nil {
		return "", err
	}
	n := int(binary.LittleEndian.Uint32(r.data[r.pos:]))
	r.pos += 4
	if err := r.need(n); err != nil {
		return "", err
	}
	s := string(r.data[r.pos : r.pos+n])
	r.pos += n
	return s, nil
}

// Raw reads the remaining unread bytes verbatim.
func (r *Reader) Raw() []byte {
	out := r.data[r.pos:]
	r.pos = len(r.data)
	return out
}

// RawN reads exactly n unframed bytes verbatim.
func (r *Reader) RawN(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}
