// Package codec implements the streaming compression codec spec.md §4.2
// treats as opaque: stored size may differ from payload size, and the
// object header's flags select the mode.
//
// Grounded on the teacher's object.Object.Compress/zlib pairing
// (ginternals/object/object.go), widened with a second, general-purpose
// mode backed by github.com/klauspost/compress/zstd per SPEC_FULL.md §1.
package codec

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ori-vcs/ori/internal/errutil"
	"golang.org/x/xerrors"
)

// Mode selects which codec implementation is used for an object. It is
// stored in the low bits of ObjectInfo.Flags (spec.md §4.2).
type Mode uint32

const (
	// ModeNone stores the payload uncompressed.
	ModeNone Mode = 0
	// ModeZlib compresses with DEFLATE (compress/zlib), matching the
	// teacher's on-disk object format.
	ModeZlib Mode = 1
	// ModeZstd compresses with zstd, the general-purpose mode named by
	// spec.md §4.2 and wired to the domain stack (SPEC_FULL.md §1).
	ModeZstd Mode = 2

	// modeMask isolates the codec mode from the rest of an ObjectInfo's
	// flags bitfield.
	modeMask Mode = 0x3
)

// ModeFromFlags extracts the codec mode from an ObjectInfo flags value.
func ModeFromFlags(flags uint32) Mode {
	return Mode(flags) & modeMask
}

// WithMode returns flags with its codec-mode bits replaced by m.
func WithMode(flags uint32, m Mode) uint32 {
	return (flags &^ uint32(modeMask)) | uint32(m&modeMask)
}

// Codec encodes and decodes a payload stream. Encode returns the number
// of stored (encoded) bytes written to dst.
type Codec interface {
	Encode(dst io.Writer, src io.Reader) (stored int64, err error)
	Decode(dst io.Writer, src io.Reader) error
}

// For returns the Codec implementation for mode.
func For(mode Mode) (Codec, error) {
	switch mode {
	case ModeNone:
		return noneCodec{}, nil
	case ModeZlib:
		return zlibCodec{}, nil
	case ModeZstd:
		return zstdCodec{}, nil
	default:
		return nil, xerrors.Errorf("codec: unknown mode %d", mode)
	}
}

// EncodeBytes is a convenience wrapper encoding a full in-memory payload.
func EncodeBytes(mode Mode, payload []byte) (stored []byte, err error) {
	c, err := For(mode)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := c.Encode(&buf, bytes.NewReader(payload)); err != nil {
		return nil, xerrors.Errorf("codec: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeBytes is a convenience wrapper decoding a full in-memory stored
// payload.
func DecodeBytes(mode Mode, stored []byte) (payload []byte, err error) {
	c, err := For(mode)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := c.Decode(&buf, bytes.NewReader(stored)); err != nil {
		return nil, xerrors.Errorf("codec: decode: %w", err)
	}
	return buf.Bytes(), nil
}

type noneCodec struct{}

func (noneCodec) Encode(dst io.Writer, src io.Reader) (int64, error) {
	n, err := io.Copy(dst, src)
	if err != nil {
		return n, xerrors.Errorf("codec(none): encode: %w", err)
	}
	return n, nil
}

func (noneCodec) Decode(dst io.Writer, src io.Reader) error {
	if _, err := io.Copy(dst, src); err != nil {
		return xerrors.Errorf("codec(none): decode: %w", err)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type zlibCodec struct{}

func (zlibCodec) Encode(dst io.Writer, src io.Reader) (stored int64, err error) {
	cw := &countingWriter{w: dst}
	zw := zlib.NewWriter(cw)
	defer errutil.Close(zw, &err)

	if _, err = io.Copy(zw, src); err != nil {
		return 0, xerrors.Errorf("codec(zlib): encode: %w", err)
	}
	if err = zw.Close(); err != nil {
		return 0, xerrors.Errorf("codec(zlib): close: %w", err)
	}
	return cw.n, nil
}

func (zlibCodec) Decode(dst io.Writer, src io.Reader) (err error) {
	zr, err := zlib.NewReader(src)
	if err != nil {
		return xerrors.Errorf("codec(zlib): decode: %w", err)
	}
	defer errutil.Close(zr, &err)

	if _, err = io.Copy(dst, zr); err != nil {
		return xerrors.Errorf("codec(zlib): decode: %w", err)
	}
	return nil
}

type zstdCodec struct{}

func (zstdCodec) Encode(dst io.Writer, src io.Reader) (stored int64, err error) {
	cw := &countingWriter{w: dst}
	zw, err := zstd.NewWriter(cw)
	if err != nil {
		return 0, xerrors.Errorf("codec(zstd): new writer: %w", err)
	}
	defer errutil.Close(zw, &err)

	if _, err = io.Copy(zw, src); err != nil {
		return 0, xerrors.Errorf("codec(zstd): encode: %w", err)
	}
	if err = zw.Close(); err != nil {
		return 0, xerrors.Errorf("codec(zstd): close: %w", err)
	}
	return cw.n, nil
}

func (zstdCodec) Decode(dst io.Writer, src io.Reader) error {
	zr, err := zstd.NewReader(src)
	if err != nil {
		return xerrors.Errorf("codec(zstd): new reader: %w", err)
	}
	defer zr.Close()

	if _, err := io.Copy(dst, zr); err != nil {
		return xerrors.Errorf("codec(zstd): decode: %w", err)
	}
	return nil
}
