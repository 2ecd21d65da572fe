// Package hashid implements HashedId, the 256-bit content identifier
// used throughout Ori (spec.md §3, §4.2).
//
// The shape is the same one the teacher uses for its own object ids
// (ginternals/githash: a fixed-width value with hex/binary views,
// equality and map-key use by raw bytes), widened from the teacher's
// SHA-1 to the SHA-256 the spec calls for.
package hashid

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/ori-vcs/ori/oerrors"
	"golang.org/x/xerrors"
)

// Size is the length, in bytes, of an ID.
const Size = sha256.Size

// HexSize is the length, in characters, of an ID's hex rendering.
const HexSize = Size * 2

// ID is a 256-bit content identifier. The zero value is the
// distinguished "empty" id (spec.md §3).
type ID [Size]byte

// Empty is the distinguished all-zero value denoting "empty" (spec.md §3).
var Empty = ID{}

// IsZero returns whether id is the empty id.
func (id ID) IsZero() bool {
	return id == Empty
}

// String renders id as 64 lowercase hex characters.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 32 bytes of id.
func (id ID) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, id[:])
	return out
}

// Sum computes the ID of content by hashing it with the algorithm used
// throughout Ori (spec.md §4.2: "a 256-bit cryptographic hash applied to
// the canonical serialized payload").
func Sum(content []byte) ID {
	return ID(sha256.Sum256(content))
}

// FromBytes builds an ID from exactly Size raw bytes.
func FromBytes(b []byte) (ID, error) {
	if len(b) != Size {
		return Empty, xerrors.Errorf("hashid: expected %d raw bytes, got %d: %w", Size, len(b), oerrors.ErrCorruption)
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// FromHex builds an ID from 64 case-insensitive hex characters.
func FromHex(s string) (ID, error) {
	if len(s) != HexSize {
		return Empty, xerrors.Errorf("hashid: expected %d hex chars, got %d: %w", HexSize, len(s), oerrors.ErrCorruption)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Empty, xerrors.Errorf("hashid: invalid hex %q: %w", s, oerrors.ErrCorruption)
	}
	return FromBytes(b)
}

// Less provides a total order over IDs by comparing their raw bytes.
func Less(a, b ID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
