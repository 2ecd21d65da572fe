// Package oriobject implements the versioned serialized entities named by
// spec.md §3/§4.7: ObjectType, ObjectInfo, Tree, Commit and LargeBlob,
// each with a to_blob()/from_blob() pair over TypedStream.
//
// Grounded on the teacher's ginternals/object package shape (an Object
// wrapping raw bytes plus AsTree/AsCommit parse methods), reframed from
// free-text git framing onto TypedStream per spec.md §4.7/§6.
package oriobject

import (
	"github.com/ori-vcs/ori/oerrors"
	"golang.org/x/xerrors"
)

// Type is one of the object kinds named by spec.md §3.
type Type uint8

// Object type values. Purged means the payload was removed but the
// identity is remembered (spec.md §3).
const (
	TypeCommit Type = 1
	TypeTree   Type = 2
	TypeBlob   Type = 3
	TypeLargeBlob Type = 4
	TypePurged Type = 5
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case TypeCommit:
		return "commit"
	case TypeTree:
		return "tree"
	case TypeBlob:
		return "blob"
	case TypeLargeBlob:
		return "largeblob"
	case TypePurged:
		return "purged"
	default:
		return "unknown"
	}
}

// Tag is the 4-byte ASCII type tag stored in a packfile object header
// (spec.md §6).
func (t Type) Tag() [4]byte {
	switch t {
	case TypeCommit:
		return [4]byte{'C', 'M', 'M', 'T'}
	case TypeTree:
		return [4]byte{'T', 'R', 'E', 'E'}
	case TypeBlob:
		return [4]byte{'B', 'L', 'O', 'B'}
	case TypeLargeBlob:
		return [4]byte{'L', 'G', 'B', 'L'}
	case TypePurged:
		return [4]byte{'P', 'U', 'R', 'G'}
	default:
		return [4]byte{0, 0, 0, 0}
	}
}

// IsValid reports whether t is a known object type.
func (t Type) IsValid() bool {
	switch t {
	case TypeCommit, TypeTree, TypeBlob, TypeLargeBlob, TypePurged:
		return true
	default:
		return false
	}
}

// TypeFromTag parses the 4-byte ASCII type tag stored in a packfile
// object header back into a Type.
func TypeFromTag(tag [4]byte) (Type, error) {
	switch tag {
	case [4]byte{'C', 'M', 'M', 'T'}:
		return TypeCommit, nil
	case [4]byte{'T', 'R', 'E', 'E'}:
		return TypeTree, nil
	case [4]byte{'B', 'L', 'O', 'B'}:
		return TypeBlob, nil
	case [4]byte{'L', 'G', 'B', 'L'}:
		return TypeLargeBlob, nil
	case [4]byte{'P', 'U', 'R', 'G'}:
		return TypePurged, nil
	default:
		return 0, xerrors.Errorf("oriobject: unknown type tag %q: %w", tag[:], oerrors.ErrCorruption)
	}
}
