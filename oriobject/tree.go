package oriobject

import (
	"sort"

	"github.com/ori-vcs/ori/oerrors"
	"github.com/ori-vcs/ori/oriinternals/hashid"
	"github.com/ori-vcs/ori/oriinternals/stream"
	"golang.org/x/xerrors"
)

// EntryKind is the kind of object a TreeEntry's child_id refers to
// (spec.md §3).
type EntryKind uint8

// Entry kinds a TreeEntry may reference.
const (
	EntryTree      EntryKind = 1
	EntryBlob      EntryKind = 2
	EntryLargeBlob EntryKind = 3
)

// AttrMap carries a TreeEntry's attributes: the six required keys
// (spec.md §3) plus an open extension map, all serialized through
// TypedStream.
type AttrMap struct {
	Permissions uint32
	Owner       string
	Group       string
	Size        uint64
	Mtime       uint64
	Ctime       uint64

	// Extra holds additional attribute values beyond the six required
	// keys. Ori doesn't define any itself; it exists so a future caller
	// can round-trip custom per-entry metadata without a format change.
	Extra map[string]string
}

func (a AttrMap) encode() []byte {
	w := stream.NewWriter(false)
	w.U32(a.Permissions).PStr(a.Owner).PStr(a.Group).U64(a.Size).U64(a.Mtime).U64(a.Ctime)
	w.U32(uint32(len(a.Extra)))
	keys := make([]string, 0, len(a.Extra))
	for k := range a.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w.PStr(k).LPStr(a.Extra[k])
	}
	return w.Bytes()
}

func decodeAttrMap(data []byte) (AttrMap, error) {
	r := stream.NewReader(data, false)
	var a AttrMap
	var err error
	if a.Permissions, err = r.U32(); err != nil {
		return AttrMap{}, xerrors.Errorf("oriobject: attrmap permissions: %w", err)
	}
	if a.Owner, err = r.PStr(); err != nil {
		return AttrMap{}, xerrors.Errorf("oriobject: attrmap owner: %w", err)
	}
	if a.Group, err = r.PStr(); err != nil {
		return AttrMap{}, xerrors.Errorf("oriobject: attrmap group: %w", err)
	}
	if a.Size, err = r.U64(); err != nil {
		return AttrMap{}, xerrors.Errorf("oriobject: attrmap size: %w", err)
	}
	if a.Mtime, err = r.U64(); err != nil {
		return AttrMap{}, xerrors.Errorf("oriobject: attrmap mtime: %w", err)
	}
	if a.Ctime, err = r.U64(); err != nil {
		return AttrMap{}, xerrors.Errorf("oriobject: attrmap ctime: %w", err)
	}
	n, err := r.U32()
	if err != nil {
		return AttrMap{}, xerrors.Errorf("oriobject: attrmap extra count: %w", err)
	}
	if n > 0 {
		a.Extra = make(map[string]string, n)
		for i := uint32(0); i < n; i++ {
			k, err := r.PStr()
			if err != nil {
				return AttrMap{}, xerrors.Errorf("oriobject: attrmap extra key: %w", err)
			}
			v, err := r.LPStr()
			if err != nil {
				return AttrMap{}, xerrors.Errorf("oriobject: attrmap extra value: %w", err)
			}
			a.Extra[k] = v
		}
	}
	return a, nil
}

// TreeEntry maps a child name to its kind, id, and attributes (spec.md §3).
type TreeEntry struct {
	Name    string
	Kind    EntryKind
	ChildID hashid.ID
	Attrs   AttrMap
}

// Tree is an ordered mapping from child name to TreeEntry, kept sorted
// by name to guarantee byte-exact round-trip (spec.md §3/§4.7).
type Tree struct {
	entries []TreeEntry
}

// NewTree builds a Tree from entries, sorting them by name. Names must
// be non-empty UTF-8 and must not contain '/' (spec.md §3); NewTree
// returns an error otherwise.
func NewTree(entries []TreeEntry) (*Tree, error) {
	out := make([]TreeEntry, len(entries))
	copy(out, entries)
	for _, e := range out {
		if err := validateEntryName(e.Name); err != nil {
			return nil, err
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	for i := 1; i < len(out); i++ {
		if out[i].Name == out[i-1].Name {
			return nil, xerrors.Errorf("oriobject: duplicate tree entry name %q: %w", out[i].Name, oerrors.ErrCorruption)
		}
	}
	return &Tree{entries: out}, nil
}

func validateEntryName(name string) error {
	if name == "" {
		return xerrors.Errorf("oriobject: tree entry name must not be empty: %w", oerrors.ErrCorruption)
	}
	for _, r := range name {
		if r == '/' {
			return xerrors.Errorf("oriobject: tree entry name %q must not contain '/': %w", name, oerrors.ErrCorruption)
		}
	}
	return nil
}

// Entries returns a copy of the tree's entries in name-sorted order.
func (t *Tree) Entries() []TreeEntry {
	out := make([]TreeEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// ToBlob serializes the tree per the canonical blob layout (spec.md §6):
// u32 nentries ‖ nentries × (pstr name ‖ u8 kind ‖ hash child ‖ pstr
// serialized-attrs), sorted by name.
func (t *Tree) ToBlob() []byte {
	w := stream.NewWriter(false)
	w.U32(uint32(len(t.entries)))
	for _, e := range t.entries {
		w.PStr(e.Name).U8(uint8(e.Kind)).Hash(e.ChildID).PStr(string(e.Attrs.encode()))
	}
	return w.Bytes()
}

// TreeFromBlob parses a tree's canonical blob back into a Tree.
func TreeFromBlob(blob []byte) (*Tree, error) {
	r := stream.NewReader(blob, false)
	n, err := r.U32()
	if err != nil {
		return nil, xerrors.Errorf("oriobject: tree nentries: %w", err)
	}
	entries := make([]TreeEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		name, err := r.PStr()
		if err != nil {
			return nil, xerrors.Errorf("oriobject: tree entry %d name: %w", i, err)
		}
		kind, err := r.U8()
		if err != nil {
			return nil, xerrors.Errorf("oriobject: tree entry %d kind: %w", i, err)
		}
		child, err := r.Hash()
		if err != nil {
			return nil, xerrors.Errorf("oriobject: tree entry %d child: %w", i, err)
		}
		attrsRaw, err := r.PStr()
		if err != nil {
			return nil, xerrors.Errorf("oriobject: tree entry %d attrs: %w", i, err)
		}
		attrs, err := decodeAttrMap([]byte(attrsRaw))
		if err != nil {
			return nil, xerrors.Errorf("oriobject: tree entry %d attrs: %w", i, err)
		}
		entries = append(entries, TreeEntry{
			Name:    name,
			Kind:    EntryKind(kind),
			ChildID: child,
			Attrs:   attrs,
		})
	}
	return &Tree{entries: entries}, nil
}
