package oriobject

import "github.com/ori-vcs/ori/oriinternals/hashid"

// Info is the tuple (id, type, flags, payload_size) describing an object
// independent of where its bytes live (spec.md §3). The flags bitfield
// carries codec selection (oriinternals/codec.Mode) and object-specific
// markers; payload_size is always the decoded size.
type Info struct {
	ID          hashid.ID
	Type        Type
	Flags       uint32
	PayloadSize uint64
}
