package oriobject

import (
	"github.com/ori-vcs/ori/oerrors"
	"github.com/ori-vcs/ori/oriinternals/hashid"
	"github.com/ori-vcs/ori/oriinternals/stream"
	"golang.org/x/xerrors"
)

// commitFlagSigned marks a commit as carrying a detached signature
// (spec.md §4.7: "Commit serialization excludes the signature when
// computing the hash and when signing; signature is stored separately
// in the blob with a dedicated flag.").
const commitFlagSigned uint32 = 1 << 0

// Graft records provenance for a commit copied from another repository
// (spec.md §3).
type Graft struct {
	Repo     string
	Path     string
	CommitID hashid.ID
}

// Commit is the versioned, optionally signed commit record of spec.md §3.
type Commit struct {
	Version      uint32
	Flags        uint32
	Tree         hashid.ID
	Parents      []hashid.ID // 0..2 entries
	User         string
	Time         uint64
	SnapshotName string
	Graft        *Graft
	Signature    []byte
	Message      string
}

// Signed reports whether c carries a detached signature.
func (c *Commit) Signed() bool {
	return c.Flags&commitFlagSigned != 0
}

// SetSigned sets or clears the signed flag.
func (c *Commit) SetSigned(signed bool) {
	if signed {
		c.Flags |= commitFlagSigned
	} else {
		c.Flags &^= commitFlagSigned
	}
}

// ToBlob serializes the commit per the canonical blob layout (spec.md §6).
// When withSignature is false, the signature is omitted even if present
// and the signed flag bit is cleared in the emitted flags word — this is
// the "hash-preimage" shape used both to compute the commit's id and to
// produce the bytes a SignatureEngine signs.
func (c *Commit) ToBlob(withSignature bool) ([]byte, error) {
	if len(c.Parents) > 2 {
		return nil, xerrors.Errorf("oriobject: commit has %d parents, max is 2: %w", len(c.Parents), oerrors.ErrCorruption)
	}

	flags := c.Flags
	includeSig := withSignature && c.Signed() && len(c.Signature) > 0
	if !includeSig {
		flags &^= commitFlagSigned
	}

	w := stream.NewWriter(false)
	w.U32(c.Version).U32(flags).Hash(c.Tree)
	w.U8(uint8(len(c.Parents)))
	for _, p := range c.Parents {
		w.Hash(p)
	}
	w.PStr(c.User).U64(c.Time).PStr(c.SnapshotName)

	hasGraft := c.Graft != nil
	w.U8(boolByte(hasGraft))
	if hasGraft {
		w.PStr(c.Graft.Repo).PStr(c.Graft.Path).Hash(c.Graft.CommitID)
	}

	if includeSig {
		w.LPStr(string(c.Signature))
	}

	w.PStr(c.Message)
	return w.Bytes(), nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// CommitFromBlob parses a commit's canonical blob back into a Commit.
func CommitFromBlob(blob []byte) (*Commit, error) {
	r := stream.NewReader(blob, false)
	c := &Commit{}
	var err error

	if c.Version, err = r.U32(); err != nil {
		return nil, xerrors.Errorf("oriobject: commit version: %w", err)
	}
	if c.Flags, err = r.U32(); err != nil {
		return nil, xerrors.Errorf("oriobject: commit flags: %w", err)
	}
	if c.Tree, err = r.Hash(); err != nil {
		return nil, xerrors.Errorf("oriobject: commit tree: %w", err)
	}
	nparents, err := r.U8()
	if err != nil {
		return nil, xerrors.Errorf("oriobject: commit nparents: %w", err)
	}
	if nparents > 2 {
		return nil, xerrors.Errorf("oriobject: commit has %d parents, max is 2: %w", nparents, oerrors.ErrCorruption)
	}
	for i := uint8(0); i < nparents; i++ {
		p, err := r.Hash()
		if err != nil {
			return nil, xerrors.Errorf("oriobject: commit parent %d: %w", i, err)
		}
		c.Parents = append(c.Parents, p)
	}
	if c.User, err = r.PStr(); err != nil {
		return nil, xerrors.Errorf("oriobject: commit user: %w", err)
	}
	if c.Time, err = r.U64(); err != nil {
		return nil, xerrors.Errorf("oriobject: commit time: %w", err)
	}
	if c.SnapshotName, err = r.PStr(); err != nil {
		return nil, xerrors.Errorf("oriobject: commit snapshot name: %w", err)
	}
	hasGraft, err := r.U8()
	if err != nil {
		return nil, xerrors.Errorf("oriobject: commit graft marker: %w", err)
	}
	if hasGraft != 0 {
		g := &Graft{}
		if g.Repo, err = r.PStr(); err != nil {
			return nil, xerrors.Errorf("oriobject: commit graft repo: %w", err)
		}
		if g.Path, err = r.PStr(); err != nil {
			return nil, xerrors.Errorf("oriobject: commit graft path: %w", err)
		}
		if g.CommitID, err = r.Hash(); err != nil {
			return nil, xerrors.Errorf("oriobject: commit graft commit id: %w", err)
		}
		c.Graft = g
	}
	if c.Flags&commitFlagSigned != 0 {
		sig, err := r.LPStr()
		if err != nil {
			return nil, xerrors.Errorf("oriobject: commit signature: %w", err)
		}
		c.Signature = []byte(sig)
	}
	if c.Message, err = r.PStr(); err != nil {
		return nil, xerrors.Errorf("oriobject: commit message: %w", err)
	}
	return c, nil
}
