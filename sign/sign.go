// Package sign implements spec.md §4.10's SignatureEngine: detached
// signing and verification of commit blobs against a keyring, using
// Ed25519 over the commit's no-signature hash-preimage blob.
//
// New relative to the teacher, which only ever parses a Git commit's
// inline gpgsig and never creates or checks one itself. Grounded on
// spec.md §4.10/§4.7 (the signature excludes itself from the preimage
// it signs) and on oriinternals/metadatalog.Log's Key/KeyRecord keyring,
// fingerprinted by SHA-256 of the raw public key.
package sign

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/ori-vcs/ori/oerrors"
	"github.com/ori-vcs/ori/oriobject"
	"golang.org/x/crypto/ed25519"
	"golang.org/x/xerrors"
)

// Keyring resolves a fingerprint to a trusted public key, matching the
// subset of oriinternals/metadatalog.Log this package needs. Key must
// return the raw 32-byte Ed25519 public key; Verify does not decode PEM,
// so a PEM-encoded value is rejected as a malformed key.
type Keyring interface {
	Key(fingerprint string) ([]byte, bool)
}

// GenerateKey returns a new Ed25519 key pair.
func GenerateKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, xerrors.Errorf("sign: generate key: %w", err)
	}
	return pub, priv, nil
}

// Fingerprint is the keyring lookup key for a public key: the hex SHA-256
// of its raw bytes (spec.md §4.10/§9: "keyring keyed by fingerprint").
func Fingerprint(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])
}

// Sign computes c's hash-preimage blob (no signature, signed flag
// cleared), signs it with priv, and stores the detached signature on c
// with the signed flag set (spec.md §4.10).
func Sign(c *oriobject.Commit, priv ed25519.PrivateKey) error {
	preimage, err := c.ToBlob(false)
	if err != nil {
		return xerrors.Errorf("sign: preimage: %w", err)
	}
	c.Signature = ed25519.Sign(priv, preimage)
	c.SetSigned(true)
	return nil
}

// Verify recomputes c's hash-preimage blob, looks up the signer's public
// key in keyring by fingerprint, and checks the detached signature.
// Unknown or untrusted keys, a missing signature, and a bad signature
// all return an error wrapping oerrors.ErrVerifyFailure, so callers can
// tell a failed verification from other errors with errors.Is.
func Verify(c *oriobject.Commit, fingerprint string, keyring Keyring) error {
	if !c.Signed() || len(c.Signature) == 0 {
		return xerrors.Errorf("sign: verify: commit carries no signature: %w", oerrors.ErrVerifyFailure)
	}

	pub, ok := keyring.Key(fingerprint)
	if !ok {
		return xerrors.Errorf("sign: verify: unknown key %s: %w", fingerprint, oerrors.ErrVerifyFailure)
	}
	if len(pub) != ed25519.PublicKeySize {
		return xerrors.Errorf("sign: verify: malformed key %s: %w", fingerprint, oerrors.ErrVerifyFailure)
	}

	preimage, err := c.ToBlob(false)
	if err != nil {
		return xerrors.Errorf("sign: verify: preimage: %w", err)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), preimage, c.Signature) {
		return xerrors.Errorf("sign: verify: signature mismatch for %s: %w", fingerprint, oerrors.ErrVerifyFailure)
	}
	return nil
}
