package sign_test

import (
	"testing"

	"github.com/ori-vcs/ori/oerrors"
	"github.com/ori-vcs/ori/oriinternals/hashid"
	"github.com/ori-vcs/ori/oriobject"
	"github.com/ori-vcs/ori/sign"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memKeyring map[string][]byte

func (m memKeyring) Key(fingerprint string) ([]byte, bool) {
	pem, ok := m[fingerprint]
	return pem, ok
}

func newCommit() *oriobject.Commit {
	return &oriobject.Commit{
		Version: 1,
		Tree:    hashid.Sum([]byte("tree")),
		User:    "author",
		Time:    1000,
		Message: "a commit",
	}
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	t.Parallel()
	pub, priv, err := sign.GenerateKey()
	require.NoError(t, err)

	c := newCommit()
	require.NoError(t, sign.Sign(c, priv))
	assert.True(t, c.Signed())
	assert.NotEmpty(t, c.Signature)

	fp := sign.Fingerprint(pub)
	keyring := memKeyring{fp: []byte(pub)}
	assert.NoError(t, sign.Verify(c, fp, keyring))
}

func TestVerifyFailsForUnknownKey(t *testing.T) {
	t.Parallel()
	_, priv, err := sign.GenerateKey()
	require.NoError(t, err)

	c := newCommit()
	require.NoError(t, sign.Sign(c, priv))

	err = sign.Verify(c, "nonexistent-fingerprint", memKeyring{})
	require.Error(t, err)
	assert.ErrorIs(t, err, oerrors.ErrVerifyFailure)
}

func TestVerifyFailsForTamperedCommit(t *testing.T) {
	t.Parallel()
	pub, priv, err := sign.GenerateKey()
	require.NoError(t, err)

	c := newCommit()
	require.NoError(t, sign.Sign(c, priv))
	fp := sign.Fingerprint(pub)
	keyring := memKeyring{fp: []byte(pub)}

	c.Message = "tampered message"
	err = sign.Verify(c, fp, keyring)
	require.Error(t, err)
	assert.ErrorIs(t, err, oerrors.ErrVerifyFailure)
}

func TestVerifyFailsWithoutSignature(t *testing.T) {
	t.Parallel()
	pub, _, err := sign.GenerateKey()
	require.NoError(t, err)
	fp := sign.Fingerprint(pub)

	c := newCommit()
	err = sign.Verify(c, fp, memKeyring{fp: []byte(pub)})
	require.Error(t, err)
	assert.ErrorIs(t, err, oerrors.ErrVerifyFailure)
}
