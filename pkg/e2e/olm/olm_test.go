package olm

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeSig(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(s)
}

func decodeCurve25519(t *testing.T, b64 string) [32]byte {
	t.Helper()
	raw, err := base64.RawStdEncoding.DecodeString(b64)
	require.NoError(t, err)
	require.Len(t, raw, 32)
	var out [32]byte
	copy(out[:], raw)
	return out
}

func TestNewAccountGeneratesDistinctKeys(t *testing.T) {
	a1, err := NewAccount()
	require.NoError(t, err)
	a2, err := NewAccount()
	require.NoError(t, err)

	assert.NotEqual(t, a1.Ed25519Public, a2.Ed25519Public)
	assert.NotEqual(t, a1.Curve25519Public, a2.Curve25519Public)
	assert.Equal(t, DefaultMaxOneTimeKeys, a1.MaxOneTimeKeys)
}

func TestSignVerifiesWithEd25519(t *testing.T) {
	a, err := NewAccount()
	require.NoError(t, err)

	sig := a.Sign([]byte("hello world"))
	sigBytes, err := decodeSig(sig)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(a.Ed25519Public, []byte("hello world"), sigBytes))
}

func TestOneTimeKeyLifecycle(t *testing.T) {
	a, err := NewAccount()
	require.NoError(t, err)

	ids, err := a.GenerateOneTimeKeys(3)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Equal(t, 3, a.UnpublishedCount())

	for _, id := range ids {
		pub, ok := a.OneTimeKeyPublic(id)
		assert.True(t, ok)
		assert.NotEmpty(t, pub)
		a.MarkPublished(id)
	}
	assert.Equal(t, 0, a.UnpublishedCount())
	assert.Equal(t, 3, a.Count())

	a.RemoveOneTimeKey(ids[0])
	assert.Equal(t, 2, a.Count())
}

// TestSessionRoundTrip exercises spec.md §4.7's X3DH-style session
// establishment: an outbound session created against a peer's identity and
// one-time keys must produce a session an inbound session derived from the
// same material can decrypt.
func TestSessionRoundTrip(t *testing.T) {
	alice, err := NewAccount()
	require.NoError(t, err)
	bob, err := NewAccount()
	require.NoError(t, err)

	otkIDs, err := bob.GenerateOneTimeKeys(1)
	require.NoError(t, err)
	otkID := otkIDs[0]
	otkPubB64, ok := bob.OneTimeKeyPublic(otkID)
	require.True(t, ok)
	otkPub := decodeCurve25519(t, otkPubB64)

	outbound, ephemeralPubBytes, err := CreateOutboundSession(alice, bob.Curve25519Public, otkPub)
	require.NoError(t, err)

	var ephemeralPub [32]byte
	copy(ephemeralPub[:], ephemeralPubBytes)

	inbound, err := CreateInboundSession(bob, alice.Curve25519Public, ephemeralPub, otkID)
	require.NoError(t, err)
	bob.RemoveOneTimeKey(otkID)

	ciphertext, err := outbound.Encrypt([]byte("room key payload"))
	require.NoError(t, err)

	plaintext, ok := inbound.Decrypt(ciphertext)
	require.True(t, ok)
	assert.Equal(t, "room key payload", string(plaintext))
}

func TestSessionDecryptFailsForWrongSession(t *testing.T) {
	alice, err := NewAccount()
	require.NoError(t, err)
	bob, err := NewAccount()
	require.NoError(t, err)
	mallory, err := NewAccount()
	require.NoError(t, err)

	otkIDs, err := bob.GenerateOneTimeKeys(1)
	require.NoError(t, err)
	otkPubB64, _ := bob.OneTimeKeyPublic(otkIDs[0])
	otkPub := decodeCurve25519(t, otkPubB64)

	outbound, _, err := CreateOutboundSession(mallory, bob.Curve25519Public, otkPub)
	require.NoError(t, err)

	wrongOutbound, _, err := CreateOutboundSession(alice, mallory.Curve25519Public, otkPub)
	require.NoError(t, err)

	ciphertext, err := outbound.Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, ok := wrongOutbound.Decrypt(ciphertext)
	assert.False(t, ok)
}
