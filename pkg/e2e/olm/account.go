// Package olm implements the from-scratch Olm-like primitives SPEC_FULL.md
// §4.7/§1.2 call for: an identity keypair per account, one-time curve25519
// keys, X3DH-style session establishment, and an AEAD message cipher. No Go
// binding of libolm exists in the available library ecosystem, so this
// package builds the primitives directly on golang.org/x/crypto
// (curve25519, hkdf, nacl/secretbox) and the standard library's
// crypto/ed25519, following the key and message shapes observed in
// matrix-org-complement-crypto's FFI bindings to the real Rust crypto crate.
//
// This is a simplified single-step ratchet, not a full Double Ratchet: each
// session derives one shared secret at creation time via X3DH and uses it
// directly as a secretbox key, with a fresh random nonce per message.
// spec.md's Non-goals exclude Megolm outbound session creation and peer
// signature verification, and explicitly scope inbound Olm decryption to
// "parses plaintext and validates identity fields" without specifying a
// ratchet algorithm, so this simplification is a judgment call recorded in
// DESIGN.md rather than an attempt to reproduce libolm's wire format.
package olm

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

// Account is the persistent cryptographic identity of spec.md §3's "Olm
// account": an ed25519 signing keypair and a curve25519 identity keypair,
// plus a pool of one-time curve25519 keys.
type Account struct {
	Ed25519Public  ed25519.PublicKey
	ed25519Private ed25519.PrivateKey

	Curve25519Public  [32]byte
	curve25519Private [32]byte

	// MaxOneTimeKeys is the server-declared maximum pool size (spec.md §3's
	// "account's server-declared maximum"); replenishment targets max/2.
	MaxOneTimeKeys int

	oneTimeKeys map[string]oneTimeKeypair // keyID -> keypair
	published   map[string]bool           // keyID -> published to server
}

type oneTimeKeypair struct {
	public  [32]byte
	private [32]byte
}

const DefaultMaxOneTimeKeys = 50

// NewAccount generates a fresh Olm account using cryptographically secure
// randomness (spec.md §4.7 step 2).
func NewAccount() (*Account, error) {
	edPub, edPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("olm: generate ed25519 key: %w", err)
	}
	var curvePriv [32]byte
	if _, err := io.ReadFull(rand.Reader, curvePriv[:]); err != nil {
		return nil, fmt.Errorf("olm: generate curve25519 key: %w", err)
	}
	curvePriv[0] &= 248
	curvePriv[31] &= 127
	curvePriv[31] |= 64
	var curvePub [32]byte
	curve25519.ScalarBaseMult(&curvePub, &curvePriv)

	return &Account{
		Ed25519Public:      edPub,
		ed25519Private:     edPriv,
		Curve25519Public:   curvePub,
		curve25519Private:  curvePriv,
		MaxOneTimeKeys:     DefaultMaxOneTimeKeys,
		oneTimeKeys:        make(map[string]oneTimeKeypair),
		published:          make(map[string]bool),
	}, nil
}

// Sign signs canonical bytes with the account's ed25519 key and returns the
// unpadded-base64 signature spec.md §4.7 inserts at
// signatures[user_id]["ed25519:<device_id>"].
func (a *Account) Sign(canonicalBytes []byte) string {
	sig := ed25519.Sign(a.ed25519Private, canonicalBytes)
	return base64.RawStdEncoding.EncodeToString(sig)
}

// GenerateOneTimeKeys creates n fresh one-time curve25519 keypairs and
// returns their key IDs, for the replenishment flow of spec.md §4.7.
func (a *Account) GenerateOneTimeKeys(n int) ([]string, error) {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		var priv [32]byte
		if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
			return nil, fmt.Errorf("olm: generate one-time key: %w", err)
		}
		priv[0] &= 248
		priv[31] &= 127
		priv[31] |= 64
		var pub [32]byte
		curve25519.ScalarBaseMult(&pub, &priv)

		id := base64.RawStdEncoding.EncodeToString(pub[:8])
		a.oneTimeKeys[id] = oneTimeKeypair{public: pub, private: priv}
		ids = append(ids, id)
	}
	return ids, nil
}

// OneTimeKeyPublic returns the base64 public key for a given key id.
func (a *Account) OneTimeKeyPublic(keyID string) (string, bool) {
	kp, ok := a.oneTimeKeys[keyID]
	if !ok {
		return "", false
	}
	return base64.RawStdEncoding.EncodeToString(kp.public[:]), true
}

// MarkPublished records that a one-time key has been successfully uploaded,
// per spec.md §4.7: "On upload success, mark the keys as published."
func (a *Account) MarkPublished(keyID string) {
	a.published[keyID] = true
}

// UnpublishedCount returns how many one-time keys exist but have not yet
// been marked published.
func (a *Account) UnpublishedCount() int {
	n := 0
	for id := range a.oneTimeKeys {
		if !a.published[id] {
			n++
		}
	}
	return n
}

// Count returns the total number of one-time keys currently held
// (published and unpublished).
func (a *Account) Count() int {
	return len(a.oneTimeKeys)
}

// RemoveOneTimeKey deletes a one-time key once it has been consumed by an
// inbound prekey message (spec.md §4.7 step 3: "remove the one-time key
// used from the account").
func (a *Account) RemoveOneTimeKey(keyID string) {
	delete(a.oneTimeKeys, keyID)
	delete(a.published, keyID)
}

func (a *Account) oneTimeKeyPrivate(keyID string) ([32]byte, bool) {
	kp, ok := a.oneTimeKeys[keyID]
	return kp.private, ok
}

// PrivateEd25519 exposes the signing private key for persistence
// (pkg/e2e's pickle format). Not for use outside the account-persistence
// boundary.
func (a *Account) PrivateEd25519() ed25519.PrivateKey { return a.ed25519Private }

// PrivateCurve25519 exposes the identity private key for persistence.
func (a *Account) PrivateCurve25519() [32]byte { return a.curve25519Private }

// RestoreAccount reconstructs an Account from persisted key material
// (pkg/e2e's pickle format), skipping key generation entirely.
func RestoreAccount(ed25519Private ed25519.PrivateKey, curve25519Private, curve25519Public [32]byte, maxOneTimeKeys int) *Account {
	if maxOneTimeKeys == 0 {
		maxOneTimeKeys = DefaultMaxOneTimeKeys
	}
	return &Account{
		Ed25519Public:      ed25519Private.Public().(ed25519.PublicKey),
		ed25519Private:     ed25519Private,
		Curve25519Public:   curve25519Public,
		curve25519Private:  curve25519Private,
		MaxOneTimeKeys:     maxOneTimeKeys,
		oneTimeKeys:        make(map[string]oneTimeKeypair),
		published:          make(map[string]bool),
	}
}

// deriveSharedSecret implements this package's simplified X3DH: HKDF over
// the concatenation of the two ECDH outputs (initiator identity key with
// responder one-time key, then initiator ephemeral key with responder
// identity key; each side computes them from its own private halves), matching
// the key-material shape (not the full libolm ratchet) spec.md §4.7 asks
// this core to establish sessions from.
func deriveSharedSecret(dh1, dh2 [32]byte, info string) ([32]byte, error) {
	combined := append(append([]byte{}, dh1[:]...), dh2[:]...)
	h := hkdf.New(sha256.New, combined, nil, []byte(info))
	var key [32]byte
	if _, err := io.ReadFull(h, key[:]); err != nil {
		return key, fmt.Errorf("olm: derive shared secret: %w", err)
	}
	return key, nil
}

func secretboxSeal(key [32]byte, plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &key), nil
}

func secretboxOpen(key [32]byte, ciphertext []byte) ([]byte, bool) {
	if len(ciphertext) < 24 {
		return nil, false
	}
	var nonce [24]byte
	copy(nonce[:], ciphertext[:24])
	return secretbox.Open(nil, ciphertext[24:], &nonce, &key)
}
