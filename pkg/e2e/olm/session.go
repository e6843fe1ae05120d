package olm

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
)

// MessageType mirrors spec.md §4.7 step 2: "Read type (0 = prekey, 1 =
// normal message)".
type MessageType int

const (
	MessageTypePrekey MessageType = 0
	MessageTypeNormal MessageType = 1
)

// Session is one pairwise Olm session, holding the derived secretbox key.
// Sessions in this simplified model are symmetric: both directions share
// one key, not libolm's fully asymmetric sending/receiving ratchets.
type Session struct {
	key [32]byte
}

// Message is a ciphertext envelope as delivered in
// to_device.m.room.encrypted.ciphertext[<our key>].
type Message struct {
	Type MessageType
	Body string // base64
}

// CreateOutboundSession establishes a session as the initiator, given the
// account's own identity key and the recipient's identity + one-time keys
// (as would be fetched via /keys/claim in a full implementation; this spec
// scopes outbound Megolm and peer key-claim flows out, so the caller
// supplies the peer's published keys directly).
func CreateOutboundSession(account *Account, peerIdentityKey, peerOneTimeKey [32]byte) (*Session, []byte, error) {
	var ephemeralPriv [32]byte
	if _, err := io.ReadFull(rand.Reader, ephemeralPriv[:]); err != nil {
		return nil, nil, err
	}
	ephemeralPriv[0] &= 248
	ephemeralPriv[31] &= 127
	ephemeralPriv[31] |= 64
	var ephemeralPub [32]byte
	curve25519.ScalarBaseMult(&ephemeralPub, &ephemeralPriv)

	var dh1, dh2 [32]byte
	curve25519.ScalarMult(&dh1, &account.curve25519Private, &peerOneTimeKey)
	curve25519.ScalarMult(&dh2, &ephemeralPriv, &peerIdentityKey)

	key, err := deriveSharedSecret(dh1, dh2, "matrix-sync-core-olm")
	if err != nil {
		return nil, nil, err
	}
	return &Session{key: key}, ephemeralPub[:], nil
}

// CreateInboundSession establishes a session as the responder, per spec.md
// §4.7 step 3: "create an inbound Olm session from our account and the
// sender's curve25519 key and the message body." oneTimeKeyID identifies
// which of our one-time keys the initiator used; the caller is responsible
// for calling account.RemoveOneTimeKey afterward per step 3.
func CreateInboundSession(account *Account, senderIdentityKey [32]byte, senderEphemeralKey [32]byte, oneTimeKeyID string) (*Session, error) {
	otkPriv, ok := account.oneTimeKeyPrivate(oneTimeKeyID)
	if !ok {
		return nil, fmt.Errorf("olm: unknown one-time key %q", oneTimeKeyID)
	}
	var dh1, dh2 [32]byte
	curve25519.ScalarMult(&dh1, &otkPriv, &senderIdentityKey)
	curve25519.ScalarMult(&dh2, &account.curve25519Private, &senderEphemeralKey)

	key, err := deriveSharedSecret(dh1, dh2, "matrix-sync-core-olm")
	if err != nil {
		return nil, err
	}
	return &Session{key: key}, nil
}

// Encrypt seals plaintext for sending as a to-device ciphertext body.
func (s *Session) Encrypt(plaintext []byte) (string, error) {
	ct, err := secretboxSeal(s.key, plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt opens a received ciphertext body. Returns ok=false on
// authentication failure (corrupt or foreign-key ciphertext), matching
// spec.md §4.7's "drop" behaviour on any validation failure.
func (s *Session) Decrypt(body string) (plaintext []byte, ok bool) {
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, false
	}
	return secretboxOpen(s.key, raw)
}

// Key exposes the session's raw secretbox key, for persistence into
// pkg/e2e/sessionstore. Not for use outside that persistence boundary.
func (s *Session) Key() [32]byte { return s.key }

// RestoreSession reconstructs a Session from a persisted key, skipping the
// X3DH derivation entirely.
func RestoreSession(key [32]byte) *Session { return &Session{key: key} }
