// Package e2e implements the end-to-end cryptography core of SPEC_FULL.md
// §4.7: Olm account bootstrap, canonical-JSON signing, one-time-key
// replenishment, and inbound device-to-device Olm decryption, plus the
// Megolm inbound-session index.
package e2e

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/matrix-org/matrix-sync-core/internal/canonicaljson"
	"github.com/matrix-org/matrix-sync-core/pkg/e2e/olm"
	"github.com/matrix-org/matrix-sync-core/pkg/e2e/sessionstore"
	"github.com/matrix-org/matrix-sync-core/pkg/hsapi"
	"github.com/matrix-org/matrix-sync-core/pkg/matrixclient"
)

const (
	algOlm    = "m.olm.curve25519-aes-sha256"
	algMegolm = "m.megolm.v1.aes-sha"
)

// megolmSessionKey is spec.md §4.7's "(sender_curve25519_key,
// sender_user_id, session_id, device_id)".
type megolmSessionKey struct {
	SenderCurve25519 string
	SenderUserID     string
	SessionID        string
	DeviceID         string
}

// Core owns the device's Olm account and the connection-scoped Megolm
// inbound-session index. It is constructed once per (user_id, device_id)
// and wired into syncengine.Connection via the e2eBootstrap hook.
type Core struct {
	UserID   string
	DeviceID string
	Server   string

	account  *olm.Account
	creds    matrixclient.CredentialStore
	client   *hsapi.Client
	connInfo func() hsapi.ConnectionInfo
	logger   *logrus.Entry

	// sessionDataDir is the account data directory spec.md §4.7 step 3
	// opens per-(user_id, host_username) session databases inside. Empty
	// disables session persistence (sessions live only in olmSessions for
	// the process lifetime), which is fine for tests and for a first boot
	// before any peer has exchanged keys.
	sessionDataDir string
	sessionStores  map[string]*sessionstore.Store // keyed by peer (host) user id

	inboundSessions map[megolmSessionKey]struct{} // presence only; session material is opaque to this spec
	olmSessions     map[string]*olm.Session       // keyed by sender curve25519 pubkey, single-session-per-peer simplification

	// maxOneTimeKeys overrides olm.DefaultMaxOneTimeKeys (Config.E2E) for
	// accounts generated by this Core. Zero keeps the package default; it
	// has no effect on an account already restored from the credential
	// store, which carries its own persisted MaxOneTimeKeys.
	maxOneTimeKeys int
}

// SetMaxOneTimeKeys overrides the one-time-key pool target (Config.E2E) for
// a freshly generated account. Call before Bootstrap; it is a no-op once an
// account already exists (generated or restored).
func (c *Core) SetMaxOneTimeKeys(n int) {
	c.maxOneTimeKeys = n
}

// New constructs a Core. It does not yet perform bootstrap; call Bootstrap
// to restore-or-create the account and upload device keys. sessionDataDir
// is the account data directory spec.md §4.7 step 3 opens per-peer SQLite
// session databases inside; pass "" to keep sessions in memory only.
func New(userID, deviceID, server, sessionDataDir string, creds matrixclient.CredentialStore, client *hsapi.Client, connInfo func() hsapi.ConnectionInfo, logger *logrus.Entry) *Core {
	return &Core{
		UserID:          userID,
		DeviceID:        deviceID,
		Server:          server,
		sessionDataDir:  sessionDataDir,
		sessionStores:   make(map[string]*sessionstore.Store),
		creds:           creds,
		client:          client,
		connInfo:        connInfo,
		logger:          logger,
		inboundSessions: make(map[megolmSessionKey]struct{}),
		olmSessions:     make(map[string]*olm.Session),
	}
}

// sessionStoreFor lazily opens (or returns the cached) per-peer session
// database for hostUsername, or nil if session persistence is disabled.
func (c *Core) sessionStoreFor(hostUsername string) (*sessionstore.Store, error) {
	if c.sessionDataDir == "" {
		return nil, nil
	}
	if s, ok := c.sessionStores[hostUsername]; ok {
		return s, nil
	}
	s, err := sessionstore.Open(c.sessionDataDir, c.UserID, hostUsername)
	if err != nil {
		return nil, err
	}
	c.sessionStores[hostUsername] = s
	return s, nil
}

// LoadSessions restores in-memory Olm sessions for hostUsername from that
// peer's session database, so EstablishInboundSession doesn't need to be
// called again on every process restart.
func (c *Core) LoadSessions(ctx context.Context, hostUsername string) error {
	store, err := c.sessionStoreFor(hostUsername)
	if err != nil {
		return fmt.Errorf("e2e: open session store for %q: %w", hostUsername, err)
	}
	if store == nil {
		return nil
	}
	rows, err := store.All(ctx)
	if err != nil {
		return fmt.Errorf("e2e: load sessions for %q: %w", hostUsername, err)
	}
	for identityKeyB64, sessionKeyB64 := range rows {
		keyBytes, err := base64.StdEncoding.DecodeString(sessionKeyB64)
		if err != nil || len(keyBytes) != 32 {
			c.logger.WithField("identity_key", identityKeyB64).Warn("e2e: dropping corrupt persisted session")
			continue
		}
		var key [32]byte
		copy(key[:], keyBytes)
		c.olmSessions[identityKeyB64] = olm.RestoreSession(key)
	}
	return nil
}

// CloseSessionStores releases every per-peer session database this Core
// has opened.
func (c *Core) CloseSessionStores() {
	for _, s := range c.sessionStores {
		s.Close()
	}
}

// Bootstrap implements spec.md §4.7's account-bootstrap sequence: restore a
// persisted pickle if one matches this device/server, else generate a fresh
// account, then construct, sign, and upload device keys.
func (c *Core) Bootstrap(onError func(err error)) {
	if rec, ok := c.creds.GetOlmAccountPickle(); ok {
		if rec.DeviceID != c.DeviceID || rec.Server != c.Server {
			onError(fmt.Errorf("e2e: stored olm account is for device %q/%q, not %q/%q", rec.DeviceID, rec.Server, c.DeviceID, c.Server))
			return
		}
		acct, err := unpickle(rec.Pickle)
		if err != nil {
			onError(fmt.Errorf("e2e: restore olm account: %w", err))
			return
		}
		c.account = acct
	} else {
		acct, err := olm.NewAccount()
		if err != nil {
			onError(fmt.Errorf("e2e: generate olm account: %w", err))
			return
		}
		if c.maxOneTimeKeys > 0 {
			acct.MaxOneTimeKeys = c.maxOneTimeKeys
		}
		c.account = acct
		c.persistAccount()
	}

	c.uploadDeviceKeys(onError)
}

func (c *Core) persistAccount() {
	c.creds.SetOlmAccountPickle(matrixclient.OlmAccountRecord{
		DeviceID: c.DeviceID,
		Server:   c.Server,
		Pickle:   pickle(c.account),
	})
}

// uploadDeviceKeys implements spec.md §4.7 step 4.
func (c *Core) uploadDeviceKeys(onError func(err error)) {
	deviceKeys := map[string]interface{}{
		"user_id":    c.UserID,
		"device_id":  c.DeviceID,
		"algorithms": []interface{}{algOlm, algMegolm},
		"keys": map[string]interface{}{
			fmt.Sprintf("curve25519:%s", c.DeviceID): base64.RawStdEncoding.EncodeToString(c.account.Curve25519Public[:]),
			fmt.Sprintf("ed25519:%s", c.DeviceID):     base64.RawStdEncoding.EncodeToString(c.account.Ed25519Public),
		},
	}
	c.Sign(deviceKeys)

	c.client.UploadKeys(noCtx(), c.connInfo(), deviceKeys, nil,
		func(res hsapi.UploadKeysResult) {
			c.ReplenishOneTimeKeys(res.OneTimeKeyCounts, onError)
		},
		func(terr *hsapi.TransportError) { onError(terr) },
		func(berr *hsapi.BadResponseError, body []byte) { onError(berr) },
	)
}

// Sign implements spec.md §4.7's signing procedure: canonicalize, sign with
// the account's ed25519 key, and insert
// signatures[user_id]["ed25519:<device_id>"].
func (c *Core) Sign(obj map[string]interface{}) {
	stripped := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		if k == "signatures" {
			continue
		}
		stripped[k] = v
	}
	canonical, err := canonicaljson.Marshal(stripped)
	if err != nil {
		c.logger.WithError(err).Warn("e2e: failed to canonicalize object for signing")
		return
	}
	sig := c.account.Sign(canonical)

	sigs, _ := obj["signatures"].(map[string]interface{})
	if sigs == nil {
		sigs = make(map[string]interface{})
	}
	userSigs, _ := sigs[c.UserID].(map[string]interface{})
	if userSigs == nil {
		userSigs = make(map[string]interface{})
	}
	userSigs[fmt.Sprintf("ed25519:%s", c.DeviceID)] = sig
	sigs[c.UserID] = userSigs
	obj["signatures"] = sigs
}

// ReplenishOneTimeKeys implements spec.md §4.7's one-time-key replenishment
// rule: if any algorithm's count is below max/2, or counts are missing
// entirely, generate and upload max/2 - count (or max, with no counts at
// all) fresh signed one-time keys.
func (c *Core) ReplenishOneTimeKeys(counts map[string]int, onError func(err error)) {
	max := c.account.MaxOneTimeKeys
	target := max / 2

	current, ok := counts["signed_curve25519"]
	needed := target
	if ok {
		if current >= target {
			return
		}
		needed = target - current
	} else if len(counts) > 0 {
		// Counts object present but missing our algorithm: treat as zero.
		needed = target
	} else {
		needed = max
	}

	ids, err := c.account.GenerateOneTimeKeys(needed)
	if err != nil {
		onError(fmt.Errorf("e2e: generate one-time keys: %w", err))
		return
	}

	signed := make(map[string]interface{}, len(ids))
	for _, id := range ids {
		pub, _ := c.account.OneTimeKeyPublic(id)
		keyObj := map[string]interface{}{"key": pub}
		c.Sign(keyObj)
		signed[fmt.Sprintf("signed_curve25519:%s", id)] = keyObj
	}

	c.client.UploadKeys(noCtx(), c.connInfo(), nil, signed,
		func(res hsapi.UploadKeysResult) {
			for _, id := range ids {
				c.account.MarkPublished(id)
			}
			c.persistAccount()
		},
		func(terr *hsapi.TransportError) {
			c.logger.WithError(terr).Warn("e2e: one-time key upload failed (transport)")
		},
		func(berr *hsapi.BadResponseError, body []byte) {
			c.logger.WithError(berr).Warn("e2e: one-time key upload failed (bad response)")
		},
	)
}

// DecryptToDevice implements spec.md §4.7's inbound device-to-device
// decryption for an m.room.encrypted to-device event. Returns the decrypted
// m.room_key plaintext object when recognized, or nil when the event was
// dropped (validation failures are never surfaced as errors; some of them
// are logged at debug).
func (c *Core) DecryptToDevice(ev gjson.Result) map[string]interface{} {
	content := ev.Get("content")
	if content.Get("algorithm").String() != algOlm {
		return nil
	}
	senderUserID := ev.Get("sender").String()
	senderCurve25519 := content.Get("sender_key").String()
	ourKey := base64.RawStdEncoding.EncodeToString(c.account.Curve25519Public[:])
	ciphertext := content.Get("ciphertext." + gjsonEscape(ourKey))
	if !ciphertext.Exists() {
		return nil
	}

	msgType := olm.MessageType(ciphertext.Get("type").Int())
	body := ciphertext.Get("body").String()

	session, ok := c.olmSessions[senderCurve25519]
	if !ok {
		if msgType != olm.MessageTypePrekey {
			c.logger.Debug("e2e: normal-message olm ciphertext with no existing session, dropping")
			return nil
		}
		// spec.md §4.7 step 3: "create an inbound Olm session from our
		// account and the sender's curve25519 key and the message body."
		// This implementation's prekey envelope carries the sender's
		// ephemeral key and the one-time-key id it used alongside type/body
		// (our own wire convention, since pkg/e2e/olm is a fresh
		// non-libolm-wire-compatible implementation, not a libolm pickle).
		newSession, ok := c.establishFromPrekey(senderUserID, senderCurve25519, ciphertext)
		if !ok {
			return nil
		}
		session = newSession
	}

	plaintext, ok := session.Decrypt(body)
	if !ok {
		c.logger.Debug("e2e: olm decrypt failed, dropping")
		return nil
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(plaintext, &obj); err != nil {
		c.logger.WithError(err).Debug("e2e: olm plaintext not valid JSON, dropping")
		return nil
	}

	if obj["sender"] != senderUserID {
		return nil
	}
	if obj["recipient"] != c.UserID {
		return nil
	}
	recipientKeys, _ := obj["recipient_keys"].(map[string]interface{})
	if recipientKeys == nil || recipientKeys["ed25519"] != base64.RawStdEncoding.EncodeToString(c.account.Ed25519Public) {
		return nil
	}

	if obj["type"] != "m.room_key" {
		c.logger.WithField("type", obj["type"]).Debug("e2e: unrecognized olm payload type")
		return nil
	}
	return obj
}

// establishFromPrekey implements spec.md §4.7 step 3 for a first-contact
// peer: it derives a new inbound Olm session from our account, the sender's
// curve25519 identity key, and the prekey envelope's ephemeral key and
// one-time-key id, consumes the one-time key, and registers the session the
// same way EstablishInboundSession does for one supplied out of band.
func (c *Core) establishFromPrekey(senderUserID, senderCurve25519 string, ciphertext gjson.Result) (*olm.Session, bool) {
	ephemeralB64 := ciphertext.Get("sender_ephemeral_key").String()
	otkID := ciphertext.Get("one_time_key_id").String()
	if senderCurve25519 == "" || ephemeralB64 == "" || otkID == "" {
		c.logger.Debug("e2e: prekey message missing sender/ephemeral key or one-time-key id, dropping")
		return nil, false
	}

	senderKey, err := decodeCurve25519Key(senderCurve25519)
	if err != nil {
		c.logger.WithError(err).Debug("e2e: prekey message has malformed sender key, dropping")
		return nil, false
	}
	ephemeralKey, err := decodeCurve25519Key(ephemeralB64)
	if err != nil {
		c.logger.WithError(err).Debug("e2e: prekey message has malformed ephemeral key, dropping")
		return nil, false
	}

	session, err := olm.CreateInboundSession(c.account, senderKey, ephemeralKey, otkID)
	if err != nil {
		c.logger.WithError(err).Debug("e2e: could not establish inbound olm session, dropping")
		return nil, false
	}
	c.account.RemoveOneTimeKey(otkID)
	c.persistAccount()
	c.EstablishInboundSession(senderUserID, senderCurve25519, session)
	return session, true
}

// decodeCurve25519Key decodes an unpadded-base64 curve25519 key, the same
// encoding c.account's own published keys use.
func decodeCurve25519Key(b64 string) ([32]byte, error) {
	var key [32]byte
	raw, err := base64.RawStdEncoding.DecodeString(b64)
	if err != nil {
		return key, err
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("e2e: curve25519 key has length %d, want 32", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// EstablishInboundSession registers a session for a sender identity key and
// persists it to that peer's session database (spec.md §4.7 step 3), used
// once the prekey handshake's ephemeral key and one-time key id have been
// extracted by the caller (kept as a separate entry point so
// DecryptToDevice's JSON-shape parsing stays independent of the session
// math in pkg/e2e/olm).
func (c *Core) EstablishInboundSession(hostUsername, senderCurve25519 string, session *olm.Session) {
	c.olmSessions[senderCurve25519] = session

	store, err := c.sessionStoreFor(hostUsername)
	if err != nil {
		c.logger.WithError(err).Warn("e2e: could not open session store, session will not survive a restart")
		return
	}
	if store == nil {
		return
	}
	key := session.Key()
	if err := store.Put(noCtx(), senderCurve25519, base64.StdEncoding.EncodeToString(key[:]), 0); err != nil {
		c.logger.WithError(err).Warn("e2e: failed to persist olm session")
	}
}

// RecordInboundMegolmSession implements spec.md §4.7's Megolm
// inbound-session index: this defines the table and the key only; timeline
// decryption is out of scope.
func (c *Core) RecordInboundMegolmSession(senderCurve25519, senderUserID, sessionID, deviceID string) {
	c.inboundSessions[megolmSessionKey{senderCurve25519, senderUserID, sessionID, deviceID}] = struct{}{}
}

// HasInboundMegolmSession reports whether a session has been recorded for
// the given key.
func (c *Core) HasInboundMegolmSession(senderCurve25519, senderUserID, sessionID, deviceID string) bool {
	_, ok := c.inboundSessions[megolmSessionKey{senderCurve25519, senderUserID, sessionID, deviceID}]
	return ok
}

// HandleSync implements spec.md §4.7's "on every /sync response" routing:
// device_one_time_keys_count feeds ReplenishOneTimeKeys, and every
// to_device event is decrypted; a recognized m.room_key payload is recorded
// in the Megolm inbound-session index. Called before timeline dispatch for
// the same batch, per spec.md §4.5's ordering rule.
func (c *Core) HandleSync(root gjson.Result, onError func(err error)) {
	counts := make(map[string]int)
	root.Get("device_one_time_keys_count").ForEach(func(alg, n gjson.Result) bool {
		counts[alg.String()] = int(n.Int())
		return true
	})
	c.ReplenishOneTimeKeys(counts, onError)

	root.Get("to_device.events").ForEach(func(_, ev gjson.Result) bool {
		obj := c.DecryptToDevice(ev)
		if obj == nil {
			return true
		}
		sessionID, _ := obj["session_id"].(string)
		if sessionID == "" {
			return true
		}
		senderCurve25519 := ev.Get("content.sender_key").String()
		c.RecordInboundMegolmSession(senderCurve25519, ev.Get("sender").String(), sessionID, c.DeviceID)
		return true
	})
}

// noCtx is used for the few API calls this core issues outside the sync
// loop's own request context (key upload can legitimately outlive one sync
// cycle). A future revision may thread a connection-scoped context through
// instead.
func noCtx() context.Context { return context.Background() }

func gjsonEscape(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			out = append(out, '\\')
		}
		out = append(out, key[i])
	}
	return string(out)
}
