package e2e

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"github.com/matrix-org/matrix-sync-core/pkg/e2e/olm"
)

// pickledAccount is the JSON shape persisted, base64-encoded, inside
// matrixclient.OlmAccountRecord.Pickle. Real libolm pickles are encrypted
// with a passphrase-derived key; this module's CredentialStore is already
// assumed to be a secure-at-rest collaborator (spec.md §4.8), so the pickle
// here is unencrypted JSON of the account's private key material rather than a
// second layer of encryption the spec does not otherwise call for.
type pickledAccount struct {
	Ed25519Private    string `json:"ed25519_private"`
	Curve25519Private string `json:"curve25519_private"`
	MaxOneTimeKeys    int    `json:"max_one_time_keys"`
}

func pickle(a *olm.Account) string {
	p := pickledAccount{
		Ed25519Private: base64.StdEncoding.EncodeToString(a.PrivateEd25519()),
		Curve25519Private: base64.StdEncoding.EncodeToString(a.PrivateCurve25519()),
		MaxOneTimeKeys: a.MaxOneTimeKeys,
	}
	raw, err := json.Marshal(p)
	if err != nil {
		// Marshalling a struct of strings and an int cannot fail.
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func unpickle(s string) (*olm.Account, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("e2e: decode pickle: %w", err)
	}
	var p pickledAccount
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("e2e: unmarshal pickle: %w", err)
	}
	edPriv, err := base64.StdEncoding.DecodeString(p.Ed25519Private)
	if err != nil || len(edPriv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("e2e: invalid ed25519 private key in pickle")
	}
	curvePrivRaw, err := base64.StdEncoding.DecodeString(p.Curve25519Private)
	if err != nil || len(curvePrivRaw) != 32 {
		return nil, fmt.Errorf("e2e: invalid curve25519 private key in pickle")
	}
	var curvePriv [32]byte
	copy(curvePriv[:], curvePrivRaw)
	var curvePub [32]byte
	curve25519.ScalarBaseMult(&curvePub, &curvePriv)

	return olm.RestoreAccount(ed25519.PrivateKey(edPriv), curvePriv, curvePub, p.MaxOneTimeKeys), nil
}
