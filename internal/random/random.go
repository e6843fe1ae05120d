// Package random provides the cryptographic randomness collaborator used by
// one-time-key generation and Olm account creation (spec.md §4.8).
package random

import (
	"crypto/rand"
	"io"

	"github.com/pkg/errors"
)

// Source returns N cryptographically random bytes, or fails.
type Source interface {
	Bytes(n int) ([]byte, error)
}

// System is the production Source backed by crypto/rand.
type System struct{}

func (System) Bytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, errors.Wrap(err, "random: failed to read from crypto/rand")
	}
	return buf, nil
}
