package sqlite3

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrix-org/matrix-sync-core/pkg/matrixclient"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	db, err := NewDatabase(filepath.Join(t.TempDir(), "creds.db"))
	require.NoError(t, err)
	defer db.Close()

	_, ok := db.GetAccessToken()
	assert.False(t, ok)

	db.SetAccessToken("tok123")
	got, ok := db.GetAccessToken()
	assert.True(t, ok)
	assert.Equal(t, "tok123", got)
}

func TestOlmAccountPickleRoundTrip(t *testing.T) {
	db, err := NewDatabase(filepath.Join(t.TempDir(), "creds.db"))
	require.NoError(t, err)
	defer db.Close()

	_, ok := db.GetOlmAccountPickle()
	assert.False(t, ok)

	rec := matrixclient.OlmAccountRecord{DeviceID: "DEV1", Server: "example.org", Pickle: "cGlja2xl"}
	db.SetOlmAccountPickle(rec)

	got, ok := db.GetOlmAccountPickle()
	require.True(t, ok)
	assert.Equal(t, rec, got)
}

func TestHomeServerFallsBackToDefault(t *testing.T) {
	db, err := NewDatabase(filepath.Join(t.TempDir(), "creds.db"))
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, "matrix.org", db.GetHomeServer("matrix.org"))
	db.SetHomeServer("example.org")
	assert.Equal(t, "example.org", db.GetHomeServer("matrix.org"))
}

func TestSkipOldMessagesDefaultsFalse(t *testing.T) {
	db, err := NewDatabase(filepath.Join(t.TempDir(), "creds.db"))
	require.NoError(t, err)
	defer db.Close()

	assert.False(t, db.GetSkipOldMessages())
	db.SetSkipOldMessages(true)
	assert.True(t, db.GetSkipOldMessages())
}
