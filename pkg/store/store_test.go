package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrix-org/matrix-sync-core/pkg/matrixclient"
	"github.com/matrix-org/matrix-sync-core/pkg/store/postgres"
	"github.com/matrix-org/matrix-sync-core/pkg/store/sqlite3"
)

// Compile-time checks that both backends satisfy the full Database
// contract (matrixclient.CredentialStore plus the demo-harness setters).
var (
	_ matrixclient.CredentialStore = (*sqlite3.Database)(nil)
	_ matrixclient.CredentialStore = (*postgres.Database)(nil)
	_ Database                     = (*sqlite3.Database)(nil)
	_ Database                     = (*postgres.Database)(nil)
)

func TestOpenDispatchesToSQLiteForNonPostgresDSN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.db")
	db, err := Open(path, "@me:example.org")
	require.NoError(t, err)
	defer db.Close()

	db.SetAccessToken("abc")
	got, ok := db.GetAccessToken()
	assert.True(t, ok)
	assert.Equal(t, "abc", got)
}
