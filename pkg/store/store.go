// Package store provides a reference matrixclient.CredentialStore for
// cmd/matrix-sync-core's demo harness (spec.md §4.8), not for production
// embedding — a real host application is expected to supply its own
// CredentialStore backed by whatever secure storage it already has.
//
// Open dispatches on the connection string's scheme, the same way
// dendrite's setup/config lets each API choose a postgres or sqlite3
// storage backend from one DSN-shaped string.
package store

import (
	"fmt"
	"strings"

	"github.com/matrix-org/matrix-sync-core/pkg/matrixclient"
	"github.com/matrix-org/matrix-sync-core/pkg/store/postgres"
	"github.com/matrix-org/matrix-sync-core/pkg/store/sqlite3"
)

// Database is the reference CredentialStore, with the store-specific
// setters (SetSkipOldMessages, SetHomeServer) both backends expose beyond
// the matrixclient.CredentialStore interface, for first-run bootstrap.
type Database interface {
	matrixclient.CredentialStore
	SetSkipOldMessages(skip bool)
	SetHomeServer(homeServer string)
	Close() error
}

// Open opens a Database from a connection string: "postgres://..."/
// "postgresql://..." selects the shared-Postgres backend (accountID scopes
// rows within it); anything else is treated as a SQLite file path.
func Open(dsn, accountID string) (Database, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err := postgres.NewDatabase(dsn, accountID)
		if err != nil {
			return nil, fmt.Errorf("store: open postgres backend: %w", err)
		}
		return db, nil
	}
	db, err := sqlite3.NewDatabase(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite3 backend: %w", err)
	}
	return db, nil
}
