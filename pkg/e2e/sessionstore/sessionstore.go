// Package sessionstore implements spec.md §4.7 step 3's "per-(user_id,
// host_username) SQLite database in the account data directory for session
// material": one SQLite file per remote homeserver user this device has an
// Olm session with, holding that peer's session keys.
//
// Grounded on dendrite's storage/sqlite3 table style (a schema string
// executed once, SQL statements as package-level consts, thin statement
// wrappers around *sql.DB) — e.g. syncapi/storage/sqlite3's table files —
// adapted from Postgres/SQLite dual-backend tables down to SQLite-only,
// since spec.md names `mattn/go-sqlite3` specifically for this database
// (unlike the credential store, which spec.md leaves backend-agnostic).
package sessionstore

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"regexp"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS olm_sessions (
	identity_key TEXT NOT NULL PRIMARY KEY,
	session_key TEXT NOT NULL,
	updated_at_ms BIGINT NOT NULL
);`

const upsertSessionSQL = `
INSERT INTO olm_sessions (identity_key, session_key, updated_at_ms)
VALUES ($1, $2, $3)
ON CONFLICT (identity_key) DO UPDATE SET session_key = $2, updated_at_ms = $3`

const selectSessionSQL = `
SELECT session_key FROM olm_sessions WHERE identity_key = $1`

const selectAllSessionsSQL = `
SELECT identity_key, session_key FROM olm_sessions`

const deleteSessionSQL = `
DELETE FROM olm_sessions WHERE identity_key = $1`

// Store is one (user_id, host_username) pair's session-material database.
type Store struct {
	db *sql.DB

	upsertSession    *sql.Stmt
	selectSession    *sql.Stmt
	selectAllSession *sql.Stmt
	deleteSession    *sql.Stmt
}

// sanitizeRe matches runs of anything but filename-safe characters, which
// FileName replaces with '_'; in particular this covers ':' and '@' (both
// common in Matrix user IDs), since ':' is not a
// legal path character on Windows and this module supports a Windows
// service target (cmd/matrix-sync-core's kardianos/minwinsvc wiring).
var sanitizeRe = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// FileName returns the deterministic database file name for a
// (user_id, host_username) pair, relative to an account data directory.
func FileName(userID, hostUsername string) string {
	return fmt.Sprintf("olm-sessions-%s-%s.db", sanitizeRe.ReplaceAllString(userID, "_"), sanitizeRe.ReplaceAllString(hostUsername, "_"))
}

// Open opens (creating if necessary) the session-material database for one
// (user_id, host_username) pair inside dataDir.
func Open(dataDir, userID, hostUsername string) (*Store, error) {
	path := filepath.Join(dataDir, FileName(userID, hostUsername))
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sessionstore: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 single-writer; avoid SQLITE_BUSY from this process alone

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessionstore: create schema: %w", err)
	}

	s := &Store{db: db}
	for _, stmt := range []struct {
		dst **sql.Stmt
		sql string
	}{
		{&s.upsertSession, upsertSessionSQL},
		{&s.selectSession, selectSessionSQL},
		{&s.selectAllSession, selectAllSessionsSQL},
		{&s.deleteSession, deleteSessionSQL},
	} {
		prepared, err := db.Prepare(stmt.sql)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("sessionstore: prepare statement: %w", err)
		}
		*stmt.dst = prepared
	}
	return s, nil
}

// Put upserts session material for one peer identity key.
func (s *Store) Put(ctx context.Context, identityKeyB64, sessionKeyB64 string, updatedAtMs int64) error {
	_, err := s.upsertSession.ExecContext(ctx, identityKeyB64, sessionKeyB64, updatedAtMs)
	return err
}

// Get loads session material for one peer identity key.
func (s *Store) Get(ctx context.Context, identityKeyB64 string) (sessionKeyB64 string, ok bool, err error) {
	err = s.selectSession.QueryRowContext(ctx, identityKeyB64).Scan(&sessionKeyB64)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return sessionKeyB64, true, nil
}

// All loads every persisted session, keyed by peer identity key, for
// restoring Core.olmSessions on startup.
func (s *Store) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.selectAllSession.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var identityKey, sessionKey string
		if err := rows.Scan(&identityKey, &sessionKey); err != nil {
			return nil, err
		}
		out[identityKey] = sessionKey
	}
	return out, rows.Err()
}

// Delete removes session material for one peer identity key.
func (s *Store) Delete(ctx context.Context, identityKeyB64 string) error {
	_, err := s.deleteSession.ExecContext(ctx, identityKeyB64)
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
