// Package sqlite3 is the SQLite backend of pkg/store's reference
// matrixclient.CredentialStore, for the cmd/matrix-sync-core demo harness
// (spec.md §4.8: "a reference in-memory/SQLite implementation ... for the
// demo harness, not for production embedding").
//
// Grounded on dendrite's per-backend storage package layout (e.g.
// mediaapi/storage/sqlite3, syncapi/storage/sqlite3): a schema string run
// once, SQL as package-level consts, and a thin *sql.DB-holding struct —
// using modernc.org/sqlite rather than mattn/go-sqlite3 so this package,
// and therefore the demo binary that depends on it, doesn't require cgo.
package sqlite3

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/matrix-org/matrix-sync-core/pkg/matrixclient"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	key TEXT NOT NULL PRIMARY KEY,
	value TEXT NOT NULL
);`

const upsertSQL = `INSERT INTO credentials (key, value) VALUES (?, ?)
	ON CONFLICT (key) DO UPDATE SET value = excluded.value`
const selectSQL = `SELECT value FROM credentials WHERE key = ?`

// Database is a modernc.org/sqlite-backed matrixclient.CredentialStore.
type Database struct {
	db     *sql.DB
	upsert *sql.Stmt
	selectStmt *sql.Stmt
}

// NewDatabase opens (creating if necessary) a credential store at path.
func NewDatabase(path string) (*Database, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store/sqlite3: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store/sqlite3: create schema: %w", err)
	}
	upsert, err := db.Prepare(upsertSQL)
	if err != nil {
		db.Close()
		return nil, err
	}
	sel, err := db.Prepare(selectSQL)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Database{db: db, upsert: upsert, selectStmt: sel}, nil
}

func (d *Database) set(key, value string) {
	// CredentialStore's setters are synchronous and errorless by contract
	// (matrixclient.CredentialStore mirrors an in-memory map); a failed
	// write here is dropped silently, and the next read returns whatever
	// was stored before (or nothing), rather than changing that contract
	// for one backend.
	if _, err := d.upsert.ExecContext(context.Background(), key, value); err != nil {
		_ = err
	}
}

func (d *Database) get(key string) (string, bool) {
	var value string
	err := d.selectStmt.QueryRowContext(context.Background(), key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false
	}
	if err != nil {
		return "", false
	}
	return value, true
}

func (d *Database) GetAccessToken() (string, bool) { return d.get("access_token") }
func (d *Database) SetAccessToken(token string)     { d.set("access_token", token) }
func (d *Database) GetDeviceID() (string, bool)     { return d.get("device_id") }
func (d *Database) SetDeviceID(deviceID string)      { d.set("device_id", deviceID) }
func (d *Database) GetNextBatch() (string, bool)    { return d.get("next_batch") }
func (d *Database) SetNextBatch(token string)        { d.set("next_batch", token) }

func (d *Database) GetOlmAccountPickle() (matrixclient.OlmAccountRecord, bool) {
	deviceID, ok := d.get("olm_device_id")
	if !ok {
		return matrixclient.OlmAccountRecord{}, false
	}
	server, _ := d.get("olm_server")
	pickle, _ := d.get("olm_pickle")
	return matrixclient.OlmAccountRecord{DeviceID: deviceID, Server: server, Pickle: pickle}, true
}

func (d *Database) SetOlmAccountPickle(rec matrixclient.OlmAccountRecord) {
	d.set("olm_device_id", rec.DeviceID)
	d.set("olm_server", rec.Server)
	d.set("olm_pickle", rec.Pickle)
}

func (d *Database) GetSkipOldMessages() bool {
	v, ok := d.get("skip_old_messages")
	return ok && v == "true"
}

func (d *Database) GetHomeServer(defaultValue string) string {
	v, ok := d.get("home_server")
	if !ok || v == "" {
		return defaultValue
	}
	return v
}

// SetSkipOldMessages and SetHomeServer are store-specific setters beyond
// the CredentialStore contract, used by cmd/matrix-sync-core's first-run
// bootstrap to persist the user's initial choices.
func (d *Database) SetSkipOldMessages(skip bool) {
	if skip {
		d.set("skip_old_messages", "true")
	} else {
		d.set("skip_old_messages", "false")
	}
}

func (d *Database) SetHomeServer(homeServer string) { d.set("home_server", homeServer) }

// Close releases the underlying database handle.
func (d *Database) Close() error { return d.db.Close() }
