// Package postgres is the optional shared-Postgres backend of pkg/store's
// reference matrixclient.CredentialStore, for deployments that run many
// connections against one Postgres instance — spec.md §4.8's
// "puppeting/bridge-style multi-account hosting" case, mirroring dendrite's
// own postgres/sqlite3 dual-backend storage layout.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/matrix-org/matrix-sync-core/pkg/matrixclient"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	account_id TEXT NOT NULL,
	key TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (account_id, key)
);`

const upsertSQL = `INSERT INTO credentials (account_id, key, value) VALUES ($1, $2, $3)
	ON CONFLICT (account_id, key) DO UPDATE SET value = $3`
const selectSQL = `SELECT value FROM credentials WHERE account_id = $1 AND key = $2`

// Database is a lib/pq-backed matrixclient.CredentialStore, scoped to one
// accountID within a shared Postgres instance so many demo connections can
// share a single database.
type Database struct {
	db         *sql.DB
	accountID  string
	upsert     *sql.Stmt
	selectStmt *sql.Stmt
}

// NewDatabase opens a shared Postgres connection and scopes all operations
// to accountID (e.g. the Matrix user id this connection logs in as).
func NewDatabase(dsn, accountID string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store/postgres: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store/postgres: create schema: %w", err)
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
	return &Database{db: db, accountID: accountID, upsert: upsert, selectStmt: sel}, nil
}

func (d *Database) set(key, value string) {
	if _, err := d.upsert.ExecContext(context.Background(), d.accountID, key, value); err != nil {
		_ = err // see sqlite3.Database.set: setters keep CredentialStore's errorless contract
	}
}

func (d *Database) get(key string) (string, bool) {
	var value string
	err := d.selectStmt.QueryRowContext(context.Background(), d.accountID, key).Scan(&value)
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
