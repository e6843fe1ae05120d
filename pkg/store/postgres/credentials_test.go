package postgres

import (
	"database/sql"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrix-org/matrix-sync-core/pkg/matrixclient"
)

// newTestDatabase wires a Database straight to a sqlmock connection, bypassing
// NewDatabase's sql.Open("postgres", ...) so these tests never need a real
// Postgres instance.
func newTestDatabase(t *testing.T) (*Database, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectPrepare(regexp.QuoteMeta(upsertSQL))
	upsert, err := db.Prepare(upsertSQL)
	require.NoError(t, err)

	mock.ExpectPrepare(regexp.QuoteMeta(selectSQL))
	sel, err := db.Prepare(selectSQL)
	require.NoError(t, err)

	return &Database{db: db, accountID: "acct1", upsert: upsert, selectStmt: sel}, mock
}

func TestAccessTokenRoundTrip(t *testing.T) {
	d, mock := newTestDatabase(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectSQL)).
		WithArgs("acct1", "access_token").
		WillReturnError(sql.ErrNoRows)

	_, ok := d.GetAccessToken()
	assert.False(t, ok)

	mock.ExpectExec(regexp.QuoteMeta(upsertSQL)).
		WithArgs("acct1", "access_token", "tok123").
		WillReturnResult(sqlmock.NewResult(0, 1))

	d.SetAccessToken("tok123")

	mock.ExpectQuery(regexp.QuoteMeta(selectSQL)).
		WithArgs("acct1", "access_token").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("tok123"))

	got, ok := d.GetAccessToken()
	assert.True(t, ok)
	assert.Equal(t, "tok123", got)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOlmAccountPickleRoundTrip(t *testing.T) {
	d, mock := newTestDatabase(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectSQL)).
		WithArgs("acct1", "olm_device_id").
		WillReturnError(sql.ErrNoRows)

	_, ok := d.GetOlmAccountPickle()
	assert.False(t, ok)

	rec := matrixclient.OlmAccountRecord{DeviceID: "DEV1", Server: "example.org", Pickle: "cGlja2xl"}

	mock.ExpectExec(regexp.QuoteMeta(upsertSQL)).WithArgs("acct1", "olm_device_id", rec.DeviceID).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(upsertSQL)).WithArgs("acct1", "olm_server", rec.Server).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(upsertSQL)).WithArgs("acct1", "olm_pickle", rec.Pickle).WillReturnResult(sqlmock.NewResult(0, 1))

	d.SetOlmAccountPickle(rec)

	mock.ExpectQuery(regexp.QuoteMeta(selectSQL)).WithArgs("acct1", "olm_device_id").WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(rec.DeviceID))
	mock.ExpectQuery(regexp.QuoteMeta(selectSQL)).WithArgs("acct1", "olm_server").WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(rec.Server))
	mock.ExpectQuery(regexp.QuoteMeta(selectSQL)).WithArgs("acct1", "olm_pickle").WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(rec.Pickle))

	got, ok := d.GetOlmAccountPickle()
	require.True(t, ok)
	assert.Equal(t, rec, got)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHomeServerFallsBackToDefault(t *testing.T) {
	d, mock := newTestDatabase(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectSQL)).WithArgs("acct1", "home_server").WillReturnError(sql.ErrNoRows)
	assert.Equal(t, "matrix.org", d.GetHomeServer("matrix.org"))

	mock.ExpectExec(regexp.QuoteMeta(upsertSQL)).WithArgs("acct1", "home_server", "example.org").WillReturnResult(sqlmock.NewResult(0, 1))
	d.SetHomeServer("example.org")

	mock.ExpectQuery(regexp.QuoteMeta(selectSQL)).WithArgs("acct1", "home_server").WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("example.org"))
	assert.Equal(t, "example.org", d.GetHomeServer("matrix.org"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSkipOldMessagesDefaultsFalse(t *testing.T) {
	d, mock := newTestDatabase(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectSQL)).WithArgs("acct1", "skip_old_messages").WillReturnError(sql.ErrNoRows)
	assert.False(t, d.GetSkipOldMessages())

	mock.ExpectExec(regexp.QuoteMeta(upsertSQL)).WithArgs("acct1", "skip_old_messages", "true").WillReturnResult(sqlmock.NewResult(0, 1))
	d.SetSkipOldMessages(true)

	mock.ExpectQuery(regexp.QuoteMeta(selectSQL)).WithArgs("acct1", "skip_old_messages").WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("true"))
	assert.True(t, d.GetSkipOldMessages())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSwallowsQueryErrors(t *testing.T) {
	d, mock := newTestDatabase(t)

	mock.ExpectQuery(regexp.QuoteMeta(selectSQL)).WithArgs("acct1", "access_token").WillReturnError(sql.ErrConnDone)

	_, ok := d.GetAccessToken()
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}
