package hsapi

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// stubFetcher replays a canned response (or error) for every Fetch call and
// records the last request it was handed, so tests can assert on method,
// path, and body without standing up a real HTTP server.
type stubFetcher struct {
	lastReq    FetchRequest
	statusJSON string // if non-empty, fed to OnSuccess as parsed JSON
	transport  *TransportError
	bad        *BadResponseError
	badBody    []byte
}

func (s *stubFetcher) Fetch(ctx context.Context, req FetchRequest, cb FetchCallbacks) func() {
	s.lastReq = req
	switch {
	case s.transport != nil:
		cb.OnTransportErr(s.transport)
	case s.bad != nil:
		cb.OnBadResponse(s.bad, s.badBody)
	default:
		cb.OnSuccess(gjson.Parse(s.statusJSON), []byte(s.statusJSON), "application/json")
	}
	return func() {}
}

func testConn() ConnectionInfo {
	return ConnectionInfo{HomeServerURL: "https://example.org/", AccessToken: "tok123"}
}

func TestPasswordLoginSuccess(t *testing.T) {
	fetcher := &stubFetcher{statusJSON: `{"access_token":"abc","user_id":"@alice:example.org","device_id":"DEV1"}`}
	c := New(fetcher)

	var got PasswordLoginResult
	c.PasswordLogin(context.Background(), testConn(), "alice", "hunter2", "", func(r PasswordLoginResult) {
		got = r
	}, func(e *TransportError) {
		t.Fatalf("unexpected transport error: %v", e)
	}, func(e *BadResponseError, body []byte) {
		t.Fatalf("unexpected bad response: %v", e)
	})

	assert.Equal(t, "abc", got.AccessToken)
	assert.Equal(t, "@alice:example.org", got.UserID)
	assert.Equal(t, "DEV1", got.DeviceID)
	assert.Equal(t, "POST", fetcher.lastReq.Method)
}

func TestPasswordLoginMissingTokenIsBadResponse(t *testing.T) {
	fetcher := &stubFetcher{statusJSON: `{"user_id":"@alice:example.org"}`}
	c := New(fetcher)

	var badErr *BadResponseError
	c.PasswordLogin(context.Background(), testConn(), "alice", "hunter2", "", func(r PasswordLoginResult) {
		t.Fatalf("unexpected success")
	}, func(e *TransportError) {
		t.Fatalf("unexpected transport error: %v", e)
	}, func(e *BadResponseError, body []byte) {
		badErr = e
	})

	require.NotNil(t, badErr)
	assert.Equal(t, "M_MISSING_TOKEN", badErr.ErrCode)
}

func TestSyncBuildsSinceAndTimeoutQuery(t *testing.T) {
	fetcher := &stubFetcher{statusJSON: `{"next_batch":"s1"}`}
	c := New(fetcher)

	var got SyncResult
	c.Sync(context.Background(), testConn(), "s0", 30000, false, func(r SyncResult) {
		got = r
	}, func(e *TransportError) {
		t.Fatalf("unexpected transport error: %v", e)
	}, func(e *BadResponseError, body []byte) {
		t.Fatalf("unexpected bad response: %v", e)
	})

	assert.Equal(t, "s1", got.NextBatch)
	q := fetcher.lastReq.TargetURL.Query()
	assert.Equal(t, "s0", q.Get("since"))
	assert.Equal(t, "30000", q.Get("timeout"))
	assert.Equal(t, "tok123", q.Get("access_token"))
}

func TestSendUsesTxnIDInPath(t *testing.T) {
	fetcher := &stubFetcher{statusJSON: `{"event_id":"$abc"}`}
	c := New(fetcher)

	var got SendResult
	c.Send(context.Background(), testConn(), "!room:example.org", "m.room.message", "m123.txn", map[string]string{"body": "hi"}, func(r SendResult) {
		got = r
	}, func(e *TransportError) {
		t.Fatalf("unexpected transport error: %v", e)
	}, func(e *BadResponseError, body []byte) {
		t.Fatalf("unexpected bad response: %v", e)
	})

	assert.Equal(t, "$abc", got.EventID)
	assert.Equal(t, "PUT", fetcher.lastReq.Method)
	assert.Contains(t, fetcher.lastReq.TargetURL.Path, "/send/m.room.message/m123.txn")
}

func TestTransportErrorPropagates(t *testing.T) {
	fetcher := &stubFetcher{transport: &TransportError{Reason: ErrCancelled}}
	c := New(fetcher)

	var gotErr *TransportError
	c.WhoAmI(context.Background(), testConn(), func(userID string) {
		t.Fatalf("unexpected success")
	}, func(e *TransportError) {
		gotErr = e
	}, func(e *BadResponseError, body []byte) {
		t.Fatalf("unexpected bad response: %v", e)
	})

	require.NotNil(t, gotErr)
	assert.True(t, gotErr.IsCancelled())
}

func TestMXCToDownloadPath(t *testing.T) {
	p, err := MXCToDownloadPath("mxc://example.org/abc123")
	require.NoError(t, err)
	assert.Equal(t, "_matrix/media/r0/download/example.org/abc123", p)

	_, err = MXCToDownloadPath("https://example.org/abc123")
	assert.Error(t, err)
}

func TestBuildURLResolvesRelativeToBase(t *testing.T) {
	c := New(&stubFetcher{statusJSON: `{}`})
	u, err := c.buildURL(testConn(), "_matrix/client/r0/sync", url.Values{"timeout": []string{"1000"}})
	require.NoError(t, err)
	assert.Equal(t, "example.org", u.Host)
	assert.Equal(t, "/_matrix/client/r0/sync", u.Path)
}
