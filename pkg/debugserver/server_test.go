package debugserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrix-org/matrix-sync-core/internal/bus"
)

type fakeSnapshot struct {
	Rooms []string `json:"rooms"`
}

func (f fakeSnapshot) RoomCount() int { return len(f.Rooms) }

func startTestServer(t *testing.T, b *bus.Bus) (*Server, string) {
	t.Helper()
	provider := ProviderFunc(func() interface{} {
		return fakeSnapshot{Rooms: []string{"!a:test", "!b:test"}}
	})
	srv := New("127.0.0.1:0", provider, b)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ln := mustListen(t)
	srv.addr = ln.Addr().String()
	ln.Close()

	go srv.ListenAndServe(ctx)
	waitForServer(t, srv.addr)
	return srv, srv.addr
}

func mustListen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("debug server never started listening on %s", addr)
}

func TestHandleStateReturnsJSONSnapshot(t *testing.T) {
	_, addr := startTestServer(t, nil)

	resp, err := http.Get(fmt.Sprintf("http://%s/debug/state", addr))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got fakeSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, []string{"!a:test", "!b:test"}, got.Rooms)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	_, addr := startTestServer(t, nil)

	resp, err := http.Get(fmt.Sprintf("http://%s/debug/metrics", addr))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTimelineFeedRelaysBusPublishes(t *testing.T) {
	b, err := bus.Start(bus.Options{})
	require.NoError(t, err)
	t.Cleanup(b.Close)

	_, addr := startTestServer(t, b)

	wsURL := "ws://" + addr + "/debug/timeline"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the subscription a moment to register before publishing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, b.Publish(bus.SyncAppliedSubject("!a:test"), []byte(`{"room_id":"!a:test"}`)))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(msg), "!a:test"))
}

func TestTimelineFeedRejectsWhenBusMissing(t *testing.T) {
	_, addr := startTestServer(t, nil)

	resp, err := http.Get(fmt.Sprintf("http://%s/debug/timeline", addr))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
