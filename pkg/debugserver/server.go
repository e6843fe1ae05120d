// Package debugserver is the loopback-only HTTP+WS introspection surface of
// SPEC_FULL.md's dependency table: connection state and a live timeline
// feed, purely an operator aid matching dendrite's own admin endpoints
// (clientapi/routing's gorilla/mux admin routes) — never part of the Matrix
// protocol surface itself, and never required for correct sync operation.
package debugserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matrix-org/matrix-sync-core/internal/bus"
)

// StateProvider is the read-only view of a syncengine.Connection the debug
// server polls for /debug/state. It is an interface, not a direct
// syncengine dependency, so this package never needs to import syncengine;
// setup.go wires the real *syncengine.Connection in via ProviderFunc.
type StateProvider interface {
	// Snapshot returns the current connection/room state as a
	// JSON-marshalable value.
	Snapshot() interface{}
}

// ProviderFunc adapts a plain function (e.g. a closure over
// *syncengine.Connection.Snapshot, whose concrete Snapshot result
// auto-converts to interface{}) to StateProvider.
type ProviderFunc func() interface{}

func (f ProviderFunc) Snapshot() interface{} { return f() }

var roomsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "matrix_sync_core",
	Subsystem: "debugserver",
	Name:      "rooms_last_reported",
	Help:      "Number of rooms present in the most recently served /debug/state snapshot.",
})

// Server is a loopback-only debug HTTP server: a JSON connection-state
// endpoint, a Prometheus metrics endpoint, and a WebSocket feed of applied
// timeline deltas read straight off the internal bus.
type Server struct {
	addr     string
	provider StateProvider
	bus      *bus.Bus
	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New constructs a debug Server. addr should be a loopback address (e.g.
// "127.0.0.1:8011"); the caller (setup.go, from Config.Debug) is responsible
// for choosing one — this package does not itself refuse non-loopback binds,
// matching the permissive posture of dendrite's own debug endpoints.
func New(addr string, provider StateProvider, b *bus.Bus) *Server {
	return &Server{
		addr:     addr,
		provider: provider,
		bus:      b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Loopback-only tool; the operator's own browser is the only
			// expected caller, so origin checking would only get in the way.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/debug/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/debug/timeline", s.handleTimelineFeed)
	r.Handle("/debug/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// ListenAndServe binds addr and blocks serving until ctx is cancelled or an
// unrecoverable error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.httpSrv = &http.Server{Handler: s.router()}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap := s.provider.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if roomLister, ok := snap.(interface{ RoomCount() int }); ok {
		roomsGauge.Set(float64(roomLister.RoomCount()))
	}
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleTimelineFeed upgrades to a WebSocket and relays every
// bus.SubjectSyncApplied publish verbatim as a text frame, for as long as
// the connection stays open. The feed is best-effort: a write failure or a
// closed connection just ends the subscription, it never errors the bus.
func (s *Server) handleTimelineFeed(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		http.Error(w, "debugserver: no bus configured", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub, err := s.bus.Subscribe("sync.applied.>", func(subject string, payload []byte) {
		if werr := conn.WriteMessage(websocket.TextMessage, payload); werr != nil {
			return
		}
	})
	if err != nil {
		return
	}
	defer sub.Unsubscribe()

	// Block until the client disconnects; we don't expect inbound frames,
	// but reading is how gorilla/websocket notices the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
