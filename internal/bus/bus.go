// Package bus is the internal event bus connecting the sync engine, the room
// model, and the E2E core to the UI adapter boundary (spec.md §2 "Data
// flow", generalized per SPEC_FULL.md §4.10). It wraps an embedded
// nats-server instance so the module has no external broker dependency, the
// same way dendrite embeds NATS for its own internal component bus.
package bus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// Well-known subjects. %s is replaced with a room ID where indicated.
const (
	SubjectSyncApplied     = "sync.applied.%s"    // room state/timeline delta applied
	SubjectInviteReceived  = "room.invite.%s"     // invite surfaced for a room
	SubjectOTKReplenished  = "crypto.otk.replenished"
	SubjectConnectionError = "connection.error"
)

// SyncAppliedSubject returns the per-room subject for applied sync deltas.
func SyncAppliedSubject(roomID string) string { return fmt.Sprintf(SubjectSyncApplied, roomID) }

// InviteSubject returns the per-room subject for a surfaced invite.
func InviteSubject(roomID string) string { return fmt.Sprintf(SubjectInviteReceived, roomID) }

// Bus owns an embedded NATS server and a connection to it, used as the
// message-passing channel back into the core task described in spec.md §9's
// design notes on cyclic references.
type Bus struct {
	srv  *server.Server
	Conn *nats.Conn
}

// Options configures the embedded server. A zero value runs it fully
// in-process with no open network port.
type Options struct {
	// Host/Port, when non-zero, expose the embedded server on a TCP port
	// (useful for attaching an out-of-process UI adapter). With both zero
	// the server opens no port; an empty Host with a non-zero Port listens
	// on 127.0.0.1.
	Host string
	Port int
}

// Start launches the embedded NATS server and blocks until it is ready to
// accept connections, then dials an in-process client connection.
func Start(opts Options) (*Bus, error) {
	host := opts.Host
	if host == "" {
		host = "127.0.0.1"
	}
	ns, err := server.NewServer(&server.Options{
		Host:           host,
		Port:           opts.Port,
		NoLog:          true,
		NoSigs:         true,
		DontListen:     opts.Host == "" && opts.Port == 0,
		MaxControlLine: 4096,
	})
	if err != nil {
		return nil, errors.Wrap(err, "bus: failed to construct embedded nats server")
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		return nil, errors.New("bus: embedded nats server did not become ready")
	}
	conn, err := nats.Connect(ns.ClientURL(), nats.InProcessServer(ns))
	if err != nil {
		ns.Shutdown()
		return nil, errors.Wrap(err, "bus: failed to dial embedded nats server")
	}
	return &Bus{srv: ns, Conn: conn}, nil
}

// Publish marshals nothing: callers pass already-encoded payloads (typically
// the raw JSON of the delta being announced) so the bus stays schema-agnostic.
func (b *Bus) Publish(subject string, payload []byte) error {
	return b.Conn.Publish(subject, payload)
}

// Subscribe registers a handler for subject, returning the subscription so
// the caller can Unsubscribe on teardown.
func (b *Bus) Subscribe(subject string, handler func(subject string, payload []byte)) (*nats.Subscription, error) {
	return b.Conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
}

// Close drains the client connection and shuts down the embedded server.
func (b *Bus) Close() {
	if b.Conn != nil {
		b.Conn.Close()
	}
	if b.srv != nil {
		b.srv.Shutdown()
	}
}
