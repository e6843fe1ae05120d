// Package syncengine implements the Connection type and the sync-loop state
// machine of SPEC_FULL.md §4.2: long-polling, liveness watchdog, and
// dispatch of applied sync responses into the room model. Connection is the
// owner type spec.md §3 describes; it lives here rather than in
// pkg/matrixclient so it can depend on pkg/room, pkg/hsapi, and pkg/e2e
// without those packages needing to depend back on it.
package syncengine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Arceliar/phony"
	"github.com/tidwall/gjson"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"

	"github.com/matrix-org/matrix-sync-core/internal/bus"
	"github.com/matrix-org/matrix-sync-core/internal/clock"
	"github.com/matrix-org/matrix-sync-core/internal/log"
	"github.com/matrix-org/matrix-sync-core/internal/random"
	"github.com/matrix-org/matrix-sync-core/pkg/hsapi"
	"github.com/matrix-org/matrix-sync-core/pkg/matrixclient"
	"github.com/matrix-org/matrix-sync-core/pkg/room"
)

// State is the sync-engine state machine of spec.md §4.2.
type State int

const (
	StateLoggingIn State = iota
	StateInitialSync
	StateConnected
	StateSyncInFlight
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoggingIn:
		return "logging_in"
	case StateInitialSync:
		return "initial_sync"
	case StateConnected:
		return "connected"
	case StateSyncInFlight:
		return "sync_in_flight"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Connection owns everything spec.md §3 names: homeserver URL, identity,
// access token, device id, the active rooms, and the timestamp of the last
// successful sync. All core state transitions run on its single actor
// goroutine (phony.Inbox), per spec.md §5's "single-threaded cooperative"
// scheduling model — network I/O happens off-actor and results re-enter via
// Act.
type Connection struct {
	phony.Inbox

	HomeServerURL string
	UserID        string
	AccessToken   string
	DeviceID      string

	state       State
	rooms       map[string]*room.Room
	txnGen      *matrixclient.TxnIDGenerator
	cancelSync  context.CancelFunc
	lastSyncAt  atomic.Int64 // unix millis, written only by the actor but read by the watchdog goroutine
	running     atomic.Bool

	client *hsapi.Client
	creds  matrixclient.CredentialStore
	ui     matrixclient.UIAdapter
	clock  clock.Clock
	rand   random.Source
	bus    *bus.Bus

	longPollTimeoutMs    int
	watchdogTickInterval time.Duration
	livenessThresholdMs  int64
	logger interface {
		Warnf(format string, args ...interface{})
		Infof(format string, args ...interface{})
	}

	// syncGroup is not called anywhere; issueSync does not go through it.
	// One /sync in flight at a time rests on the state machine alone
	// (issueSync runs after login, after a completed sync, or from the
	// watchdog after it cancels the previous request); calling Start twice
	// issues two concurrent syncs.
	syncGroup singleflight.Group

	outstandingTxnIDs map[string]bool
	outstandingMu     sync.Mutex

	e2eBootstrap func(ctx context.Context)                       // set by pkg/e2e wiring; nil disables E2E bootstrap
	e2eOnSync    func(root gjson.Result, onError func(err error)) // nil disables per-sync E2E routing
}

// Options configures a new Connection.
type Options struct {
	HomeServerURL string
	Client        *hsapi.Client
	Credentials   matrixclient.CredentialStore
	UI            matrixclient.UIAdapter
	Clock         clock.Clock
	Random        random.Source

	// Logger, when set, replaces the package's discard-everything default.
	Logger interface {
		Warnf(format string, args ...interface{})
		Infof(format string, args ...interface{})
	}

	// Bus, when set, receives a SyncAppliedSubject publish for every
	// non-echo timeline message, for pkg/debugserver's live timeline feed. Nil
	// disables this entirely; it is never required for correct operation.
	Bus *bus.Bus

	// LongPollTimeoutMillis, WatchdogTickInterval, and
	// LivenessThresholdMillis override the sync loop's timing constants
	// (Config.Sync). Zero values fall back to the package defaults.
	LongPollTimeoutMillis   int
	WatchdogTickInterval    time.Duration
	LivenessThresholdMillis int64
}

func New(opts Options) *Connection {
	c := opts.Clock
	if c == nil {
		c = clock.System{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewDiscard()
	}
	return &Connection{
		HomeServerURL:     opts.HomeServerURL,
		state:             StateLoggingIn,
		rooms:             make(map[string]*room.Room),
		txnGen:            matrixclient.NewTxnIDGenerator(c),
		client:            opts.Client,
		creds:             opts.Credentials,
		ui:                opts.UI,
		clock:             c,
		rand:              opts.Random,
		bus:               opts.Bus,
		logger:            logger,
		outstandingTxnIDs: make(map[string]bool),

		longPollTimeoutMs:    opts.LongPollTimeoutMillis,
		watchdogTickInterval: opts.WatchdogTickInterval,
		livenessThresholdMs:  opts.LivenessThresholdMillis,
	}
}

func (conn *Connection) longPollTimeoutMillis() int {
	if conn.longPollTimeoutMs > 0 {
		return conn.longPollTimeoutMs
	}
	return defaultLongPollTimeoutMillis
}

// RoomSummary is the per-room slice of Snapshot, for pkg/debugserver's
// connection-state introspection endpoint.
type RoomSummary struct {
	RoomID      string `json:"room_id"`
	Name        string `json:"name"`
	MemberCount int    `json:"member_count"`
}

// Snapshot is the read-only connection-state view pkg/debugserver polls.
type Snapshot struct {
	HomeServerURL string        `json:"home_server_url"`
	UserID        string        `json:"user_id"`
	DeviceID      string        `json:"device_id"`
	State         string        `json:"state"`
	LastSyncAtMs  int64         `json:"last_sync_at_ms"`
	Rooms         []RoomSummary `json:"rooms"`
}

// RoomCount lets pkg/debugserver report a gauge without depending on
// syncengine's Snapshot type directly.
func (s Snapshot) RoomCount() int { return len(s.Rooms) }

// Snapshot reads the connection's current state off the actor goroutine, the
// same Act-and-wait pattern State() uses.
func (conn *Connection) Snapshot() Snapshot {
	var snap Snapshot
	done := make(chan struct{})
	conn.Act(nil, func() {
		snap = Snapshot{
			HomeServerURL: conn.HomeServerURL,
			UserID:        conn.UserID,
			DeviceID:      conn.DeviceID,
			State:         conn.state.String(),
			LastSyncAtMs:  conn.lastSyncAt.Load(),
		}
		for id, r := range conn.rooms {
			snap.Rooms = append(snap.Rooms, RoomSummary{
				RoomID:      id,
				Name:        r.Name(),
				MemberCount: len(r.Members.JoinedMembers("")),
			})
		}
		close(done)
	})
	<-done
	return snap
}

// TimelineFeedEvent is the payload published to bus.SyncAppliedSubject for
// every non-state timeline message, for pkg/debugserver's live feed. It is
// deliberately separate from matrixclient.UIAdapter.TimelineMessage: the bus
// publish is best-effort diagnostics, not a delivery-guaranteed channel.
type TimelineFeedEvent struct {
	RoomID           string `json:"room_id"`
	RoomName         string `json:"room_name"`
	Sender           string `json:"sender"`
	Body             string `json:"body"`
	OriginServerTSMs int64  `json:"origin_server_ts_ms"`
}

func (conn *Connection) publishTimelineFeed(ev TimelineFeedEvent) {
	if conn.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_ = conn.bus.Publish(bus.SyncAppliedSubject(ev.RoomID), payload)
}

func (conn *Connection) connInfo() hsapi.ConnectionInfo {
	return hsapi.ConnectionInfo{HomeServerURL: conn.HomeServerURL, AccessToken: conn.AccessToken}
}

// ConnInfo exposes the connection's current auth/home-server pair, for
// collaborators constructed outside the actor (e.g. pkg/e2e.Core) that need
// to issue their own requests through the same hsapi.Client. Safe to call
// from any goroutine: it reads the same fields connInfo does, which are
// only ever written from the actor, so a caller must only invoke this after
// the point those fields are known to be set (e2eBootstrap already runs
// after login completes).
func (conn *Connection) ConnInfo() hsapi.ConnectionInfo {
	return conn.connInfo()
}

// SetE2EBootstrap wires fn to run once, from the actor goroutine,
// immediately after login succeeds (spec.md §4.7 step 1's "Once
// access_token is obtained"). Call before Start.
func (conn *Connection) SetE2EBootstrap(fn func(ctx context.Context)) {
	conn.e2eBootstrap = fn
}

// SetE2ESyncHook wires fn to run on every /sync response (spec.md §4.7:
// "On every /sync response ... examine device_one_time_keys_count",
// device-to-device events routed to the E2E core), before timeline
// dispatch for the same batch. Call before Start.
func (conn *Connection) SetE2ESyncHook(fn func(root gjson.Result, onError func(err error))) {
	conn.e2eOnSync = fn
}

func (conn *Connection) markSyncSucceeded() {
	conn.lastSyncAt.Store(conn.clock.NowMillis())
}

func (conn *Connection) roomOrCreate(roomID string) *room.Room {
	r, ok := conn.rooms[roomID]
	if ok {
		return r
	}
	r = room.New(roomID, conn.UserID, conn.ui, conn.sendFunc(roomID), func(err error) {
		conn.Act(nil, func() { conn.onQueueFailure(roomID, err) })
	})
	conn.rooms[roomID] = r
	if conn.ui != nil {
		conn.ui.RoomCreated(roomID)
	}
	return r
}

func (conn *Connection) sendFunc(roomID string) room.SendFunc {
	return func(ctx context.Context, rid string, ev room.PendingEvent, onSuccess func(hsapi.SendResult), onTransportErr func(*hsapi.TransportError), onBadResponse func(*hsapi.BadResponseError, []byte)) {
		conn.outstandingMu.Lock()
		conn.outstandingTxnIDs[ev.TxnID] = true
		conn.outstandingMu.Unlock()
		conn.client.Send(ctx, conn.connInfo(), rid, ev.EventType, ev.TxnID, ev.Content, onSuccess, onTransportErr, onBadResponse)
	}
}

func (conn *Connection) onQueueFailure(roomID string, err error) {
	// Per spec.md §4.5/§7: the outer error callback still fires and may
	// transition the connection to error, but the pending entry itself was
	// already preserved by the Queue.
	if conn.ui != nil {
		conn.ui.Error(matrixclient.ErrorKindOther, err.Error())
	}
}

// destroyRoom is called on leave (spec.md §3: rooms are "destroyed on
// leave").
func (conn *Connection) destroyRoom(roomID string) {
	if r, ok := conn.rooms[roomID]; ok {
		r.Destroy()
		delete(conn.rooms, roomID)
	}
}
