package syncengine

import (
	"context"

	"github.com/tidwall/gjson"

	"github.com/matrix-org/matrix-sync-core/pkg/hsapi"
	"github.com/matrix-org/matrix-sync-core/pkg/matrixclient"
	"github.com/matrix-org/matrix-sync-core/pkg/room"
)

const defaultLongPollTimeoutMillis = 30000

// Start implements spec.md §4.2's startup sequence: try a stored access
// token via whoami, falling back to password login on any failure, then
// begin syncing.
func (conn *Connection) Start(ctx context.Context, password string) {
	conn.Act(nil, func() { conn.startLocked(ctx, password) })
}

func (conn *Connection) startLocked(ctx context.Context, password string) {
	conn.HomeServerURL = conn.creds.GetHomeServer(conn.HomeServerURL)
	conn.running.Store(true)

	if token, ok := conn.creds.GetAccessToken(); ok && token != "" {
		conn.AccessToken = token
		if deviceID, ok := conn.creds.GetDeviceID(); ok {
			conn.DeviceID = deviceID
		}
		conn.client.WhoAmI(ctx, conn.connInfo(),
			func(userID string) {
				conn.Act(nil, func() {
					conn.UserID = userID
					conn.afterAuthenticated(ctx)
				})
			},
			func(terr *hsapi.TransportError) {
				// spec.md §4.2: "On any error ... fall back to password login."
				conn.Act(nil, func() { conn.passwordLogin(ctx, password) })
			},
			func(berr *hsapi.BadResponseError, body []byte) {
				conn.Act(nil, func() { conn.passwordLogin(ctx, password) })
			},
		)
		return
	}
	conn.passwordLogin(ctx, password)
}

func (conn *Connection) passwordLogin(ctx context.Context, password string) {
	conn.state = StateLoggingIn
	conn.client.PasswordLogin(ctx, conn.connInfo(), conn.UserID, password, conn.DeviceID,
		func(res hsapi.PasswordLoginResult) {
			conn.Act(nil, func() {
				conn.AccessToken = res.AccessToken
				conn.UserID = res.UserID
				conn.DeviceID = res.DeviceID
				conn.afterAuthenticated(ctx)
			})
		},
		func(terr *hsapi.TransportError) {
			conn.Act(nil, func() { conn.fail(matrixclient.ErrorKindNetwork, terr.Error()) })
		},
		func(berr *hsapi.BadResponseError, body []byte) {
			conn.Act(nil, func() { conn.fail(matrixclient.ErrorKindOther, berr.Error()) })
		},
	)
}

// afterAuthenticated persists credentials, triggers E2E bootstrap if wired,
// and decides between full-state and incremental sync per spec.md §4.2.
func (conn *Connection) afterAuthenticated(ctx context.Context) {
	conn.creds.SetAccessToken(conn.AccessToken)
	if conn.DeviceID != "" {
		conn.creds.SetDeviceID(conn.DeviceID)
	}
	if conn.e2eBootstrap != nil {
		conn.e2eBootstrap(ctx)
	}

	since, hasSince := conn.creds.GetNextBatch()
	fullState := !hasSince || since == ""
	if fullState {
		conn.state = StateInitialSync
		if conn.ui != nil {
			conn.ui.Progress(matrixclient.Progress{Phase: "Initial Sync"})
		}
	} else {
		conn.state = StateConnected
	}
	conn.issueSync(ctx, since, fullState)
}

func (conn *Connection) fail(kind matrixclient.ErrorKind, message string) {
	conn.state = StateError
	if conn.ui != nil {
		conn.ui.Error(kind, message)
	}
}

func (conn *Connection) issueSync(ctx context.Context, since string, fullState bool) {
	if !conn.running.Load() || conn.state == StateError {
		return
	}
	conn.state = StateSyncInFlight
	syncCtx, cancel := context.WithCancel(ctx)
	conn.cancelSync = cancel

	conn.client.Sync(syncCtx, conn.connInfo(), since, conn.longPollTimeoutMillis(), fullState,
		func(res hsapi.SyncResult) {
			conn.Act(nil, func() { conn.handleSyncSuccess(ctx, res, fullState) })
		},
		func(terr *hsapi.TransportError) {
			conn.Act(nil, func() { conn.handleSyncTransportErr(ctx, terr, since) })
		},
		func(berr *hsapi.BadResponseError, body []byte) {
			conn.Act(nil, func() { conn.fail(matrixclient.ErrorKindOther, berr.Error()) })
		},
	)
}

func (conn *Connection) handleSyncTransportErr(ctx context.Context, terr *hsapi.TransportError, since string) {
	if terr.IsCancelled() {
		// spec.md §4.2/§7: cancellation (watchdog restart or shutdown) does
		// not mark the connection errored; the watchdog or Shutdown caller
		// decides what happens next.
		return
	}
	conn.fail(matrixclient.ErrorKindNetwork, terr.Error())
}

// handleSyncSuccess applies a sync response per spec.md §4.3-§4.6, persists
// next_batch only after the whole batch is applied, marks the connection
// Connected, then immediately issues the next incremental sync.
func (conn *Connection) handleSyncSuccess(ctx context.Context, res hsapi.SyncResult, wasFullState bool) {
	conn.markSyncSucceeded()
	conn.state = StateConnected

	if conn.e2eOnSync != nil {
		// Device-to-device events and key-count replenishment precede
		// timeline dispatch for the same batch (spec.md §4.5 ordering rule).
		conn.e2eOnSync(res.Root, func(err error) {
			conn.logger.Warnf("e2e: sync routing error: %v", err)
		})
	}

	conn.applyJoinedRooms(res.Root, wasFullState)
	conn.applyInvitedRooms(res.Root)
	conn.applyLeftRooms(res.Root)

	conn.creds.SetNextBatch(res.NextBatch)
	conn.issueSync(ctx, res.NextBatch, false)
}

func (conn *Connection) applyJoinedRooms(root gjson.Result, isInitial bool) {
	root.Get("rooms.join").ForEach(func(roomID, roomObj gjson.Result) bool {
		r := conn.roomOrCreate(roomID.String())

		var stateEvents []room.StateEvent
		roomObj.Get("state.events").ForEach(func(_, ev gjson.Result) bool {
			if se, ok := parseStateEvent(ev); ok {
				stateEvents = append(stateEvents, se)
			}
			return true
		})
		// Timeline events that themselves carry a state_key are also state,
		// applied before the non-state timeline dispatch below (spec.md §4.5).
		roomObj.Get("timeline.events").ForEach(func(_, ev gjson.Result) bool {
			if ev.Get("state_key").Exists() {
				if se, ok := parseStateEvent(ev); ok {
					stateEvents = append(stateEvents, se)
				}
			}
			return true
		})

		diff := r.ApplyStateBatch(stateEvents)
		if conn.ui != nil && (len(diff.New) > 0 || len(diff.Renamed) > 0 || len(diff.Left) > 0) {
			conn.ui.RoomStateUpdated(r.RoomID, diff)
		}

		roomObj.Get("timeline.events").ForEach(func(_, ev gjson.Result) bool {
			if ev.Get("state_key").Exists() {
				return true
			}
			conn.outstandingMu.Lock()
			txnMatched := conn.outstandingTxnIDs
			conn.outstandingMu.Unlock()
			tev := parseTimelineEvent(ev)
			r.Dispatch(tev, txnMatched)
			if tev.Type == "m.room.message" && (tev.UnsignedTxnID == "" || !txnMatched[tev.UnsignedTxnID]) {
				if body, ok := tev.Content["body"].(string); ok && body != "" {
					conn.publishTimelineFeed(TimelineFeedEvent{
						RoomID:           r.RoomID,
						RoomName:         r.Name(),
						Sender:           tev.Sender,
						Body:             body,
						OriginServerTSMs: tev.OriginServerTSMs,
					})
				}
			}
			return true
		})
		return true
	})
}

func (conn *Connection) applyInvitedRooms(root gjson.Result) {
	root.Get("rooms.invite").ForEach(func(roomID, roomObj gjson.Result) bool {
		var events []room.StateEvent
		roomObj.Get("invite_state.events").ForEach(func(_, ev gjson.Result) bool {
			if se, ok := parseStateEvent(ev); ok {
				events = append(events, se)
			}
			return true
		})
		rid := roomID.String()
		invite := room.BuildInvite(rid, conn.UserID, events,
			func() { conn.Act(nil, func() { conn.acceptInvite(rid) }) },
			func() { conn.Act(nil, func() { conn.rejectInvite(rid) }) },
		)
		if conn.ui != nil {
			conn.ui.InviteReceived(invite)
		}
		return true
	})
}

func (conn *Connection) applyLeftRooms(root gjson.Result) {
	root.Get("rooms.leave").ForEach(func(roomID, _ gjson.Result) bool {
		conn.destroyRoom(roomID.String())
		return true
	})
}

func parseStateEvent(ev gjson.Result) (room.StateEvent, bool) {
	typ := ev.Get("type").String()
	stateKey := ev.Get("state_key")
	if typ == "" || !stateKey.Exists() {
		return room.StateEvent{}, false
	}
	content := ev.Get("content")
	if !content.Exists() || !content.IsObject() {
		return room.StateEvent{}, false
	}
	return room.StateEvent{
		Type:     typ,
		StateKey: stateKey.String(),
		Content:  contentToMap(content),
		Sender:   ev.Get("sender").String(),
		EventID:  ev.Get("event_id").String(),
	}, true
}

func parseTimelineEvent(ev gjson.Result) room.TimelineEvent {
	stateKey := ev.Get("state_key")
	return room.TimelineEvent{
		Type:             ev.Get("type").String(),
		StateKey:         stateKey.String(),
		HasStateKey:      stateKey.Exists(),
		Content:          contentToMap(ev.Get("content")),
		Sender:           ev.Get("sender").String(),
		EventID:          ev.Get("event_id").String(),
		OriginServerTSMs: ev.Get("origin_server_ts").Int(),
		UnsignedTxnID:    ev.Get("unsigned.transaction_id").String(),
	}
}

func contentToMap(v gjson.Result) map[string]interface{} {
	if !v.Exists() || !v.IsObject() {
		return nil
	}
	m, ok := v.Value().(map[string]interface{})
	if !ok {
		return nil
	}
	return m
}

// Shutdown cancels any in-flight sync and suppresses further requests;
// per spec.md §4.2 the connection is not marked errored for a shutdown
// cancellation.
func (conn *Connection) Shutdown() {
	conn.Act(nil, func() {
		conn.running.Store(false)
		if conn.cancelSync != nil {
			conn.cancelSync()
		}
		for id, r := range conn.rooms {
			r.Destroy()
			delete(conn.rooms, id)
		}
	})
}

// Enqueue appends a new outbound event to roomID's queue (spec.md §3/§4.5:
// "enqueue(event_type, content) appends one entry with a freshly minted
// txn_id"). The txn_id is minted once, here, from conn.txnGen, and is never
// regenerated on retry — it is the idempotence key §8 scenario 2's remote
// echo suppression relies on.
func (conn *Connection) Enqueue(ctx context.Context, roomID, eventType string, content interface{}) {
	conn.Act(nil, func() {
		txnID := conn.txnGen.Next()
		conn.roomOrCreate(roomID).Queue.Enqueue(ctx, txnID, eventType, content)
	})
}

func (conn *Connection) acceptInvite(roomID string) {
	conn.client.JoinRoom(context.Background(), conn.connInfo(), roomID,
		func(joinedRoomID string) {},
		func(terr *hsapi.TransportError) {
			conn.Act(nil, func() { conn.fail(matrixclient.ErrorKindNetwork, terr.Error()) })
		},
		func(berr *hsapi.BadResponseError, body []byte) {
			conn.Act(nil, func() {
				if conn.ui != nil {
					conn.ui.Error(matrixclient.ErrorKindOther, berr.Error())
				}
			})
		},
	)
}

func (conn *Connection) rejectInvite(roomID string) {
	conn.client.LeaveRoom(context.Background(), conn.connInfo(), roomID,
		func() {},
		func(terr *hsapi.TransportError) {
			conn.Act(nil, func() { conn.fail(matrixclient.ErrorKindNetwork, terr.Error()) })
		},
		func(berr *hsapi.BadResponseError, body []byte) {
			conn.Act(nil, func() {
				if conn.ui != nil {
					conn.ui.Error(matrixclient.ErrorKindOther, berr.Error())
				}
			})
		},
	)
}

// State returns the engine's current state, for tests and diagnostics.
func (conn *Connection) State() State {
	var s State
	phonyDone := make(chan struct{})
	conn.Act(nil, func() {
		s = conn.state
		close(phonyDone)
	})
	<-phonyDone
	return s
}
