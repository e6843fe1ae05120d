package room

import "github.com/matrix-org/matrix-sync-core/pkg/matrixclient"

// Room is the aggregate of spec.md §3: "Owns a state table, a member table,
// an event queue, and a handle to an in-flight send." Exactly one Room
// exists per joined room id for the lifetime of the connection.
type Room struct {
	RoomID  string
	State   *StateTable
	Members *MemberTable
	Queue   *Queue
	UI      matrixclient.UIAdapter

	selfUserID string
}

// New constructs a Room with its state table wired to feed member-table
// updates, per spec.md §4.3's "a callback fires ... so observers (room name,
// membership) can react."
func New(roomID, selfUserID string, ui matrixclient.UIAdapter, send SendFunc, onQueueFailure func(error)) *Room {
	members := NewMemberTable()
	state := NewStateTableForRoom(roomID, members.OnStateUpdate)
	return &Room{
		RoomID:     roomID,
		State:      state,
		Members:    members,
		Queue:      NewQueue(roomID, send, onQueueFailure),
		UI:         ui,
		selfUserID: selfUserID,
	}
}

// Name derives the room's display name per spec.md §4.4, cached by the
// room's current state/member generation.
func (r *Room) Name() string {
	return DeriveName(r.RoomID, r.State, r.Members, r.selfUserID)
}

// ApplyStateBatch applies a batch of state events (e.g. from a sync
// response's `state.events` or `timeline.events` with state_key) and returns
// the resulting member diff once, after the whole batch lands — matching
// spec.md §4.4's "After a batch of state updates is applied, the room emits
// [diff lists]" rather than once per event.
func (r *Room) ApplyStateBatch(events []StateEvent) matrixclient.MemberDiff {
	for _, ev := range events {
		r.State.Apply(ev)
	}
	return r.Members.Diff()
}

// Destroy tears down the room's outbound queue. Called on leave (spec.md
// §3: "destroyed on leave").
func (r *Room) Destroy() {
	r.Queue.Shutdown()
	sharedNameCache.Invalidate(r.RoomID)
}
