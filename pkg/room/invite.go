package room

import (
	"sync"

	"github.com/matrix-org/matrix-sync-core/pkg/matrixclient"
)

// BuildInvite implements spec.md §4.6: construct a transient state table
// from an invited room's invite_state events, locate the inviter, derive a
// best-effort room name, and return an Invite value wired to the given
// accept/reject handles. No persistent state is kept for an invite until
// the user accepts — the transient StateTable/MemberTable built here are
// discarded once this call returns.
func BuildInvite(roomID, selfUserID string, events []StateEvent, accept, reject func()) matrixclient.Invite {
	members := NewMemberTable()
	state := NewStateTable(members.OnStateUpdate)

	var inviter string
	for _, ev := range events {
		state.Apply(ev)
		if ev.Type == "m.room.member" && ev.StateKey == selfUserID {
			inviter = ev.Sender
		}
	}

	// Accept and Reject share one guard: whichever is called first runs,
	// and every later call of either is a no-op.
	var once sync.Once

	return matrixclient.Invite{
		RoomID:   roomID,
		Inviter:  inviter,
		// Uncached: this state table is transient (built fresh per invite and
		// discarded below), so its generation counters carry no meaningful
		// history to key a cache entry on.
		RoomName: deriveNameUncached(state, members, selfUserID),
		Accept:   func() { once.Do(accept) },
		Reject:   func() { once.Do(reject) },
	}
}
