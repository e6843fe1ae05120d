package room

import (
	"fmt"
	"time"

	"github.com/matrix-org/matrix-sync-core/internal/caching"
)

// sharedNameCache backs DeriveName's memoization across every room in the
// process (spec.md §4.4: "Derived names are cached briefly ... keyed by
// room id plus a generation counter bumped on every member-table
// mutation"). A short TTL bounds staleness if a caller ever forgets to bump
// a generation counter; in practice every mutation path does, so eviction
// is mostly housekeeping.
var sharedNameCache = caching.NewRoomNameCache(30 * time.Second)

// DeriveName implements the room-name derivation order of spec.md §4.4,
// cached by (roomID, state generation, member generation) so repeated calls
// within a sync cycle don't re-walk the member list on every timeline
// event. state is the room's StateTable; members is its MemberTable;
// selfUserID is excluded when falling back to the member-list heuristic.
func DeriveName(roomID string, state *StateTable, members *MemberTable, selfUserID string) string {
	generation := state.Generation()<<32 | members.Generation()
	if cached, ok := sharedNameCache.Get(roomID, generation); ok {
		return cached
	}
	name := deriveNameUncached(state, members, selfUserID)
	sharedNameCache.Store(roomID, generation, name)
	return name
}

func deriveNameUncached(state *StateTable, members *MemberTable, selfUserID string) string {
	if nameEv := state.Get("m.room.name", ""); nameEv != nil {
		if name := stringField(nameEv.Content, "name"); name != "" {
			return name
		}
	}

	for _, ev := range state.AllOfType("m.room.aliases") {
		aliases, ok := ev.Content["aliases"].([]interface{})
		if !ok || len(aliases) == 0 {
			continue
		}
		if first, ok := aliases[0].(string); ok && first != "" {
			return first
		}
	}

	others := members.JoinedMembers(selfUserID)
	switch len(others) {
	case 0:
		return "invitation"
	case 1:
		return displayOrID(others[0])
	case 2:
		return fmt.Sprintf("%s and %s", displayOrID(others[0]), displayOrID(others[1]))
	default:
		return fmt.Sprintf("%s and %d others", displayOrID(others[0]), len(others)-1)
	}
}

func displayOrID(m Member) string {
	if m.CurrentDisplayname != "" {
		return m.CurrentDisplayname
	}
	return m.UserID
}
