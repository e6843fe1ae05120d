package room

import (
	"sort"

	"github.com/matrix-org/matrix-sync-core/pkg/matrixclient"
)

// Member mirrors one m.room.member state entry, per spec.md §3: membership
// plus the authoritative server displayname and the value last reported to
// the UI. Divergence between the two drives the rename queue.
type Member struct {
	UserID              string
	Membership          matrixclient.Membership
	StateDisplayname    string
	CurrentDisplayname  string
	lastReportedJoined  bool // tracks what the last Diff() call reported, not server state
}

// MemberTable mirrors m.room.member state for one room and derives diff
// lists after a batch of state updates is applied (spec.md §4.4).
//
// generation counts membership/displayname mutations; roomname.go uses it
// as the cache key suffix for the derived room name so a stale name is
// never served past the next member-table change.
type MemberTable struct {
	byUser     map[string]*Member
	generation uint64
}

func NewMemberTable() *MemberTable {
	return &MemberTable{byUser: make(map[string]*Member)}
}

// OnStateUpdate is a StateUpdateFunc to be registered with a StateTable; it
// updates the member table's authoritative (state) view but does not, by
// itself, touch CurrentDisplayname or emit diffs — those are produced by
// Diff after a batch completes.
func (mt *MemberTable) OnStateUpdate(eventType, stateKey string, old, new *StateEvent) {
	if eventType != "m.room.member" {
		return
	}
	membership := matrixclient.ParseMembership(stringField(new.Content, "membership"))
	displayname := stringField(new.Content, "displayname")

	m, ok := mt.byUser[stateKey]
	if !ok {
		m = &Member{UserID: stateKey}
		mt.byUser[stateKey] = m
	}
	m.Membership = membership
	m.StateDisplayname = displayname
	mt.generation++
}

// Generation returns the current mutation counter, used to invalidate the
// cached room name after any membership or displayname change.
func (mt *MemberTable) Generation() uint64 {
	return mt.generation
}

func stringField(content map[string]interface{}, key string) string {
	if content == nil {
		return ""
	}
	v, ok := content[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Diff computes the new/renamed/left lists of spec.md §4.4 by comparing each
// member's CurrentDisplayname/last-reported membership against its present
// state, then commits the new state into CurrentDisplayname so a later Diff
// call only reports further changes. Diff takes no initial-sync flag;
// whether to announce the returned diff to the UI is left to the caller.
func (mt *MemberTable) Diff() matrixclient.MemberDiff {
	diff := matrixclient.MemberDiff{}
	for _, m := range mt.byUser {
		wasJoined := m.lastReportedJoined
		isJoined := m.Membership == matrixclient.MembershipJoin

		switch {
		case !wasJoined && isJoined:
			diff.New = append(diff.New, matrixclient.MemberInfo{UserID: m.UserID, DisplayName: m.StateDisplayname})
		case wasJoined && isJoined && m.StateDisplayname != m.CurrentDisplayname:
			diff.Renamed = append(diff.Renamed, matrixclient.RenamedMember{
				UserID:         m.UserID,
				OldDisplayName: m.CurrentDisplayname,
				NewDisplayName: m.StateDisplayname,
			})
		case wasJoined && !isJoined:
			diff.Left = append(diff.Left, matrixclient.MemberInfo{UserID: m.UserID, DisplayName: m.CurrentDisplayname})
		}

		m.CurrentDisplayname = m.StateDisplayname
		m.lastReportedJoined = isJoined
	}
	return diff
}

// JoinedMembers returns the current set of joined members, used by
// room-name derivation (spec.md §4.4 rule 3). Sorted by user id so the
// heuristic fallback ("A and B", "A and N others") is deterministic rather
// than depending on map iteration order.
func (mt *MemberTable) JoinedMembers(excludeUserID string) []Member {
	var out []Member
	for uid, m := range mt.byUser {
		if uid == excludeUserID {
			continue
		}
		if m.Membership == matrixclient.MembershipJoin {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
