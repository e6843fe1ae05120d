package room

import "github.com/matrix-org/matrix-sync-core/pkg/matrixclient"

// TimelineEvent is the minimal shape this package needs out of a raw sync
// timeline event; callers (pkg/syncengine) are responsible for extracting
// these fields out of the gjson.Result tree returned by hsapi.Client.Sync.
type TimelineEvent struct {
	Type              string
	StateKey          string
	HasStateKey       bool
	Content           map[string]interface{}
	Sender            string
	EventID           string
	OriginServerTSMs  int64
	UnsignedTxnID     string
}

// Dispatch implements spec.md §4.5's timeline dispatch rule. It mutates
// state/members when the event carries a state_key, and otherwise surfaces
// m.room.message events to the UI unless they are an echo of our own send
// (matched by unsigned.transaction_id against outstandingTxnIDs).
//
// Returns the member diff produced by a state update, or a zero MemberDiff
// when the event was a timeline message (or neither).
func (r *Room) Dispatch(ev TimelineEvent, outstandingTxnIDs map[string]bool) (diff matrixclient.MemberDiff, stateChanged bool) {
	if ev.HasStateKey {
		if r.State.Apply(StateEvent{
			Type:     ev.Type,
			StateKey: ev.StateKey,
			Content:  ev.Content,
			Sender:   ev.Sender,
			EventID:  ev.EventID,
		}) {
			return r.Members.Diff(), true
		}
		return matrixclient.MemberDiff{}, false
	}

	if ev.Type != "m.room.message" {
		return matrixclient.MemberDiff{}, false
	}
	body, ok := ev.Content["body"].(string)
	if !ok || body == "" {
		return matrixclient.MemberDiff{}, false
	}
	if ev.UnsignedTxnID != "" && outstandingTxnIDs[ev.UnsignedTxnID] {
		// Our own echo; suppressed per spec.md §4.5.
		return matrixclient.MemberDiff{}, false
	}

	senderDisplay := ev.Sender
	if m := r.Members.byUser[ev.Sender]; m != nil && m.CurrentDisplayname != "" {
		senderDisplay = m.CurrentDisplayname
	}
	if r.UI != nil {
		r.UI.TimelineMessage(r.RoomID, senderDisplay, body, ev.OriginServerTSMs/1000, matrixclient.TimelineFlags{})
	}
	return matrixclient.MemberDiff{}, false
}
