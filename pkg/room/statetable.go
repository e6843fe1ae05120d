// Package room implements the per-room state machine of SPEC_FULL.md §4.3-
// §4.6: a keyed state-event table, a member table with diffing, room-name
// derivation, an outbound event queue, and timeline dispatch.
package room

import "github.com/matrix-org/matrix-sync-core/internal/caching"

// StateEvent is the tuple a state table entry holds: spec.md §3's
// "(event_type, state_key, content, sender, event_id)".
type StateEvent struct {
	Type     string
	StateKey string
	Content  map[string]interface{}
	Sender   string
	EventID  string
}

// StateUpdateFunc is invoked on every successful state-table update with the
// prior and new event (nil prior on first insert), per spec.md §4.3.
type StateUpdateFunc func(eventType, stateKey string, old, new *StateEvent)

// StateTable is the map `event_type -> state_key -> event` of spec.md §4.3.
// It is not safe for concurrent use from multiple goroutines; callers are
// expected to serialize access through a single logical task the way the
// rest of this module's core state does.
//
// byType remains the source of truth (Apply/AllOfType always go through
// it); readCache is a ristretto read-through layer in front of Get only,
// for rooms large enough that repeated Get calls during a single UI
// redraw would otherwise re-walk a large nested map. Sized generously
// (1MB) since entries are just pointer-sized.
type StateTable struct {
	roomID     string
	byType     map[string]map[string]*StateEvent
	onUpdate   StateUpdateFunc
	generation uint64
	readCache  *caching.StateEventCache
}

func NewStateTable(onUpdate StateUpdateFunc) *StateTable {
	return NewStateTableForRoom("", onUpdate)
}

// NewStateTableForRoom is NewStateTable with an explicit room id, needed so
// the optional read-through cache's keys don't collide across rooms. roomID
// may be empty for transient tables (e.g. invite previews) that never read
// through the cache.
func NewStateTableForRoom(roomID string, onUpdate StateUpdateFunc) *StateTable {
	t := &StateTable{
		roomID:   roomID,
		byType:   make(map[string]map[string]*StateEvent),
		onUpdate: onUpdate,
	}
	if roomID != "" {
		if c, err := caching.NewStateEventCache(1 << 20); err == nil {
			t.readCache = c
		}
	}
	return t
}

// Apply installs a state event, rejecting ones missing type or content;
// a rejected event is dropped without an error and without a logged
// warning. An empty StateKey
// is a valid, common key (m.room.name, m.room.topic, m.room.create, etc.
// all use state_key ""); presence of the key is validated upstream during
// parsing. Returns false when the event was rejected.
func (t *StateTable) Apply(ev StateEvent) bool {
	if ev.Type == "" || ev.Content == nil {
		return false
	}
	byKey, ok := t.byType[ev.Type]
	if !ok {
		byKey = make(map[string]*StateEvent)
		t.byType[ev.Type] = byKey
	}
	old := byKey[ev.StateKey]
	stored := ev
	byKey[ev.StateKey] = &stored
	t.generation++
	if t.readCache != nil {
		t.readCache.Store(t.roomID, ev.Type, ev.StateKey, &stored, int64(len(ev.EventID)+64))
	}

	if t.onUpdate != nil {
		t.onUpdate(ev.Type, ev.StateKey, old, &stored)
	}
	return true
}

// Generation returns the current mutation counter, used by roomname.go to
// invalidate a cached derived name after any state change.
func (t *StateTable) Generation() uint64 {
	return t.generation
}

// Get returns the current event for (eventType, stateKey), or nil.
func (t *StateTable) Get(eventType, stateKey string) *StateEvent {
	if t.readCache != nil {
		if v, ok := t.readCache.Get(t.roomID, eventType, stateKey); ok {
			ev, _ := v.(*StateEvent)
			return ev
		}
	}
	byKey, ok := t.byType[eventType]
	if !ok {
		return nil
	}
	return byKey[stateKey]
}

// AllOfType returns every current state event of the given type, keyed by
// state_key. Used by membership and room-name derivation to enumerate
// m.room.member / m.room.aliases entries. Always reads the authoritative
// map directly since ristretto has no efficient prefix-scan.
func (t *StateTable) AllOfType(eventType string) map[string]*StateEvent {
	out := make(map[string]*StateEvent, len(t.byType[eventType]))
	for k, v := range t.byType[eventType] {
		out[k] = v
	}
	return out
}
