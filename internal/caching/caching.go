// Package caching provides the two read-through caches used by the room
// model: a short-TTL cache for derived room names and a high-throughput
// cache in front of the state table for accounts with very large rooms.
//
// Grounded on dendrite's internal/caching package, which wraps the same two
// libraries (ristretto for the hot path, go-cache for small bookkeeping
// caches) behind small Get/Store interfaces per cache kind.
package caching

import (
	"time"

	"github.com/dgraph-io/ristretto"
	gocache "github.com/patrickmn/go-cache"
)

// RoomNameCache memoizes the derived display name for a room (spec.md §4.4)
// keyed by room ID plus a generation counter that the member table bumps on
// every mutating update, so a stale entry is never served.
type RoomNameCache struct {
	inner *gocache.Cache
}

func NewRoomNameCache(ttl time.Duration) *RoomNameCache {
	return &RoomNameCache{inner: gocache.New(ttl, 2*ttl)}
}

type roomNameEntry struct {
	generation uint64
	name       string
}

func (c *RoomNameCache) Get(roomID string, generation uint64) (string, bool) {
	v, ok := c.inner.Get(roomID)
	if !ok {
		return "", false
	}
	entry := v.(roomNameEntry)
	if entry.generation != generation {
		return "", false
	}
	return entry.name, true
}

func (c *RoomNameCache) Store(roomID string, generation uint64, name string) {
	c.inner.SetDefault(roomID, roomNameEntry{generation: generation, name: name})
}

func (c *RoomNameCache) Invalidate(roomID string) {
	c.inner.Delete(roomID)
}

// StateEventCache is an optional read-through cache in front of a room's
// state table, for accounts that join very large rooms where walking the
// full state map on every UI redraw would be wasteful.
type StateEventCache struct {
	inner *ristretto.Cache
}

// NewStateEventCache builds a cache with the given approximate byte budget.
func NewStateEventCache(maxCostBytes int64) (*StateEventCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxCostBytes / 100 * 10, // ~10x entries estimate, per ristretto sizing guidance
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &StateEventCache{inner: c}, nil
}

func stateKey(roomID, eventType, stateKey string) string {
	return roomID + "\x1f" + eventType + "\x1f" + stateKey
}

func (c *StateEventCache) Get(roomID, eventType, stateKey string) (interface{}, bool) {
	return c.inner.Get(stateKeyOf(roomID, eventType, stateKey))
}

func (c *StateEventCache) Store(roomID, eventType, stateKeyValue string, content interface{}, cost int64) {
	c.inner.Set(stateKeyOf(roomID, eventType, stateKeyValue), content, cost)
}

func (c *StateEventCache) Invalidate(roomID, eventType, stateKeyValue string) {
	c.inner.Del(stateKeyOf(roomID, eventType, stateKeyValue))
}

func stateKeyOf(roomID, eventType, stateKeyValue string) string {
	return stateKey(roomID, eventType, stateKeyValue)
}
