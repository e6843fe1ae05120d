package matrixclient

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/matrix-org/matrix-sync-core/internal/clock"
)

// TxnIDGenerator mints transaction IDs by combining the injected clock's
// millisecond reading with a random component (spec.md §9 design notes).
// With clock.System that reading is wall-clock time, not a monotonic one.
// The time part keeps IDs apart across restarts where a fresh random
// state might otherwise recur (e.g. a container booted from a snapshot with
// a depleted entropy pool), and the random part keeps IDs apart within a
// millisecond.
type TxnIDGenerator struct {
	clock clock.Clock
}

func NewTxnIDGenerator(c clock.Clock) *TxnIDGenerator {
	return &TxnIDGenerator{clock: c}
}

// Next mints a new transaction ID. It is called exactly once, at enqueue
// time; the resulting string is the idempotence key for the lifetime of the
// pending event and must never be regenerated on retry (spec.md §3).
func (g *TxnIDGenerator) Next() string {
	return fmt.Sprintf("m%d.%s", g.clock.NowMillis(), uuid.New().String())
}
