package syncengine

import (
	"context"
	"time"
)

const (
	defaultWatchdogTickInterval = 5 * time.Second
	defaultLivenessThresholdMs  = 60000
)

func (conn *Connection) watchdogTick() time.Duration {
	if conn.watchdogTickInterval > 0 {
		return conn.watchdogTickInterval
	}
	return defaultWatchdogTickInterval
}

func (conn *Connection) livenessThreshold() int64 {
	if conn.livenessThresholdMs > 0 {
		return conn.livenessThresholdMs
	}
	return defaultLivenessThresholdMs
}

// StartWatchdog runs the periodic liveness check of spec.md §4.2 (Config.Sync
// controls the tick interval and threshold): if more time than the liveness
// threshold has elapsed since the last completed sync while the engine
// believes itself to be running, the in-flight sync is cancelled and
// reissued with the persisted next_batch. It returns a stop function.
func (conn *Connection) StartWatchdog(ctx context.Context) (stop func()) {
	tickCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(conn.watchdogTick())
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				conn.checkLiveness(ctx)
			}
		}
	}()
	return cancel
}

func (conn *Connection) checkLiveness(ctx context.Context) {
	if !conn.running.Load() {
		return
	}
	last := conn.lastSyncAt.Load()
	if last == 0 {
		return // no completed sync yet; nothing to measure against
	}
	elapsed := conn.clock.NowMillis() - last
	if elapsed < conn.livenessThreshold() {
		return
	}
	conn.Act(nil, func() {
		if conn.state != StateSyncInFlight || !conn.running.Load() {
			return
		}
		if conn.cancelSync != nil {
			conn.cancelSync()
		}
		since, _ := conn.creds.GetNextBatch()
		conn.issueSync(ctx, since, false)
	})
}
