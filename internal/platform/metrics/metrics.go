package metrics

import (
	"sync/atomic"
	"time"
)

type Collector struct {
	enqueuedTotal    uint64
	syncedTotal      uint64
	syncFailedTotal  uint64
	syncPasses       uint64
	auditEvents      uint64
	retentionActions uint64
	syncDurationMs   uint64
}

func New() *Collector {
	return &Collector{}
}

func (c *Collector) RecordEnqueue() {
	atomic.AddUint64(&c.enqueuedTotal, 1)
}

func (c *Collector) RecordSyncPass(synced, failed int, duration time.Duration) {
	atomic.AddUint64(&c.syncPasses, 1)
	atomic.AddUint64(&c.syncedTotal, uint64(synced))
	atomic.AddUint64(&c.syncFailedTotal, uint64(failed))
	atomic.AddUint64(&c.syncDurationMs, uint64(duration.Milliseconds()))
}

func (c *Collector) RecordAuditEvent() {
	atomic.AddUint64(&c.auditEvents, 1)
}

func (c *Collector) RecordRetentionAction() {
	atomic.AddUint64(&c.retentionActions, 1)
}

func (c *Collector) Snapshot() map[string]any {
	passes := atomic.LoadUint64(&c.syncPasses)
	totalMs := atomic.LoadUint64(&c.syncDurationMs)
	avg := float64(0)
	if passes > 0 {
		avg = float64(totalMs) / float64(passes)
	}
	return map[string]any{
		"enqueuedTotal":         atomic.LoadUint64(&c.enqueuedTotal),
		"syncedTotal":           atomic.LoadUint64(&c.syncedTotal),
		"syncFailedTotal":       atomic.LoadUint64(&c.syncFailedTotal),
		"syncPasses":            passes,
		"auditEventsTotal":      atomic.LoadUint64(&c.auditEvents),
		"retentionActionsTotal": atomic.LoadUint64(&c.retentionActions),
		"avgSyncDurationMs":     avg,
	}
}
