package engine

import (
	"sync"
	"time"

	"tether/sync/internal/datatype"
)

// Statistics is a derived view over the engine's counters, the queue, and
// history. It is never persisted; it is rebuilt from authoritative state on
// start and recomputed on read.
type Statistics struct {
	TotalRequested    uint64                       `json:"totalRequested"`
	Succeeded         uint64                       `json:"succeeded"`
	Failed            uint64                       `json:"failed"`
	PermissionDenials uint64                       `json:"permissionDenials"`
	ValidationErrors  uint64                       `json:"validationErrors"`
	IntegrityErrors   uint64                       `json:"integrityErrors"`
	Evicted           uint64                       `json:"evicted"`
	Received          uint64                       `json:"received"`
	Pending           int                          `json:"pending"`
	Deferred          int                          `json:"deferred"`
	AvgLatency        time.Duration                `json:"avgLatency"`
	PerType           map[datatype.DataType]uint64 `json:"perType"`
}

// counters is the mutable half of Statistics, guarded by its own lock so
// stats updates never contend with queue or permission operations.
type counters struct {
	mu                sync.Mutex
	totalRequested    uint64
	succeeded         uint64
	failed            uint64
	permissionDenials uint64
	validationErrors  uint64
	integrityErrors   uint64
	received          uint64
	latencySum        time.Duration
	latencyCount      uint64
	perType           map[datatype.DataType]uint64
}

func newCounters() *counters {
	return &counters{perType: make(map[datatype.DataType]uint64)}
}

func (c *counters) requested(t datatype.DataType) {
	c.mu.Lock()
	c.totalRequested++
	c.perType[t]++
	c.mu.Unlock()
}

func (c *counters) success(latency time.Duration) {
	c.mu.Lock()
	c.succeeded++
	c.latencySum += latency
	c.latencyCount++
	c.mu.Unlock()
}

func (c *counters) failure() {
	c.mu.Lock()
	c.failed++
	c.mu.Unlock()
}

func (c *counters) permissionDenied() {
	c.mu.Lock()
	c.permissionDenials++
	c.failed++
	c.mu.Unlock()
}

func (c *counters) validationFailed() {
	c.mu.Lock()
	c.validationErrors++
	c.failed++
	c.mu.Unlock()
}

func (c *counters) integrityFailed() {
	c.mu.Lock()
	c.integrityErrors++
	c.mu.Unlock()
}

func (c *counters) recordReceived(t datatype.DataType) {
	c.mu.Lock()
	c.received++
	c.perType[t]++
	c.mu.Unlock()
}

func (c *counters) snapshot() Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	perType := make(map[datatype.DataType]uint64, len(c.perType))
	for k, v := range c.perType {
		perType[k] = v
	}
	s := Statistics{
		TotalRequested:    c.totalRequested,
		Succeeded:         c.succeeded,
		Failed:            c.failed,
		PermissionDenials: c.permissionDenials,
		ValidationErrors:  c.validationErrors,
		IntegrityErrors:   c.integrityErrors,
		Received:          c.received,
		PerType:           perType,
	}
	if c.latencyCount > 0 {
		s.AvgLatency = c.latencySum / time.Duration(c.latencyCount)
	}
	return s
}
