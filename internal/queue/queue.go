// Package queue implements the bounded, priority-ordered outbound work queue
// with exponential-backoff retries, capacity eviction, and a reversible
// degraded mode for constrained transports.
package queue

import (
	"container/heap"
	"errors"
	"sort"
	"sync"
	"time"

	"tether/sync/internal/permission"
	"tether/sync/internal/record"
)

// Item is one pending outbound record plus its delivery bookkeeping. The
// Permission snapshot is captured at enqueue time; later revocation does not
// recall the item.
type Item struct {
	ID          string                 `json:"id"`
	TargetID    string                 `json:"targetId"`
	Record      record.SyncRecord      `json:"record"`
	Priority    Priority               `json:"priority"`
	Attempts    int                    `json:"attempts"`
	MaxAttempts int                    `json:"maxAttempts"`
	EnqueuedAt  time.Time              `json:"enqueuedAt"`
	NextRetryAt time.Time              `json:"nextRetryAt,omitzero"`
	Permission  *permission.Permission `json:"permission,omitempty"`

	seq   uint64
	index int
}

// ErrFull reports an enqueue rejected because the queue is at capacity and
// the incoming item ranks at or below everything already queued.
var ErrFull = errors.New("queue full")

// Config bounds the queue and its retry policy.
type Config struct {
	Capacity             int
	BaseRetryDelay       time.Duration
	MaxRetryDelay        time.Duration
	MaxAttempts          int
	EmergencyMaxAttempts int
}

// DefaultConfig returns the standard queue bounds.
func DefaultConfig() Config {
	return Config{
		Capacity:             500,
		BaseRetryDelay:       2 * time.Second,
		MaxRetryDelay:        5 * time.Minute,
		MaxAttempts:          3,
		EmergencyMaxAttempts: 10,
	}
}

// Queue is safe for concurrent use. Ordering: priority bands first
// (critical > high > medium > low), then nextRetryAt ascending, then arrival
// order, so items within a band are FIFO.
type Queue struct {
	cfg Config

	mu       sync.Mutex
	items    itemHeap
	deferred []*Item // non-critical items parked while degraded
	degraded bool
	seq      uint64
	evicted  uint64
}

// New creates a queue. Zero config fields take their defaults.
func New(cfg Config) *Queue {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = def.BaseRetryDelay
	}
	if cfg.MaxRetryDelay <= 0 {
		cfg.MaxRetryDelay = def.MaxRetryDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.EmergencyMaxAttempts <= 0 {
		cfg.EmergencyMaxAttempts = def.EmergencyMaxAttempts
	}
	return &Queue{cfg: cfg}
}

// NewItem builds a queue item for rec with the queue's attempt bounds.
func (q *Queue) NewItem(id, targetID string, rec record.SyncRecord, prio Priority, perm *permission.Permission) *Item {
	maxAttempts := q.cfg.MaxAttempts
	if rec.IsEmergency {
		maxAttempts = q.cfg.EmergencyMaxAttempts
	}
	return &Item{
		ID:          id,
		TargetID:    targetID,
		Record:      rec,
		Priority:    prio,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  time.Now(),
		Permission:  perm,
	}
}

// Enqueue inserts item, evicting the lowest-priority oldest item when at
// capacity. The evicted item is returned so the caller can count the
// failure. If the incoming item itself ranks at or below the current lowest
// band, it is rejected with ErrFull instead. The capacity bound covers the
// heap and the degraded buffer together.
func (q *Queue) Enqueue(item *Item) (evicted *Item, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueueLocked(item)
}

func (q *Queue) enqueueLocked(item *Item) (*Item, error) {
	var evicted *Item
	if q.items.Len()+len(q.deferred) >= q.cfg.Capacity {
		victim, deferredIdx := q.lowestOldestLocked()
		if victim == nil || item.Priority < victim.Priority {
			return nil, ErrFull
		}
		if deferredIdx >= 0 {
			q.deferred = append(q.deferred[:deferredIdx], q.deferred[deferredIdx+1:]...)
		} else {
			heap.Remove(&q.items, victim.index)
		}
		q.evicted++
		evicted = victim
	}

	q.seq++
	item.seq = q.seq
	if q.degraded && item.Priority != PriorityCritical && !item.Record.IsEmergency {
		q.deferred = append(q.deferred, item)
		return evicted, nil
	}
	heap.Push(&q.items, item)
	return evicted, nil
}

// lowestOldestLocked finds the eviction victim across the heap and the
// degraded buffer: minimum priority, then earliest arrival. The second
// return is the victim's index in the deferred slice, or -1 when it lives
// in the heap.
func (q *Queue) lowestOldestLocked() (*Item, int) {
	var victim *Item
	deferredIdx := -1
	for _, it := range q.items {
		if victim == nil || it.Priority < victim.Priority ||
			(it.Priority == victim.Priority && it.seq < victim.seq) {
			victim = it
		}
	}
	for i, it := range q.deferred {
		if victim == nil || it.Priority < victim.Priority ||
			(it.Priority == victim.Priority && it.seq < victim.seq) {
			victim = it
			deferredIdx = i
		}
	}
	return victim, deferredIdx
}

// Drain removes and returns up to maxBatch items ready at now
// (nextRetryAt <= now), best priority first. It never blocks; an empty
// slice means nothing is ready.
func (q *Queue) Drain(maxBatch int, now time.Time) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []*Item
	var notReady []*Item
	for q.items.Len() > 0 && len(ready) < maxBatch {
		it := heap.Pop(&q.items).(*Item)
		if it.NextRetryAt.After(now) {
			notReady = append(notReady, it)
			continue
		}
		ready = append(ready, it)
	}
	for _, it := range notReady {
		heap.Push(&q.items, it)
	}
	return ready
}

// RequeueFailed records a failed delivery attempt for a drained item. If
// attempts remain it schedules the retry with capped exponential backoff and
// re-inserts the item, returning true. Otherwise the item is dropped as a
// terminal failure and false is returned.
func (q *Queue) RequeueFailed(item *Item, now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	item.Attempts++
	if item.Attempts >= item.MaxAttempts {
		return false
	}
	item.NextRetryAt = now.Add(q.RetryDelay(item.Attempts))
	q.seq++
	item.seq = q.seq
	heap.Push(&q.items, item)
	return true
}

// RetryDelay computes min(base * 2^(attempts-1), cap).
func (q *Queue) RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := q.cfg.BaseRetryDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= q.cfg.MaxRetryDelay {
			return q.cfg.MaxRetryDelay
		}
	}
	if delay > q.cfg.MaxRetryDelay {
		delay = q.cfg.MaxRetryDelay
	}
	return delay
}

// SetDegraded switches degraded mode. Entering it parks every non-critical,
// non-emergency item in a side buffer; leaving it re-admits the parked items
// through normal enqueue so capacity and ordering rules still apply.
func (q *Queue) SetDegraded(on bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.degraded == on {
		return
	}
	q.degraded = on

	if on {
		var kept itemHeap
		for _, it := range q.items {
			if it.Priority == PriorityCritical || it.Record.IsEmergency {
				kept = append(kept, it)
			} else {
				q.deferred = append(q.deferred, it)
			}
		}
		q.items = kept
		heap.Init(&q.items)
		return
	}

	parked := q.deferred
	q.deferred = nil
	for _, it := range parked {
		// Re-admission may evict; parked items that lose out are dropped.
		_, _ = q.enqueueLocked(it)
	}
}

// Degraded reports whether degraded mode is active.
func (q *Queue) Degraded() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.degraded
}

// Len returns the number of queued items, excluding the degraded buffer.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// DeferredLen returns the number of items parked by degraded mode.
func (q *Queue) DeferredLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.deferred)
}

// Evicted returns the number of items dropped by capacity eviction.
func (q *Queue) Evicted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evicted
}

// Snapshot returns all queued and deferred items for persistence, in
// dispatch order, so Restore's sequential seq assignment reproduces the
// band-FIFO ordering.
func (q *Queue) Snapshot() []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Item, 0, q.items.Len()+len(q.deferred))
	out = append(out, q.items...)
	out = append(out, q.deferred...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].NextRetryAt.Equal(out[j].NextRetryAt) {
			return out[i].NextRetryAt.Before(out[j].NextRetryAt)
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Restore reloads items saved by Snapshot, replacing current contents.
// Arrival order is reassigned from slice order.
func (q *Queue) Restore(items []*Item) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.deferred = nil
	for _, it := range items {
		q.seq++
		it.seq = q.seq
		q.items = append(q.items, it)
	}
	heap.Init(&q.items)
}

// itemHeap orders items for dispatch: priority desc, nextRetryAt asc,
// arrival asc.
type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	if !h[i].NextRetryAt.Equal(h[j].NextRetryAt) {
		return h[i].NextRetryAt.Before(h[j].NextRetryAt)
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*Item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
