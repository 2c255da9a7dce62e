package engine

import (
	"context"
	"time"

	"tether/sync/internal/queue"
	"tether/sync/internal/transport"
)

// runLoop drives the engine's periodic work: draining the queue, tracking
// transport health, sweeping expired grants, and trimming stale history.
func (e *Engine) runLoop(ctx context.Context) {
	defer e.wg.Done()

	tick := time.NewTicker(e.cfg.TickInterval)
	defer tick.Stop()
	sweep := time.NewTicker(e.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			e.updateDegraded()
			e.drainOnce(ctx)
		case <-sweep.C:
			if removed := e.perms.SweepExpired(); removed > 0 {
				e.logger.Printf("swept %d expired grants", removed)
				e.persistPermissions(ctx)
			}
			e.trimHistory()
		}
	}
}

// updateDegraded follows the transport link state. An offline transport
// parks non-critical traffic; emergencies and critical items keep flowing
// into the queue so they dispatch the instant the link returns.
func (e *Engine) updateDegraded() {
	online := e.trans.Online()
	if e.q.Degraded() == !online {
		return
	}
	e.q.SetDegraded(!online)
	if online {
		e.logger.Printf("transport online, resuming full sync")
	} else {
		e.logger.Printf("transport offline, degraded mode: deferring non-critical items")
	}
}

// drainOnce dispatches one batch of ready items. Failures are requeued with
// backoff until their attempt budget runs out.
func (e *Engine) drainOnce(ctx context.Context) {
	now := time.Now()
	batch := e.q.Drain(e.cfg.DrainBatch, now)
	for _, item := range batch {
		if err := e.dispatch(ctx, item); err != nil {
			if e.q.RequeueFailed(item, time.Now()) {
				e.logger.Printf("dispatch %s to %s failed (attempt %d/%d), retrying in %s: %v",
					item.ID, item.TargetID, item.Attempts, item.MaxAttempts, e.q.RetryDelay(item.Attempts), err)
			} else {
				e.stats.failure()
				e.logger.Printf("%s: item %s to %s dropped after %d attempts: %v",
					CodeTransport, item.ID, item.TargetID, item.Attempts, err)
				if item.Record.IsEmergency {
					e.notifyEmergencyFailure(item.TargetID, item.Record.DataType, "delivery exhausted retries")
				}
			}
			continue
		}
		e.stats.success(time.Since(item.EnqueuedAt))
	}
}

// dispatch sends one item over the transport.
func (e *Engine) dispatch(ctx context.Context, item *queue.Item) error {
	msg, err := transport.NewMessage(transport.TypeSyncData, e.cfg.SelfID, item.TargetID, item.Record)
	if err != nil {
		return err
	}
	return e.sendBounded(ctx, msg)
}
