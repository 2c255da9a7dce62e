package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"tether/sync/internal/permission"
	"tether/sync/internal/queue"
	"tether/sync/internal/record"
	"tether/sync/internal/session"
	"tether/sync/internal/storage"
)

// permissionsDoc is the persisted shape of the permission store: grants this
// party has issued plus mirrors of grants it has received.
type permissionsDoc struct {
	Issued   []permission.Permission `json:"issued"`
	Received []permission.Permission `json:"received"`
}

// loadState restores permissions, sessions, queued items, and history from
// the store. Absent documents are a fresh start, not an error.
func (e *Engine) loadState(ctx context.Context) error {
	var perms permissionsDoc
	if ok, err := e.loadDoc(ctx, storage.KeyPermissions, &perms); err != nil {
		return err
	} else if ok {
		e.perms.Restore(perms.Issued, perms.Received)
	}

	var sessions []session.Session
	if ok, err := e.loadDoc(ctx, storage.KeySessions, &sessions); err != nil {
		return err
	} else if ok {
		e.sessions.Restore(sessions)
	}

	var items []*queue.Item
	if ok, err := e.loadDoc(ctx, storage.KeyQueue, &items); err != nil {
		return err
	} else if ok {
		e.q.Restore(items)
	}

	var owners []string
	if ok, err := e.loadDoc(ctx, storage.KeyHistoryOwners, &owners); err != nil {
		return err
	} else if !ok {
		return nil
	}
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	for _, owner := range owners {
		var recs []record.SyncRecord
		ok, err := e.loadDoc(ctx, storage.HistoryKey(owner), &recs)
		if err != nil {
			return err
		}
		if ok && len(recs) > 0 {
			e.history[owner] = recs
		}
	}
	return nil
}

// flushState writes every durable document. Called on shutdown; periodic
// persistence happens piecemeal as state changes.
func (e *Engine) flushState(ctx context.Context) error {
	e.persistPermissions(ctx)
	e.persistSessions(ctx)

	if err := e.saveDoc(ctx, storage.KeyQueue, e.q.Snapshot()); err != nil {
		return err
	}
	return e.persistHistory(ctx)
}

func (e *Engine) persistPermissions(ctx context.Context) {
	issued, received := e.perms.Snapshot()
	if err := e.saveDoc(ctx, storage.KeyPermissions, permissionsDoc{Issued: issued, Received: received}); err != nil {
		e.logger.Printf("persist permissions: %v", err)
	}
}

func (e *Engine) persistSessions(ctx context.Context) {
	if err := e.saveDoc(ctx, storage.KeySessions, e.sessions.Snapshot()); err != nil {
		e.logger.Printf("persist sessions: %v", err)
	}
}

func (e *Engine) persistHistory(ctx context.Context) error {
	e.historyMu.RLock()
	owners := make([]string, 0, len(e.history))
	docs := make(map[string][]record.SyncRecord, len(e.history))
	for owner, recs := range e.history {
		owners = append(owners, owner)
		docs[owner] = append([]record.SyncRecord(nil), recs...)
	}
	e.historyMu.RUnlock()

	sort.Strings(owners)
	if err := e.saveDoc(ctx, storage.KeyHistoryOwners, owners); err != nil {
		return err
	}
	for _, owner := range owners {
		if err := e.saveDoc(ctx, storage.HistoryKey(owner), docs[owner]); err != nil {
			return err
		}
	}
	return nil
}

// trimHistory drops records older than the retention window.
func (e *Engine) trimHistory() {
	cutoff := time.Now().Add(-e.cfg.HistoryRetention)
	e.historyMu.Lock()
	defer e.historyMu.Unlock()
	for owner, recs := range e.history {
		kept := recs[:0]
		for _, r := range recs {
			if r.Timestamp.After(cutoff) {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 {
			delete(e.history, owner)
			continue
		}
		e.history[owner] = kept
	}
}

// rebuildStats recomputes the received counters from restored history.
// Statistics are never persisted; everything derivable is derived.
func (e *Engine) rebuildStats() {
	e.historyMu.RLock()
	defer e.historyMu.RUnlock()
	for _, recs := range e.history {
		for _, r := range recs {
			e.stats.recordReceived(r.DataType)
		}
	}
}

func (e *Engine) loadDoc(ctx context.Context, key string, out any) (bool, error) {
	raw, ok, err := e.storage.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (e *Engine) saveDoc(ctx context.Context, key string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := e.storage.Set(ctx, key, string(raw)); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}
