// Package engine orchestrates tether sync: it gates outbound data on
// permissions, runs the integrity/privacy pipeline, drives the retrying
// priority queue over the transport, reconciles inbound conflicts, and owns
// the session and permission lifecycles.
//
// The engine is an explicitly constructed instance with injected
// collaborators; it holds no process-global state. The permission store,
// queue, and history are owned exclusively by the engine; all mutation goes
// through its public operations.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"tether/sync/internal/cipher"
	"tether/sync/internal/datatype"
	"tether/sync/internal/notify"
	"tether/sync/internal/permission"
	"tether/sync/internal/queue"
	"tether/sync/internal/record"
	"tether/sync/internal/resolver"
	"tether/sync/internal/session"
	"tether/sync/internal/storage"
	"tether/sync/internal/transform"
	"tether/sync/internal/transport"
	"tether/sync/internal/util"
)

// Config holds the engine's tunables. Zero fields take defaults.
type Config struct {
	SelfID           string
	Strategy         resolver.Strategy
	TickInterval     time.Duration
	DrainBatch       int
	SweepInterval    time.Duration
	HistoryRetention time.Duration
	HistoryLimit     int
	DispatchTimeout  time.Duration
	Queue            queue.Config
}

func (c *Config) applyDefaults() {
	if !c.Strategy.IsValid() {
		c.Strategy = resolver.EmergencyPriority
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 5 * time.Second
	}
	if c.DrainBatch <= 0 {
		c.DrainBatch = 10
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = 7 * 24 * time.Hour
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 100
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 10 * time.Second
	}
}

// Deps are the engine's injected collaborators.
type Deps struct {
	Storage   storage.Store
	Transport transport.Transport
	Cipher    cipher.Cipher
	Notifier  notify.Notifier
	Logger    *log.Logger
}

// SyncOptions carries per-call hints for SyncData.
type SyncOptions struct {
	Priority    queue.Priority
	IsEmergency bool
	Confidence  float64
	Encrypt     bool
}

// Engine is one party's sync service instance.
type Engine struct {
	cfg      Config
	storage  storage.Store
	trans    transport.Transport
	notifier notify.Notifier
	logger   *log.Logger

	perms    *permission.Store
	sessions *session.Manager
	q        *queue.Queue
	pipeline *transform.Pipeline
	stats    *counters

	historyMu sync.RWMutex
	history   map[string][]record.SyncRecord // per owner, newest last

	conflictMu sync.Mutex
	conflicts  map[string]*resolver.PendingConflict

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an engine. All collaborators except Logger and Notifier
// are required.
func New(cfg Config, deps Deps) (*Engine, error) {
	if cfg.SelfID == "" {
		return nil, errors.New("SelfID is required")
	}
	if deps.Storage == nil || deps.Transport == nil || deps.Cipher == nil {
		return nil, errors.New("storage, transport, and cipher are required")
	}
	cfg.applyDefaults()
	if deps.Logger == nil {
		deps.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogNotifier(deps.Logger)
	}

	e := &Engine{
		cfg:       cfg,
		storage:   deps.Storage,
		trans:     deps.Transport,
		notifier:  deps.Notifier,
		logger:    deps.Logger,
		perms:     permission.NewStore(cfg.SelfID),
		q:         queue.New(cfg.Queue),
		pipeline:  transform.New(deps.Cipher),
		stats:     newCounters(),
		history:   make(map[string][]record.SyncRecord),
		conflicts: make(map[string]*resolver.PendingConflict),
	}
	e.sessions = session.NewManager(e.onSessionTerminated)
	return e, nil
}

// Start loads persisted state, registers the inbound handler, and starts the
// background loop.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.cancel != nil {
		return errors.New("engine already started")
	}

	if err := e.loadState(ctx); err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	e.rebuildStats()

	e.trans.OnMessage(e.handleMessage)

	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Add(1)
	go e.runLoop(loopCtx)

	e.logger.Printf("engine started for %s (strategy=%s)", e.cfg.SelfID, e.cfg.Strategy)
	return nil
}

// Stop halts the background loop and flushes durable state. Undelivered
// queue items are persisted for redelivery on the next start.
func (e *Engine) Stop() error {
	e.runMu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.runMu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	e.wg.Wait()

	ctx, cancelFlush := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFlush()
	if err := e.flushState(ctx); err != nil {
		return fmt.Errorf("flush state: %w", err)
	}
	e.logger.Printf("engine stopped")
	return nil
}

// SyncData shares payload of the given type with target. It returns false
// on any recoverable failure (missing permission, validation failure,
// capacity rejection) because sync is best effort; the caller gets a
// boolean, the details go to logs and statistics.
func (e *Engine) SyncData(ctx context.Context, targetID string, t datatype.DataType, payload datatype.Payload, opts SyncOptions) bool {
	e.stats.requested(t)

	perm := e.perms.Lookup(targetID, t)
	if perm == nil {
		e.stats.permissionDenied()
		e.logger.Printf("%s: no active grant for (%s, %s)", CodePermissionDenied, targetID, t)
		if opts.IsEmergency {
			e.notifyEmergencyFailure(targetID, t, "no active permission")
		}
		return false
	}

	rec, err := e.pipeline.Prepare(e.cfg.SelfID, t, payload, perm, transform.Options{
		Confidence:  opts.Confidence,
		IsEmergency: opts.IsEmergency,
		Encrypt:     opts.Encrypt,
	})
	if err != nil {
		var verr *transform.ValidationError
		if errors.As(err, &verr) {
			e.stats.validationFailed()
			e.logger.Printf("%s: %v", CodeValidation, err)
		} else {
			e.stats.failure()
			e.logger.Printf("transform failed, dropping record: %v", err)
		}
		if opts.IsEmergency {
			e.notifyEmergencyFailure(targetID, t, err.Error())
		}
		return false
	}

	if opts.IsEmergency && opts.Priority < queue.PriorityCritical {
		opts.Priority = queue.PriorityCritical
	}

	permCopy := *perm
	item := e.q.NewItem(util.NewID("item"), targetID, rec, opts.Priority, &permCopy)
	evicted, err := e.q.Enqueue(item)
	if err != nil {
		e.stats.failure()
		e.logger.Printf("%s: queue rejected %s item for %s", CodeCapacityExceeded, opts.Priority, targetID)
		if opts.IsEmergency {
			e.notifyEmergencyFailure(targetID, t, "queue full")
		}
		return false
	}
	if evicted != nil {
		e.stats.failure()
		e.logger.Printf("%s: evicted %s item %s to admit %s", CodeCapacityExceeded, evicted.Priority, evicted.ID, item.ID)
	}

	if opts.IsEmergency {
		e.notifier.Notify(notify.Notification{
			Type:    "emergency-sync",
			Title:   "Emergency data shared",
			Message: fmt.Sprintf("emergency %s record queued for %s", t, targetID),
			Urgency: notify.UrgencyCritical,
			Data:    map[string]any{"targetId": targetID, "dataType": string(t)},
		})
	}

	if opts.Priority >= queue.PriorityHigh {
		e.drainOnce(ctx)
	}
	return true
}

// GrantPermission issues a grant to granteeID under an active session and
// notifies the grantee over the transport.
func (e *Engine) GrantPermission(ctx context.Context, granteeID, sessionID string, dataTypes []datatype.DataType, level permission.Level, opts permission.GrantOptions) (*permission.Permission, error) {
	sess, err := e.sessions.Get(sessionID)
	if err != nil {
		return nil, syncError(CodeNotFound, "unknown session", err)
	}
	if sess.State == session.StateTerminated {
		return nil, syncError(CodeUnauthorized, "session is terminated", nil)
	}

	perm, err := e.perms.Grant(granteeID, sessionID, dataTypes, level, opts)
	if err != nil {
		var scopeErr *permission.InvalidScopeError
		if errors.As(err, &scopeErr) {
			return nil, syncError(CodeInvalidScope, "data types exceed strength level", err)
		}
		return nil, err
	}
	e.persistPermissions(ctx)

	if msg, err := transport.NewMessage(transport.TypePermissionGranted, e.cfg.SelfID, granteeID, perm); err == nil {
		if err := e.sendBounded(ctx, msg); err != nil {
			e.logger.Printf("notify grantee of new grant: %v", err)
		}
	}
	e.notifier.Notify(notify.Notification{
		Type:    "permission-granted",
		Title:   "Sharing enabled",
		Message: fmt.Sprintf("granted %s access to %v", level, dataTypes),
		Urgency: notify.UrgencyNormal,
		Data:    map[string]any{"granteeId": granteeID, "sessionId": sessionID},
	})
	return perm, nil
}

// RevokePermission removes a grant and notifies the former grantee.
// Revocation does not recall items already enqueued under the old grant.
func (e *Engine) RevokePermission(ctx context.Context, granteeID, sessionID string) bool {
	removed := e.perms.Revoke(granteeID, sessionID)
	if !removed {
		return false
	}
	e.persistPermissions(ctx)

	payload := map[string]string{"granterId": e.cfg.SelfID, "sessionId": sessionID}
	if msg, err := transport.NewMessage(transport.TypePermissionRevoked, e.cfg.SelfID, granteeID, payload); err == nil {
		if err := e.sendBounded(ctx, msg); err != nil {
			e.logger.Printf("notify grantee of revocation: %v", err)
		}
	}
	return true
}

// CreateTetherSession opens a pending session with target and requests
// acceptance through the transport and notifier.
func (e *Engine) CreateTetherSession(ctx context.Context, targetID string, typ session.Type, metadata map[string]string) (*session.Session, error) {
	sess, err := e.sessions.Create(e.cfg.SelfID, targetID, typ, metadata)
	if err != nil {
		return nil, err
	}
	e.persistSessions(ctx)

	if msg, err := transport.NewMessage(transport.TypeSessionRequest, e.cfg.SelfID, targetID, sess); err == nil {
		if err := e.sendBounded(ctx, msg); err != nil {
			e.logger.Printf("deliver session request: %v", err)
		}
	}
	e.notifier.Notify(notify.Notification{
		Type:    "session-request",
		Title:   "Tether requested",
		Message: fmt.Sprintf("requested a %s tether with %s", typ, targetID),
		Urgency: notify.UrgencyNormal,
		Data:    map[string]any{"sessionId": sess.ID},
	})
	return sess, nil
}

// AcceptTetherSession accepts a pending session addressed to this party and
// informs the initiator.
func (e *Engine) AcceptTetherSession(ctx context.Context, sessionID string) error {
	sess, err := e.sessions.Accept(sessionID, e.cfg.SelfID)
	if err != nil {
		return wrapSessionErr(err)
	}
	e.persistSessions(ctx)

	payload := map[string]string{"sessionId": sessionID}
	if msg, err := transport.NewMessage(transport.TypeSessionAccepted, e.cfg.SelfID, sess.InitiatorID, payload); err == nil {
		if err := e.sendBounded(ctx, msg); err != nil {
			e.logger.Printf("deliver session acceptance: %v", err)
		}
	}
	return nil
}

// TerminateTetherSession terminates a session this party belongs to,
// cascades permission revocation, and informs the other party. Terminating
// an already-terminated session is a no-op.
func (e *Engine) TerminateTetherSession(ctx context.Context, sessionID string) error {
	sess, err := e.sessions.Terminate(sessionID, e.cfg.SelfID)
	if err != nil {
		return wrapSessionErr(err)
	}
	e.persistSessions(ctx)
	e.persistPermissions(ctx)

	other := sess.InitiatorID
	if other == e.cfg.SelfID {
		other = sess.TargetID
	}
	payload := map[string]string{"sessionId": sessionID}
	if msg, err := transport.NewMessage(transport.TypeSessionTerminated, e.cfg.SelfID, other, payload); err == nil {
		if err := e.sendBounded(ctx, msg); err != nil {
			e.logger.Printf("deliver session termination: %v", err)
		}
	}
	return nil
}

// PauseTetherSession suspends an active session.
func (e *Engine) PauseTetherSession(ctx context.Context, sessionID string) error {
	if _, err := e.sessions.Pause(sessionID, e.cfg.SelfID); err != nil {
		return wrapSessionErr(err)
	}
	e.persistSessions(ctx)
	return nil
}

// ResumeTetherSession reactivates a paused session.
func (e *Engine) ResumeTetherSession(ctx context.Context, sessionID string) error {
	if _, err := e.sessions.Resume(sessionID, e.cfg.SelfID); err != nil {
		return wrapSessionErr(err)
	}
	e.persistSessions(ctx)
	return nil
}

// ResolveConflict completes a pending user-choice conflict. The chosen
// record becomes effective; the other is discarded.
func (e *Engine) ResolveConflict(conflictID string, chooseIncoming bool) bool {
	e.conflictMu.Lock()
	pending, ok := e.conflicts[conflictID]
	if ok {
		delete(e.conflicts, conflictID)
	}
	e.conflictMu.Unlock()
	if !ok {
		return false
	}

	winner := pending.Existing
	if chooseIncoming {
		winner = pending.Incoming
	}
	e.commitRecord(winner)
	return true
}

// PendingConflicts returns the conflicts awaiting a user decision.
func (e *Engine) PendingConflicts() []resolver.PendingConflict {
	e.conflictMu.Lock()
	defer e.conflictMu.Unlock()
	out := make([]resolver.PendingConflict, 0, len(e.conflicts))
	for _, c := range e.conflicts {
		out = append(out, *c)
	}
	return out
}

// Session returns the session by id.
func (e *Engine) Session(id string) (*session.Session, error) {
	return e.sessions.Get(id)
}

// History returns the committed records for ownerID, newest last.
func (e *Engine) History(ownerID string) []record.SyncRecord {
	e.historyMu.RLock()
	defer e.historyMu.RUnlock()
	return append([]record.SyncRecord(nil), e.history[ownerID]...)
}

// Latest returns the most recent committed record for (ownerID, dataType).
func (e *Engine) Latest(ownerID string, t datatype.DataType) (record.SyncRecord, bool) {
	e.historyMu.RLock()
	defer e.historyMu.RUnlock()
	recs := e.history[ownerID]
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].DataType == t {
			return recs[i], true
		}
	}
	return record.SyncRecord{}, false
}

// Stats recomputes the derived statistics view.
func (e *Engine) Stats() Statistics {
	s := e.stats.snapshot()
	s.Pending = e.q.Len()
	s.Deferred = e.q.DeferredLen()
	s.Evicted = e.q.Evicted()
	return s
}

// onSessionTerminated is the cascade hook: every grant bound to the session
// is revoked, issued and received alike.
func (e *Engine) onSessionTerminated(sessionID string) {
	if removed := e.perms.RevokeSession(sessionID); removed > 0 {
		e.logger.Printf("session %s terminated, revoked %d grants", sessionID, removed)
	}
}

func (e *Engine) notifyEmergencyFailure(targetID string, t datatype.DataType, reason string) {
	// A failed emergency sync is itself safety-relevant; it must surface at
	// the highest urgency even though the sync did not happen.
	e.notifier.Notify(notify.Notification{
		Type:    "emergency-sync-failed",
		Title:   "Emergency data could not be shared",
		Message: fmt.Sprintf("emergency %s record for %s failed: %s", t, targetID, reason),
		Urgency: notify.UrgencyCritical,
		Data:    map[string]any{"targetId": targetID, "dataType": string(t)},
	})
}

// sendBounded sends with the dispatch deadline applied when the caller's
// context has none.
func (e *Engine) sendBounded(ctx context.Context, msg transport.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.DispatchTimeout)
		defer cancel()
	}
	return e.trans.Send(ctx, msg)
}

func wrapSessionErr(err error) error {
	switch {
	case errors.Is(err, session.ErrUnauthorized):
		return syncError(CodeUnauthorized, "caller is not authorized for this session", err)
	case errors.Is(err, session.ErrNotFound):
		return syncError(CodeNotFound, "unknown session", err)
	default:
		return err
	}
}
