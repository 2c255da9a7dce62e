package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"tether/sync/internal/notify"
	"tether/sync/internal/permission"
	"tether/sync/internal/record"
	"tether/sync/internal/resolver"
	"tether/sync/internal/session"
	"tether/sync/internal/transport"
)

// handleMessage routes inbound envelopes. It runs on the transport's read
// path, so anything slow is deliberately absent here.
func (e *Engine) handleMessage(msg transport.Message) {
	switch msg.Type {
	case transport.TypeSyncData:
		e.handleSyncData(msg)
	case transport.TypePermissionGranted:
		e.handlePermissionGranted(msg)
	case transport.TypePermissionRevoked:
		e.handlePermissionRevoked(msg)
	case transport.TypeSessionRequest:
		e.handleSessionRequest(msg)
	case transport.TypeSessionAccepted:
		e.handleSessionAccepted(msg)
	case transport.TypeSessionTerminated:
		e.handleSessionTerminated(msg)
	case transport.TypeConflictDecision:
		e.handleConflictDecision(msg)
	default:
		e.logger.Printf("ignoring unknown message type %q from %s", msg.Type, msg.SenderID)
	}
}

// handleSyncData processes an inbound record: the sender must hold a grant
// covering the record's data type, the payload must decrypt, and the
// checksum must verify. A checksum mismatch drops the record; corrupted or
// tampered data never reaches history.
func (e *Engine) handleSyncData(msg transport.Message) {
	var rec record.SyncRecord
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		e.logger.Printf("malformed sync-data from %s: %v", msg.SenderID, err)
		return
	}
	if rec.OwnerID != msg.SenderID {
		e.logger.Printf("%s: sender %s does not own record %s", CodeUnauthorized, msg.SenderID, rec.ID)
		return
	}

	if perm := e.perms.LookupReceived(msg.SenderID, rec.DataType); perm == nil {
		e.stats.permissionDenied()
		e.logger.Printf("%s: no grant from %s covers inbound %s record", CodePermissionDenied, msg.SenderID, rec.DataType)
		return
	}

	if err := e.pipeline.Decrypt(&rec); err != nil {
		e.stats.integrityFailed()
		e.logger.Printf("%s: %v", CodeIntegrityMismatch, err)
		return
	}
	if !e.pipeline.Verify(&rec) {
		e.stats.integrityFailed()
		e.logger.Printf("%s: checksum mismatch on record %s from %s, dropping", CodeIntegrityMismatch, rec.ID, msg.SenderID)
		return
	}

	e.reconcile(rec)
}

// reconcile resolves the verified record against the current head for its
// (owner, data type) and commits the outcome.
func (e *Engine) reconcile(rec record.SyncRecord) {
	existing, ok := e.Latest(rec.OwnerID, rec.DataType)
	if !ok {
		e.commitRecord(rec)
		return
	}
	if existing.ID == rec.ID {
		return // duplicate delivery
	}

	outcome := resolver.Resolve(e.cfg.Strategy, existing, rec)
	if outcome.Pending != nil {
		e.conflictMu.Lock()
		e.conflicts[outcome.Pending.ID] = outcome.Pending
		e.conflictMu.Unlock()
		e.notifier.Notify(notify.Notification{
			Type:    "conflict-pending",
			Title:   "Sync conflict needs a decision",
			Message: fmt.Sprintf("two versions of %s data from %s are in conflict", rec.DataType, rec.OwnerID),
			Urgency: notify.UrgencyHigh,
			Data:    map[string]any{"conflictId": outcome.Pending.ID},
		})
		return
	}
	if outcome.Winner.ID == existing.ID {
		return // existing record stands
	}
	e.commitRecord(*outcome.Winner)
}

// commitRecord appends rec to the owner's history, bounded to HistoryLimit
// entries, counts it, and escalates emergencies.
func (e *Engine) commitRecord(rec record.SyncRecord) {
	e.historyMu.Lock()
	recs := append(e.history[rec.OwnerID], rec)
	if over := len(recs) - e.cfg.HistoryLimit; over > 0 {
		recs = append([]record.SyncRecord(nil), recs[over:]...)
	}
	e.history[rec.OwnerID] = recs
	e.historyMu.Unlock()

	e.stats.recordReceived(rec.DataType)

	if rec.IsEmergency {
		e.notifier.Notify(notify.Notification{
			Type:    "emergency-received",
			Title:   "Emergency data received",
			Message: fmt.Sprintf("%s shared emergency %s data", rec.OwnerID, rec.DataType),
			Urgency: notify.UrgencyCritical,
			Data:    map[string]any{"ownerId": rec.OwnerID, "recordId": rec.ID},
		})
	}
}

func (e *Engine) handlePermissionGranted(msg transport.Message) {
	var perm permission.Permission
	if err := json.Unmarshal(msg.Payload, &perm); err != nil {
		e.logger.Printf("malformed permission grant from %s: %v", msg.SenderID, err)
		return
	}
	if perm.GranterID != msg.SenderID {
		e.logger.Printf("%s: %s sent a grant issued by %s", CodeUnauthorized, msg.SenderID, perm.GranterID)
		return
	}
	e.perms.RecordReceived(perm)
	e.persistPermissions(context.Background())
	e.logger.Printf("recorded %s grant from %s for %v", perm.Level, msg.SenderID, perm.DataTypes)
}

func (e *Engine) handlePermissionRevoked(msg transport.Message) {
	var body struct {
		GranterID string `json:"granterId"`
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(msg.Payload, &body); err != nil {
		e.logger.Printf("malformed revocation from %s: %v", msg.SenderID, err)
		return
	}
	if e.perms.RevokeReceived(msg.SenderID, body.SessionID) {
		e.persistPermissions(context.Background())
		e.logger.Printf("grant from %s under session %s revoked", msg.SenderID, body.SessionID)
	}
}

func (e *Engine) handleSessionRequest(msg transport.Message) {
	var sess session.Session
	if err := json.Unmarshal(msg.Payload, &sess); err != nil {
		e.logger.Printf("malformed session request from %s: %v", msg.SenderID, err)
		return
	}
	if sess.InitiatorID != msg.SenderID || sess.TargetID != e.cfg.SelfID {
		e.logger.Printf("%s: session request %s has mismatched parties", CodeUnauthorized, sess.ID)
		return
	}
	sess.State = session.StatePending
	e.sessions.Record(sess)
	e.persistSessions(context.Background())
	e.notifier.Notify(notify.Notification{
		Type:    "session-requested",
		Title:   "Tether request",
		Message: fmt.Sprintf("%s wants to open a %s tether", msg.SenderID, sess.Type),
		Urgency: notify.UrgencyNormal,
		Data:    map[string]any{"sessionId": sess.ID},
	})
}

func (e *Engine) handleSessionAccepted(msg transport.Message) {
	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(msg.Payload, &body); err != nil {
		e.logger.Printf("malformed session acceptance from %s: %v", msg.SenderID, err)
		return
	}
	if _, err := e.sessions.Accept(body.SessionID, msg.SenderID); err != nil {
		e.logger.Printf("acceptance of %s by %s rejected: %v", body.SessionID, msg.SenderID, err)
		return
	}
	e.persistSessions(context.Background())
	e.notifier.Notify(notify.Notification{
		Type:    "session-accepted",
		Title:   "Tether accepted",
		Message: fmt.Sprintf("%s accepted the tether", msg.SenderID),
		Urgency: notify.UrgencyNormal,
		Data:    map[string]any{"sessionId": body.SessionID},
	})
}

func (e *Engine) handleSessionTerminated(msg transport.Message) {
	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(msg.Payload, &body); err != nil {
		e.logger.Printf("malformed session termination from %s: %v", msg.SenderID, err)
		return
	}
	if _, err := e.sessions.Terminate(body.SessionID, msg.SenderID); err != nil {
		e.logger.Printf("termination of %s by %s rejected: %v", body.SessionID, msg.SenderID, err)
		return
	}
	ctx := context.Background()
	e.persistSessions(ctx)
	e.persistPermissions(ctx)
}

func (e *Engine) handleConflictDecision(msg transport.Message) {
	var body struct {
		ConflictID     string `json:"conflictId"`
		ChooseIncoming bool   `json:"chooseIncoming"`
	}
	if err := json.Unmarshal(msg.Payload, &body); err != nil {
		e.logger.Printf("malformed conflict decision from %s: %v", msg.SenderID, err)
		return
	}
	if !e.ResolveConflict(body.ConflictID, body.ChooseIncoming) {
		e.logger.Printf("%s: conflict %s is not pending", CodeNotFound, body.ConflictID)
	}
}
