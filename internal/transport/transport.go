// Package transport defines the messaging boundary between tethered parties
// and provides a websocket implementation plus an in-process loopback for
// tests and single-host deployments.
package transport

import (
	"context"
	"encoding/json"
	"errors"
)

// MessageType routes an envelope to its handler on the receiving side.
type MessageType string

const (
	TypeSyncData          MessageType = "sync-data"
	TypePermissionGranted MessageType = "permission-granted"
	TypePermissionRevoked MessageType = "permission-revoked"
	TypeSessionRequest    MessageType = "session-request"
	TypeSessionAccepted   MessageType = "session-accepted"
	TypeSessionTerminated MessageType = "session-terminated"
	TypeConflictDecision  MessageType = "conflict-decision"
)

// Message is the wire envelope for everything the engine exchanges.
type Message struct {
	Type     MessageType     `json:"type"`
	SenderID string          `json:"senderId"`
	TargetID string          `json:"targetId"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds an envelope with a JSON-encoded payload.
func NewMessage(t MessageType, senderID, targetID string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, SenderID: senderID, TargetID: targetID, Payload: raw}, nil
}

// Handler consumes inbound envelopes. Handlers must not block; slow work
// belongs on the engine's own loop.
type Handler func(Message)

// ErrOffline reports a send attempted while the transport has no link.
var ErrOffline = errors.New("transport offline")

// Transport moves envelopes between parties. Send must respect the context
// deadline; a delivery that cannot complete in time is a failure, never a
// hang.
type Transport interface {
	Send(ctx context.Context, msg Message) error
	OnMessage(h Handler)
	Online() bool
	Close() error
}
