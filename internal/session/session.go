// Package session manages tether sessions: consented pairings between two
// parties that scope every permission grant.
package session

import (
	"errors"
	"sync"
	"time"

	"tether/sync/internal/util"
)

// Type classifies the support relationship of a pairing.
type Type string

const (
	TypePeer         Type = "peer"
	TypeFamily       Type = "family"
	TypeProfessional Type = "professional"
	TypeEmergency    Type = "emergency"
)

// IsValid returns true if t is a known session type.
func (t Type) IsValid() bool {
	switch t {
	case TypePeer, TypeFamily, TypeProfessional, TypeEmergency:
		return true
	default:
		return false
	}
}

// State is the session lifecycle state. Terminated is absorbing.
type State string

const (
	StatePending    State = "pending"
	StateActive     State = "active"
	StatePaused     State = "paused"
	StateTerminated State = "terminated"
)

// Session is one pairing between two parties.
type Session struct {
	ID           string            `json:"id"`
	InitiatorID  string            `json:"initiatorId"`
	TargetID     string            `json:"targetId"`
	Type         Type              `json:"type"`
	State        State             `json:"state"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	AcceptedAt   time.Time         `json:"acceptedAt,omitzero"`
	TerminatedAt time.Time         `json:"terminatedAt,omitzero"`
}

// hasParty reports whether partyID is one of the session's two parties.
func (s *Session) hasParty(partyID string) bool {
	return partyID == s.InitiatorID || partyID == s.TargetID
}

var (
	// ErrNotFound indicates the session id is unknown.
	ErrNotFound = errors.New("session not found")

	// ErrUnauthorized indicates the caller may not perform this transition.
	ErrUnauthorized = errors.New("caller is not authorized for this session")

	// ErrInvalidState indicates the transition is not legal from the
	// session's current state.
	ErrInvalidState = errors.New("invalid session state for this transition")
)

// Manager owns the session state machines. Terminating a session fires the
// injected cascade so bound permissions are revoked with it.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// onTerminate runs after a session reaches terminated, outside the lock.
	onTerminate func(sessionID string)
	now         func() time.Time
}

// NewManager creates a session manager. onTerminate may be nil.
func NewManager(onTerminate func(sessionID string)) *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		onTerminate: onTerminate,
		now:         time.Now,
	}
}

// Create opens a new pending session from initiatorID to targetID.
func (m *Manager) Create(initiatorID, targetID string, typ Type, metadata map[string]string) (*Session, error) {
	if initiatorID == "" || targetID == "" {
		return nil, errors.New("initiator and target are required")
	}
	if initiatorID == targetID {
		return nil, errors.New("cannot tether to self")
	}
	if !typ.IsValid() {
		typ = TypePeer
	}
	s := &Session{
		ID:          util.NewID("sess"),
		InitiatorID: initiatorID,
		TargetID:    targetID,
		Type:        typ,
		State:       StatePending,
		Metadata:    metadata,
		CreatedAt:   m.now(),
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s, nil
}

// Accept moves a pending session to active. Only the target party may
// accept.
func (m *Manager) Accept(id, callerID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if callerID != s.TargetID {
		return nil, ErrUnauthorized
	}
	if s.State != StatePending {
		return nil, ErrInvalidState
	}
	s.State = StateActive
	s.AcceptedAt = m.now()
	return s, nil
}

// Pause suspends an active session. Either party may pause.
func (m *Manager) Pause(id, callerID string) (*Session, error) {
	return m.transition(id, callerID, StateActive, StatePaused)
}

// Resume reactivates a paused session. Either party may resume.
func (m *Manager) Resume(id, callerID string) (*Session, error) {
	return m.transition(id, callerID, StatePaused, StateActive)
}

func (m *Manager) transition(id, callerID string, from, to State) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !s.hasParty(callerID) {
		return nil, ErrUnauthorized
	}
	if s.State != from {
		return nil, ErrInvalidState
	}
	s.State = to
	return s, nil
}

// Terminate moves a session to terminated from any state. Either party may
// terminate; re-terminating is a no-op. The permission cascade fires once.
func (m *Manager) Terminate(id, callerID string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if !s.hasParty(callerID) {
		m.mu.Unlock()
		return nil, ErrUnauthorized
	}
	if s.State == StateTerminated {
		m.mu.Unlock()
		return s, nil
	}
	s.State = StateTerminated
	s.TerminatedAt = m.now()
	cascade := m.onTerminate
	m.mu.Unlock()

	if cascade != nil {
		cascade(id)
	}
	return s, nil
}

// Get returns the session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Active reports whether the session exists and is in the active state.
func (m *Manager) Active(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return ok && s.State == StateActive
}

// Snapshot returns copies of all sessions for persistence.
func (m *Manager) Snapshot() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	return out
}

// Restore loads sessions saved by Snapshot, replacing current contents.
func (m *Manager) Restore(sessions []Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session, len(sessions))
	for i := range sessions {
		s := sessions[i]
		m.sessions[s.ID] = &s
	}
}

// Record inserts a session created elsewhere (an inbound session request
// mirrored from the initiating party).
func (m *Manager) Record(s Session) {
	m.mu.Lock()
	m.sessions[s.ID] = &s
	m.mu.Unlock()
}
