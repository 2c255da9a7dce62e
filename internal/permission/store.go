package permission

import (
	"errors"
	"sync"
	"time"

	"tether/sync/internal/datatype"
	"tether/sync/internal/util"
)

// GrantOptions carries the optional attributes of a grant.
type GrantOptions struct {
	Expiry       time.Time
	IsTemporary  bool
	Anonymized   bool
	Restrictions map[datatype.DataType]Restriction
}

// Store holds the grants known to one party: grants it has issued to others
// and mirrors of grants others have issued to it. All methods are safe for
// concurrent use; each operation locks individually so a slow caller never
// holds the store across a blocking boundary.
type Store struct {
	selfID string

	mu       sync.RWMutex
	issued   map[grantKey]*Permission // key: grantee + session
	received map[grantKey]*Permission // key: granter + session
	now      func() time.Time
}

type grantKey struct {
	party   string
	session string
}

// NewStore creates a permission store for the party identified by selfID.
func NewStore(selfID string) *Store {
	return &Store{
		selfID:   selfID,
		issued:   make(map[grantKey]*Permission),
		received: make(map[grantKey]*Permission),
		now:      time.Now,
	}
}

// Grant issues (or atomically replaces) a grant from this party to granteeID
// bound to sessionID. Requesting any data type outside the allowed set for
// level fails with *InvalidScopeError and leaves any prior grant untouched.
func (s *Store) Grant(granteeID, sessionID string, dataTypes []datatype.DataType, level Level, opts GrantOptions) (*Permission, error) {
	if granteeID == "" || sessionID == "" {
		return nil, errors.New("grantee and session are required")
	}
	if len(dataTypes) == 0 {
		return nil, errors.New("at least one data type is required")
	}
	var outside []datatype.DataType
	for _, t := range dataTypes {
		if !level.Allows(t) {
			outside = append(outside, t)
		}
	}
	if len(outside) > 0 {
		return nil, &InvalidScopeError{Level: level, Outside: outside}
	}

	p := &Permission{
		ID:           util.NewID("perm"),
		GranterID:    s.selfID,
		GranteeID:    granteeID,
		SessionID:    sessionID,
		DataTypes:    append([]datatype.DataType(nil), dataTypes...),
		Level:        level,
		Expiry:       opts.Expiry,
		IsTemporary:  opts.IsTemporary,
		Anonymized:   opts.Anonymized,
		Restrictions: opts.Restrictions,
		GrantedAt:    s.now(),
	}

	s.mu.Lock()
	s.issued[grantKey{granteeID, sessionID}] = p
	s.mu.Unlock()
	return p, nil
}

// Revoke removes the grant issued to granteeID under sessionID. Revoking a
// grant that does not exist is a no-op; the bool reports whether anything
// was removed.
func (s *Store) Revoke(granteeID, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grantKey{granteeID, sessionID}
	if _, ok := s.issued[key]; !ok {
		return false
	}
	delete(s.issued, key)
	return true
}

// Lookup returns the active issued grant covering (granteeID, dataType), or
// nil. Expired grants are treated as absent without being removed.
func (s *Store) Lookup(granteeID string, t datatype.DataType) *Permission {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, p := range s.issued {
		if key.party != granteeID || p.ExpiredAt(now) || !p.Covers(t) {
			continue
		}
		return p
	}
	return nil
}

// RecordReceived mirrors a grant another party has issued to this party,
// replacing any prior mirror for the same (granter, session).
func (s *Store) RecordReceived(p Permission) {
	s.mu.Lock()
	s.received[grantKey{p.GranterID, p.SessionID}] = &p
	s.mu.Unlock()
}

// RevokeReceived drops the mirror of a grant from granterID under sessionID.
func (s *Store) RevokeReceived(granterID, sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grantKey{granterID, sessionID}
	if _, ok := s.received[key]; !ok {
		return false
	}
	delete(s.received, key)
	return true
}

// LookupReceived returns the active mirrored grant covering
// (granterID, dataType), or nil.
func (s *Store) LookupReceived(granterID string, t datatype.DataType) *Permission {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, p := range s.received {
		if key.party != granterID || p.ExpiredAt(now) || !p.Covers(t) {
			continue
		}
		return p
	}
	return nil
}

// RevokeSession removes every grant, issued or received, bound to sessionID.
// Returns the number of grants removed.
func (s *Store) RevokeSession(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key := range s.issued {
		if key.session == sessionID {
			delete(s.issued, key)
			removed++
		}
	}
	for key := range s.received {
		if key.session == sessionID {
			delete(s.received, key)
			removed++
		}
	}
	return removed
}

// SweepExpired physically removes expired grants. Lazy expiry in Lookup
// already hides them; the sweep just reclaims the entries.
func (s *Store) SweepExpired() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, p := range s.issued {
		if p.ExpiredAt(now) {
			delete(s.issued, key)
			removed++
		}
	}
	for key, p := range s.received {
		if p.ExpiredAt(now) {
			delete(s.received, key)
			removed++
		}
	}
	return removed
}

// Snapshot returns copies of all grants for persistence.
func (s *Store) Snapshot() (issued, received []Permission) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.issued {
		issued = append(issued, *p)
	}
	for _, p := range s.received {
		received = append(received, *p)
	}
	return issued, received
}

// Restore loads grants saved by Snapshot, replacing current contents.
func (s *Store) Restore(issued, received []Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued = make(map[grantKey]*Permission, len(issued))
	for i := range issued {
		p := issued[i]
		s.issued[grantKey{p.GranteeID, p.SessionID}] = &p
	}
	s.received = make(map[grantKey]*Permission, len(received))
	for i := range received {
		p := received[i]
		s.received[grantKey{p.GranterID, p.SessionID}] = &p
	}
}
