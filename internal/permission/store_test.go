package permission

import (
	"errors"
	"testing"
	"time"

	"tether/sync/internal/datatype"
)

func TestGrantWithinLevelSucceeds(t *testing.T) {
	tests := []struct {
		level Level
		types []datatype.DataType
	}{
		{LevelViewOnly, []datatype.DataType{datatype.Mood, datatype.Presence, datatype.Progress}},
		{LevelSupport, []datatype.DataType{datatype.Mood, datatype.Vitals, datatype.Location, datatype.Contacts}},
		{LevelFullSync, datatype.All()},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			s := NewStore("alice")
			p, err := s.Grant("bob", "sess-1", tt.types, tt.level, GrantOptions{})
			if err != nil {
				t.Fatalf("grant failed: %v", err)
			}
			if p.GranterID != "alice" || p.GranteeID != "bob" {
				t.Errorf("grant parties = %s -> %s", p.GranterID, p.GranteeID)
			}
		})
	}
}

func TestGrantOutsideLevelFails(t *testing.T) {
	tests := []struct {
		level Level
		bad   datatype.DataType
	}{
		{LevelViewOnly, datatype.Vitals},
		{LevelViewOnly, datatype.Crisis},
		{LevelSupport, datatype.Crisis},
		{LevelSupport, datatype.SafetyPlan},
	}
	for _, tt := range tests {
		s := NewStore("alice")
		_, err := s.Grant("bob", "sess-1", []datatype.DataType{datatype.Mood, tt.bad}, tt.level, GrantOptions{})
		var scopeErr *InvalidScopeError
		if !errors.As(err, &scopeErr) {
			t.Fatalf("%s + %s: err = %v, want InvalidScopeError", tt.level, tt.bad, err)
		}
		if len(scopeErr.Outside) != 1 || scopeErr.Outside[0] != tt.bad {
			t.Errorf("outside = %v, want [%s]", scopeErr.Outside, tt.bad)
		}
		if got := s.Lookup("bob", datatype.Mood); got != nil {
			t.Error("failed grant must not be stored")
		}
	}
}

func TestGrantUpsertReplaces(t *testing.T) {
	s := NewStore("alice")
	if _, err := s.Grant("bob", "sess-1", []datatype.DataType{datatype.Mood, datatype.Presence}, LevelViewOnly, GrantOptions{}); err != nil {
		t.Fatalf("first grant: %v", err)
	}
	if _, err := s.Grant("bob", "sess-1", []datatype.DataType{datatype.Progress}, LevelViewOnly, GrantOptions{}); err != nil {
		t.Fatalf("second grant: %v", err)
	}
	if s.Lookup("bob", datatype.Mood) != nil {
		t.Error("replaced grant still covers mood")
	}
	if s.Lookup("bob", datatype.Progress) == nil {
		t.Error("new grant does not cover progress")
	}
}

func TestRevokeIdempotent(t *testing.T) {
	s := NewStore("alice")
	if _, err := s.Grant("bob", "sess-1", []datatype.DataType{datatype.Mood}, LevelViewOnly, GrantOptions{}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if !s.Revoke("bob", "sess-1") {
		t.Error("first revoke should report removal")
	}
	if s.Revoke("bob", "sess-1") {
		t.Error("second revoke should be a no-op")
	}
	if s.Lookup("bob", datatype.Mood) != nil {
		t.Error("revoked grant still visible")
	}
}

func TestLazyExpiry(t *testing.T) {
	s := NewStore("alice")
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	_, err := s.Grant("bob", "sess-1", []datatype.DataType{datatype.Mood}, LevelViewOnly, GrantOptions{
		Expiry:      current.Add(time.Hour),
		IsTemporary: true,
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if s.Lookup("bob", datatype.Mood) == nil {
		t.Fatal("grant should be active before expiry")
	}

	current = current.Add(2 * time.Hour)
	if s.Lookup("bob", datatype.Mood) != nil {
		t.Error("expired grant must read as absent without deletion")
	}

	if removed := s.SweepExpired(); removed != 1 {
		t.Errorf("sweep removed %d, want 1", removed)
	}
	if removed := s.SweepExpired(); removed != 0 {
		t.Errorf("second sweep removed %d, want 0", removed)
	}
}

func TestRevokeSessionCascades(t *testing.T) {
	s := NewStore("alice")
	for _, grantee := range []string{"bob", "carol", "dave"} {
		if _, err := s.Grant(grantee, "sess-1", []datatype.DataType{datatype.Mood}, LevelViewOnly, GrantOptions{}); err != nil {
			t.Fatalf("grant %s: %v", grantee, err)
		}
	}
	if _, err := s.Grant("bob", "sess-2", []datatype.DataType{datatype.Presence}, LevelViewOnly, GrantOptions{}); err != nil {
		t.Fatalf("grant other session: %v", err)
	}

	if removed := s.RevokeSession("sess-1"); removed != 3 {
		t.Errorf("cascade removed %d, want 3", removed)
	}
	for _, grantee := range []string{"bob", "carol", "dave"} {
		if s.Lookup(grantee, datatype.Mood) != nil {
			t.Errorf("grant to %s survived session termination", grantee)
		}
	}
	if s.Lookup("bob", datatype.Presence) == nil {
		t.Error("grant on an unrelated session was removed")
	}
}

func TestReceivedMirror(t *testing.T) {
	s := NewStore("bob")
	s.RecordReceived(Permission{
		ID: "perm_x", GranterID: "alice", GranteeID: "bob", SessionID: "sess-1",
		DataTypes: []datatype.DataType{datatype.Vitals}, Level: LevelSupport,
		GrantedAt: time.Now(),
	})
	if s.LookupReceived("alice", datatype.Vitals) == nil {
		t.Fatal("mirrored grant not found")
	}
	if s.LookupReceived("alice", datatype.Crisis) != nil {
		t.Error("mirror covers a type it was not granted")
	}
	if !s.RevokeReceived("alice", "sess-1") {
		t.Error("revoke received should report removal")
	}
	if s.LookupReceived("alice", datatype.Vitals) != nil {
		t.Error("revoked mirror still visible")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := NewStore("alice")
	if _, err := s.Grant("bob", "sess-1", []datatype.DataType{datatype.Mood}, LevelViewOnly, GrantOptions{Anonymized: true}); err != nil {
		t.Fatalf("grant: %v", err)
	}
	s.RecordReceived(Permission{ID: "perm_y", GranterID: "carol", GranteeID: "alice", SessionID: "sess-9",
		DataTypes: []datatype.DataType{datatype.Mood}, Level: LevelViewOnly})

	issued, received := s.Snapshot()
	restored := NewStore("alice")
	restored.Restore(issued, received)

	p := restored.Lookup("bob", datatype.Mood)
	if p == nil || !p.Anonymized {
		t.Errorf("restored issued grant = %+v", p)
	}
	if restored.LookupReceived("carol", datatype.Mood) == nil {
		t.Error("restored received grant missing")
	}
}

func TestLevelLattice(t *testing.T) {
	// Each level's allowed set must contain the previous level's.
	vo := LevelViewOnly.AllowedTypes()
	sup := LevelSupport.AllowedTypes()
	full := LevelFullSync.AllowedTypes()
	if len(vo) >= len(sup) || len(sup) >= len(full) {
		t.Fatalf("lattice sizes: view-only=%d support=%d full-sync=%d", len(vo), len(sup), len(full))
	}
	for _, dt := range vo {
		if !LevelSupport.Allows(dt) || !LevelFullSync.Allows(dt) {
			t.Errorf("%s allowed at view-only but not above", dt)
		}
	}
	for _, dt := range sup {
		if !LevelFullSync.Allows(dt) {
			t.Errorf("%s allowed at support but not full-sync", dt)
		}
	}
}
