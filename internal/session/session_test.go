package session

import (
	"errors"
	"testing"
)

func TestCreateStartsPending(t *testing.T) {
	m := NewManager(nil)
	s, err := m.Create("alice", "bob", TypePeer, map[string]string{"note": "daily check-in"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.State != StatePending {
		t.Errorf("state = %s, want pending", s.State)
	}
	if s.ID == "" || s.CreatedAt.IsZero() {
		t.Error("session missing id or creation time")
	}
}

func TestCreateRejectsSelfTether(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.Create("alice", "alice", TypePeer, nil); err == nil {
		t.Error("self tether should fail")
	}
}

func TestAcceptOnlyByTarget(t *testing.T) {
	m := NewManager(nil)
	s, _ := m.Create("alice", "bob", TypeFamily, nil)

	if _, err := m.Accept(s.ID, "alice"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("initiator accept err = %v, want ErrUnauthorized", err)
	}
	if _, err := m.Accept(s.ID, "mallory"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("outsider accept err = %v, want ErrUnauthorized", err)
	}

	accepted, err := m.Accept(s.ID, "bob")
	if err != nil {
		t.Fatalf("target accept: %v", err)
	}
	if accepted.State != StateActive || accepted.AcceptedAt.IsZero() {
		t.Errorf("accepted session = %+v", accepted)
	}

	if _, err := m.Accept(s.ID, "bob"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("double accept err = %v, want ErrInvalidState", err)
	}
}

func TestPauseResume(t *testing.T) {
	m := NewManager(nil)
	s, _ := m.Create("alice", "bob", TypePeer, nil)
	m.Accept(s.ID, "bob")

	if _, err := m.Pause(s.ID, "alice"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if m.Active(s.ID) {
		t.Error("paused session reports active")
	}
	if _, err := m.Pause(s.ID, "alice"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("double pause err = %v", err)
	}
	if _, err := m.Resume(s.ID, "bob"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !m.Active(s.ID) {
		t.Error("resumed session not active")
	}
}

func TestTerminateIdempotentAndCascades(t *testing.T) {
	var cascaded []string
	m := NewManager(func(id string) { cascaded = append(cascaded, id) })
	s, _ := m.Create("alice", "bob", TypeProfessional, nil)
	m.Accept(s.ID, "bob")

	if _, err := m.Terminate(s.ID, "mallory"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("outsider terminate err = %v", err)
	}

	term, err := m.Terminate(s.ID, "alice")
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if term.State != StateTerminated || term.TerminatedAt.IsZero() {
		t.Errorf("terminated session = %+v", term)
	}
	if len(cascaded) != 1 || cascaded[0] != s.ID {
		t.Errorf("cascade calls = %v", cascaded)
	}

	// Re-terminating is a no-op, not an error, and does not re-cascade.
	if _, err := m.Terminate(s.ID, "bob"); err != nil {
		t.Fatalf("re-terminate: %v", err)
	}
	if len(cascaded) != 1 {
		t.Errorf("cascade fired %d times", len(cascaded))
	}
}

func TestTerminateFromPending(t *testing.T) {
	m := NewManager(nil)
	s, _ := m.Create("alice", "bob", TypeEmergency, nil)
	if _, err := m.Terminate(s.ID, "bob"); err != nil {
		t.Fatalf("terminate pending: %v", err)
	}
	if _, err := m.Accept(s.ID, "bob"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("accept after terminate err = %v, want ErrInvalidState", err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	m := NewManager(nil)
	s, _ := m.Create("alice", "bob", TypePeer, nil)
	m.Accept(s.ID, "bob")

	saved := m.Snapshot()
	m2 := NewManager(nil)
	m2.Restore(saved)

	got, err := m2.Get(s.ID)
	if err != nil {
		t.Fatalf("restored get: %v", err)
	}
	if got.State != StateActive {
		t.Errorf("restored state = %s", got.State)
	}
}
