package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Strategy != "emergency-priority" {
		t.Fatalf("Strategy = %q, want emergency-priority", cfg.Strategy)
	}
	if cfg.QueueCapacity != 500 {
		t.Fatalf("QueueCapacity = %d, want 500", cfg.QueueCapacity)
	}
	if cfg.BaseRetryDelay != 2*time.Second {
		t.Fatalf("BaseRetryDelay = %s, want 2s", cfg.BaseRetryDelay)
	}
	if cfg.HistoryRetention != 168*time.Hour {
		t.Fatalf("HistoryRetention = %s, want 168h", cfg.HistoryRetention)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TETHER_PARTY_ID", "alice")
	t.Setenv("TETHER_QUEUE_CAPACITY", "50")
	t.Setenv("TETHER_RETRY_BASE_MS", "100")
	t.Setenv("TETHER_MAX_ATTEMPTS", "not-a-number")

	cfg := Load()
	if cfg.PartyID != "alice" {
		t.Fatalf("PartyID = %q, want alice", cfg.PartyID)
	}
	if cfg.QueueCapacity != 50 {
		t.Fatalf("QueueCapacity = %d, want 50", cfg.QueueCapacity)
	}
	if cfg.BaseRetryDelay != 100*time.Millisecond {
		t.Fatalf("BaseRetryDelay = %s, want 100ms", cfg.BaseRetryDelay)
	}
	// Unparseable numbers fall back to the default.
	if cfg.MaxAttempts != 3 {
		t.Fatalf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
}
