package resolver

import (
	"testing"
	"time"

	"tether/sync/internal/datatype"
	"tether/sync/internal/record"
)

var base = time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)

func rec(owner string, t datatype.DataType, ts time.Time, p datatype.Payload, emergency bool) record.SyncRecord {
	return record.SyncRecord{
		ID: "rec_" + ts.Format("150405"), OwnerID: owner, Timestamp: ts,
		DataType: t, Payload: p, Confidence: 1, IsEmergency: emergency,
	}
}

func TestLatestWinsPicksNewerTimestamp(t *testing.T) {
	older := rec("x", datatype.Vitals, base, datatype.VitalsPayload{HeartRate: 70}, false)
	newer := rec("x", datatype.Vitals, base.Add(time.Minute), datatype.VitalsPayload{HeartRate: 95}, false)

	out := Resolve(LatestWins, older, newer)
	if out.Winner == nil || out.Winner.Payload.(datatype.VitalsPayload).HeartRate != 95 {
		t.Fatalf("winner = %+v, want the newer reading", out.Winner)
	}

	// Out-of-order arrival: the newer record is already local.
	out = Resolve(LatestWins, newer, older)
	if out.Winner.Payload.(datatype.VitalsPayload).HeartRate != 95 {
		t.Error("older incoming record must not displace a newer local one")
	}
}

func TestLatestWinsTieGoesToIncoming(t *testing.T) {
	a := rec("x", datatype.Mood, base, datatype.MoodPayload{Primary: "a"}, false)
	b := rec("x", datatype.Mood, base, datatype.MoodPayload{Primary: "b"}, false)
	out := Resolve(LatestWins, a, b)
	if out.Winner.Payload.(datatype.MoodPayload).Primary != "b" {
		t.Error("tie must go to the last write observed")
	}
}

func TestEmergencyPriorityBeatsTimestamps(t *testing.T) {
	emergency := rec("x", datatype.Crisis, base, datatype.CrisisPayload{Level: "severe"}, true)
	newerPlain := rec("x", datatype.Crisis, base.Add(time.Hour), datatype.CrisisPayload{Level: "low"}, false)

	out := Resolve(EmergencyPriority, newerPlain, emergency)
	if !out.Winner.IsEmergency {
		t.Error("incoming emergency must win despite older timestamp")
	}

	out = Resolve(EmergencyPriority, emergency, newerPlain)
	if !out.Winner.IsEmergency {
		t.Error("existing emergency must win against newer plain record")
	}

	// Neither emergency: falls back to latest-wins.
	plainOld := rec("x", datatype.Mood, base, datatype.MoodPayload{Primary: "ok"}, false)
	plainNew := rec("x", datatype.Mood, base.Add(time.Minute), datatype.MoodPayload{Primary: "tired"}, false)
	out = Resolve(EmergencyPriority, plainOld, plainNew)
	if out.Winner.Payload.(datatype.MoodPayload).Primary != "tired" {
		t.Error("fallback to latest-wins failed")
	}
}

func TestMergeMood(t *testing.T) {
	prev := rec("x", datatype.Mood, base, datatype.MoodPayload{Primary: "sad", Intensity: 7, Notes: "rough morning"}, false)
	next := rec("x", datatype.Mood, base.Add(time.Hour), datatype.MoodPayload{Primary: "calm", Intensity: 4}, false)

	out := Resolve(Merge, prev, next)
	got := out.Winner.Payload.(datatype.MoodPayload)
	if got.Primary != "calm" {
		t.Errorf("primary = %q", got.Primary)
	}
	if got.Notes != "rough morning" {
		t.Errorf("notes = %q, want existing notes kept", got.Notes)
	}
	if got.PreviousMood != "sad" {
		t.Errorf("previousMood = %q, want sad", got.PreviousMood)
	}
}

func TestMergeMoodKeepsNewNotes(t *testing.T) {
	prev := rec("x", datatype.Mood, base, datatype.MoodPayload{Primary: "sad", Notes: "old"}, false)
	next := rec("x", datatype.Mood, base.Add(time.Hour), datatype.MoodPayload{Primary: "sad", Notes: "new"}, false)
	got := Resolve(Merge, prev, next).Winner.Payload.(datatype.MoodPayload)
	if got.Notes != "new" {
		t.Errorf("notes = %q, want new notes preferred", got.Notes)
	}
	if got.PreviousMood != "" {
		t.Errorf("previousMood = %q, want empty when unchanged", got.PreviousMood)
	}
}

func TestMergeProgress(t *testing.T) {
	tests := []struct {
		name       string
		oldV, newV float64
		wantChange float64
		wantTrend  string
	}{
		{"improving", 3, 7, 4, "improving"},
		{"declining", 7, 3, -4, "declining"},
		{"stable", 5, 5, 0, "stable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := rec("x", datatype.Progress, base, datatype.ProgressPayload{Metric: "sleep", Value: tt.oldV}, false)
			next := rec("x", datatype.Progress, base.Add(time.Hour), datatype.ProgressPayload{Metric: "sleep", Value: tt.newV}, false)
			got := Resolve(Merge, prev, next).Winner.Payload.(datatype.ProgressPayload)
			if got.Change != tt.wantChange || got.Trend != tt.wantTrend {
				t.Errorf("change=%v trend=%q, want %v %q", got.Change, got.Trend, tt.wantChange, tt.wantTrend)
			}
		})
	}
}

func TestMergeVitalsRetainsPrevious(t *testing.T) {
	prev := rec("x", datatype.Vitals, base, datatype.VitalsPayload{HeartRate: 70, Steps: 4000}, false)
	next := rec("x", datatype.Vitals, base.Add(time.Hour), datatype.VitalsPayload{HeartRate: 88, Steps: 9000}, false)

	got := Resolve(Merge, prev, next).Winner.Payload.(datatype.VitalsPayload)
	if got.HeartRate != 88 {
		t.Errorf("heart rate = %d, want newest", got.HeartRate)
	}
	if got.Previous == nil || got.Previous.HeartRate != 70 {
		t.Fatalf("previous = %+v, want prior snapshot", got.Previous)
	}
	if got.Previous.Previous != nil {
		t.Error("previous chain must be one level deep")
	}
}

func TestMergeUnknownTypeFallsBack(t *testing.T) {
	prev := rec("x", datatype.Presence, base.Add(time.Hour), datatype.PresencePayload{Status: "online"}, false)
	next := rec("x", datatype.Presence, base, datatype.PresencePayload{Status: "offline"}, false)
	got := Resolve(Merge, prev, next).Winner.Payload.(datatype.PresencePayload)
	if got.Status != "online" {
		t.Errorf("status = %q, want latest-wins fallback", got.Status)
	}
}

func TestUserChoiceReturnsPending(t *testing.T) {
	prev := rec("x", datatype.Mood, base, datatype.MoodPayload{Primary: "a"}, false)
	next := rec("x", datatype.Mood, base.Add(time.Hour), datatype.MoodPayload{Primary: "b"}, false)

	out := Resolve(UserChoice, prev, next)
	if out.Winner != nil {
		t.Fatal("user-choice must not pick a winner")
	}
	if out.Pending == nil || out.Pending.ID == "" {
		t.Fatal("pending conflict missing")
	}
	if out.Pending.Existing.Payload.(datatype.MoodPayload).Primary != "a" ||
		out.Pending.Incoming.Payload.(datatype.MoodPayload).Primary != "b" {
		t.Error("pending conflict must carry both versions")
	}
}
