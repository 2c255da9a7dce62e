package datatype

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeClampsVitals(t *testing.T) {
	tests := []struct {
		name      string
		in        VitalsPayload
		wantHR    int
		wantSleep float64
		wantSteps int
	}{
		{"below range", VitalsPayload{HeartRate: 10, SleepHours: -2, Steps: -50}, 30, 0, 0},
		{"above range", VitalsPayload{HeartRate: 400, SleepHours: 30, Steps: 100}, 220, 24, 100},
		{"in range", VitalsPayload{HeartRate: 72, SleepHours: 7.5, Steps: 9000}, 72, 7.5, 9000},
		{"zero value", VitalsPayload{}, 30, 0, 0},
	}

	policy := PolicyFor(Vitals)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := policy.Sanitize(tt.in).(VitalsPayload)
			if out.HeartRate != tt.wantHR {
				t.Errorf("heart rate = %d, want %d", out.HeartRate, tt.wantHR)
			}
			if out.SleepHours != tt.wantSleep {
				t.Errorf("sleep hours = %v, want %v", out.SleepHours, tt.wantSleep)
			}
			if out.Steps != tt.wantSteps {
				t.Errorf("steps = %d, want %d", out.Steps, tt.wantSteps)
			}
		})
	}
}

func TestSanitizeIsTotal(t *testing.T) {
	// Sanitize must never fail, including on empty payloads and payloads
	// whose type does not match the policy.
	for _, dt := range All() {
		policy := PolicyFor(dt)
		if got := policy.Sanitize(GenericPayload{Type: dt}); got == nil {
			t.Errorf("%s: sanitize returned nil for mismatched payload", dt)
		}
	}
	out := PolicyFor(Mood).Sanitize(MoodPayload{}).(MoodPayload)
	if out.Intensity != 1 {
		t.Errorf("empty mood intensity = %d, want clamped to 1", out.Intensity)
	}
}

func TestSanitizeTruncatesOnRuneBoundary(t *testing.T) {
	notes := strings.Repeat("é", maxNoteLen+10)
	out := PolicyFor(Mood).Sanitize(MoodPayload{Primary: "low", Intensity: 3, Notes: notes}).(MoodPayload)
	if !utf8.ValidString(out.Notes) {
		t.Fatal("truncation split a multi-byte rune")
	}
	if got := utf8.RuneCountInString(out.Notes); got != maxNoteLen {
		t.Errorf("notes rune count = %d, want %d", got, maxNoteLen)
	}
}

func TestValidateRunsOnSanitized(t *testing.T) {
	policy := PolicyFor(Mood)

	long := MoodPayload{Primary: "  anxious ", Intensity: 99, Notes: strings.Repeat("x", 2000)}
	sanitized := policy.Sanitize(long).(MoodPayload)
	if err := policy.Validate(sanitized); err != nil {
		t.Fatalf("sanitized mood should validate: %v", err)
	}
	if sanitized.Primary != "anxious" {
		t.Errorf("primary = %q, want trimmed", sanitized.Primary)
	}
	if sanitized.Intensity != 10 {
		t.Errorf("intensity = %d, want 10", sanitized.Intensity)
	}
	if len(sanitized.Notes) != maxNoteLen {
		t.Errorf("notes length = %d, want %d", len(sanitized.Notes), maxNoteLen)
	}

	if err := policy.Validate(policy.Sanitize(MoodPayload{Intensity: 5})); err == nil {
		t.Error("mood without primary should fail validation")
	}
}

func TestValidateRejectsTypeMismatch(t *testing.T) {
	if err := PolicyFor(Vitals).Validate(MoodPayload{Primary: "ok", Intensity: 3}); err == nil {
		t.Error("vitals validator accepted a mood payload")
	}
}

func TestCrisisLevelNormalized(t *testing.T) {
	policy := PolicyFor(Crisis)
	out := policy.Sanitize(CrisisPayload{Level: " SEVERE "}).(CrisisPayload)
	if out.Level != "severe" {
		t.Errorf("level = %q, want severe", out.Level)
	}
	out = policy.Sanitize(CrisisPayload{Level: "banana"}).(CrisisPayload)
	if out.Level != "high" {
		t.Errorf("unknown level = %q, want high fallback", out.Level)
	}
}

func TestEncryptionRequiredPerType(t *testing.T) {
	required := map[DataType]bool{
		Mood: false, Crisis: true, Vitals: true, Location: true,
		Progress: false, Presence: false, Contacts: true, SafetyPlan: true,
	}
	for dt, want := range required {
		if got := PolicyFor(dt).EncryptionRequired; got != want {
			t.Errorf("%s encryption required = %v, want %v", dt, got, want)
		}
	}
}

func TestUnknownTypeFallsBackToGenericPolicy(t *testing.T) {
	policy := PolicyFor(DataType("journal"))
	p := GenericPayload{Type: "journal", Fields: map[string]any{"text": "hi"}}
	if got := policy.Sanitize(p); got == nil {
		t.Fatal("generic sanitize returned nil")
	}
	if err := policy.Validate(p); err != nil {
		t.Errorf("generic validate failed: %v", err)
	}
	if policy.EncryptionRequired {
		t.Error("generic policy should not require encryption")
	}
}

func TestDecodePayloadRoundTrip(t *testing.T) {
	in := LocationPayload{Lat: 40.7128, Lng: -74.006, Label: "home", Precision: "exact"}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	p, err := DecodePayload(Location, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, ok := p.(LocationPayload)
	if !ok {
		t.Fatalf("decoded %T, want LocationPayload", p)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestGenericPayloadMarshalSymmetric(t *testing.T) {
	in := GenericPayload{Type: "journal", Fields: map[string]any{"text": "hello"}}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"text":"hello"}` {
		t.Fatalf("wire form = %s, want the bare field map", raw)
	}
	p, err := DecodePayload("journal", raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out := p.(GenericPayload)
	if out.Fields["text"] != "hello" {
		t.Errorf("round trip fields = %v", out.Fields)
	}
	// A second round trip must be a fixed point.
	raw2, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("re-marshal: %v", err)
	}
	if string(raw2) != string(raw) {
		t.Errorf("second round trip = %s, want %s", raw2, raw)
	}
}

func TestDecodePayloadUnknownType(t *testing.T) {
	p, err := DecodePayload(DataType("journal"), []byte(`{"text":"hello"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	g, ok := p.(GenericPayload)
	if !ok {
		t.Fatalf("decoded %T, want GenericPayload", p)
	}
	if g.Kind() != DataType("journal") {
		t.Errorf("kind = %s, want journal", g.Kind())
	}
	if g.Fields["text"] != "hello" {
		t.Errorf("fields = %v", g.Fields)
	}
}
