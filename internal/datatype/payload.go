package datatype

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the tagged union over per-type payload structs. Kind reports
// which data type the payload belongs to; it must match the record's
// DataType tag.
type Payload interface {
	Kind() DataType
}

// MoodPayload carries a mood check-in.
type MoodPayload struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary,omitempty"`
	Intensity int    `json:"intensity"`
	Notes     string `json:"notes,omitempty"`
	// PreviousMood is filled by conflict merging, never by callers.
	PreviousMood string `json:"previousMood,omitempty"`
}

func (MoodPayload) Kind() DataType { return Mood }

// CrisisPayload carries a safety-critical alert.
type CrisisPayload struct {
	Level     string `json:"level"` // low, elevated, high, severe
	Message   string `json:"message,omitempty"`
	NeedsHelp bool   `json:"needsHelp"`
}

func (CrisisPayload) Kind() DataType { return Crisis }

// VitalsPayload carries a health reading. Previous retains the prior
// snapshot after a merge for trend analysis.
type VitalsPayload struct {
	HeartRate  int            `json:"heartRate"`
	SleepHours float64        `json:"sleepHours"`
	Steps      int            `json:"steps"`
	Previous   *VitalsPayload `json:"previous,omitempty"`
}

func (VitalsPayload) Kind() DataType { return Vitals }

// LocationPayload carries a position, possibly precision-reduced.
type LocationPayload struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Label     string  `json:"label,omitempty"`
	Precision string  `json:"precision,omitempty"` // exact, city, region
}

func (LocationPayload) Kind() DataType { return Location }

// ProgressPayload carries a tracked metric. Change and Trend are filled by
// conflict merging.
type ProgressPayload struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	Change float64 `json:"change,omitempty"`
	Trend  string  `json:"trend,omitempty"` // improving, declining, stable
}

func (ProgressPayload) Kind() DataType { return Progress }

// PresencePayload carries availability status.
type PresencePayload struct {
	Status     string    `json:"status"` // online, away, offline
	LastActive time.Time `json:"lastActive,omitzero"`
}

func (PresencePayload) Kind() DataType { return Presence }

// ContactEntry is one emergency or support contact.
type ContactEntry struct {
	Name     string `json:"name"`
	Relation string `json:"relation,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// ContactsPayload carries a contact list.
type ContactsPayload struct {
	Entries []ContactEntry `json:"entries"`
}

func (ContactsPayload) Kind() DataType { return Contacts }

// SafetyPlanPayload carries a crisis safety plan.
type SafetyPlanPayload struct {
	Steps     []string  `json:"steps"`
	Contacts  []string  `json:"contacts,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

func (SafetyPlanPayload) Kind() DataType { return SafetyPlan }

// GenericPayload is the fallback for unknown data types.
type GenericPayload struct {
	Type   DataType       `json:"-"`
	Fields map[string]any `json:"-"`
}

func (p GenericPayload) Kind() DataType { return p.Type }

// MarshalJSON emits only the field map. The data type travels in the
// record's DataType tag, so the wire form and the digest input stay
// identical across a serialize/deserialize round trip.
func (p GenericPayload) MarshalJSON() ([]byte, error) {
	if p.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.Fields)
}

// UnmarshalJSON decodes a bare field map. The type tag must be restored by
// the caller; DecodePayload does this for wire records.
func (p *GenericPayload) UnmarshalJSON(data []byte) error {
	p.Fields = nil
	return json.Unmarshal(data, &p.Fields)
}

// DecodePayload unmarshals raw JSON into the typed payload for t. Unknown
// types decode into GenericPayload.
func DecodePayload(t DataType, raw json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch t {
	case Mood:
		var v MoodPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case Crisis:
		var v CrisisPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case Vitals:
		var v VitalsPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case Location:
		var v LocationPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case Progress:
		var v ProgressPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case Presence:
		var v PresencePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case Contacts:
		var v ContactsPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case SafetyPlan:
		var v SafetyPlanPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		v := GenericPayload{Type: t}
		err = json.Unmarshal(raw, &v.Fields)
		p = v
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}
