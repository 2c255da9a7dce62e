// Package datatype defines the closed set of shareable data types, their
// typed payloads, and the per-type sanitize/validate/encryption policies.
package datatype

// DataType identifies one category of shareable data.
type DataType string

const (
	Mood       DataType = "mood"
	Crisis     DataType = "crisis"
	Vitals     DataType = "vitals"
	Location   DataType = "location"
	Progress   DataType = "progress"
	Presence   DataType = "presence"
	Contacts   DataType = "contacts"
	SafetyPlan DataType = "safety-plan"
)

// All returns every known data type.
func All() []DataType {
	return []DataType{Mood, Crisis, Vitals, Location, Progress, Presence, Contacts, SafetyPlan}
}

// IsValid returns true if t is a known data type.
func (t DataType) IsValid() bool {
	switch t {
	case Mood, Crisis, Vitals, Location, Progress, Presence, Contacts, SafetyPlan:
		return true
	default:
		return false
	}
}

func (t DataType) String() string {
	return string(t)
}
