package datatype

import (
	"errors"
	"strings"
)

// Policy bundles the per-type rules a payload passes through before it may
// leave the device. Sanitize is total: it never fails, it clamps and coerces.
// Validate runs on sanitized values only.
type Policy struct {
	Sanitize           func(Payload) Payload
	Validate           func(Payload) error
	EncryptionRequired bool
}

const maxNoteLen = 500

var crisisLevels = map[string]struct{}{
	"low": {}, "elevated": {}, "high": {}, "severe": {},
}

var presenceStatuses = map[string]struct{}{
	"online": {}, "away": {}, "offline": {},
}

var policies = map[DataType]Policy{
	Mood: {
		Sanitize: func(p Payload) Payload {
			v, ok := p.(MoodPayload)
			if !ok {
				return p
			}
			v.Primary = strings.TrimSpace(v.Primary)
			v.Secondary = strings.TrimSpace(v.Secondary)
			v.Intensity = clampInt(v.Intensity, 1, 10)
			v.Notes = truncate(strings.TrimSpace(v.Notes), maxNoteLen)
			return v
		},
		Validate: func(p Payload) error {
			v, ok := p.(MoodPayload)
			if !ok {
				return errTypeMismatch
			}
			if v.Primary == "" {
				return errors.New("mood requires a primary mood")
			}
			return nil
		},
	},
	Crisis: {
		Sanitize: func(p Payload) Payload {
			v, ok := p.(CrisisPayload)
			if !ok {
				return p
			}
			v.Level = strings.ToLower(strings.TrimSpace(v.Level))
			if _, known := crisisLevels[v.Level]; !known {
				v.Level = "high"
			}
			v.Message = truncate(strings.TrimSpace(v.Message), maxNoteLen)
			return v
		},
		Validate: func(p Payload) error {
			if _, ok := p.(CrisisPayload); !ok {
				return errTypeMismatch
			}
			return nil
		},
		EncryptionRequired: true,
	},
	Vitals: {
		Sanitize: func(p Payload) Payload {
			v, ok := p.(VitalsPayload)
			if !ok {
				return p
			}
			v.HeartRate = clampInt(v.HeartRate, 30, 220)
			v.SleepHours = clampFloat(v.SleepHours, 0, 24)
			if v.Steps < 0 {
				v.Steps = 0
			}
			return v
		},
		Validate: func(p Payload) error {
			if _, ok := p.(VitalsPayload); !ok {
				return errTypeMismatch
			}
			return nil
		},
		EncryptionRequired: true,
	},
	Location: {
		Sanitize: func(p Payload) Payload {
			v, ok := p.(LocationPayload)
			if !ok {
				return p
			}
			v.Lat = clampFloat(v.Lat, -90, 90)
			v.Lng = clampFloat(v.Lng, -180, 180)
			v.Label = strings.TrimSpace(v.Label)
			return v
		},
		Validate: func(p Payload) error {
			if _, ok := p.(LocationPayload); !ok {
				return errTypeMismatch
			}
			return nil
		},
		EncryptionRequired: true,
	},
	Progress: {
		Sanitize: func(p Payload) Payload {
			v, ok := p.(ProgressPayload)
			if !ok {
				return p
			}
			v.Metric = strings.TrimSpace(v.Metric)
			return v
		},
		Validate: func(p Payload) error {
			v, ok := p.(ProgressPayload)
			if !ok {
				return errTypeMismatch
			}
			if v.Metric == "" {
				return errors.New("progress requires a metric name")
			}
			return nil
		},
	},
	Presence: {
		Sanitize: func(p Payload) Payload {
			v, ok := p.(PresencePayload)
			if !ok {
				return p
			}
			v.Status = strings.ToLower(strings.TrimSpace(v.Status))
			if _, known := presenceStatuses[v.Status]; !known {
				v.Status = "offline"
			}
			return v
		},
		Validate: func(p Payload) error {
			if _, ok := p.(PresencePayload); !ok {
				return errTypeMismatch
			}
			return nil
		},
	},
	Contacts: {
		Sanitize: func(p Payload) Payload {
			v, ok := p.(ContactsPayload)
			if !ok {
				return p
			}
			kept := v.Entries[:0]
			for _, e := range v.Entries {
				e.Name = strings.TrimSpace(e.Name)
				e.Relation = strings.TrimSpace(e.Relation)
				e.Phone = strings.TrimSpace(e.Phone)
				if e.Name != "" {
					kept = append(kept, e)
				}
			}
			v.Entries = kept
			return v
		},
		Validate: func(p Payload) error {
			v, ok := p.(ContactsPayload)
			if !ok {
				return errTypeMismatch
			}
			if len(v.Entries) == 0 {
				return errors.New("contacts requires at least one named entry")
			}
			return nil
		},
		EncryptionRequired: true,
	},
	SafetyPlan: {
		Sanitize: func(p Payload) Payload {
			v, ok := p.(SafetyPlanPayload)
			if !ok {
				return p
			}
			kept := v.Steps[:0]
			for _, s := range v.Steps {
				if s = strings.TrimSpace(s); s != "" {
					kept = append(kept, s)
				}
			}
			v.Steps = kept
			return v
		},
		Validate: func(p Payload) error {
			v, ok := p.(SafetyPlanPayload)
			if !ok {
				return errTypeMismatch
			}
			if len(v.Steps) == 0 {
				return errors.New("safety plan requires at least one step")
			}
			return nil
		},
		EncryptionRequired: true,
	},
}

var errTypeMismatch = errors.New("payload does not match data type")

// genericPolicy is the least privileged fallback for unknown data types:
// nothing is assumed sensitive, nothing is rejected on shape alone.
var genericPolicy = Policy{
	Sanitize: func(p Payload) Payload { return p },
	Validate: func(p Payload) error {
		if p == nil {
			return errors.New("payload is required")
		}
		return nil
	},
}

// PolicyFor returns the policy for t, falling back to the generic policy
// for unknown types.
func PolicyFor(t DataType) Policy {
	if p, ok := policies[t]; ok {
		return p
	}
	return genericPolicy
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// truncate caps s at n runes without splitting a multi-byte character.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
