// Package resolver reconciles an inbound record with the prior local record
// for the same (owner, data type). Out-of-order and duplicate delivery is
// expected, not exceptional; the resolver is the component that absorbs it.
package resolver

import (
	"time"

	"tether/sync/internal/datatype"
	"tether/sync/internal/record"
	"tether/sync/internal/util"
)

// Strategy selects how conflicting records are reconciled.
type Strategy string

const (
	// LatestWins keeps the record with the higher timestamp; ties go to
	// the record observed last.
	LatestWins Strategy = "latest-wins"

	// Merge delegates to the per-data-type merge function, falling back to
	// LatestWins for types without one.
	Merge Strategy = "merge"

	// UserChoice surfaces both versions and waits for an explicit decision.
	UserChoice Strategy = "user-choice"

	// EmergencyPriority lets an emergency-flagged record win unconditionally,
	// otherwise behaves like LatestWins. This is the default.
	EmergencyPriority Strategy = "emergency-priority"
)

// IsValid returns true if s is a known strategy.
func (s Strategy) IsValid() bool {
	switch s {
	case LatestWins, Merge, UserChoice, EmergencyPriority:
		return true
	default:
		return false
	}
}

// PendingConflict holds both versions of an unresolved conflict awaiting a
// user decision. The existing record stays effective until then.
type PendingConflict struct {
	ID         string            `json:"id"`
	Existing   record.SyncRecord `json:"existing"`
	Incoming   record.SyncRecord `json:"incoming"`
	DetectedAt time.Time         `json:"detectedAt"`
}

// Outcome is the resolver's verdict. Either Winner is set, or Pending holds
// an undecided conflict.
type Outcome struct {
	Winner  *record.SyncRecord
	Pending *PendingConflict
}

// Resolve reconciles incoming against existing under the given strategy.
// Both records must already be decrypted.
func Resolve(strategy Strategy, existing, incoming record.SyncRecord) Outcome {
	switch strategy {
	case Merge:
		if payload, ok := mergePayload(existing, incoming); ok {
			merged := incoming
			merged.Payload = payload
			return Outcome{Winner: &merged}
		}
		return latestWins(existing, incoming)
	case UserChoice:
		return Outcome{Pending: &PendingConflict{
			ID:         util.NewID("conflict"),
			Existing:   existing,
			Incoming:   incoming,
			DetectedAt: time.Now(),
		}}
	case LatestWins:
		return latestWins(existing, incoming)
	default: // EmergencyPriority
		if incoming.IsEmergency != existing.IsEmergency {
			if incoming.IsEmergency {
				return Outcome{Winner: &incoming}
			}
			return Outcome{Winner: &existing}
		}
		return latestWins(existing, incoming)
	}
}

// latestWins picks the higher timestamp; on a tie the record observed last
// (the incoming one) wins.
func latestWins(existing, incoming record.SyncRecord) Outcome {
	if existing.Timestamp.After(incoming.Timestamp) {
		return Outcome{Winner: &existing}
	}
	return Outcome{Winner: &incoming}
}

// mergePayload applies the per-type merge rules. The second return is false
// for types without a documented merge; those resolve by recency instead.
func mergePayload(existing, incoming record.SyncRecord) (datatype.Payload, bool) {
	switch newPayload := incoming.Payload.(type) {
	case datatype.MoodPayload:
		prev, ok := existing.Payload.(datatype.MoodPayload)
		if !ok {
			return newPayload, true
		}
		return mergeMood(prev, newPayload), true
	case datatype.ProgressPayload:
		prev, ok := existing.Payload.(datatype.ProgressPayload)
		if !ok {
			return newPayload, true
		}
		return mergeProgress(prev, newPayload), true
	case datatype.VitalsPayload:
		prev, ok := existing.Payload.(datatype.VitalsPayload)
		if !ok {
			return newPayload, true
		}
		return mergeVitals(prev, newPayload), true
	default:
		return nil, false
	}
}

// mergeMood keeps the new primary and secondary moods, prefers the existing
// notes when the new record has none, and records the prior primary mood
// when it changed.
func mergeMood(prev, next datatype.MoodPayload) datatype.MoodPayload {
	merged := next
	if merged.Notes == "" {
		merged.Notes = prev.Notes
	}
	if prev.Primary != "" && prev.Primary != next.Primary {
		merged.PreviousMood = prev.Primary
	}
	return merged
}

// mergeProgress keeps the new value and derives the change and trend from
// the prior reading.
func mergeProgress(prev, next datatype.ProgressPayload) datatype.ProgressPayload {
	merged := next
	merged.Change = next.Value - prev.Value
	switch {
	case merged.Change > 0:
		merged.Trend = "improving"
	case merged.Change < 0:
		merged.Trend = "declining"
	default:
		merged.Trend = "stable"
	}
	return merged
}

// mergeVitals keeps the newest reading and retains the previous snapshot for
// trend analysis.
func mergeVitals(prev, next datatype.VitalsPayload) datatype.VitalsPayload {
	merged := next
	prev.Previous = nil // retain one level only
	merged.Previous = &prev
	return merged
}
