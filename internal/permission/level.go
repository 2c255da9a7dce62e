// Package permission implements directed, per-data-type sync grants between
// paired parties, with strength levels, expiry, and anonymization rules.
package permission

import "tether/sync/internal/datatype"

// Level is the coarse ceiling on which data types a grant may cover.
// Allowed type sets form a monotone lattice: view-only ⊂ support ⊂ full-sync.
type Level string

const (
	LevelViewOnly Level = "view-only"
	LevelSupport  Level = "support"
	LevelFullSync Level = "full-sync"
)

// Allows reports whether a grant at level l may cover data type t.
func (l Level) Allows(t datatype.DataType) bool {
	switch l {
	case LevelFullSync:
		return true
	case LevelSupport:
		return viewOnlyTypes[t] || supportTypes[t]
	case LevelViewOnly:
		return viewOnlyTypes[t]
	default:
		return false
	}
}

// AllowedTypes returns the full set of data types grantable at level l.
func (l Level) AllowedTypes() []datatype.DataType {
	var out []datatype.DataType
	for _, t := range datatype.All() {
		if l.Allows(t) {
			out = append(out, t)
		}
	}
	return out
}

// IsValid returns true if l is a known strength level.
func (l Level) IsValid() bool {
	switch l {
	case LevelViewOnly, LevelSupport, LevelFullSync:
		return true
	default:
		return false
	}
}

// Normalize maps an arbitrary string to a strength level, defaulting to the
// most restrictive level for anything unrecognized.
func Normalize(level string) Level {
	switch Level(level) {
	case LevelViewOnly, LevelSupport, LevelFullSync:
		return Level(level)
	default:
		return LevelViewOnly
	}
}

var viewOnlyTypes = map[datatype.DataType]bool{
	datatype.Mood:     true,
	datatype.Presence: true,
	datatype.Progress: true,
}

var supportTypes = map[datatype.DataType]bool{
	datatype.Vitals:   true,
	datatype.Location: true,
	datatype.Contacts: true,
}
