package permission

import (
	"fmt"
	"time"

	"tether/sync/internal/datatype"
)

// Restriction names a precision-reduction rule applied to a data type's
// sensitive fields before transmission.
type Restriction string

const (
	// Location precision restrictions.
	RestrictExact  Restriction = "exact"
	RestrictCity   Restriction = "city"
	RestrictRegion Restriction = "region"

	// Free-text note restrictions.
	RestrictUnrestricted Restriction = "unrestricted"
	RestrictDetailed     Restriction = "detailed"
	RestrictBasic        Restriction = "basic"
)

// Permission is a directed grant of sync rights from GranterID to GranteeID,
// bound to a tether session.
type Permission struct {
	ID           string                            `json:"id"`
	GranterID    string                            `json:"granterId"`
	GranteeID    string                            `json:"granteeId"`
	SessionID    string                            `json:"sessionId"`
	DataTypes    []datatype.DataType               `json:"dataTypes"`
	Level        Level                             `json:"level"`
	Expiry       time.Time                         `json:"expiry,omitzero"`
	IsTemporary  bool                              `json:"isTemporary,omitempty"`
	Anonymized   bool                              `json:"anonymized,omitempty"`
	Restrictions map[datatype.DataType]Restriction `json:"restrictions,omitempty"`
	GrantedAt    time.Time                         `json:"grantedAt"`
}

// Covers reports whether the grant includes data type t.
func (p *Permission) Covers(t datatype.DataType) bool {
	for _, dt := range p.DataTypes {
		if dt == t {
			return true
		}
	}
	return false
}

// ExpiredAt reports whether the grant is inert at the given instant.
// A zero Expiry never expires.
func (p *Permission) ExpiredAt(now time.Time) bool {
	return !p.Expiry.IsZero() && !now.Before(p.Expiry)
}

// Restriction returns the restriction configured for t, if any.
func (p *Permission) Restriction(t datatype.DataType) (Restriction, bool) {
	r, ok := p.Restrictions[t]
	return r, ok
}

// InvalidScopeError reports a grant request naming data types outside the
// allowed set for its strength level.
type InvalidScopeError struct {
	Level   Level
	Outside []datatype.DataType
}

func (e *InvalidScopeError) Error() string {
	return fmt.Sprintf("data types %v are outside the %s level", e.Outside, e.Level)
}
