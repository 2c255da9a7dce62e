// Package record defines the unit of synchronized state exchanged between
// tethered parties and its wire encoding.
package record

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"tether/sync/internal/datatype"
)

// SyncRecord is one unit of synchronized state. When Encrypted is set the
// payload travels as Ciphertext and Payload is nil until decrypted; the
// checksum is always computed over the pre-encryption payload.
type SyncRecord struct {
	ID          string
	OwnerID     string
	Timestamp   time.Time
	DataType    datatype.DataType
	Payload     datatype.Payload
	Ciphertext  string
	Confidence  float64
	IsEmergency bool
	Encrypted   bool
	Checksum    string
}

type wireRecord struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"ownerId"`
	Timestamp   time.Time         `json:"timestamp"`
	DataType    datatype.DataType `json:"dataType"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
	Ciphertext  string            `json:"ciphertext,omitempty"`
	Confidence  float64           `json:"confidence"`
	IsEmergency bool              `json:"isEmergency,omitempty"`
	Encrypted   bool              `json:"encrypted,omitempty"`
	Checksum    string            `json:"checksum"`
}

// MarshalJSON encodes the record for the wire. Encrypted records carry only
// ciphertext; plaintext records carry the typed payload as JSON.
func (r SyncRecord) MarshalJSON() ([]byte, error) {
	w := wireRecord{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		Timestamp:   r.Timestamp,
		DataType:    r.DataType,
		Ciphertext:  r.Ciphertext,
		Confidence:  r.Confidence,
		IsEmergency: r.IsEmergency,
		Encrypted:   r.Encrypted,
		Checksum:    r.Checksum,
	}
	if !r.Encrypted && r.Payload != nil {
		raw, err := json.Marshal(r.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		w.Payload = raw
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a wire record, reconstructing the typed payload for
// plaintext records.
func (r *SyncRecord) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = SyncRecord{
		ID:          w.ID,
		OwnerID:     w.OwnerID,
		Timestamp:   w.Timestamp,
		DataType:    w.DataType,
		Ciphertext:  w.Ciphertext,
		Confidence:  w.Confidence,
		IsEmergency: w.IsEmergency,
		Encrypted:   w.Encrypted,
		Checksum:    w.Checksum,
	}
	if !w.Encrypted && len(w.Payload) > 0 {
		p, err := datatype.DecodePayload(w.DataType, w.Payload)
		if err != nil {
			return err
		}
		r.Payload = p
	}
	return nil
}

// ChecksumBase returns the canonical bytes the integrity digest covers:
// owner, creation time, data type, and the pre-encryption payload JSON.
// Typed payload structs marshal deterministically, so the digest is stable
// under serialize/deserialize.
func ChecksumBase(ownerID string, ts time.Time, t datatype.DataType, payloadJSON []byte) []byte {
	base := ownerID + "|" + strconv.FormatInt(ts.UnixMilli(), 10) + "|" + string(t) + "|"
	return append([]byte(base), payloadJSON...)
}
