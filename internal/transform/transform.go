// Package transform runs outbound payloads through the integrity and privacy
// pipeline: sanitize, validate, anonymize, checksum, encrypt, in that order.
// The pipeline fails closed: any step that cannot complete drops the record
// rather than letting unprotected data through.
package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"tether/sync/internal/cipher"
	"tether/sync/internal/datatype"
	"tether/sync/internal/permission"
	"tether/sync/internal/record"
	"tether/sync/internal/util"
)

// notesBudget is the character budget for free text under the "detailed"
// restriction.
const notesBudget = 100

// ValidationError reports a sanitized payload that failed its type policy.
type ValidationError struct {
	DataType datatype.DataType
	Reason   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %v", e.DataType, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Reason }

// Options carries caller hints for one sync request.
type Options struct {
	Confidence  float64 // 0 means default 1.0
	IsEmergency bool
	Encrypt     bool // encrypt even if the type policy does not require it
}

// Pipeline applies the transform steps using the injected cipher.
type Pipeline struct {
	cipher cipher.Cipher
	now    func() time.Time
}

// New creates a transform pipeline.
func New(c cipher.Cipher) *Pipeline {
	return &Pipeline{cipher: c, now: time.Now}
}

// Prepare builds the outbound SyncRecord for payload under the authorizing
// permission. Returns *ValidationError when the sanitized payload fails its
// policy; any error means nothing may be enqueued.
func (p *Pipeline) Prepare(ownerID string, t datatype.DataType, payload datatype.Payload, perm *permission.Permission, opts Options) (record.SyncRecord, error) {
	policy := datatype.PolicyFor(t)

	sanitized := policy.Sanitize(payload)
	if err := policy.Validate(sanitized); err != nil {
		return record.SyncRecord{}, &ValidationError{DataType: t, Reason: err}
	}

	if perm != nil && perm.Anonymized {
		sanitized = anonymize(sanitized, perm)
	}

	payloadJSON, err := json.Marshal(sanitized)
	if err != nil {
		return record.SyncRecord{}, fmt.Errorf("encode payload: %w", err)
	}

	ts := p.now()
	rec := record.SyncRecord{
		ID:          util.NewID("rec"),
		OwnerID:     ownerID,
		Timestamp:   ts,
		DataType:    t,
		Payload:     sanitized,
		Confidence:  opts.Confidence,
		IsEmergency: opts.IsEmergency,
		Checksum:    p.cipher.Hash(record.ChecksumBase(ownerID, ts, t, payloadJSON)),
	}
	if rec.Confidence <= 0 {
		rec.Confidence = 1.0
	} else if rec.Confidence > 1 {
		rec.Confidence = 1.0
	}

	if policy.EncryptionRequired || opts.Encrypt {
		ciphertext, err := p.cipher.Encrypt(payloadJSON)
		if err != nil {
			// Fail closed: never transmit the unprotected value.
			return record.SyncRecord{}, fmt.Errorf("encrypt payload: %w", err)
		}
		rec.Ciphertext = ciphertext
		rec.Encrypted = true
		rec.Payload = nil
	}
	return rec, nil
}

// Decrypt opens an encrypted record in place, restoring the typed payload.
func (p *Pipeline) Decrypt(rec *record.SyncRecord) error {
	if !rec.Encrypted {
		return nil
	}
	plain, err := p.cipher.Decrypt(rec.Ciphertext)
	if err != nil {
		return fmt.Errorf("decrypt %s record: %w", rec.DataType, err)
	}
	payload, err := datatype.DecodePayload(rec.DataType, plain)
	if err != nil {
		return err
	}
	rec.Payload = payload
	rec.Encrypted = false
	rec.Ciphertext = ""
	return nil
}

// Verify recomputes the checksum of a decrypted record and compares it to
// the carried digest.
func (p *Pipeline) Verify(rec *record.SyncRecord) bool {
	if rec.Payload == nil {
		return false
	}
	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return false
	}
	sum := p.cipher.Hash(record.ChecksumBase(rec.OwnerID, rec.Timestamp, rec.DataType, payloadJSON))
	return sum == rec.Checksum
}

// anonymize applies the permission's precision-reduction rules. Location
// defaults to city precision and free text to the detailed budget when an
// anonymized grant carries no explicit restriction.
func anonymize(p datatype.Payload, perm *permission.Permission) datatype.Payload {
	switch v := p.(type) {
	case datatype.LocationPayload:
		r, ok := perm.Restriction(datatype.Location)
		if !ok {
			r = permission.RestrictCity
		}
		return anonymizeLocation(v, r)
	case datatype.MoodPayload:
		r, ok := perm.Restriction(datatype.Mood)
		if !ok {
			r = permission.RestrictDetailed
		}
		v.Notes = restrictText(v.Notes, r)
		return v
	case datatype.CrisisPayload:
		r, ok := perm.Restriction(datatype.Crisis)
		if !ok {
			r = permission.RestrictDetailed
		}
		v.Message = restrictText(v.Message, r)
		return v
	default:
		return p
	}
}

func anonymizeLocation(v datatype.LocationPayload, r permission.Restriction) datatype.LocationPayload {
	switch r {
	case permission.RestrictCity:
		v.Lat = roundTo(v.Lat, 2)
		v.Lng = roundTo(v.Lng, 2)
		v.Precision = "city"
	case permission.RestrictRegion:
		v.Lat = roundTo(v.Lat, 1)
		v.Lng = roundTo(v.Lng, 1)
		v.Precision = "region"
	default:
		v.Precision = "exact"
	}
	return v
}

func restrictText(s string, r permission.Restriction) string {
	switch r {
	case permission.RestrictBasic:
		return ""
	case permission.RestrictDetailed:
		if len(s) <= notesBudget {
			return s
		}
		// Budget counts runes so a multi-byte character is never split.
		runes := []rune(s)
		if len(runes) <= notesBudget {
			return s
		}
		return string(runes[:notesBudget])
	default:
		return s
	}
}

func roundTo(v float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return math.Round(v*pow) / pow
}
