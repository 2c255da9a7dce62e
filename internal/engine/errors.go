package engine

import "fmt"

// Error codes for the failure taxonomy. Recoverable failures are absorbed
// into boolean returns and counters; these codes surface in logs and in the
// errors returned by the non-best-effort operations (grants, sessions).
const (
	CodePermissionDenied  = "PERMISSION_DENIED"
	CodeInvalidScope      = "INVALID_SCOPE"
	CodeValidation        = "VALIDATION_FAILED"
	CodeIntegrityMismatch = "INTEGRITY_MISMATCH"
	CodeCapacityExceeded  = "CAPACITY_EXCEEDED"
	CodeTransport         = "TRANSPORT_FAILED"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeNotFound          = "NOT_FOUND"
)

// SyncError is a typed engine error carrying a stable code.
type SyncError struct {
	Code    string
	Message string
	Err     error
}

func (e *SyncError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SyncError) Unwrap() error { return e.Err }

func syncError(code, message string, err error) *SyncError {
	return &SyncError{Code: code, Message: message, Err: err}
}
