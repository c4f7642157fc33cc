// Package models defines preference record structures and the synchronizer
// error taxonomy shared across modules.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Source is the provenance of the currently held preference record copy.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

// PreferenceRecord is the reconciled user-preference payload in its canonical
// internal shape. Legacy field layouts are collapsed into this shape at the
// store and remote boundaries; nothing past those boundaries sees them.
type PreferenceRecord struct {
	Fields         map[string]interface{} `json:"fields"`
	CompletionFlag bool                   `json:"completion_flag"`
	Source         Source                 `json:"source"`
	IsConsistent   bool                   `json:"is_consistent"`
	UpdatedAt      time.Time              `json:"updated_at,omitzero"`
}

// HasSubstantiveContent reports whether the record carries actual intake
// content rather than bookkeeping fields only.
func (r *PreferenceRecord) HasSubstantiveContent() bool {
	if r == nil {
		return false
	}
	for key, value := range r.Fields {
		switch key {
		case "updated_at", "created_at", "version", "schema_version":
			continue
		}
		if value == nil {
			continue
		}
		if s, ok := value.(string); ok && s == "" {
			continue
		}
		return true
	}
	return false
}

// ErrorCode classifies synchronizer failures.
type ErrorCode string

const (
	ErrorCodeNoIdentity      ErrorCode = "NO_IDENTITY"
	ErrorCodeNetwork         ErrorCode = "NETWORK_ERROR"
	ErrorCodeAuth            ErrorCode = "AUTH_ERROR"
	ErrorCodeServer          ErrorCode = "SERVER_ERROR"
	ErrorCodeNoDataFound     ErrorCode = "NO_DATA_FOUND"
	ErrorCodeLocalReadError  ErrorCode = "LOCAL_READ_ERROR"
	ErrorCodeLocalWriteError ErrorCode = "LOCAL_WRITE_ERROR"
)

// SyncError is a classified synchronizer error. The code, not the message,
// drives fallback and retry decisions.
type SyncError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewSyncError creates a classified synchronizer error.
func NewSyncError(code ErrorCode, message string, err error) *SyncError {
	return &SyncError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the error code from err, or empty string if err is not a
// SyncError.
func CodeOf(err error) ErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsTransient reports whether err is a network/server-class failure that
// should trigger the local fallback path. Auth failures are deliberately
// excluded: they are surfaced so the caller can redirect to re-authentication.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case ErrorCodeNetwork, ErrorCodeServer:
		return true
	default:
		return false
	}
}
