// Package models defines the core data structures for the movierec coordination engine.
//
// It includes types for tracked operations, animation requests, and preference
// records, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// OperationType identifies a recognized kind of tracked asynchronous work.
// The set is closed: adding a new kind of tracked work means adding a new
// identifier here, not new machinery.
type OperationType string

const (
	// OperationAuthLogin tracks an authentication/login exchange.
	OperationAuthLogin OperationType = "auth_login"
	// OperationPreferencesLoad tracks loading the user preference record.
	OperationPreferencesLoad OperationType = "user_preferences_load"
	// OperationPreferencesSave tracks persisting the user preference record.
	OperationPreferencesSave OperationType = "user_preferences_save"
	// OperationQuestionnaireSubmit tracks submitting the onboarding questionnaire.
	OperationQuestionnaireSubmit OperationType = "questionnaire_submit"
	// OperationRecommendationsLoad tracks loading the recommendation list.
	OperationRecommendationsLoad OperationType = "recommendations_load"
)

// IsValidOperationType checks if the given operation type is recognized.
func IsValidOperationType(t OperationType) bool {
	switch t {
	case OperationAuthLogin, OperationPreferencesLoad, OperationPreferencesSave,
		OperationQuestionnaireSubmit, OperationRecommendationsLoad:
		return true
	default:
		return false
	}
}

// OperationState is the lifecycle state of a tracked operation.
// Transitions are strictly loading -> {success|error|timeout}; a terminal
// state is never left and never re-entered.
type OperationState string

const (
	OperationStateIdle    OperationState = "idle"
	OperationStateLoading OperationState = "loading"
	OperationStateSuccess OperationState = "success"
	OperationStateError   OperationState = "error"
	OperationStateTimeout OperationState = "timeout"
)

// IsTerminal reports whether the state is a terminal lifecycle state.
func (s OperationState) IsTerminal() bool {
	return s == OperationStateSuccess || s == OperationStateError || s == OperationStateTimeout
}

// Priority ranks operations and animation requests on a shared four-tier scale.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

// HighPriorityThreshold separates urgent from background activity in
// aggregated operation state.
const HighPriorityThreshold = PriorityHigh

// ErrOperationTimeout is the synthetic error recorded when an operation's
// deadline fires before it reaches a terminal state.
var ErrOperationTimeout = errors.New("operation deadline exceeded")

// Operation is a snapshot of one unit of tracked asynchronous work.
type Operation struct {
	ID        string            `json:"id"`
	Type      OperationType     `json:"type"`
	State     OperationState    `json:"state"`
	Priority  Priority          `json:"priority"`
	Owner     string            `json:"owner"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   time.Time         `json:"ended_at,omitzero"`
	Duration  time.Duration     `json:"duration_ms"`
	Timeout   time.Duration     `json:"timeout_ms"`
	Error     string            `json:"error,omitempty"`
	Result    interface{}       `json:"result,omitempty"`
}

// OperationError records one failed or timed-out operation for the
// recent-errors ring in aggregated state.
type OperationError struct {
	OperationID string         `json:"operation_id"`
	Type        OperationType  `json:"type"`
	State       OperationState `json:"state"`
	Message     string         `json:"message"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// AggregatedState summarizes all tracked operations for subscribers.
type AggregatedState struct {
	Busy                  bool             `json:"busy"`
	ActiveCount           int              `json:"active_count"`
	HighestActivePriority Priority         `json:"highest_active_priority"`
	HighPriorityActive    bool             `json:"high_priority_active"`
	RecentErrors          []OperationError `json:"recent_errors"`
}
