// Package models defines animation scheduling structures shared across modules.
package models

import "time"

// AnimationStatus is the lifecycle status of a queued visual transition.
type AnimationStatus string

const (
	AnimationStatusQueued    AnimationStatus = "queued"
	AnimationStatusRunning   AnimationStatus = "running"
	AnimationStatusCompleted AnimationStatus = "completed"
	AnimationStatusFailed    AnimationStatus = "failed"
	AnimationStatusCancelled AnimationStatus = "cancelled"
)

// IsTerminal reports whether the status is a terminal lifecycle status.
func (s AnimationStatus) IsTerminal() bool {
	return s == AnimationStatusCompleted || s == AnimationStatusFailed || s == AnimationStatusCancelled
}

// AnimationRequest is a snapshot of one queued or running visual transition.
type AnimationRequest struct {
	ID                      string          `json:"id"`
	Priority                Priority        `json:"priority"`
	Owner                   string          `json:"owner"`
	Delay                   time.Duration   `json:"delay_ms"`
	Status                  AnimationStatus `json:"status"`
	CoordinateWithOperation string          `json:"coordinate_with_operation,omitempty"`
	EnqueuedAt              time.Time       `json:"enqueued_at"`
	StartedAt               time.Time       `json:"started_at,omitzero"`
	EndedAt                 time.Time       `json:"ended_at,omitzero"`
	Error                   string          `json:"error,omitempty"`
}
