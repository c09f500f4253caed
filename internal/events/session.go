// Package events defines the payloads published when tracked sessions open or close.
package events

import "time"

// Event types carried in the event_type message header.
const (
	TypeGymEntered   = "tracking.gym_entered"
	TypeSessionEnded = "tracking.session_ended"
)

// GymEntered is emitted when a geofence entry opened a new workout session.
type GymEntered struct {
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	SessionID  string    `json:"session_id"`
	StartedAt  time.Time `json:"started_at"`
	OccurredAt time.Time `json:"occurred_at"`
	Message    string    `json:"message"`
}

// SessionEnded is emitted when a workout session was closed.
type SessionEnded struct {
	EventID     string    `json:"event_id"`
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
	DurationMin int       `json:"duration_min"`
	OccurredAt  time.Time `json:"occurred_at"`
	Message     string    `json:"message"`
}
