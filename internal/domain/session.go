// Package domain defines the workout-session model and the collaborator
// contracts the tracking core depends on.
package domain

import (
	"context"
	"errors"
	"math"
	"time"
)

var (
	// ErrNetwork indicates the remote session API could not be reached.
	ErrNetwork = errors.New("activity api unreachable")
	// ErrServer indicates the remote session API rejected or failed the request.
	ErrServer = errors.New("activity api error")
)

// ActivitySession is one workout at the gym. ID and StartTime are assigned by
// the server when the session is started; EndTime is set once it is closed.
type ActivitySession struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id,omitempty"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
}

// IsOpen reports whether the session has not been closed yet.
func (s ActivitySession) IsOpen() bool {
	return s.EndTime == nil
}

// Closed returns a copy of the session ended at end, with the duration derived
// from the start time when the server did not supply one.
func (s ActivitySession) Closed(end time.Time) ActivitySession {
	out := s
	end = end.UTC()
	out.EndTime = &end
	if out.DurationMinutes == 0 && !s.StartTime.IsZero() && end.After(s.StartTime) {
		out.DurationMinutes = int(math.Round(end.Sub(s.StartTime).Minutes()))
	}
	return out
}

// PersistedStateVersion is the on-disk schema version of PersistedTrackingState.
const PersistedStateVersion = 1

// PersistedTrackingState is the durable record of the currently open session
// and the user that owns it.
type PersistedTrackingState struct {
	Version int             `json:"version"`
	UserID  string          `json:"user_id"`
	Session ActivitySession `json:"session"`
	SavedAt time.Time       `json:"saved_at"`
}

// SessionAPI is the remote activity API. Failures wrap ErrNetwork or ErrServer.
type SessionAPI interface {
	StartSession(ctx context.Context, userID string) (*ActivitySession, error)
	EndSession(ctx context.Context, sessionID string) error
}

// NotificationKind identifies a user-facing tracking notification.
type NotificationKind string

const (
	NotificationGymEntered   NotificationKind = "gym_entered"
	NotificationSessionEnded NotificationKind = "session_ended"
)

// Notification is a message shown to the user when a session opens or closes.
type Notification struct {
	Kind       NotificationKind
	UserID     string
	Session    ActivitySession
	Title      string
	Body       string
	OccurredAt time.Time
}

// Notifier emits local notifications. It is fire-and-forget: implementations
// handle and log their own failures.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }
