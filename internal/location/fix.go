// Package location turns platform location fixes into geofence observations
// for the session lifecycle manager. It defines the platform ports (watchers,
// task schedulers, position providers, permissions) and the two producers that
// drive reconciliation: the foreground watcher loop and the background task.
package location

import (
	"context"
	"errors"
	"time"

	"example.com/gymtracker/internal/domain"
	"example.com/gymtracker/internal/geo"
)

var (
	// ErrSubscriptionClosed is returned by Subscription.Next once the stream has ended.
	ErrSubscriptionClosed = errors.New("location subscription closed")
	// ErrNoPosition is returned when no fix has been observed yet.
	ErrNoPosition = errors.New("no position available")
	// ErrTaskRegistered is returned when a task name is registered twice.
	ErrTaskRegistered = errors.New("task already registered")
	// ErrTaskNotRegistered is returned when unregistering an unknown task.
	ErrTaskNotRegistered = errors.New("task not registered")
	// ErrMalformedFix marks a fix payload that could not be decoded.
	ErrMalformedFix = errors.New("malformed location fix")
)

// Fix is one position reading from the platform.
type Fix struct {
	Coordinate geo.Coordinate `json:"coordinate"`
	Accuracy   float64        `json:"accuracy_meters,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Accuracy is the requested precision of a location subscription.
type Accuracy string

const (
	AccuracyHigh     Accuracy = "high"
	AccuracyBalanced Accuracy = "balanced"
	AccuracyLow      Accuracy = "low"
)

// WatchOptions are the hints passed to the platform when subscribing.
type WatchOptions struct {
	Accuracy       Accuracy
	Interval       time.Duration
	DistanceMeters float64
}

// Subscription is a stream of fixes. Next blocks until a fix arrives, the
// context ends, or the stream closes (ErrSubscriptionClosed).
type Subscription interface {
	Next(ctx context.Context) (Fix, error)
	Close()
}

// Watcher opens continuous location subscriptions.
type Watcher interface {
	Watch(ctx context.Context, opts WatchOptions) (Subscription, error)
}

// PositionProvider returns a single current fix.
type PositionProvider interface {
	CurrentPosition(ctx context.Context) (Fix, error)
}

// TaskOptions configure a periodically scheduled task.
type TaskOptions struct {
	Interval time.Duration
	Accuracy Accuracy
}

// TaskFunc handles a batch of fixes delivered to a scheduled task.
type TaskFunc func(ctx context.Context, fixes []Fix) error

// TaskScheduler registers named tasks that run outside the foreground loop.
type TaskScheduler interface {
	Register(name string, opts TaskOptions, fn TaskFunc) error
	Unregister(name string) error
	IsRegistered(name string) bool
}

// Reconciler consumes geofence observations. tracking.Manager implements it.
type Reconciler interface {
	Reconcile(ctx context.Context, observedInside bool, userID string) *domain.ActivitySession
}

// Observation is the outcome of processing one fix.
type Observation struct {
	Fix            Fix                     `json:"fix"`
	Inside         bool                    `json:"inside"`
	DistanceMeters float64                 `json:"distance_meters"`
	Session        *domain.ActivitySession `json:"session,omitempty"`
	ObservedAt     time.Time               `json:"observed_at"`
}

// observe evaluates fix against fence and hands the result to r.
func observe(ctx context.Context, r Reconciler, fence geo.Geofence, fix Fix, userID string, now time.Time) Observation {
	distance := geo.Distance(fix.Coordinate, fence.Center)
	inside := distance <= fence.RadiusMeters
	return Observation{
		Fix:            fix,
		Inside:         inside,
		DistanceMeters: distance,
		Session:        r.Reconcile(ctx, inside, userID),
		ObservedAt:     now.UTC(),
	}
}
