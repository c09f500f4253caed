package location

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"example.com/gymtracker/internal/geo"
	"example.com/gymtracker/internal/logging"
)

// BackgroundTaskName is the name the background task registers under.
const BackgroundTaskName = "gymtracker-background-location"

const producerBackground = "background"

// UserSource resolves the user registered for tracking.
// tracking.StateRepository implements it.
type UserSource interface {
	LoadUser(ctx context.Context) (string, bool, error)
}

// BackgroundTask handles fixes delivered while the foreground loop is not
// running. It holds no state of its own: the tracked user is read from the
// durable store on every invocation.
type BackgroundTask struct {
	users      UserSource
	fence      geo.Geofence
	reconciler Reconciler
	observer   func(Observation)
	logger     zerolog.Logger
	now        func() time.Time
}

// BackgroundOption configures optional behaviour for the BackgroundTask.
type BackgroundOption func(*BackgroundTask)

// WithBackgroundLogger overrides the logger.
func WithBackgroundLogger(logger zerolog.Logger) BackgroundOption {
	return func(t *BackgroundTask) {
		t.logger = logger
	}
}

// WithBackgroundObserver registers a callback invoked after every processed batch.
func WithBackgroundObserver(fn func(Observation)) BackgroundOption {
	return func(t *BackgroundTask) {
		t.observer = fn
	}
}

// NewBackgroundTask constructs a BackgroundTask.
func NewBackgroundTask(users UserSource, fence geo.Geofence, reconciler Reconciler, opts ...BackgroundOption) *BackgroundTask {
	t := &BackgroundTask{
		users:      users,
		fence:      fence,
		reconciler: reconciler,
		logger:     zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Handle reconciles the most recent valid fix in the batch. It satisfies TaskFunc.
func (t *BackgroundTask) Handle(ctx context.Context, fixes []Fix) error {
	fix, ok := latestValid(fixes)
	if !ok {
		recordFix(producerBackground, outcomeInvalid)
		t.logger.Debug().Int("fixes", len(fixes)).Msg("background batch has no usable fix")
		return nil
	}

	userID, registered, err := t.users.LoadUser(ctx)
	if err != nil {
		return fmt.Errorf("background task: %w", err)
	}
	if !registered {
		t.logger.Info().Msg("background fix ignored: no tracked user")
		return nil
	}

	obs := observe(ctx, t.reconciler, t.fence, fix, userID, t.now())
	recordProcessed(producerBackground, fix)
	t.logger.Debug().
		Str(logging.FieldUserID, userID).
		Bool(logging.FieldInside, obs.Inside).
		Float64("distance_m", obs.DistanceMeters).
		Msg("background observation processed")
	if t.observer != nil {
		t.observer(obs)
	}
	return nil
}

func latestValid(fixes []Fix) (Fix, bool) {
	var (
		latest Fix
		found  bool
	)
	for _, fix := range fixes {
		if fix.Coordinate.Validate() != nil {
			continue
		}
		if !found || !fix.Timestamp.Before(latest.Timestamp) {
			latest = fix
			found = true
		}
	}
	return latest, found
}
