// Package tracker is the tracking façade: it wires the location producers to
// the session lifecycle manager, owns their start/stop lifecycle, and exposes
// an observable snapshot of the tracking state.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"example.com/gymtracker/internal/domain"
	"example.com/gymtracker/internal/geo"
	"example.com/gymtracker/internal/location"
	"example.com/gymtracker/internal/logging"
	"example.com/gymtracker/internal/tracking"
)

var (
	// ErrForegroundPermissionDenied aborts StartTracking.
	ErrForegroundPermissionDenied = errors.New("foreground location permission denied")
	// ErrMissingUser is returned when StartTracking is called without a user id.
	ErrMissingUser = errors.New("user id is required")
)

// Mode describes which producers are active.
type Mode string

const (
	ModeOff            Mode = "off"
	ModeForegroundOnly Mode = "foreground_only"
	ModeFull           Mode = "foreground_and_background"
)

// Snapshot is the read-only projection of the tracking state.
type Snapshot struct {
	Tracking        bool                    `json:"tracking"`
	Mode            Mode                    `json:"mode"`
	UserID          string                  `json:"user_id,omitempty"`
	IsInGym         bool                    `json:"is_in_gym"`
	Session         *domain.ActivitySession `json:"session,omitempty"`
	LastObservation *location.Observation   `json:"last_observation,omitempty"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

// Deps are the collaborators of the Tracker. Foreground and Background are
// distinct managers that share one guard, since both producers run in this
// process.
type Deps struct {
	Foreground  *tracking.Manager
	Background  *tracking.Manager
	State       *tracking.StateRepository
	Watcher     location.Watcher
	Scheduler   location.TaskScheduler
	Permissions location.Permissions
	Fence       geo.Geofence

	// Debounce is the minimum spacing of processed foreground fixes.
	Debounce time.Duration
	// TaskInterval is how often the background task runs.
	TaskInterval time.Duration
}

func (d Deps) validate() error {
	switch {
	case d.Foreground == nil:
		return errors.New("tracker: foreground manager is required")
	case d.Background == nil:
		return errors.New("tracker: background manager is required")
	case d.Foreground.Guard() != d.Background.Guard():
		return errors.New("tracker: foreground and background managers must share a guard")
	case d.State == nil:
		return errors.New("tracker: state repository is required")
	case d.Watcher == nil:
		return errors.New("tracker: location watcher is required")
	case d.Scheduler == nil:
		return errors.New("tracker: task scheduler is required")
	case d.Permissions == nil:
		return errors.New("tracker: permissions are required")
	case d.Fence.RadiusMeters <= 0:
		return fmt.Errorf("tracker: %w", geo.ErrInvalidRadius)
	}
	return nil
}

// Option configures optional behaviour for the Tracker.
type Option func(*Tracker)

// WithLogger overrides the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithClock overrides the clock used for debouncing and snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// Tracker coordinates the foreground watcher and the background task.
type Tracker struct {
	deps       Deps
	background *location.BackgroundTask
	logger     zerolog.Logger
	now        func() time.Time

	// lifecycle serialises StartTracking, StopTracking and Shutdown.
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	watching  string

	mu   sync.Mutex
	snap Snapshot
	subs map[chan Snapshot]struct{}
}

// New builds a Tracker and initialises its snapshot from the durable store,
// so a relaunch reports the session left open by an earlier process.
func New(ctx context.Context, deps Deps, opts ...Option) (*Tracker, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	t := &Tracker{
		deps:   deps,
		logger: zerolog.Nop(),
		now:    time.Now,
		subs:   make(map[chan Snapshot]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.background = location.NewBackgroundTask(deps.State, deps.Fence, deps.Background,
		location.WithBackgroundLogger(t.logger.With().Str(logging.FieldContext, tracking.ContextBackground).Logger()),
		location.WithBackgroundObserver(t.observe),
	)

	session, err := deps.State.LoadSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover tracking state: %w", err)
	}
	userID, _, err := deps.State.LoadUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("recover tracked user: %w", err)
	}
	t.snap = Snapshot{
		Mode:      ModeOff,
		UserID:    userID,
		IsInGym:   session != nil,
		Session:   session,
		UpdatedAt: t.now().UTC(),
	}
	if session != nil {
		t.logger.Info().Str(logging.FieldSessionID, session.ID).Msg("recovered open workout session")
	}
	return t, nil
}

// StartTracking begins tracking userID. A denied foreground permission aborts
// with ErrForegroundPermissionDenied; a denied background permission degrades
// to foreground-only tracking. Calling it again while running is a no-op.
func (t *Tracker) StartTracking(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrMissingUser
	}

	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	fg, err := t.deps.Permissions.RequestForeground(ctx)
	if err != nil {
		return fmt.Errorf("request foreground permission: %w", err)
	}
	if !fg.Granted() {
		t.logger.Warn().Str("status", string(fg)).Msg("foreground location permission denied")
		return ErrForegroundPermissionDenied
	}

	mode := ModeFull
	bg, err := t.deps.Permissions.RequestBackground(ctx)
	if err != nil || !bg.Granted() {
		mode = ModeForegroundOnly
		t.logger.Warn().Err(err).Str("status", string(bg)).Msg("background location permission denied, tracking in foreground only")
	}

	if err := t.deps.State.SaveUser(ctx, userID); err != nil {
		return fmt.Errorf("register tracked user: %w", err)
	}

	if mode == ModeFull && !t.deps.Scheduler.IsRegistered(location.BackgroundTaskName) {
		opts := location.TaskOptions{Interval: t.deps.TaskInterval, Accuracy: location.AccuracyBalanced}
		if err := t.deps.Scheduler.Register(location.BackgroundTaskName, opts, t.background.Handle); err != nil {
			return fmt.Errorf("register background task: %w", err)
		}
	}

	if t.cancel != nil && t.watching != userID {
		t.stopWatcher()
	}
	if t.cancel == nil {
		t.startWatcher(userID)
	}

	t.update(func(s *Snapshot) {
		s.Tracking = true
		s.Mode = mode
		s.UserID = userID
	})
	t.logger.Info().Str(logging.FieldUserID, userID).Str("mode", string(mode)).Msg("tracking started")
	return nil
}

// StopTracking tears down both producers, waits for them to finish, and then
// closes any session still open. No observation is processed after it returns.
func (t *Tracker) StopTracking(ctx context.Context) error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	t.teardown()

	session, err := t.deps.State.LoadSession(ctx)
	if err != nil {
		t.logger.Error().Err(err).Msg("reading persisted session on stop failed")
	}
	if session != nil {
		t.deps.Foreground.EndCurrentSession(ctx, session.ID)
		// re-read: a failed close keeps the record for the next start
		session, err = t.deps.State.LoadSession(ctx)
		if err != nil {
			t.logger.Error().Err(err).Msg("reading persisted session after close failed")
		}
	}

	clearErr := t.deps.State.ClearUser(ctx)
	t.update(func(s *Snapshot) {
		s.Tracking = false
		s.Mode = ModeOff
		s.UserID = ""
		s.Session = session
		s.IsInGym = session != nil
	})
	t.logger.Info().Msg("tracking stopped")
	if clearErr != nil {
		return fmt.Errorf("clear tracked user: %w", clearErr)
	}
	return nil
}

// Shutdown stops both producers without touching the open session or the
// tracked user, so the next process picks up where this one left off. It
// also ends every subscription.
func (t *Tracker) Shutdown() {
	t.lifecycle.Lock()
	t.teardown()
	t.lifecycle.Unlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	for ch := range t.subs {
		delete(t.subs, ch)
		close(ch)
	}
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// Subscribe returns a channel carrying the latest snapshot whenever it
// changes. Slow readers only ever see the newest value. The returned function
// ends the subscription.
func (t *Tracker) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	t.mu.Lock()
	t.subs[ch] = struct{}{}
	ch <- t.snap
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if _, ok := t.subs[ch]; ok {
				delete(t.subs, ch)
				close(ch)
			}
		})
	}
}

// Refresh re-reads the durable store, surfacing transitions made by the
// background context.
func (t *Tracker) Refresh(ctx context.Context) (Snapshot, error) {
	session, err := t.deps.State.LoadSession(ctx)
	if err != nil {
		return t.Snapshot(), fmt.Errorf("refresh tracking state: %w", err)
	}
	t.update(func(s *Snapshot) {
		s.Session = session
		s.IsInGym = session != nil
	})
	return t.Snapshot(), nil
}

func (t *Tracker) startWatcher(userID string) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	watcher := location.NewForegroundWatcher(t.deps.Watcher, t.deps.Fence, t.deps.Foreground,
		location.WithDebouncer(location.NewDebouncer(t.deps.Debounce, t.now)),
		location.WithWatchOptions(location.WatchOptions{Accuracy: location.AccuracyHigh, Interval: t.deps.Debounce}),
		location.WithObserver(t.observe),
		location.WithWatcherLogger(t.logger.With().Str(logging.FieldContext, tracking.ContextForeground).Logger()),
	)

	go func() {
		defer close(done)
		if err := watcher.Run(ctx, userID); err != nil && !errors.Is(err, context.Canceled) {
			t.logger.Error().Err(err).Msg("foreground watcher stopped")
		}
	}()

	t.cancel = cancel
	t.done = done
	t.watching = userID
}

func (t *Tracker) stopWatcher() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
	t.cancel = nil
	t.done = nil
	t.watching = ""
}

// teardown is called with the lifecycle lock held.
func (t *Tracker) teardown() {
	t.stopWatcher()
	if t.deps.Scheduler.IsRegistered(location.BackgroundTaskName) {
		if err := t.deps.Scheduler.Unregister(location.BackgroundTaskName); err != nil {
			t.logger.Warn().Err(err).Msg("unregister background task failed")
		}
	}
}

// observe records obs and re-reads the persisted session: Reconcile returns
// nil on contention or a failed end while a session is still open.
func (t *Tracker) observe(obs location.Observation) {
	session, err := t.deps.State.LoadSession(context.Background())
	if err != nil {
		t.logger.Warn().Err(err).Msg("reading persisted session after observation failed")
	}
	t.update(func(s *Snapshot) {
		observed := obs
		s.LastObservation = &observed
		if err == nil {
			s.Session = session
			s.IsInGym = session != nil
		}
	})
}

func (t *Tracker) update(fn func(*Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fn(&t.snap)
	t.snap.UpdatedAt = t.now().UTC()
	for ch := range t.subs {
		select {
		case <-ch:
		default:
		}
		ch <- t.snap
	}
}
