// Package tracking owns workout-session transitions: it decides, from a
// geofence observation and the persisted state, whether a session must be
// started or ended, and performs that transition at most once.
package tracking

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"example.com/gymtracker/internal/domain"
	"example.com/gymtracker/internal/guard"
	"example.com/gymtracker/internal/logging"
)

// Execution context labels.
const (
	ContextForeground = "foreground"
	ContextBackground = "background"
)

// Transition labels reported by Reconcile.
const (
	TransitionStart      = "start"
	TransitionEnd        = "end"
	TransitionStayInside = "stay_inside"
	TransitionStayOut    = "stay_outside"
	TransitionDropped    = "dropped"
)

// Option configures optional behaviour for the Manager.
type Option func(*Manager)

// WithLogger overrides the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithExecutionContext labels the manager's logs and metrics.
func WithExecutionContext(name string) Option {
	return func(m *Manager) {
		m.execContext = name
	}
}

// WithClock overrides the clock used for notification and close timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager performs session transitions for one execution context. Managers
// running in the same process must share one guard; a separate process owns
// its own, and the persisted state is the source of truth between processes.
type Manager struct {
	api         domain.SessionAPI
	state       *StateRepository
	guard       *guard.Mutex
	notifier    domain.Notifier
	logger      zerolog.Logger
	execContext string
	now         func() time.Time
}

// NewManager constructs a Manager.
func NewManager(api domain.SessionAPI, state *StateRepository, g *guard.Mutex, notifier domain.Notifier, opts ...Option) *Manager {
	m := &Manager{
		api:         api,
		state:       state,
		guard:       g,
		notifier:    notifier,
		logger:      zerolog.Nop(),
		execContext: ContextForeground,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.notifier == nil {
		m.notifier = domain.NotifierFunc(func(context.Context, domain.Notification) {})
	}
	m.logger = m.logger.With().Str(logging.FieldContext, m.execContext).Logger()
	return m
}

// ExecutionContext returns the label of the context this manager serves.
func (m *Manager) ExecutionContext() string {
	return m.execContext
}

// CurrentSession returns the persisted open session, or nil.
func (m *Manager) CurrentSession(ctx context.Context) (*domain.ActivitySession, error) {
	return m.state.LoadSession(ctx)
}

// StartNewSession opens a remote session for userID unless one is already
// persisted. It returns nil when another transition holds the guard or the
// remote call fails.
func (m *Manager) StartNewSession(ctx context.Context, userID string) *domain.ActivitySession {
	tok, ok := m.guard.Acquire()
	if !ok {
		recordContention(m.execContext, "start")
		m.logger.Debug().Str(logging.FieldUserID, userID).Msg("start skipped: transition already in flight")
		return nil
	}
	defer m.guard.Release(tok)

	// another context may have opened a session since the caller looked
	existing, err := m.state.LoadSession(ctx)
	if err != nil {
		recordStoreError(m.execContext, "load")
		m.logger.Error().Err(err).Msg("start aborted: cannot read persisted state")
		return nil
	}
	if existing != nil {
		m.logger.Debug().Str(logging.FieldSessionID, existing.ID).Msg("start skipped: session already persisted")
		return existing
	}

	remoteCtx, cancel := m.remoteContext(ctx)
	defer cancel()
	session, err := m.api.StartSession(remoteCtx, userID)
	if err != nil {
		recordRemoteError(m.execContext, "start")
		m.logger.Warn().Err(err).Str(logging.FieldUserID, userID).Msg("start session failed, will retry on next observation")
		return nil
	}
	if session.UserID == "" {
		session.UserID = userID
	}

	if err := m.state.SaveSession(ctx, userID, *session); err != nil {
		recordStoreError(m.execContext, "save")
		m.logger.Error().Err(err).Str(logging.FieldSessionID, session.ID).Msg("persisting session failed, closing it remotely")
		// the guard may expire while compensating; the session is not persisted
		compensateCtx, cancelCompensate := context.WithTimeout(context.WithoutCancel(ctx), m.guard.Timeout())
		defer cancelCompensate()
		if endErr := m.api.EndSession(compensateCtx, session.ID); endErr != nil {
			recordRemoteError(m.execContext, "compensate")
			m.logger.Error().Err(endErr).Str(logging.FieldSessionID, session.ID).Msg("compensating end session failed")
		}
		return nil
	}
	setSessionOpen(true)

	m.logger.Info().
		Str(logging.FieldUserID, userID).
		Str(logging.FieldSessionID, session.ID).
		Msg("workout session started")
	m.notifier.Notify(ctx, domain.Notification{
		Kind:       domain.NotificationGymEntered,
		UserID:     userID,
		Session:    *session,
		Title:      "Welcome to the gym",
		Body:       "Your workout session has started.",
		OccurredAt: m.now().UTC(),
	})
	return session
}

// EndCurrentSession closes sessionID remotely and clears the persisted record.
// When the remote call fails the record is kept so a later observation retries.
func (m *Manager) EndCurrentSession(ctx context.Context, sessionID string) {
	tok, ok := m.guard.Acquire()
	if !ok {
		recordContention(m.execContext, "end")
		m.logger.Debug().Str(logging.FieldSessionID, sessionID).Msg("end skipped: transition already in flight")
		return
	}
	defer m.guard.Release(tok)

	persisted, err := m.state.LoadState(ctx)
	if err != nil {
		// an unreadable record still gets closed remotely
		recordStoreError(m.execContext, "load")
		m.logger.Warn().Err(err).Msg("reading persisted state before end failed")
	} else if persisted == nil || persisted.Session.ID != sessionID {
		m.logger.Debug().Str(logging.FieldSessionID, sessionID).Msg("end skipped: session no longer persisted")
		return
	}

	remoteCtx, cancel := m.remoteContext(ctx)
	defer cancel()
	if err := m.api.EndSession(remoteCtx, sessionID); err != nil {
		recordRemoteError(m.execContext, "end")
		m.logger.Warn().Err(err).Str(logging.FieldSessionID, sessionID).Msg("end session failed, keeping it open for retry")
		return
	}

	if err := m.clearSession(ctx); err != nil {
		// the record stays; the next exit observation ends the session again
		m.logger.Error().Err(err).Str(logging.FieldSessionID, sessionID).Msg("clearing persisted session failed")
		return
	}
	setSessionOpen(false)

	closed := domain.ActivitySession{ID: sessionID}
	userID := ""
	if persisted != nil {
		closed = persisted.Session
		userID = persisted.UserID
	}
	closed = closed.Closed(m.now())

	m.logger.Info().
		Str(logging.FieldSessionID, sessionID).
		Int("duration_min", closed.DurationMinutes).
		Msg("workout session ended")
	m.notifier.Notify(ctx, domain.Notification{
		Kind:       domain.NotificationSessionEnded,
		UserID:     userID,
		Session:    closed,
		Title:      "Workout finished",
		Body:       "Your workout session has ended.",
		OccurredAt: m.now().UTC(),
	})
}

// Reconcile compares a fresh geofence observation with the persisted state
// and performs the implied transition. Both producers must go through here;
// it never fails, internal errors are logged and the observation dropped.
func (m *Manager) Reconcile(ctx context.Context, observedInside bool, userID string) *domain.ActivitySession {
	persisted, err := m.state.LoadSession(ctx)
	if err != nil {
		recordStoreError(m.execContext, "load")
		recordTransition(m.execContext, TransitionDropped)
		m.logger.Error().Err(err).Bool(logging.FieldInside, observedInside).Msg("observation dropped: cannot read persisted state")
		return nil
	}
	wasInside := persisted != nil

	switch {
	case !wasInside && observedInside:
		recordTransition(m.execContext, TransitionStart)
		return m.StartNewSession(ctx, userID)
	case wasInside && !observedInside:
		recordTransition(m.execContext, TransitionEnd)
		m.EndCurrentSession(ctx, persisted.ID)
		return nil
	case wasInside && observedInside:
		recordTransition(m.execContext, TransitionStayInside)
		return persisted
	default:
		recordTransition(m.execContext, TransitionStayOut)
		return nil
	}
}

// remoteContext bounds a remote call by the guard timeout so no call outlives
// the acquisition it runs under.
func (m *Manager) remoteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.guard.Timeout())
}

// clearSession deletes the persisted record, retrying once.
func (m *Manager) clearSession(ctx context.Context) error {
	err := m.state.ClearSession(ctx)
	if err == nil {
		return nil
	}
	recordStoreError(m.execContext, "clear")
	if err = m.state.ClearSession(ctx); err != nil {
		recordStoreError(m.execContext, "clear")
	}
	return err
}

// Guard returns the transition guard this manager acquires.
func (m *Manager) Guard() *guard.Mutex {
	return m.guard
}
