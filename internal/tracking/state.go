package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"example.com/gymtracker/internal/domain"
	"example.com/gymtracker/internal/kv"
)

// Durable store keys.
const (
	SessionKey = "gymtracker/session"
	UserKey    = "gymtracker/user"
)

// StateRepository reads and writes the persisted tracking state. Corrupt
// session records are reported as absent so a bad write can never block all
// future sessions.
type StateRepository struct {
	store  kv.Store
	logger zerolog.Logger
	now    func() time.Time
}

// NewStateRepository wraps a durable store.
func NewStateRepository(store kv.Store, logger zerolog.Logger) *StateRepository {
	return &StateRepository{store: store, logger: logger, now: time.Now}
}

// LoadState returns the persisted open-session record, or nil when there is none.
func (r *StateRepository) LoadState(ctx context.Context) (*domain.PersistedTrackingState, error) {
	raw, ok, err := r.store.Get(ctx, SessionKey)
	if err != nil {
		return nil, fmt.Errorf("load tracking state: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var state domain.PersistedTrackingState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		recordCorruptState("invalid_json")
		r.logger.Warn().Err(err).Msg("persisted session record is not valid json, treating as no session")
		return nil, nil
	}
	if state.Version != domain.PersistedStateVersion {
		recordCorruptState("unknown_version")
		r.logger.Warn().Int("version", state.Version).Msg("persisted session record has unknown version, treating as no session")
		return nil, nil
	}
	if state.Session.ID == "" {
		recordCorruptState("missing_session_id")
		r.logger.Warn().Msg("persisted session record has no session id, treating as no session")
		return nil, nil
	}
	return &state, nil
}

// LoadSession returns the persisted open session, or nil when there is none.
func (r *StateRepository) LoadSession(ctx context.Context) (*domain.ActivitySession, error) {
	state, err := r.LoadState(ctx)
	if err != nil || state == nil {
		return nil, err
	}
	session := state.Session
	return &session, nil
}

// SaveSession persists session as the open session owned by userID.
func (r *StateRepository) SaveSession(ctx context.Context, userID string, session domain.ActivitySession) error {
	state := domain.PersistedTrackingState{
		Version: domain.PersistedStateVersion,
		UserID:  userID,
		Session: session,
		SavedAt: r.now().UTC(),
	}
	buf, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode tracking state: %w", err)
	}
	if err := r.store.Set(ctx, SessionKey, string(buf)); err != nil {
		return fmt.Errorf("save tracking state: %w", err)
	}
	return nil
}

// ClearSession deletes the persisted open-session record.
func (r *StateRepository) ClearSession(ctx context.Context) error {
	if err := r.store.Delete(ctx, SessionKey); err != nil {
		return fmt.Errorf("clear tracking state: %w", err)
	}
	return nil
}

// LoadUser returns the user registered for tracking, if any.
func (r *StateRepository) LoadUser(ctx context.Context) (string, bool, error) {
	userID, ok, err := r.store.Get(ctx, UserKey)
	if err != nil {
		return "", false, fmt.Errorf("load tracked user: %w", err)
	}
	if !ok || userID == "" {
		return "", false, nil
	}
	return userID, true, nil
}

// SaveUser registers userID as the tracked user.
func (r *StateRepository) SaveUser(ctx context.Context, userID string) error {
	if err := r.store.Set(ctx, UserKey, userID); err != nil {
		return fmt.Errorf("save tracked user: %w", err)
	}
	return nil
}

// ClearUser removes the tracked user registration.
func (r *StateRepository) ClearUser(ctx context.Context) error {
	if err := r.store.Delete(ctx, UserKey); err != nil {
		return fmt.Errorf("clear tracked user: %w", err)
	}
	return nil
}
