package remote

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/gymtracker/internal/domain"
)

// InMemoryAPI is a process-local activity API for development and tests. Like
// the real service it refuses a second open session for the same user.
type InMemoryAPI struct {
	mu       sync.Mutex
	sessions map[string]domain.ActivitySession
	now      func() time.Time
}

var _ domain.SessionAPI = (*InMemoryAPI)(nil)

// NewInMemoryAPI returns an empty InMemoryAPI.
func NewInMemoryAPI() *InMemoryAPI {
	return &InMemoryAPI{sessions: make(map[string]domain.ActivitySession), now: time.Now}
}

// StartSession opens a session with a random id.
func (a *InMemoryAPI) StartSession(ctx context.Context, userID string) (*domain.ActivitySession, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, s := range a.sessions {
		if s.UserID == userID && s.IsOpen() {
			return nil, &ServerError{StatusCode: http.StatusConflict, Body: "session already open: " + s.ID}
		}
	}
	session := domain.ActivitySession{
		ID:        uuid.NewString(),
		UserID:    userID,
		StartTime: a.now().UTC(),
	}
	a.sessions[session.ID] = session
	return &session, nil
}

// EndSession closes a session. Ending an already ended session is a no-op.
func (a *InMemoryAPI) EndSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	session, ok := a.sessions[sessionID]
	if !ok {
		return &ServerError{StatusCode: http.StatusNotFound, Body: "unknown session: " + sessionID}
	}
	if !session.IsOpen() {
		// repeated closes succeed
		return nil
	}
	a.sessions[sessionID] = session.Closed(a.now())
	return nil
}

// OpenSessions returns the sessions that have not been ended.
func (a *InMemoryAPI) OpenSessions() []domain.ActivitySession {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]domain.ActivitySession, 0)
	for _, s := range a.sessions {
		if s.IsOpen() {
			out = append(out, s)
		}
	}
	return out
}

// Session returns the session with id, open or closed.
func (a *InMemoryAPI) Session(id string) (domain.ActivitySession, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[id]
	return s, ok
}
