package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"example.com/gymtracker/internal/domain"
	"example.com/gymtracker/internal/guard"
	"example.com/gymtracker/internal/kv"
)

// stubAPI is an in-memory activity API that also tracks which sessions are
// open so tests can check the single-open-session invariant.
type stubAPI struct {
	mu         sync.Mutex
	seq        int
	starts     int
	ends       []string
	open       map[string]string // session id -> user id
	ended      map[string]bool
	violations int
	startErr   error
	endErr     error
	delay      time.Duration
	startGate  chan struct{}
	startedCh  chan struct{}
}

func newStubAPI() *stubAPI {
	return &stubAPI{open: make(map[string]string), ended: make(map[string]bool)}
}

func (a *stubAPI) StartSession(ctx context.Context, userID string) (*domain.ActivitySession, error) {
	if a.startedCh != nil {
		a.startedCh <- struct{}{}
	}
	if a.startGate != nil {
		<-a.startGate
	}
	if err := a.wait(ctx); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.starts++
	if a.startErr != nil {
		return nil, a.startErr
	}
	for _, owner := range a.open {
		if owner == userID {
			a.violations++
		}
	}
	a.seq++
	id := fmt.Sprintf("sess-%d", a.seq)
	a.open[id] = userID
	return &domain.ActivitySession{
		ID:        id,
		StartTime: time.Date(2026, time.March, 2, 18, 0, 0, 0, time.UTC),
	}, nil
}

func (a *stubAPI) EndSession(ctx context.Context, sessionID string) error {
	if err := a.wait(ctx); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.ends = append(a.ends, sessionID)
	if a.endErr != nil {
		return a.endErr
	}
	if a.ended[sessionID] {
		return nil
	}
	if _, ok := a.open[sessionID]; !ok {
		return fmt.Errorf("%w: session %s is not open", domain.ErrServer, sessionID)
	}
	delete(a.open, sessionID)
	a.ended[sessionID] = true
	return nil
}

// wait simulates remote latency and gives up when ctx ends first.
func (a *stubAPI) wait(ctx context.Context) error {
	a.mu.Lock()
	delay := a.delay
	a.mu.Unlock()
	if delay <= 0 {
		return nil
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrNetwork, ctx.Err())
	}
}

func (a *stubAPI) startCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.starts
}

func (a *stubAPI) endCalls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.ends...)
}

func (a *stubAPI) openCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.open)
}

func (a *stubAPI) setDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delay = d
}

func (a *stubAPI) setEndErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.endErr = err
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *recordingNotifier) kinds() []domain.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.NotificationKind, 0, len(n.sent))
	for _, msg := range n.sent {
		out = append(out, msg.Kind)
	}
	return out
}

// faultyStore wraps a store and injects errors per operation.
type faultyStore struct {
	kv.Store
	getErr error
	setErr error

	mu             sync.Mutex
	deleteFailures int
}

func (s *faultyStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.getErr != nil {
		return "", false, s.getErr
	}
	return s.Store.Get(ctx, key)
}

func (s *faultyStore) Set(ctx context.Context, key, value string) error {
	if s.setErr != nil {
		return s.setErr
	}
	return s.Store.Set(ctx, key, value)
}

func (s *faultyStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	fail := s.deleteFailures > 0
	if fail {
		s.deleteFailures--
	}
	s.mu.Unlock()
	if fail {
		return errBoom
	}
	return s.Store.Delete(ctx, key)
}

var errBoom = errors.New("boom")

type harness struct {
	store    kv.Store
	state    *StateRepository
	api      *stubAPI
	notifier *recordingNotifier
	guard    *guard.Mutex
	manager  *Manager
}

func newHarness(store kv.Store) *harness {
	if store == nil {
		store = kv.NewMemoryStore()
	}
	h := &harness{
		store:    store,
		state:    NewStateRepository(store, zerolog.Nop()),
		api:      newStubAPI(),
		notifier: &recordingNotifier{},
		guard:    guard.New(time.Minute),
	}
	h.manager = NewManager(h.api, h.state, h.guard, h.notifier)
	return h
}

// secondContext returns a manager for another execution context in the same
// process: same store, remote API and guard.
func (h *harness) secondContext() *Manager {
	return NewManager(h.api, h.state, h.guard, h.notifier, WithExecutionContext(ContextBackground))
}

// otherProcess returns a manager standing in for a separate process: same
// store and remote API, its own guard.
func (h *harness) otherProcess() *Manager {
	return NewManager(h.api, h.state, guard.New(time.Minute), h.notifier, WithExecutionContext(ContextBackground))
}
