package location

import (
	"context"
	"sync"
	"time"

	"example.com/gymtracker/internal/domain"
	"example.com/gymtracker/internal/geo"
)

var (
	gym     = geo.Coordinate{Latitude: 52.5200, Longitude: 13.4050}
	nearby  = geo.Coordinate{Latitude: 52.5201, Longitude: 13.4051}
	faraway = geo.Coordinate{Latitude: 52.5300, Longitude: 13.4050}
)

func testFence() geo.Geofence {
	fence, err := geo.NewGeofence(gym, 100)
	if err != nil {
		panic(err)
	}
	return fence
}

type reconcileCall struct {
	inside bool
	userID string
}

type recordingReconciler struct {
	mu    sync.Mutex
	calls []reconcileCall
}

func (r *recordingReconciler) Reconcile(_ context.Context, inside bool, userID string) *domain.ActivitySession {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, reconcileCall{inside: inside, userID: userID})
	if inside {
		return &domain.ActivitySession{ID: "s1"}
	}
	return nil
}

func (r *recordingReconciler) snapshot() []reconcileCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]reconcileCall(nil), r.calls...)
}

// scriptedSubscription replays results in order, then reports closure.
type scriptedSubscription struct {
	results []scriptedResult
	index   int
	closed  bool
}

type scriptedResult struct {
	fix Fix
	err error
}

func (s *scriptedSubscription) Next(context.Context) (Fix, error) {
	if s.index >= len(s.results) {
		return Fix{}, ErrSubscriptionClosed
	}
	r := s.results[s.index]
	s.index++
	return r.fix, r.err
}

func (s *scriptedSubscription) Close() { s.closed = true }

type scriptedWatcher struct {
	sub  *scriptedSubscription
	opts WatchOptions
}

func (w *scriptedWatcher) Watch(_ context.Context, opts WatchOptions) (Subscription, error) {
	w.opts = opts
	return w.sub, nil
}

// stepClock advances by step on every reading.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.now
	c.now = c.now.Add(c.step)
	return current
}

func at(coord geo.Coordinate) Fix {
	return Fix{Coordinate: coord, Timestamp: time.Now().UTC()}
}
