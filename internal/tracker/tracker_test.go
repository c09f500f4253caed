package tracker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"example.com/gymtracker/internal/domain"
	"example.com/gymtracker/internal/geo"
	"example.com/gymtracker/internal/guard"
	"example.com/gymtracker/internal/kv"
	"example.com/gymtracker/internal/location"
	"example.com/gymtracker/internal/remote"
	"example.com/gymtracker/internal/tracking"
)

var (
	gym     = geo.Coordinate{Latitude: 52.5200, Longitude: 13.4050}
	inside  = location.Fix{Coordinate: geo.Coordinate{Latitude: 52.5201, Longitude: 13.4051}}
	outside = location.Fix{Coordinate: geo.Coordinate{Latitude: 52.5300, Longitude: 13.4050}}
)

type countingAPI struct {
	*remote.InMemoryAPI
	starts   atomic.Int32
	ends     atomic.Int32
	failEnds atomic.Bool
}

func (a *countingAPI) StartSession(ctx context.Context, userID string) (*domain.ActivitySession, error) {
	a.starts.Add(1)
	return a.InMemoryAPI.StartSession(ctx, userID)
}

func (a *countingAPI) EndSession(ctx context.Context, sessionID string) error {
	a.ends.Add(1)
	if a.failEnds.Load() {
		return domain.ErrServer
	}
	return a.InMemoryAPI.EndSession(ctx, sessionID)
}

type fixture struct {
	store     kv.Store
	state     *tracking.StateRepository
	api       *countingAPI
	feed      *location.Feed
	position  *location.Feed
	scheduler *location.TickerScheduler
	deps      Deps
}

func newFixture(t *testing.T, perms location.StaticPermissions) *fixture {
	t.Helper()

	fence, err := geo.NewGeofence(gym, 100)
	require.NoError(t, err)

	f := &fixture{
		store:    kv.NewMemoryStore(),
		api:      &countingAPI{InMemoryAPI: remote.NewInMemoryAPI()},
		feed:     location.NewFeed(8),
		position: location.NewFeed(1),
	}
	f.state = tracking.NewStateRepository(f.store, zerolog.Nop())
	f.scheduler = location.NewTickerScheduler(f.position)
	transitions := guard.New(time.Minute)
	f.deps = Deps{
		Foreground:   tracking.NewManager(f.api, f.state, transitions, nil),
		Background:   tracking.NewManager(f.api, f.state, transitions, nil, tracking.WithExecutionContext(tracking.ContextBackground)),
		State:        f.state,
		Watcher:      f.feed,
		Scheduler:    f.scheduler,
		Permissions:  perms,
		Fence:        fence,
		Debounce:     0,
		TaskInterval: 10 * time.Millisecond,
	}
	return f
}

func granted() location.StaticPermissions {
	return location.StaticPermissions{Foreground: location.PermissionGranted, Background: location.PermissionGranted}
}

func (f *fixture) tracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := New(context.Background(), f.deps)
	require.NoError(t, err)
	return tr
}

// publishUntil keeps publishing fix until cond holds; the watcher subscribes asynchronously.
func publishUntil(t *testing.T, feed *location.Feed, fix location.Fix, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		feed.Publish(fix)
		return cond()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTrackerEntryAndExit(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	f := newFixture(t, granted())
	tr := f.tracker(t)
	defer tr.Shutdown()

	require.NoError(t, tr.StartTracking(ctx, "u1"))
	snap := tr.Snapshot()
	require.True(t, snap.Tracking)
	require.Equal(t, ModeFull, snap.Mode)
	require.True(t, f.scheduler.IsRegistered(location.BackgroundTaskName))

	publishUntil(t, f.feed, inside, func() bool { return tr.Snapshot().IsInGym })
	session := tr.Snapshot().Session
	require.NotNil(t, session)

	persisted, err := f.state.LoadSession(ctx)
	require.NoError(t, err)
	require.Equal(t, session.ID, persisted.ID)

	// redundant inside fixes do not start another session
	for i := 0; i < 10; i++ {
		f.feed.Publish(inside)
	}
	publishUntil(t, f.feed, outside, func() bool { return !tr.Snapshot().IsInGym })

	require.Equal(t, int32(1), f.api.starts.Load())
	require.Equal(t, int32(1), f.api.ends.Load())
	require.Empty(t, f.api.OpenSessions())
	persisted, err = f.state.LoadSession(ctx)
	require.NoError(t, err)
	require.Nil(t, persisted)
	require.NotNil(t, tr.Snapshot().LastObservation)
}

func TestTrackerRecoversPersistedSession(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	f := newFixture(t, granted())

	open := domain.ActivitySession{ID: "sess-before-restart", StartTime: time.Date(2026, time.March, 2, 18, 0, 0, 0, time.UTC)}
	require.NoError(t, f.state.SaveSession(ctx, "u1", open))
	require.NoError(t, f.state.SaveUser(ctx, "u1"))

	tr := f.tracker(t)
	defer tr.Shutdown()

	snap := tr.Snapshot()
	require.True(t, snap.IsInGym)
	require.Equal(t, open.ID, snap.Session.ID)
	require.Equal(t, "u1", snap.UserID)
	require.False(t, snap.Tracking)
	require.Zero(t, f.api.starts.Load())
}

func TestStopTrackingClosesOpenSession(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	f := newFixture(t, granted())
	tr := f.tracker(t)
	defer tr.Shutdown()

	require.NoError(t, tr.StartTracking(ctx, "u1"))
	publishUntil(t, f.feed, inside, func() bool { return tr.Snapshot().IsInGym })

	require.NoError(t, tr.StopTracking(ctx))

	require.Equal(t, int32(1), f.api.ends.Load())
	require.Empty(t, f.api.OpenSessions())
	require.False(t, f.scheduler.IsRegistered(location.BackgroundTaskName))

	snap := tr.Snapshot()
	require.False(t, snap.Tracking)
	require.False(t, snap.IsInGym)
	require.Equal(t, ModeOff, snap.Mode)

	_, ok, err := f.state.LoadUser(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	// later fixes reach nobody
	f.feed.Publish(inside)
	f.position.Publish(inside)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), f.api.starts.Load())
	require.Equal(t, int32(1), f.api.ends.Load())
}

func TestStopTrackingWithoutSession(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	f := newFixture(t, granted())
	tr := f.tracker(t)
	defer tr.Shutdown()

	require.NoError(t, tr.StartTracking(ctx, "u1"))
	require.NoError(t, tr.StopTracking(ctx))
	require.NoError(t, tr.StopTracking(ctx))
	require.Zero(t, f.api.ends.Load())
}

func TestStartTrackingForegroundDenied(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	f := newFixture(t, location.StaticPermissions{Foreground: location.PermissionDenied, Background: location.PermissionGranted})
	tr := f.tracker(t)
	defer tr.Shutdown()

	require.ErrorIs(t, tr.StartTracking(ctx, "u1"), ErrForegroundPermissionDenied)
	require.False(t, tr.Snapshot().Tracking)
	require.False(t, f.scheduler.IsRegistered(location.BackgroundTaskName))

	_, ok, err := f.state.LoadUser(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStartTrackingBackgroundDeniedRunsForegroundOnly(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	f := newFixture(t, location.StaticPermissions{Foreground: location.PermissionGranted, Background: location.PermissionDenied})
	tr := f.tracker(t)
	defer tr.Shutdown()

	require.NoError(t, tr.StartTracking(ctx, "u1"))
	require.Equal(t, ModeForegroundOnly, tr.Snapshot().Mode)
	require.False(t, f.scheduler.IsRegistered(location.BackgroundTaskName))

	publishUntil(t, f.feed, inside, func() bool { return tr.Snapshot().IsInGym })
}

func TestStartTrackingIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	f := newFixture(t, granted())
	tr := f.tracker(t)
	defer tr.Shutdown()

	require.ErrorIs(t, tr.StartTracking(ctx, ""), ErrMissingUser)
	require.NoError(t, tr.StartTracking(ctx, "u1"))
	require.NoError(t, tr.StartTracking(ctx, "u1"))
	require.True(t, f.scheduler.IsRegistered(location.BackgroundTaskName))

	publishUntil(t, f.feed, inside, func() bool { return tr.Snapshot().IsInGym })
	require.Equal(t, int32(1), f.api.starts.Load())
}

func TestBackgroundTaskUpdatesSnapshot(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	f := newFixture(t, granted())
	tr := f.tracker(t)
	defer tr.Shutdown()

	require.NoError(t, tr.StartTracking(ctx, "u1"))
	f.position.Publish(inside)

	require.Eventually(t, func() bool { return tr.Snapshot().IsInGym }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(1), f.api.starts.Load())
}

func TestRefreshSurfacesOtherContextChanges(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	f := newFixture(t, granted())
	tr := f.tracker(t)
	defer tr.Shutdown()

	session := f.deps.Background.Reconcile(ctx, true, "u1")
	require.NotNil(t, session)
	require.False(t, tr.Snapshot().IsInGym)

	snap, err := tr.Refresh(ctx)
	require.NoError(t, err)
	require.True(t, snap.IsInGym)
	require.Equal(t, session.ID, snap.Session.ID)
}

func TestSubscribeDeliversLatestSnapshot(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	f := newFixture(t, granted())
	tr := f.tracker(t)

	updates, cancel := tr.Subscribe()
	initial := <-updates
	require.False(t, initial.Tracking)

	require.NoError(t, tr.StartTracking(ctx, "u1"))
	publishUntil(t, f.feed, inside, func() bool { return tr.Snapshot().IsInGym })

	require.Eventually(t, func() bool {
		select {
		case snap := <-updates:
			return snap.Tracking && snap.IsInGym
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	cancel()
	for range updates {
	}

	tr.Shutdown()
}

func TestNewRejectsIncompleteDeps(t *testing.T) {
	f := newFixture(t, granted())
	deps := f.deps
	deps.Watcher = nil
	_, err := New(context.Background(), deps)
	require.Error(t, err)

	deps = f.deps
	deps.Fence = geo.Geofence{Center: gym}
	_, err = New(context.Background(), deps)
	require.ErrorIs(t, err, geo.ErrInvalidRadius)
}

func TestNewRejectsManagersWithSeparateGuards(t *testing.T) {
	f := newFixture(t, granted())
	deps := f.deps
	deps.Background = tracking.NewManager(f.api, f.state, guard.New(time.Minute), nil,
		tracking.WithExecutionContext(tracking.ContextBackground))

	_, err := New(context.Background(), deps)
	require.ErrorContains(t, err, "share a guard")
}

func TestSnapshotFollowsPersistedSessionWhenEndFails(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	f := newFixture(t, granted())
	tr := f.tracker(t)
	defer tr.Shutdown()

	require.NoError(t, tr.StartTracking(ctx, "u1"))
	publishUntil(t, f.feed, inside, func() bool { return tr.Snapshot().IsInGym })
	session := tr.Snapshot().Session
	require.NotNil(t, session)

	f.api.failEnds.Store(true)
	publishUntil(t, f.feed, outside, func() bool {
		last := tr.Snapshot().LastObservation
		return last != nil && !last.Inside && f.api.ends.Load() > 0
	})

	snap := tr.Snapshot()
	persisted, err := f.state.LoadSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	require.True(t, snap.IsInGym)
	require.Equal(t, persisted.ID, snap.Session.ID)
	require.Equal(t, session.ID, snap.Session.ID)

	f.api.failEnds.Store(false)
	publishUntil(t, f.feed, outside, func() bool { return !tr.Snapshot().IsInGym })
	persisted, err = f.state.LoadSession(ctx)
	require.NoError(t, err)
	require.Nil(t, persisted)
}
