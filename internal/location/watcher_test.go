package location

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/gymtracker/internal/geo"
)

func TestForegroundWatcherReconcilesEachAdmittedFix(t *testing.T) {
	sub := &scriptedSubscription{results: []scriptedResult{
		{fix: at(nearby)},
		{fix: at(faraway)},
	}}
	source := &scriptedWatcher{sub: sub}
	reconciler := &recordingReconciler{}
	var observed []Observation

	clock := &stepClock{now: time.Date(2026, time.March, 2, 18, 0, 0, 0, time.UTC), step: 10 * time.Second}
	w := NewForegroundWatcher(source, testFence(), reconciler,
		WithDebouncer(NewDebouncer(3*time.Second, clock.Now)),
		WithObserver(func(o Observation) { observed = append(observed, o) }),
	)

	require.NoError(t, w.Run(context.Background(), "u1"))

	require.Equal(t, []reconcileCall{{inside: true, userID: "u1"}, {inside: false, userID: "u1"}}, reconciler.snapshot())
	require.Len(t, observed, 2)
	require.True(t, observed[0].Inside)
	require.NotNil(t, observed[0].Session)
	require.False(t, observed[1].Inside)
	require.Greater(t, observed[1].DistanceMeters, 100.0)
	require.True(t, sub.closed)
	require.Equal(t, AccuracyHigh, source.opts.Accuracy)
}

func TestForegroundWatcherDropsDebouncedFixes(t *testing.T) {
	results := make([]scriptedResult, 0, 10)
	for i := 0; i < 10; i++ {
		results = append(results, scriptedResult{fix: at(nearby)})
	}
	reconciler := &recordingReconciler{}
	clock := &stepClock{now: time.Date(2026, time.March, 2, 18, 0, 0, 0, time.UTC), step: time.Second}

	w := NewForegroundWatcher(&scriptedWatcher{sub: &scriptedSubscription{results: results}}, testFence(), reconciler,
		WithDebouncer(NewDebouncer(3*time.Second, clock.Now)),
	)
	require.NoError(t, w.Run(context.Background(), "u1"))

	// admitted at t=0s, 3s(ish), 6s(ish), 9s(ish) of the one-second stream
	calls := reconciler.snapshot()
	require.GreaterOrEqual(t, len(calls), 3)
	require.LessOrEqual(t, len(calls), 4)
}

func TestForegroundWatcherErrorsAreNotExits(t *testing.T) {
	sub := &scriptedSubscription{results: []scriptedResult{
		{err: errors.New("gps glitch")},
		{fix: Fix{Coordinate: geo.Coordinate{Latitude: 200, Longitude: 0}}},
		{fix: at(nearby)},
	}}
	reconciler := &recordingReconciler{}

	w := NewForegroundWatcher(&scriptedWatcher{sub: sub}, testFence(), reconciler, WithDebouncer(NewDebouncer(0, nil)))
	require.NoError(t, w.Run(context.Background(), "u1"))

	require.Equal(t, []reconcileCall{{inside: true, userID: "u1"}}, reconciler.snapshot())
}

func TestForegroundWatcherStopsOnCancel(t *testing.T) {
	feed := NewFeed(4)
	reconciler := &recordingReconciler{}
	processed := make(chan Observation, 1)

	w := NewForegroundWatcher(feed, testFence(), reconciler,
		WithDebouncer(NewDebouncer(0, nil)),
		WithObserver(func(o Observation) {
			select {
			case processed <- o:
			default:
			}
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, "u1") }()

	require.Eventually(t, func() bool {
		feed.Publish(at(nearby))
		select {
		case <-processed:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}
