package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClosedDerivesDuration(t *testing.T) {
	start := time.Date(2026, time.March, 2, 18, 0, 0, 0, time.UTC)
	s := ActivitySession{ID: "s1", StartTime: start}
	require.True(t, s.IsOpen())

	closed := s.Closed(start.Add(47*time.Minute + 40*time.Second))
	require.False(t, closed.IsOpen())
	require.Equal(t, 48, closed.DurationMinutes)
	require.True(t, s.IsOpen(), "original is not mutated")
}

func TestClosedKeepsServerDuration(t *testing.T) {
	start := time.Date(2026, time.March, 2, 18, 0, 0, 0, time.UTC)
	s := ActivitySession{ID: "s1", StartTime: start, DurationMinutes: 30}

	closed := s.Closed(start.Add(time.Hour))
	require.Equal(t, 30, closed.DurationMinutes)
}

func TestClosedWithoutStartTime(t *testing.T) {
	closed := ActivitySession{ID: "s1"}.Closed(time.Now())
	require.Equal(t, 0, closed.DurationMinutes)
	require.NotNil(t, closed.EndTime)
}
