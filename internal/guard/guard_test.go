package guard

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestAcquireIsExclusive(t *testing.T) {
	m := New(time.Minute)

	tok, ok := m.Acquire()
	require.True(t, ok)
	require.True(t, m.Locked())
	_, ok = m.Acquire()
	require.False(t, ok)

	m.Release(tok)
	require.False(t, m.Locked())
	tok, ok = m.Acquire()
	require.True(t, ok)
	m.Release(tok)
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := New(time.Minute)

	m.Release(0)
	require.False(t, m.Locked())

	tok, ok := m.Acquire()
	require.True(t, ok)
	m.Release(tok)
	m.Release(tok)
	require.False(t, m.Locked())

	tok, ok = m.Acquire()
	require.True(t, ok)
	m.Release(tok)
}

func TestAutoReleaseAfterTimeout(t *testing.T) {
	m := New(20*time.Millisecond, WithName("test-auto"))

	_, ok := m.Acquire()
	require.True(t, ok)
	_, ok = m.Acquire()
	require.False(t, ok)

	require.Eventually(t, func() bool { return !m.Locked() }, time.Second, 5*time.Millisecond)
	tok, ok := m.Acquire()
	require.True(t, ok)
	m.Release(tok)
}

func TestStaleTimerDoesNotReleaseNewHolder(t *testing.T) {
	m := New(30 * time.Millisecond)

	first, ok := m.Acquire()
	require.True(t, ok)
	m.Release(first)

	// a timer from the first acquisition firing late
	second, ok := m.Acquire()
	require.True(t, ok)
	m.expire(uint64(first))
	require.True(t, m.Locked())
	m.Release(second)
}

func TestStaleReleaseDoesNotUnlockNewHolder(t *testing.T) {
	m := New(20*time.Millisecond, WithName("test-stale-release"))

	first, ok := m.Acquire()
	require.True(t, ok)
	require.Eventually(t, func() bool { return !m.Locked() }, time.Second, 5*time.Millisecond)

	second, ok := m.Acquire()
	require.True(t, ok)
	require.NotEqual(t, first, second)

	// the force-released holder finishes late
	m.Release(first)
	require.True(t, m.Locked())
	_, ok = m.Acquire()
	require.False(t, ok)

	m.Release(second)
	require.False(t, m.Locked())
}

func TestReleaseDisarmsTimer(t *testing.T) {
	m := New(20*time.Millisecond, WithName("test-disarm"))
	before := testutil.ToFloat64(forcedReleaseCounter.WithLabelValues("test-disarm"))

	tok, ok := m.Acquire()
	require.True(t, ok)
	m.Release(tok)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, before, testutil.ToFloat64(forcedReleaseCounter.WithLabelValues("test-disarm")))
	require.False(t, m.Locked())
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	m := New(time.Minute)

	var (
		wins   atomic.Int32
		winner atomic.Uint64
		wg     sync.WaitGroup
	)
	start := make(chan struct{})
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if tok, ok := m.Acquire(); ok {
				wins.Add(1)
				winner.Store(uint64(tok))
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	m.Release(Token(winner.Load()))
	require.False(t, m.Locked())
}

func TestNonPositiveTimeoutUsesDefault(t *testing.T) {
	require.Equal(t, DefaultTimeout, New(0).Timeout())
	require.Equal(t, DefaultTimeout, New(-time.Second).Timeout())
}
