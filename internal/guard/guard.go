// Package guard provides a non-blocking advisory lock that releases itself
// after a timeout if its holder never does.
package guard

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// DefaultTimeout is the force-release delay used when none is configured.
const DefaultTimeout = 5 * time.Second

var forcedReleaseCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gymtracker",
	Subsystem: "guard",
	Name:      "forced_releases_total",
	Help:      "Number of guard acquisitions released by the timeout instead of their holder.",
}, []string{"name"})

func init() {
	prometheus.MustRegister(forcedReleaseCounter)
}

// Option configures optional behaviour for the Mutex.
type Option func(*Mutex)

// WithLogger overrides the logger used to report forced releases.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Mutex) {
		m.logger = logger
	}
}

// WithName labels the guard in logs and metrics.
func WithName(name string) Option {
	return func(m *Mutex) {
		m.name = name
	}
}

// Mutex is a try-lock with an expiry timer. It never blocks: Acquire either
// takes the lock or reports that another transition is in flight.
type Mutex struct {
	mu      sync.Mutex
	locked  bool
	gen     uint64
	timer   *time.Timer
	timeout time.Duration
	name    string
	logger  zerolog.Logger
}

// Token identifies one acquisition. The zero Token never matches a holder.
type Token uint64

// New constructs an unlocked Mutex. A non-positive timeout selects DefaultTimeout.
func New(timeout time.Duration, opts ...Option) *Mutex {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	m := &Mutex{
		timeout: timeout,
		name:    "default",
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire takes the lock if it is free and arms the force-release timer.
// It returns false immediately when the lock is already held.
func (m *Mutex) Acquire() (Token, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.locked {
		return 0, false
	}
	m.locked = true
	m.gen++
	gen := m.gen
	m.timer = time.AfterFunc(m.timeout, func() { m.expire(gen) })
	return Token(gen), true
}

// Release unlocks the acquisition identified by tok and disarms its timer.
// A token from an acquisition that was already released, or force-released
// and taken over by a newer holder, is ignored.
func (m *Mutex) Release(tok Token) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.locked || uint64(tok) != m.gen {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.locked = false
}

// Locked reports whether the lock is currently held.
func (m *Mutex) Locked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}

// Timeout returns the configured force-release delay.
func (m *Mutex) Timeout() time.Duration {
	return m.timeout
}

func (m *Mutex) expire(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// a timer from an earlier acquisition must not unlock a newer holder
	if !m.locked || m.gen != gen {
		return
	}
	m.locked = false
	m.timer = nil
	forcedReleaseCounter.WithLabelValues(m.name).Inc()
	m.logger.Warn().
		Str("guard", m.name).
		Dur("timeout", m.timeout).
		Msg("guard force-released after timeout")
}
