package location

import (
	"time"

	"golang.org/x/time/rate"
)

// DefaultDebounceInterval is the minimum spacing between processed foreground fixes.
const DefaultDebounceInterval = 3 * time.Second

// Debouncer admits at most one fix per interval. Rejected fixes do not move
// the window, so spacing is measured from the last admitted fix.
type Debouncer struct {
	limiter *rate.Limiter
	now     func() time.Time
}

// NewDebouncer builds a Debouncer. A zero interval admits every fix; a negative
// one selects DefaultDebounceInterval. A nil clock uses time.Now.
func NewDebouncer(interval time.Duration, now func() time.Time) *Debouncer {
	if interval < 0 {
		interval = DefaultDebounceInterval
	}
	if now == nil {
		now = time.Now
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Debouncer{limiter: rate.NewLimiter(limit, 1), now: now}
}

// Allow reports whether a fix arriving now should be processed.
func (d *Debouncer) Allow() bool {
	return d.limiter.AllowN(d.now(), 1)
}
