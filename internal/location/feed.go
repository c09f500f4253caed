package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"example.com/gymtracker/internal/geo"
)

// ErrFeedClosed is returned when watching a closed Feed.
var ErrFeedClosed = errors.New("location feed closed")

const defaultFeedBuffer = 16

// DefaultMaxPositionAge is how long a published fix serves as the current
// position.
const DefaultMaxPositionAge = 2 * DefaultTaskInterval

// FeedOption configures optional behaviour for the Feed.
type FeedOption func(*Feed)

// WithMaxPositionAge overrides DefaultMaxPositionAge. A non-positive age keeps
// the last fix forever.
func WithMaxPositionAge(age time.Duration) FeedOption {
	return func(f *Feed) {
		f.maxAge = age
	}
}

// WithFeedClock overrides the clock used to age the current position.
func WithFeedClock(now func() time.Time) FeedOption {
	return func(f *Feed) {
		f.now = now
	}
}

// Feed is an in-process fix broadcaster. Fixes published to it are fanned out
// to every open subscription and remembered as the current position. A
// subscriber that falls behind loses its oldest buffered fix, never the newest.
type Feed struct {
	mu         sync.Mutex
	subs       map[*feedSubscription]struct{}
	last       *Fix
	receivedAt time.Time
	buffer     int
	closed     bool
	maxAge     time.Duration
	now        func() time.Time
}

var (
	_ Watcher          = (*Feed)(nil)
	_ PositionProvider = (*Feed)(nil)
)

// NewFeed creates a Feed. A non-positive buffer selects the default size.
func NewFeed(buffer int, opts ...FeedOption) *Feed {
	if buffer <= 0 {
		buffer = defaultFeedBuffer
	}
	f := &Feed{
		subs:   make(map[*feedSubscription]struct{}),
		buffer: buffer,
		maxAge: DefaultMaxPositionAge,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Publish delivers fix to all subscribers. It never blocks.
func (f *Feed) Publish(fix Fix) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	latest := fix
	f.last = &latest
	f.receivedAt = f.now()

	for sub := range f.subs {
		sub.offer(fix)
	}
}

// Watch opens a subscription. DistanceMeters suppresses fixes closer than that
// to the previous fix delivered on the same subscription.
func (f *Feed) Watch(_ context.Context, opts WatchOptions) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrFeedClosed
	}
	sub := &feedSubscription{
		feed:        f,
		ch:          make(chan Fix, f.buffer),
		minDistance: opts.DistanceMeters,
	}
	f.subs[sub] = struct{}{}
	return sub, nil
}

// CurrentPosition returns the most recently published fix. A fix older than
// the max age, measured from the fix timestamp or, when that is missing, from
// when it was published, is reported as ErrNoPosition.
func (f *Feed) CurrentPosition(context.Context) (Fix, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.last == nil {
		return Fix{}, ErrNoPosition
	}
	if f.maxAge > 0 {
		taken := f.last.Timestamp
		if taken.IsZero() {
			taken = f.receivedAt
		}
		if f.now().Sub(taken) > f.maxAge {
			return Fix{}, ErrNoPosition
		}
	}
	return *f.last, nil
}

// Close ends every subscription.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for sub := range f.subs {
		delete(f.subs, sub)
		close(sub.ch)
	}
}

// Pump republishes every fix from src until ctx ends or src closes. Read
// errors are logged and skipped.
func (f *Feed) Pump(ctx context.Context, src Watcher, opts WatchOptions, logger zerolog.Logger) error {
	sub, err := src.Watch(ctx, opts)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		fix, err := sub.Next(ctx)
		switch {
		case err == nil:
			f.Publish(fix)
		case errors.Is(err, ErrSubscriptionClosed):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, context.Canceled):
			return err
		default:
			logger.Warn().Err(err).Msg("location record skipped")
		}
	}
}

func (f *Feed) remove(sub *feedSubscription) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.subs[sub]; !ok {
		return
	}
	delete(f.subs, sub)
	close(sub.ch)
}

type feedSubscription struct {
	feed        *Feed
	ch          chan Fix
	minDistance float64
	lastSent    *Fix
	closeOnce   sync.Once
}

// offer is called with the feed lock held.
func (s *feedSubscription) offer(fix Fix) {
	if s.minDistance > 0 && s.lastSent != nil &&
		geo.Distance(s.lastSent.Coordinate, fix.Coordinate) < s.minDistance {
		return
	}
	sent := fix
	s.lastSent = &sent

	select {
	case s.ch <- fix:
		return
	default:
	}
	select {
	case <-s.ch:
		feedDroppedCounter.Inc()
	default:
	}
	select {
	case s.ch <- fix:
	default:
		feedDroppedCounter.Inc()
	}
}

func (s *feedSubscription) Next(ctx context.Context) (Fix, error) {
	select {
	case <-ctx.Done():
		return Fix{}, ctx.Err()
	case fix, ok := <-s.ch:
		if !ok {
			return Fix{}, ErrSubscriptionClosed
		}
		return fix, nil
	}
}

func (s *feedSubscription) Close() {
	s.closeOnce.Do(func() {
		s.feed.remove(s)
	})
}
