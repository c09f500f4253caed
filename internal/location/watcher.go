package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"example.com/gymtracker/internal/geo"
	"example.com/gymtracker/internal/logging"
)

const producerForeground = "foreground"

// WatcherOption configures optional behaviour for the ForegroundWatcher.
type WatcherOption func(*ForegroundWatcher)

// WithWatcherLogger overrides the logger used to report dropped fixes.
func WithWatcherLogger(logger zerolog.Logger) WatcherOption {
	return func(w *ForegroundWatcher) {
		w.logger = logger
	}
}

// WithDebouncer replaces the default debouncer.
func WithDebouncer(d *Debouncer) WatcherOption {
	return func(w *ForegroundWatcher) {
		w.debouncer = d
	}
}

// WithWatchOptions overrides the subscription hints.
func WithWatchOptions(opts WatchOptions) WatcherOption {
	return func(w *ForegroundWatcher) {
		w.options = opts
	}
}

// WithObserver registers a callback invoked after every processed fix.
func WithObserver(fn func(Observation)) WatcherOption {
	return func(w *ForegroundWatcher) {
		w.observer = fn
	}
}

// ForegroundWatcher consumes a location subscription on a single goroutine
// and feeds each admitted fix to the reconciler, so foreground transitions are
// strictly serialised.
type ForegroundWatcher struct {
	source     Watcher
	fence      geo.Geofence
	reconciler Reconciler
	debouncer  *Debouncer
	options    WatchOptions
	observer   func(Observation)
	logger     zerolog.Logger
	now        func() time.Time
}

// NewForegroundWatcher constructs a ForegroundWatcher.
func NewForegroundWatcher(source Watcher, fence geo.Geofence, reconciler Reconciler, opts ...WatcherOption) *ForegroundWatcher {
	w := &ForegroundWatcher{
		source:     source,
		fence:      fence,
		reconciler: reconciler,
		options: WatchOptions{
			Accuracy: AccuracyHigh,
			Interval: DefaultDebounceInterval,
		},
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.debouncer == nil {
		w.debouncer = NewDebouncer(w.options.Interval, nil)
	}
	return w
}

// Run subscribes to the source and processes fixes for userID until the
// context is cancelled or the subscription closes. A closed subscription
// returns nil; cancellation returns the context error.
func (w *ForegroundWatcher) Run(ctx context.Context, userID string) error {
	sub, err := w.source.Watch(ctx, w.options)
	if err != nil {
		return fmt.Errorf("open location subscription: %w", err)
	}
	defer sub.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fix, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrSubscriptionClosed) {
				w.logger.Info().Msg("location subscription closed")
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, context.Canceled) {
				return err
			}
			// a failed read is never an implicit exit
			recordFix(producerForeground, outcomeFetchError)
			w.logger.Warn().Err(err).Msg("location fix dropped")
			continue
		}

		if err := fix.Coordinate.Validate(); err != nil {
			recordFix(producerForeground, outcomeInvalid)
			w.logger.Warn().Err(err).Msg("invalid location fix dropped")
			continue
		}

		if !w.debouncer.Allow() {
			recordFix(producerForeground, outcomeDebounced)
			continue
		}

		obs := observe(ctx, w.reconciler, w.fence, fix, userID, w.now())
		recordProcessed(producerForeground, fix)
		w.logger.Debug().
			Bool(logging.FieldInside, obs.Inside).
			Float64("distance_m", obs.DistanceMeters).
			Msg("foreground observation processed")
		if w.observer != nil {
			w.observer(obs)
		}
	}
}
