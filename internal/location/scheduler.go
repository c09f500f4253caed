package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTaskInterval is how often a scheduled task runs when no interval is given.
const DefaultTaskInterval = 60 * time.Second

// SchedulerOption configures optional behaviour for the TickerScheduler.
type SchedulerOption func(*TickerScheduler)

// WithSchedulerLogger overrides the logger.
func WithSchedulerLogger(logger zerolog.Logger) SchedulerOption {
	return func(s *TickerScheduler) {
		s.logger = logger
	}
}

// WithDefaultInterval sets the interval used by tasks registered without one.
func WithDefaultInterval(interval time.Duration) SchedulerOption {
	return func(s *TickerScheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

type scheduledTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// TickerScheduler runs each registered task on its own ticker, polling the
// position provider and passing the fix to the task. Runs of one task never
// overlap.
type TickerScheduler struct {
	provider PositionProvider
	interval time.Duration
	logger   zerolog.Logger

	mu    sync.Mutex
	tasks map[string]*scheduledTask
}

var _ TaskScheduler = (*TickerScheduler)(nil)

// NewTickerScheduler constructs a TickerScheduler.
func NewTickerScheduler(provider PositionProvider, opts ...SchedulerOption) *TickerScheduler {
	s := &TickerScheduler{
		provider: provider,
		interval: DefaultTaskInterval,
		logger:   zerolog.Nop(),
		tasks:    make(map[string]*scheduledTask),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register starts running fn under name. The first run happens immediately.
func (s *TickerScheduler) Register(name string, opts TaskOptions, fn TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("%w: %s", ErrTaskRegistered, name)
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = s.interval
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := &scheduledTask{cancel: cancel, done: make(chan struct{})}
	s.tasks[name] = task

	go s.loop(ctx, name, interval, fn, task.done)
	s.logger.Info().Str("task", name).Dur("interval", interval).Msg("background task registered")
	return nil
}

// Unregister stops the task and waits for an in-flight run to finish.
func (s *TickerScheduler) Unregister(name string) error {
	s.mu.Lock()
	task, ok := s.tasks[name]
	if ok {
		delete(s.tasks, name)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotRegistered, name)
	}
	task.cancel()
	<-task.done
	s.logger.Info().Str("task", name).Msg("background task unregistered")
	return nil
}

// IsRegistered reports whether name is currently scheduled.
func (s *TickerScheduler) IsRegistered(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

// Close unregisters every task.
func (s *TickerScheduler) Close() {
	s.mu.Lock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		_ = s.Unregister(name)
	}
}

func (s *TickerScheduler) loop(ctx context.Context, name string, interval time.Duration, fn TaskFunc, done chan struct{}) {
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	for {
		s.runOnce(ctx, name, fn)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *TickerScheduler) runOnce(ctx context.Context, name string, fn TaskFunc) {
	fix, err := s.provider.CurrentPosition(ctx)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
		case errors.Is(err, ErrNoPosition):
			recordTaskRun(name, "no_position")
			s.logger.Debug().Str("task", name).Msg("no recent position, skipping run")
		default:
			recordTaskRun(name, "position_error")
			s.logger.Warn().Err(err).Str("task", name).Msg("reading current position failed")
		}
		return
	}

	if err := fn(ctx, []Fix{fix}); err != nil {
		recordTaskRun(name, "error")
		s.logger.Error().Err(err).Str("task", name).Msg("background task failed")
		return
	}
	recordTaskRun(name, "ok")
}
