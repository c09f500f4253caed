// Package notify delivers session notifications to the user-facing channels:
// the structured log and the Kafka notification topic.
package notify

import (
	"context"

	"github.com/rs/zerolog"

	"example.com/gymtracker/internal/domain"
	"example.com/gymtracker/internal/logging"
)

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger zerolog.Logger
}

var _ domain.Notifier = LogNotifier{}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger zerolog.Logger) LogNotifier {
	return LogNotifier{logger: logger}
}

// Notify logs n at info level.
func (l LogNotifier) Notify(_ context.Context, n domain.Notification) {
	l.logger.Info().
		Str("kind", string(n.Kind)).
		Str(logging.FieldUserID, n.UserID).
		Str(logging.FieldSessionID, n.Session.ID).
		Str("title", n.Title).
		Msg(n.Body)
}

// Multi fans a notification out to several notifiers in order.
type Multi []domain.Notifier

// Notify calls every notifier.
func (m Multi) Notify(ctx context.Context, n domain.Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}
