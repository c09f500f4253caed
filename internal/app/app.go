// Package app wires configuration into the collaborators shared by the
// tracker daemon and the background task command.
package app

import (
	"github.com/rs/zerolog"

	"example.com/gymtracker/internal/config"
	"example.com/gymtracker/internal/domain"
	"example.com/gymtracker/internal/guard"
	"example.com/gymtracker/internal/logging"
	"example.com/gymtracker/internal/notify"
	"example.com/gymtracker/internal/remote"
	"example.com/gymtracker/internal/tracking"
)

// SessionAPI returns the remote activity API, or the in-memory one when no
// REMOTE_API_URL is configured.
func SessionAPI(cfg config.Config, logger zerolog.Logger) domain.SessionAPI {
	if cfg.RemoteAPIURL == "" {
		logger.Warn().Msg("REMOTE_API_URL not set, using in-memory activity api")
		return remote.NewInMemoryAPI()
	}
	return remote.NewClient(cfg.RemoteAPIURL, cfg.RemoteAPIToken, cfg.RemoteAPITimeout)
}

// Notifier logs every notification and also publishes to Kafka when brokers
// are configured. The returned func releases the Kafka writer.
func Notifier(cfg config.Config) (domain.Notifier, func()) {
	logger := logging.WithComponent("notify")
	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	if len(cfg.KafkaBrokers) == 0 {
		return notifiers, func() {}
	}
	kafkaNotifier := notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.NotifyTopic, notify.WithKafkaLogger(logger))
	return append(notifiers, kafkaNotifier), func() {
		if err := kafkaNotifier.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing kafka notifier failed")
		}
	}
}

// Guard builds the transition guard for one process. Every manager in the
// process must share it.
func Guard(cfg config.Config, name string) *guard.Mutex {
	return guard.New(cfg.GuardTimeout, guard.WithName(name), guard.WithLogger(logging.WithComponent("lifecycle")))
}

// Manager builds a lifecycle manager for one execution context.
func Manager(execContext string, g *guard.Mutex, api domain.SessionAPI, state *tracking.StateRepository, notifier domain.Notifier) *tracking.Manager {
	logger := logging.WithComponent("lifecycle")
	return tracking.NewManager(api, state, g, notifier,
		tracking.WithLogger(logger),
		tracking.WithExecutionContext(execContext),
	)
}
