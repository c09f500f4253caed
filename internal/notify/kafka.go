package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"example.com/gymtracker/internal/domain"
	"example.com/gymtracker/internal/events"
	"example.com/gymtracker/internal/logging"
)

const defaultWriteTimeout = 5 * time.Second

var publishCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "gymtracker",
	Subsystem: "notify",
	Name:      "events_total",
	Help:      "Notification events published to Kafka grouped by event type and outcome.",
}, []string{"event_type", "outcome"})

func init() {
	prometheus.MustRegister(publishCounter)
}

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// KafkaOption configures optional behaviour for the KafkaNotifier.
type KafkaOption func(*KafkaNotifier)

// WithKafkaLogger overrides the logger.
func WithKafkaLogger(logger zerolog.Logger) KafkaOption {
	return func(k *KafkaNotifier) {
		k.logger = logger
	}
}

// WithWriteTimeout bounds each publish.
func WithWriteTimeout(timeout time.Duration) KafkaOption {
	return func(k *KafkaNotifier) {
		if timeout > 0 {
			k.timeout = timeout
		}
	}
}

// withWriter injects a writer in tests.
func withWriter(w messageWriter) KafkaOption {
	return func(k *KafkaNotifier) {
		k.writer = w
	}
}

// KafkaNotifier publishes notifications as JSON events keyed by user id, so
// one user's events stay ordered within a partition. The writer is created
// lazily on first use.
type KafkaNotifier struct {
	brokers []string
	topic   string
	timeout time.Duration
	logger  zerolog.Logger
	newID   func() string

	mu     sync.Mutex
	writer messageWriter
}

var _ domain.Notifier = (*KafkaNotifier)(nil)

// NewKafkaNotifier constructs a KafkaNotifier for topic.
func NewKafkaNotifier(brokers []string, topic string, opts ...KafkaOption) *KafkaNotifier {
	k := &KafkaNotifier{
		brokers: brokers,
		topic:   topic,
		timeout: defaultWriteTimeout,
		logger:  zerolog.Nop(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Notify publishes n. Failures are logged and counted.
func (k *KafkaNotifier) Notify(ctx context.Context, n domain.Notification) {
	msg, eventType, err := k.encode(n)
	if err != nil {
		publishCounter.WithLabelValues(eventType, "encode_error").Inc()
		k.logger.Error().Err(err).Str("kind", string(n.Kind)).Msg("encode notification event failed")
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	if err := k.writerForTopic().WriteMessages(writeCtx, msg); err != nil {
		publishCounter.WithLabelValues(eventType, "error").Inc()
		k.logger.Warn().Err(err).
			Str("event_type", eventType).
			Str(logging.FieldSessionID, n.Session.ID).
			Msg("publish notification event failed")
		return
	}
	publishCounter.WithLabelValues(eventType, "ok").Inc()
}

// Close releases the writer.
func (k *KafkaNotifier) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.writer == nil {
		return nil
	}
	err := k.writer.Close()
	k.writer = nil
	return err
}

func (k *KafkaNotifier) writerForTopic() messageWriter {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.writer != nil {
		return k.writer
	}
	k.writer = &kafka.Writer{
		Addr:         kafka.TCP(k.brokers...),
		Topic:        k.topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		Async:        false,
	}
	return k.writer
}

func (k *KafkaNotifier) encode(n domain.Notification) (kafka.Message, string, error) {
	eventID := k.newID()
	occurred := n.OccurredAt.UTC()

	var (
		eventType string
		payload   any
	)
	switch n.Kind {
	case domain.NotificationGymEntered:
		eventType = events.TypeGymEntered
		payload = events.GymEntered{
			EventID:    eventID,
			UserID:     n.UserID,
			SessionID:  n.Session.ID,
			StartedAt:  n.Session.StartTime.UTC(),
			OccurredAt: occurred,
			Message:    n.Body,
		}
	case domain.NotificationSessionEnded:
		eventType = events.TypeSessionEnded
		ended := events.SessionEnded{
			EventID:     eventID,
			UserID:      n.UserID,
			SessionID:   n.Session.ID,
			StartedAt:   n.Session.StartTime.UTC(),
			DurationMin: n.Session.DurationMinutes,
			OccurredAt:  occurred,
			Message:     n.Body,
		}
		if n.Session.EndTime != nil {
			ended.EndedAt = n.Session.EndTime.UTC()
		}
		payload = ended
	default:
		return kafka.Message{}, "unknown", fmt.Errorf("unknown notification kind %q", n.Kind)
	}

	value, err := json.Marshal(payload)
	if err != nil {
		return kafka.Message{}, eventType, err
	}
	return kafka.Message{
		Key:   []byte(n.UserID),
		Value: value,
		Time:  occurred,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "event_id", Value: []byte(eventID)},
		},
	}, eventType, nil
}
