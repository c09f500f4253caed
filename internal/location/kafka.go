package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"example.com/gymtracker/internal/geo"
)

// ErrAlreadyWatching is returned when a KafkaSource already has an open subscription.
var ErrAlreadyWatching = errors.New("kafka location source already has a subscription")

// Reader exposes the minimal kafka.Reader interface needed by the source.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// NewKafkaReader builds a consumer-group reader for a location topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:         brokers,
		GroupID:         groupID,
		Topic:           topic,
		MinBytes:        1,
		MaxBytes:        1e6,
		MaxWait:         500 * time.Millisecond,
		CommitInterval:  time.Second,
		ReadLagInterval: -1,
	})
}

// fixMessage is the JSON payload of a location record.
type fixMessage struct {
	Latitude  *float64  `json:"latitude"`
	Longitude *float64  `json:"longitude"`
	Accuracy  float64   `json:"accuracy_meters,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// KafkaSource is a Watcher fed by a Kafka topic of JSON fixes. Only one
// subscription may be open at a time since the reader is a single consumer.
type KafkaSource struct {
	reader Reader
	logger zerolog.Logger

	mu       sync.Mutex
	watching bool
}

var _ Watcher = (*KafkaSource)(nil)

// NewKafkaSource wraps reader. The source owns the reader and closes it in Close.
func NewKafkaSource(reader Reader, logger zerolog.Logger) *KafkaSource {
	return &KafkaSource{reader: reader, logger: logger}
}

// Watch opens the subscription.
func (s *KafkaSource) Watch(_ context.Context, _ WatchOptions) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watching {
		return nil, ErrAlreadyWatching
	}
	s.watching = true
	return &kafkaSubscription{source: s}, nil
}

// Close releases the underlying reader.
func (s *KafkaSource) Close() error {
	return s.reader.Close()
}

type kafkaSubscription struct {
	source    *KafkaSource
	closeOnce sync.Once
}

// Next fetches and decodes one record. Malformed records are committed so
// they cannot wedge the stream, and reported as ErrMalformedFix.
func (k *kafkaSubscription) Next(ctx context.Context) (Fix, error) {
	reader := k.source.reader
	msg, err := reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Fix{}, err
		}
		return Fix{}, fmt.Errorf("fetch location: %w", err)
	}

	fix, decodeErr := decodeFix(msg)
	if commitErr := reader.CommitMessages(ctx, msg); commitErr != nil {
		k.source.logger.Warn().Err(commitErr).
			Str("topic", msg.Topic).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("commit location record failed")
	}
	if decodeErr != nil {
		decodeErrorCounter.WithLabelValues(msg.Topic).Inc()
		return Fix{}, fmt.Errorf("topic=%s partition=%d offset=%d: %w", msg.Topic, msg.Partition, msg.Offset, decodeErr)
	}
	return fix, nil
}

func (k *kafkaSubscription) Close() {
	k.closeOnce.Do(func() {
		k.source.mu.Lock()
		k.source.watching = false
		k.source.mu.Unlock()
	})
}

func decodeFix(msg kafka.Message) (Fix, error) {
	var payload fixMessage
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		return Fix{}, fmt.Errorf("%w: %v", ErrMalformedFix, err)
	}
	if payload.Latitude == nil || payload.Longitude == nil {
		return Fix{}, fmt.Errorf("%w: missing latitude or longitude", ErrMalformedFix)
	}

	fix := Fix{
		Coordinate: geo.Coordinate{Latitude: *payload.Latitude, Longitude: *payload.Longitude},
		Accuracy:   payload.Accuracy,
		Timestamp:  payload.Timestamp,
	}
	if fix.Timestamp.IsZero() {
		fix.Timestamp = msg.Time
	}
	return fix, nil
}
