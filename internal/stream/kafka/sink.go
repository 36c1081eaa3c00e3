// Package kafka writes lifecycle events and payout instructions to Kafka.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// Config configures the Kafka writer.
type Config struct {
	Brokers []string
	// TopicPrefix is prepended to every event topic, e.g. "wagerd." gives
	// "wagerd.wager.created".
	TopicPrefix  string
	BatchTimeout time.Duration
}

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink implements domain.EventSink on a single kafka.Writer. The topic is
// set per message so one writer serves every event type.
type Sink struct {
	w      messageWriter
	prefix string
	logger *slog.Logger
}

// NewSink creates a Sink writing to cfg.Brokers.
func NewSink(cfg Config, logger *slog.Logger) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return newSink(w, cfg.TopicPrefix, logger), nil
}

func newSink(w messageWriter, prefix string, logger *slog.Logger) *Sink {
	return &Sink{w: w, prefix: prefix, logger: logger.With(slog.String("component", "kafka_sink"))}
}

// Emit writes payload keyed by key so every event of one wager lands on
// the same partition.
func (s *Sink) Emit(ctx context.Context, topic, key string, payload []byte) error {
	msg := kafka.Message{
		Topic: s.prefix + topic,
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now(),
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s: %w", msg.Topic, err)
	}
	s.logger.DebugContext(ctx, "event written",
		slog.String("topic", msg.Topic),
		slog.String("key", key),
	)
	return nil
}

// Close flushes pending messages.
func (s *Sink) Close() error {
	return s.w.Close()
}

// ParseBrokers splits a comma-separated broker list.
func ParseBrokers(raw string) []string {
	var out []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

var _ domain.EventSink = (*Sink)(nil)
