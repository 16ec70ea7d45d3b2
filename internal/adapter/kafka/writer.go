// Package kafka announces converted init times on a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/nwp-consumer/internal/config"
	"github.com/couchcryptid/nwp-consumer/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer produces one message per converted init time.
// It implements pipeline.Notifier.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger.With("component", "kafka")}
}

// Notify publishes ev keyed by source and init time, so repeated
// conversions of one run land on the same partition in order.
func (w *Writer) Notify(ctx context.Context, ev domain.ConvertedEvent) error {
	msg, err := serializeToMessage(ev)
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Key, err)
	}
	w.logger.Debug("notified", "key", string(msg.Key), "path", ev.Path)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a ConvertedEvent into a Kafka message.
func serializeToMessage(ev domain.ConvertedEvent) (kafkago.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize converted event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(ev.Source + "/" + ev.InitTime.UTC().Format(time.RFC3339)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte(ev.Source)},
			{Key: "converted_at", Value: []byte(ev.ConvertedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
