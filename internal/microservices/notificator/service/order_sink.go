package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"restaurant-floor/internal/common/config"
	"restaurant-floor/internal/domain"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func NewKafkaWriter(cfg config.Kafka) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{}, // events of one order stay on one partition
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// KafkaOrderSink streams order lifecycle events, keyed by order id.
type KafkaOrderSink struct {
	w MessageWriter
}

func NewKafkaOrderSink(w MessageWriter) *KafkaOrderSink {
	return &KafkaOrderSink{w: w}
}

func (k *KafkaOrderSink) PublishOrderEvent(ctx context.Context, ev domain.OrderEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
			{Key: "table_id", Value: []byte(ev.TableID)},
		},
		Time: ev.OccurredAt,
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s for order %s: %w", ev.Type, ev.OrderID, err)
	}
	return nil
}
