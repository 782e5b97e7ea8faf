package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"restaurant-floor/internal/common/logger"
	"restaurant-floor/internal/domain"
)

var (
	ErrRequeue = errors.New("requeue")     // nack(requeue=true)
	ErrDLQ     = errors.New("dead_letter") // nack(requeue=false)
)

// Consumer is satisfied by *mq.Client.
type Consumer interface {
	Consume(queue, consumer string, prefetch int) (<-chan amqp.Delivery, func(), error)
}

// Subscriber is a remote floor view: it reads table status changes from the broker and hands
// them to OnMessage, logging each one.
type Subscriber struct {
	c         Consumer
	queue     string
	name      string
	log       *logger.Logger
	OnMessage func(domain.TableStatusMessage) error
}

func NewSubscriber(c Consumer, queue, name string, log *logger.Logger) *Subscriber {
	if log == nil {
		log = logger.Nop()
	}
	return &Subscriber{c: c, queue: queue, name: name, log: log}
}

func (s *Subscriber) Run(ctx context.Context) error {
	msgs, stop, err := s.c.Consume(s.queue, s.name, 10)
	if err != nil {
		return fmt.Errorf("consume %s: %w", s.queue, err)
	}
	defer stop()
	s.log.Info("subscriber_started", map[string]any{"queue": s.queue, "consumer": s.name})

	for {
		select {
		case <-ctx.Done():
			s.log.Info("graceful_shutdown", map[string]any{"consumer": s.name})
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			s.settle(d, s.handle(d))
		}
	}
}

func (s *Subscriber) settle(d amqp.Delivery, err error) {
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, ErrDLQ):
		s.log.Warn("notification_dead_lettered", map[string]any{"error": err.Error()})
		_ = d.Nack(false, false)
	default:
		s.log.Warn("notification_requeued", map[string]any{"error": err.Error()})
		_ = d.Nack(false, true)
	}
}

func (s *Subscriber) handle(d amqp.Delivery) error {
	var msg domain.TableStatusMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrDLQ, err)
	}
	if msg.TableID == "" || !msg.NewStatus.Valid() {
		return fmt.Errorf("%w: incomplete message", ErrDLQ)
	}
	s.log.Info("table_status_received", map[string]any{
		"table_id": msg.TableID, "new_status": msg.NewStatus, "source": msg.Source, "at": msg.Timestamp,
	})
	if s.OnMessage != nil {
		if err := s.OnMessage(msg); err != nil {
			return fmt.Errorf("%w: %v", ErrRequeue, err)
		}
	}
	return nil
}
