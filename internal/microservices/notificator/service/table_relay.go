package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"restaurant-floor/internal/common/logger"
	"restaurant-floor/internal/domain"
)

var ErrRelayFull = errors.New("relay queue full, status change dropped")

// Publisher is satisfied by *mq.Client.
type Publisher interface {
	Publish(ctx context.Context, exchange, key string, body []byte, headers amqp.Table, contentType string, persistent bool) error
}

// TableStatusRelay forwards registry broadcasts to the fanout exchange read by remote floor views.
// Handle only enqueues; Run does the publishing, so a slow broker never holds up a broadcast.
type TableStatusRelay struct {
	pub      Publisher
	exchange string
	source   string
	timeout  time.Duration
	queue    chan domain.TableStatusMessage
	log      *logger.Logger
	now      func() time.Time
}

func NewTableStatusRelay(pub Publisher, exchange, source string, buffer int, log *logger.Logger) *TableStatusRelay {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = logger.Nop()
	}
	return &TableStatusRelay{
		pub:      pub,
		exchange: exchange,
		source:   source,
		timeout:  5 * time.Second,
		queue:    make(chan domain.TableStatusMessage, buffer),
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle is a broadcast.Handler.
func (r *TableStatusRelay) Handle(tableID string, status domain.TableStatus) error {
	msg := domain.TableStatusMessage{TableID: tableID, NewStatus: status, Source: r.source, Timestamp: r.now()}
	select {
	case r.queue <- msg:
		return nil
	default:
		return ErrRelayFull
	}
}

// Run publishes queued changes until ctx is done, then flushes what is left.
func (r *TableStatusRelay) Run(ctx context.Context) error {
	for {
		select {
		case msg := <-r.queue:
			r.publish(ctx, msg)
		case <-ctx.Done():
			r.drain()
			return nil
		}
	}
}

func (r *TableStatusRelay) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	for {
		select {
		case msg := <-r.queue:
			r.publish(ctx, msg)
		default:
			return
		}
	}
}

func (r *TableStatusRelay) publish(ctx context.Context, msg domain.TableStatusMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("table_status_encode_failed", err, map[string]any{"table_id": msg.TableID})
		return
	}
	pctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	headers := amqp.Table{"x-source": r.source, "x-table-id": msg.TableID}
	if err := r.pub.Publish(pctx, r.exchange, "", body, headers, "application/json", true); err != nil {
		r.log.Error("table_status_publish_failed", err, map[string]any{"table_id": msg.TableID, "status": msg.NewStatus})
		return
	}
	r.log.Debug("table_status_published", map[string]any{"table_id": msg.TableID, "status": msg.NewStatus})
}
