package broadcast

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"restaurant-floor/internal/common/logger"
	"restaurant-floor/internal/domain"
)

// Handler receives one table status change.
type Handler func(tableID string, status domain.TableStatus) error

// Dispatcher runs a delivery. Views that render on their own goroutine pass one that
// enqueues fn there.
type Dispatcher func(fn func())

func inline(fn func()) { fn() }

type Subscription struct {
	id       string
	handler  Handler
	dispatch Dispatcher
	reg      *Registry
	once     sync.Once
}

func (s *Subscription) ID() string { return s.id }

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.reg.remove(s) })
}

type SubscribeOption func(*Subscription)

func WithDispatcher(d Dispatcher) SubscribeOption {
	return func(s *Subscription) {
		if d != nil {
			s.dispatch = d
		}
	}
}

type Stats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Failed      uint64 `json:"failed"`
}

// Registry fans table status changes out to every subscriber.
// Publish walks an immutable slice, so subscribing or unsubscribing during a publish
// never disturbs the iteration in progress.
type Registry struct {
	log *logger.Logger

	mu   sync.Mutex // serializes writers of subs
	subs atomic.Pointer[[]*Subscription]

	published atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	r := &Registry{log: log}
	empty := []*Subscription{}
	r.subs.Store(&empty)
	return r
}

func (r *Registry) Subscribe(h Handler, opts ...SubscribeOption) *Subscription {
	s := &Subscription{id: uuid.NewString(), handler: h, dispatch: inline, reg: r}
	for _, o := range opts {
		o(s)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cur := *r.subs.Load()
	next := make([]*Subscription, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, s)
	r.subs.Store(&next)
	return s
}

func (r *Registry) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	s.Close()
}

func (r *Registry) remove(s *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := *r.subs.Load()
	next := make([]*Subscription, 0, len(cur))
	for _, x := range cur {
		if x != s {
			next = append(next, x)
		}
	}
	r.subs.Store(&next)
}

// Publish delivers (tableID, status) to every current subscriber. Handler errors and panics
// are logged and counted; they never reach the caller.
func (r *Registry) Publish(tableID string, status domain.TableStatus) {
	r.published.Add(1)
	for _, s := range *r.subs.Load() {
		s := s
		s.dispatch(func() { r.deliver(s, tableID, status) })
	}
}

func (r *Registry) deliver(s *Subscription, tableID string, status domain.TableStatus) {
	defer func() {
		if p := recover(); p != nil {
			r.failed.Add(1)
			r.log.Error("broadcast_handler_panic", fmt.Errorf("%v", p), map[string]any{
				"subscription": s.id, "table_id": tableID, "status": status,
			})
		}
	}()
	if err := s.handler(tableID, status); err != nil {
		r.failed.Add(1)
		r.log.Error("broadcast_handler_failed", err, map[string]any{
			"subscription": s.id, "table_id": tableID, "status": status,
		})
		return
	}
	r.delivered.Add(1)
}

func (r *Registry) Len() int { return len(*r.subs.Load()) }

func (r *Registry) Stats() Stats {
	return Stats{
		Subscribers: r.Len(),
		Published:   r.published.Load(),
		Delivered:   r.delivered.Load(),
		Failed:      r.failed.Load(),
	}
}
