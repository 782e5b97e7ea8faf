package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"restaurant-floor/internal/common/logger"
	"restaurant-floor/internal/domain"
	"restaurant-floor/internal/microservices/floor/broadcast"
	"restaurant-floor/internal/repository"
)

var (
	server1 = domain.User{ID: "s1", Name: "Sam", Role: domain.RoleServer}
	server2 = domain.User{ID: "s2", Name: "Ana", Role: domain.RoleServer}
	busboy  = domain.User{ID: "b1", Name: "Bo", Role: domain.RoleBusboy}
	manager = domain.User{ID: "m1", Name: "Mia", Role: domain.RoleManager}
)

// spyStore counts table writes and can be told to fail them.
type spyStore struct {
	*repository.MemoryStore
	tableWrites atomic.Int32
	failWrites  atomic.Bool
}

func (s *spyStore) SaveTableStatus(ctx context.Context, upd repository.TableUpdate) (domain.Table, error) {
	s.tableWrites.Add(1)
	if s.failWrites.Load() {
		return domain.Table{}, fmt.Errorf("save: %w", repository.ErrUnavailable)
	}
	return s.MemoryStore.SaveTableStatus(ctx, upd)
}

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) handle(tableID string, status domain.TableStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, tableID+":"+string(status))
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type tableFixture struct {
	store  *spyStore
	reg    *broadcast.Registry
	spy    *recorder
	engine *TableEngine
}

func newTableFixture(t *testing.T, tables ...domain.Table) *tableFixture {
	t.Helper()
	f := &tableFixture{
		store: &spyStore{MemoryStore: repository.NewMemoryStore()},
		reg:   broadcast.NewRegistry(logger.Nop()),
		spy:   &recorder{},
	}
	for _, tbl := range tables {
		f.store.PutTable(tbl)
	}
	sub := f.reg.Subscribe(f.spy.handle)
	t.Cleanup(sub.Close)
	f.engine = NewTableEngine(f.store, f.reg, true, logger.Nop())
	return f
}

func (f *tableFixture) table(t *testing.T, id string) domain.Table {
	t.Helper()
	tbl, err := f.store.LoadTable(context.Background(), id)
	require.NoError(t, err)
	return tbl
}

func strPtr(s string) *string { return &s }

// fakeMenu serves a fixed menu.
type fakeMenu struct {
	items map[string]*domain.MenuItem
	err   error
}

func (m *fakeMenu) GetByID(_ context.Context, id string) (*domain.MenuItem, error) {
	if m.err != nil {
		return nil, m.err
	}
	it, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("menu item %s: %w", id, domain.ErrNotFound)
	}
	return it, nil
}

func demoMenu() *fakeMenu {
	return &fakeMenu{items: map[string]*domain.MenuItem{
		"m1": {ID: "m1", Name: "Margherita", CategoryID: "pizza", Price: 11.50, Available: true,
			Addons: []domain.Addon{{Name: "extra cheese", PriceDelta: 1.50}}},
		"m2": {ID: "m2", Name: "Caesar Salad", CategoryID: "starters", Price: 8.00, Available: true},
		"m9": {ID: "m9", Name: "Truffle Risotto", CategoryID: "mains", Price: 24.00, Available: false},
	}}
}

type fakeTracker struct {
	mu      sync.Mutex
	tracked map[string]domain.Order
	events  []string
}

func newFakeTracker() *fakeTracker { return &fakeTracker{tracked: map[string]domain.Order{}} }

func (k *fakeTracker) Track(o domain.Order) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.tracked[o.ID] = o
	k.events = append(k.events, "track:"+o.ID)
}

func (k *fakeTracker) Untrack(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.tracked, id)
	k.events = append(k.events, "untrack:"+id)
}

func (k *fakeTracker) isTracked(id string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.tracked[id]
	return ok
}

type fakeSink struct {
	mu     sync.Mutex
	events []domain.OrderEvent
	err    error
}

func (s *fakeSink) PublishOrderEvent(_ context.Context, ev domain.OrderEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *fakeSink) types() []domain.OrderEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.OrderEventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func requireKind(t *testing.T, err error, kind error) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, errors.Is(err, kind), "expected %v, got %v", kind, err)
	var te *domain.TransitionError
	require.True(t, errors.As(err, &te), "expected *domain.TransitionError, got %T", err)
}

// stallingSink blocks its first call until release is closed.
type stallingSink struct {
	calls   atomic.Int32
	stalled chan domain.OrderEvent
	release chan struct{}
	onCall  func(domain.OrderEvent)
}

func newStallingSink() *stallingSink {
	return &stallingSink{stalled: make(chan domain.OrderEvent, 1), release: make(chan struct{})}
}

func (s *stallingSink) PublishOrderEvent(_ context.Context, ev domain.OrderEvent) error {
	if s.onCall != nil {
		s.onCall(ev)
	}
	if s.calls.Add(1) == 1 {
		s.stalled <- ev
		<-s.release
	}
	return nil
}
