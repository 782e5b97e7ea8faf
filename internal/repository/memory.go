package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"restaurant-floor/internal/domain"
)

// MemoryStore keeps everything in process. It backs the -store memory mode and the tests.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]domain.Table
	orders map[string]domain.Order
	menu   map[string]domain.MenuItem
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[string]domain.Table),
		orders: make(map[string]domain.Order),
		menu:   make(map[string]domain.MenuItem),
	}
}

func (s *MemoryStore) PutTable(t domain.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[t.ID] = cloneTable(t)
}

func (s *MemoryStore) PutMenuItem(m domain.MenuItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.Addons = append([]domain.Addon(nil), m.Addons...)
	s.menu[m.ID] = m
}

func (s *MemoryStore) LoadTable(_ context.Context, id string) (domain.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[id]
	if !ok {
		return domain.Table{}, fmt.Errorf("table %s: %w", id, ErrNotFound)
	}
	return cloneTable(t), nil
}

func (s *MemoryStore) LoadAllTables(_ context.Context) ([]domain.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Table, 0, len(s.tables))
	for _, t := range s.tables {
		out = append(out, cloneTable(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *MemoryStore) SaveTableStatus(_ context.Context, upd TableUpdate) (domain.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[upd.ID]
	if !ok {
		return domain.Table{}, fmt.Errorf("table %s: %w", upd.ID, ErrNotFound)
	}
	if t.Version != upd.Version {
		return domain.Table{}, fmt.Errorf("table %s at version %d, expected %d: %w", upd.ID, t.Version, upd.Version, ErrConflict)
	}
	t.Status = upd.Status
	t.AssignedServerID = cloneString(upd.AssignedServerID)
	t.Version++
	s.tables[t.ID] = t
	return cloneTable(t), nil
}

func (s *MemoryStore) LoadOrder(_ context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return o.Clone(), nil
}

func (s *MemoryStore) SaveOrder(_ context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, exists := s.orders[order.ID]
	switch {
	case order.Version == 0 && exists:
		return fmt.Errorf("order %s already exists: %w", order.ID, ErrConflict)
	case order.Version != 0 && !exists:
		return fmt.Errorf("order %s: %w", order.ID, ErrNotFound)
	case exists && cur.Version != order.Version:
		return fmt.Errorf("order %s at version %d, expected %d: %w", order.ID, cur.Version, order.Version, ErrConflict)
	}
	order.Version++
	s.orders[order.ID] = order.Clone()
	return nil
}

func (s *MemoryStore) LoadOrderItems(_ context.Context, orderID string) ([]domain.OrderItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return o.Clone().Items, nil
}

func (s *MemoryStore) SaveOrderItem(_ context.Context, item domain.OrderItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[item.OrderID]
	if !ok {
		return fmt.Errorf("order %s: %w", item.OrderID, ErrNotFound)
	}
	o = o.Clone()
	for i := range o.Items {
		if o.Items[i].ID == item.ID {
			o.Items[i] = item.Clone()
			s.orders[o.ID] = o
			return nil
		}
	}
	o.Items = append(o.Items, item.Clone())
	s.orders[o.ID] = o
	return nil
}

func (s *MemoryStore) FindOpenOrderByTable(_ context.Context, tableID string) (domain.Order, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.TableID == tableID && !o.Status.Terminal() {
			return o.Clone(), true, nil
		}
	}
	return domain.Order{}, false, nil
}

func (s *MemoryStore) ListOrdersByStatus(_ context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.Status == status {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) LoadAllMenuItems(_ context.Context) ([]domain.MenuItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.MenuItem, 0, len(s.menu))
	for _, m := range s.menu {
		m.Addons = append([]domain.Addon(nil), m.Addons...)
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SeedDemo fills an empty store with a small floor and menu.
func (s *MemoryStore) SeedDemo() {
	for i, n := range []string{"A1", "A2", "A3", "B1", "B2", "B3"} {
		s.PutTable(domain.Table{
			ID: fmt.Sprintf("t%d", i+1), Number: n, Status: domain.TableAvailable,
			Capacity: 4, PosX: i % 3, PosY: i / 3,
		})
	}
	s.PutMenuItem(domain.MenuItem{ID: "m1", Name: "Margherita", CategoryID: "pizza", Price: 11.50, Available: true,
		Addons: []domain.Addon{{Name: "extra cheese", PriceDelta: 1.50}}})
	s.PutMenuItem(domain.MenuItem{ID: "m2", Name: "Caesar Salad", CategoryID: "starters", Price: 8.00, Available: true})
	s.PutMenuItem(domain.MenuItem{ID: "m3", Name: "Tiramisu", CategoryID: "desserts", Price: 6.25, Available: true})
	s.PutMenuItem(domain.MenuItem{ID: "m4", Name: "Lemonade", CategoryID: "drinks", Price: 3.00, Available: true})
}

func cloneTable(t domain.Table) domain.Table {
	t.AssignedServerID = cloneString(t.AssignedServerID)
	return t
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
