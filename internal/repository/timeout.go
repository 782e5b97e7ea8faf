package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"restaurant-floor/internal/domain"
)

// WithTimeout bounds every gateway call. A call that runs past d fails with ErrUnavailable;
// nothing is retried here.
func WithTimeout(s Store, d time.Duration) Store {
	return &timeoutStore{inner: s, d: d}
}

type timeoutStore struct {
	inner Store
	d     time.Duration
}

func (t *timeoutStore) wrap(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: timed out after %s: %w", ErrUnavailable, t.d, err)
	}
	return err
}

func (t *timeoutStore) LoadTable(ctx context.Context, id string) (domain.Table, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	v, err := t.inner.LoadTable(ctx, id)
	return v, t.wrap(err)
}

func (t *timeoutStore) LoadAllTables(ctx context.Context) ([]domain.Table, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	v, err := t.inner.LoadAllTables(ctx)
	return v, t.wrap(err)
}

func (t *timeoutStore) SaveTableStatus(ctx context.Context, upd TableUpdate) (domain.Table, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	v, err := t.inner.SaveTableStatus(ctx, upd)
	return v, t.wrap(err)
}

func (t *timeoutStore) LoadOrder(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	v, err := t.inner.LoadOrder(ctx, id)
	return v, t.wrap(err)
}

func (t *timeoutStore) SaveOrder(ctx context.Context, order *domain.Order) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.wrap(t.inner.SaveOrder(ctx, order))
}

func (t *timeoutStore) LoadOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	v, err := t.inner.LoadOrderItems(ctx, orderID)
	return v, t.wrap(err)
}

func (t *timeoutStore) SaveOrderItem(ctx context.Context, item domain.OrderItem) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.wrap(t.inner.SaveOrderItem(ctx, item))
}

func (t *timeoutStore) FindOpenOrderByTable(ctx context.Context, tableID string) (domain.Order, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	v, ok, err := t.inner.FindOpenOrderByTable(ctx, tableID)
	return v, ok, t.wrap(err)
}

func (t *timeoutStore) ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	v, err := t.inner.ListOrdersByStatus(ctx, status)
	return v, t.wrap(err)
}

func (t *timeoutStore) LoadAllMenuItems(ctx context.Context) ([]domain.MenuItem, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	v, err := t.inner.LoadAllMenuItems(ctx)
	return v, t.wrap(err)
}
