package repository

import (
	"context"
	"errors"

	"restaurant-floor/internal/domain"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrConflict    = errors.New("record changed concurrently")
	ErrUnavailable = errors.New("store unavailable")
)

// TableUpdate is a compare-and-swap write: it applies only while the row is still at Version.
type TableUpdate struct {
	ID               string
	Version          int64
	Status           domain.TableStatus
	AssignedServerID *string
}

// Store is the persistence gateway used by the floor engines and the menu cache.
// Implementations translate rows to records and own no business rules.
type Store interface {
	LoadTable(ctx context.Context, id string) (domain.Table, error)
	LoadAllTables(ctx context.Context) ([]domain.Table, error)
	// SaveTableStatus returns the stored table with its bumped version, or ErrConflict.
	SaveTableStatus(ctx context.Context, upd TableUpdate) (domain.Table, error)

	// LoadOrder returns the order together with its items.
	LoadOrder(ctx context.Context, id string) (domain.Order, error)
	// SaveOrder inserts the order when Version is 0, otherwise updates it only while the stored
	// version still matches. Items are written in the same transaction. On success order.Version
	// is bumped.
	SaveOrder(ctx context.Context, order *domain.Order) error
	LoadOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error)
	SaveOrderItem(ctx context.Context, item domain.OrderItem) error
	FindOpenOrderByTable(ctx context.Context, tableID string) (domain.Order, bool, error)
	ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)

	LoadAllMenuItems(ctx context.Context) ([]domain.MenuItem, error)
}
