package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"restaurant-floor/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist yet.
func (r *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// storeErr maps driver errors onto the gateway's taxonomy.
func storeErr(what string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", what, ErrUnavailable, err)
}

const tableColumns = `id, number, status, capacity, pos_x, pos_y, assigned_server_id, version`

func scanTable(row pgx.Row) (domain.Table, error) {
	var t domain.Table
	var status string
	err := row.Scan(&t.ID, &t.Number, &status, &t.Capacity, &t.PosX, &t.PosY, &t.AssignedServerID, &t.Version)
	t.Status = domain.TableStatus(status)
	return t, err
}

func (r *PostgresStore) LoadTable(ctx context.Context, id string) (domain.Table, error) {
	t, err := scanTable(r.pool.QueryRow(ctx, `SELECT `+tableColumns+` FROM floor_tables WHERE id=$1`, id))
	if err != nil {
		return domain.Table{}, storeErr("load table "+id, err)
	}
	return t, nil
}

func (r *PostgresStore) LoadAllTables(ctx context.Context) ([]domain.Table, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+tableColumns+` FROM floor_tables ORDER BY number`)
	if err != nil {
		return nil, storeErr("load tables", err)
	}
	defer rows.Close()

	var out []domain.Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, storeErr("scan table", err)
		}
		out = append(out, t)
	}
	return out, storeErr("load tables", rows.Err())
}

func (r *PostgresStore) SaveTableStatus(ctx context.Context, upd TableUpdate) (domain.Table, error) {
	t, err := scanTable(r.pool.QueryRow(ctx, `
		UPDATE floor_tables
		SET status=$3, assigned_server_id=$4, version=version+1, updated_at=now()
		WHERE id=$1 AND version=$2
		RETURNING `+tableColumns,
		upd.ID, upd.Version, string(upd.Status), upd.AssignedServerID))
	if errors.Is(err, pgx.ErrNoRows) {
		// either the row is gone or someone else bumped the version
		if _, lerr := r.LoadTable(ctx, upd.ID); lerr != nil {
			return domain.Table{}, lerr
		}
		return domain.Table{}, fmt.Errorf("table %s version %d: %w", upd.ID, upd.Version, ErrConflict)
	}
	if err != nil {
		return domain.Table{}, storeErr("save table "+upd.ID, err)
	}
	return t, nil
}

const orderColumns = `id, table_id, server_id, created_at, status, subtotal, tax, tip, total,
	payment_method, payment_status, paid_at, version`

func scanOrder(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var status, method, payStatus string
	err := row.Scan(&o.ID, &o.TableID, &o.ServerID, &o.CreatedAt, &status, &o.Subtotal, &o.Tax, &o.Tip,
		&o.Total, &method, &payStatus, &o.PaidAt, &o.Version)
	o.Status = domain.OrderStatus(status)
	o.PaymentMethod = domain.PaymentMethod(method)
	o.PaymentStatus = domain.PaymentStatus(payStatus)
	return o, err
}

func (r *PostgresStore) LoadOrder(ctx context.Context, id string) (domain.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if err != nil {
		return domain.Order{}, storeErr("load order "+id, err)
	}
	if o.Items, err = r.LoadOrderItems(ctx, id); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func (r *PostgresStore) SaveOrder(ctx context.Context, order *domain.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var prevStatus string
	if order.Version == 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,1)`,
			order.ID, order.TableID, order.ServerID, order.CreatedAt, string(order.Status),
			order.Subtotal, order.Tax, order.Tip, order.Total,
			string(order.PaymentMethod), string(order.PaymentStatus), order.PaidAt)
		if err != nil {
			return storeErr("insert order "+order.ID, err)
		}
	} else {
		err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 AND version=$2 FOR UPDATE`,
			order.ID, order.Version).Scan(&prevStatus)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("order %s version %d: %w", order.ID, order.Version, ErrConflict)
		}
		if err != nil {
			return storeErr("lock order "+order.ID, err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE orders SET status=$2, subtotal=$3, tax=$4, tip=$5, total=$6,
				payment_method=$7, payment_status=$8, paid_at=$9, version=version+1, updated_at=now()
			WHERE id=$1`,
			order.ID, string(order.Status), order.Subtotal, order.Tax, order.Tip, order.Total,
			string(order.PaymentMethod), string(order.PaymentStatus), order.PaidAt)
		if err != nil {
			return storeErr("update order "+order.ID, err)
		}
	}

	for _, it := range order.Items {
		if err := upsertItem(ctx, tx, it); err != nil {
			return err
		}
	}

	if prevStatus != string(order.Status) {
		if _, err := tx.Exec(ctx, `INSERT INTO order_status_log (order_id, status, changed_at) VALUES ($1,$2,$3)`,
			order.ID, string(order.Status), time.Now().UTC()); err != nil {
			return storeErr("log order status", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit order "+order.ID, err)
	}
	order.Version++
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func upsertItem(ctx context.Context, q execer, it domain.OrderItem) error {
	_, err := q.Exec(ctx, `
		INSERT INTO order_items (id, order_id, menu_item_id, name, quantity, unit_price, addons, seat,
			instructions, status, prep_started_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status,
			prep_started_at=EXCLUDED.prep_started_at, completed_at=EXCLUDED.completed_at`,
		it.ID, it.OrderID, it.MenuItemID, it.Name, it.Quantity, it.UnitPrice, nonNil(it.Addons), it.Seat,
		it.Instructions, string(it.Status), it.PrepStartedAt, it.CompletedAt)
	return storeErr("save order item "+it.ID, err)
}

func (r *PostgresStore) LoadOrderItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, menu_item_id, name, quantity, unit_price, addons, seat, instructions,
			status, prep_started_at, completed_at
		FROM order_items WHERE order_id=$1 ORDER BY position`, orderID)
	if err != nil {
		return nil, storeErr("load items "+orderID, err)
	}
	defer rows.Close()

	items := []domain.OrderItem{}
	for rows.Next() {
		var it domain.OrderItem
		var status string
		if err := rows.Scan(&it.ID, &it.OrderID, &it.MenuItemID, &it.Name, &it.Quantity, &it.UnitPrice,
			&it.Addons, &it.Seat, &it.Instructions, &status, &it.PrepStartedAt, &it.CompletedAt); err != nil {
			return nil, storeErr("scan item", err)
		}
		it.Status = domain.ItemStatus(status)
		items = append(items, it)
	}
	return items, storeErr("load items "+orderID, rows.Err())
}

func (r *PostgresStore) SaveOrderItem(ctx context.Context, item domain.OrderItem) error {
	return upsertItem(ctx, r.pool, item)
}

func (r *PostgresStore) FindOpenOrderByTable(ctx context.Context, tableID string) (domain.Order, bool, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		SELECT id FROM orders WHERE table_id=$1 AND status NOT IN ('PAID','CANCELLED')
		ORDER BY created_at DESC LIMIT 1`, tableID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, false, nil
	}
	if err != nil {
		return domain.Order{}, false, storeErr("find open order", err)
	}
	o, err := r.LoadOrder(ctx, id)
	if err != nil {
		return domain.Order{}, false, err
	}
	return o, true, nil
}

func (r *PostgresStore) ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE status=$1 ORDER BY created_at`, string(status))
	if err != nil {
		return nil, storeErr("list orders", err)
	}
	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, storeErr("scan order", err)
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storeErr("list orders", err)
	}
	for i := range out {
		if out[i].Items, err = r.LoadOrderItems(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *PostgresStore) LoadAllMenuItems(ctx context.Context) ([]domain.MenuItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, category_id, price::float8, available, addons
		FROM menu_items ORDER BY category_id, id`)
	if err != nil {
		return nil, storeErr("load menu", err)
	}
	defer rows.Close()

	var items []domain.MenuItem
	for rows.Next() {
		var m domain.MenuItem
		var addons []byte
		if err := rows.Scan(&m.ID, &m.Name, &m.CategoryID, &m.Price, &m.Available, &addons); err != nil {
			return nil, storeErr("scan menu item", err)
		}
		if len(addons) > 0 {
			if err := json.Unmarshal(addons, &m.Addons); err != nil {
				return nil, fmt.Errorf("menu item %s addons: %w", m.ID, err)
			}
		}
		items = append(items, m)
	}
	return items, storeErr("load menu", rows.Err())
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
