package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"restaurant-floor/internal/common/config"
	"restaurant-floor/internal/common/logger"
	"restaurant-floor/internal/domain"
	"restaurant-floor/internal/repository"
)

// MenuLookup resolves menu facts at add time. A missing item must wrap domain.ErrNotFound.
type MenuLookup interface {
	GetByID(ctx context.Context, id string) (*domain.MenuItem, error)
}

// KitchenTracker follows orders while they are being prepared.
type KitchenTracker interface {
	Track(order domain.Order)
	Untrack(orderID string)
}

// OrderEventSink receives one event per successful order transition.
type OrderEventSink interface {
	PublishOrderEvent(ctx context.Context, ev domain.OrderEvent) error
}

type nopTracker struct{}

func (nopTracker) Track(domain.Order) {}
func (nopTracker) Untrack(string)     {}

type OrderOption func(*OrderEngine)

func WithKitchen(k KitchenTracker) OrderOption { return func(e *OrderEngine) { e.kitchen = k } }
func WithEvents(s OrderEventSink) OrderOption  { return func(e *OrderEngine) { e.events = s } }
func WithClock(c clockwork.Clock) OrderOption  { return func(e *OrderEngine) { e.clock = c } }

type OrderEngine struct {
	store   repository.Store
	tables  *TableEngine
	menu    MenuLookup
	kitchen KitchenTracker
	events  OrderEventSink
	clock   clockwork.Clock
	locks   *keyedMutex
	policy  config.Floor
	log     *logger.Logger
}

func NewOrderEngine(store repository.Store, tables *TableEngine, menu MenuLookup, policy config.Floor,
	log *logger.Logger, opts ...OrderOption) *OrderEngine {

	if log == nil {
		log = logger.Nop()
	}
	e := &OrderEngine{
		store:   store,
		tables:  tables,
		menu:    menu,
		kitchen: nopTracker{},
		clock:   clockwork.NewRealClock(),
		locks:   newKeyedMutex(),
		policy:  policy,
		log:     log,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func rejectOrder(kind error, o domain.Order, to domain.OrderStatus, detail string) error {
	return &domain.TransitionError{
		Kind: kind, Entity: "order", ID: o.ID,
		From: string(o.Status), To: string(to), Detail: detail,
	}
}

func (e *OrderEngine) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	o, err := e.store.LoadOrder(ctx, id)
	if err != nil {
		return domain.Order{}, gatewayErr("order", id, err)
	}
	return o, nil
}

// OpenOrderForTable returns the table's non-terminal order.
func (e *OrderEngine) OpenOrderForTable(ctx context.Context, tableID string) (domain.Order, error) {
	o, ok, err := e.store.FindOpenOrderByTable(ctx, tableID)
	if err != nil {
		return domain.Order{}, gatewayErr("order", "", err)
	}
	if !ok {
		return domain.Order{}, &domain.TransitionError{
			Kind: domain.ErrNotFound, Entity: "order", Detail: "no open order for table " + tableID,
		}
	}
	return o, nil
}

// CreateOrder opens a PENDING order on tableID for serverID, seating the table if it is available.
func (e *OrderEngine) CreateOrder(ctx context.Context, tableID, serverID string) (domain.Order, error) {
	if strings.TrimSpace(serverID) == "" {
		return domain.Order{}, &domain.TransitionError{
			Kind: domain.ErrInvalidArgument, Entity: "order", Detail: "server id is required",
		}
	}

	o, err := e.openLocked(ctx, tableID, serverID)
	if err != nil {
		return domain.Order{}, err
	}
	e.emit(ctx, domain.EventOrderCreated, o, "", serverID)
	return o, nil
}

func (e *OrderEngine) openLocked(ctx context.Context, tableID, serverID string) (domain.Order, error) {
	unlock := e.locks.Lock("table:" + tableID)
	defer unlock()

	if open, ok, err := e.store.FindOpenOrderByTable(ctx, tableID); err != nil {
		return domain.Order{}, gatewayErr("order", "", err)
	} else if ok {
		return domain.Order{}, &domain.TransitionError{
			Kind: domain.ErrInvalidState, Entity: "order", ID: open.ID, To: string(domain.OrderPending),
			Detail: "table already has an open order",
		}
	}

	t, err := e.tables.GetTable(ctx, tableID)
	if err != nil {
		return domain.Order{}, err
	}
	seated := false
	switch t.Status {
	case domain.TableDirty:
		return domain.Order{}, &domain.TransitionError{
			Kind: domain.ErrInvalidState, Entity: "table", ID: tableID, From: string(t.Status),
			To: string(domain.TableOccupied), Detail: "table must be cleaned first",
		}
	case domain.TableOccupied:
		if t.AssignedServerID != nil && *t.AssignedServerID != serverID {
			return domain.Order{}, &domain.TransitionError{
				Kind: domain.ErrForbidden, Entity: "table", ID: tableID,
				Detail: "table is assigned to another server",
			}
		}
	case domain.TableAvailable:
		if _, err := e.tables.seat(ctx, tableID, serverID); err != nil {
			return domain.Order{}, err
		}
		seated = true
	}

	o := domain.Order{
		ID:            uuid.NewString(),
		TableID:       tableID,
		ServerID:      serverID,
		CreatedAt:     e.clock.Now().UTC(),
		Status:        domain.OrderPending,
		PaymentStatus: domain.PaymentNone,
		Items:         []domain.OrderItem{},
	}
	if err := e.store.SaveOrder(ctx, &o); err != nil {
		e.log.Error("order_create_failed", err, map[string]any{"table_id": tableID, "server_id": serverID})
		if seated {
			if _, rerr := e.tables.systemTransition(ctx, tableID, domain.TableAvailable); rerr != nil {
				e.log.Error("table_seat_rollback_failed", rerr, map[string]any{"table_id": tableID})
			}
		}
		return domain.Order{}, gatewayErr("order", o.ID, err)
	}

	e.log.Info("order_created", map[string]any{"order_id": o.ID, "table_id": tableID, "server_id": serverID})
	return o, nil
}

// AddItem appends one ORDERED line, snapshotting the menu price and add-on deltas.
func (e *OrderEngine) AddItem(ctx context.Context, orderID string, req domain.AddItemRequest) (domain.OrderItem, error) {
	if req.Quantity < 1 {
		return domain.OrderItem{}, &domain.TransitionError{
			Kind: domain.ErrInvalidArgument, Entity: "order", ID: orderID, Detail: "quantity must be at least 1",
		}
	}
	if req.Seat != nil && *req.Seat < 1 {
		return domain.OrderItem{}, &domain.TransitionError{
			Kind: domain.ErrInvalidArgument, Entity: "order", ID: orderID, Detail: "seat must be positive",
		}
	}

	o, it, err := e.addItemLocked(ctx, orderID, req)
	if err != nil {
		return domain.OrderItem{}, err
	}
	e.emit(ctx, domain.EventOrderItemAdded, o, o.Status, "")
	return it, nil
}

func (e *OrderEngine) addItemLocked(ctx context.Context, orderID string, req domain.AddItemRequest) (domain.Order, domain.OrderItem, error) {
	unlock := e.locks.Lock("order:" + orderID)
	defer unlock()

	o, err := e.store.LoadOrder(ctx, orderID)
	if err != nil {
		return o, domain.OrderItem{}, gatewayErr("order", orderID, err)
	}
	if o.Status != domain.OrderPending && o.Status != domain.OrderInProgress {
		return o, domain.OrderItem{}, rejectOrder(domain.ErrInvalidState, o, o.Status, "items can only be added to open orders")
	}

	m, err := e.menu.GetByID(ctx, req.MenuItemID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return o, domain.OrderItem{}, rejectOrder(domain.ErrInvalidArgument, o, o.Status, "unknown menu item "+req.MenuItemID)
		}
		return o, domain.OrderItem{}, &domain.TransitionError{Kind: domain.ErrStoreFailure, Entity: "menu", ID: req.MenuItemID, Cause: err}
	}
	if !m.Available {
		return o, domain.OrderItem{}, rejectOrder(domain.ErrInvalidArgument, o, o.Status, m.Name+" is not available")
	}
	price := m.Price
	for _, name := range req.Addons {
		a, ok := m.Addon(name)
		if !ok {
			return o, domain.OrderItem{}, rejectOrder(domain.ErrInvalidArgument, o, o.Status,
				fmt.Sprintf("%s has no add-on %q", m.Name, name))
		}
		price += a.PriceDelta
	}

	it := domain.OrderItem{
		ID:           uuid.NewString(),
		OrderID:      o.ID,
		MenuItemID:   m.ID,
		Name:         m.Name,
		Quantity:     req.Quantity,
		UnitPrice:    round2(price),
		Addons:       append([]string(nil), req.Addons...),
		Instructions: strings.TrimSpace(req.Instructions),
		Status:       domain.ItemOrdered,
	}
	if req.Seat != nil {
		seat := *req.Seat
		it.Seat = &seat
	}
	if err := e.store.SaveOrderItem(ctx, it); err != nil {
		return o, domain.OrderItem{}, gatewayErr("order", orderID, err)
	}

	e.log.Info("order_item_added", map[string]any{
		"order_id": o.ID, "item_id": it.ID, "menu_item_id": m.ID, "quantity": it.Quantity, "unit_price": it.UnitPrice,
	})
	return o, it, nil
}

// StartPreparation sends every ORDERED item to the kitchen with one shared start time.
func (e *OrderEngine) StartPreparation(ctx context.Context, orderID string) (domain.Order, error) {
	return e.mutate(ctx, orderID, domain.OrderInProgress, func(o *domain.Order) error {
		if o.Status != domain.OrderPending && o.Status != domain.OrderInProgress {
			return rejectOrder(domain.ErrInvalidState, *o, domain.OrderInProgress, "")
		}
		if len(o.Items) == 0 {
			return rejectOrder(domain.ErrInvalidState, *o, domain.OrderInProgress, "order has no items")
		}
		now := e.clock.Now().UTC()
		started := 0
		for i := range o.Items {
			if o.Items[i].Status != domain.ItemOrdered {
				continue
			}
			ts := now
			o.Items[i].Status = domain.ItemInPreparation
			o.Items[i].PrepStartedAt = &ts
			started++
		}
		if started == 0 {
			return rejectOrder(domain.ErrInvalidState, *o, domain.OrderInProgress, "no items waiting to be started")
		}
		o.Status = domain.OrderInProgress
		return nil
	}, func(o domain.Order) {
		e.kitchen.Track(o)
	})
}

// MarkReady completes preparation of every item and stops the kitchen timer.
func (e *OrderEngine) MarkReady(ctx context.Context, orderID string) (domain.Order, error) {
	return e.mutate(ctx, orderID, domain.OrderReady, func(o *domain.Order) error {
		if o.Status != domain.OrderInProgress {
			return rejectOrder(domain.ErrInvalidState, *o, domain.OrderReady, "")
		}
		for _, it := range o.Items {
			if it.Status == domain.ItemOrdered {
				return rejectOrder(domain.ErrInvalidState, *o, domain.OrderReady, "some items were never started")
			}
			if it.Status == domain.ItemInPreparation && it.PrepStartedAt == nil {
				return rejectOrder(domain.ErrInvalidState, *o, domain.OrderReady, "item "+it.ID+" has no preparation start")
			}
		}
		now := e.clock.Now().UTC()
		for i := range o.Items {
			if o.Items[i].Status != domain.ItemInPreparation {
				continue
			}
			ts := now
			o.Items[i].Status = domain.ItemReady
			o.Items[i].CompletedAt = &ts
		}
		o.Status = domain.OrderReady
		return nil
	}, func(o domain.Order) {
		e.kitchen.Untrack(o.ID)
	})
}

func (e *OrderEngine) MarkDelivered(ctx context.Context, orderID string) (domain.Order, error) {
	return e.mutate(ctx, orderID, domain.OrderDelivered, func(o *domain.Order) error {
		if o.Status != domain.OrderReady {
			return rejectOrder(domain.ErrInvalidState, *o, domain.OrderDelivered, "")
		}
		for i := range o.Items {
			if o.Items[i].Status == domain.ItemReady {
				o.Items[i].Status = domain.ItemDelivered
			}
		}
		o.Status = domain.OrderDelivered
		return nil
	}, nil)
}

// CancelOrder leaves the table as it is.
func (e *OrderEngine) CancelOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return e.mutate(ctx, orderID, domain.OrderCancelled, func(o *domain.Order) error {
		if o.Status != domain.OrderPending && o.Status != domain.OrderInProgress {
			return rejectOrder(domain.ErrInvalidState, *o, domain.OrderCancelled, "")
		}
		o.Status = domain.OrderCancelled
		return nil
	}, func(o domain.Order) {
		e.kitchen.Untrack(o.ID)
	})
}

// ProcessPayment settles the order and hands the table to the busboys.
func (e *OrderEngine) ProcessPayment(ctx context.Context, orderID string, method domain.PaymentMethod, tip float64) (domain.Order, error) {
	if !method.Valid() {
		return domain.Order{}, &domain.TransitionError{
			Kind: domain.ErrInvalidArgument, Entity: "order", ID: orderID, Detail: "unknown payment method",
		}
	}
	if tip < 0 || math.IsNaN(tip) || math.IsInf(tip, 0) {
		return domain.Order{}, &domain.TransitionError{
			Kind: domain.ErrInvalidArgument, Entity: "order", ID: orderID, Detail: "tip must be a non-negative amount",
		}
	}

	o, prev, err := e.commit(ctx, orderID, domain.OrderPaid, func(o *domain.Order) error {
		if !e.payable(o.Status) {
			return rejectOrder(domain.ErrInvalidState, *o, domain.OrderPaid, "order is not ready for payment")
		}
		var subtotal float64
		for _, it := range o.Items {
			subtotal += it.UnitPrice * float64(it.Quantity)
		}
		now := e.clock.Now().UTC()
		o.Subtotal = round2(subtotal)
		o.Tax = round2(o.Subtotal * e.policy.TaxRate)
		o.Tip = round2(tip)
		o.Total = round2(o.Subtotal + o.Tax + o.Tip)
		o.PaymentMethod = method
		o.PaymentStatus = domain.PaymentCompleted
		o.PaidAt = &now
		o.Status = domain.OrderPaid
		return nil
	}, func(o domain.Order) {
		e.kitchen.Untrack(o.ID)
	})
	if err != nil {
		return o, err
	}

	// the payment is committed; a failed table move is reported in the log only
	if _, err := e.tables.systemTransition(ctx, o.TableID, domain.TableDirty); err != nil {
		e.log.Error("table_dirty_after_payment_failed", err, map[string]any{"order_id": o.ID, "table_id": o.TableID})
	}
	e.emit(ctx, domain.EventOrderPaid, o, prev, "")
	return o, nil
}

func (e *OrderEngine) payable(s domain.OrderStatus) bool {
	if e.policy.PaymentPolicy == config.PaymentPolicyRelaxed {
		return !s.Terminal()
	}
	return s == domain.OrderDelivered
}

// RestoreKitchen re-tracks every order that was in preparation when the process stopped.
func (e *OrderEngine) RestoreKitchen(ctx context.Context) (int, error) {
	orders, err := e.store.ListOrdersByStatus(ctx, domain.OrderInProgress)
	if err != nil {
		return 0, gatewayErr("order", "", err)
	}
	for _, o := range orders {
		e.kitchen.Track(o)
	}
	e.log.Info("kitchen_restored", map[string]any{"orders": len(orders)})
	return len(orders), nil
}

// mutate commits one transition and emits its event once the order's lock is released.
func (e *OrderEngine) mutate(ctx context.Context, orderID string, to domain.OrderStatus,
	apply func(o *domain.Order) error, after func(o domain.Order)) (domain.Order, error) {
	next, prev, err := e.commit(ctx, orderID, to, apply, after)
	if err != nil {
		return next, err
	}
	e.emit(ctx, eventFor(next.Status), next, prev, "")
	return next, nil
}

// commit runs one load-check-save cycle under the order's lock. after runs once the save succeeded.
func (e *OrderEngine) commit(ctx context.Context, orderID string, to domain.OrderStatus,
	apply func(o *domain.Order) error, after func(o domain.Order)) (domain.Order, domain.OrderStatus, error) {

	unlock := e.locks.Lock("order:" + orderID)
	defer unlock()

	cur, err := e.store.LoadOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, "", gatewayErr("order", orderID, err)
	}
	next := cur.Clone()
	if err := apply(&next); err != nil {
		e.log.Info("order_transition_rejected", map[string]any{
			"order_id": orderID, "from": cur.Status, "to": to, "reason": domain.Reason(err),
		})
		return cur, cur.Status, err
	}
	if err := e.store.SaveOrder(ctx, &next); err != nil {
		e.log.Error("order_save_failed", err, map[string]any{"order_id": orderID, "from": cur.Status, "to": to})
		terr := gatewayErr("order", orderID, err)
		var te *domain.TransitionError
		if errors.As(terr, &te) {
			te.From, te.To = string(cur.Status), string(to)
		}
		return cur, cur.Status, terr
	}
	if after != nil {
		after(next)
	}

	e.log.Info("order_status_changed", map[string]any{"order_id": orderID, "from": cur.Status, "to": next.Status})
	return next, cur.Status, nil
}

func eventFor(s domain.OrderStatus) domain.OrderEventType {
	switch s {
	case domain.OrderInProgress:
		return domain.EventOrderPrepStarted
	case domain.OrderReady:
		return domain.EventOrderReady
	case domain.OrderDelivered:
		return domain.EventOrderDelivered
	case domain.OrderPaid:
		return domain.EventOrderPaid
	case domain.OrderCancelled:
		return domain.EventOrderCancelled
	}
	return domain.EventOrderCreated
}

func (e *OrderEngine) emit(ctx context.Context, typ domain.OrderEventType, o domain.Order, old domain.OrderStatus, by string) {
	if e.events == nil {
		return
	}
	ev := domain.OrderEvent{
		Type:       typ,
		OrderID:    o.ID,
		TableID:    o.TableID,
		OldStatus:  old,
		NewStatus:  o.Status,
		ChangedBy:  by,
		Total:      o.Total,
		OccurredAt: e.clock.Now().UTC(),
	}
	if err := e.events.PublishOrderEvent(ctx, ev); err != nil {
		e.log.Error("order_event_publish_failed", err, map[string]any{"order_id": o.ID, "type": typ})
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
