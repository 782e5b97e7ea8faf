package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restaurant-floor/internal/common/config"
	"restaurant-floor/internal/common/logger"
	"restaurant-floor/internal/domain"
)

type orderFixture struct {
	*tableFixture
	clock   *clockwork.FakeClock
	kitchen *fakeTracker
	sink    *fakeSink
	menu    *fakeMenu
	orders  *OrderEngine
}

func newOrderFixture(t *testing.T, policy string) *orderFixture {
	t.Helper()
	tf := newTableFixture(t,
		domain.Table{ID: "t1", Number: "A1", Status: domain.TableAvailable, Capacity: 4},
		domain.Table{ID: "t2", Number: "A2", Status: domain.TableDirty, Capacity: 2},
	)
	f := &orderFixture{
		tableFixture: tf,
		clock:        clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 19, 0, 0, 0, time.UTC)),
		kitchen:      newFakeTracker(),
		sink:         &fakeSink{},
		menu:         demoMenu(),
	}
	f.orders = NewOrderEngine(tf.store, tf.engine, f.menu, config.Floor{
		TaxRate:                0.10,
		PaymentPolicy:          policy,
		ClearAssignmentOnDirty: true,
	}, logger.Nop(), WithKitchen(f.kitchen), WithEvents(f.sink), WithClock(f.clock))
	return f
}

func (f *orderFixture) addTwoItems(t *testing.T, orderID string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.orders.AddItem(ctx, orderID, domain.AddItemRequest{MenuItemID: "m1", Quantity: 1, Addons: []string{"extra cheese"}})
	require.NoError(t, err)
	seat := 2
	_, err = f.orders.AddItem(ctx, orderID, domain.AddItemRequest{MenuItemID: "m2", Quantity: 2, Seat: &seat, Instructions: " no croutons "})
	require.NoError(t, err)
}

func assertItemsConsistent(t *testing.T, o domain.Order) {
	t.Helper()
	for _, it := range o.Items {
		if o.Status == domain.OrderPending {
			assert.Equal(t, domain.ItemOrdered, it.Status)
		}
		if it.Status == domain.ItemReady || it.Status == domain.ItemDelivered {
			require.NotNil(t, it.CompletedAt)
			require.NotNil(t, it.PrepStartedAt)
		}
		if it.CompletedAt != nil {
			assert.False(t, it.CompletedAt.Before(*it.PrepStartedAt))
		}
	}
}

func TestOrderEngine_FullServiceOnA1(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t, config.PaymentPolicyDelivered)

	o, err := f.orders.CreateOrder(ctx, "t1", "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, o.Status)
	assert.Empty(t, o.Items)
	tbl := f.table(t, "t1")
	assert.Equal(t, domain.TableOccupied, tbl.Status)
	assert.True(t, tbl.AssignedTo("s1"))

	f.addTwoItems(t, o.ID)
	o, err = f.orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, o.Items, 2)
	assert.Equal(t, 13.00, o.Items[0].UnitPrice, "base price plus add-on")
	assert.Equal(t, "no croutons", o.Items[1].Instructions)
	assertItemsConsistent(t, o)

	f.clock.Advance(2 * time.Minute)
	o, err = f.orders.StartPreparation(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderInProgress, o.Status)
	require.NotNil(t, o.Items[0].PrepStartedAt)
	assert.Equal(t, domain.ItemInPreparation, o.Items[0].Status)
	assert.Equal(t, domain.ItemInPreparation, o.Items[1].Status)
	assert.Equal(t, *o.Items[0].PrepStartedAt, *o.Items[1].PrepStartedAt)
	assert.True(t, f.kitchen.isTracked(o.ID))

	f.clock.Advance(12 * time.Minute)
	o, err = f.orders.MarkReady(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderReady, o.Status)
	for _, it := range o.Items {
		assert.Equal(t, domain.ItemReady, it.Status)
		require.NotNil(t, it.CompletedAt)
		assert.Equal(t, f.clock.Now().UTC(), *it.CompletedAt)
	}
	assert.False(t, f.kitchen.isTracked(o.ID))
	assertItemsConsistent(t, o)

	o, err = f.orders.MarkDelivered(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemDelivered, o.Items[0].Status)

	o, err = f.orders.ProcessPayment(ctx, o.ID, domain.PaymentCash, 5.00)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, o.Status)
	assert.Equal(t, domain.PaymentCompleted, o.PaymentStatus)
	assert.Equal(t, 29.00, o.Subtotal)
	assert.Equal(t, 2.90, o.Tax)
	assert.Equal(t, 36.90, o.Total)
	require.NotNil(t, o.PaidAt)

	tbl = f.table(t, "t1")
	assert.Equal(t, domain.TableDirty, tbl.Status)
	assert.Nil(t, tbl.AssignedServerID)
	assert.Equal(t, []string{"t1:OCCUPIED", "t1:DIRTY"}, f.spy.snapshot())

	assert.Equal(t, []domain.OrderEventType{
		domain.EventOrderCreated, domain.EventOrderItemAdded, domain.EventOrderItemAdded,
		domain.EventOrderPrepStarted, domain.EventOrderReady, domain.EventOrderDelivered, domain.EventOrderPaid,
	}, f.sink.types())
}

func TestOrderEngine_RelaxedPolicyPaysStraightFromReady(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t, config.PaymentPolicyRelaxed)

	o, err := f.orders.CreateOrder(ctx, "t1", "s1")
	require.NoError(t, err)
	f.addTwoItems(t, o.ID)
	_, err = f.orders.StartPreparation(ctx, o.ID)
	require.NoError(t, err)
	_, err = f.orders.MarkReady(ctx, o.ID)
	require.NoError(t, err)

	o, err = f.orders.ProcessPayment(ctx, o.ID, domain.PaymentCash, 5.00)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaid, o.Status)
	assert.Equal(t, domain.TableDirty, f.table(t, "t1").Status)
	assert.Nil(t, f.table(t, "t1").AssignedServerID)
}

func TestOrderEngine_DeliveredPolicyRejectsEarlyPayment(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t, config.PaymentPolicyDelivered)

	o, err := f.orders.CreateOrder(ctx, "t1", "s1")
	require.NoError(t, err)
	f.addTwoItems(t, o.ID)

	_, err = f.orders.ProcessPayment(ctx, o.ID, domain.PaymentCard, 0)
	requireKind(t, err, domain.ErrInvalidState)
	assert.Equal(t, domain.TableOccupied, f.table(t, "t1").Status)
}

func TestOrderEngine_TaxAndTotal(t *testing.T) {
	cases := []struct {
		name     string
		qty      int
		tip      float64
		subtotal float64
		tax      float64
		total    float64
	}{
		{"no tip", 1, 0, 8.00, 0.80, 8.80},
		{"with tip", 3, 4.25, 24.00, 2.40, 30.65},
		{"round tip", 5, 10, 40.00, 4.00, 54.00},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			f := newOrderFixture(t, config.PaymentPolicyRelaxed)
			o, err := f.orders.CreateOrder(ctx, "t1", "s1")
			require.NoError(t, err)
			_, err = f.orders.AddItem(ctx, o.ID, domain.AddItemRequest{MenuItemID: "m2", Quantity: tc.qty})
			require.NoError(t, err)

			o, err = f.orders.ProcessPayment(ctx, o.ID, domain.PaymentCard, tc.tip)
			require.NoError(t, err)
			assert.InDelta(t, tc.subtotal, o.Subtotal, 1e-9)
			assert.InDelta(t, tc.tax, o.Tax, 1e-9)
			assert.InDelta(t, o.Subtotal*0.10, o.Tax, 0.005)
			assert.InDelta(t, tc.total, o.Total, 1e-9)
			assert.InDelta(t, o.Subtotal+o.Tax+o.Tip, o.Total, 1e-9)
		})
	}
}

func TestOrderEngine_RejectsBadPaymentInput(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t, config.PaymentPolicyRelaxed)
	o, err := f.orders.CreateOrder(ctx, "t1", "s1")
	require.NoError(t, err)

	_, err = f.orders.ProcessPayment(ctx, o.ID, domain.PaymentCash, -1)
	requireKind(t, err, domain.ErrInvalidArgument)
	_, err = f.orders.ProcessPayment(ctx, o.ID, domain.PaymentMethod("IOU"), 0)
	requireKind(t, err, domain.ErrInvalidArgument)
}

func TestOrderEngine_CreateOrderRules(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t, config.PaymentPolicyDelivered)

	_, err := f.orders.CreateOrder(ctx, "t2", "s1")
	requireKind(t, err, domain.ErrInvalidState)

	first, err := f.orders.CreateOrder(ctx, "t1", "s1")
	require.NoError(t, err)
	_, err = f.orders.CreateOrder(ctx, "t1", "s1")
	requireKind(t, err, domain.ErrInvalidState)

	open, err := f.orders.OpenOrderForTable(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, open.ID)

	_, err = f.orders.CancelOrder(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TableOccupied, f.table(t, "t1").Status, "cancel leaves the table alone")

	_, err = f.orders.CreateOrder(ctx, "t1", "s2")
	requireKind(t, err, domain.ErrForbidden)

	_, err = f.orders.OpenOrderForTable(ctx, "t1")
	requireKind(t, err, domain.ErrNotFound)

	_, err = f.orders.CreateOrder(ctx, "t1", "s1")
	require.NoError(t, err)
}

func TestOrderEngine_IllegalTransitionsAreRejected(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t, config.PaymentPolicyDelivered)
	o, err := f.orders.CreateOrder(ctx, "t1", "s1")
	require.NoError(t, err)

	_, err = f.orders.StartPreparation(ctx, o.ID)
	requireKind(t, err, domain.ErrInvalidState)
	assert.Contains(t, domain.Reason(err), "order has no items")

	_, err = f.orders.MarkReady(ctx, o.ID)
	requireKind(t, err, domain.ErrInvalidState)
	_, err = f.orders.MarkDelivered(ctx, o.ID)
	requireKind(t, err, domain.ErrInvalidState)

	f.addTwoItems(t, o.ID)
	_, err = f.orders.StartPreparation(ctx, o.ID)
	require.NoError(t, err)

	_, err = f.orders.AddItem(ctx, o.ID, domain.AddItemRequest{MenuItemID: "m2", Quantity: 1})
	require.NoError(t, err, "late additions are allowed while cooking")
	_, err = f.orders.MarkReady(ctx, o.ID)
	requireKind(t, err, domain.ErrInvalidState)

	_, err = f.orders.StartPreparation(ctx, o.ID)
	require.NoError(t, err)
	o, err = f.orders.MarkReady(ctx, o.ID)
	require.NoError(t, err)
	assertItemsConsistent(t, o)

	_, err = f.orders.CancelOrder(ctx, o.ID)
	requireKind(t, err, domain.ErrInvalidState)
	_, err = f.orders.AddItem(ctx, o.ID, domain.AddItemRequest{MenuItemID: "m2", Quantity: 1})
	requireKind(t, err, domain.ErrInvalidState)

	got, err := f.orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderReady, got.Status)
}

func TestOrderEngine_PaidOrderIsImmutable(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t, config.PaymentPolicyRelaxed)
	o, err := f.orders.CreateOrder(ctx, "t1", "s1")
	require.NoError(t, err)
	_, err = f.orders.ProcessPayment(ctx, o.ID, domain.PaymentOther, 0)
	require.NoError(t, err)

	_, err = f.orders.ProcessPayment(ctx, o.ID, domain.PaymentOther, 0)
	requireKind(t, err, domain.ErrInvalidState)
	_, err = f.orders.CancelOrder(ctx, o.ID)
	requireKind(t, err, domain.ErrInvalidState)
	_, err = f.orders.AddItem(ctx, o.ID, domain.AddItemRequest{MenuItemID: "m1", Quantity: 1})
	requireKind(t, err, domain.ErrInvalidState)
}

func TestOrderEngine_AddItemValidation(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t, config.PaymentPolicyDelivered)
	o, err := f.orders.CreateOrder(ctx, "t1", "s1")
	require.NoError(t, err)

	_, err = f.orders.AddItem(ctx, o.ID, domain.AddItemRequest{MenuItemID: "m1", Quantity: 0})
	requireKind(t, err, domain.ErrInvalidArgument)
	_, err = f.orders.AddItem(ctx, o.ID, domain.AddItemRequest{MenuItemID: "zzz", Quantity: 1})
	requireKind(t, err, domain.ErrInvalidArgument)
	_, err = f.orders.AddItem(ctx, o.ID, domain.AddItemRequest{MenuItemID: "m9", Quantity: 1})
	requireKind(t, err, domain.ErrInvalidArgument)
	_, err = f.orders.AddItem(ctx, o.ID, domain.AddItemRequest{MenuItemID: "m2", Quantity: 1, Addons: []string{"bacon"}})
	requireKind(t, err, domain.ErrInvalidArgument)

	f.menu.err = errors.New("menu unavailable")
	_, err = f.orders.AddItem(ctx, o.ID, domain.AddItemRequest{MenuItemID: "m2", Quantity: 1})
	requireKind(t, err, domain.ErrStoreFailure)
}

func TestOrderEngine_PriceSnapshotSurvivesMenuChange(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t, config.PaymentPolicyRelaxed)
	o, err := f.orders.CreateOrder(ctx, "t1", "s1")
	require.NoError(t, err)
	_, err = f.orders.AddItem(ctx, o.ID, domain.AddItemRequest{MenuItemID: "m2", Quantity: 1})
	require.NoError(t, err)

	f.menu.items["m2"] = &domain.MenuItem{ID: "m2", Name: "Caesar Salad", Price: 99, Available: true}

	o, err = f.orders.ProcessPayment(ctx, o.ID, domain.PaymentCash, 0)
	require.NoError(t, err)
	assert.Equal(t, 8.00, o.Subtotal)
}

func TestOrderEngine_CancelStopsKitchenTimer(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t, config.PaymentPolicyDelivered)
	o, err := f.orders.CreateOrder(ctx, "t1", "s1")
	require.NoError(t, err)
	f.addTwoItems(t, o.ID)
	_, err = f.orders.StartPreparation(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, f.kitchen.isTracked(o.ID))

	_, err = f.orders.CancelOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.False(t, f.kitchen.isTracked(o.ID))
}

func TestOrderEngine_SinkFailureDoesNotFailTransition(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t, config.PaymentPolicyDelivered)
	f.sink.err = errors.New("broker down")

	o, err := f.orders.CreateOrder(ctx, "t1", "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPending, o.Status)
}

func TestOrderEngine_RestoreKitchen(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t, config.PaymentPolicyDelivered)
	o, err := f.orders.CreateOrder(ctx, "t1", "s1")
	require.NoError(t, err)
	f.addTwoItems(t, o.ID)
	_, err = f.orders.StartPreparation(ctx, o.ID)
	require.NoError(t, err)

	fresh := newFakeTracker()
	restarted := NewOrderEngine(f.store, f.engine, f.menu, config.Floor{TaxRate: 0.1}, nil, WithKitchen(fresh))
	n, err := restarted.RestoreKitchen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, fresh.isTracked(o.ID))
}

func TestOrderEngine_SlowSinkDoesNotHoldOrderLock(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t, config.PaymentPolicyDelivered)
	o, err := f.orders.CreateOrder(ctx, "t1", "s1")
	require.NoError(t, err)
	f.addTwoItems(t, o.ID)

	sink := newStallingSink()
	f.orders.events = sink

	started := make(chan error, 1)
	go func() {
		_, err := f.orders.StartPreparation(ctx, o.ID)
		started <- err
	}()
	ev := <-sink.stalled
	assert.Equal(t, domain.EventOrderPrepStarted, ev.Type)
	assert.Equal(t, 0, f.orders.locks.size())

	cancelled := make(chan error, 1)
	go func() {
		_, err := f.orders.CancelOrder(ctx, o.ID)
		cancelled <- err
	}()
	select {
	case err := <-cancelled:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("CancelOrder waited on another transition's event")
	}

	close(sink.release)
	require.NoError(t, <-started)
	assert.Equal(t, int32(2), sink.calls.Load())
}

func TestOrderEngine_PaymentEventFollowsTableRelease(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t, config.PaymentPolicyRelaxed)
	o, err := f.orders.CreateOrder(ctx, "t1", "s1")
	require.NoError(t, err)
	f.addTwoItems(t, o.ID)

	var tableAtPaid domain.TableStatus
	sink := newStallingSink()
	close(sink.release)
	sink.onCall = func(ev domain.OrderEvent) {
		if ev.Type == domain.EventOrderPaid {
			tableAtPaid = f.table(t, "t1").Status
		}
	}
	f.orders.events = sink

	_, err = f.orders.ProcessPayment(ctx, o.ID, domain.PaymentCash, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.TableDirty, tableAtPaid)
	assert.Equal(t, 0, f.orders.locks.size())
}

func TestOrderEngine_MarkReadyRejectsItemWithoutStart(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t, config.PaymentPolicyDelivered)
	o, err := f.orders.CreateOrder(ctx, "t1", "s1")
	require.NoError(t, err)
	f.addTwoItems(t, o.ID)
	_, err = f.orders.StartPreparation(ctx, o.ID)
	require.NoError(t, err)

	broken, err := f.store.LoadOrder(ctx, o.ID)
	require.NoError(t, err)
	broken.Items[0].PrepStartedAt = nil
	require.NoError(t, f.store.SaveOrder(ctx, &broken))

	_, err = f.orders.MarkReady(ctx, o.ID)
	requireKind(t, err, domain.ErrInvalidState)

	got, err := f.orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderInProgress, got.Status)
	for _, it := range got.Items {
		assert.Equal(t, domain.ItemInPreparation, it.Status)
	}
	assert.True(t, f.kitchen.isTracked(o.ID))
}
