package timer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"restaurant-floor/internal/common/config"
	"restaurant-floor/internal/common/logger"
	"restaurant-floor/internal/domain"
)

type Class string

const (
	Normal   Class = "NORMAL"
	Warning  Class = "WARNING"
	Critical Class = "CRITICAL"
)

// Snapshot is the last computed view of one order in preparation.
type Snapshot struct {
	OrderID   string        `json:"order_id"`
	TableID   string        `json:"table_id"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"elapsed"`
	Display   string        `json:"display"`
	Class     Class         `json:"class"`
}

// Listener is called when an order's class changes. It runs inside the tick and must not call Untrack.
type Listener func(Snapshot)

var errNoStart = errors.New("order has no preparation start")

type tracker struct {
	tableID string
	start   time.Time
	snap    Snapshot
}

type Monitor struct {
	clock    clockwork.Clock
	interval time.Duration
	warn     time.Duration
	crit     time.Duration
	log      *logger.Logger

	tickMu sync.Mutex // held by Tick and Untrack

	mu        sync.RWMutex
	trackers  map[string]*tracker
	listeners []Listener
}

func New(cfg config.Kitchen, clock clockwork.Clock, log *logger.Logger) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Monitor{
		clock:    clock,
		interval: cfg.TickInterval,
		warn:     cfg.WarningAfter,
		crit:     cfg.CriticalAfter,
		log:      log,
		trackers: make(map[string]*tracker),
	}
}

func (m *Monitor) OnChange(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Track starts (or keeps) a timer for order. The start is the earliest item preparation time,
// or now when no item has started.
func (m *Monitor) Track(order domain.Order) {
	now := m.clock.Now()
	start := time.Time{}
	for _, it := range order.Items {
		if it.PrepStartedAt != nil && (start.IsZero() || it.PrepStartedAt.Before(start)) {
			start = *it.PrepStartedAt
		}
	}
	if start.IsZero() {
		start = now
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if tr, ok := m.trackers[order.ID]; ok {
		if start.Before(tr.start) {
			tr.start = start
		}
		return
	}
	tr := &tracker{tableID: order.TableID, start: start}
	tr.snap, _ = m.evaluate(order.ID, tr, now)
	m.trackers[order.ID] = tr
	m.log.Debug("kitchen_timer_started", map[string]any{"order_id": order.ID, "started_at": start})
}

// Untrack stops the order's timer. A tick in progress finishes first, so no listener hears
// about the order after Untrack returns.
func (m *Monitor) Untrack(orderID string) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()
	m.mu.Lock()
	_, ok := m.trackers[orderID]
	delete(m.trackers, orderID)
	m.mu.Unlock()
	if ok {
		m.log.Debug("kitchen_timer_stopped", map[string]any{"order_id": orderID})
	}
}

func (m *Monitor) Elapsed(orderID string) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tr, ok := m.trackers[orderID]
	if !ok {
		return Snapshot{}, false
	}
	return tr.snap, true
}

// Snapshots returns every active timer, longest running first.
func (m *Monitor) Snapshots() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.trackers))
	for _, tr := range m.trackers {
		out = append(out, tr.snap)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Elapsed != out[j].Elapsed {
			return out[i].Elapsed > out[j].Elapsed
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out
}

func (m *Monitor) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.trackers)
}

func (m *Monitor) classify(elapsed time.Duration) Class {
	switch {
	case elapsed >= m.crit:
		return Critical
	case elapsed >= m.warn:
		return Warning
	}
	return Normal
}

func (m *Monitor) evaluate(orderID string, tr *tracker, now time.Time) (Snapshot, error) {
	if tr.start.IsZero() {
		return Snapshot{OrderID: orderID, TableID: tr.tableID, Class: Normal, Display: "00:00"}, errNoStart
	}
	elapsed := now.Sub(tr.start)
	if elapsed < 0 {
		elapsed = 0
	}
	return Snapshot{
		OrderID:   orderID,
		TableID:   tr.tableID,
		StartedAt: tr.start,
		Elapsed:   elapsed,
		Display:   formatMMSS(elapsed),
		Class:     m.classify(elapsed),
	}, nil
}

// Tick recomputes every timer at now and notifies listeners of class changes.
// A failure on one order is logged and the rest still tick.
func (m *Monitor) Tick(now time.Time) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	m.mu.RLock()
	ids := make([]string, 0, len(m.trackers))
	for id := range m.trackers {
		ids = append(ids, id)
	}
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.RUnlock()

	for _, id := range ids {
		m.tickOne(id, now, listeners)
	}
}

func (m *Monitor) tickOne(id string, now time.Time, listeners []Listener) {
	defer func() {
		if p := recover(); p != nil {
			m.log.Error("kitchen_timer_panic", fmt.Errorf("%v", p), map[string]any{"order_id": id})
		}
	}()

	snap, prev, ok, err := m.recompute(id, now)
	if !ok {
		return
	}
	if err != nil {
		m.log.Error("kitchen_timer_failed", err, map[string]any{"order_id": id})
		return
	}
	if snap.Class == prev {
		return
	}
	m.log.Info("kitchen_timer_class_changed", map[string]any{
		"order_id": id, "table_id": snap.TableID, "from": prev, "to": snap.Class, "elapsed": snap.Display,
	})
	for _, l := range listeners {
		l(snap)
	}
}

func (m *Monitor) recompute(id string, now time.Time) (snap Snapshot, prev Class, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tr, ok := m.trackers[id]
	if !ok {
		return Snapshot{}, "", false, nil
	}
	prev = tr.snap.Class
	snap, err = m.evaluate(id, tr, now)
	tr.snap = snap
	return snap, prev, true, err
}

// Run ticks every configured interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	t := m.clock.NewTicker(m.interval)
	defer t.Stop()
	m.log.Info("kitchen_monitor_started", map[string]any{"interval": m.interval.String()})
	for {
		select {
		case <-ctx.Done():
			m.log.Info("kitchen_monitor_stopped", nil)
			return nil
		case <-t.Chan():
			m.Tick(m.clock.Now())
		}
	}
}

func formatMMSS(d time.Duration) string {
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
