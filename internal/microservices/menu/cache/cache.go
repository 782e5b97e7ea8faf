package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"restaurant-floor/internal/common/config"
	"restaurant-floor/internal/common/logger"
	"restaurant-floor/internal/domain"
)

var ErrMenuUnavailable = errors.New("menu unavailable")

// Loader is the store read the cache sits on.
type Loader interface {
	LoadAllMenuItems(ctx context.Context) ([]domain.MenuItem, error)
}

// Mirror keeps a copy of the last good menu outside the process, for cold starts while the
// store is down.
type Mirror interface {
	Load(ctx context.Context) ([]domain.MenuItem, error)
	Save(ctx context.Context, items []domain.MenuItem) error
}

type snapshot struct {
	items      []*domain.MenuItem
	byID       map[string]*domain.MenuItem
	byCategory map[string][]*domain.MenuItem
	loadedAt   time.Time
	generation uint64
}

func newSnapshot(items []domain.MenuItem, loadedAt time.Time, gen uint64) *snapshot {
	s := &snapshot{
		items:      make([]*domain.MenuItem, 0, len(items)),
		byID:       make(map[string]*domain.MenuItem, len(items)),
		byCategory: make(map[string][]*domain.MenuItem),
		loadedAt:   loadedAt,
		generation: gen,
	}
	for i := range items {
		m := items[i]
		m.Addons = append([]domain.Addon(nil), m.Addons...)
		p := &m
		s.items = append(s.items, p)
		s.byID[p.ID] = p
	}
	sort.Slice(s.items, func(i, j int) bool {
		if s.items[i].CategoryID != s.items[j].CategoryID {
			return s.items[i].CategoryID < s.items[j].CategoryID
		}
		return s.items[i].ID < s.items[j].ID
	})
	for _, p := range s.items {
		s.byCategory[p.CategoryID] = append(s.byCategory[p.CategoryID], p)
	}
	return s
}

// Cache is a read-through menu cache. Readers always get a complete snapshot; a refresh swaps
// the whole snapshot at once. Returned items are shared and must not be modified.
type Cache struct {
	loader   Loader
	mirror   Mirror
	clock    clockwork.Clock
	interval time.Duration
	backoff  time.Duration
	log      *logger.Logger

	snap       atomic.Pointer[snapshot]
	generation atomic.Uint64
	refreshing atomic.Bool
	retryAt    atomic.Int64 // unix nanos; no refresh attempt before this
	group      singleflight.Group
}

type Option func(*Cache)

func WithMirror(m Mirror) Option          { return func(c *Cache) { c.mirror = m } }
func WithClock(cl clockwork.Clock) Option { return func(c *Cache) { c.clock = cl } }

func New(loader Loader, cfg config.Menu, log *logger.Logger, opts ...Option) *Cache {
	if log == nil {
		log = logger.Nop()
	}
	c := &Cache{
		loader:   loader,
		clock:    clockwork.NewRealClock(),
		interval: cfg.RefreshInterval,
		backoff:  cfg.RetryBackoff,
		log:      log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Cache) GetAll(ctx context.Context) ([]*domain.MenuItem, error) {
	s, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return append([]*domain.MenuItem(nil), s.items...), nil
}

func (c *Cache) GetByID(ctx context.Context, id string) (*domain.MenuItem, error) {
	s, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	m, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("menu item %s: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

func (c *Cache) GetByCategory(ctx context.Context, categoryID string) ([]*domain.MenuItem, error) {
	s, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return append([]*domain.MenuItem{}, s.byCategory[categoryID]...), nil
}

// Invalidate marks the snapshot stale; the next read reloads it. Call after any menu write.
func (c *Cache) Invalidate() {
	c.generation.Add(1)
	c.retryAt.Store(0)
	c.log.Info("menu_cache_invalidated", nil)
}

func (c *Cache) stale(s *snapshot) bool {
	return s.generation != c.generation.Load() || c.clock.Since(s.loadedAt) >= c.interval
}

func (c *Cache) current(ctx context.Context) (*snapshot, error) {
	s := c.snap.Load()
	if s == nil {
		return c.loadFirst(ctx)
	}
	if !c.stale(s) || c.clock.Now().UnixNano() < c.retryAt.Load() {
		return s, nil
	}
	// one reader refreshes, everyone else keeps reading the old snapshot
	if !c.refreshing.CompareAndSwap(false, true) {
		return s, nil
	}
	defer c.refreshing.Store(false)
	if ns, err := c.refresh(ctx); err == nil {
		return ns, nil
	}
	return s, nil
}

func (c *Cache) loadFirst(ctx context.Context) (*snapshot, error) {
	v, err, _ := c.group.Do("menu", func() (any, error) {
		if s := c.snap.Load(); s != nil {
			return s, nil
		}
		s, err := c.refresh(ctx)
		if err == nil {
			return s, nil
		}
		if c.mirror == nil {
			return nil, fmt.Errorf("%w: %w", ErrMenuUnavailable, err)
		}
		items, merr := c.mirror.Load(ctx)
		if merr != nil {
			c.log.Error("menu_mirror_load_failed", merr, nil)
			return nil, fmt.Errorf("%w: %w", ErrMenuUnavailable, errors.Join(err, merr))
		}
		// zero loadedAt keeps the mirrored copy stale so the store is retried after the backoff
		s = newSnapshot(items, time.Time{}, c.generation.Load())
		c.snap.CompareAndSwap(nil, s)
		c.log.Warn("menu_served_from_mirror", map[string]any{"items": len(items)})
		return c.snap.Load(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*snapshot), nil
}

func (c *Cache) refresh(ctx context.Context) (*snapshot, error) {
	gen := c.generation.Load()
	items, err := c.loader.LoadAllMenuItems(ctx)
	if err != nil {
		c.retryAt.Store(c.clock.Now().Add(c.backoff).UnixNano())
		c.log.Error("menu_refresh_failed", err, map[string]any{"retry_in": c.backoff.String()})
		return nil, err
	}
	s := newSnapshot(items, c.clock.Now(), gen)
	c.snap.Store(s)
	c.retryAt.Store(0)
	c.log.Info("menu_refreshed", map[string]any{"items": len(items), "generation": gen})

	if c.mirror != nil {
		if err := c.mirror.Save(ctx, items); err != nil {
			c.log.Warn("menu_mirror_save_failed", map[string]any{"error": err.Error()})
		}
	}
	return s, nil
}
