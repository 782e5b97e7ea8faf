package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"restaurant-floor/internal/common/config"
	"restaurant-floor/internal/domain"
)

const mirrorKey = "menu:snapshot"

var ErrMirrorEmpty = errors.New("menu mirror is empty")

// KV is the part of the redis client the mirror uses.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisMirror stores the last good menu as one JSON value.
type RedisMirror struct {
	rdb KV
	ttl time.Duration
}

func NewRedisClient(cfg config.Redis) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.Addr})
}

func NewRedisMirror(rdb KV, ttl time.Duration) *RedisMirror {
	return &RedisMirror{rdb: rdb, ttl: ttl}
}

func (r *RedisMirror) Load(ctx context.Context) ([]domain.MenuItem, error) {
	b, err := r.rdb.Get(ctx, mirrorKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMirrorEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", mirrorKey, err)
	}
	var items []domain.MenuItem
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("decode menu mirror: %w", err)
	}
	return items, nil
}

func (r *RedisMirror) Save(ctx context.Context, items []domain.MenuItem) error {
	b, err := json.Marshal(items)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, mirrorKey, b, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", mirrorKey, err)
	}
	return nil
}
