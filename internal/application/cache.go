package application

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"admin-dashboard/internal/domain"
	"admin-dashboard/internal/ports"

	"golang.org/x/sync/singleflight"
)

const (
	CompaniesTTL          = 5 * time.Minute
	defaultRefreshTimeout = 10 * time.Second
)

type Entry[T any] struct {
	Key       string
	Data      T
	Timestamp time.Time
	Fresh     bool
}

type storedEntry[T any] struct {
	Data      T     `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

type CacheConfig struct {
	Name           string
	TTL            time.Duration
	RefreshTimeout time.Duration
	Now            func() time.Time
	Metrics        ports.Metrics
}

// CachedFetcher is a time-boxed cache with stale fallback and background refresh on hit.
type CachedFetcher[T any] struct {
	name           string
	store          ports.KVStore
	ttl            time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
	logger         ports.Logger
	metrics        ports.Metrics

	refreshes singleflight.Group
	wg        sync.WaitGroup

	mu    sync.Mutex
	keys  map[string]struct{}
	epoch uint64
}

func NewCachedFetcher[T any](store ports.KVStore, logger ports.Logger, cfg CacheConfig) *CachedFetcher[T] {
	if cfg.TTL <= 0 {
		cfg.TTL = CompaniesTTL
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaultRefreshTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = ports.NopMetrics{}
	}
	return &CachedFetcher[T]{
		name:           cfg.Name,
		store:          store,
		ttl:            cfg.TTL,
		refreshTimeout: cfg.RefreshTimeout,
		now:            cfg.Now,
		logger:         logger,
		metrics:        cfg.Metrics,
		keys:           map[string]struct{}{},
	}
}

// Get returns the entry for key; undecodable data counts as absent.
func (c *CachedFetcher[T]) Get(ctx context.Context, key string) (Entry[T], bool) {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.Warn(ctx, "cache read failed", "cache", c.name, "key", key, "error", err)
		}
		return Entry[T]{}, false
	}
	var stored storedEntry[T]
	if err := json.Unmarshal(raw, &stored); err != nil || stored.Timestamp <= 0 {
		c.logger.Debug(ctx, "discarding unreadable cache entry", "cache", c.name, "key", key)
		return Entry[T]{}, false
	}
	ts := time.UnixMilli(stored.Timestamp)
	return Entry[T]{
		Key:       key,
		Data:      stored.Data,
		Timestamp: ts,
		Fresh:     c.now().Sub(ts) < c.ttl,
	}, true
}

func (c *CachedFetcher[T]) Set(ctx context.Context, key string, data T) error {
	return c.setIf(ctx, key, data, c.currentEpoch())
}

// setIf writes unless Purge ran after epoch was read.
func (c *CachedFetcher[T]) setIf(ctx context.Context, key string, data T, epoch uint64) error {
	raw, err := json.Marshal(storedEntry[T]{Data: data, Timestamp: c.now().UnixMilli()})
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		return nil
	}
	if err := c.store.Set(ctx, key, raw); err != nil {
		return err
	}
	c.keys[key] = struct{}{}
	return nil
}

func (c *CachedFetcher[T]) currentEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

func (c *CachedFetcher[T]) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.keys, key)
	c.mu.Unlock()
	return c.store.Delete(ctx, key)
}

// Purge deletes every entry this fetcher wrote and discards results of
// fetches still in flight. It returns the number of keys removed.
func (c *CachedFetcher[T]) Purge(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	removed := 0
	for key := range c.keys {
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn(ctx, "cache purge failed", "cache", c.name, "key", key, "error", err)
			continue
		}
		delete(c.keys, key)
		removed++
	}
	return removed
}

// FetchWithCache serves a fresh entry immediately and refreshes it in the
// background; otherwise it fetches, falling back to any stale entry on failure.
func (c *CachedFetcher[T]) FetchWithCache(ctx context.Context, key string, fetch func(ctx context.Context) (T, error)) (T, error) {
	entry, found := c.Get(ctx, key)
	if found && entry.Fresh {
		c.metrics.CacheResult(c.name, "hit")
		c.refreshInBackground(ctx, key, fetch)
		return entry.Data, nil
	}
	c.metrics.CacheResult(c.name, "miss")

	epoch := c.currentEpoch()
	data, err := fetch(ctx)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil {
		if serr := c.setIf(ctx, key, data, epoch); serr != nil {
			c.logger.Warn(ctx, "cache write failed", "cache", c.name, "key", key, "error", serr)
		}
		return data, nil
	}
	if found {
		c.metrics.CacheResult(c.name, "stale")
		c.logger.Warn(ctx, "serving stale cache entry", "cache", c.name, "key", key, "age", c.now().Sub(entry.Timestamp).String(), "error", err)
		return entry.Data, nil
	}
	var zero T
	return zero, err
}

func (c *CachedFetcher[T]) refreshInBackground(ctx context.Context, key string, fetch func(ctx context.Context) (T, error)) {
	epoch := c.currentEpoch()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()
		_, err, _ := c.refreshes.Do(key, func() (any, error) {
			data, err := fetch(bg)
			if err != nil {
				return nil, err
			}
			return nil, c.setIf(bg, key, data, epoch)
		})
		if err != nil {
			c.logger.Warn(bg, "background cache refresh failed", "cache", c.name, "key", key, "error", err)
		}
	}()
}

// Wait blocks until every background refresh started so far has finished.
func (c *CachedFetcher[T]) Wait() {
	c.wg.Wait()
}
