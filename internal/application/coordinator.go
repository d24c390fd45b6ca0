package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"admin-dashboard/internal/domain"
	"admin-dashboard/internal/ports"
)

const DefaultRequestTimeout = 10 * time.Second

type FetchState string

const (
	StateIdle      FetchState = "idle"
	StateFetching  FetchState = "fetching"
	StateSettled   FetchState = "settled"
	StateFailed    FetchState = "failed"
	StateCancelled FetchState = "cancelled"
)

// Snapshot is the view state produced by a Coordinator. Data keeps the last
// settled result while a newer request is in flight.
type Snapshot[D, T any] struct {
	State      FetchState
	Deps       D
	Data       T
	Err        error
	Generation uint64
	UpdatedAt  time.Time
}

type CoordinatorConfig struct {
	Name    string
	Timeout time.Duration
	Metrics ports.Metrics
}

// Coordinator keeps one fetch in flight per view. A dependency change cancels
// the previous request; only the latest generation may update the snapshot.
type Coordinator[D, T any] struct {
	name    string
	base    context.Context
	fetch   func(ctx context.Context, deps D) (T, error)
	timeout time.Duration
	logger  ports.Logger
	metrics ports.Metrics

	mu        sync.Mutex
	gen       uint64
	cancel    context.CancelFunc
	unmounted bool
	snap      Snapshot[D, T]
	onApply   func(Snapshot[D, T])
	wg        sync.WaitGroup
}

// NewCoordinator ties request lifetimes to base, the lifetime of the view.
func NewCoordinator[D, T any](base context.Context, fetch func(ctx context.Context, deps D) (T, error), logger ports.Logger, cfg CoordinatorConfig) *Coordinator[D, T] {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = ports.NopMetrics{}
	}
	return &Coordinator[D, T]{
		name:    cfg.Name,
		base:    base,
		fetch:   fetch,
		timeout: cfg.Timeout,
		logger:  logger,
		metrics: cfg.Metrics,
		snap:    Snapshot[D, T]{State: StateIdle},
	}
}

// OnApply registers a listener invoked, under the coordinator lock, with every applied snapshot.
func (c *Coordinator[D, T]) OnApply(fn func(Snapshot[D, T])) {
	c.mu.Lock()
	c.onApply = fn
	c.mu.Unlock()
}

// OnDependenciesChange supersedes any in-flight request and starts a new one for deps.
// It returns the generation tag of the new request, or 0 once unmounted.
func (c *Coordinator[D, T]) OnDependenciesChange(deps D) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unmounted {
		return 0
	}
	c.abortLocked("superseded")

	c.gen++
	gen := c.gen
	ctx, cancel := context.WithTimeout(c.base, c.timeout)
	c.cancel = cancel
	c.snap = Snapshot[D, T]{
		State:      StateFetching,
		Deps:       deps,
		Data:       c.snap.Data,
		Generation: gen,
		UpdatedAt:  time.Now(),
	}

	c.wg.Add(1)
	go c.run(ctx, cancel, gen, deps)
	return gen
}

// Cancel aborts the in-flight request, if any, without unmounting.
func (c *Coordinator[D, T]) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.abortLocked("cancelled") {
		c.gen++
		c.snap.State = StateCancelled
		c.snap.UpdatedAt = time.Now()
	}
}

// OnUnmount cancels the in-flight request and drops every later result.
func (c *Coordinator[D, T]) OnUnmount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unmounted {
		return
	}
	c.abortLocked("unmounted")
	c.unmounted = true
	c.gen++
	c.snap.State = StateCancelled
	c.snap.UpdatedAt = time.Now()
}

func (c *Coordinator[D, T]) abortLocked(reason string) bool {
	if c.cancel == nil {
		return false
	}
	c.cancel()
	c.cancel = nil
	c.metrics.RequestCancelled(c.name)
	c.logger.Debug(c.base, "request aborted", "view", c.name, "generation", c.gen, "reason", reason)
	return true
}

func (c *Coordinator[D, T]) run(ctx context.Context, cancel context.CancelFunc, gen uint64, deps D) {
	defer c.wg.Done()
	defer cancel()

	data, err := c.fetch(ctx, deps)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%s after %s: %w", c.name, c.timeout, domain.ErrTimeout)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unmounted || gen != c.gen {
		c.logger.Debug(c.base, "dropping superseded response", "view", c.name, "generation", gen, "current", c.gen)
		return
	}
	c.cancel = nil
	c.snap.UpdatedAt = time.Now()
	if err != nil {
		c.snap.State = StateFailed
		c.snap.Err = err
		c.logger.Warn(c.base, "view request failed", "view", c.name, "generation", gen, "error", err)
	} else {
		c.snap.State = StateSettled
		c.snap.Data = data
		c.snap.Err = nil
	}
	if c.onApply != nil {
		c.onApply(c.snap)
	}
}

func (c *Coordinator[D, T]) Snapshot() Snapshot[D, T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

func (c *Coordinator[D, T]) Unmounted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unmounted
}

// Wait blocks until every request started so far has returned.
func (c *Coordinator[D, T]) Wait() {
	c.wg.Wait()
}
