package scheduler

import (
	"context"
	"time"

	"admin-dashboard/internal/ports"

	"github.com/robfig/cron/v3"
)

// Pruner drops entries under prefix that were not written within retention.
type Pruner interface {
	Prune(prefix string, retention time.Duration) int
}

// Scheduler runs housekeeping jobs on cron specs ("@every 10m", "*/5 * * * *").
type Scheduler struct {
	cron   *cron.Cron
	logger ports.Logger
}

func New(logger ports.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
		logger: logger,
	}
}

// AddPrune schedules store.Prune(prefix, retention).
func (s *Scheduler) AddPrune(spec string, store Pruner, prefix string, retention time.Duration) error {
	_, err := s.cron.AddFunc(spec, PruneJob(store, prefix, retention, s.logger))
	return err
}

// PruneJob is the body of a prune run.
func PruneJob(store Pruner, prefix string, retention time.Duration, logger ports.Logger) func() {
	return func() {
		removed := store.Prune(prefix, retention)
		if removed > 0 {
			logger.Info(context.Background(), "pruned cache entries", "prefix", prefix, "removed", removed)
		}
	}
}

// Evictor closes client workspaces that saw no request within idle.
type Evictor interface {
	EvictIdle(idle time.Duration) int
}

// AddEviction schedules target.EvictIdle(idle).
func (s *Scheduler) AddEviction(spec string, target Evictor, idle time.Duration) error {
	_, err := s.cron.AddFunc(spec, EvictionJob(target, idle, s.logger))
	return err
}

func EvictionJob(target Evictor, idle time.Duration, logger ports.Logger) func() {
	return func() {
		if evicted := target.EvictIdle(idle); evicted > 0 {
			logger.Info(context.Background(), "evicted idle workspaces", "evicted", evicted, "idle", idle.String())
		}
	}
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop waits for running jobs or until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
