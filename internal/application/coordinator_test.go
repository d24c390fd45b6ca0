package application

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"admin-dashboard/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowFetch ignores cancellation so that late resolutions reach the coordinator.
func slowFetch(delays map[string]time.Duration) func(context.Context, string) (string, error) {
	return func(_ context.Context, deps string) (string, error) {
		time.Sleep(delays[deps])
		return "result-" + deps, nil
	}
}

func TestCoordinator_LastDependencySnapshotWins(t *testing.T) {
	c := NewCoordinator(context.Background(), slowFetch(map[string]time.Duration{
		"A": 200 * time.Millisecond,
		"B": 50 * time.Millisecond,
	}), nopLogger{}, CoordinatorConfig{Name: "email"})

	var applies atomic.Int32
	c.OnApply(func(Snapshot[string, string]) { applies.Add(1) })

	genA := c.OnDependenciesChange("A")
	time.Sleep(100 * time.Millisecond)
	genB := c.OnDependenciesChange("B")
	require.Greater(t, genB, genA)

	c.Wait()
	snap := c.Snapshot()
	assert.Equal(t, StateSettled, snap.State)
	assert.Equal(t, "result-B", snap.Data)
	assert.Equal(t, "B", snap.Deps)
	assert.Equal(t, genB, snap.Generation)
	assert.EqualValues(t, 1, applies.Load())
}

func TestCoordinator_SupersededRequestIsCancelled(t *testing.T) {
	cancelled := make(chan struct{})
	fetch := func(ctx context.Context, deps string) (string, error) {
		if deps == "A" {
			<-ctx.Done()
			close(cancelled)
			return "", ctx.Err()
		}
		return "ok", nil
	}
	c := NewCoordinator(context.Background(), fetch, nopLogger{}, CoordinatorConfig{Name: "tasks"})

	c.OnDependenciesChange("A")
	c.OnDependenciesChange("B")

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("superseded request was not aborted")
	}
	c.Wait()
	assert.Equal(t, "ok", c.Snapshot().Data)
	assert.Equal(t, StateSettled, c.Snapshot().State)
}

func TestCoordinator_UnmountDropsLateResult(t *testing.T) {
	c := NewCoordinator(context.Background(), slowFetch(map[string]time.Duration{"A": 50 * time.Millisecond}), nopLogger{}, CoordinatorConfig{Name: "history"})

	c.OnDependenciesChange("A")
	c.OnUnmount()
	c.Wait()

	snap := c.Snapshot()
	assert.Equal(t, StateCancelled, snap.State)
	assert.Empty(t, snap.Data)
	assert.True(t, c.Unmounted())
	assert.Zero(t, c.OnDependenciesChange("B"))
}

func TestCoordinator_TimeoutIsFailure(t *testing.T) {
	fetch := func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	c := NewCoordinator(context.Background(), fetch, nopLogger{}, CoordinatorConfig{Name: "overview", Timeout: 30 * time.Millisecond})

	c.OnDependenciesChange("A")
	c.Wait()

	snap := c.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.ErrorIs(t, snap.Err, domain.ErrTimeout)
}

func TestCoordinator_FailureKeepsLastData(t *testing.T) {
	fail := false
	fetch := func(_ context.Context, deps string) (string, error) {
		if fail {
			return "", &domain.APIError{Status: 500}
		}
		return deps, nil
	}
	c := NewCoordinator(context.Background(), fetch, nopLogger{}, CoordinatorConfig{Name: "email"})

	c.OnDependenciesChange("A")
	c.Wait()
	fail = true
	c.OnDependenciesChange("B")
	c.Wait()

	snap := c.Snapshot()
	assert.Equal(t, StateFailed, snap.State)
	assert.Equal(t, "A", snap.Data)
	assert.Equal(t, "B", snap.Deps)
}

func TestCoordinator_CancelWithoutUnmount(t *testing.T) {
	fetch := func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	c := NewCoordinator(context.Background(), fetch, nopLogger{}, CoordinatorConfig{Name: "email"})

	c.OnDependenciesChange("A")
	c.Cancel()
	c.Wait()

	assert.Equal(t, StateCancelled, c.Snapshot().State)
	assert.False(t, c.Unmounted())
	assert.NotZero(t, c.OnDependenciesChange("B"))
	c.Cancel()
	c.Wait()
}
