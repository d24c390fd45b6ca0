package application

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"admin-dashboard/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(store *mapStore, clock *fakeClock) *CachedFetcher[[]domain.Company] {
	return NewCachedFetcher[[]domain.Company](store, nopLogger{}, CacheConfig{
		Name: "companies",
		TTL:  5 * time.Minute,
		Now:  clock.Now,
	})
}

func TestCachedFetcher_SetThenGetIsFresh(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	c := newTestCache(newMapStore(), clock)
	ctx := context.Background()

	want := []domain.Company{{Company: "Bild Reisen"}}
	require.NoError(t, c.Set(ctx, "companies", want))

	e, ok := c.Get(ctx, "companies")
	require.True(t, ok)
	assert.True(t, e.Fresh)
	assert.Equal(t, want, e.Data)
	assert.Equal(t, clock.Now().UnixMilli(), e.Timestamp.UnixMilli())
}

func TestCachedFetcher_EntryGoesStaleAtTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	c := newTestCache(newMapStore(), clock)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []domain.Company{{Company: "a"}}))

	clock.Advance(5 * time.Minute)
	e, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.False(t, e.Fresh)
	assert.Equal(t, "a", e.Data[0].Company)
}

func TestCachedFetcher_UnreadableEntryIsAbsent(t *testing.T) {
	store := newMapStore()
	clock := &fakeClock{now: time.Now()}
	c := newTestCache(store, clock)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k", []byte("{not json")))

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	data, err := c.FetchWithCache(ctx, "k", func(context.Context) ([]domain.Company, error) {
		return []domain.Company{{Company: "live"}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "live", data[0].Company)
}

func TestCachedFetcher_CompanyListScenario(t *testing.T) {
	store := newMapStore()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	c := newTestCache(store, clock)
	ctx := context.Background()

	var calls atomic.Int32
	first := func(context.Context) ([]domain.Company, error) {
		calls.Add(1)
		return []domain.Company{{Company: "v1"}}, nil
	}
	data, err := c.FetchWithCache(ctx, "companies", first)
	require.NoError(t, err)
	assert.Equal(t, "v1", data[0].Company)
	assert.EqualValues(t, 1, calls.Load())

	e, ok := c.Get(ctx, "companies")
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(5*time.Minute).UnixMilli(), e.Timestamp.Add(CompaniesTTL).UnixMilli())

	clock.Advance(2 * time.Minute)
	release := make(chan struct{})
	refresh := func(context.Context) ([]domain.Company, error) {
		calls.Add(1)
		<-release
		return []domain.Company{{Company: "v2"}}, nil
	}

	done := make(chan []domain.Company)
	go func() {
		got, _ := c.FetchWithCache(ctx, "companies", refresh)
		done <- got
	}()
	select {
	case got := <-done:
		assert.Equal(t, "v1", got[0].Company)
	case <-time.After(time.Second):
		t.Fatal("cache hit blocked on the background refresh")
	}

	close(release)
	c.Wait()
	assert.EqualValues(t, 2, calls.Load())

	e, ok = c.Get(ctx, "companies")
	require.True(t, ok)
	assert.Equal(t, "v2", e.Data[0].Company)
}

func TestCachedFetcher_ConcurrentHitsShareOneRefresh(t *testing.T) {
	store := newMapStore()
	clock := &fakeClock{now: time.Now()}
	c := newTestCache(store, clock)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []domain.Company{{Company: "cached"}}))

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) ([]domain.Company, error) {
		calls.Add(1)
		<-release
		return []domain.Company{{Company: "fresh"}}, nil
	}
	for i := 0; i < 5; i++ {
		_, err := c.FetchWithCache(ctx, "k", fetch)
		require.NoError(t, err)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	c.Wait()
	assert.EqualValues(t, 1, calls.Load())
}

func TestCachedFetcher_FailureServesStaleEntry(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	c := newTestCache(newMapStore(), clock)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []domain.Company{{Company: "old"}}))
	clock.Advance(time.Hour)

	data, err := c.FetchWithCache(ctx, "k", func(context.Context) ([]domain.Company, error) {
		return nil, &domain.APIError{Status: 502}
	})
	require.NoError(t, err)
	assert.Equal(t, "old", data[0].Company)

	e, _ := c.Get(ctx, "k")
	assert.False(t, e.Fresh)
}

func TestCachedFetcher_FailureWithoutEntryPropagates(t *testing.T) {
	c := newTestCache(newMapStore(), &fakeClock{now: time.Now()})
	boom := errors.New("dial tcp: connection refused")

	_, err := c.FetchWithCache(context.Background(), "k", func(context.Context) ([]domain.Company, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestCachedFetcher_CancelledRequestDoesNotWrite(t *testing.T) {
	store := newMapStore()
	c := newTestCache(store, &fakeClock{now: time.Now()})
	ctx, cancel := context.WithCancel(context.Background())

	_, err := c.FetchWithCache(ctx, "k", func(context.Context) ([]domain.Company, error) {
		cancel()
		return []domain.Company{{Company: "late"}}, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, store.has("k"))
}

func TestCachedFetcher_PurgeDropsEntriesAndInFlightResults(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	store := newMapStore()
	c := newTestCache(store, clock)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []domain.Company{{Company: "5vorflug"}}))
	require.NoError(t, c.Set(ctx, "b", []domain.Company{{Company: "Bild Reisen"}}))
	require.NoError(t, store.Set(ctx, "foreign", []byte("kept")))

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.FetchWithCache(ctx, "c", func(context.Context) ([]domain.Company, error) {
			close(started)
			<-release
			return []domain.Company{{Company: "previous user"}}, nil
		})
	}()
	<-started

	assert.Equal(t, 2, c.Purge(ctx))
	close(release)
	<-done

	assert.False(t, store.has("a"))
	assert.False(t, store.has("b"))
	assert.False(t, store.has("c"), "a fetch started before the purge must not repopulate the cache")
	assert.True(t, store.has("foreign"))

	require.NoError(t, c.Set(ctx, "a", nil))
	assert.True(t, store.has("a"))
}
