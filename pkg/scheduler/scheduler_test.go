package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/mongorelay/pkg/types"
)

func poolMappings(names ...string) []types.CollectionMapping {
	mappings := make([]types.CollectionMapping, 0, len(names))
	for _, name := range names {
		mappings = append(mappings, types.CollectionMapping{
			SourceDB:   "src",
			TargetDB:   "dst",
			Collection: name,
		})
	}
	return mappings
}

func TestPoolRunsEveryMapping(t *testing.T) {
	pool := NewPool(2)

	var mu sync.Mutex
	seen := make(map[string]bool)

	err := pool.Run(context.Background(), poolMappings("a", "b", "c", "d", "e"),
		func(ctx context.Context, mapping types.CollectionMapping) error {
			mu.Lock()
			seen[mapping.Collection] = true
			mu.Unlock()
			return nil
		})

	require.NoError(t, err)
	assert.Len(t, seen, 5)
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		assert.True(t, seen[name], "job for %s never ran", name)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	pool := NewPool(3)

	var inFlight, peak int64
	err := pool.Run(context.Background(), poolMappings("a", "b", "c", "d", "e", "f", "g", "h"),
		func(ctx context.Context, mapping types.CollectionMapping) error {
			n := atomic.AddInt64(&inFlight, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			return nil
		})

	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(3))
	assert.Greater(t, atomic.LoadInt64(&peak), int64(0))
}

func TestPoolContinuesPastFailures(t *testing.T) {
	pool := NewPool(2)

	var ran int64
	boom := errors.New("collection exploded")

	err := pool.Run(context.Background(), poolMappings("a", "b", "c", "d", "e"),
		func(ctx context.Context, mapping types.CollectionMapping) error {
			atomic.AddInt64(&ran, 1)
			if mapping.Collection == "b" || mapping.Collection == "d" {
				return boom
			}
			return nil
		})

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "2 of 5 collection jobs failed")
	assert.Equal(t, int64(5), atomic.LoadInt64(&ran), "failures must not cancel sibling jobs")
}

func TestPoolStopsDispatchOnCancel(t *testing.T) {
	pool := NewPool(2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran int64
	err := pool.Run(ctx, poolMappings("a", "b", "c"),
		func(ctx context.Context, mapping types.CollectionMapping) error {
			atomic.AddInt64(&ran, 1)
			return nil
		})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), atomic.LoadInt64(&ran))
}

func TestPoolClampsSize(t *testing.T) {
	assert.Equal(t, 1, NewPool(0).Size())
	assert.Equal(t, 1, NewPool(-3).Size())
	assert.Equal(t, 4, NewPool(4).Size())
}
