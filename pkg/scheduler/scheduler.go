package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stratumhq/mongorelay/pkg/log"
	"github.com/stratumhq/mongorelay/pkg/types"
)

// Job is one unit of per-collection work dispatched by the pool.
type Job func(ctx context.Context, mapping types.CollectionMapping) error

// Pool runs per-collection jobs with bounded parallelism. Collections are
// independent, so a failing job never cancels its siblings; the pool
// drains every mapping and reports failures at the end.
type Pool struct {
	size   int
	logger zerolog.Logger
}

// NewPool creates a pool running at most size jobs at once.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size:   size,
		logger: log.WithComponent("scheduler"),
	}
}

// Size returns the pool's concurrency bound.
func (p *Pool) Size() int {
	return p.size
}

// Run dispatches job once per mapping and blocks until every dispatched
// job returns. Cancellation stops further dispatch; jobs already running
// observe ctx themselves. The returned error wraps the first job failure
// and counts the rest.
func (p *Pool) Run(ctx context.Context, mappings []types.CollectionMapping, job Job) error {
	var group errgroup.Group
	group.SetLimit(p.size)

	var failed int64
	for _, mapping := range mappings {
		if ctx.Err() != nil {
			break
		}

		mapping := mapping
		group.Go(func() error {
			if err := job(ctx, mapping); err != nil {
				atomic.AddInt64(&failed, 1)
				p.logger.Error().Err(err).
					Str("collection", mapping.Collection).
					Msg("Collection job failed")
				return err
			}
			return nil
		})
	}

	err := group.Wait()
	if err != nil {
		return fmt.Errorf("%d of %d collection jobs failed: %w", atomic.LoadInt64(&failed), len(mappings), err)
	}
	return ctx.Err()
}
