package filter

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool bounds the number of transforms running at once.
type Pool struct {
	sem     *semaphore.Weighted
	size    int
	metrics *FilterMetrics
}

// NewPool creates a pool running at most size transforms concurrently.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		sem:     semaphore.NewWeighted(int64(size)),
		size:    size,
		metrics: GetFilterMetrics(),
	}
}

// Size returns the pool capacity.
func (p *Pool) Size() int {
	return p.size
}

// Do runs fn once a worker slot is free. A nil pool runs fn directly.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if p == nil {
		return fn(ctx)
	}

	start := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for transform worker: %w", err)
	}
	p.metrics.poolWait.Observe(time.Since(start).Seconds())

	p.metrics.poolActive.Inc()
	defer func() {
		p.metrics.poolActive.Dec()
		p.sem.Release(1)
	}()

	return fn(ctx)
}
