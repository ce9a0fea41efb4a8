// Package jobs runs best-effort background work that must never block or
// fail the request that scheduled it.
package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/xtding233/loot-roller/internal/metrics"
)

// DefaultLimit bounds the number of jobs running at once.
const DefaultLimit = 64

// DefaultTimeout bounds a single job.
const DefaultTimeout = 5 * time.Second

// Pool runs named jobs on a bounded errgroup. When every worker is busy a
// job is dropped, never queued. Failures and drops are logged and counted.
type Pool struct {
	g       errgroup.Group
	base    context.Context
	timeout time.Duration
	log     zerolog.Logger
	closed  atomic.Bool
}

// New returns a pool whose jobs derive their context from base.
func New(base context.Context, limit int, timeout time.Duration, log zerolog.Logger) *Pool {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p := &Pool{
		base:    context.WithoutCancel(base),
		timeout: timeout,
		log:     log.With().Str("component", "jobs").Logger(),
	}
	p.g.SetLimit(limit)
	return p
}

// Go schedules fn. It reports whether the job was accepted.
func (p *Pool) Go(name string, fn func(ctx context.Context) error) bool {
	if p.closed.Load() {
		p.drop(name, "closed")
		return false
	}
	ok := p.g.TryGo(func() error {
		ctx, cancel := context.WithTimeout(p.base, p.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			metrics.Jobs.WithLabelValues(name, "failed").Inc()
			p.log.Warn().Err(err).Str("job", name).Msg("background job failed")
			return nil
		}
		metrics.Jobs.WithLabelValues(name, "ok").Inc()
		return nil
	})
	if !ok {
		p.drop(name, "busy")
	}
	return ok
}

func (p *Pool) drop(name, why string) {
	metrics.Jobs.WithLabelValues(name, "dropped").Inc()
	p.log.Warn().Str("job", name).Str("reason", why).Msg("background job dropped")
}

// Wait blocks until every accepted job has finished.
func (p *Pool) Wait() {
	_ = p.g.Wait()
}

// Close stops accepting jobs and waits for the running ones.
func (p *Pool) Close() {
	p.closed.Store(true)
	p.Wait()
}
