// Package scheduler serializes outbound calls to one external provider,
// enforcing a minimum spacing between the starts of successive calls so the
// provider's rate budget is respected. One instance exists per provider.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/0xNedAlbo/midcurve-services/metrics"
)

const defaultQueueSize = 1024

type pending struct {
	ctx  context.Context
	exec func()
}

// Scheduler dispatches queued tasks one at a time in FIFO order. Tasks run
// on the dispatch goroutine; parallel dispatch to one provider is
// deliberately absent.
type Scheduler struct {
	name       string
	minSpacing time.Duration
	logger     *zap.Logger

	queue chan *pending
	quit  chan struct{}
}

// New creates a scheduler and starts its dispatch loop.
func New(name string, minSpacing time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		name:       name,
		minSpacing: minSpacing,
		logger:     logger,
		queue:      make(chan *pending, defaultQueueSize),
		quit:       make(chan struct{}),
	}
	go s.loop()
	return s
}

// Close stops the dispatch loop. Queued tasks are abandoned; their callers
// see their context error or block until Close only via their own contexts.
func (s *Scheduler) Close() {
	close(s.quit)
}

func (s *Scheduler) loop() {
	var lastStart time.Time

	for {
		select {
		case <-s.quit:
			return
		case p := <-s.queue:
			metrics.SchedulerQueueDepth.WithLabelValues(s.name).Set(float64(len(s.queue)))
			if p.ctx.Err() != nil {
				continue
			}
			if !lastStart.IsZero() {
				if wait := s.minSpacing - time.Since(lastStart); wait > 0 {
					timer := time.NewTimer(wait)
					select {
					case <-timer.C:
					case <-s.quit:
						timer.Stop()
						return
					}
				}
			}
			if p.ctx.Err() != nil {
				continue
			}
			lastStart = time.Now()
			p.exec()
		}
	}
}

type result[T any] struct {
	value T
	err   error
}

// Schedule enqueues task and returns its outcome verbatim once the
// scheduler dispatches it. The task's context is the caller's context;
// cancellation while queued makes Schedule return the context error and the
// task is skipped.
func Schedule[T any](ctx context.Context, s *Scheduler, task func(context.Context) (T, error)) (T, error) {
	var zero T

	res := make(chan result[T], 1)
	p := &pending{
		ctx: ctx,
		exec: func() {
			v, err := task(ctx)
			res <- result[T]{value: v, err: err}
		},
	}

	select {
	case s.queue <- p:
		metrics.SchedulerQueueDepth.WithLabelValues(s.name).Set(float64(len(s.queue)))
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.quit:
		return zero, context.Canceled
	}

	select {
	case r := <-res:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
