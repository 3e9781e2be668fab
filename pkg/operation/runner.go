package operation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/walteh/tilepack/pkg/metrics"
)

// 🏃 Runner executes operations
type Runner struct {
	logger  *zerolog.Logger
	async   bool
	metrics *metrics.Metrics
}

// 🏗️ NewRunner creates a new runner; m may be nil
func NewRunner(logger *zerolog.Logger, async bool, m *metrics.Metrics) *Runner {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Runner{
		logger:  logger,
		async:   async,
		metrics: m,
	}
}

// 🏃 Run executes an operation
func (r *Runner) Run(ctx context.Context, op Operation) (err error) {
	start := time.Now()
	r.logger.Debug().Str("operation", op.Name()).Bool("async", r.async).Msg("running operation")
	defer func() {
		r.metrics.ObserveRun(op.Name(), err)
		ev := r.logger.Debug()
		if err != nil {
			ev = r.logger.Error().Err(err)
		}
		ev.Str("operation", op.Name()).Dur("took", time.Since(start)).Msg("operation finished")
	}()

	if r.async {
		return r.runAsync(ctx, op)
	}
	return r.runSync(ctx, op)
}

// 🔄 runSync runs an operation synchronously
func (r *Runner) runSync(ctx context.Context, op Operation) error {
	return op.Execute(ctx)
}

// ⚡ runAsync runs an operation asynchronously and returns as soon as ctx is
// done, without waiting for the operation to notice
func (r *Runner) runAsync(ctx context.Context, op Operation) error {
	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := op.Execute(ctx); err != nil {
			errCh <- errors.Errorf("executing %s: %w", op.Name(), err)
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return errors.Errorf("operation cancelled: %w", ctx.Err())
	case err := <-errCh:
		return err
	case <-done:
		select {
		case err := <-errCh:
			return err
		default:
			return nil
		}
	}
}
