// Package dispatch runs best-effort side effects outside the request that
// triggered them.
package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.dispatch",
	fx.Provide(New),
)

const defaultTimeout = 30 * time.Second

type Dispatcher struct {
	log     *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func New(lc fx.Lifecycle, log *zap.Logger) *Dispatcher {
	d := NewDispatcher(log, defaultTimeout)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return d.Wait(ctx)
		},
	})
	return d
}

func NewDispatcher(log *zap.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{log: log.Named("dispatch"), timeout: timeout}
}

// Go runs fn in its own goroutine. ctx values are kept but its cancellation
// is not, so a finished request does not abort the send. Failures are
// logged and never returned.
func (d *Dispatcher) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	base := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("background task panicked", zap.String("task", name), zap.Any("panic", r))
			}
		}()

		runCtx, cancel := context.WithTimeout(base, d.timeout)
		defer cancel()
		if err := fn(runCtx); err != nil {
			d.log.Warn("background task failed", zap.String("task", name), zap.Error(err))
		}
	}()
}

// Wait blocks until in-flight tasks finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
