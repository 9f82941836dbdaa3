package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type ctxKey struct{}

func TestGoSurvivesRequestCancellation(t *testing.T) {
	d := NewDispatcher(zap.NewNop(), time.Second)

	reqCtx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "req-1"))
	started := make(chan struct{})
	release := make(chan struct{})
	var sawErr atomic.Value
	var sawValue atomic.Value

	d.Go(reqCtx, "test", func(ctx context.Context) error {
		close(started)
		<-release
		sawErr.Store(ctx.Err() == nil)
		sawValue.Store(ctx.Value(ctxKey{}))
		return nil
	})

	<-started
	cancel()
	close(release)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	if err := d.Wait(waitCtx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if sawErr.Load() != true {
		t.Fatal("task context was cancelled with the request")
	}
	if sawValue.Load() != "req-1" {
		t.Fatalf("expected context values kept, got %v", sawValue.Load())
	}
}

func TestGoLogsFailuresAndPanics(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	d := NewDispatcher(zap.New(core), time.Second)

	d.Go(context.Background(), "fails", func(context.Context) error { return errors.New("smtp down") })
	d.Go(context.Background(), "panics", func(context.Context) error { panic("boom") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if logs.FilterMessage("background task failed").Len() != 1 {
		t.Fatalf("expected failure log, got %v", logs.All())
	}
	if logs.FilterMessage("background task panicked").Len() != 1 {
		t.Fatalf("expected panic log, got %v", logs.All())
	}
}
