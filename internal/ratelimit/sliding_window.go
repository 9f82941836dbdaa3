package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/greenpm/internal/clock"
)

// SlidingWindow allows limit events per key in any window-long span.
type SlidingWindow struct {
	mu     sync.Mutex
	clock  clock.Clock
	limit  int
	window time.Duration
	hits   map[string][]time.Time
	sweeps int
}

func NewSlidingWindow(clk clock.Clock, limit int, window time.Duration) *SlidingWindow {
	if clk == nil {
		clk = clock.System()
	}
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindow{
		clock:  clk,
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
	}
}

func (w *SlidingWindow) Allow(ctx context.Context, key string) (Result, error) {
	if key == "" {
		return Result{}, ErrEmptyKey
	}
	now := w.clock.Now()
	cutoff := now.Add(-w.window)

	w.mu.Lock()
	defer w.mu.Unlock()

	recent := trim(w.hits[key], cutoff)
	if len(recent) >= w.limit {
		w.hits[key] = recent
		return Result{
			Allowed:    false,
			Limit:      w.limit,
			RetryAfter: recent[0].Add(w.window).Sub(now),
		}, nil
	}

	recent = append(recent, now)
	w.hits[key] = recent
	w.maybeSweep(cutoff)
	return Result{
		Allowed:   true,
		Limit:     w.limit,
		Remaining: w.limit - len(recent),
	}, nil
}

// maybeSweep drops idle keys every few hundred calls. Caller holds mu.
func (w *SlidingWindow) maybeSweep(cutoff time.Time) {
	w.sweeps++
	if w.sweeps < 512 {
		return
	}
	w.sweeps = 0
	for key, hits := range w.hits {
		if kept := trim(hits, cutoff); len(kept) == 0 {
			delete(w.hits, key)
		} else {
			w.hits[key] = kept
		}
	}
}

func trim(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
