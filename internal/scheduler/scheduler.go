package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mhorvath/guest-notify/internal/observability"
)

// Scheduler drives the delivery worker: one immediate cycle on Start, then a
// cycle per interval until Stop. Cycles are panic-safe so one bad entry batch
// cannot kill the loop.
type Scheduler struct {
	interval time.Duration
	cycle    func(context.Context)

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(interval time.Duration, cycle func(context.Context)) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if cycle == nil {
		return nil, errors.New("cycle must not be nil")
	}
	return &Scheduler{
		interval: interval,
		cycle:    cycle,
		done:     make(chan struct{}),
	}, nil
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		slog.Info("delivery loop started", "interval", s.interval.String())

		// Entries enqueued while the loop was stopped should not wait a
		// full interval.
		s.runCycle(ctx)

		for {
			select {
			case <-ctx.Done():
				slog.Info("delivery loop stopping")
				return
			case <-ticker.C:
				s.runCycle(ctx)
			}
		}
	}()

	return true
}

func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	slog.Info("delivery loop stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) runCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("delivery cycle panic recovered", "panic", r)
		}
	}()

	start := time.Now()
	s.cycle(ctx)

	elapsed := time.Since(start)
	observability.CycleDuration.Observe(elapsed.Seconds())
	slog.Debug("delivery cycle completed", "duration_ms", elapsed.Milliseconds())
}
