package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

// memCycle stands in for the delivery worker: each cycle drains whatever is
// currently due and records it.
type memCycle struct {
	mu        sync.Mutex
	due       []string
	delivered []string
	cycles    int

	panicOn string // entry id that makes the cycle panic once

	lastCtxMu sync.Mutex
	lastCtx   context.Context
}

func (m *memCycle) enqueue(ids ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.due = append(m.due, ids...)
}

func (m *memCycle) run(ctx context.Context) {
	m.lastCtxMu.Lock()
	if m.lastCtx == nil {
		m.lastCtx = ctx
	}
	m.lastCtxMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles++

	for _, id := range m.due {
		if id == m.panicOn {
			m.due = m.due[1:]
			m.panicOn = ""
			panic("poison entry: " + id)
		}
		m.delivered = append(m.delivered, id)
	}
	m.due = nil
}

func (m *memCycle) deliveredIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.delivered...)
}

func (m *memCycle) cycleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycles
}

func (m *memCycle) capturedCtx() context.Context {
	m.lastCtxMu.Lock()
	defer m.lastCtxMu.Unlock()
	return m.lastCtx
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNew_InvalidArgs(t *testing.T) {
	t.Parallel()

	t.Run("interval must be > 0", func(t *testing.T) {
		t.Parallel()

		s, err := New(0, func(context.Context) {})
		if err == nil {
			t.Fatalf("expected error, got nil")
		}
		if s != nil {
			t.Fatalf("expected nil scheduler, got %#v", s)
		}
	})

	t.Run("cycle must not be nil", func(t *testing.T) {
		t.Parallel()

		s, err := New(100*time.Millisecond, nil)
		if err == nil {
			t.Fatalf("expected error, got nil")
		}
		if s != nil {
			t.Fatalf("expected nil scheduler, got %#v", s)
		}
	})
}

func TestStart_DrainsDueEntriesImmediately(t *testing.T) {
	cycle := &memCycle{}
	cycle.enqueue("ntf_a", "ntf_b")

	// Large interval: only the immediate cycle on Start can deliver these.
	s, err := New(10*time.Second, cycle.run)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if s.IsRunning() {
		t.Fatalf("expected scheduler not running before Start")
	}
	if ok := s.Start(); !ok {
		t.Fatalf("expected Start() true on first call")
	}
	defer s.Stop()

	if !s.IsRunning() {
		t.Fatalf("expected scheduler running after Start")
	}
	if ok := s.Start(); ok {
		t.Fatalf("expected Start() false when already running")
	}

	waitFor(t, 500*time.Millisecond, func() bool {
		return len(cycle.deliveredIDs()) == 2
	})
}

func TestPeriodicCycles_PickUpNewlyDueEntries(t *testing.T) {
	cycle := &memCycle{}

	s, err := New(10*time.Millisecond, cycle.run)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if ok := s.Start(); !ok {
		t.Fatalf("expected Start() true")
	}
	defer s.Stop()

	// Empty first cycle, then an entry arriving mid-run gets delivered by a
	// later cycle without an explicit kick.
	waitFor(t, 500*time.Millisecond, func() bool { return cycle.cycleCount() >= 1 })
	cycle.enqueue("ntf_late")

	waitFor(t, 750*time.Millisecond, func() bool {
		ids := cycle.deliveredIDs()
		return len(ids) == 1 && ids[0] == "ntf_late"
	})
}

func TestStop_HaltsDelivery(t *testing.T) {
	cycle := &memCycle{}

	s, err := New(10*time.Millisecond, cycle.run)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if ok := s.Start(); !ok {
		t.Fatalf("expected Start() true")
	}
	waitFor(t, 750*time.Millisecond, func() bool { return cycle.cycleCount() >= 2 })

	if ok := s.Stop(); !ok {
		t.Fatalf("expected Stop() true on first call")
	}
	if s.IsRunning() {
		t.Fatalf("expected scheduler not running after Stop")
	}
	if ok := s.Stop(); ok {
		t.Fatalf("expected Stop() false when already stopped")
	}

	// Entries becoming due after Stop stay undelivered.
	cycle.enqueue("ntf_orphan")
	time.Sleep(100 * time.Millisecond)

	for _, id := range cycle.deliveredIDs() {
		if id == "ntf_orphan" {
			t.Fatalf("expected no delivery after Stop, got %v", cycle.deliveredIDs())
		}
	}
}

func TestPoisonEntryPanicDoesNotKillLoop(t *testing.T) {
	cycle := &memCycle{panicOn: "ntf_bad"}
	cycle.enqueue("ntf_bad")

	s, err := New(10*time.Millisecond, cycle.run)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if ok := s.Start(); !ok {
		t.Fatalf("expected Start() true")
	}
	defer s.Stop()

	// The poison entry panics its cycle; the loop must survive and deliver
	// what comes after.
	cycle.enqueue("ntf_ok")
	waitFor(t, 750*time.Millisecond, func() bool {
		for _, id := range cycle.deliveredIDs() {
			if id == "ntf_ok" {
				return true
			}
		}
		return false
	})
}

func TestStartStopMultipleTimes(t *testing.T) {
	cycle := &memCycle{}

	s, err := New(10*time.Millisecond, cycle.run)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	for i := 0; i < 3; i++ {
		before := len(cycle.deliveredIDs())
		cycle.enqueue("ntf_round")

		if ok := s.Start(); !ok {
			t.Fatalf("iteration %d: expected Start() true", i)
		}
		waitFor(t, 750*time.Millisecond, func() bool {
			return len(cycle.deliveredIDs()) > before
		})
		if ok := s.Stop(); !ok {
			t.Fatalf("iteration %d: expected Stop() true", i)
		}
	}
}

func TestCycleContextCanceledOnStop(t *testing.T) {
	cycle := &memCycle{}

	s, err := New(10*time.Millisecond, cycle.run)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if ok := s.Start(); !ok {
		t.Fatalf("expected Start() true")
	}
	waitFor(t, 500*time.Millisecond, func() bool { return cycle.capturedCtx() != nil })

	if ok := s.Stop(); !ok {
		t.Fatalf("expected Stop() true")
	}

	select {
	case <-cycle.capturedCtx().Done():
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("expected cycle context to be canceled after Stop")
	}
}
