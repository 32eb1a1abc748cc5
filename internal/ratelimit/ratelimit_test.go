package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mhorvath/guest-notify/internal/model"
)

type fakeCounter struct {
	count    int
	err      error
	gotSince time.Time
	gotID    model.Identity
}

func (f *fakeCounter) CountSentSince(ctx context.Context, identity model.Identity, since time.Time) (int, error) {
	f.gotID = identity
	f.gotSince = since
	return f.count, f.err
}

func TestAllowed_UnderLimit(t *testing.T) {
	t.Parallel()

	fc := &fakeCounter{count: 1}
	l := New(fc)

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	ok, count, err := l.Allowed(context.Background(), model.IdentityGroom, 2, now)
	if err != nil {
		t.Fatalf("Allowed() error: %v", err)
	}
	if !ok {
		t.Fatalf("expected allowed under limit")
	}
	if count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}

	if fc.gotID != model.IdentityGroom {
		t.Fatalf("expected identity-scoped count, got %q", fc.gotID)
	}
	if want := now.Add(-time.Hour); !fc.gotSince.Equal(want) {
		t.Fatalf("expected since=%v, got %v", want, fc.gotSince)
	}
}

func TestAllowed_AtBoundaryIsNotAllowed(t *testing.T) {
	t.Parallel()

	fc := &fakeCounter{count: 2}
	l := New(fc)

	ok, count, err := l.Allowed(context.Background(), model.IdentityBride, 2, time.Now())
	if err != nil {
		t.Fatalf("Allowed() error: %v", err)
	}
	if ok {
		t.Fatalf("expected not allowed when sent count equals limit")
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
}

func TestAllowed_OverLimit(t *testing.T) {
	t.Parallel()

	fc := &fakeCounter{count: 5}
	l := New(fc)

	ok, _, err := l.Allowed(context.Background(), model.IdentityGroom, 2, time.Now())
	if err != nil {
		t.Fatalf("Allowed() error: %v", err)
	}
	if ok {
		t.Fatalf("expected not allowed over limit")
	}
}

func TestAllowed_CounterErrorPropagates(t *testing.T) {
	t.Parallel()

	fc := &fakeCounter{err: errors.New("db down")}
	l := New(fc)

	_, _, err := l.Allowed(context.Background(), model.IdentityGroom, 2, time.Now())
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
}
