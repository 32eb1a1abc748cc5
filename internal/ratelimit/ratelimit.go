package ratelimit

import (
	"context"
	"time"

	"github.com/mhorvath/guest-notify/internal/model"
)

// Window is the trailing period SENT messages are counted over.
const Window = time.Hour

type SentCounter interface {
	CountSentSince(ctx context.Context, identity model.Identity, since time.Time) (int, error)
}

// Limiter gates sends on how many entries already went out for an identity
// inside the trailing window. It reads persisted state only, so restarts and
// multiple readers see the same answer.
type Limiter struct {
	counter SentCounter
}

func New(counter SentCounter) *Limiter {
	return &Limiter{counter: counter}
}

// Allowed reports whether one more send fits under limit. The boundary is
// exclusive: a count equal to the limit means the hour is spent.
func (l *Limiter) Allowed(ctx context.Context, identity model.Identity, limit int, now time.Time) (bool, int, error) {
	count, err := l.counter.CountSentSince(ctx, identity, now.Add(-Window))
	if err != nil {
		return false, 0, err
	}
	return count < limit, count, nil
}
