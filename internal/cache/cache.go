package cache

import (
	"context"

	"github.com/mhorvath/guest-notify/internal/model"
)

// SenderProfile is the cached slice of a connected session the delivery
// worker needs: who is sending, under which number.
type SenderProfile struct {
	Number      string `json:"number"`
	DisplayName string `json:"displayName,omitempty"`
}

// ProfileCache holds short-lived snapshots of connected sender profiles so a
// long queue cycle does not probe the gateway status endpoint per entry.
// Misses are normal; the session registry stays the source of truth.
type ProfileCache interface {
	Get(ctx context.Context, identity model.Identity) (*SenderProfile, error)
	Store(ctx context.Context, identity model.Identity, p SenderProfile) error
	Invalidate(ctx context.Context, identity model.Identity) error
}
