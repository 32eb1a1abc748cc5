package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mhorvath/guest-notify/internal/cache"
	"github.com/mhorvath/guest-notify/internal/gateway"
	"github.com/mhorvath/guest-notify/internal/model"
	"github.com/mhorvath/guest-notify/internal/repo"
)

// GatewayClient is the slice of the gateway surface the registry needs.
type GatewayClient interface {
	Status(ctx context.Context, identity model.Identity) (*gateway.StatusResponse, error)
	Refresh(ctx context.Context, identity model.Identity) (*gateway.RefreshResponse, error)
	QR(ctx context.Context, identity model.Identity) (string, error)
	Logout(ctx context.Context, identity model.Identity) error
}

// Registry tracks the gateway session per identity. Operations serialize per
// identity; different identities proceed concurrently.
type Registry struct {
	sessions repo.SessionRepository
	gw       GatewayClient
	profiles cache.ProfileCache // optional

	qrWait time.Duration
	now    func() time.Time

	mu    sync.Mutex
	locks map[model.Identity]*sync.Mutex
}

func NewRegistry(sessions repo.SessionRepository, gw GatewayClient) *Registry {
	return &Registry{
		sessions: sessions,
		gw:       gw,
		qrWait:   3 * time.Second,
		now:      time.Now,
		locks:    make(map[model.Identity]*sync.Mutex),
	}
}

// WithProfileCache attaches the delivery worker's sender-profile cache so
// logout and any transition away from connected evict the cached profile.
// The cache can lag the registry only while the session stays connected.
func (r *Registry) WithProfileCache(pc cache.ProfileCache) *Registry {
	r.profiles = pc
	return r
}

// WithQRWait overrides the bounded wait before the follow-up QR fetch.
func (r *Registry) WithQRWait(d time.Duration) *Registry {
	r.qrWait = d
	return r
}

// WithClock overrides the time source. Tests only.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Status merges the gateway's live status into the persisted record. Gateway
// failures never propagate: the caller gets the last persisted state back.
func (r *Registry) Status(ctx context.Context, identity model.Identity) (*model.SessionRecord, error) {
	unlock := r.lock(identity)
	defer unlock()

	rec, err := r.sessions.GetOrCreate(ctx, identity)
	if err != nil {
		return nil, err
	}

	resp, err := r.gw.Status(ctx, identity)
	if err != nil {
		slog.Debug("gateway status degraded to cached state",
			"identity", identity, "error", err)
		return rec, nil
	}

	rec.State = resp.State
	if resp.QRCode != "" {
		qr := resp.QRCode
		rec.LastQRPayload = &qr
	}

	if resp.State == model.SessionConnected {
		// The pairing code is spent once the session is connected.
		rec.LastQRPayload = nil
	}
	if resp.State == model.SessionConnected && resp.Profile != nil {
		setProfile(rec, resp.Profile)
	} else {
		rec.ClearProfile()
		r.evictProfile(ctx, identity)
	}

	now := r.now().UTC()
	rec.LastCheckedAt = &now
	rec.LastError = nil

	if err := r.sessions.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Refresh asks the gateway to (re)connect. When the gateway lands in a
// pre-paired state without handing back a QR payload, one bounded wait and
// one follow-up QR fetch give the pairing code a chance to materialize.
func (r *Registry) Refresh(ctx context.Context, identity model.Identity) (*model.SessionRecord, error) {
	unlock := r.lock(identity)
	defer unlock()

	rec, err := r.sessions.GetOrCreate(ctx, identity)
	if err != nil {
		return nil, err
	}

	resp, err := r.gw.Refresh(ctx, identity)
	if err != nil {
		slog.Warn("gateway refresh degraded to cached state",
			"identity", identity, "error", err)
		msg := err.Error()
		rec.LastError = &msg
		if saveErr := r.sessions.Save(ctx, rec); saveErr != nil {
			return nil, saveErr
		}
		return rec, nil
	}

	state := resp.State
	qr := resp.QRCode

	if (state == model.SessionConnecting || state == model.SessionWaitingQR) && qr == "" {
		if fetched, ok := r.fetchQRAfterWait(ctx, identity); ok {
			qr = fetched
			state = model.SessionWaitingQR
		}
	}

	rec.State = state
	if qr != "" {
		rec.LastQRPayload = &qr
	}
	if state == model.SessionConnected {
		rec.LastQRPayload = nil
	} else {
		rec.ClearProfile()
		r.evictProfile(ctx, identity)
	}
	rec.LastError = nil

	now := r.now().UTC()
	rec.LastCheckedAt = &now

	if err := r.sessions.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Logout ends the session. Local state is cleared even when the gateway call
// fails: logout expresses the operator's intent to stop using the identity,
// and the gateway converges on its own.
func (r *Registry) Logout(ctx context.Context, identity model.Identity) (*model.SessionRecord, error) {
	unlock := r.lock(identity)
	defer unlock()

	rec, err := r.sessions.GetOrCreate(ctx, identity)
	if err != nil {
		return nil, err
	}

	if err := r.gw.Logout(ctx, identity); err != nil {
		slog.Warn("gateway logout call failed, clearing local session anyway",
			"identity", identity, "error", err)
	}

	rec.State = model.SessionDisconnected
	rec.LastQRPayload = nil
	rec.ClearProfile()
	r.evictProfile(ctx, identity)

	now := r.now().UTC()
	rec.LastCheckedAt = &now

	if err := r.sessions.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// QR is a pass-through read. Unlike Status, a gateway failure propagates:
// callers must know pairing is currently impossible.
func (r *Registry) QR(ctx context.Context, identity model.Identity) (string, error) {
	return r.gw.QR(ctx, identity)
}

func (r *Registry) fetchQRAfterWait(ctx context.Context, identity model.Identity) (string, bool) {
	timer := time.NewTimer(r.qrWait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return "", false
	case <-timer.C:
	}

	qr, err := r.gw.QR(ctx, identity)
	if err != nil || qr == "" {
		return "", false
	}
	return qr, true
}

func (r *Registry) evictProfile(ctx context.Context, identity model.Identity) {
	if r.profiles == nil {
		return
	}
	if err := r.profiles.Invalidate(ctx, identity); err != nil {
		slog.Warn("failed to evict cached sender profile",
			"identity", identity, "error", err)
	}
}

func (r *Registry) lock(identity model.Identity) func() {
	r.mu.Lock()
	l, ok := r.locks[identity]
	if !ok {
		l = &sync.Mutex{}
		r.locks[identity] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func setProfile(rec *model.SessionRecord, p *gateway.Profile) {
	num := p.Number
	rec.ResolvedNum = &num
	rec.DisplayName = nil
	rec.AvatarRef = nil
	if p.DisplayName != "" {
		name := p.DisplayName
		rec.DisplayName = &name
	}
	if p.AvatarRef != "" {
		ref := p.AvatarRef
		rec.AvatarRef = &ref
	}
}
