package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mhorvath/guest-notify/internal/cache"
	"github.com/mhorvath/guest-notify/internal/model"
	"github.com/mhorvath/guest-notify/internal/observability"
	"github.com/mhorvath/guest-notify/internal/ratelimit"
	"github.com/mhorvath/guest-notify/internal/repo"
)

// SessionResolver reports the current session for an identity. The worker
// only sends when the record is connected with a resolved number.
type SessionResolver interface {
	Status(ctx context.Context, identity model.Identity) (*model.SessionRecord, error)
}

// SendClient delivers one message through the gateway.
type SendClient interface {
	Send(ctx context.Context, identity model.Identity, phone, message, queueID string) error
}

// Worker drains the queue one entry at a time: audit the selection, gate on
// the rate window, resolve a live sender, claim, send, record the outcome.
// Failures on one entry never stop the cycle.
type Worker struct {
	queue    repo.QueueRepository
	events   repo.EventRepository
	limiter  *ratelimit.Limiter
	sessions SessionResolver
	sender   SendClient

	profiles cache.ProfileCache // optional
	limit    int
	now      func() time.Time
}

func New(
	queue repo.QueueRepository,
	events repo.EventRepository,
	limiter *ratelimit.Limiter,
	sessions SessionResolver,
	sender SendClient,
	ratePerHour int,
) *Worker {
	return &Worker{
		queue:    queue,
		events:   events,
		limiter:  limiter,
		sessions: sessions,
		sender:   sender,
		limit:    ratePerHour,
		now:      time.Now,
	}
}

// WithProfileCache attaches the optional Redis sender-profile cache.
func (w *Worker) WithProfileCache(pc cache.ProfileCache) *Worker {
	w.profiles = pc
	return w
}

// WithClock overrides the time source. Tests only.
func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

// Tick runs one polling cycle. Cancellation is honored between entries only;
// an entry that reached the claim step runs to completion so nothing is left
// stuck in processing.
func (w *Worker) Tick(ctx context.Context) {
	now := w.now().UTC()

	entries, err := w.queue.SelectDue(ctx, now)
	if err != nil {
		slog.Error("failed to select due entries", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	slog.Info("processing cycle started", "due", len(entries))

	for i := range entries {
		select {
		case <-ctx.Done():
			slog.Info("cycle interrupted between entries", "remaining", len(entries)-i)
			return
		default:
		}

		w.processEntry(context.WithoutCancel(ctx), entries[i])
	}
}

func (w *Worker) processEntry(ctx context.Context, e model.QueueEntry) {
	now := w.now().UTC()
	log := slog.With("entry", e.ID, "identity", e.Identity)

	w.appendEvent(ctx, e.ID, model.PhaseQueued, nil)

	allowed, sentCount, err := w.limiter.Allowed(ctx, e.Identity, w.limit, now)
	if err != nil {
		log.Error("rate limit query failed, leaving entry for next cycle", "error", err)
		return
	}

	if !allowed {
		meta := map[string]any{"sent_count": sentCount, "limit": w.limit}
		w.appendEvent(ctx, e.ID, model.PhaseWaitingRateLimit, meta)
		w.appendEvent(ctx, e.ID, model.PhaseSkipped, meta)

		reason := fmt.Sprintf("rate limit reached (%d/%d)", sentCount, w.limit)
		if err := w.queue.MarkSkipped(ctx, e.ID, reason); err != nil {
			log.Error("failed to mark entry skipped", "error", err)
		}

		observability.RateLimitSkips.WithLabelValues(string(e.Identity)).Inc()
		observability.CycleEntries.WithLabelValues("skipped", string(e.Identity)).Inc()
		log.Info("entry skipped by rate window", "sent_count", sentCount, "limit", w.limit)
		return
	}

	w.appendEvent(ctx, e.ID, model.PhaseRateLimitOK, map[string]any{
		"sent_count": sentCount,
		"limit":      w.limit,
		"remaining":  w.limit - sentCount,
	})

	sender, ok := w.resolveSender(ctx, e.Identity)
	if !ok {
		// No connected session: leave the entry untouched and let a later
		// cycle pick it up once pairing is done. Intentionally no event row,
		// since no entry state changed.
		observability.CycleEntries.WithLabelValues("no_session", string(e.Identity)).Inc()
		log.Debug("no connected session, entry deferred")
		return
	}

	claimed, err := w.queue.ClaimProcessing(ctx, e.ID, now)
	if err != nil {
		log.Error("failed to claim entry", "error", err)
		return
	}
	if !claimed {
		log.Warn("entry no longer claimable, skipping")
		return
	}

	recipient := e.Recipient
	if recipient == model.RecipientSelf {
		recipient = sender.Number
	}

	start := time.Now()
	sendErr := w.sender.Send(ctx, e.Identity, recipient, e.Body, e.ID)
	observability.GatewaySendLatency.Observe(time.Since(start).Seconds())

	if sendErr != nil {
		reason := sendErr.Error()
		if err := w.queue.MarkFailed(ctx, e.ID, reason); err != nil {
			log.Error("failed to mark entry failed", "error", err)
		}
		w.appendEvent(ctx, e.ID, model.PhaseFailed, map[string]any{
			"sent_count": sentCount,
			"limit":      w.limit,
			"error":      reason,
		})
		observability.CycleEntries.WithLabelValues("failed", string(e.Identity)).Inc()
		log.Error("gateway send failed", "error", sendErr)
		return
	}

	if err := w.queue.MarkSent(ctx, e.ID, w.now().UTC()); err != nil {
		log.Error("failed to mark entry sent", "error", err)
		return
	}

	observability.CycleEntries.WithLabelValues("sent", string(e.Identity)).Inc()
	log.Info("entry sent", "recipient_self", e.Recipient == model.RecipientSelf)
}

// resolveSender finds a connected sender profile for the identity, preferring
// the short-TTL cache over a live registry probe.
func (w *Worker) resolveSender(ctx context.Context, identity model.Identity) (cache.SenderProfile, bool) {
	if w.profiles != nil {
		if p, err := w.profiles.Get(ctx, identity); err == nil && p != nil {
			return *p, true
		}
	}

	rec, err := w.sessions.Status(ctx, identity)
	if err != nil {
		slog.Error("session status lookup failed", "identity", identity, "error", err)
		return cache.SenderProfile{}, false
	}
	if rec.State != model.SessionConnected || rec.ResolvedNum == nil {
		return cache.SenderProfile{}, false
	}

	p := cache.SenderProfile{Number: *rec.ResolvedNum}
	if rec.DisplayName != nil {
		p.DisplayName = *rec.DisplayName
	}

	if w.profiles != nil {
		if err := w.profiles.Store(ctx, identity, p); err != nil {
			slog.Warn("failed to cache sender profile", "identity", identity, "error", err)
		}
	}
	return p, true
}

func (w *Worker) appendEvent(ctx context.Context, entryID string, phase model.Phase, meta map[string]any) {
	if err := w.events.Append(ctx, entryID, phase, meta); err != nil {
		slog.Error("failed to append event", "entry", entryID, "phase", phase, "error", err)
	}
}
