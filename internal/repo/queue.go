package repo

import (
	"context"
	"time"

	"github.com/mhorvath/guest-notify/internal/model"
)

// QueueRepository owns the outbound queue. Entries are created by the trigger
// path or admin actions and mutated by the delivery worker; they are never
// deleted here (retention is handled outside this service).
type QueueRepository interface {
	Enqueue(ctx context.Context, e model.QueueEntry) error
	Get(ctx context.Context, id string) (*model.QueueEntry, error)

	// SelectDue returns entries eligible for this cycle: status pending or
	// skipped with scheduled_at <= now, oldest scheduled first.
	SelectDue(ctx context.Context, now time.Time) ([]model.QueueEntry, error)

	// ClaimProcessing atomically moves an entry to processing and increments
	// attempts. It reports false when the entry was no longer claimable
	// (another worker took it, or an admin changed its status mid-cycle).
	ClaimProcessing(ctx context.Context, id string, now time.Time) (bool, error)

	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error

	// MarkSkipped records a rate-limit skip. Attempts are left untouched;
	// skipped entries are re-selected on every future cycle.
	MarkSkipped(ctx context.Context, id string, reason string) error

	// RetryFailed resets every failed entry to pending (attempts=0,
	// error cleared) and returns how many rows were affected.
	RetryFailed(ctx context.Context) (int64, error)

	// ForceSend resets one entry to pending regardless of its current status,
	// with attempts=0, error cleared and scheduled_at=now.
	ForceSend(ctx context.Context, id string, now time.Time) error

	CountSentSince(ctx context.Context, identity model.Identity, since time.Time) (int, error)
	List(ctx context.Context, status model.Status, limit, offset int) ([]model.QueueEntry, error)
}

// EventRepository is the append-only audit log. Rows are never updated or
// deleted.
type EventRepository interface {
	Append(ctx context.Context, queueEntryID string, phase model.Phase, metadata map[string]any) error
	ListForEntry(ctx context.Context, queueEntryID string) ([]model.EventRecord, error)
}

// SessionRepository persists the per-identity session records. At most two
// rows ever exist; records are created lazily and never deleted.
type SessionRepository interface {
	GetOrCreate(ctx context.Context, identity model.Identity) (*model.SessionRecord, error)
	Save(ctx context.Context, rec *model.SessionRecord) error
}
