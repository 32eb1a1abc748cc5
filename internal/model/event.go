package model

import "time"

type Phase string

const (
	PhaseQueued           Phase = "queued"
	PhaseWaitingRateLimit Phase = "waiting_rate_limit"
	PhaseRateLimitOK      Phase = "rate_limit_ok"
	PhaseSkipped          Phase = "skipped"
	PhaseFailed           Phase = "failed"
)

// EventRecord is one append-only audit row. Ordering by Timestamp
// reconstructs an entry's processing history for a polling cycle.
type EventRecord struct {
	ID           int64
	QueueEntryID string
	Phase        Phase
	Timestamp    time.Time
	Metadata     map[string]any
}
