package model

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

type Status string

const (
	Pending    Status = "pending"
	Processing Status = "processing"
	Sent       Status = "sent"
	Failed     Status = "failed"
	Skipped    Status = "skipped"
)

func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case Pending, Processing, Sent, Failed, Skipped:
		return Status(raw), nil
	}
	return "", fmt.Errorf("unknown queue status: %q", raw)
}

// Identity names one of the two sending accounts messages go out through.
type Identity string

const (
	IdentityGroom Identity = "groom"
	IdentityBride Identity = "bride"
)

func ParseIdentity(raw string) (Identity, error) {
	switch Identity(raw) {
	case IdentityGroom, IdentityBride:
		return Identity(raw), nil
	}
	return "", fmt.Errorf("unknown identity: %q", raw)
}

// RecipientSelf is resolved at send time to the identity's own linked number.
const RecipientSelf = "SELF"

type QueueEntry struct {
	ID          string
	Identity    Identity
	Recipient   string
	Body        string
	Status      Status
	ScheduledAt time.Time
	SentAt      *time.Time
	Attempts    int
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewQueueID returns a creation-time-sortable entry id.
func NewQueueID() string {
	t := time.Now().UTC()
	return "ntf_" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String()
}
