package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mhorvath/guest-notify/internal/model"
)

type PostgresQueueRepo struct {
	db *sql.DB
}

func NewPostgresQueueRepo(db *sql.DB) *PostgresQueueRepo {
	return &PostgresQueueRepo{db: db}
}

var ErrNotFound = errors.New("queue entry not found")

const queueColumns = `id, identity, recipient, body, status, scheduled_at, sent_at, attempts, last_error, created_at, updated_at`

func (r *PostgresQueueRepo) Enqueue(ctx context.Context, e model.QueueEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO queue_entries (id, identity, recipient, body, status, scheduled_at, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, now(), now())
	`, e.ID, string(e.Identity), e.Recipient, e.Body, string(model.Pending), e.ScheduledAt.UTC())
	return err
}

func (r *PostgresQueueRepo) Get(ctx context.Context, id string) (*model.QueueEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+queueColumns+`
		FROM queue_entries
		WHERE id = $1
	`, id)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *PostgresQueueRepo) SelectDue(ctx context.Context, now time.Time) ([]model.QueueEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+queueColumns+`
		FROM queue_entries
		WHERE status IN ('pending', 'skipped')
		  AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
	`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// ClaimProcessing is the conditional claim guarding against double-sends:
// the status check in the WHERE clause means at most one caller wins.
func (r *PostgresQueueRepo) ClaimProcessing(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE queue_entries
		SET status = 'processing',
		    attempts = attempts + 1,
		    updated_at = $2
		WHERE id = $1
		  AND status IN ('pending', 'skipped')
	`, id, now.UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *PostgresQueueRepo) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE queue_entries
		SET status = 'sent',
		    sent_at = $2,
		    last_error = NULL,
		    updated_at = now()
		WHERE id = $1
	`, id, sentAt.UTC())
	return err
}

func (r *PostgresQueueRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE queue_entries
		SET status = 'failed',
		    last_error = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, reason)
	return err
}

func (r *PostgresQueueRepo) MarkSkipped(ctx context.Context, id string, reason string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE queue_entries
		SET status = 'skipped',
		    last_error = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, reason)
	return err
}

func (r *PostgresQueueRepo) RetryFailed(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE queue_entries
		SET status = 'pending',
		    attempts = 0,
		    last_error = NULL,
		    updated_at = now()
		WHERE status = 'failed'
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresQueueRepo) ForceSend(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE queue_entries
		SET status = 'pending',
		    attempts = 0,
		    last_error = NULL,
		    scheduled_at = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, now.UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresQueueRepo) CountSentSince(ctx context.Context, identity model.Identity, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM queue_entries
		WHERE status = 'sent'
		  AND identity = $1
		  AND sent_at >= $2
	`, string(identity), since.UTC()).Scan(&count)
	return count, err
}

func (r *PostgresQueueRepo) List(ctx context.Context, status model.Status, limit, offset int) ([]model.QueueEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + queueColumns + `
		FROM queue_entries
	`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		args = append(args, string(status), limit, offset)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*model.QueueEntry, error) {
	var (
		e        model.QueueEntry
		identity string
		status   string
		sentAt   sql.NullTime
		lastErr  sql.NullString
	)

	if err := s.Scan(
		&e.ID,
		&identity,
		&e.Recipient,
		&e.Body,
		&status,
		&e.ScheduledAt,
		&sentAt,
		&e.Attempts,
		&lastErr,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		return nil, err
	}

	e.Identity = model.Identity(identity)
	e.Status = model.Status(status)
	if sentAt.Valid {
		t := sentAt.Time
		e.SentAt = &t
	}
	if lastErr.Valid {
		v := lastErr.String
		e.LastError = &v
	}
	return &e, nil
}
