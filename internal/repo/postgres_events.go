package repo

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/mhorvath/guest-notify/internal/model"
)

type PostgresEventRepo struct {
	db *sql.DB
}

func NewPostgresEventRepo(db *sql.DB) *PostgresEventRepo {
	return &PostgresEventRepo{db: db}
}

func (r *PostgresEventRepo) Append(ctx context.Context, queueEntryID string, phase model.Phase, metadata map[string]any) error {
	var meta []byte
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		meta = b
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO queue_events (queue_entry_id, phase, metadata, created_at)
		VALUES ($1, $2, $3, now())
	`, queueEntryID, string(phase), meta)
	return err
}

func (r *PostgresEventRepo) ListForEntry(ctx context.Context, queueEntryID string) ([]model.EventRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, queue_entry_id, phase, metadata, created_at
		FROM queue_events
		WHERE queue_entry_id = $1
		ORDER BY created_at ASC, id ASC
	`, queueEntryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.EventRecord
	for rows.Next() {
		var (
			rec   model.EventRecord
			phase string
			meta  []byte
		)
		if err := rows.Scan(&rec.ID, &rec.QueueEntryID, &phase, &meta, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.Phase = model.Phase(phase)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
