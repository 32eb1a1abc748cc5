package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mhorvath/guest-notify/internal/model"
)

type PostgresSessionRepo struct {
	db *sql.DB
}

func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

func (r *PostgresSessionRepo) GetOrCreate(ctx context.Context, identity model.Identity) (*model.SessionRecord, error) {
	rec, err := r.get(ctx, identity)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// ON CONFLICT keeps concurrent first calls for the same identity safe.
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (identity, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (identity) DO NOTHING
	`, string(identity), string(model.SessionDisconnected))
	if err != nil {
		return nil, err
	}
	return r.get(ctx, identity)
}

func (r *PostgresSessionRepo) Save(ctx context.Context, rec *model.SessionRecord) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET state = $2,
		    last_qr_payload = $3,
		    resolved_number = $4,
		    display_name = $5,
		    avatar_ref = $6,
		    last_checked_at = $7,
		    last_error = $8,
		    updated_at = now()
		WHERE identity = $1
	`,
		string(rec.Identity),
		string(rec.State),
		nullString(rec.LastQRPayload),
		nullString(rec.ResolvedNum),
		nullString(rec.DisplayName),
		nullString(rec.AvatarRef),
		nullTime(rec.LastCheckedAt),
		nullString(rec.LastError),
	)
	return err
}

func (r *PostgresSessionRepo) get(ctx context.Context, identity model.Identity) (*model.SessionRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT identity, state, last_qr_payload, resolved_number, display_name,
		       avatar_ref, last_checked_at, last_error, updated_at
		FROM sessions
		WHERE identity = $1
	`, string(identity))

	var (
		rec       model.SessionRecord
		id, state string
		qr        sql.NullString
		num       sql.NullString
		name      sql.NullString
		avatar    sql.NullString
		checked   sql.NullTime
		lastErr   sql.NullString
	)
	if err := row.Scan(&id, &state, &qr, &num, &name, &avatar, &checked, &lastErr, &rec.UpdatedAt); err != nil {
		return nil, err
	}

	rec.Identity = model.Identity(id)
	rec.State = model.SessionState(state)
	rec.LastQRPayload = strPtr(qr)
	rec.ResolvedNum = strPtr(num)
	rec.DisplayName = strPtr(name)
	rec.AvatarRef = strPtr(avatar)
	rec.LastError = strPtr(lastErr)
	if checked.Valid {
		t := checked.Time
		rec.LastCheckedAt = &t
	}
	return &rec, nil
}

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.UTC(), Valid: true}
}
