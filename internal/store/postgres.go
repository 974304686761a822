package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"dialpoint/internal/calls"
)

// NOTE: This repository assumes the following table exists:
//
//   calls (
//     id UUID PRIMARY KEY,
//     tenant_id TEXT NOT NULL,
//     call_sid TEXT NOT NULL UNIQUE,
//     status TEXT NOT NULL,
//     direction TEXT NOT NULL,
//     from_number TEXT, to_number TEXT,
//     user_id TEXT, contact_id TEXT,
//     duration INT NOT NULL DEFAULT 0,
//     recording_url TEXT,
//     created_at TIMESTAMPTZ NOT NULL,
//     updated_at TIMESTAMPTZ NOT NULL,
//     answered_at TIMESTAMPTZ,
//     ended_at TIMESTAMPTZ
//   )

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (s *Postgres) UpsertFromEvent(ctx context.Context, ev calls.StatusEvent) (calls.CallRecord, error) {
	if ev.TenantID == "" || ev.ProviderCallID == "" {
		return calls.CallRecord{}, fmt.Errorf("store: tenant_id and call_sid required")
	}
	id := ev.RecordID
	if id == "" {
		id = uuid.NewString()
	}

	// occurred_at guard: a late-arriving older event must not roll the row
	// back. answered_at/ended_at latch on first transition into the
	// corresponding status.
	const q = `
INSERT INTO calls
    (id, tenant_id, call_sid, status, direction, from_number, to_number,
     created_at, updated_at, answered_at, ended_at, duration)
VALUES
    ($1, $2, $3, $4, $5, $6, $7, $8, $8,
     CASE WHEN $4 = 'active' THEN $8 END,
     CASE WHEN $4 IN ('completed','failed','canceled') THEN $8 END,
     0)
ON CONFLICT (call_sid) DO UPDATE SET
    status      = EXCLUDED.status,
    updated_at  = EXCLUDED.updated_at,
    answered_at = COALESCE(calls.answered_at, EXCLUDED.answered_at),
    ended_at    = COALESCE(calls.ended_at, EXCLUDED.ended_at),
    duration    = CASE
        WHEN EXCLUDED.ended_at IS NOT NULL AND calls.answered_at IS NOT NULL
        THEN GREATEST(0, EXTRACT(EPOCH FROM (EXCLUDED.ended_at - calls.answered_at))::int)
        ELSE calls.duration
    END
WHERE calls.updated_at <= EXCLUDED.updated_at
RETURNING id, tenant_id, call_sid, status, direction, from_number, to_number,
          user_id, contact_id, duration, recording_url,
          created_at, updated_at, answered_at, ended_at
`
	row := s.db.QueryRowContext(ctx, q,
		id, ev.TenantID, ev.ProviderCallID, string(ev.Status), string(ev.Direction),
		ev.FromNumber, ev.ToNumber, ev.OccurredAt.UTC(),
	)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Guard clause skipped the update; return the current row.
			return s.FindByProviderCallID(ctx, ev.ProviderCallID)
		}
		return calls.CallRecord{}, fmt.Errorf("store: upsert call: %w", err)
	}
	return rec, nil
}

func (s *Postgres) FindByProviderCallID(ctx context.Context, providerCallID string) (calls.CallRecord, error) {
	const q = `
SELECT id, tenant_id, call_sid, status, direction, from_number, to_number,
       user_id, contact_id, duration, recording_url,
       created_at, updated_at, answered_at, ended_at
FROM calls
WHERE call_sid = $1
`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, q, providerCallID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return calls.CallRecord{}, ErrNotFound
		}
		return calls.CallRecord{}, fmt.Errorf("store: find call: %w", err)
	}
	return rec, nil
}

func (s *Postgres) ListCalls(ctx context.Context, q ListQuery) ([]calls.CallRecord, error) {
	if q.TenantID == "" {
		return nil, fmt.Errorf("store: tenant_id required")
	}
	q = q.withDefaults()

	var (
		where = []string{"tenant_id = $1"}
		args  = []any{q.TenantID}
	)
	if q.Direction != "" {
		args = append(args, string(q.Direction))
		where = append(where, fmt.Sprintf("direction = $%d", len(args)))
	}
	if q.Status != "" {
		args = append(args, string(q.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !q.From.IsZero() {
		args = append(args, q.From.UTC())
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !q.To.IsZero() {
		args = append(args, q.To.UTC())
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	args = append(args, q.Limit)

	query := fmt.Sprintf(`
SELECT id, tenant_id, call_sid, status, direction, from_number, to_number,
       user_id, contact_id, duration, recording_url,
       created_at, updated_at, answered_at, ended_at
FROM calls
WHERE %s
ORDER BY created_at DESC
LIMIT $%d`, strings.Join(where, " AND "), len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list calls: %w", err)
	}
	defer rows.Close()

	var out []calls.CallRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan call: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (calls.CallRecord, error) {
	var (
		rec        calls.CallRecord
		status     string
		direction  string
		fromNumber sql.NullString
		toNumber   sql.NullString
		userID     sql.NullString
		contactID  sql.NullString
		recording  sql.NullString
		answeredAt sql.NullTime
		endedAt    sql.NullTime
	)
	err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.ProviderCallID, &status, &direction,
		&fromNumber, &toNumber, &userID, &contactID,
		&rec.DurationSeconds, &recording,
		&rec.CreatedAt, &rec.UpdatedAt, &answeredAt, &endedAt,
	)
	if err != nil {
		return calls.CallRecord{}, err
	}
	rec.Status = calls.CallStatus(status)
	rec.Direction = calls.Direction(direction)
	rec.FromNumber = fromNumber.String
	rec.ToNumber = toNumber.String
	rec.UserID = userID.String
	rec.ContactID = contactID.String
	rec.RecordingURL = recording.String
	if answeredAt.Valid {
		t := answeredAt.Time
		rec.AnsweredAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		rec.EndedAt = &t
	}
	return rec, nil
}
