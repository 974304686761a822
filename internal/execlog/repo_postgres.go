package execlog

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo appends execution log entries to the execution_logs table.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Entry) error {
	if r.db == nil {
		return fmt.Errorf("execlog: db not configured")
	}
	const q = `
		INSERT INTO execution_logs
			(id, tenant_id, action, request_data, response_data, error_data, success, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.TenantID, e.Action,
		nullable(e.RequestData), nullable(e.ResponseData), nullable(e.ErrorData),
		e.Success, e.DurationMS, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("execlog: append: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
