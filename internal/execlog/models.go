package execlog

import "time"

// Entry is an immutable, append-only execution log record: one relay command
// or feed ingestion attempt, with its request/response/error triple.
//
// Invariants:
// - Entries are never updated or deleted.
// - tenant_id is required for tenancy isolation.
// - Logging is best-effort observability; it must never sit on a command's
//   success/failure critical path.
//
// Storage recommendation (Postgres):
// - Table execution_logs with an INSERT-only policy.
// - Optional: partition by time for retention.

type Entry struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	// Action names the operation, e.g. "relay.originate" or "feed.decode".
	Action string `json:"action" db:"action"`

	// RequestData / ResponseData / ErrorData are JSON payloads (or plain
	// text for ErrorData). Empty when not applicable.
	RequestData  string `json:"request_data,omitempty" db:"request_data"`
	ResponseData string `json:"response_data,omitempty" db:"response_data"`
	ErrorData    string `json:"error_data,omitempty" db:"error_data"`

	Success    bool  `json:"success" db:"success"`
	DurationMS int64 `json:"duration_ms" db:"duration_ms"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
