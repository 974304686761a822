package store

import (
	"context"
	"errors"
	"time"

	"dialpoint/internal/calls"
)

// CallRecords persists the authoritative call lifecycle.
//
// The dialer side only reads projections; the single writer is the webhook
// ingest path that mirrors the relay/carrier status into the calls table and
// fans it out on the change feed.
type CallRecords interface {
	// UpsertFromEvent inserts or advances the record keyed by call_sid.
	// Status downgrades are guarded by occurred_at: an older event never
	// overwrites a newer row.
	UpsertFromEvent(ctx context.Context, ev calls.StatusEvent) (calls.CallRecord, error)

	// FindByProviderCallID loads a record by carrier call id, any tenant.
	// Used by the webhook to resolve tenancy for status-only payloads.
	FindByProviderCallID(ctx context.Context, providerCallID string) (calls.CallRecord, error)

	ListCalls(ctx context.Context, q ListQuery) ([]calls.CallRecord, error)
}

var ErrNotFound = errors.New("store: call record not found")

// ListQuery filters the tenant's call log. TenantID is required.
type ListQuery struct {
	TenantID  string
	Direction calls.Direction
	Status    calls.CallStatus
	From      time.Time
	To        time.Time
	Limit     int
}

const defaultListLimit = 100

func (q ListQuery) withDefaults() ListQuery {
	out := q
	if out.Limit <= 0 || out.Limit > 500 {
		out.Limit = defaultListLimit
	}
	return out
}
