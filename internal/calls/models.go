package calls

import "time"

// CallRecord is the authoritative, persisted representation of a call.
//
// Multi-tenant invariant: TenantID is required on every row.
//
// Ownership: records are written by the relay/carrier path (webhook ingest)
// and only ever *observed* by the dialer. Once a record exists it is the
// source of truth for whether a call is really active or ended; local
// optimistic state yields to it.

type CallRecord struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	// ProviderCallID is the carrier-side call identifier (call SID).
	ProviderCallID string `json:"call_sid" db:"call_sid"`

	Status    CallStatus `json:"status" db:"status"`
	Direction Direction  `json:"direction" db:"direction"`

	FromNumber string `json:"from_number" db:"from_number"`
	ToNumber   string `json:"to_number" db:"to_number"`

	// UserID and ContactID tie the call back to the CRM surface; optional.
	UserID    string `json:"user_id,omitempty" db:"user_id"`
	ContactID string `json:"contact_id,omitempty" db:"contact_id"`

	DurationSeconds int    `json:"duration" db:"duration"`
	RecordingURL    string `json:"recording_url,omitempty" db:"recording_url"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

type CallStatus string

const (
	CallStatusQueued    CallStatus = "queued"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusActive    CallStatus = "active"
	CallStatusCompleted CallStatus = "completed"
	CallStatusFailed    CallStatus = "failed"
	CallStatusCanceled  CallStatus = "canceled"
)

// Terminal reports whether the status ends a call's lifecycle.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusCanceled:
		return true
	}
	return false
}

// Valid reports whether s belongs to the closed status set.
func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusQueued, CallStatusRinging, CallStatusActive,
		CallStatusCompleted, CallStatusFailed, CallStatusCanceled:
		return true
	}
	return false
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// StatusEvent is one CallRecord mutation as delivered on the change feed.
//
// Ordering contract: events for a given ProviderCallID are applied in
// non-decreasing OccurredAt order; older events are dropped by the consumer
// regardless of arrival order.
type StatusEvent struct {
	RecordID string `json:"id"`
	TenantID string `json:"tenant_id"`

	ProviderCallID string `json:"call_sid"`

	Status    CallStatus `json:"status"`
	Direction Direction  `json:"direction"`

	FromNumber string `json:"from_number"`
	ToNumber   string `json:"to_number"`

	OccurredAt time.Time `json:"occurred_at"`
}

// OriginateResult is what a successful originate yields: the carrier call
// identifier plus the freshly inserted record id.
type OriginateResult struct {
	ProviderCallID string `json:"call_id"`
	CallRecordID   string `json:"call_record_id"`
}
