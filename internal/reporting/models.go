package reporting

import (
	"time"

	"dialpoint/internal/calls"
)

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallLogsRequest lists call records for the communications screen.
// Tenant isolation: TenantID is required.
type CallLogsRequest struct {
	TenantID  string           `json:"tenant_id"`
	Range     TimeRange        `json:"range"`
	Direction calls.Direction  `json:"direction,omitempty"`
	Status    calls.CallStatus `json:"status,omitempty"`
	Limit     int              `json:"limit,omitempty"`
}

// CallsSummaryRequest requests aggregated call metrics.
type CallsSummaryRequest struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`
}

type CallsSummary struct {
	TenantID string `json:"tenant_id"`

	TotalCalls     int `json:"total_calls"`
	CompletedCalls int `json:"completed_calls"`
	FailedCalls    int `json:"failed_calls"`
	CanceledCalls  int `json:"canceled_calls"`
	ActiveCalls    int `json:"active_calls"`
	InboundCalls   int `json:"inbound_calls"`
	OutboundCalls  int `json:"outbound_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	RecordedCalls int `json:"recorded_calls"`
}
