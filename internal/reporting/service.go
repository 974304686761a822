package reporting

import (
	"context"
	"errors"

	"dialpoint/internal/calls"
	"dialpoint/internal/store"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT: implementations must enforce tenant filtering; the call records
// table is the immutable source these reads come from.
type Repository interface {
	ListCalls(ctx context.Context, q store.ListQuery) ([]calls.CallRecord, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

// CallLogs lists call records, newest first.
func (s *Service) CallLogs(ctx context.Context, req CallLogsRequest) ([]calls.CallRecord, error) {
	if req.TenantID == "" {
		return nil, ErrInvalidRequest
	}
	if s.repo == nil {
		return nil, errors.New("reporting: repository not configured")
	}
	return s.repo.ListCalls(ctx, store.ListQuery{
		TenantID:  req.TenantID,
		Direction: req.Direction,
		Status:    req.Status,
		From:      req.Range.From,
		To:        req.Range.To,
		Limit:     req.Limit,
	})
}

// CallsSummary aggregates call outcomes over a time range.
func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.TenantID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, store.ListQuery{
		TenantID: req.TenantID,
		From:     req.Range.From,
		To:       req.Range.To,
		Limit:    500,
	})
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{TenantID: req.TenantID}
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		if c.RecordingURL != "" {
			out.RecordedCalls++
		}
		switch c.Direction {
		case calls.DirectionInbound:
			out.InboundCalls++
		case calls.DirectionOutbound:
			out.OutboundCalls++
		}
		switch c.Status {
		case calls.CallStatusCompleted:
			out.CompletedCalls++
		case calls.CallStatusFailed:
			out.FailedCalls++
		case calls.CallStatusCanceled:
			out.CanceledCalls++
		case calls.CallStatusActive:
			out.ActiveCalls++
		case calls.CallStatusRinging, calls.CallStatusQueued:
			// pre-answer; not counted separately
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	return out, nil
}
