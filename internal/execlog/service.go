package execlog

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for execution log entries.
//
// It MUST be append-only. No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Entry) error
}

var ErrInvalidEntry = errors.New("execlog: invalid entry")

// Service records execution information for observability.
//
// Callers treat it as fire-and-forget: Record never returns an error and
// swallows repository failures after logging them, because observability
// must not influence control flow.
type Service struct {
	repo  Repository
	clock func() time.Time
	log   *slog.Logger
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, clock: time.Now, log: log}
}

// Append validates and persists one entry.
func (s *Service) Append(ctx context.Context, e Entry) error {
	if s.repo == nil {
		return errors.New("execlog: repository not configured")
	}
	if e.TenantID == "" || e.Action == "" {
		return ErrInvalidEntry
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Record builds an entry from an operation outcome and appends it,
// best-effort. Request and response payloads are marshalled to JSON; a
// marshal failure degrades to an empty payload rather than dropping the
// entry.
func (s *Service) Record(ctx context.Context, tenantID, action string, request, response any, opErr error, duration time.Duration) {
	e := Entry{
		TenantID:     tenantID,
		Action:       action,
		RequestData:  marshal(request),
		ResponseData: marshal(response),
		Success:      opErr == nil,
		DurationMS:   duration.Milliseconds(),
	}
	if opErr != nil {
		e.ErrorData = opErr.Error()
	}
	if err := s.Append(ctx, e); err != nil {
		s.log.Warn("execution log append failed", "action", action, "err", err)
	}
}

func marshal(v any) string {
	if v == nil {
		return ""
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
