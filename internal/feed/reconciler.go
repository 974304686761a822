package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"dialpoint/internal/calls"
)

// Applier folds a validated event into session state. Implemented by the
// session controller; its transition function is the only mutation path.
type Applier interface {
	ApplyEvent(ctx context.Context, ev calls.StatusEvent) error
}

// ExecutionLogger records malformed-event drops for observability.
type ExecutionLogger interface {
	Record(ctx context.Context, tenantID, action string, request, response any, opErr error, duration time.Duration)
}

// Stats counts reconciliation outcomes across all tenants. Shared by every
// reconciler in the process; read by the metrics collector.
type Stats struct {
	applied atomic.Uint64
	dropped atomic.Uint64
}

func (s *Stats) Applied() uint64 { return s.applied.Load() }
func (s *Stats) Dropped() uint64 { return s.dropped.Load() }

// Reconciler consumes one tenant's change feed and applies each event to the
// tenant's session controller.
//
// Drop policy: wrong tenant, malformed payloads, and events older than the
// last applied one are logged and dropped. Nothing here ever throws into the
// controller or reaches the user.
type Reconciler struct {
	tenantID string
	applier  Applier
	exec     ExecutionLogger
	stats    *Stats
	log      *slog.Logger
}

func NewReconciler(tenantID string, applier Applier, exec ExecutionLogger, stats *Stats, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	if stats == nil {
		stats = &Stats{}
	}
	return &Reconciler{
		tenantID: tenantID,
		applier:  applier,
		exec:     exec,
		stats:    stats,
		log:      log.With("tenant_id", tenantID),
	}
}

func (r *Reconciler) TenantID() string { return r.tenantID }

// Handle decodes and applies one raw feed payload.
func (r *Reconciler) Handle(ctx context.Context, payload []byte) {
	start := time.Now()

	var ev calls.StatusEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		r.drop(ctx, string(payload), &calls.ReconciliationError{Reason: "malformed payload: " + err.Error()}, start)
		return
	}
	if err := r.validate(ev); err != nil {
		r.drop(ctx, string(payload), err, start)
		return
	}

	if err := r.applier.ApplyEvent(ctx, ev); err != nil {
		var recon *calls.ReconciliationError
		var state *calls.StateError
		switch {
		case errors.As(err, &recon), errors.As(err, &state):
			r.stats.dropped.Add(1)
			r.log.Debug("feed event dropped", "call_sid", ev.ProviderCallID, "status", ev.Status, "err", err)
		default:
			// Controller shut down mid-apply or similar; log louder but
			// still swallow, per the no-propagation rule.
			r.stats.dropped.Add(1)
			r.log.Warn("feed event apply failed", "call_sid", ev.ProviderCallID, "err", err)
		}
		return
	}
	r.stats.applied.Add(1)
}

func (r *Reconciler) validate(ev calls.StatusEvent) error {
	if ev.TenantID != r.tenantID {
		return &calls.ReconciliationError{Reason: "event for different tenant"}
	}
	if ev.ProviderCallID == "" {
		return &calls.ReconciliationError{Reason: "missing call_sid"}
	}
	if !ev.Status.Valid() {
		return &calls.ReconciliationError{Reason: "unknown status " + string(ev.Status)}
	}
	if ev.OccurredAt.IsZero() {
		return &calls.ReconciliationError{Reason: "missing occurred_at"}
	}
	return nil
}

func (r *Reconciler) drop(ctx context.Context, payload string, err error, start time.Time) {
	r.stats.dropped.Add(1)
	r.log.Warn("feed event rejected", "err", err)
	if r.exec != nil {
		go r.exec.Record(context.WithoutCancel(ctx), r.tenantID, "feed.decode", payload, nil, err, time.Since(start))
	}
}
