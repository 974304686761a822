package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"dialpoint/internal/calls"
)

// Memory is an in-memory CallRecords implementation for tests.
type Memory struct {
	mu      sync.Mutex
	records map[string]calls.CallRecord // keyed by call_sid
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]calls.CallRecord)}
}

func (m *Memory) UpsertFromEvent(ctx context.Context, ev calls.StatusEvent) (calls.CallRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[ev.ProviderCallID]
	if !ok {
		rec = calls.CallRecord{
			ID:             ev.RecordID,
			TenantID:       ev.TenantID,
			ProviderCallID: ev.ProviderCallID,
			Direction:      ev.Direction,
			FromNumber:     ev.FromNumber,
			ToNumber:       ev.ToNumber,
			CreatedAt:      ev.OccurredAt,
		}
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
	} else if ev.OccurredAt.Before(rec.UpdatedAt) {
		return rec, nil
	}

	rec.Status = ev.Status
	rec.UpdatedAt = ev.OccurredAt
	if ev.Status == calls.CallStatusActive && rec.AnsweredAt == nil {
		t := ev.OccurredAt
		rec.AnsweredAt = &t
	}
	if ev.Status.Terminal() && rec.EndedAt == nil {
		t := ev.OccurredAt
		rec.EndedAt = &t
		if rec.AnsweredAt != nil {
			rec.DurationSeconds = int(t.Sub(*rec.AnsweredAt).Seconds())
		}
	}
	m.records[ev.ProviderCallID] = rec
	return rec, nil
}

func (m *Memory) FindByProviderCallID(ctx context.Context, providerCallID string) (calls.CallRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[providerCallID]
	if !ok {
		return calls.CallRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *Memory) ListCalls(ctx context.Context, q ListQuery) ([]calls.CallRecord, error) {
	q = q.withDefaults()
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []calls.CallRecord
	for _, rec := range m.records {
		if rec.TenantID != q.TenantID {
			continue
		}
		if q.Direction != "" && rec.Direction != q.Direction {
			continue
		}
		if q.Status != "" && rec.Status != q.Status {
			continue
		}
		if !q.From.IsZero() && rec.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !rec.CreatedAt.Before(q.To) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
