package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"dialpoint/internal/calls"
)

func eventAt(sid string, status calls.CallStatus, at time.Time) calls.StatusEvent {
	return calls.StatusEvent{
		TenantID:       "tn-1",
		ProviderCallID: sid,
		Status:         status,
		Direction:      calls.DirectionOutbound,
		FromNumber:     "+15550001111",
		ToNumber:       "+15552223333",
		OccurredAt:     at,
	}
}

func TestUpsertFromEvent_InsertThenAdvance(t *testing.T) {
	m := NewMemory()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	rec, err := m.UpsertFromEvent(context.Background(), eventAt("CA1", calls.CallStatusRinging, base))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if rec.ID == "" || rec.Status != calls.CallStatusRinging {
		t.Fatalf("unexpected record %+v", rec)
	}

	rec, err = m.UpsertFromEvent(context.Background(), eventAt("CA1", calls.CallStatusActive, base.Add(5*time.Second)))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if rec.Status != calls.CallStatusActive || rec.AnsweredAt == nil {
		t.Fatalf("expected answered record, got %+v", rec)
	}

	rec, err = m.UpsertFromEvent(context.Background(), eventAt("CA1", calls.CallStatusCompleted, base.Add(65*time.Second)))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if rec.EndedAt == nil || rec.DurationSeconds != 60 {
		t.Fatalf("expected ended record with duration, got %+v", rec)
	}
}

func TestUpsertFromEvent_OlderEventDoesNotRegress(t *testing.T) {
	m := NewMemory()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	if _, err := m.UpsertFromEvent(context.Background(), eventAt("CA1", calls.CallStatusCompleted, base.Add(time.Minute))); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	rec, err := m.UpsertFromEvent(context.Background(), eventAt("CA1", calls.CallStatusRinging, base))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if rec.Status != calls.CallStatusCompleted {
		t.Fatalf("stale event regressed the record: %+v", rec)
	}
}

func TestFindByProviderCallID(t *testing.T) {
	m := NewMemory()
	if _, err := m.FindByProviderCallID(context.Background(), "CA-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if _, err := m.UpsertFromEvent(context.Background(), eventAt("CA1", calls.CallStatusQueued, base)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	rec, err := m.FindByProviderCallID(context.Background(), "CA1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if rec.TenantID != "tn-1" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestListCalls_FiltersAndOrders(t *testing.T) {
	m := NewMemory()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, sid := range []string{"CA1", "CA2", "CA3"} {
		ev := eventAt(sid, calls.CallStatusCompleted, base.Add(time.Duration(i)*time.Minute))
		if _, err := m.UpsertFromEvent(context.Background(), ev); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	other := eventAt("CA4", calls.CallStatusCompleted, base)
	other.TenantID = "tn-other"
	if _, err := m.UpsertFromEvent(context.Background(), other); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rows, err := m.ListCalls(context.Background(), ListQuery{TenantID: "tn-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].ProviderCallID != "CA3" {
		t.Fatalf("expected newest first, got %s", rows[0].ProviderCallID)
	}

	rows, err = m.ListCalls(context.Background(), ListQuery{TenantID: "tn-1", Limit: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected limit applied, got %d", len(rows))
	}
}
