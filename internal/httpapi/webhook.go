package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"dialpoint/internal/calls"
	"dialpoint/internal/feed"
	"dialpoint/internal/store"

	"github.com/gin-gonic/gin"
)

// WebhookHandlers ingests call status callbacks from the relay.
//
// This is the single write path for call records: every status change is
// persisted first, then fanned out on the tenant's change feed. The dialer
// side only ever observes the result.
//
// NOTE: protect this endpoint with relay signature validation in production.
type WebhookHandlers struct {
	Records store.CallRecords
	Feed    *feed.Publisher
	Log     *slog.Logger
}

// relayStatusForm captures the subset of status callback fields we care
// about. The relay forwards carrier callbacks as
// application/x-www-form-urlencoded.
type relayStatusForm struct {
	CallSid    string
	CallStatus string
	Direction  string
	From       string
	To         string
	TenantID   string
	Timestamp  string
}

func parseRelayStatus(c *gin.Context) relayStatusForm {
	return relayStatusForm{
		CallSid:    strings.TrimSpace(c.PostForm("CallSid")),
		CallStatus: strings.TrimSpace(c.PostForm("CallStatus")),
		Direction:  strings.TrimSpace(c.PostForm("Direction")),
		From:       strings.TrimSpace(c.PostForm("From")),
		To:         strings.TrimSpace(c.PostForm("To")),
		TenantID:   strings.TrimSpace(c.PostForm("TenantId")),
		Timestamp:  strings.TrimSpace(c.PostForm("Timestamp")),
	}
}

// HandleCallStatus persists one status callback and publishes it to the
// tenant's change feed.
func (h WebhookHandlers) HandleCallStatus(c *gin.Context) {
	if h.Records == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "store not configured"})
		return
	}
	form := parseRelayStatus(c)
	if form.CallSid == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "CallSid required"})
		return
	}
	status, ok := mapCarrierStatus(form.CallStatus)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown CallStatus"})
		return
	}

	ctx := c.Request.Context()

	// Tenant resolution: trust the relay's TenantId when present; otherwise
	// the call must already be on record (status-only callbacks).
	tenantID := form.TenantID
	if tenantID == "" {
		rec, err := h.Records.FindByProviderCallID(ctx, form.CallSid)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown call and no TenantId"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "record lookup failed"})
			return
		}
		tenantID = rec.TenantID
	}

	ev := calls.StatusEvent{
		TenantID:       tenantID,
		ProviderCallID: form.CallSid,
		Status:         status,
		Direction:      mapCarrierDirection(form.Direction),
		FromNumber:     form.From,
		ToNumber:       form.To,
		OccurredAt:     parseCarrierTimestamp(form.Timestamp),
	}

	rec, err := h.Records.UpsertFromEvent(ctx, ev)
	if err != nil {
		h.log().Error("call status upsert failed", "call_sid", ev.ProviderCallID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "persist failed"})
		return
	}
	ev.RecordID = rec.ID

	if h.Feed != nil {
		if err := h.Feed.Publish(ctx, ev); err != nil {
			// Persisted but not fanned out; the dialer resyncs from the next
			// event. Log and accept the callback anyway.
			h.log().Warn("change feed publish failed", "call_sid", ev.ProviderCallID, "err", err)
		}
	}
	c.Status(http.StatusNoContent)
}

func (h WebhookHandlers) log() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

// mapCarrierStatus folds the carrier's status vocabulary into the internal
// closed set.
func mapCarrierStatus(s string) (calls.CallStatus, bool) {
	switch strings.ToLower(s) {
	case "queued", "initiated":
		return calls.CallStatusQueued, true
	case "ringing":
		return calls.CallStatusRinging, true
	case "in-progress", "answered", "active":
		return calls.CallStatusActive, true
	case "completed":
		return calls.CallStatusCompleted, true
	case "busy", "no-answer", "failed":
		return calls.CallStatusFailed, true
	case "canceled":
		return calls.CallStatusCanceled, true
	}
	return "", false
}

func mapCarrierDirection(s string) calls.Direction {
	if strings.HasPrefix(strings.ToLower(s), "outbound") {
		return calls.DirectionOutbound
	}
	return calls.DirectionInbound
}

// parseCarrierTimestamp accepts RFC1123 (what carriers send) or RFC3339, and
// falls back to now so a missing timestamp never blocks ingest.
func parseCarrierTimestamp(v string) time.Time {
	if v == "" {
		return time.Now().UTC()
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}
