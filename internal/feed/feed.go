package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"dialpoint/internal/calls"
)

// The change feed is a tenant-scoped pub/sub channel of CallRecord
// mutations. The webhook ingest publishes; one subscriber per live dialer
// reconciles the events into its session controller.

// ChannelFor names the tenant's change-feed channel.
func ChannelFor(tenantID string) string { return "call-updates:" + tenantID }

// Publisher emits CallRecord status events onto the tenant's channel.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher { return &Publisher{rdb: rdb} }

func (p *Publisher) Publish(ctx context.Context, ev calls.StatusEvent) error {
	if p.rdb == nil {
		return fmt.Errorf("feed: redis not configured")
	}
	if ev.TenantID == "" {
		return fmt.Errorf("feed: tenant_id required")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("feed: encode event: %w", err)
	}
	if err := p.rdb.Publish(ctx, ChannelFor(ev.TenantID), raw).Err(); err != nil {
		return fmt.Errorf("feed: publish: %w", err)
	}
	return nil
}
