package feed

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Subscriber runs a long-lived, non-blocking listener on a tenant's channel
// and hands every message to the reconciler.
type Subscriber struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewSubscriber(rdb *redis.Client, log *slog.Logger) *Subscriber {
	if log == nil {
		log = slog.Default()
	}
	return &Subscriber{rdb: rdb, log: log}
}

// Run blocks until ctx is canceled or the subscription closes. go-redis
// reconnects the underlying subscription transparently; messages missed
// while disconnected are gone, which is acceptable because the next event
// (or the webhook-backed record store) resynchronizes state.
func (s *Subscriber) Run(ctx context.Context, r *Reconciler) error {
	pubsub := s.rdb.Subscribe(ctx, ChannelFor(r.TenantID()))
	defer pubsub.Close()

	ch := pubsub.Channel()
	s.log.Info("change feed subscribed", "tenant_id", r.TenantID())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.Handle(ctx, []byte(msg.Payload))
		}
	}
}
