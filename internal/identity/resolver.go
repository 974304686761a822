package identity

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"dialpoint/internal/calls"
)

// Inventory lists the tenant's numbers from the carrier/relay inventory.
// Implemented by the relay client; injected to keep this package free of
// transport concerns.
type Inventory interface {
	ListNumbers(ctx context.Context, tenantID string) ([]Number, error)
}

// InventoryFunc adapts a function to the Inventory interface.
type InventoryFunc func(ctx context.Context, tenantID string) ([]Number, error)

func (f InventoryFunc) ListNumbers(ctx context.Context, tenantID string) ([]Number, error) {
	return f(ctx, tenantID)
}

const defaultCacheTTL = 5 * time.Minute

// Resolver determines the tenant's outbound caller identity.
//
// Cache first, one remote sync on miss or expiry, first active number wins.
// Fails closed: no active number means dialing stays disabled; there is
// never a fallback to an arbitrary number.
type Resolver struct {
	rdb       *redis.Client
	inventory Inventory
	ttl       time.Duration
	clock     func() time.Time
	log       *slog.Logger
}

func NewResolver(rdb *redis.Client, inventory Inventory, ttl time.Duration, log *slog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		rdb:       rdb,
		inventory: inventory,
		ttl:       ttl,
		clock:     time.Now,
		log:       log,
	}
}

func cacheKey(tenantID string) string { return "phone-identity:" + tenantID }

// Resolve returns the tenant's outbound identity.
//
// Errors: *calls.IdentityError when the inventory holds no active number;
// inventory transport errors pass through unchanged (typically a
// *calls.NetworkError from the relay client).
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (PhoneIdentity, error) {
	if tenantID == "" {
		return PhoneIdentity{}, errors.New("identity: tenant_id required")
	}

	if ident, ok := r.fromCache(ctx, tenantID); ok {
		return ident, nil
	}

	numbers, err := r.inventory.ListNumbers(ctx, tenantID)
	if err != nil {
		return PhoneIdentity{}, err
	}

	for _, n := range numbers {
		if !n.IsActive || n.Number == "" {
			continue
		}
		ident := PhoneIdentity{
			Number:    n.Number,
			TenantID:  tenantID,
			IsActive:  true,
			FetchedAt: r.clock().UTC(),
		}
		r.store(ctx, ident)
		return ident, nil
	}
	return PhoneIdentity{}, &calls.IdentityError{TenantID: tenantID}
}

// Invalidate drops the cached identity so the next Resolve syncs remotely.
func (r *Resolver) Invalidate(ctx context.Context, tenantID string) {
	if r.rdb == nil {
		return
	}
	if err := r.rdb.Del(ctx, cacheKey(tenantID)).Err(); err != nil {
		r.log.Warn("identity cache invalidate failed", "tenant_id", tenantID, "err", err)
	}
}

// fromCache is best-effort: any cache failure is treated as a miss.
func (r *Resolver) fromCache(ctx context.Context, tenantID string) (PhoneIdentity, bool) {
	if r.rdb == nil {
		return PhoneIdentity{}, false
	}
	raw, err := r.rdb.Get(ctx, cacheKey(tenantID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn("identity cache read failed", "tenant_id", tenantID, "err", err)
		}
		return PhoneIdentity{}, false
	}
	var ident PhoneIdentity
	if err := json.Unmarshal([]byte(raw), &ident); err != nil {
		r.log.Warn("identity cache entry malformed", "tenant_id", tenantID, "err", err)
		return PhoneIdentity{}, false
	}
	if !ident.IsActive || ident.Number == "" {
		return PhoneIdentity{}, false
	}
	return ident, true
}

func (r *Resolver) store(ctx context.Context, ident PhoneIdentity) {
	if r.rdb == nil {
		return
	}
	raw, err := json.Marshal(ident)
	if err != nil {
		return
	}
	if err := r.rdb.Set(ctx, cacheKey(ident.TenantID), raw, r.ttl).Err(); err != nil {
		r.log.Warn("identity cache write failed", "tenant_id", ident.TenantID, "err", err)
	}
}
