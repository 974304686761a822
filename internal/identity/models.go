package identity

import "time"

// PhoneIdentity is the tenant's resolved outbound caller number.
//
// Lifecycle: cached locally, refreshed on demand with a fetch-if-stale
// policy. The cache is read-mostly; refreshes race benignly (last writer
// wins, staleness within the TTL is tolerable).
type PhoneIdentity struct {
	Number    string    `json:"number"`
	TenantID  string    `json:"tenant_id"`
	IsActive  bool      `json:"is_active"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Number is one entry of the tenant's carrier number inventory.
type Number struct {
	Number   string `json:"number"`
	IsActive bool   `json:"is_active"`
}
