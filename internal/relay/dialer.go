package relay

import (
	"context"

	"dialpoint/internal/calls"
)

// Dialer is a tenant-bound view of the client. It exists so the session
// controller's dispatcher contract stays free of tenant plumbing for
// commands that identify the call by SID alone.
type Dialer struct {
	c        *Client
	tenantID string
}

// Dialer returns the tenant-bound command dispatcher.
func (c *Client) Dialer(tenantID string) *Dialer {
	return &Dialer{c: c, tenantID: tenantID}
}

func (d *Dialer) Originate(ctx context.Context, to, from, tenantID, userID string) (calls.OriginateResult, error) {
	return d.c.Originate(ctx, to, from, tenantID, userID)
}

func (d *Dialer) Hangup(ctx context.Context, providerCallID string) error {
	return d.c.Hangup(ctx, d.tenantID, providerCallID)
}

func (d *Dialer) Mute(ctx context.Context, providerCallID string) error {
	return d.c.Mute(ctx, d.tenantID, providerCallID)
}

func (d *Dialer) Unmute(ctx context.Context, providerCallID string) error {
	return d.c.Unmute(ctx, d.tenantID, providerCallID)
}

func (d *Dialer) SendDigits(ctx context.Context, providerCallID, digits string) error {
	return d.c.SendDigits(ctx, d.tenantID, providerCallID, digits)
}
