package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"dialpoint/internal/calls"
	"dialpoint/internal/identity"
)

// ExecutionLogger receives request/response/error triples for observability.
// It has no influence on control flow; the client invokes it off the
// critical path and ignores its outcome entirely.
type ExecutionLogger interface {
	Record(ctx context.Context, tenantID, action string, request, response any, opErr error, duration time.Duration)
}

const defaultCommandTimeout = 10 * time.Second

// Config wires the relay client.
type Config struct {
	// BaseURL of the relay service, e.g. "http://relay:3001".
	BaseURL string
	// AuthToken is sent as a bearer token when non-empty.
	AuthToken string
	// CommandTimeout bounds every command; zero means the 10s default.
	CommandTimeout time.Duration

	HTTPClient *http.Client
	Exec       ExecutionLogger
	Log        *slog.Logger
}

// Client issues imperative call-control commands to the relay over HTTP.
//
// Contract:
// - Every command is bounded by CommandTimeout. On timeout the caller gets a
//   *calls.NetworkError and must not assume the command succeeded.
// - An explicit relay rejection (non-2xx, or success=false) becomes a
//   *calls.ProviderError carrying the relay's message.
// - No retries, ever. Retrying is a user-initiated re-invocation; a second
//   origination on one user action is a correctness bug.
type Client struct {
	baseURL   string
	authToken string
	timeout   time.Duration
	http      *http.Client
	exec      ExecutionLogger
	log       *slog.Logger

	okCount       atomic.Uint64
	providerCount atomic.Uint64
	networkCount  atomic.Uint64
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("relay: base url is required")
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaultCommandTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		authToken: cfg.AuthToken,
		timeout:   cfg.CommandTimeout,
		http:      cfg.HTTPClient,
		exec:      cfg.Exec,
		log:       cfg.Log,
	}, nil
}

// Originate starts an outbound call from the tenant's number.
func (c *Client) Originate(ctx context.Context, to, from, tenantID, userID string) (calls.OriginateResult, error) {
	req := originateRequest{To: to, From: from, TenantID: tenantID, UserID: userID}
	resp, err := c.command(ctx, tenantID, "relay.originate", "/call/originate", req)
	if err != nil {
		return calls.OriginateResult{}, err
	}
	return calls.OriginateResult{ProviderCallID: resp.CallID, CallRecordID: resp.CallRecordID}, nil
}

func (c *Client) Hangup(ctx context.Context, tenantID, callSid string) error {
	_, err := c.command(ctx, tenantID, "relay.hangup", "/call/hangup", hangupRequest{CallSid: callSid})
	return err
}

func (c *Client) Mute(ctx context.Context, tenantID, callSid string) error {
	_, err := c.command(ctx, tenantID, "relay.mute", "/call/mute", muteRequest{CallSid: callSid})
	return err
}

func (c *Client) Unmute(ctx context.Context, tenantID, callSid string) error {
	_, err := c.command(ctx, tenantID, "relay.unmute", "/call/unmute", muteRequest{CallSid: callSid})
	return err
}

func (c *Client) SendDigits(ctx context.Context, tenantID, callSid, digits string) error {
	_, err := c.command(ctx, tenantID, "relay.dtmf", "/call/dtmf", dtmfRequest{CallSid: callSid, Digits: digits})
	return err
}

// ListNumbers fetches the tenant's number inventory for identity resolution.
func (c *Client) ListNumbers(ctx context.Context, tenantID string) ([]identity.Number, error) {
	const action = "relay.numbers"
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + "/numbers?tenantId=" + url.QueryEscape(tenantID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &calls.NetworkError{Action: action, Err: err}
	}
	c.setHeaders(httpReq)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		c.networkCount.Add(1)
		nerr := &calls.NetworkError{Action: action, Err: err}
		c.record(ctx, tenantID, action, nil, nil, nerr, time.Since(start))
		return nil, nerr
	}
	defer httpResp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		c.providerCount.Add(1)
		perr := &calls.ProviderError{Action: action, Message: httpStatusMessage(httpResp.StatusCode, body)}
		c.record(ctx, tenantID, action, nil, string(body), perr, time.Since(start))
		return nil, perr
	}

	var resp numbersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.networkCount.Add(1)
		nerr := &calls.NetworkError{Action: action, Err: fmt.Errorf("decode response: %w", err)}
		c.record(ctx, tenantID, action, nil, string(body), nerr, time.Since(start))
		return nil, nerr
	}

	out := make([]identity.Number, 0, len(resp.PhoneNumbers))
	for _, n := range resp.PhoneNumbers {
		out = append(out, identity.Number{Number: n.Number, IsActive: n.IsActive})
	}
	c.okCount.Add(1)
	c.record(ctx, tenantID, action, nil, resp, nil, time.Since(start))
	return out, nil
}

// Health pings the relay; used by readiness checks only.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &calls.NetworkError{Action: "relay.health", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &calls.ProviderError{Action: "relay.health", Message: resp.Status}
	}
	return nil
}

// CountByOutcome reports commands by outcome for the metrics collector.
func (c *Client) CountByOutcome() map[string]uint64 {
	return map[string]uint64{
		"ok":             c.okCount.Load(),
		"provider_error": c.providerCount.Load(),
		"network_error":  c.networkCount.Load(),
	}
}

func (c *Client) command(ctx context.Context, tenantID, action, path string, reqBody any) (commandResponse, error) {
	start := time.Now()

	resp, err := c.post(ctx, path, reqBody)
	switch err.(type) {
	case nil:
		c.okCount.Add(1)
	case *calls.ProviderError:
		c.providerCount.Add(1)
	default:
		c.networkCount.Add(1)
	}
	c.record(ctx, tenantID, action, reqBody, resp, err, time.Since(start))

	if err != nil {
		// Re-tag with the caller-facing action name.
		switch e := err.(type) {
		case *calls.ProviderError:
			e.Action = action
		case *calls.NetworkError:
			e.Action = action
		}
		return commandResponse{}, err
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, path string, reqBody any) (commandResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return commandResponse{}, &calls.NetworkError{Err: fmt.Errorf("encode request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return commandResponse{}, &calls.NetworkError{Err: err}
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return commandResponse{}, &calls.NetworkError{Err: err}
	}
	defer httpResp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))

	var resp commandResponse
	decodeErr := json.Unmarshal(body, &resp)

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		msg := resp.Message
		if msg == "" {
			msg = httpStatusMessage(httpResp.StatusCode, body)
		}
		return commandResponse{}, &calls.ProviderError{Message: msg}
	}
	if decodeErr != nil {
		return commandResponse{}, &calls.NetworkError{Err: fmt.Errorf("decode response: %w", decodeErr)}
	}
	if !resp.Success {
		return commandResponse{}, &calls.ProviderError{Message: resp.Message}
	}
	return resp, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// record hands the triple to the execution logger without blocking the
// command path. The logger's context outlives the command's deadline.
func (c *Client) record(ctx context.Context, tenantID, action string, req, resp any, opErr error, dur time.Duration) {
	if c.exec == nil || tenantID == "" {
		return
	}
	bg := context.WithoutCancel(ctx)
	go c.exec.Record(bg, tenantID, action, req, resp, opErr, dur)
}

func httpStatusMessage(code int, body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || len(trimmed) > 200 {
		return fmt.Sprintf("relay returned HTTP %d", code)
	}
	return fmt.Sprintf("relay returned HTTP %d: %s", code, trimmed)
}
