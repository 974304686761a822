package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dialpoint/internal/calls"
	"dialpoint/internal/identity"
)

type fakeDispatcher struct {
	mu         sync.Mutex
	originates int
	hangups    int
	mutes      int
	unmutes    int
	digits     []string

	originateErr error
	hangupErr    error
	muteErr      error
	unmuteErr    error
	digitsErr    error

	result calls.OriginateResult
}

func (d *fakeDispatcher) Originate(ctx context.Context, to, from, tenantID, userID string) (calls.OriginateResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.originates++
	if d.originateErr != nil {
		return calls.OriginateResult{}, d.originateErr
	}
	return d.result, nil
}

func (d *fakeDispatcher) Hangup(ctx context.Context, sid string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hangups++
	return d.hangupErr
}

func (d *fakeDispatcher) Mute(ctx context.Context, sid string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mutes++
	return d.muteErr
}

func (d *fakeDispatcher) Unmute(ctx context.Context, sid string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unmutes++
	return d.unmuteErr
}

func (d *fakeDispatcher) SendDigits(ctx context.Context, sid, digits string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.digits = append(d.digits, digits)
	return d.digitsErr
}

func (d *fakeDispatcher) originateCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.originates
}

type fakeIdentity struct {
	ident identity.PhoneIdentity
	err   error
}

func (f *fakeIdentity) Resolve(ctx context.Context, tenantID string) (identity.PhoneIdentity, error) {
	if f.err != nil {
		return identity.PhoneIdentity{}, f.err
	}
	return f.ident, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestController(t *testing.T, d Dispatcher, clk *testClock, linger time.Duration) *Controller {
	t.Helper()
	if linger <= 0 {
		linger = time.Minute
	}
	c := New(Config{
		TenantID:   "tn-1",
		Dispatcher: d,
		Identity:   &fakeIdentity{ident: identity.PhoneIdentity{Number: "+15550001111", TenantID: "tn-1", IsActive: true}},
		Linger:     linger,
		Clock:      clk.Now,
	})
	t.Cleanup(c.Stop)
	return c
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Snapshot().State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %q, stuck at %q", want, c.Snapshot().State)
}

func mustDial(t *testing.T, c *Controller) {
	t.Helper()
	if err := c.Dial(context.Background(), "+15552223333", "Ada", "user-1"); err != nil {
		t.Fatalf("dial: %v", err)
	}
}

func baseTime() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestDial_TransitionsToDialingAndBindsSid(t *testing.T) {
	d := &fakeDispatcher{result: calls.OriginateResult{ProviderCallID: "CA1", CallRecordID: "rec-1"}}
	clk := &testClock{now: baseTime()}
	c := newTestController(t, d, clk, 0)

	mustDial(t, c)

	snap := c.Snapshot()
	if snap.State != StateDialing {
		t.Fatalf("expected dialing, got %q", snap.State)
	}
	if snap.ProviderCallID != "CA1" || snap.CallRecordID != "rec-1" {
		t.Fatalf("expected bound call ids, got %+v", snap)
	}
	if snap.Direction != calls.DirectionOutbound || snap.CounterpartNumber != "+15552223333" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestDial_RejectedWhileSessionLive(t *testing.T) {
	d := &fakeDispatcher{result: calls.OriginateResult{ProviderCallID: "CA1"}}
	clk := &testClock{now: baseTime()}
	c := newTestController(t, d, clk, 0)

	mustDial(t, c)

	err := c.Dial(context.Background(), "+15559998888", "", "user-1")
	var stateErr *calls.StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected StateError, got %v", err)
	}
	if d.originateCount() != 1 {
		t.Fatalf("expected a single originate, got %d", d.originateCount())
	}
	if got := c.Snapshot().CounterpartNumber; got != "+15552223333" {
		t.Fatalf("first call should be untouched, got counterpart %q", got)
	}
}

func TestDial_FailsClosedWithoutActiveNumber(t *testing.T) {
	d := &fakeDispatcher{}
	clk := &testClock{now: baseTime()}
	c := New(Config{
		TenantID:   "tn-1",
		Dispatcher: d,
		Identity:   &fakeIdentity{err: &calls.IdentityError{TenantID: "tn-1"}},
		Clock:      clk.Now,
	})
	t.Cleanup(c.Stop)

	err := c.Dial(context.Background(), "+15552223333", "", "user-1")
	var identityErr *calls.IdentityError
	if !errors.As(err, &identityErr) {
		t.Fatalf("expected IdentityError, got %v", err)
	}
	if d.originateCount() != 0 {
		t.Fatalf("must not originate without an identity")
	}
	if got := c.Snapshot().State; got != StateIdle {
		t.Fatalf("expected idle after failed bootstrap, got %q", got)
	}
}

func TestDial_ProviderRejectionResetsToIdle(t *testing.T) {
	d := &fakeDispatcher{originateErr: &calls.ProviderError{Action: "relay.originate", Message: "no balance"}}
	clk := &testClock{now: baseTime()}
	c := newTestController(t, d, clk, 0)

	err := c.Dial(context.Background(), "+15552223333", "", "user-1")
	var providerErr *calls.ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if got := c.Snapshot().State; got != StateIdle {
		t.Fatalf("expected idle after rejection, got %q", got)
	}
}

func TestDial_NetworkErrorKeepsDialingWithoutRetry(t *testing.T) {
	d := &fakeDispatcher{originateErr: &calls.NetworkError{Action: "relay.originate", Err: errors.New("timeout")}}
	clk := &testClock{now: baseTime()}
	c := newTestController(t, d, clk, 0)

	err := c.Dial(context.Background(), "+15552223333", "", "user-1")
	var networkErr *calls.NetworkError
	if !errors.As(err, &networkErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	// The call may exist at the carrier; state stays dialing, nothing retries.
	if got := c.Snapshot().State; got != StateDialing {
		t.Fatalf("expected dialing after timeout, got %q", got)
	}
	if d.originateCount() != 1 {
		t.Fatalf("expected exactly one originate, got %d", d.originateCount())
	}
}

func TestHangup_OptimisticThenIdleAfterLinger(t *testing.T) {
	d := &fakeDispatcher{result: calls.OriginateResult{ProviderCallID: "CA1"}}
	clk := &testClock{now: baseTime()}
	c := newTestController(t, d, clk, 20*time.Millisecond)

	mustDial(t, c)
	if err := c.Hangup(context.Background()); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if got := c.Snapshot().State; got != StateDisconnected {
		t.Fatalf("expected disconnected, got %q", got)
	}
	waitForState(t, c, StateIdle)
}

func TestHangup_ProviderRejectionReverts(t *testing.T) {
	d := &fakeDispatcher{
		result:    calls.OriginateResult{ProviderCallID: "CA1"},
		hangupErr: &calls.ProviderError{Action: "relay.hangup", Message: "not found"},
	}
	clk := &testClock{now: baseTime()}
	c := newTestController(t, d, clk, 0)

	mustDial(t, c)
	err := c.Hangup(context.Background())
	var providerErr *calls.ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if got := c.Snapshot().State; got != StateDialing {
		t.Fatalf("expected revert to dialing, got %q", got)
	}
}

func TestHangup_WithoutSidIsLocalOnly(t *testing.T) {
	d := &fakeDispatcher{originateErr: &calls.NetworkError{Err: errors.New("timeout")}}
	clk := &testClock{now: baseTime()}
	c := newTestController(t, d, clk, 0)

	_ = c.Dial(context.Background(), "+15552223333", "", "user-1")
	if err := c.Hangup(context.Background()); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if d.hangups != 0 {
		t.Fatalf("no hangup command without a bound sid")
	}
	if got := c.Snapshot().State; got != StateDisconnected {
		t.Fatalf("expected disconnected, got %q", got)
	}
}

func TestToggleMute_FlipsAndReverts(t *testing.T) {
	d := &fakeDispatcher{result: calls.OriginateResult{ProviderCallID: "CA1"}}
	clk := &testClock{now: baseTime()}
	c := newTestController(t, d, clk, 0)

	mustDial(t, c)
	activeAt(t, c, clk, "CA1", time.Second)

	if err := c.ToggleMute(context.Background()); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if got := c.Snapshot().State; got != StateMuted {
		t.Fatalf("expected muted, got %q", got)
	}

	d.mu.Lock()
	d.unmuteErr = &calls.ProviderError{Action: "relay.unmute", Message: "nope"}
	d.mu.Unlock()

	err := c.ToggleMute(context.Background())
	var providerErr *calls.ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if got := c.Snapshot().State; got != StateMuted {
		t.Fatalf("expected revert to muted, got %q", got)
	}
}

func TestSendDigits_OnlyWhileCallUp(t *testing.T) {
	d := &fakeDispatcher{result: calls.OriginateResult{ProviderCallID: "CA1"}}
	clk := &testClock{now: baseTime()}
	c := newTestController(t, d, clk, 0)

	err := c.SendDigits(context.Background(), "123")
	var stateErr *calls.StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected StateError while idle, got %v", err)
	}

	mustDial(t, c)
	activeAt(t, c, clk, "CA1", time.Second)

	if err := c.SendDigits(context.Background(), "123#"); err != nil {
		t.Fatalf("digits: %v", err)
	}
	if len(d.digits) != 1 || d.digits[0] != "123#" {
		t.Fatalf("expected digits dispatched, got %v", d.digits)
	}
	if got := c.Snapshot().State; got != StateActive {
		t.Fatalf("digits must not mutate state, got %q", got)
	}
}

func TestEvent_InboundRingingOpensSession(t *testing.T) {
	d := &fakeDispatcher{}
	clk := &testClock{now: baseTime()}
	c := newTestController(t, d, clk, 0)

	ev := calls.StatusEvent{
		RecordID:       "rec-9",
		TenantID:       "tn-1",
		ProviderCallID: "CA9",
		Status:         calls.CallStatusRinging,
		Direction:      calls.DirectionInbound,
		FromNumber:     "+15554443333",
		OccurredAt:     baseTime(),
	}
	if err := c.ApplyEvent(context.Background(), ev); err != nil {
		t.Fatalf("apply: %v", err)
	}
	snap := c.Snapshot()
	if snap.State != StateRingingInbound || snap.CounterpartNumber != "+15554443333" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestEvent_NonRingingWithoutSessionDropped(t *testing.T) {
	d := &fakeDispatcher{}
	clk := &testClock{now: baseTime()}
	c := newTestController(t, d, clk, 0)

	ev := calls.StatusEvent{
		TenantID:       "tn-1",
		ProviderCallID: "CA9",
		Status:         calls.CallStatusActive,
		Direction:      calls.DirectionInbound,
		OccurredAt:     baseTime(),
	}
	err := c.ApplyEvent(context.Background(), ev)
	var reconErr *calls.ReconciliationError
	if !errors.As(err, &reconErr) {
		t.Fatalf("expected ReconciliationError, got %v", err)
	}
	if got := c.Snapshot().State; got != StateIdle {
		t.Fatalf("expected idle, got %q", got)
	}
}

func TestEvent_DifferentCallRejected(t *testing.T) {
	d := &fakeDispatcher{result: calls.OriginateResult{ProviderCallID: "CA1"}}
	clk := &testClock{now: baseTime()}
	c := newTestController(t, d, clk, 0)

	mustDial(t, c)
	ev := calls.StatusEvent{
		TenantID:       "tn-1",
		ProviderCallID: "CA-other",
		Status:         calls.CallStatusRinging,
		Direction:      calls.DirectionInbound,
		OccurredAt:     baseTime(),
	}
	err := c.ApplyEvent(context.Background(), ev)
	var reconErr *calls.ReconciliationError
	if !errors.As(err, &reconErr) {
		t.Fatalf("expected ReconciliationError, got %v", err)
	}
	if got := c.Snapshot().ProviderCallID; got != "CA1" {
		t.Fatalf("session hijacked by foreign event: %q", got)
	}
}

func TestEvent_BindsUnacknowledgedDial(t *testing.T) {
	d := &fakeDispatcher{originateErr: &calls.NetworkError{Err: errors.New("timeout")}}
	clk := &testClock{now: baseTime()}
	c := newTestController(t, d, clk, 0)

	_ = c.Dial(context.Background(), "+15552223333", "", "user-1")

	ev := calls.StatusEvent{
		RecordID:       "rec-5",
		TenantID:       "tn-1",
		ProviderCallID: "CA5",
		Status:         calls.CallStatusRinging,
		Direction:      calls.DirectionOutbound,
		ToNumber:       "+15552223333",
		OccurredAt:     baseTime().Add(time.Second),
	}
	if err := c.ApplyEvent(context.Background(), ev); err != nil {
		t.Fatalf("apply: %v", err)
	}
	snap := c.Snapshot()
	if snap.ProviderCallID != "CA5" || snap.CallRecordID != "rec-5" {
		t.Fatalf("expected event to bind the dial, got %+v", snap)
	}
	if snap.State != StateDialing {
		t.Fatalf("outbound ringing keeps dialing, got %q", snap.State)
	}
}

func TestEvent_OlderThanLastAppliedDropped(t *testing.T) {
	d := &fakeDispatcher{result: calls.OriginateResult{ProviderCallID: "CA1"}}
	clk := &testClock{now: baseTime()}
	c := newTestController(t, d, clk, 0)

	mustDial(t, c)
	activeAt(t, c, clk, "CA1", 10*time.Second)

	stale := calls.StatusEvent{
		TenantID:       "tn-1",
		ProviderCallID: "CA1",
		Status:         calls.CallStatusRinging,
		Direction:      calls.DirectionOutbound,
		OccurredAt:     baseTime().Add(5 * time.Second),
	}
	err := c.ApplyEvent(context.Background(), stale)
	var reconErr *calls.ReconciliationError
	if !errors.As(err, &reconErr) {
		t.Fatalf("expected ReconciliationError, got %v", err)
	}
	if got := c.Snapshot().State; got != StateActive {
		t.Fatalf("stale event must not regress state, got %q", got)
	}
}

func TestEvent_DuplicateTimestampIsIdempotent(t *testing.T) {
	d := &fakeDispatcher{result: calls.OriginateResult{ProviderCallID: "CA1"}}
	clk := &testClock{now: baseTime()}
	c := newTestController(t, d, clk, 0)

	mustDial(t, c)
	activeAt(t, c, clk, "CA1", 10*time.Second)
	activeAt(t, c, clk, "CA1", 10*time.Second)

	if got := c.Snapshot().State; got != StateActive {
		t.Fatalf("expected active, got %q", got)
	}
}

func TestEvent_LateActiveAfterLocalHangup_NewerRevives(t *testing.T) {
	d := &fakeDispatcher{result: calls.OriginateResult{ProviderCallID: "CA1"}}
	clk := &testClock{now: baseTime()}
	c := newTestController(t, d, clk, 0)

	mustDial(t, c)
	clk.Advance(10 * time.Second)
	if err := c.Hangup(context.Background()); err != nil {
		t.Fatalf("hangup: %v", err)
	}

	// An authoritative active strictly newer than the local hangup wins.
	revive := calls.StatusEvent{
		TenantID:       "tn-1",
		ProviderCallID: "CA1",
		Status:         calls.CallStatusActive,
		Direction:      calls.DirectionOutbound,
		OccurredAt:     baseTime().Add(15 * time.Second),
	}
	if err := c.ApplyEvent(context.Background(), revive); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := c.Snapshot().State; got != StateActive {
		t.Fatalf("expected revived active, got %q", got)
	}
}

func TestEvent_LateActiveAfterLocalHangup_OlderDropped(t *testing.T) {
	d := &fakeDispatcher{result: calls.OriginateResult{ProviderCallID: "CA1"}}
	clk := &testClock{now: baseTime()}
	c := newTestController(t, d, clk, 0)

	mustDial(t, c)
	clk.Advance(10 * time.Second)
	if err := c.Hangup(context.Background()); err != nil {
		t.Fatalf("hangup: %v", err)
	}

	// A stray active predating the hangup must not resurrect the call.
	stray := calls.StatusEvent{
		TenantID:       "tn-1",
		ProviderCallID: "CA1",
		Status:         calls.CallStatusActive,
		Direction:      calls.DirectionOutbound,
		OccurredAt:     baseTime().Add(5 * time.Second),
	}
	err := c.ApplyEvent(context.Background(), stray)
	var reconErr *calls.ReconciliationError
	if !errors.As(err, &reconErr) {
		t.Fatalf("expected ReconciliationError, got %v", err)
	}
	if got := c.Snapshot().State; got != StateDisconnected {
		t.Fatalf("expected disconnected to stand, got %q", got)
	}
}

func TestEvent_ActiveKeepsLocalMute(t *testing.T) {
	d := &fakeDispatcher{result: calls.OriginateResult{ProviderCallID: "CA1"}}
	clk := &testClock{now: baseTime()}
	c := newTestController(t, d, clk, 0)

	mustDial(t, c)
	activeAt(t, c, clk, "CA1", time.Second)
	if err := c.ToggleMute(context.Background()); err != nil {
		t.Fatalf("mute: %v", err)
	}

	activeAt(t, c, clk, "CA1", 2*time.Second)
	if got := c.Snapshot().State; got != StateMuted {
		t.Fatalf("reconciled active must not unmute, got %q", got)
	}
}

func TestEvent_TerminalDisconnectsThenIdle(t *testing.T) {
	d := &fakeDispatcher{result: calls.OriginateResult{ProviderCallID: "CA1"}}
	clk := &testClock{now: baseTime()}
	c := newTestController(t, d, clk, 20*time.Millisecond)

	mustDial(t, c)
	activeAt(t, c, clk, "CA1", time.Second)

	done := calls.StatusEvent{
		TenantID:       "tn-1",
		ProviderCallID: "CA1",
		Status:         calls.CallStatusCompleted,
		Direction:      calls.DirectionOutbound,
		OccurredAt:     baseTime().Add(30 * time.Second),
	}
	if err := c.ApplyEvent(context.Background(), done); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := c.Snapshot().State; got != StateDisconnected {
		t.Fatalf("expected disconnected, got %q", got)
	}
	waitForState(t, c, StateIdle)
}

func TestAnswerAndReject(t *testing.T) {
	d := &fakeDispatcher{}
	clk := &testClock{now: baseTime()}
	c := newTestController(t, d, clk, 0)

	if err := c.Answer(context.Background()); err == nil {
		t.Fatalf("answer without ringing must fail")
	}

	ring := calls.StatusEvent{
		TenantID:       "tn-1",
		ProviderCallID: "CA7",
		Status:         calls.CallStatusRinging,
		Direction:      calls.DirectionInbound,
		FromNumber:     "+15554443333",
		OccurredAt:     baseTime(),
	}
	if err := c.ApplyEvent(context.Background(), ring); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := c.Answer(context.Background()); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if got := c.Snapshot().State; got != StateActive {
		t.Fatalf("expected active after answer, got %q", got)
	}
	if d.hangups != 0 {
		t.Fatalf("answer must not dispatch commands")
	}
}

func TestReject_HangsUpRingingInbound(t *testing.T) {
	d := &fakeDispatcher{}
	clk := &testClock{now: baseTime()}
	c := newTestController(t, d, clk, 0)

	ring := calls.StatusEvent{
		TenantID:       "tn-1",
		ProviderCallID: "CA7",
		Status:         calls.CallStatusRinging,
		Direction:      calls.DirectionInbound,
		OccurredAt:     baseTime(),
	}
	if err := c.ApplyEvent(context.Background(), ring); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := c.Reject(context.Background()); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if d.hangups != 1 {
		t.Fatalf("reject should hang up at the relay, got %d", d.hangups)
	}
	if got := c.Snapshot().State; got != StateDisconnected {
		t.Fatalf("expected disconnected, got %q", got)
	}
}

func TestStop_PendingCallersGetErrStopped(t *testing.T) {
	d := &fakeDispatcher{}
	clk := &testClock{now: baseTime()}
	c := newTestController(t, d, clk, 0)

	c.Stop()
	if err := c.Dial(context.Background(), "+15552223333", "", "user-1"); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

// activeAt applies an authoritative active event at base+offset.
func activeAt(t *testing.T, c *Controller, clk *testClock, sid string, offset time.Duration) {
	t.Helper()
	ev := calls.StatusEvent{
		TenantID:       "tn-1",
		ProviderCallID: sid,
		Status:         calls.CallStatusActive,
		Direction:      calls.DirectionOutbound,
		OccurredAt:     baseTime().Add(offset),
	}
	if err := c.ApplyEvent(context.Background(), ev); err != nil {
		t.Fatalf("apply active: %v", err)
	}
	if got := c.Snapshot().State; got != StateActive && got != StateMuted {
		t.Fatalf("expected active/muted after event, got %q", got)
	}
}
