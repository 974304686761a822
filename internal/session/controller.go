package session

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"dialpoint/internal/calls"
	"dialpoint/internal/identity"
)

// Dispatcher issues imperative call-control commands to the relay.
// Implementations must be bounded by a timeout and must not retry;
// a duplicate origination is a correctness bug, not a resilience feature.
type Dispatcher interface {
	Originate(ctx context.Context, to, from, tenantID, userID string) (calls.OriginateResult, error)
	Hangup(ctx context.Context, providerCallID string) error
	Mute(ctx context.Context, providerCallID string) error
	Unmute(ctx context.Context, providerCallID string) error
	SendDigits(ctx context.Context, providerCallID, digits string) error
}

// IdentityResolver resolves the tenant's outbound caller number.
type IdentityResolver interface {
	Resolve(ctx context.Context, tenantID string) (identity.PhoneIdentity, error)
}

// ErrStopped is returned for operations posted after the controller shut down.
var ErrStopped = errors.New("session: controller stopped")

const defaultLinger = 3 * time.Second

// Config wires a controller's collaborators.
type Config struct {
	TenantID   string
	Dispatcher Dispatcher
	Identity   IdentityResolver
	Log        *slog.Logger

	// Linger is how long Disconnected stays visible before the session
	// resets to Idle. Zero means defaultLinger.
	Linger time.Duration

	// Clock is injectable for tests; nil means time.Now.
	Clock func() time.Time
}

// Controller owns the single call session for one tenant's dialer.
//
// Concurrency model: a single-writer actor. All mutations (local intents
// from the API and remote events from the reconciler) arrive as messages on
// one mailbox and are processed one at a time by the run loop. Commands are
// dispatched from inside the loop, so a blocking command delays later
// messages by at most the command timeout; that serialization is deliberate.
//
// Reads do not go through the mailbox: the loop publishes an immutable
// Snapshot after every mutation and Snapshot() loads it atomically.
type Controller struct {
	tenantID   string
	dispatcher Dispatcher
	identity   IdentityResolver
	log        *slog.Logger
	clock      func() time.Time
	linger     time.Duration

	mailbox chan envelope
	stopped chan struct{}
	stop    func()

	snap atomic.Value // Snapshot

	sess        session
	lingerTimer *time.Timer
}

type msgKind int

const (
	msgDial msgKind = iota
	msgHangup
	msgToggleMute
	msgSendDigits
	msgAnswer
	msgReject
	msgEvent
	msgLingerExpired
)

type envelope struct {
	kind msgKind
	ctx  context.Context

	toNumber    string
	contactName string
	userID      string
	digits      string

	event calls.StatusEvent

	lingerSeq uint64

	reply chan error
}

// New creates a controller and starts its run loop.
func New(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Linger <= 0 {
		cfg.Linger = defaultLinger
	}
	c := &Controller{
		tenantID:   cfg.TenantID,
		dispatcher: cfg.Dispatcher,
		identity:   cfg.Identity,
		log:        cfg.Log.With("tenant_id", cfg.TenantID),
		clock:      cfg.Clock,
		linger:     cfg.Linger,
		mailbox:    make(chan envelope, 16),
		stopped:    make(chan struct{}),
	}
	c.sess = session{state: StateIdle}
	c.publish()

	var once atomic.Bool
	c.stop = func() {
		if once.CompareAndSwap(false, true) {
			close(c.stopped)
		}
	}
	go c.run()
	return c
}

// Stop terminates the run loop. Pending callers receive ErrStopped.
func (c *Controller) Stop() { c.stop() }

// Snapshot returns the current session view without entering the mailbox.
func (c *Controller) Snapshot() Snapshot {
	return c.snap.Load().(Snapshot)
}

// Dial starts an outbound call to the given number.
// Fails with StateError if a session is live, IdentityError if no outbound
// number resolves, ProviderError/NetworkError from the originate dispatch.
func (c *Controller) Dial(ctx context.Context, toNumber, contactName, userID string) error {
	return c.post(ctx, envelope{kind: msgDial, toNumber: toNumber, contactName: contactName, userID: userID})
}

// Hangup ends the live call (or abandons a dial attempt).
func (c *Controller) Hangup(ctx context.Context) error {
	return c.post(ctx, envelope{kind: msgHangup})
}

// ToggleMute flips between Active and Muted. The flip is optimistic and is
// only reverted if the relay explicitly rejects the command.
func (c *Controller) ToggleMute(ctx context.Context) error {
	return c.post(ctx, envelope{kind: msgToggleMute})
}

// SendDigits sends DTMF digits; valid only while the call is up.
func (c *Controller) SendDigits(ctx context.Context, digits string) error {
	return c.post(ctx, envelope{kind: msgSendDigits, digits: digits})
}

// Answer accepts an inbound ringing call locally. Media setup happens on the
// device; the transition to Active is pending until the record confirms it.
func (c *Controller) Answer(ctx context.Context) error {
	return c.post(ctx, envelope{kind: msgAnswer})
}

// Reject declines an inbound ringing call. At the relay boundary a reject is
// just a hangup.
func (c *Controller) Reject(ctx context.Context) error {
	return c.post(ctx, envelope{kind: msgReject})
}

// ApplyEvent folds one authoritative change-feed event into the session.
// Dropped events return a ReconciliationError or StateError; callers log and
// count them, nothing propagates to the user.
func (c *Controller) ApplyEvent(ctx context.Context, ev calls.StatusEvent) error {
	return c.post(ctx, envelope{kind: msgEvent, event: ev})
}

func (c *Controller) post(ctx context.Context, env envelope) error {
	env.ctx = ctx
	env.reply = make(chan error, 1)
	select {
	case c.mailbox <- env:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
	select {
	case err := <-env.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
}

func (c *Controller) run() {
	for {
		select {
		case env := <-c.mailbox:
			c.handle(env)
		case <-c.stopped:
			if c.lingerTimer != nil {
				c.lingerTimer.Stop()
			}
			return
		}
	}
}

func (c *Controller) handle(env envelope) {
	var err error
	switch env.kind {
	case msgDial:
		err = c.handleDial(env.ctx, env.toNumber, env.contactName, env.userID)
	case msgHangup:
		err = c.handleHangup(env.ctx, "hangup")
	case msgToggleMute:
		err = c.handleToggleMute(env.ctx)
	case msgSendDigits:
		err = c.handleSendDigits(env.ctx, env.digits)
	case msgAnswer:
		err = c.handleAnswer()
	case msgReject:
		err = c.handleReject(env.ctx)
	case msgEvent:
		err = c.handleEvent(env.event)
	case msgLingerExpired:
		c.handleLingerExpired(env.lingerSeq)
	}
	if env.reply != nil {
		env.reply <- err
	}
}

func (c *Controller) handleDial(ctx context.Context, toNumber, contactName, userID string) error {
	switch c.sess.state {
	case StateIdle:
	case StateDisconnected:
		// A new dial clears the outcome display immediately.
		c.resetToIdle()
	default:
		return &calls.StateError{Op: "dial", State: string(c.sess.state)}
	}
	if toNumber == "" {
		return &calls.StateError{Op: "dial", State: "missing destination number"}
	}

	c.sess = session{state: StateConnecting}
	c.publish()

	ident, err := c.identity.Resolve(ctx, c.tenantID)
	if err != nil {
		c.resetToIdle()
		return err
	}
	if !ident.IsActive || ident.Number == "" {
		c.resetToIdle()
		return &calls.IdentityError{TenantID: c.tenantID}
	}

	// Optimistic transition: the session is Dialing before the relay answers.
	c.sess = session{
		state:             StateDialing,
		direction:         calls.DirectionOutbound,
		counterpartName:   contactName,
		counterpartNumber: toNumber,
		startedAt:         c.clock(),
	}
	c.publish()

	res, err := c.dispatcher.Originate(ctx, toNumber, ident.Number, c.tenantID, userID)
	var provider *calls.ProviderError
	switch {
	case err == nil:
		c.sess.providerCallID = res.ProviderCallID
		c.sess.callRecordID = res.CallRecordID
		c.publish()
		return nil
	case errors.As(err, &provider):
		// Explicit rejection: revert the optimistic session entirely.
		c.resetToIdle()
		return err
	default:
		// NetworkError (or cancellation): the call may or may not exist at
		// the carrier. No commitment beyond the already-applied Dialing; the
		// feed or a user hangup settles it.
		return err
	}
}

func (c *Controller) handleHangup(ctx context.Context, op string) error {
	switch c.sess.state {
	case StateDialing, StateRingingInbound, StateActive, StateMuted:
	default:
		return &calls.StateError{Op: op, State: string(c.sess.state)}
	}

	prevState := c.sess.state
	now := c.clock()

	// Optimistic: mark locally terminal before the relay confirms, so a
	// racing stale active event cannot resurrect the call.
	c.sess.state = StateDisconnected
	c.sess.localTerminalAt = now
	c.startLinger()
	c.publish()

	if c.sess.providerCallID == "" {
		// Nothing known to the relay yet (originate unacknowledged); local
		// clear is all there is to do.
		return nil
	}

	err := c.dispatcher.Hangup(ctx, c.sess.providerCallID)
	var provider *calls.ProviderError
	if errors.As(err, &provider) {
		// Relay refused: revert the optimistic disconnect.
		c.sess.state = prevState
		c.sess.localTerminalAt = time.Time{}
		c.cancelLinger()
		c.publish()
		return err
	}
	// nil or NetworkError: Disconnected stands; on timeout the feed has the
	// last word either way.
	return err
}

func (c *Controller) handleToggleMute(ctx context.Context) error {
	var target State
	var dispatch func(context.Context, string) error
	switch c.sess.state {
	case StateActive:
		target, dispatch = StateMuted, c.dispatcher.Mute
	case StateMuted:
		target, dispatch = StateActive, c.dispatcher.Unmute
	default:
		return &calls.StateError{Op: "mute", State: string(c.sess.state)}
	}

	prev := c.sess.state
	c.sess.state = target
	c.publish()

	if c.sess.providerCallID == "" {
		// Purely local session; mute is client-local anyway.
		return nil
	}

	err := dispatch(ctx, c.sess.providerCallID)
	var provider *calls.ProviderError
	if errors.As(err, &provider) {
		c.sess.state = prev
		c.publish()
		return err
	}
	return err
}

func (c *Controller) handleSendDigits(ctx context.Context, digits string) error {
	switch c.sess.state {
	case StateActive, StateMuted:
	default:
		return &calls.StateError{Op: "send_digits", State: string(c.sess.state)}
	}
	if digits == "" {
		return &calls.StateError{Op: "send_digits", State: "empty digits"}
	}
	// Side-effect only; no session mutation on any outcome.
	return c.dispatcher.SendDigits(ctx, c.sess.providerCallID, digits)
}

func (c *Controller) handleAnswer() error {
	if c.sess.state != StateRingingInbound {
		return &calls.StateError{Op: "answer", State: string(c.sess.state)}
	}
	c.sess.state = StateActive
	c.sess.answeredAt = c.clock()
	c.publish()
	return nil
}

func (c *Controller) handleReject(ctx context.Context) error {
	if c.sess.state != StateRingingInbound {
		return &calls.StateError{Op: "reject", State: string(c.sess.state)}
	}
	return c.handleHangup(ctx, "reject")
}

func (c *Controller) handleEvent(ev calls.StatusEvent) error {
	if !c.sess.state.live() {
		// No session: only an inbound ringing record opens one.
		if ev.Direction == calls.DirectionInbound &&
			(ev.Status == calls.CallStatusRinging || ev.Status == calls.CallStatusQueued) {
			c.sess = session{
				state:             StateRingingInbound,
				direction:         calls.DirectionInbound,
				counterpartNumber: ev.FromNumber,
				providerCallID:    ev.ProviderCallID,
				callRecordID:      ev.RecordID,
				startedAt:         c.clock(),
				confirmed:         ev.Status,
				lastEventAt:       ev.OccurredAt,
			}
			c.publish()
			return nil
		}
		return &calls.ReconciliationError{Reason: "no session for event"}
	}

	if c.sess.providerCallID == "" {
		// Originate not yet acknowledged. Bind the first outbound event for
		// the dialed number; anything else belongs to some other call.
		if c.sess.state == StateDialing &&
			ev.Direction == calls.DirectionOutbound &&
			ev.ToNumber == c.sess.counterpartNumber {
			c.sess.providerCallID = ev.ProviderCallID
			c.sess.callRecordID = ev.RecordID
		} else {
			return &calls.ReconciliationError{Reason: "unbound session, event does not match dial"}
		}
	} else if ev.ProviderCallID != c.sess.providerCallID {
		// Exactly one session per dialer: a second call is rejected, not
		// queued, whatever its status.
		return &calls.ReconciliationError{Reason: "event for different call"}
	}

	if !c.sess.lastEventAt.IsZero() && ev.OccurredAt.Before(c.sess.lastEventAt) {
		return &calls.ReconciliationError{Reason: "older than last applied event"}
	}

	if !c.sess.localTerminalAt.IsZero() && !ev.Status.Terminal() &&
		!ev.OccurredAt.After(c.sess.localTerminalAt) {
		// The user already hung up locally; only a strictly newer
		// authoritative status may revive the call.
		return &calls.ReconciliationError{Reason: "call locally terminal"}
	}

	c.sess.lastEventAt = ev.OccurredAt
	c.sess.confirmed = ev.Status
	if c.sess.callRecordID == "" {
		c.sess.callRecordID = ev.RecordID
	}

	switch ev.Status {
	case calls.CallStatusQueued:
		// Pre-ring; current state stands.
	case calls.CallStatusRinging:
		if c.sess.direction == calls.DirectionInbound {
			switch c.sess.state {
			case StateActive, StateMuted:
				// Stale ring after pickup; confirmed status updated above.
			default:
				c.sess.state = StateRingingInbound
			}
		}
		// Outbound ring keeps Dialing.
	case calls.CallStatusActive:
		if c.sess.answeredAt.IsZero() {
			c.sess.answeredAt = ev.OccurredAt
		}
		if c.sess.state != StateMuted {
			c.sess.state = StateActive
		}
		// An authoritative active supersedes a local hangup intent it
		// postdates.
		c.sess.localTerminalAt = time.Time{}
		c.cancelLinger()
	case calls.CallStatusCompleted, calls.CallStatusFailed, calls.CallStatusCanceled:
		if c.sess.state != StateDisconnected {
			c.sess.state = StateDisconnected
			c.startLinger()
		}
	default:
		return &calls.ReconciliationError{Reason: "unknown status " + string(ev.Status)}
	}
	c.publish()
	return nil
}

func (c *Controller) handleLingerExpired(seq uint64) {
	if c.sess.state == StateDisconnected && c.sess.lingerSeq == seq {
		c.resetToIdle()
	}
}

func (c *Controller) startLinger() {
	c.sess.lingerSeq++
	seq := c.sess.lingerSeq
	if c.lingerTimer != nil {
		c.lingerTimer.Stop()
	}
	c.lingerTimer = time.AfterFunc(c.linger, func() {
		select {
		case c.mailbox <- envelope{kind: msgLingerExpired, lingerSeq: seq}:
		case <-c.stopped:
		}
	})
}

func (c *Controller) cancelLinger() {
	c.sess.lingerSeq++
	if c.lingerTimer != nil {
		c.lingerTimer.Stop()
		c.lingerTimer = nil
	}
}

func (c *Controller) resetToIdle() {
	c.cancelLinger()
	c.sess = session{state: StateIdle}
	c.publish()
}

func (c *Controller) publish() {
	c.snap.Store(c.sess.snapshot(c.clock()))
}
