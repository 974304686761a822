package session

import (
	"time"

	"dialpoint/internal/calls"
)

// State is the dialer-visible call state. The set is closed; every
// transition site switches over it exhaustively.
type State string

const (
	// StateIdle: no session. Entry point and terminal reset target.
	StateIdle State = "idle"
	// StateConnecting: outbound identity bootstrap in progress; no session yet.
	StateConnecting State = "connecting"
	// StateDialing: originate sent (or sending), awaiting the first
	// authoritative status.
	StateDialing State = "dialing"
	// StateRingingInbound: an inbound record in ringing status was observed
	// with no local action yet.
	StateRingingInbound State = "ringing_inbound"
	// StateActive: the authoritative record says the call is up.
	StateActive State = "active"
	// StateMuted is a local-only refinement of Active. The authoritative
	// record does not track mute, so a reconciled active event after a
	// reconnect lands in Active, not Muted.
	StateMuted State = "muted"
	// StateDisconnected: the record reached a terminal status (or the user
	// hung up locally). Transient; auto-resets to Idle after the display
	// linger, or immediately on a new dial.
	StateDisconnected State = "disconnected"
)

// live reports whether a session exists in this state.
func (s State) live() bool {
	switch s {
	case StateIdle, StateConnecting:
		return false
	}
	return true
}

// Snapshot is a read-only copy of the session for the UI and the API.
//
// State is the pending local view (optimistic transitions included);
// ConfirmedStatus is the last reconciled record status. The two are exposed
// separately so both phases of an optimistic update can be observed.
type Snapshot struct {
	State           State            `json:"state"`
	ConfirmedStatus calls.CallStatus `json:"confirmed_status,omitempty"`

	Direction         calls.Direction `json:"direction,omitempty"`
	CounterpartName   string          `json:"counterpart_name,omitempty"`
	CounterpartNumber string          `json:"counterpart_number,omitempty"`

	ProviderCallID string `json:"call_sid,omitempty"`
	CallRecordID   string `json:"call_record_id,omitempty"`

	StartedAt       time.Time `json:"started_at,omitempty"`
	DurationSeconds int       `json:"duration_seconds"`
}

// session is the single mutable call session. It is owned exclusively by the
// controller goroutine; nothing outside the actor loop touches it.
type session struct {
	state State

	direction         calls.Direction
	counterpartName   string
	counterpartNumber string

	providerCallID string
	callRecordID   string

	startedAt  time.Time
	answeredAt time.Time

	// confirmed is the last reconciled record status; empty until the first
	// event for this call is applied.
	confirmed calls.CallStatus

	// lastEventAt is the OccurredAt of the last applied event for this call.
	// Older events are dropped, whatever their arrival order.
	lastEventAt time.Time

	// localTerminalAt is set when a local hangup was applied before the
	// record confirmed it. An authoritative active event only revives the
	// session if it is strictly newer than this instant.
	localTerminalAt time.Time

	// lingerSeq invalidates stale display-linger timers.
	lingerSeq uint64
}

func (s *session) snapshot(now time.Time) Snapshot {
	snap := Snapshot{
		State:             s.state,
		ConfirmedStatus:   s.confirmed,
		Direction:         s.direction,
		CounterpartName:   s.counterpartName,
		CounterpartNumber: s.counterpartNumber,
		ProviderCallID:    s.providerCallID,
		CallRecordID:      s.callRecordID,
		StartedAt:         s.startedAt,
	}
	if !s.answeredAt.IsZero() && now.After(s.answeredAt) {
		snap.DurationSeconds = int(now.Sub(s.answeredAt) / time.Second)
	}
	return snap
}
