package calls

import (
	"errors"
	"testing"
)

func TestCallStatus_Terminal(t *testing.T) {
	for _, s := range []CallStatus{CallStatusCompleted, CallStatusFailed, CallStatusCanceled} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []CallStatus{CallStatusQueued, CallStatusRinging, CallStatusActive} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestCallStatus_Valid(t *testing.T) {
	if CallStatus("warbling").Valid() {
		t.Fatalf("unknown status must not validate")
	}
	if !CallStatusActive.Valid() {
		t.Fatalf("active must validate")
	}
}

func TestNetworkError_Unwraps(t *testing.T) {
	inner := errors.New("connection refused")
	err := &NetworkError{Action: "relay.hangup", Err: inner}
	if !errors.Is(err, inner) {
		t.Fatalf("expected unwrap to inner error")
	}
}

func TestErrorMessages(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&IdentityError{TenantID: "tn-1"}, "calls: no active outbound number for tenant tn-1"},
		{&ProviderError{Action: "relay.mute", Message: "call not found"}, "calls: relay rejected relay.mute: call not found"},
		{&StateError{Op: "dial", State: "active"}, `calls: dial not allowed in state "active"`},
		{&ReconciliationError{Reason: "event for different call"}, "calls: event dropped: event for different call"},
	}
	for _, c := range cases {
		if got := c.err.Error(); got != c.want {
			t.Fatalf("got %q, want %q", got, c.want)
		}
	}
}
