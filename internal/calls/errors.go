package calls

import "fmt"

// Call-control error taxonomy.
//
// Propagation policy:
// - IdentityError, ProviderError, NetworkError surface to the user with an
//   actionable message.
// - StateError and ReconciliationError are self-recovered: the operation is a
//   no-op, the current session state is preserved, and the error is only
//   logged.

// IdentityError means no outbound caller number could be resolved for the
// tenant. Dialing is blocked; there is no silent default number.
type IdentityError struct {
	TenantID string
}

func (e *IdentityError) Error() string {
	return fmt.Sprintf("calls: no active outbound number for tenant %s", e.TenantID)
}

// ProviderError means the relay (or the carrier behind it) explicitly
// rejected a command. Any optimistic local-only change is reverted.
type ProviderError struct {
	Action  string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("calls: relay rejected %s", e.Action)
	}
	return fmt.Sprintf("calls: relay rejected %s: %s", e.Action, e.Message)
}

// NetworkError means a command request failed or timed out before the relay
// produced a verdict. The caller must not assume the command succeeded.
type NetworkError struct {
	Action string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("calls: %s request failed: %v", e.Action, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// StateError means an operation was attempted from a session state that does
// not permit it. The session is left untouched.
type StateError struct {
	Op    string
	State string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("calls: %s not allowed in state %q", e.Op, e.State)
}

// ReconciliationError marks a change-feed event that was dropped: wrong
// tenant, wrong call, malformed payload, or older than what was already
// applied. It never propagates past the reconciler.
type ReconciliationError struct {
	Reason string
}

func (e *ReconciliationError) Error() string {
	return "calls: event dropped: " + e.Reason
}
