package payment

import "fmt"

// Status is the persisted settlement status of a payment. The set is closed:
// every consumer branches exhaustively so that a new value forces a review
// of each branch point.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusProcessing Status = "PROCESSING"
	StatusAuthorized Status = "AUTHORIZED"
	StatusCapturing  Status = "CAPTURING"
	StatusCompleted  Status = "COMPLETED"
	StatusAborted    Status = "ABORTED"
	StatusExpired    Status = "EXPIRED"
	StatusFailed     Status = "FAILED"
)

// rank orders the non-terminal states along the success path. Terminal
// states have no rank; they are handled by Terminal.
var rank = map[Status]int{
	StatusCreated:    0,
	StatusProcessing: 1,
	StatusAuthorized: 2,
	StatusCapturing:  3,
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusAborted, StatusExpired, StatusFailed:
		return true
	case StatusCreated, StatusProcessing, StatusAuthorized, StatusCapturing:
		return false
	}
	return false
}

// CanTransition reports whether moving from one status to another preserves
// monotonicity: a terminal status never changes, and non-terminal statuses
// only move forward or to a terminal status.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if from.Terminal() {
		return false
	}
	if to.Terminal() {
		return true
	}
	return rank[to] > rank[from]
}

// ProviderStatus is the provider's vocabulary for a payment's state,
// normalized from the raw response before it reaches the state machine.
type ProviderStatus string

const (
	ProviderCreated    ProviderStatus = "CREATED"
	ProviderAuthorized ProviderStatus = "AUTHORIZED"
	ProviderAborted    ProviderStatus = "ABORTED"
	ProviderExpired    ProviderStatus = "EXPIRED"
	ProviderTerminated ProviderStatus = "TERMINATED"
	ProviderUnknown    ProviderStatus = "UNKNOWN"
)

// NormalizeProviderStatus maps a raw provider state string into the closed
// ProviderStatus set. Unrecognized values map to ProviderUnknown so callers
// surface them instead of silently treating them as terminal.
func NormalizeProviderStatus(raw string) ProviderStatus {
	switch ProviderStatus(raw) {
	case ProviderCreated, ProviderAuthorized, ProviderAborted, ProviderExpired, ProviderTerminated:
		return ProviderStatus(raw)
	}
	return ProviderUnknown
}

// FromProvider maps a provider status onto the internal status a payment
// should hold once that provider status has been fully acted upon.
func FromProvider(ps ProviderStatus) (Status, error) {
	switch ps {
	case ProviderCreated:
		return StatusProcessing, nil
	case ProviderAuthorized:
		return StatusAuthorized, nil
	case ProviderAborted, ProviderTerminated:
		return StatusAborted, nil
	case ProviderExpired:
		return StatusExpired, nil
	}
	return "", fmt.Errorf("unrecognized provider status %q", ps)
}
