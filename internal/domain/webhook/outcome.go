package webhook

import "net/http"

// State is a step of the per-delivery state machine:
// received → verified → routed → handled | rejected
type State string

const (
	StateReceived State = "received"
	StateVerified State = "verified"
	StateRouted   State = "routed"
	StateHandled  State = "handled"
	StateRejected State = "rejected"
)

// Reason explains why a delivery ended in the rejected state
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonMalformed        Reason = "malformed"
	ReasonInvalidSignature Reason = "invalid_signature"
	ReasonNoHandler        Reason = "no_handler"
	ReasonHandlerFailure   Reason = "handler_failure"
	ReasonDuplicate        Reason = "duplicate"
)

// Outcome is the terminal result of a dispatch
type Outcome struct {
	State  State
	Reason Reason
	Err    error
	// Reached is the last intermediate state the delivery passed
	Reached State
}

// Handled returns a successful outcome. A duplicate delivery is handled
// without re-running handlers.
func Handled(reason Reason) Outcome {
	return Outcome{State: StateHandled, Reason: reason}
}

// Rejected returns a failed outcome
func Rejected(reason Reason, err error) Outcome {
	return Outcome{State: StateRejected, Reason: reason, Err: err}
}

// StatusCode maps the outcome to the HTTP status returned to the platform.
// Handler failures are 5xx so the platform retries the delivery.
func (o Outcome) StatusCode() int {
	if o.State == StateHandled {
		return http.StatusOK
	}
	switch o.Reason {
	case ReasonMalformed:
		return http.StatusBadRequest
	case ReasonInvalidSignature:
		return http.StatusUnauthorized
	case ReasonNoHandler:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Label is the metric label of the outcome
func (o Outcome) Label() string {
	if o.State == StateHandled {
		if o.Reason == ReasonDuplicate {
			return string(ReasonDuplicate)
		}
		return string(StateHandled)
	}
	return string(o.Reason)
}
