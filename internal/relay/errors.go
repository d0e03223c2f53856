package relay

import (
	"errors"
	"fmt"
)

// Fault represents a relay-internal failure reported to a caller.
//
// Liveness problems (a registered channel turning out to be dead) are NOT
// faults: they are handled inside the relay by eviction and rerouting, and
// the caller still sees success. Faults cover the cases the relay cannot
// absorb:
//   - Malformed message: missing sender or recipient
//   - Invalid registration: nil channel or empty process id
//   - Relay closed: operation after shutdown
//
// Faults are never retried by the relay.
type Fault struct {
	// Code identifies the fault category.
	Code FaultCode

	// Message is a human-readable description.
	Message string

	// Recipient identifies the affected recipient, when known.
	Recipient string
}

// FaultCode categorizes relay faults.
type FaultCode string

const (
	// FaultMalformedMessage indicates a message missing required fields.
	FaultMalformedMessage FaultCode = "MALFORMED_MESSAGE"

	// FaultInvalidRegistration indicates a bad RegisterStream call.
	FaultInvalidRegistration FaultCode = "INVALID_REGISTRATION"

	// FaultRelayClosed indicates an operation against a shut-down relay.
	FaultRelayClosed FaultCode = "RELAY_CLOSED"
)

// Error implements the error interface.
func (e *Fault) Error() string {
	if e.Recipient != "" {
		return fmt.Sprintf("%s: %s (recipient=%s)", e.Code, e.Message, e.Recipient)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsMalformed returns true if the error is a malformed-message fault.
// Uses errors.As to handle wrapped errors.
func IsMalformed(err error) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code == FaultMalformedMessage
	}
	return false
}

// IsClosed returns true if the error is a relay-closed fault.
func IsClosed(err error) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code == FaultRelayClosed
	}
	return false
}

func newMalformedFault(recipient, msg string) *Fault {
	return &Fault{Code: FaultMalformedMessage, Message: msg, Recipient: recipient}
}

func newRegistrationFault(recipient, msg string) *Fault {
	return &Fault{Code: FaultInvalidRegistration, Message: msg, Recipient: recipient}
}

func newClosedFault() *Fault {
	return &Fault{Code: FaultRelayClosed, Message: "relay has been shut down"}
}
