package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorKind classifies a failure of a probe, a host list resolution or a sweep
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAccessDenied
	KindTimeout
	KindToolFailure
	KindToolNotFound
	KindCancelled
	KindExhausted
	KindUnauthorized
	KindScopeNotFound
	KindInvalidInput
)

func (k ErrorKind) String() string {
	switch k {
	case KindAccessDenied:
		return "access denied"
	case KindTimeout:
		return "timeout"
	case KindToolFailure:
		return "tool failure"
	case KindToolNotFound:
		return "tool not found"
	case KindCancelled:
		return "cancelled"
	case KindExhausted:
		return "retries exhausted"
	case KindUnauthorized:
		return "unauthorized"
	case KindScopeNotFound:
		return "scope not found"
	case KindInvalidInput:
		return "invalid input"
	default:
		return "unknown"
	}
}

func (k ErrorKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// SweepState is the lifecycle state of a fleet sweep
type SweepState int

const (
	StateIdle SweepState = iota
	StateResolving
	StateScanning
	StateCompleted
	StateCancelled
	StateFailed
)

func (s SweepState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateScanning:
		return "scanning"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition can happen from s
func (s SweepState) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

func (s SweepState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ProbeError is returned when enumerating sessions on a single host fails
type ProbeError struct {
	Kind     ErrorKind
	Host     string
	ExitCode int
	Message  string
	Err      error
}

func (e *ProbeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Host, e.Kind)
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// HostError converts the probe failure into its aggregate representation
func (e *ProbeError) HostError() HostError {
	message := e.Message
	if message == "" && e.Err != nil {
		message = e.Err.Error()
	}
	return HostError{Host: e.Host, Kind: e.Kind, ExitCode: e.ExitCode, Message: message}
}

// SweepError is returned by a sweep that did not complete
type SweepError struct {
	Kind ErrorKind
	Err  error
}

func (e *SweepError) Error() string {
	if e.Err == nil {
		return "sweep " + e.Kind.String()
	}
	return fmt.Sprintf("sweep %s: %v", e.Kind, e.Err)
}

func (e *SweepError) Unwrap() error {
	return e.Err
}

// Classified is implemented by errors that carry an ErrorKind
type Classified interface {
	error
	ErrorKind() ErrorKind
}

func (e *ProbeError) ErrorKind() ErrorKind { return e.Kind }
func (e *SweepError) ErrorKind() ErrorKind { return e.Kind }

// KindOf returns the kind of the first classified error in err's chain,
// or KindUnknown when there is none
func KindOf(err error) ErrorKind {
	var c Classified
	if errors.As(err, &c) {
		return c.ErrorKind()
	}
	return KindUnknown
}
