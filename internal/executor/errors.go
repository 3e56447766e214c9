package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Cause classifies an adapter invocation failure.
type Cause string

const (
	// CauseHTTP is a non-2xx response from a remote adapter.
	CauseHTTP Cause = "http"
	// CauseMissingFunction means the slot is unwired, the module is not
	// registered, or the module does not implement the slot's capability.
	CauseMissingFunction Cause = "missing_function"
	// CauseAdapter wraps an error returned (or panic raised) by the adapter.
	CauseAdapter Cause = "adapter"
	CauseTimeout Cause = "timeout"
	// CauseCircuitOpen means the remote endpoint's breaker rejected the call.
	CauseCircuitOpen Cause = "circuit_open"
	// CauseVersion means the remote adapter speaks an incompatible protocol major.
	CauseVersion Cause = "version"
)

// AdapterError is returned by every Executor method on failure.
type AdapterError struct {
	Cause      Cause
	Function   string
	Module     string // module name or URL
	Status     int
	StatusText string
	Err        error
}

func (e *AdapterError) Error() string {
	prefix := fmt.Sprintf("adapter %s (%s)", e.Function, e.Module)
	switch e.Cause {
	case CauseHTTP:
		if e.Err != nil {
			return fmt.Sprintf("%s: http %d %s: %v", prefix, e.Status, e.StatusText, e.Err)
		}
		return fmt.Sprintf("%s: http %d %s", prefix, e.Status, e.StatusText)
	case CauseMissingFunction:
		return prefix + ": function not found"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Cause, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Cause)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Message returns the adapter's own error text without executor context,
// falling back to Error() when there is none.
func (e *AdapterError) Message() string {
	if e.Cause == CauseAdapter && e.Err != nil {
		return e.Err.Error()
	}
	return e.Error()
}

// IsNetwork reports whether err is a transport-level adapter failure
// (non-2xx, timeout, open breaker, or a net.Error) rather than a failure the
// adapter itself reported.
func IsNetwork(err error) bool {
	var ae *AdapterError
	if errors.As(err, &ae) {
		switch ae.Cause {
		case CauseHTTP, CauseTimeout, CauseCircuitOpen:
			return true
		}
	}
	var ne net.Error
	return errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded)
}

// CauseOf returns the Cause of an AdapterError in err's chain, or "".
func CauseOf(err error) Cause {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Cause
	}
	return ""
}

// ErrorMessage is the text recorded on orders and cart items for err.
func ErrorMessage(err error) string {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Message()
	}
	return err.Error()
}
