package toolclient

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrClientClosed is returned by Call after Disconnect.
	ErrClientClosed = errors.New("tool client is disconnected")

	// ErrNotConnected is returned by Call before Connect.
	ErrNotConnected = errors.New("tool client is not connected")

	// ErrProcessExited rejects pending stdio requests when the child exits.
	ErrProcessExited = errors.New("tool server process exited")
)

// TransportError wraps a transport-level failure (spawn, connection, parser).
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPError reports a non-2xx response from an HTTP tool server.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, truncate(e.Body, 200))
}

// TimeoutError reports an operation that exceeded its configured timeout.
// Diagnostics carries a tail of recent stderr and non-framed stdout from
// stdio servers to aid debugging of startup failures.
type TimeoutError struct {
	Method      string
	Timeout     time.Duration
	Diagnostics string
}

func (e *TimeoutError) Error() string {
	if e.Diagnostics == "" {
		return fmt.Sprintf("request %s timed out after %s", e.Method, e.Timeout)
	}
	return fmt.Sprintf("request %s timed out after %s\nrecent server output:\n%s", e.Method, e.Timeout, e.Diagnostics)
}

// RPCError is a JSON-RPC error returned by a stdio tool server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
