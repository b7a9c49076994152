package contracts

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyConnected is returned by Connect on an open connection.
	ErrAlreadyConnected = errors.New("topicrpc: already connected")

	// ErrNotConnected is returned when an operation requires an open
	// connection and there is none.
	ErrNotConnected = errors.New("topicrpc: not connected")

	// ErrTimeout is returned when no reply arrives within the call
	// deadline. The call may be retried by the caller.
	ErrTimeout = errors.New("topicrpc: call timed out")

	// ErrClientClosed is returned for calls issued on, or still pending
	// during, client shutdown.
	ErrClientClosed = errors.New("topicrpc: client closed")

	// ErrServerRunning is returned when a server is mutated after Start.
	ErrServerRunning = errors.New("topicrpc: server already running")

	// ErrServerStopped is returned by Stop on a server that never
	// started or already stopped.
	ErrServerStopped = errors.New("topicrpc: server not running")
)

// ConnectionError reports a transport-level failure: authentication,
// network unreachability, or protocol handshake. Fatal to the caller;
// the core never retries on its own.
type ConnectionError struct {
	Op       string // operation that failed
	Endpoint string // sanitized broker endpoint
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("topicrpc connection error: %s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TopologyError reports an exchange or queue declaration that the
// broker refused, typically a type mismatch against a pre-existing
// entity of the same name. Fatal to the caller.
type TopologyError struct {
	Component string // "exchange", "queue" or "binding"
	Name      string
	Op        string
	Err       error
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("topicrpc topology error: %s %s %q: %v", e.Op, e.Component, e.Name, e.Err)
}

func (e *TopologyError) Unwrap() error { return e.Err }

// MalformedMessageError reports a message missing required envelope
// fields or carrying an undecodable payload. Envelope-level cases are
// logged and dropped, since no caller can be identified; a payload that
// fails to decode inside a handler travels back as an error reply.
type MalformedMessageError struct {
	RoutingKey string
	Reason     string
	Err        error
}

func (e *MalformedMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("topicrpc malformed message on %q: %s: %v", e.RoutingKey, e.Reason, e.Err)
	}
	return fmt.Sprintf("topicrpc malformed message on %q: %s", e.RoutingKey, e.Reason)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }
