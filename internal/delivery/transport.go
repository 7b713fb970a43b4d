package delivery

import (
	"context"
	"fmt"
)

// State is the transport's per-connection state. It is opaque to the engine,
// which only threads it linearly: each call receives the state returned by
// the previous call, and the engine never holds two copies concurrently, so
// implementations need no internal locking for engine-driven writes.
type State any

// InitOptions parameterize a transport's connection setup for one operation.
type InitOptions struct {
	OperationID   int64
	OperationName string
}

// Transport receives the ordered payload sequence for one operation:
// Init, SendInitial, zero or more SendIncremental calls in delivery order,
// then Complete. Any returned error is fatal to the operation.
//
// SendIncremental is synchronous from the engine's perspective: a slow
// transport backpressures outcome consumption, while tasks already
// dispatched keep running up to the configured width.
type Transport interface {
	Init(ctx context.Context, opts InitOptions) (State, error)
	SendInitial(ctx context.Context, state State, p *InitialPayload) (State, error)
	SendIncremental(ctx context.Context, state State, p Payload) (State, error)
	Complete(ctx context.Context, state State) error
}

// ErrorHandler is optionally implemented by transports that want to observe
// fatal delivery errors (for example to write a terminal error frame). When
// implemented, the engine reports the failure here and returns HandleError's
// error instead; otherwise the failure propagates to the caller unmodified.
type ErrorHandler interface {
	HandleError(ctx context.Context, state State, err error) (State, error)
}

// TransportError wraps a failure from a transport call. Transport failures
// abort the whole operation, unlike task failures which stay scoped to their
// chunk.
type TransportError struct {
	// Op is the transport method that failed: "init", "send_initial",
	// "send_incremental" or "complete".
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
