package events

import "time"

// Delivery events form a compatibility surface for external instrumentation:
// the event names (delivery.initial, delivery.payload, delivery.complete,
// delivery.error) and their fields must not be renamed or dropped.

// DeliveryInitial is emitted after the initial payload of an operation is
// accepted by the transport. Telemetry name: delivery.initial.
type DeliveryInitial struct {
	OperationID  int64
	HasNext      bool
	PendingCount int
}

// DeliveryPayload is emitted after each incremental payload is accepted by
// the transport. Duration covers the task execution that produced it.
// Telemetry name: delivery.payload.
type DeliveryPayload struct {
	OperationID int64
	Path        []any
	Label       string
	TaskKind    string
	HasNext     bool
	Duration    time.Duration
	Success     bool
}

// DeliveryComplete is emitted after the transport confirms completion of an
// operation's payload sequence. Telemetry name: delivery.complete.
type DeliveryComplete struct {
	OperationID int64
	Duration    time.Duration
}

// DeliveryError is emitted when an operation's delivery fails fatally
// (a transport error, never a single task failure).
// Telemetry name: delivery.error.
type DeliveryError struct {
	OperationID int64
	Duration    time.Duration
	Reason      string
	Message     string
}
