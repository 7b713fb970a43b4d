package delivery

import (
	"context"
	"fmt"
)

// Path locates a value inside the response tree. Elements are field response
// names (string) or list indices (int).
type Path []PathElement

type PathElement any

func (p Path) String() string {
	result := ""
	for i, elem := range p {
		switch v := elem.(type) {
		case string:
			if i > 0 {
				result += "."
			}
			result += v
		case int:
			result += fmt.Sprintf("[%d]", v)
		}
	}
	return result
}

// GraphQLError is a located error in the GraphQL response format.
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       Path           `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (e GraphQLError) Error() string {
	return e.Message
}

// TaskKind distinguishes deferred fragments from streamed fields.
type TaskKind int

const (
	// TaskDefer resolves a deferred fragment into a single incremental payload.
	TaskDefer TaskKind = iota
	// TaskStream resolves a streamed field's remaining items, delivered in
	// batches.
	TaskStream
)

func (k TaskKind) String() string {
	switch k {
	case TaskDefer:
		return "defer"
	case TaskStream:
		return "stream"
	default:
		return fmt.Sprintf("TaskKind(%d)", int(k))
	}
}

// TaskDescriptor is one unit of deferred or streamed work, created by the
// resolution phase and consumed exactly once by the scheduler.
type TaskDescriptor struct {
	// Path is where the task's result attaches in the response tree.
	Path Path
	// Label is the client-supplied defer/stream label, if any.
	Label string
	// Kind selects the payload shape the outcome maps to.
	Kind TaskKind
	// InitialCount is the number of items already delivered inline with the
	// initial payload. Stream tasks only.
	InitialCount int
	// Execute produces the task's outcome. It is invoked at most once. The
	// context is cancelled when the task times out or when a transport
	// failure aborts the operation; implementations should honor it, but the
	// scheduler abandons the call after the per-task timeout regardless, so
	// resolver code must tolerate being cut off mid-flight.
	Execute func(ctx context.Context) TaskOutcome
}

// TaskOutcome is the result of executing a TaskDescriptor. A non-empty
// Errors slice marks the outcome as failed; Data and Items are then ignored.
type TaskOutcome struct {
	// Data is the resolved fragment data. Defer tasks only.
	Data any
	// Items are the resolved list items not covered by InitialCount.
	// Stream tasks only.
	Items []any
	// Errors, when non-empty, scope the failure to this task's chunk.
	Errors []GraphQLError
	// Path and Label override the descriptor's when set; the resolution
	// phase normally leaves them empty.
	Path  Path
	Label string
}

// Failed reports whether the outcome is the error arm of the union.
func (o TaskOutcome) Failed() bool { return len(o.Errors) > 0 }

// StreamingContext carries the incremental work attached to a resolved
// document. Deferred tasks precede streamed tasks in delivery order; within
// each list, document order is preserved.
type StreamingContext struct {
	DeferredTasks []TaskDescriptor
	StreamTasks   []TaskDescriptor
}

func (sc *StreamingContext) empty() bool {
	return sc == nil || (len(sc.DeferredTasks) == 0 && len(sc.StreamTasks) == 0)
}

// ResolvedDocument is the engine's inbound contract with the resolution
// phase: whatever resolved synchronously, plus the task descriptors for the
// subtrees marked for incremental delivery.
type ResolvedDocument struct {
	// Data is the synchronously resolved portion of the response.
	Data map[string]any
	// Errors are located errors from the synchronous phase.
	Errors []GraphQLError
	// IncrementalDeliveryEnabled gates the engine; when false the document
	// passes through as a single payload even if Streaming is populated.
	IncrementalDeliveryEnabled bool
	// Streaming lists the deferred and streamed work. Nil or empty means the
	// engine is a pass-through.
	Streaming *StreamingContext
}

// tasks returns the full submission-order task sequence.
func (d *ResolvedDocument) tasks() []TaskDescriptor {
	if !d.IncrementalDeliveryEnabled || d.Streaming.empty() {
		return nil
	}
	out := make([]TaskDescriptor, 0, len(d.Streaming.DeferredTasks)+len(d.Streaming.StreamTasks))
	out = append(out, d.Streaming.DeferredTasks...)
	out = append(out, d.Streaming.StreamTasks...)
	return out
}
