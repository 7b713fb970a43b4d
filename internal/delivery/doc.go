// Package delivery implements the incremental delivery engine: it turns a
// resolved document whose subtrees were marked for deferred or streamed
// resolution into an ordered sequence of wire payloads.
//
// # Pipeline
//
// The resolution phase hands the engine a ResolvedDocument: synchronously
// resolved data plus a StreamingContext of TaskDescriptors (deferred
// fragments first, then streamed fields, in document order). Deliver then:
//
//  1. Initializes the Transport and sends the InitialPayload, whose Pending
//     list announces every not-yet-resolved task's path and label.
//  2. Dispatches all tasks onto a bounded-width pool (Options.Width,
//     default 2×GOMAXPROCS) with a per-task timeout. Each execution sits in
//     a fault boundary: explicit error outcomes, panics and timeouts all
//     normalize to a failed TaskOutcome without disturbing sibling tasks.
//  3. Consumes outcomes strictly in submission order, maps each through the
//     payload builder (a failed outcome becomes an ErrorPayload scoped to
//     its chunk; a stream outcome is split into batches), and sends each
//     payload through the transport before consuming the next outcome.
//  4. Calls Complete, or on a transport failure cancels in-flight task
//     contexts and reports through the optional ErrorHandler.
//
// # Ordering and hasNext
//
// Delivery order is submission order, not completion order: an early slow
// task holds back later, already-finished tasks. Every payload carries
// hasNext = true except the operation's last; a document without incremental
// work produces exactly one InitialPayload with hasNext = false.
//
// # Concurrency
//
// Concurrency is confined to task execution. The surrounding control flow is
// sequential, and the transport state is threaded linearly through the send
// calls, so transports see no concurrent access from the engine. A slow
// transport backpressures outcome consumption while dispatched tasks keep
// running up to the pool width.
package delivery
