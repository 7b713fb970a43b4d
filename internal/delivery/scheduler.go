package delivery

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// taskResult pairs a task outcome with its measured execution time.
type taskResult struct {
	outcome  TaskOutcome
	duration time.Duration
}

// dispatch starts every task under a bounded-width pool and returns one
// result channel per task, indexed by submission order. Consumers read the
// channels in order, which is what pins delivery to submission order even
// when later tasks finish first.
func dispatch(ctx context.Context, tasks []TaskDescriptor, width int, timeout time.Duration) []<-chan taskResult {
	if width < 1 {
		width = 2 * runtime.GOMAXPROCS(0)
	}
	sem := make(chan struct{}, width)
	results := make([]<-chan taskResult, len(tasks))
	for i, t := range tasks {
		ch := make(chan taskResult, 1)
		results[i] = ch
		go func(t TaskDescriptor, ch chan<- taskResult) {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				ch <- taskResult{outcome: cancelledOutcome(t)}
				return
			}
			defer func() { <-sem }()
			ch <- runTask(ctx, t, timeout)
		}(t, ch)
	}
	return results
}

// runTask executes one task inside its fault boundary: panics and explicit
// error outcomes both normalize to a failed TaskOutcome, a task exceeding
// timeout is abandoned with a timeout outcome, and cancellation of ctx
// (transport failure) yields a cancelled outcome. None of these affect
// sibling tasks.
func runTask(ctx context.Context, t TaskDescriptor, timeout time.Duration) taskResult {
	start := time.Now()
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan TaskOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- failureOutcome(t, r)
			}
		}()
		done <- t.Execute(tctx)
	}()

	select {
	case out := <-done:
		return taskResult{outcome: out, duration: time.Since(start)}
	case <-tctx.Done():
		if ctx.Err() != nil {
			return taskResult{outcome: cancelledOutcome(t), duration: time.Since(start)}
		}
		// The goroutine keeps running until the resolver notices tctx; its
		// eventual outcome is discarded via the buffered channel.
		return taskResult{outcome: timeoutOutcome(t, timeout), duration: time.Since(start)}
	}
}

func timeoutOutcome(t TaskDescriptor, timeout time.Duration) TaskOutcome {
	return TaskOutcome{
		Path:  t.Path,
		Label: t.Label,
		Errors: []GraphQLError{{
			Message:    fmt.Sprintf("%s task at %s timed out after %s", t.Kind, t.Path, timeout),
			Path:       t.Path,
			Extensions: map[string]any{"code": "TASK_TIMEOUT"},
		}},
	}
}

func failureOutcome(t TaskDescriptor, recovered any) TaskOutcome {
	return TaskOutcome{
		Path:  t.Path,
		Label: t.Label,
		Errors: []GraphQLError{{
			Message:    fmt.Sprintf("%s task at %s failed: %v", t.Kind, t.Path, recovered),
			Path:       t.Path,
			Extensions: map[string]any{"code": "TASK_FAILURE"},
		}},
	}
}

func cancelledOutcome(t TaskDescriptor) TaskOutcome {
	return TaskOutcome{
		Path:  t.Path,
		Label: t.Label,
		Errors: []GraphQLError{{
			Message:    fmt.Sprintf("%s task at %s cancelled", t.Kind, t.Path),
			Path:       t.Path,
			Extensions: map[string]any{"code": "TASK_CANCELLED"},
		}},
	}
}
