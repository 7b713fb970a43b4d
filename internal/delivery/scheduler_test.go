package delivery

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func collectResults(chans []<-chan taskResult) []taskResult {
	out := make([]taskResult, len(chans))
	for i, ch := range chans {
		out[i] = <-ch
	}
	return out
}

func errorCode(out TaskOutcome) string {
	if len(out.Errors) == 0 {
		return ""
	}
	code, _ := out.Errors[0].Extensions["code"].(string)
	return code
}

func TestDispatch_BoundsConcurrency(t *testing.T) {
	var current, peak int32
	tasks := make([]TaskDescriptor, 6)
	for i := range tasks {
		tasks[i] = TaskDescriptor{
			Kind: TaskDefer,
			Path: Path{"t", i},
			Execute: func(ctx context.Context) TaskOutcome {
				n := atomic.AddInt32(&current, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return TaskOutcome{Data: i}
			},
		}
	}

	results := collectResults(dispatch(context.Background(), tasks, 2, time.Second))

	for i, r := range results {
		if r.outcome.Failed() {
			t.Fatalf("task %d failed: %v", i, r.outcome.Errors)
		}
	}
	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", p)
	}
}

func TestRunTask_Timeout(t *testing.T) {
	task := TaskDescriptor{
		Kind:  TaskDefer,
		Path:  Path{"slow"},
		Label: "S",
		Execute: func(ctx context.Context) TaskOutcome {
			<-ctx.Done()
			return TaskOutcome{Data: "too late"}
		},
	}

	res := runTask(context.Background(), task, 20*time.Millisecond)

	if !res.outcome.Failed() {
		t.Fatal("expected timeout outcome")
	}
	if code := errorCode(res.outcome); code != "TASK_TIMEOUT" {
		t.Fatalf("error code = %q, want TASK_TIMEOUT", code)
	}
	if res.outcome.Path.String() != "slow" || res.outcome.Label != "S" {
		t.Fatalf("timeout outcome not scoped to task: %+v", res.outcome)
	}
}

func TestRunTask_PanicNormalized(t *testing.T) {
	task := TaskDescriptor{
		Kind: TaskDefer,
		Path: Path{"bad"},
		Execute: func(ctx context.Context) TaskOutcome {
			panic("resolver blew up")
		},
	}

	res := runTask(context.Background(), task, time.Second)

	if code := errorCode(res.outcome); code != "TASK_FAILURE" {
		t.Fatalf("error code = %q, want TASK_FAILURE", code)
	}
}

func TestRunTask_TimeoutDoesNotAffectSiblings(t *testing.T) {
	tasks := []TaskDescriptor{
		{Kind: TaskDefer, Path: Path{"hang"}, Execute: func(ctx context.Context) TaskOutcome {
			<-ctx.Done()
			return TaskOutcome{}
		}},
		{Kind: TaskDefer, Path: Path{"ok"}, Execute: func(ctx context.Context) TaskOutcome {
			return TaskOutcome{Data: "fine"}
		}},
	}

	results := collectResults(dispatch(context.Background(), tasks, 4, 20*time.Millisecond))

	if code := errorCode(results[0].outcome); code != "TASK_TIMEOUT" {
		t.Fatalf("task 0 code = %q, want TASK_TIMEOUT", code)
	}
	if results[1].outcome.Failed() {
		t.Fatalf("sibling task failed: %v", results[1].outcome.Errors)
	}
	if results[1].outcome.Data != "fine" {
		t.Fatalf("sibling data = %v, want fine", results[1].outcome.Data)
	}
}

func TestDispatch_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	executed := int32(0)
	tasks := []TaskDescriptor{{
		Kind: TaskDefer,
		Path: Path{"a"},
		Execute: func(ctx context.Context) TaskOutcome {
			if ctx.Err() != nil {
				return cancelledOutcome(TaskDescriptor{Kind: TaskDefer, Path: Path{"a"}})
			}
			atomic.AddInt32(&executed, 1)
			return TaskOutcome{Data: "ran"}
		},
	}}

	results := collectResults(dispatch(ctx, tasks, 1, time.Second))

	if code := errorCode(results[0].outcome); code != "TASK_CANCELLED" {
		t.Fatalf("error code = %q, want TASK_CANCELLED", code)
	}
	if atomic.LoadInt32(&executed) != 0 {
		t.Fatal("task body ran to completion despite cancelled context")
	}
}

// Results are read per-task in submission order even when completion order
// inverts: a slow first task must not let the second overtake it.
func TestDispatch_ResultsIndexedBySubmissionOrder(t *testing.T) {
	firstDone := make(chan struct{})
	tasks := []TaskDescriptor{
		{Kind: TaskDefer, Path: Path{"slow"}, Execute: func(ctx context.Context) TaskOutcome {
			time.Sleep(50 * time.Millisecond)
			close(firstDone)
			return TaskOutcome{Data: "slow"}
		}},
		{Kind: TaskDefer, Path: Path{"fast"}, Execute: func(ctx context.Context) TaskOutcome {
			return TaskOutcome{Data: "fast"}
		}},
	}

	chans := dispatch(context.Background(), tasks, 2, time.Second)

	first := <-chans[0]
	select {
	case <-firstDone:
	default:
		t.Fatal("read of first result returned before the slow task finished")
	}
	second := <-chans[1]
	if first.outcome.Data != "slow" || second.outcome.Data != "fast" {
		t.Fatalf("results out of order: %v, %v", first.outcome.Data, second.outcome.Data)
	}
}
