package delivery

import (
	"context"
	"time"

	eventbus "github.com/hanpama/streamgraph/internal/eventbus"
	events "github.com/hanpama/streamgraph/internal/events"
	opid "github.com/hanpama/streamgraph/internal/opid"
)

// Options configure one Engine. Zero values select the listed defaults.
type Options struct {
	// Width bounds how many tasks run concurrently.
	// Default: 2 × GOMAXPROCS.
	Width int
	// TaskTimeout bounds each task individually; there is no aggregate
	// deadline across an operation's tasks. Default: 30s.
	TaskTimeout time.Duration
	// StreamBatchSize is the number of items per StreamIncremental payload.
	// Default: 10.
	StreamBatchSize int
}

func (o Options) withDefaults() Options {
	if o.Width < 1 {
		o.Width = 0 // dispatch derives 2×GOMAXPROCS itself
	}
	if o.TaskTimeout <= 0 {
		o.TaskTimeout = 30 * time.Second
	}
	if o.StreamBatchSize < 1 {
		o.StreamBatchSize = 10
	}
	return o
}

// Engine turns a resolved document into the ordered payload sequence of the
// incremental delivery protocol and drives it through a Transport.
type Engine struct {
	opt Options
	bus *eventbus.Bus
}

// NewEngine creates an Engine publishing telemetry to bus (nil disables it).
func NewEngine(bus *eventbus.Bus, opt Options) *Engine {
	return &Engine{opt: opt.withDefaults(), bus: bus}
}

// Deliver runs the full sequence for one operation:
//
//	Init → SendInitial → SendIncremental* → Complete
//
// Outcomes are delivered in submission order (deferred tasks, then streamed
// tasks, in document order) regardless of real completion time; an early
// slow task head-of-line-blocks delivery of later, already-finished tasks.
// This deterministic ordering is deliberate: it keeps hasNext computation
// and the wire sequence reproducible at the cost of some latency.
//
// A single task failure becomes an ErrorPayload for that chunk and delivery
// continues. A transport failure is fatal: in-flight task contexts are
// cancelled and the error goes to the transport's HandleError when
// implemented, otherwise to the caller.
func (e *Engine) Deliver(ctx context.Context, doc *ResolvedDocument, tr Transport, opts InitOptions) error {
	start := time.Now()
	if opts.OperationID == 0 {
		if id, ok := opid.FromContext(ctx); ok {
			opts.OperationID = id
		} else {
			ctx, opts.OperationID = opid.NewContext(ctx)
		}
	}
	tasks := doc.tasks()

	state, err := tr.Init(ctx, opts)
	if err != nil {
		return e.fail(ctx, tr, state, opts.OperationID, start, &TransportError{Op: "init", Err: err})
	}

	initial := BuildInitial(doc, tasks)
	state, err = tr.SendInitial(ctx, state, initial)
	if err != nil {
		return e.fail(ctx, tr, state, opts.OperationID, start, &TransportError{Op: "send_initial", Err: err})
	}
	eventbus.Publish(ctx, e.bus, events.DeliveryInitial{
		OperationID:  opts.OperationID,
		HasNext:      initial.HasNext,
		PendingCount: len(initial.Pending),
	})

	if len(tasks) > 0 {
		taskCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		results := dispatch(taskCtx, tasks, e.opt.Width, e.opt.TaskTimeout)

		for i, t := range tasks {
			res := <-results[i]
			last := i == len(tasks)-1
			for _, p := range BuildPayloads(t, res.outcome, e.opt.StreamBatchSize, last) {
				state, err = tr.SendIncremental(ctx, state, p)
				if err != nil {
					cancel() // stop in-flight resolver work
					return e.fail(ctx, tr, state, opts.OperationID, start, &TransportError{Op: "send_incremental", Err: err})
				}
				eventbus.Publish(ctx, e.bus, events.DeliveryPayload{
					OperationID: opts.OperationID,
					Path:        pathSegments(t.Path),
					Label:       t.Label,
					TaskKind:    t.Kind.String(),
					HasNext:     p.Next(),
					Duration:    res.duration,
					Success:     !res.outcome.Failed(),
				})
			}
		}
	}

	if err := tr.Complete(ctx, state); err != nil {
		return e.fail(ctx, tr, state, opts.OperationID, start, &TransportError{Op: "complete", Err: err})
	}
	eventbus.Publish(ctx, e.bus, events.DeliveryComplete{
		OperationID: opts.OperationID,
		Duration:    time.Since(start),
	})
	return nil
}

func (e *Engine) fail(ctx context.Context, tr Transport, state State, opID int64, start time.Time, terr *TransportError) error {
	eventbus.Publish(ctx, e.bus, events.DeliveryError{
		OperationID: opID,
		Duration:    time.Since(start),
		Reason:      terr.Op,
		Message:     terr.Err.Error(),
	})
	if h, ok := tr.(ErrorHandler); ok {
		if _, herr := h.HandleError(ctx, state, terr); herr != nil {
			return herr
		}
		return nil
	}
	return terr
}

// CollectedResult is the buffered form of an operation's payload sequence,
// for batch and test callers that do not need true streaming.
type CollectedResult struct {
	Initial     *InitialPayload `json:"initial"`
	Incremental []Payload       `json:"incremental,omitempty"`
	HasNext     bool            `json:"hasNext"`
}

// CollectAll delivers doc into an in-memory transport and returns the whole
// sequence at once. HasNext on the result is always false; individual
// payloads keep the flags they would have carried on the wire.
func (e *Engine) CollectAll(ctx context.Context, doc *ResolvedDocument, opts InitOptions) (*CollectedResult, error) {
	c := &collector{}
	if err := e.Deliver(ctx, doc, c, opts); err != nil {
		return nil, err
	}
	return &CollectedResult{Initial: c.initial, Incremental: c.incremental, HasNext: false}, nil
}

// collector buffers payloads in delivery order.
type collector struct {
	initial     *InitialPayload
	incremental []Payload
}

func (c *collector) Init(ctx context.Context, opts InitOptions) (State, error) {
	return nil, nil
}

func (c *collector) SendInitial(ctx context.Context, state State, p *InitialPayload) (State, error) {
	c.initial = p
	return state, nil
}

func (c *collector) SendIncremental(ctx context.Context, state State, p Payload) (State, error) {
	c.incremental = append(c.incremental, p)
	return state, nil
}

func (c *collector) Complete(ctx context.Context, state State) error {
	return nil
}

func pathSegments(p Path) []any {
	if len(p) == 0 {
		return nil
	}
	out := make([]any, len(p))
	for i, e := range p {
		out[i] = e
	}
	return out
}
