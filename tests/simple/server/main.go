package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"strconv"
	"time"

	delivery "github.com/hanpama/streamgraph/internal/delivery"
	eventbus "github.com/hanpama/streamgraph/internal/eventbus"
	language "github.com/hanpama/streamgraph/internal/language"
	sgotel "github.com/hanpama/streamgraph/internal/otel"
	"github.com/hanpama/streamgraph/internal/server"
)

// demoResolver walks the query against an in-memory dataset. Fragments
// carrying @defer and list fields carrying @stream become task descriptors;
// everything else resolves synchronously. It exists to exercise the engine
// end to end, not to be a complete GraphQL executor.
type demoResolver struct {
	root    map[string]any
	latency time.Duration
}

func newDemoResolver(latency time.Duration) *demoResolver {
	return &demoResolver{root: seedData(), latency: latency}
}

func seedData() map[string]any {
	profile1 := map[string]any{
		"bio":       "Software engineer with passion for Go",
		"avatarUrl": "https://example.com/avatar/john.jpg",
	}
	profile2 := map[string]any{
		"bio":       "Full-stack developer",
		"avatarUrl": "https://example.com/avatar/jane.jpg",
	}

	post1 := map[string]any{
		"id":        "post-1",
		"title":     "Getting Started with Go",
		"published": true,
		"comments": []any{
			map[string]any{"id": "comment-1", "content": "Great article!"},
			map[string]any{"id": "comment-2", "content": "Very helpful, thanks!"},
		},
	}
	post2 := map[string]any{
		"id":        "post-2",
		"title":     "GraphQL Best Practices",
		"published": true,
		"comments": []any{
			map[string]any{"id": "comment-3", "content": "I disagree with some points..."},
		},
	}
	post3 := map[string]any{
		"id":        "post-3",
		"title":     "Draft Post",
		"published": false,
		"comments":  []any{},
	}

	user1 := map[string]any{
		"id": "user-1", "email": "john@example.com", "name": "John Doe",
		"age": 30, "isActive": true,
		"profile": profile1,
		"posts":   []any{post1, post3},
	}
	user2 := map[string]any{
		"id": "user-2", "email": "jane@example.com", "name": "Jane Smith",
		"age": 28, "isActive": true,
		"profile": profile2,
		"posts":   []any{post2},
	}
	user3 := map[string]any{
		"id": "user-3", "email": "bob@example.com", "name": "Bob Johnson",
		"age": 35, "isActive": false,
		"posts": []any{},
	}

	return map[string]any{
		"users": []any{user1, user2, user3},
		"user": map[string]any{
			"user-1": user1,
			"user-2": user2,
			"user-3": user3,
		},
		"posts": []any{post1, post2, post3},
	}
}

// taskSet collects the incremental work found during the synchronous walk.
// A nil taskSet resolves defer/stream inline, which is how nested incremental
// work inside an already-deferred fragment is flattened.
type taskSet struct {
	deferred []delivery.TaskDescriptor
	streams  []delivery.TaskDescriptor
}

func (r *demoResolver) Resolve(ctx context.Context, doc *language.QueryDocument, operationName string, variables map[string]any) (*delivery.ResolvedDocument, error) {
	op := doc.Operations.ForName(operationName)
	if op == nil && len(doc.Operations) == 1 {
		op = doc.Operations[0]
	}
	if op == nil {
		return &delivery.ResolvedDocument{
			Errors: []delivery.GraphQLError{{Message: "operation " + strconv.Quote(operationName) + " not found"}},
		}, nil
	}

	ts := &taskSet{}
	data := r.resolveSelection(doc, op.SelectionSet, r.root, nil, ts)
	res := &delivery.ResolvedDocument{Data: data, IncrementalDeliveryEnabled: true}
	if len(ts.deferred)+len(ts.streams) > 0 {
		res.Streaming = &delivery.StreamingContext{DeferredTasks: ts.deferred, StreamTasks: ts.streams}
	}
	return res, nil
}

func (r *demoResolver) resolveSelection(doc *language.QueryDocument, sel language.SelectionSet, source map[string]any, path delivery.Path, ts *taskSet) map[string]any {
	out := map[string]any{}
	for _, s := range sel {
		switch node := s.(type) {
		case *language.Field:
			name := node.Name
			if node.Alias != "" {
				name = node.Alias
			}
			value := r.fieldValue(source, node)
			fieldPath := append(append(delivery.Path{}, path...), name)

			if d := activeDirective(node.Directives, "stream"); d != nil && ts != nil {
				items, _ := value.([]any)
				out[name] = r.openStreamTask(doc, node, d, items, fieldPath, ts)
				continue
			}
			out[name] = r.resolveValue(doc, node.SelectionSet, value, fieldPath, ts)

		case *language.InlineFragment:
			if d := activeDirective(node.Directives, "defer"); d != nil && ts != nil {
				r.openDeferTask(doc, node.SelectionSet, d, source, path, ts)
				continue
			}
			for k, v := range r.resolveSelection(doc, node.SelectionSet, source, path, ts) {
				out[k] = v
			}

		case *language.FragmentSpread:
			frag := doc.Fragments.ForName(node.Name)
			if frag == nil {
				continue
			}
			if d := activeDirective(node.Directives, "defer"); d != nil && ts != nil {
				r.openDeferTask(doc, frag.SelectionSet, d, source, path, ts)
				continue
			}
			for k, v := range r.resolveSelection(doc, frag.SelectionSet, source, path, ts) {
				out[k] = v
			}
		}
	}
	return out
}

func (r *demoResolver) resolveValue(doc *language.QueryDocument, sel language.SelectionSet, value any, path delivery.Path, ts *taskSet) any {
	if len(sel) == 0 {
		return value
	}
	switch v := value.(type) {
	case map[string]any:
		return r.resolveSelection(doc, sel, v, path, ts)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = r.resolveValue(doc, sel, item, append(append(delivery.Path{}, path...), i), ts)
		}
		return out
	default:
		return nil
	}
}

func (r *demoResolver) openDeferTask(doc *language.QueryDocument, sel language.SelectionSet, d *language.Directive, source map[string]any, path delivery.Path, ts *taskSet) {
	ts.deferred = append(ts.deferred, delivery.TaskDescriptor{
		Path:  path,
		Label: labelArg(d),
		Kind:  delivery.TaskDefer,
		Execute: func(ctx context.Context) delivery.TaskOutcome {
			if err := r.simulateLatency(ctx); err != nil {
				return delivery.TaskOutcome{Errors: []delivery.GraphQLError{{Message: err.Error()}}}
			}
			return delivery.TaskOutcome{Data: r.resolveSelection(doc, sel, source, nil, nil)}
		},
	})
}

// openStreamTask resolves the first initialCount items inline and hands the
// remainder to a stream task. It returns the inline slice.
func (r *demoResolver) openStreamTask(doc *language.QueryDocument, f *language.Field, d *language.Directive, items []any, path delivery.Path, ts *taskSet) []any {
	ic := initialCountArg(d)
	if ic > len(items) {
		ic = len(items)
	}

	inline := make([]any, 0, ic)
	for i := 0; i < ic; i++ {
		inline = append(inline, r.resolveValue(doc, f.SelectionSet, items[i], append(append(delivery.Path{}, path...), i), nil))
	}
	rest := items[ic:]

	ts.streams = append(ts.streams, delivery.TaskDescriptor{
		Path:         path,
		Label:        labelArg(d),
		Kind:         delivery.TaskStream,
		InitialCount: ic,
		Execute: func(ctx context.Context) delivery.TaskOutcome {
			if err := r.simulateLatency(ctx); err != nil {
				return delivery.TaskOutcome{Errors: []delivery.GraphQLError{{Message: err.Error()}}}
			}
			out := make([]any, len(rest))
			for i, item := range rest {
				out[i] = r.resolveValue(doc, f.SelectionSet, item, append(append(delivery.Path{}, path...), ic+i), nil)
			}
			return delivery.TaskOutcome{Items: out}
		},
	})
	return inline
}

func (r *demoResolver) simulateLatency(ctx context.Context) error {
	if r.latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(r.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fieldValue looks the field up in the source object. When the stored value
// is an index (id -> object) and the query supplies an id argument, it
// selects the entry, which is how user(id: "...") works against the seed.
func (r *demoResolver) fieldValue(source map[string]any, f *language.Field) any {
	v := source[f.Name]
	if arg := f.Arguments.ForName("id"); arg != nil && arg.Value != nil {
		if index, ok := v.(map[string]any); ok {
			return index[arg.Value.Raw]
		}
	}
	return v
}

func activeDirective(ds language.DirectiveList, name string) *language.Directive {
	d := ds.ForName(name)
	if d == nil {
		return nil
	}
	if arg := d.Arguments.ForName("if"); arg != nil && arg.Value != nil {
		if arg.Value.Kind == language.BooleanValue && arg.Value.Raw == "false" {
			return nil
		}
	}
	return d
}

func labelArg(d *language.Directive) string {
	if arg := d.Arguments.ForName("label"); arg != nil && arg.Value != nil {
		return arg.Value.Raw
	}
	return ""
}

func initialCountArg(d *language.Directive) int {
	arg := d.Arguments.ForName("initialCount")
	if arg == nil || arg.Value == nil || arg.Value.Kind != language.IntValue {
		return 0
	}
	n, err := strconv.Atoi(arg.Value.Raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func main() {
	addr := flag.String("addr", ":8080", "HTTP listen address")
	pretty := flag.Bool("pretty", false, "pretty-print JSON responses")
	latency := flag.Duration("latency", 150*time.Millisecond, "simulated latency for deferred and streamed work")
	otelEndpoint := flag.String("otel.endpoint", "", "OTLP collector endpoint")
	otelService := flag.String("otel.service", "streamgraph-demo", "OpenTelemetry service name")
	flag.Parse()

	bus := eventbus.New()
	shutdown, err := sgotel.Setup(*otelEndpoint, *otelService, bus)
	if err != nil {
		log.Fatalf("otel setup: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	var opts []server.Option
	if *pretty {
		opts = append(opts, server.WithPretty())
	}
	h, err := server.New(newDemoResolver(*latency), bus, opts...)
	if err != nil {
		log.Fatalf("server init: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/graphql", h)

	log.Printf("GraphQL server listening on %s", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatal(err)
	}
}
