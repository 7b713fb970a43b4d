package otel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	eventbus "github.com/hanpama/streamgraph/internal/eventbus"
	events "github.com/hanpama/streamgraph/internal/events"
	opid "github.com/hanpama/streamgraph/internal/opid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers that turn
// delivery events into spans. If endpoint is empty, no telemetry is
// configured. The span names and attribute keys mirror the delivery
// telemetry contract (delivery.initial, delivery.payload, delivery.complete,
// delivery.error) and must stay stable for downstream tooling.
func Setup(endpoint, service string, bus *eventbus.Bus) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	sub := &subscriber{tracer: otel.Tracer("streamgraph")}
	sub.register(bus)

	return tp.Shutdown, nil
}

type subscriber struct {
	tracer    trace.Tracer
	httpSpans sync.Map // operation id -> trace.Span
	gqlSpans  sync.Map // operation id -> trace.Span
}

func (s *subscriber) register(bus *eventbus.Bus) {
	eventbus.Subscribe(bus, func(ctx context.Context, e events.HTTPStart) {
		id, _ := opid.FromContext(ctx)
		_, span := s.tracer.Start(ctx, "http.request")
		span.SetAttributes(
			semconv.HTTPMethodKey.String(e.Request.Method),
			attribute.String("http.target", e.Request.URL.Path),
		)
		s.httpSpans.Store(id, span)
	})

	eventbus.Subscribe(bus, func(ctx context.Context, e events.HTTPFinish) {
		id, _ := opid.FromContext(ctx)
		v, ok := s.httpSpans.LoadAndDelete(id)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
		span.End()
	})

	eventbus.Subscribe(bus, func(ctx context.Context, e events.GraphQLStart) {
		id, _ := opid.FromContext(ctx)
		parent := ctx
		if v, ok := s.httpSpans.Load(id); ok {
			parent = trace.ContextWithSpan(ctx, v.(trace.Span))
		}
		_, span := s.tracer.Start(parent, "graphql.operation")
		span.SetAttributes(
			attribute.String("graphql.operation.name", e.OperationName),
			attribute.String("graphql.operation.type", e.OperationType),
		)
		s.gqlSpans.Store(id, span)
	})

	eventbus.Subscribe(bus, func(ctx context.Context, e events.GraphQLFinish) {
		id, _ := opid.FromContext(ctx)
		v, ok := s.gqlSpans.LoadAndDelete(id)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(attribute.Int("graphql.error_count", len(e.Errors)))
		span.End()
	})

	eventbus.Subscribe(bus, func(ctx context.Context, e events.DeliveryInitial) {
		_, span := s.tracer.Start(s.parent(ctx), "delivery.initial")
		span.SetAttributes(
			attribute.Int64("operation_id", e.OperationID),
			attribute.Bool("has_next", e.HasNext),
			attribute.Int("pending_count", e.PendingCount),
		)
		span.End()
	})

	eventbus.Subscribe(bus, func(ctx context.Context, e events.DeliveryPayload) {
		_, span := s.tracer.Start(s.parent(ctx), "delivery.payload",
			trace.WithTimestamp(time.Now().Add(-e.Duration)))
		span.SetAttributes(
			attribute.Int64("operation_id", e.OperationID),
			attribute.String("path", renderPath(e.Path)),
			attribute.String("label", e.Label),
			attribute.String("task_kind", e.TaskKind),
			attribute.Bool("has_next", e.HasNext),
			attribute.Float64("duration_ms", float64(e.Duration)/float64(time.Millisecond)),
			attribute.Bool("success", e.Success),
		)
		span.End()
	})

	eventbus.Subscribe(bus, func(ctx context.Context, e events.DeliveryComplete) {
		_, span := s.tracer.Start(s.parent(ctx), "delivery.complete",
			trace.WithTimestamp(time.Now().Add(-e.Duration)))
		span.SetAttributes(
			attribute.Int64("operation_id", e.OperationID),
			attribute.Float64("duration_ms", float64(e.Duration)/float64(time.Millisecond)),
		)
		span.End()
	})

	eventbus.Subscribe(bus, func(ctx context.Context, e events.DeliveryError) {
		_, span := s.tracer.Start(s.parent(ctx), "delivery.error",
			trace.WithTimestamp(time.Now().Add(-e.Duration)))
		span.SetAttributes(
			attribute.Int64("operation_id", e.OperationID),
			attribute.Float64("duration_ms", float64(e.Duration)/float64(time.Millisecond)),
			attribute.String("error.reason", e.Reason),
			attribute.String("error.message", e.Message),
		)
		span.End()
	})
}

// parent nests delivery spans under the operation's GraphQL span when one is
// open, falling back to the HTTP span, then to ctx.
func (s *subscriber) parent(ctx context.Context) context.Context {
	id, _ := opid.FromContext(ctx)
	if v, ok := s.gqlSpans.Load(id); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	if v, ok := s.httpSpans.Load(id); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	return ctx
}

func renderPath(path []any) string {
	var b strings.Builder
	for i, elem := range path {
		switch v := elem.(type) {
		case string:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(v)
		case int:
			fmt.Fprintf(&b, "[%d]", v)
		default:
			fmt.Fprintf(&b, "%v", v)
		}
	}
	return b.String()
}
