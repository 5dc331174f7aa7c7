package otel

import (
	"context"
	"sync"

	eventbus "github.com/hanpama/fetchgraph/internal/eventbus"
	events "github.com/hanpama/fetchgraph/internal/events"
	reqid "github.com/hanpama/fetchgraph/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const tracerName = "fetchgraph"

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
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

	unsubscribe := Trace(tp.Tracer(tracerName))
	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

// Trace turns events on the global bus into spans from tracer. Spans of one
// request are correlated through the request ID in the event context.
func Trace(tracer trace.Tracer) (unsubscribe func()) {
	s := &subscriber{tracer: tracer}
	return s.register()
}

type subscriber struct {
	tracer           trace.Tracer
	httpSpans        sync.Map // rid -> trace.Span
	planSpans        sync.Map // rid -> trace.Span
	materializeSpans sync.Map // rid -> trace.Span
}

// parent returns ctx carrying the innermost open span of the request.
func (s *subscriber) parent(ctx context.Context, rid int64, within ...*sync.Map) context.Context {
	for _, spans := range within {
		if v, ok := spans.Load(rid); ok {
			return trace.ContextWithSpan(ctx, v.(trace.Span))
		}
	}
	return ctx
}

func end(spans *sync.Map, rid int64, err error, attrs ...attribute.KeyValue) {
	v, ok := spans.LoadAndDelete(rid)
	if !ok {
		return
	}
	span := v.(trace.Span)
	span.SetAttributes(attrs...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *subscriber) register() (unsubscribe func()) {
	unsubs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.HTTPStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(ctx, "http.request")
			span.SetAttributes(
				semconv.HTTPMethodKey.String(e.Request.Method),
				semconv.HTTPRouteKey.String(e.Route),
				attribute.String("http.target", e.Request.URL.Path),
			)
			s.httpSpans.Store(rid, span)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
			rid, _ := reqid.FromContext(ctx)
			end(&s.httpSpans, rid, nil, semconv.HTTPStatusCodeKey.Int(e.Status))
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.PlanStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(s.parent(ctx, rid, &s.httpSpans), "fetchgraph.plan")
			span.SetAttributes(attribute.String("fetchgraph.operation.name", e.OperationName))
			s.planSpans.Store(rid, span)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.PlanFinish) {
			rid, _ := reqid.FromContext(ctx)
			end(&s.planSpans, rid, e.Err,
				attribute.Int("fetchgraph.plan.types", len(e.Paths)),
				attribute.Int("fetchgraph.plan.paths", e.PathCount()))
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.MaterializeStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(s.parent(ctx, rid, &s.planSpans, &s.httpSpans), "fetchgraph.materialize")
			span.SetAttributes(
				attribute.String("fetchgraph.entity.type", e.Type),
				attribute.Int("fetchgraph.materialize.roots", e.Roots),
			)
			s.materializeSpans.Store(rid, span)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.MaterializeFinish) {
			rid, _ := reqid.FromContext(ctx)
			end(&s.materializeSpans, rid, e.Err,
				attribute.Int("fetchgraph.materialize.visited", e.Visited),
				attribute.Int("fetchgraph.materialize.nulled", e.Nulled))
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
