package otel

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	eventbus "github.com/hanpama/fetchgraph/internal/eventbus"
	events "github.com/hanpama/fetchgraph/internal/events"
	reqid "github.com/hanpama/fetchgraph/internal/reqid"
)

func TestTrace(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	unsubscribe := Trace(tp.Tracer("test"))
	t.Cleanup(unsubscribe)

	ctx, _ := reqid.NewContext(context.Background())
	req := httptest.NewRequest("POST", "/plan", nil)
	eventbus.Publish(ctx, events.HTTPStart{Route: "/plan", Request: req})
	eventbus.Publish(ctx, events.PlanStart{OperationName: "Films"})
	eventbus.Publish(ctx, events.PlanFinish{OperationName: "Films", Paths: map[string][]string{"Film": {"id", "title"}}})
	eventbus.Publish(ctx, events.MaterializeStart{Type: "Film", Roots: 1})
	eventbus.Publish(ctx, events.MaterializeFinish{Type: "Film", Err: errors.New("boom")})
	eventbus.Publish(ctx, events.HTTPFinish{Route: "/plan", Request: req, Status: 200})

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range spans {
		byName[s.Name()] = s
	}
	httpSpan, plan, materialize := byName["http.request"], byName["fetchgraph.plan"], byName["fetchgraph.materialize"]
	require.NotNil(t, httpSpan)
	require.NotNil(t, plan)
	require.NotNil(t, materialize)

	require.Equal(t, httpSpan.SpanContext().SpanID(), plan.Parent().SpanID())
	require.Equal(t, httpSpan.SpanContext().SpanID(), materialize.Parent().SpanID())
	require.Equal(t, codes.Error, materialize.Status().Code)
	require.Equal(t, codes.Unset, plan.Status().Code)
}

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup("", "fetchgraph")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
