package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	eventbus "github.com/hanpama/fetchgraph/internal/eventbus"
	events "github.com/hanpama/fetchgraph/internal/events"
	metadata "github.com/hanpama/fetchgraph/internal/metadata"
	planner "github.com/hanpama/fetchgraph/internal/planner"
	reqid "github.com/hanpama/fetchgraph/internal/reqid"
	selection "github.com/hanpama/fetchgraph/internal/selection"
)

const schemaSDL = `
type Film @entity {
  id: ID! @id
  title: String
  studios: [String] @lazy
}
`

func newTestHandler(t *testing.T, opts ...Option) *Handler {
	t.Helper()
	reg, err := metadata.FromSDL("schema.graphql", schemaSDL)
	require.NoError(t, err)
	p, err := planner.New(reg)
	require.NoError(t, err)
	return New(p, opts...)
}

type plannerFunc func(ctx context.Context, req planner.Request) (map[string][]string, error)

func (f plannerFunc) Plan(ctx context.Context, req planner.Request) (map[string][]string, error) {
	return f(ctx, req)
}

func post(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", Route, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestPlan(t *testing.T) {
	h := newTestHandler(t)

	t.Run("post", func(t *testing.T) {
		w := post(t, h, `{"query":"{ film { studios } }"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		got := decode[planResult](t, w)
		want := planResult{Paths: map[string][]string{"Film": {"id", "studios", "title"}}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("response mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("get", func(t *testing.T) {
		req := httptest.NewRequest("GET", Route+"?query="+url.QueryEscape("{ film { title } }"), nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		got := decode[planResult](t, w)
		require.Equal(t, []string{"id", "title"}, got.Paths["Film"])
	})

	t.Run("syntax error carries locations", func(t *testing.T) {
		w := post(t, h, `{"query":"{ film { "}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		got := decode[planResult](t, w)
		require.Len(t, got.Errors, 1)
		require.NotEmpty(t, got.Errors[0].Message)
		require.NotEmpty(t, got.Errors[0].Locations)
		require.Equal(t, 1, got.Errors[0].Locations[0].Line)
	})

	t.Run("unknown root", func(t *testing.T) {
		w := post(t, h, `{"query":"{ person { name } }"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		got := decode[planResult](t, w)
		require.Len(t, got.Errors, 1)
		require.Contains(t, got.Errors[0].Message, "unknown root field")
	})

	t.Run("bad requests", func(t *testing.T) {
		for _, body := range []string{`{`, `{"query":""}`, `[]`} {
			w := post(t, h, body)
			require.Equal(t, http.StatusBadRequest, w.Code, body)
		}
		req := httptest.NewRequest("POST", Route, strings.NewReader(`{"query":"{ film }"}`))
		req.Header.Set("Content-Type", "text/plain")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("method and route", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("DELETE", Route, nil))
		require.Equal(t, http.StatusMethodNotAllowed, w.Code)

		w = httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/other", nil))
		require.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestBatchAndSkipOvers(t *testing.T) {
	var seen []planner.Request
	h := New(plannerFunc(func(ctx context.Context, req planner.Request) (map[string][]string, error) {
		seen = append(seen, req)
		if req.OperationName == "Broken" {
			return nil, errors.New("broken")
		}
		return map[string][]string{"Film": {"id"}}, nil
	}))

	w := post(t, h, `[
		{"query":"{ film }","skipOvers":[{"field":"links","target":"studios","type":"Film","singleUse":true}]},
		{"query":"{ film }","operationName":"Broken"}
	]`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[[]planResult](t, w)
	want := []planResult{
		{Paths: map[string][]string{"Film": {"id"}}},
		{Errors: []planError{{Message: "broken"}}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("batch mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, seen, 2)
	require.Equal(t, []selection.SkipOver{{Field: "links", Target: "studios", Type: "Film", SingleUse: true}}, seen[0].SkipOvers)
	require.Empty(t, seen[1].SkipOvers)
}

func TestPretty(t *testing.T) {
	h := newTestHandler(t, WithPretty())
	w := post(t, h, `{"query":"{ film { title } }"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "\n  \"paths\"")
}

func TestCORSAndPreflight(t *testing.T) {
	h := newTestHandler(t, WithCORS("*"))

	pre := httptest.NewRequest("OPTIONS", Route, nil)
	pre.Header.Set("Origin", "http://example.com")
	pre.Header.Set("Access-Control-Request-Method", "POST")
	pre.Header.Set("Access-Control-Request-Headers", "Content-Type")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, pre)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "Content-Type", w.Header().Get("Access-Control-Allow-Headers"))

	req := httptest.NewRequest("POST", Route, bytes.NewBufferString(`{"query":"{ film { title } }"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://example.com")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	t.Run("origin list", func(t *testing.T) {
		h := newTestHandler(t, WithCORS("http://allowed.com"))
		req := httptest.NewRequest("POST", Route, bytes.NewBufferString(`{"query":"{ film { title } }"}`))
		req.Header.Set("Origin", "http://denied.com")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

		req = httptest.NewRequest("POST", Route, bytes.NewBufferString(`{"query":"{ film { title } }"}`))
		req.Header.Set("Origin", "http://allowed.com")
		w = httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, "http://allowed.com", w.Header().Get("Access-Control-Allow-Origin"))
		require.Equal(t, "Origin", w.Header().Get("Vary"))
	})
}

func TestMaxBodyBytes(t *testing.T) {
	h := newTestHandler(t, WithMaxBodyBytes(10))
	w := post(t, h, `{"query":"{ film { title } }"}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestTimeout(t *testing.T) {
	var deadline bool
	h := New(plannerFunc(func(ctx context.Context, req planner.Request) (map[string][]string, error) {
		_, deadline = ctx.Deadline()
		return map[string][]string{}, nil
	}), WithTimeout(0))
	post(t, h, `{"query":"{ film }"}`)
	require.False(t, deadline)

	h.opt.Timeout = 5 * time.Second
	post(t, h, `{"query":"{ film }"}`)
	require.True(t, deadline)
}

func TestRequestID(t *testing.T) {
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(nil) })

	var planRID, startRID, finishRID int64
	var finish events.HTTPFinish
	t.Cleanup(eventbus.Subscribe(func(ctx context.Context, e events.HTTPStart) {
		startRID, _ = reqid.FromContext(ctx)
	}))
	t.Cleanup(eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
		finishRID, _ = reqid.FromContext(ctx)
		finish = e
	}))
	h := New(plannerFunc(func(ctx context.Context, req planner.Request) (map[string][]string, error) {
		planRID, _ = reqid.FromContext(ctx)
		return map[string][]string{}, nil
	}))

	w := post(t, h, `{"query":"{ film }"}`)
	require.Equal(t, http.StatusOK, w.Code)
	hdr := w.Header().Get(reqid.Header)
	require.NotEmpty(t, hdr)
	id, err := strconv.ParseInt(hdr, 16, 64)
	require.NoError(t, err)
	require.Equal(t, id, planRID)
	require.Equal(t, id, startRID)
	require.Equal(t, id, finishRID)
	require.Equal(t, Route, finish.Route)
	require.Equal(t, http.StatusOK, finish.Status)
}
