package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	eventbus "github.com/hanpama/fetchgraph/internal/eventbus"
	events "github.com/hanpama/fetchgraph/internal/events"
	language "github.com/hanpama/fetchgraph/internal/language"
	planner "github.com/hanpama/fetchgraph/internal/planner"
	reqid "github.com/hanpama/fetchgraph/internal/reqid"
	selection "github.com/hanpama/fetchgraph/internal/selection"
)

// Route is the path the handler serves.
const Route = "/plan"

// Planner compiles fetch plans for requests.
type Planner interface {
	Plan(ctx context.Context, req planner.Request) (map[string][]string, error)
}

// Handler is an http.Handler that answers planning requests: it parses the
// GraphQL query, runs the planner, and returns fetch paths per entity type.
type Handler struct {
	planner Planner
	opt     Options
}

type Options struct {
	// Timeout sets a default timeout if the incoming request context has none.
	// 0 means no default timeout.
	Timeout time.Duration

	// Pretty enables indented JSON responses (useful for dev).
	Pretty bool

	// MaxBodyBytes limits the size of the request body. 0 means unlimited.
	MaxBodyBytes int64

	// CORS configuration. If AllowedOrigins is empty, CORS is disabled.
	CORS CORSOptions

	Logger *zap.Logger
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithLogger(l *zap.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a planning HTTP handler.
func New(p Planner, opts ...Option) *Handler {
	op := Options{Timeout: 10 * time.Second, Logger: zap.NewNop()}
	for _, f := range opts {
		f(&op)
	}
	return &Handler{planner: p, opt: op}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, rid := reqid.NewContext(ctx)
	w.Header().Set(reqid.Header, reqid.Format(rid))
	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, events.HTTPStart{Route: Route, Request: r})
	defer func() {
		eventbus.Publish(ctx, events.HTTPFinish{Route: Route, Request: r, Status: status, Duration: time.Since(start)})
	}()

	if r.URL.Path != Route {
		status = http.StatusNotFound
		writeJSON(w, status, errorResponse(errors.New("not found")), h.opt.Pretty)
		return
	}

	if r.Method == http.MethodOptions {
		if len(h.opt.CORS.AllowedOrigins) > 0 {
			setCORSHeaders(w, r, h.opt.CORS)
		}
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	}

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		status = http.StatusMethodNotAllowed
		writeJSON(w, status, errorResponse(errors.New("method not allowed")), h.opt.Pretty)
		return
	}

	req, batch, berr := parseRequest(r, h.opt.MaxBodyBytes)
	if berr != nil {
		status = http.StatusBadRequest
		if berr.Error() == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorResponse(berr), h.opt.Pretty)
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	if batch != nil {
		out := make([]planResult, len(batch))
		for i := range batch {
			out[i] = h.planOne(ctx, batch[i])
		}
		writeJSON(w, status, out, h.opt.Pretty)
		return
	}

	res := h.planOne(ctx, req)
	if len(res.Errors) > 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, res, h.opt.Pretty)
}

func (h *Handler) planOne(ctx context.Context, req PlanRequest) planResult {
	if err := ctx.Err(); err != nil {
		return errorResponse(err)
	}
	rules := make([]selection.SkipOver, len(req.SkipOvers))
	for i, s := range req.SkipOvers {
		rules[i] = selection.SkipOver{Field: s.Field, Target: s.Target, Type: s.Type, SingleUse: s.SingleUse}
	}
	paths, err := h.planner.Plan(ctx, planner.Request{
		Query:         req.Query,
		OperationName: req.OperationName,
		Variables:     req.Variables,
		SkipOvers:     rules,
	})
	if err != nil {
		h.opt.Logger.Debug("plan rejected", zap.String("operation", req.OperationName), zap.Error(err))
		return errorResponse(err)
	}
	return planResult{Paths: paths}
}

// ------------------ Request parsing ------------------

// PlanRequest is the JSON body of a planning request.
type PlanRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	SkipOvers     []SkipOver     `json:"skipOvers,omitempty"`
}

// SkipOver is a request-scoped skip-over rule.
type SkipOver struct {
	Field     string `json:"field"`
	Target    string `json:"target,omitempty"`
	Type      string `json:"type,omitempty"`
	SingleUse bool   `json:"singleUse,omitempty"`
}

func parseRequest(r *http.Request, maxBody int64) (PlanRequest, []PlanRequest, error) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return PlanRequest{}, nil, errors.New("missing 'query'")
		}
		vars := map[string]any{}
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &vars); err != nil {
				return PlanRequest{}, nil, errors.New("invalid 'variables' JSON")
			}
		}
		op := r.URL.Query().Get("operationName")
		return PlanRequest{Query: q, Variables: vars, OperationName: op}, nil, nil
	}

	// POST
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" && !strings.HasPrefix(ct, "application/json;") {
		return PlanRequest{}, nil, errors.New("unsupported Content-Type")
	}
	reader := io.Reader(r.Body)
	if maxBody > 0 {
		reader = io.LimitReader(r.Body, maxBody+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return PlanRequest{}, nil, errors.New("failed to read body")
	}
	defer r.Body.Close()
	if maxBody > 0 && int64(len(body)) > maxBody {
		return PlanRequest{}, nil, errors.New(errBodyTooLargeMessage)
	}

	if len(body) > 0 && body[0] == '[' {
		var arr []PlanRequest
		if err := json.Unmarshal(body, &arr); err != nil {
			return PlanRequest{}, nil, errors.New("invalid JSON")
		}
		if len(arr) == 0 {
			return PlanRequest{}, nil, errors.New("empty batch")
		}
		return PlanRequest{}, arr, nil
	}
	var req PlanRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return PlanRequest{}, nil, errors.New("invalid JSON")
	}
	if req.Query == "" {
		return PlanRequest{}, nil, errors.New("missing 'query'")
	}
	return req, nil, nil
}

// ------------------ Response formatting ------------------

type errorLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type planError struct {
	Message   string          `json:"message"`
	Locations []errorLocation `json:"locations,omitempty"`
}

type planResult struct {
	Paths  map[string][]string `json:"paths,omitempty"`
	Errors []planError         `json:"errors,omitempty"`
}

func errorResponse(err error) planResult {
	pe := planError{Message: err.Error()}
	var gqlErr *language.Error
	if errors.As(err, &gqlErr) {
		pe.Message = gqlErr.Message
		for _, l := range gqlErr.Locations {
			pe.Locations = append(pe.Locations, errorLocation{Line: l.Line, Column: l.Column})
		}
	}
	return planResult{Errors: []planError{pe}}
}

func writeJSON(w http.ResponseWriter, status int, v any, pretty bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}

const errBodyTooLargeMessage = "body too large"

func setCORSHeaders(w http.ResponseWriter, r *http.Request, opts CORSOptions) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range opts.AllowedOrigins {
		if o == "*" || o == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}
	if contains(opts.AllowedOrigins, "*") {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
