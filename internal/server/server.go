package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	complexity "github.com/hanpama/streamgraph/internal/complexity"
	delivery "github.com/hanpama/streamgraph/internal/delivery"
	eventbus "github.com/hanpama/streamgraph/internal/eventbus"
	events "github.com/hanpama/streamgraph/internal/events"
	language "github.com/hanpama/streamgraph/internal/language"
	opid "github.com/hanpama/streamgraph/internal/opid"
)

// Resolver is the resolution phase the engine collaborates with: it executes
// the synchronous portion of the operation and attaches task descriptors for
// every subtree marked for deferred or streamed resolution.
type Resolver interface {
	Resolve(ctx context.Context, doc *language.QueryDocument, operationName string, variables map[string]any) (*delivery.ResolvedDocument, error)
}

// Handler is an http.Handler that serves a GraphQL endpoint with incremental
// delivery. It parses requests, runs admission control, hands resolution to
// the injected Resolver, and streams payloads over multipart/mixed (or
// buffers them for plain JSON clients).
type Handler struct {
	resolver Resolver
	engine   *delivery.Engine
	bus      *eventbus.Bus
	opt      Options
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

	// Complexity holds the admission budgets applied to every operation.
	Complexity complexity.Config

	// Delivery configures the incremental delivery engine.
	Delivery delivery.Options
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                 { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option    { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option {
	return func(o *Options) { o.CORS.AllowedOrigins = origins }
}
func WithComplexityConfig(cfg complexity.Config) Option {
	return func(o *Options) { o.Complexity = cfg }
}
func WithDeliveryOptions(opt delivery.Options) Option {
	return func(o *Options) { o.Delivery = opt }
}

// CORSOptions holds simple CORS settings.
type CORSOptions struct {
	AllowedOrigins []string
}

// New creates a GraphQL HTTP handler around the given resolver. Telemetry
// events are published to bus; nil disables them.
func New(resolver Resolver, bus *eventbus.Bus, opts ...Option) (*Handler, error) {
	op := Options{Timeout: 10 * time.Second, Complexity: complexity.DefaultConfig()}
	for _, f := range opts {
		f(&op)
	}
	if err := op.Complexity.Validate(); err != nil {
		return nil, err
	}
	return &Handler{
		resolver: resolver,
		engine:   delivery.NewEngine(bus, op.Delivery),
		bus:      bus,
		opt:      op,
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}

	ctx, _ = opid.NewContext(ctx)
	status := http.StatusOK
	start := time.Now()
	eventbus.Publish(ctx, h.bus, events.HTTPStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, h.bus, events.HTTPFinish{Request: r, Status: status, Duration: time.Since(start)})
	}()

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
		writeJSON(w, status, errorBody("method not allowed", nil), h.opt.Pretty)
		return
	}

	req, batch, berr := parseRequest(r, h.opt.MaxBodyBytes)
	if berr != "" {
		status = http.StatusBadRequest
		if berr == errBodyTooLargeMessage {
			status = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, status, errorBody(berr, nil), h.opt.Pretty)
		return
	}

	if len(h.opt.CORS.AllowedOrigins) > 0 {
		setCORSHeaders(w, r, h.opt.CORS)
	}

	if batch != nil {
		// Batched requests are always buffered; streaming multiplexing
		// across batch entries is not supported.
		op := make([]any, len(batch))
		for i := range batch {
			res, code := h.executeBuffered(ctx, batch[i])
			if code != http.StatusOK {
				status = code
			}
			op[i] = res
		}
		writeJSON(w, status, op, h.opt.Pretty)
		return
	}

	resolved, failure, code := h.prepare(ctx, req)
	if failure != nil {
		status = code
		writeJSON(w, status, failure, h.opt.Pretty)
		return
	}

	if acceptsMultipart(r.Header.Get("Accept")) && resolved.IncrementalDeliveryEnabled && !streamingEmpty(resolved) {
		h.deliverMultipart(ctx, w, req, resolved)
		return
	}

	res, code := h.collect(ctx, req, resolved)
	status = code
	writeJSON(w, status, res, h.opt.Pretty)
}

// prepare parses, analyzes, admits and resolves one request. On failure it
// returns a ready-to-encode error body and HTTP status.
func (h *Handler) prepare(ctx context.Context, req GraphQLRequest) (*delivery.ResolvedDocument, any, int) {
	doc, err := language.ParseQuery(req.Query)
	if err != nil {
		return nil, errorBody(err.Error(), nil), http.StatusBadRequest
	}

	report, err := complexity.Analyze(doc, req.OperationName, h.opt.Complexity)
	if err != nil {
		return nil, errorBody(err.Error(), nil), http.StatusBadRequest
	}
	// Admission happens before the resolver runs, so a rejected operation
	// never executes any task.
	if v := complexity.CheckLimits(report, h.opt.Complexity); v != nil {
		return nil, errorBody(v.Error(), v.Extensions()), http.StatusBadRequest
	}

	gqlStart := time.Now()
	eventbus.Publish(ctx, h.bus, events.GraphQLStart{
		Query:         req.Query,
		OperationName: req.OperationName,
		OperationType: operationType(doc, req.OperationName),
	})
	resolved, err := h.resolver.Resolve(ctx, doc, req.OperationName, req.Variables)
	if err != nil {
		h.finishGraphQL(ctx, req, doc, []error{err}, gqlStart)
		return nil, errorBody(err.Error(), nil), http.StatusOK
	}
	errs := make([]error, len(resolved.Errors))
	for i := range resolved.Errors {
		errs[i] = resolved.Errors[i]
	}
	h.finishGraphQL(ctx, req, doc, errs, gqlStart)
	return resolved, nil, http.StatusOK
}

func (h *Handler) finishGraphQL(ctx context.Context, req GraphQLRequest, doc *language.QueryDocument, errs []error, start time.Time) {
	eventbus.Publish(ctx, h.bus, events.GraphQLFinish{
		Query:         req.Query,
		OperationName: req.OperationName,
		OperationType: operationType(doc, req.OperationName),
		Errors:        errs,
		Duration:      time.Since(start),
	})
}

// executeBuffered runs the full pipeline and buffers payloads (batch path).
func (h *Handler) executeBuffered(ctx context.Context, req GraphQLRequest) (any, int) {
	resolved, failure, code := h.prepare(ctx, req)
	if failure != nil {
		return failure, code
	}
	return h.collect(ctx, req, resolved)
}

// collect delivers through the buffering entry point. Documents without
// incremental work collapse to their initial payload.
func (h *Handler) collect(ctx context.Context, req GraphQLRequest, resolved *delivery.ResolvedDocument) (any, int) {
	res, err := h.engine.CollectAll(ctx, resolved, delivery.InitOptions{OperationName: req.OperationName})
	if err != nil {
		return errorBody(err.Error(), nil), http.StatusInternalServerError
	}
	if len(res.Incremental) == 0 {
		return res.Initial, http.StatusOK
	}
	return res, http.StatusOK
}

func (h *Handler) deliverMultipart(ctx context.Context, w http.ResponseWriter, req GraphQLRequest, resolved *delivery.ResolvedDocument) {
	tr := newMultipartTransport(w, h.opt.Pretty)
	// Errors were already reported through the transport (HandleError writes
	// a terminal part); nothing sensible can be written here once streaming
	// has begun.
	_ = h.engine.Deliver(ctx, resolved, tr, delivery.InitOptions{OperationName: req.OperationName})
}

func streamingEmpty(d *delivery.ResolvedDocument) bool {
	return d.Streaming == nil ||
		(len(d.Streaming.DeferredTasks) == 0 && len(d.Streaming.StreamTasks) == 0)
}

func operationType(doc *language.QueryDocument, operationName string) string {
	op := doc.Operations.ForName(operationName)
	if op == nil && len(doc.Operations) == 1 {
		op = doc.Operations[0]
	}
	if op == nil {
		return ""
	}
	return string(op.Operation)
}

// ------------------ Request parsing ------------------

type GraphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

func parseRequest(r *http.Request, maxBody int64) (GraphQLRequest, []GraphQLRequest, string) {
	if r.Method == http.MethodGet {
		q := r.URL.Query().Get("query")
		if q == "" {
			return GraphQLRequest{}, nil, "missing 'query'"
		}
		vars := map[string]any{}
		if v := r.URL.Query().Get("variables"); v != "" {
			if err := json.Unmarshal([]byte(v), &vars); err != nil {
				return GraphQLRequest{}, nil, "invalid 'variables' JSON"
			}
		}
		op := r.URL.Query().Get("operationName")
		return GraphQLRequest{Query: q, Variables: vars, OperationName: op}, nil, ""
	}

	// POST
	ct := r.Header.Get("Content-Type")
	if ct == "" || ct == "application/json" || strings.HasPrefix(ct, "application/json;") {
		reader := io.Reader(r.Body)
		if maxBody > 0 {
			reader = io.LimitReader(r.Body, maxBody+1)
		}
		body, err := io.ReadAll(reader)
		if err != nil {
			return GraphQLRequest{}, nil, "failed to read body"
		}
		defer r.Body.Close()
		if maxBody > 0 && int64(len(body)) > maxBody {
			return GraphQLRequest{}, nil, errBodyTooLargeMessage
		}

		// Try array (batch)
		var arr []GraphQLRequest
		if len(body) > 0 && body[0] == '[' {
			if err := json.Unmarshal(body, &arr); err != nil {
				return GraphQLRequest{}, nil, "invalid JSON"
			}
			if len(arr) == 0 {
				return GraphQLRequest{}, nil, "empty batch"
			}
			return GraphQLRequest{}, arr, ""
		}
		// Single
		var req GraphQLRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return GraphQLRequest{}, nil, "invalid JSON"
		}
		if req.Query == "" {
			return GraphQLRequest{}, nil, "missing 'query'"
		}
		if req.Variables == nil {
			req.Variables = map[string]any{}
		}
		return req, nil, ""
	}

	return GraphQLRequest{}, nil, "unsupported Content-Type"
}

// ------------------ Response formatting ------------------

type responseBody struct {
	Data   any                     `json:"data"`
	Errors []delivery.GraphQLError `json:"errors,omitempty"`
}

func errorBody(message string, extensions map[string]any) responseBody {
	return responseBody{Errors: []delivery.GraphQLError{{Message: message, Extensions: extensions}}}
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

func acceptsMultipart(accept string) bool {
	for _, p := range strings.Split(accept, ",") {
		if strings.HasPrefix(strings.TrimSpace(p), "multipart/mixed") {
			return true
		}
	}
	return false
}

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
