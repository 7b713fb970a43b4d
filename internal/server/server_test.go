package server

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	complexity "github.com/hanpama/streamgraph/internal/complexity"
	delivery "github.com/hanpama/streamgraph/internal/delivery"
	language "github.com/hanpama/streamgraph/internal/language"
)

// stubResolver returns a canned document and counts invocations.
type stubResolver struct {
	calls    int32
	resolved *delivery.ResolvedDocument
	err      error
}

func (s *stubResolver) Resolve(ctx context.Context, doc *language.QueryDocument, operationName string, variables map[string]any) (*delivery.ResolvedDocument, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	if s.resolved != nil {
		return s.resolved, nil
	}
	return &delivery.ResolvedDocument{Data: map[string]any{"ok": true}}, nil
}

func postJSON(t *testing.T, h http.Handler, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestServeHTTP_PlainQuery(t *testing.T) {
	rs := &stubResolver{resolved: &delivery.ResolvedDocument{
		Data: map[string]any{"me": map[string]any{"name": "ada"}},
	}}
	h, err := New(rs, nil)
	require.NoError(t, err)

	w := postJSON(t, h, `{"query":"{ me { name } }"}`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, map[string]any{"me": map[string]any{"name": "ada"}}, body["data"])
	assert.Equal(t, false, body["hasNext"])
	assert.NotContains(t, body, "incremental")
}

// A rejected operation never reaches the resolver: admission runs on the
// parsed document alone and answers 400 with the violated budget in
// extensions.
func TestServeHTTP_AdmissionRejectsBeforeResolve(t *testing.T) {
	cfg := complexity.DefaultConfig()
	cfg.MaxComplexity = 2

	rs := &stubResolver{}
	h, err := New(rs, nil, WithComplexityConfig(cfg))
	require.NoError(t, err)

	w := postJSON(t, h, `{"query":"{ a b c }"}`, nil)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, atomic.LoadInt32(&rs.calls), "resolver ran for a rejected operation")

	body := decodeBody(t, w)
	errs := body["errors"].([]any)
	require.Len(t, errs, 1)
	ext := errs[0].(map[string]any)["extensions"].(map[string]any)
	assert.Equal(t, "COMPLEXITY_LIMIT_EXCEEDED", ext["code"])
	assert.Equal(t, "max_complexity", ext["dimension"])
	assert.Equal(t, 3.0, ext["value"])
	assert.Equal(t, 2.0, ext["limit"])
}

func TestServeHTTP_ParseErrorRejected(t *testing.T) {
	rs := &stubResolver{}
	h, err := New(rs, nil)
	require.NoError(t, err)

	w := postJSON(t, h, `{"query":"{ unbalanced"}`, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, atomic.LoadInt32(&rs.calls))
}

// A JSON client receives the buffered form: the complete payload sequence in
// one response with hasNext already false.
func TestServeHTTP_BufferedIncremental(t *testing.T) {
	rs := &stubResolver{resolved: &delivery.ResolvedDocument{
		Data:                       map[string]any{"user": map[string]any{"name": "ada"}},
		IncrementalDeliveryEnabled: true,
		Streaming: &delivery.StreamingContext{
			DeferredTasks: []delivery.TaskDescriptor{{
				Path:  delivery.Path{"user"},
				Label: "A",
				Kind:  delivery.TaskDefer,
				Execute: func(ctx context.Context) delivery.TaskOutcome {
					return delivery.TaskOutcome{Data: map[string]any{"bio": "hi"}}
				},
			}},
		},
	}}
	h, err := New(rs, nil)
	require.NoError(t, err)

	w := postJSON(t, h, `{"query":"{ user { name ... on User @defer(label: \"A\") { bio } } }"}`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["hasNext"])

	initial := body["initial"].(map[string]any)
	assert.Equal(t, true, initial["hasNext"])
	require.Len(t, initial["pending"], 1)

	incremental := body["incremental"].([]any)
	require.Len(t, incremental, 1)
	last := incremental[0].(map[string]any)
	assert.Equal(t, map[string]any{"bio": "hi"}, last["data"])
	assert.Equal(t, false, last["hasNext"])
}

func TestServeHTTP_MultipartStreaming(t *testing.T) {
	rs := &stubResolver{resolved: &delivery.ResolvedDocument{
		Data:                       map[string]any{"user": map[string]any{"name": "ada"}},
		IncrementalDeliveryEnabled: true,
		Streaming: &delivery.StreamingContext{
			DeferredTasks: []delivery.TaskDescriptor{{
				Path:  delivery.Path{"user"},
				Label: "A",
				Kind:  delivery.TaskDefer,
				Execute: func(ctx context.Context) delivery.TaskOutcome {
					return delivery.TaskOutcome{Data: map[string]any{"bio": "hi"}}
				},
			}},
		},
	}}
	h, err := New(rs, nil)
	require.NoError(t, err)

	w := postJSON(t, h, `{"query":"{ user { name ... on User @defer(label: \"A\") { bio } } }"}`,
		map[string]string{"Accept": "multipart/mixed"})

	require.Equal(t, http.StatusOK, w.Code)
	mediaType, params, err := mime.ParseMediaType(w.Header().Get("Content-Type"))
	require.NoError(t, err)
	require.Equal(t, "multipart/mixed", mediaType)
	require.NotEmpty(t, params["boundary"])

	mr := multipart.NewReader(w.Body, params["boundary"])
	var parts []map[string]any
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		var doc map[string]any
		require.NoError(t, json.NewDecoder(p).Decode(&doc))
		parts = append(parts, doc)
	}

	require.Len(t, parts, 2)
	assert.Equal(t, true, parts[0]["hasNext"])
	require.Len(t, parts[0]["pending"], 1)
	assert.Equal(t, map[string]any{"bio": "hi"}, parts[1]["data"])
	assert.Equal(t, false, parts[1]["hasNext"])
}

// Without incremental work the multipart negotiation is moot; a plain JSON
// body comes back even when the client accepts multipart/mixed.
func TestServeHTTP_MultipartAcceptWithoutIncrementalWork(t *testing.T) {
	rs := &stubResolver{}
	h, err := New(rs, nil)
	require.NoError(t, err)

	w := postJSON(t, h, `{"query":"{ ok }"}`, map[string]string{"Accept": "multipart/mixed"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
}

func TestServeHTTP_GETQuery(t *testing.T) {
	rs := &stubResolver{}
	h, err := New(rs, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/graphql?query={ok}", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, map[string]any{"ok": true}, body["data"])
}

func TestServeHTTP_MethodNotAllowed(t *testing.T) {
	h, err := New(&stubResolver{}, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/graphql", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServeHTTP_InvalidJSON(t *testing.T) {
	h, err := New(&stubResolver{}, nil)
	require.NoError(t, err)

	w := postJSON(t, h, `{"query": `, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServeHTTP_BodyTooLarge(t *testing.T) {
	h, err := New(&stubResolver{}, nil, WithMaxBodyBytes(10))
	require.NoError(t, err)

	w := postJSON(t, h, `{"query":"{ averyveryverylongfield }"}`, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestServeHTTP_Batch(t *testing.T) {
	rs := &stubResolver{}
	h, err := New(rs, nil)
	require.NoError(t, err)

	w := postJSON(t, h, `[{"query":"{ a }"},{"query":"{ b }"}]`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	var out []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&rs.calls))
}

func TestServeHTTP_CORSPreflight(t *testing.T) {
	h, err := New(&stubResolver{}, nil, WithCORS("*"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodOptions, "/graphql", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "content-type", w.Header().Get("Access-Control-Allow-Headers"))
}

func TestNew_RejectsInvalidComplexityConfig(t *testing.T) {
	cfg := complexity.DefaultConfig()
	cfg.FieldCost = 0
	_, err := New(&stubResolver{}, nil, WithComplexityConfig(cfg))
	assert.Error(t, err)
}
