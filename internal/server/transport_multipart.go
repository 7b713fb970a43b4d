package server

import (
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"

	delivery "github.com/hanpama/streamgraph/internal/delivery"
)

// multipartTransport writes the payload sequence as multipart/mixed parts,
// one JSON document per part, flushing after each so clients render
// incrementally. It implements delivery.Transport and the optional
// delivery.ErrorHandler.
type multipartTransport struct {
	w      http.ResponseWriter
	pretty bool
}

// multipartState is this transport's connection state, threaded through the
// engine's send calls.
type multipartState struct {
	mw      *multipart.Writer
	flusher http.Flusher
}

func newMultipartTransport(w http.ResponseWriter, pretty bool) *multipartTransport {
	return &multipartTransport{w: w, pretty: pretty}
}

func (t *multipartTransport) Init(ctx context.Context, opts delivery.InitOptions) (delivery.State, error) {
	mw := multipart.NewWriter(t.w)
	t.w.Header().Set("Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", mw.Boundary()))
	t.w.Header().Set("Transfer-Encoding", "chunked")
	t.w.WriteHeader(http.StatusOK)

	st := &multipartState{mw: mw}
	if f, ok := t.w.(http.Flusher); ok {
		st.flusher = f
	}
	return st, nil
}

func (t *multipartTransport) SendInitial(ctx context.Context, state delivery.State, p *delivery.InitialPayload) (delivery.State, error) {
	return t.writePart(state, p)
}

func (t *multipartTransport) SendIncremental(ctx context.Context, state delivery.State, p delivery.Payload) (delivery.State, error) {
	return t.writePart(state, p)
}

func (t *multipartTransport) Complete(ctx context.Context, state delivery.State) error {
	st := state.(*multipartState)
	if err := st.mw.Close(); err != nil {
		return err
	}
	if st.flusher != nil {
		st.flusher.Flush()
	}
	return nil
}

// HandleError writes a terminal error part and closes the body. The HTTP
// status is already committed by the time a delivery error can occur, so a
// trailing part is the only way to tell the client.
func (t *multipartTransport) HandleError(ctx context.Context, state delivery.State, err error) (delivery.State, error) {
	st, ok := state.(*multipartState)
	if !ok || st == nil {
		return state, err
	}
	fatal := &delivery.ErrorPayload{
		Errors:  []delivery.GraphQLError{{Message: err.Error()}},
		HasNext: false,
	}
	if _, werr := t.writePart(st, fatal); werr == nil {
		_ = st.mw.Close()
	}
	if st.flusher != nil {
		st.flusher.Flush()
	}
	return st, err
}

func (t *multipartTransport) writePart(state delivery.State, v any) (delivery.State, error) {
	st := state.(*multipartState)
	part, err := st.mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"application/json; charset=utf-8"},
	})
	if err != nil {
		return st, err
	}
	enc := json.NewEncoder(part)
	if t.pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return st, err
	}
	if st.flusher != nil {
		st.flusher.Flush()
	}
	return st, nil
}
